// Package netstate owns the connection state machine: station mode with a
// bounded retry budget, fallback to the provisioning access point, and the
// Connected notification that bootstraps the rest of the daemon.
package netstate

import (
	"context"
	"errors"
	"log"
	"sync"

	configstore "github.com/lumio-dev/lumio/internal/config/store"
	"github.com/lumio-dev/lumio/internal/eventbus"
)

// State is the connection state. It is owned exclusively by the machine's
// run loop and mutated only in response to link events.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateApMode       State = "ap_mode"
)

// Options configures a Machine.
type Options struct {
	Bus         *eventbus.Bus
	Store       *configstore.Store
	Backend     Backend
	AP          APProfile
	RetryBudget int
	Hostname    string // advertised in the Connected event
}

// Machine decides between station and access-point mode and reacts to
// link-layer events. A single run-loop goroutine owns all state; external
// callers only read snapshots through the mutex-guarded accessors.
type Machine struct {
	bus      *eventbus.Bus
	store    *configstore.Store
	backend  Backend
	ap       APProfile
	budget   int
	hostname string

	lifecycle eventbus.ServiceLifecycle
	errs      chan error

	mu           sync.Mutex
	state        State
	retries      int
	provisioning bool
}

// New creates a machine in StateDisconnected with provisioning reachable
// (the AP-vs-STA decision has not been made yet).
func New(opts Options) (*Machine, error) {
	if opts.Backend == nil {
		return nil, errors.New("netstate: wireless backend is required")
	}
	if opts.Store == nil {
		return nil, errors.New("netstate: settings store is required")
	}
	if opts.RetryBudget <= 0 {
		return nil, errors.New("netstate: retry budget must be positive")
	}

	return &Machine{
		bus:          opts.Bus,
		store:        opts.Store,
		backend:      opts.Backend,
		ap:           opts.AP,
		budget:       opts.RetryBudget,
		hostname:     opts.Hostname,
		errs:         make(chan error, 1),
		state:        StateDisconnected,
		provisioning: true,
	}, nil
}

// Start reads the saved credentials and enters station or access-point mode
// accordingly, then begins consuming link events. Storage failures during
// the credential load are treated the same as absent credentials: the
// machine falls back to the provisioning AP instead of propagating them.
func (m *Machine) Start(ctx context.Context) error {
	m.lifecycle.Start(ctx)

	sub := eventbus.SubscribeTo(m.bus, eventbus.Network.Link,
		eventbus.WithSubscriptionName("netstate"))
	m.lifecycle.AddSubscriptions(sub)

	creds := m.loadCredentials(ctx)
	if creds.Complete() {
		m.enterConnecting(m.lifecycle.Context(), creds)
	} else {
		log.Printf("[NetState] no saved credentials, starting provisioning AP %q", m.ap.SSID)
		m.enterApMode(m.lifecycle.Context())
	}

	m.lifecycle.Go(func(runCtx context.Context) {
		eventbus.Consume(runCtx, sub, nil, func(ev eventbus.LinkEvent) {
			m.handleLinkEvent(runCtx, ev)
		})
	})

	return nil
}

// Shutdown stops the run loop and tears down whichever wireless mode is active.
func (m *Machine) Shutdown(ctx context.Context) error {
	if err := m.lifecycle.Shutdown(ctx); err != nil {
		return err
	}
	return m.backend.Stop(ctx)
}

// Errors surfaces backend failures that the machine cannot recover from.
func (m *Machine) Errors() <-chan error {
	return m.errs
}

// State returns a snapshot of the current connection state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Retries returns the current retry counter value.
func (m *Machine) Retries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retries
}

// ProvisioningActive reports whether the provisioning surface is reachable:
// true while in AP mode and before the initial mode decision, false once a
// station connection is being attempted or established.
func (m *Machine) ProvisioningActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.provisioning
}

func (m *Machine) loadCredentials(ctx context.Context) Credentials {
	var creds Credentials

	ssid, err := m.store.LoadSetting(ctx, configstore.KeySSID, configstore.MaxSSIDLen)
	if err != nil {
		if !configstore.IsNotFound(err) {
			log.Printf("[NetState] load ssid failed, treating as absent: %v", err)
		}
		return creds
	}
	creds.SSID = ssid

	pass, err := m.store.LoadSetting(ctx, configstore.KeyPassword, configstore.MaxPasswordLen)
	if err != nil {
		if !configstore.IsNotFound(err) {
			log.Printf("[NetState] load password failed, treating as absent: %v", err)
		}
		return Credentials{}
	}
	creds.Password = pass

	return creds
}

// handleLinkEvent runs on the single run-loop goroutine; no other code
// mutates the machine state.
func (m *Machine) handleLinkEvent(ctx context.Context, ev eventbus.LinkEvent) {
	switch ev.Kind {
	case eventbus.LinkStaStarted:
		if m.State() != StateConnecting {
			return
		}
		if err := m.backend.Connect(ctx); err != nil {
			log.Printf("[NetState] connect attempt failed: %v", err)
			m.handleDisconnect(ctx)
		}

	case eventbus.LinkStaDisconnected:
		m.handleDisconnect(ctx)

	case eventbus.LinkStaGotIP:
		m.mu.Lock()
		m.retries = 0
		m.provisioning = false
		m.mu.Unlock()
		m.setState(ctx, StateConnected)
		log.Printf("[NetState] connected, ip=%s", ev.IP)
		eventbus.Publish(ctx, m.bus, eventbus.Network.Connected, eventbus.SourceNetState, eventbus.ConnectedEvent{
			IP:       ev.IP,
			Hostname: m.hostname,
		})

	case eventbus.LinkApClientJoined:
		log.Printf("[NetState] client joined provisioning AP")

	case eventbus.LinkApClientLeft:
		log.Printf("[NetState] client left provisioning AP")
	}
}

// handleDisconnect counts the failure against the retry budget and either
// retries immediately (no backoff, matching the device's behaviour) or
// falls back to the provisioning AP.
func (m *Machine) handleDisconnect(ctx context.Context) {
	m.mu.Lock()
	m.retries++
	retries := m.retries
	m.mu.Unlock()

	if retries >= m.budget {
		log.Printf("[NetState] retry budget exhausted (%d/%d), falling back to AP", retries, m.budget)
		m.enterApMode(ctx)
		return
	}

	log.Printf("[NetState] station disconnected, retrying (%d/%d)", retries, m.budget)
	m.setState(ctx, StateDisconnected)
	if err := m.backend.Connect(ctx); err != nil {
		log.Printf("[NetState] reconnect failed: %v", err)
		return
	}
	m.setState(ctx, StateConnecting)
}

func (m *Machine) enterConnecting(ctx context.Context, creds Credentials) {
	m.mu.Lock()
	m.provisioning = false
	m.mu.Unlock()

	if err := m.backend.StartStation(ctx, creds); err != nil {
		log.Printf("[NetState] start station failed: %v", err)
		m.enterApMode(ctx)
		return
	}
	log.Printf("[NetState] station mode starting, ssid=%q", creds.SSID)
	m.setState(ctx, StateConnecting)
}

func (m *Machine) enterApMode(ctx context.Context) {
	if err := m.backend.Stop(ctx); err != nil {
		log.Printf("[NetState] stop before AP switch failed: %v", err)
	}

	m.mu.Lock()
	m.provisioning = true
	m.mu.Unlock()

	if err := m.backend.StartAccessPoint(ctx, m.ap); err != nil {
		select {
		case m.errs <- err:
		default:
		}
		return
	}
	m.setState(ctx, StateApMode)
}

func (m *Machine) setState(ctx context.Context, next State) {
	m.mu.Lock()
	previous := m.state
	m.state = next
	retries := m.retries
	m.mu.Unlock()

	if previous == next {
		return
	}
	eventbus.Publish(ctx, m.bus, eventbus.Network.State, eventbus.SourceNetState, eventbus.StateChangeEvent{
		Previous: string(previous),
		Current:  string(next),
		Retries:  retries,
	})
}
