// Package daemon wires the device services together: settings store, event
// bus, network state machine, voice gateway, roster, indicator, and the HTTP
// surface.
package daemon

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"github.com/lumio-dev/lumio/internal/config"
	configstore "github.com/lumio-dev/lumio/internal/config/store"
	"github.com/lumio-dev/lumio/internal/discovery"
	"github.com/lumio-dev/lumio/internal/eventbus"
	"github.com/lumio-dev/lumio/internal/indicator"
	"github.com/lumio-dev/lumio/internal/netstate"
	"github.com/lumio-dev/lumio/internal/observability"
	"github.com/lumio-dev/lumio/internal/provision"
	"github.com/lumio-dev/lumio/internal/roster"
	"github.com/lumio-dev/lumio/internal/runtime"
	"github.com/lumio-dev/lumio/internal/server"
	"github.com/lumio-dev/lumio/internal/voice"
)

const (
	shutdownTimeout = 10 * time.Second

	// The API server drains in-flight portal requests on shutdown; give it
	// more headroom than the default service timeout.
	apiShutdownTimeout = 8 * time.Second

	defaultWatchInterval = 2 * time.Second
)

// Options configures a Daemon. Store and Config are required; the hardware
// collaborators default to development stand-ins when nil.
type Options struct {
	Store      *configstore.Store
	Config     config.File
	Backend    netstate.Backend     // defaults to the loopback backend
	Strip      indicator.Strip      // defaults to a null strip
	Advertiser discovery.Advertiser // defaults per Config.Discovery
	Restart    server.RestartFunc   // defaults to graceful stop + exit
}

// Daemon owns the composed service graph.
type Daemon struct {
	store   *configstore.Store
	cfg     config.File
	bus     *eventbus.Bus
	counter *observability.EventCounter
	host    *runtime.ServiceHost

	machine    *netstate.Machine
	tracker    *roster.Tracker
	controller *indicator.Controller
	advertiser discovery.Advertiser
	restart    server.RestartFunc

	lifecycle eventbus.ServiceLifecycle

	voiceMu     sync.Mutex
	voiceClient *voice.Client

	watchInterval time.Duration
	stopWatch     func()
	stopOnce      sync.Once
}

// New composes the daemon. Nothing starts until Start is called.
func New(opts Options) (*Daemon, error) {
	if opts.Store == nil {
		return nil, errors.New("daemon: settings store is required")
	}
	if err := config.Validate(&opts.Config); err != nil {
		return nil, err
	}

	counter := observability.NewEventCounter()
	bus := eventbus.New(eventbus.WithObserver(counter))

	backend := opts.Backend
	if backend == nil {
		backend = netstate.NewLoopbackBackend(bus)
	}

	strip := opts.Strip
	if strip == nil {
		strip = indicator.NewNullStrip(opts.Config.Indicator.Leds)
	}

	advertiser := opts.Advertiser
	if advertiser == nil {
		if opts.Config.Discovery.Enabled {
			advertiser = discovery.NewMDNS()
		} else {
			advertiser = discovery.NoopAdvertiser{}
		}
	}

	machine, err := netstate.New(netstate.Options{
		Bus:     bus,
		Store:   opts.Store,
		Backend: backend,
		AP: netstate.APProfile{
			SSID:       opts.Config.AP.SSID,
			MaxClients: opts.Config.AP.MaxClients,
		},
		RetryBudget: opts.Config.Network.RetryBudget,
		Hostname:    opts.Config.Discovery.Hostname,
	})
	if err != nil {
		return nil, err
	}

	controller, err := indicator.New(indicator.Options{
		Strip: strip,
		Store: opts.Store,
		Tick:  opts.Config.Indicator.Tick,
	})
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		store:      opts.Store,
		cfg:        opts.Config,
		bus:        bus,
		counter:    counter,
		host:       runtime.NewServiceHost(),
		machine:    machine,
		tracker:    roster.New(bus),
		controller: controller,
		advertiser: advertiser,
		restart:    opts.Restart,

		watchInterval: defaultWatchInterval,
	}
	if d.restart == nil {
		d.restart = d.defaultRestart
	}

	provisionSvc := provision.New(opts.Store, bus)
	api, err := server.New(server.Options{
		Listen:    opts.Config.Listen,
		Provision: provisionSvc,
		Gate:      machine,
		Machine:   machine,
		Roster:    d.tracker,
		Indicator: controller,
		Counter:   counter,
		Restart:   d.restart,
	})
	if err != nil {
		return nil, err
	}

	register := func(name string, svc runtime.Service, regOpts ...runtime.Option) error {
		return d.host.Register(name, func(context.Context) (runtime.Service, error) {
			return svc, nil
		}, regOpts...)
	}
	if opts.Config.Indicator.Enable {
		if err := register("indicator", controller); err != nil {
			return nil, err
		}
	}
	if err := register("netstate", machine); err != nil {
		return nil, err
	}
	if err := register("api", api, runtime.WithShutdownTimeout(apiShutdownTimeout)); err != nil {
		return nil, err
	}

	return d, nil
}

// Start launches all services and the event bridges between them.
func (d *Daemon) Start(ctx context.Context) error {
	d.lifecycle.Start(ctx)

	connectedSub := eventbus.SubscribeTo(d.bus, eventbus.Network.Connected,
		eventbus.WithSubscriptionName("daemon.connected"))
	presenceSub := eventbus.SubscribeTo(d.bus, eventbus.Voice.Presence,
		eventbus.WithSubscriptionName("daemon.presence"))
	occupancySub := eventbus.SubscribeTo(d.bus, eventbus.Roster.Occupancy,
		eventbus.WithSubscriptionName("daemon.occupancy"))
	readySub := eventbus.SubscribeTo(d.bus, eventbus.Voice.Ready,
		eventbus.WithSubscriptionName("daemon.ready"))
	appliedSub := eventbus.SubscribeTo(d.bus, eventbus.Settings.Applied,
		eventbus.WithSubscriptionName("daemon.applied"))
	d.lifecycle.AddSubscriptions(connectedSub, presenceSub, occupancySub, readySub, appliedSub)

	d.lifecycle.Go(func(runCtx context.Context) {
		eventbus.Consume(runCtx, connectedSub, nil, func(ev eventbus.ConnectedEvent) {
			d.onConnected(runCtx, ev)
		})
	})
	d.lifecycle.Go(func(runCtx context.Context) {
		eventbus.Consume(runCtx, presenceSub, nil, func(ev eventbus.PresenceEvent) {
			d.tracker.UpdatePresence(runCtx, ev.UserID, ev.ChannelID)
		})
	})
	d.lifecycle.Go(func(runCtx context.Context) {
		eventbus.Consume(runCtx, occupancySub, nil, func(ev eventbus.OccupancyEvent) {
			d.applyOccupancy(ev.Count)
		})
	})
	d.lifecycle.Go(func(runCtx context.Context) {
		eventbus.Consume(runCtx, readySub, nil, func(ev eventbus.GatewayReadyEvent) {
			log.Printf("[Daemon] voice gateway ready as %q", ev.BotName)
			d.applyOccupancy(d.tracker.Occupancy())
		})
	})
	d.lifecycle.Go(func(runCtx context.Context) {
		eventbus.Consume(runCtx, appliedSub, nil, func(ev eventbus.SettingsAppliedEvent) {
			log.Printf("[Daemon] settings applied: %v (reboot=%v)", ev.Keys, ev.RebootRequired)
		})
	})

	if err := d.host.Start(ctx); err != nil {
		d.lifecycle.Stop()
		return err
	}

	// Settings edits normally arrive through provisioning; the watcher
	// catches direct database edits made while the daemon runs.
	stopWatch, err := d.host.WatchSettings(ctx, d.store, d.watchInterval, func(ev configstore.ChangeEvent) {
		d.onSettingsChanged(ctx, ev)
	})
	if err != nil {
		log.Printf("[Daemon] settings watcher unavailable: %v", err)
	} else {
		d.stopWatch = stopWatch
	}

	return nil
}

// Errors surfaces fatal service errors collected by the host.
func (d *Daemon) Errors() <-chan error {
	return d.host.Errors()
}

// Shutdown stops the bridges, the voice client, and all hosted services.
func (d *Daemon) Shutdown(ctx context.Context) error {
	var err error
	d.stopOnce.Do(func() {
		if d.stopWatch != nil {
			d.stopWatch()
		}
		d.advertiser.Stop()

		d.voiceMu.Lock()
		client := d.voiceClient
		d.voiceClient = nil
		d.voiceMu.Unlock()
		if client != nil {
			if cerr := client.Shutdown(ctx); cerr != nil {
				err = errors.Join(err, cerr)
			}
		}

		if lerr := d.lifecycle.Shutdown(ctx); lerr != nil {
			err = errors.Join(err, lerr)
		}
		if herr := d.host.Stop(ctx); herr != nil {
			err = errors.Join(err, herr)
		}
		d.bus.Shutdown()
	})
	return err
}

// onConnected runs once the device holds a station-mode IP: it announces the
// device over mDNS and brings up the gateway connection.
func (d *Daemon) onConnected(ctx context.Context, ev eventbus.ConnectedEvent) {
	log.Printf("[Daemon] network up, ip=%s", ev.IP)

	if d.cfg.Discovery.Enabled {
		if err := d.advertiser.Advertise(d.cfg.Discovery.Hostname, d.cfg.Discovery.Port); err != nil {
			log.Printf("[Daemon] discovery announce failed: %v", err)
		}
	}

	d.startVoice(ctx)
}

// onSettingsChanged reacts to settings writes observed by the store watcher.
// Credential edits take effect through the reboot the portal already
// schedules; a changed color only needs the indicator service cycled so it
// re-reads the store, which the tick itself never does.
func (d *Daemon) onSettingsChanged(ctx context.Context, ev configstore.ChangeEvent) {
	log.Printf("[Daemon] settings store changed (marker %s)", ev.Marker)

	if !d.cfg.Indicator.Enable {
		return
	}

	value, err := d.store.LoadSetting(ctx, configstore.KeyLEDColor, configstore.MaxLEDColorLen)
	if err != nil {
		if !configstore.IsNotFound(err) {
			log.Printf("[Daemon] reload color failed: %v", err)
		}
		return
	}
	if indicator.ParseColor(value) == d.controller.Color() {
		return
	}

	log.Printf("[Daemon] indicator color changed, cycling indicator service")
	if err := d.host.Restart(ctx, "indicator"); err != nil {
		log.Printf("[Daemon] indicator restart failed: %v", err)
	}
}

// startVoice connects the gateway client if it is configured and not already
// running. Reconnects across link drops are handled inside the client.
func (d *Daemon) startVoice(ctx context.Context) {
	if d.cfg.Gateway.URL == "" {
		log.Printf("[Daemon] no gateway configured, presence tracking disabled")
		return
	}

	token := os.Getenv(d.cfg.Gateway.TokenEnv)
	if token == "" {
		log.Printf("[Daemon] gateway token missing (%s not set), presence tracking disabled", d.cfg.Gateway.TokenEnv)
		return
	}

	d.voiceMu.Lock()
	defer d.voiceMu.Unlock()
	if d.voiceClient != nil {
		return
	}

	client, err := voice.New(voice.Options{
		Bus:   d.bus,
		URL:   d.cfg.Gateway.URL,
		Token: token,
	})
	if err != nil {
		log.Printf("[Daemon] gateway client setup failed: %v", err)
		return
	}
	if err := client.Start(ctx); err != nil {
		log.Printf("[Daemon] gateway client start failed: %v", err)
		return
	}
	d.voiceClient = client
}

// applyOccupancy maps the roster count onto the indicator: any occupancy
// lights the lamp, an empty channel turns it off.
func (d *Daemon) applyOccupancy(count int) {
	if count > 0 {
		d.controller.SetMode(indicator.ModeSolid)
	} else {
		d.controller.SetMode(indicator.ModeOff)
	}
}

// defaultRestart shuts the daemon down cleanly and exits; process
// supervision (systemd or similar) brings it back up with the new settings.
func (d *Daemon) defaultRestart(reason string) {
	log.Printf("[Daemon] restarting: %s", reason)
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := d.Shutdown(ctx); err != nil {
		log.Printf("[Daemon] shutdown before restart: %v", err)
	}
	os.Exit(0)
}

// Tracker exposes the roster for tests and the CLI status path.
func (d *Daemon) Tracker() *roster.Tracker { return d.tracker }

// Machine exposes the network state machine.
func (d *Daemon) Machine() *netstate.Machine { return d.machine }

// Controller exposes the indicator controller.
func (d *Daemon) Controller() *indicator.Controller { return d.controller }

// Bus exposes the event bus.
func (d *Daemon) Bus() *eventbus.Bus { return d.bus }
