package netstate

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	configstore "github.com/lumio-dev/lumio/internal/config/store"
	"github.com/lumio-dev/lumio/internal/eventbus"
)

// fakeBackend records calls and lets tests drive the machine by publishing
// link events themselves.
type fakeBackend struct {
	mu          sync.Mutex
	stations    int
	aps         int
	connects    int
	stops       int
	stationErr  error
	apErr       error
	connectErr  error
	lastStation Credentials
	lastAP      APProfile
}

func (b *fakeBackend) StartStation(ctx context.Context, creds Credentials) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stations++
	b.lastStation = creds
	return b.stationErr
}

func (b *fakeBackend) StartAccessPoint(ctx context.Context, ap APProfile) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.aps++
	b.lastAP = ap
	return b.apErr
}

func (b *fakeBackend) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connects++
	return b.connectErr
}

func (b *fakeBackend) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stops++
	return nil
}

func (b *fakeBackend) counts() (stations, aps, connects int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stations, b.aps, b.connects
}

type fixture struct {
	bus     *eventbus.Bus
	store   *configstore.Store
	backend *fakeBackend
	machine *Machine
}

func newFixture(t *testing.T, budget int) *fixture {
	t.Helper()

	store, err := configstore.Open(configstore.Options{
		DeviceName: "test-device",
		DBPath:     filepath.Join(t.TempDir(), "settings.db"),
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	bus := eventbus.New()
	t.Cleanup(bus.Shutdown)

	backend := &fakeBackend{}
	machine, err := New(Options{
		Bus:         bus,
		Store:       store,
		Backend:     backend,
		AP:          APProfile{SSID: "Lumio-Setup", MaxClients: 4},
		RetryBudget: budget,
		Hostname:    "lumio",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	return &fixture{bus: bus, store: store, backend: backend, machine: machine}
}

func (f *fixture) saveCredentials(t *testing.T, ssid, pass string) {
	t.Helper()
	ctx := context.Background()
	if err := f.store.SaveSettings(ctx, map[string]string{
		configstore.KeySSID:     ssid,
		configstore.KeyPassword: pass,
	}); err != nil {
		t.Fatalf("save credentials: %v", err)
	}
}

func (f *fixture) publishLink(kind eventbus.LinkEventKind, ip string) {
	eventbus.Publish(context.Background(), f.bus, eventbus.Network.Link, eventbus.SourceWireless,
		eventbus.LinkEvent{Kind: kind, IP: ip})
}

func waitForState(t *testing.T, m *Machine, want State) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state = %q, want %q", m.State(), want)
}

func TestNoCredentialsFallsBackToAP(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 5)
	ctx := context.Background()

	if err := f.machine.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer f.machine.Shutdown(ctx)

	waitForState(t, f.machine, StateApMode)

	if !f.machine.ProvisioningActive() {
		t.Error("ProvisioningActive() = false in AP mode")
	}
	stations, aps, _ := f.backend.counts()
	if stations != 0 {
		t.Errorf("StartStation calls = %d, want 0", stations)
	}
	if aps != 1 {
		t.Errorf("StartAccessPoint calls = %d, want 1", aps)
	}
	if f.backend.lastAP.SSID != "Lumio-Setup" {
		t.Errorf("AP SSID = %q", f.backend.lastAP.SSID)
	}
}

func TestIncompleteCredentialsFallBackToAP(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 5)
	ctx := context.Background()
	if err := f.store.SaveSetting(ctx, configstore.KeySSID, "HomeNet"); err != nil {
		t.Fatalf("save ssid: %v", err)
	}

	if err := f.machine.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer f.machine.Shutdown(ctx)

	waitForState(t, f.machine, StateApMode)
}

func TestCredentialsEnterStationMode(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 5)
	f.saveCredentials(t, "HomeNet", "hunter22")

	ctx := context.Background()
	if err := f.machine.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer f.machine.Shutdown(ctx)

	waitForState(t, f.machine, StateConnecting)

	if f.machine.ProvisioningActive() {
		t.Error("ProvisioningActive() = true while connecting")
	}
	if f.backend.lastStation != (Credentials{SSID: "HomeNet", Password: "hunter22"}) {
		t.Errorf("StartStation credentials = %+v", f.backend.lastStation)
	}
}

func TestGotIPPublishesConnected(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 5)
	f.saveCredentials(t, "HomeNet", "hunter22")

	connectedSub := eventbus.SubscribeTo(f.bus, eventbus.Network.Connected)
	defer connectedSub.Close()

	ctx := context.Background()
	if err := f.machine.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer f.machine.Shutdown(ctx)

	waitForState(t, f.machine, StateConnecting)
	f.publishLink(eventbus.LinkStaGotIP, "192.168.1.50")
	waitForState(t, f.machine, StateConnected)

	select {
	case env := <-connectedSub.C():
		if env.Payload.IP != "192.168.1.50" {
			t.Errorf("ConnectedEvent.IP = %q", env.Payload.IP)
		}
		if env.Payload.Hostname != "lumio" {
			t.Errorf("ConnectedEvent.Hostname = %q", env.Payload.Hostname)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no ConnectedEvent published")
	}

	if f.machine.ProvisioningActive() {
		t.Error("ProvisioningActive() = true after connect")
	}
	if got := f.machine.Retries(); got != 0 {
		t.Errorf("Retries() = %d, want 0 after connect", got)
	}
}

func TestRetryBudgetExhaustionFallsBackToAP(t *testing.T) {
	t.Parallel()

	const budget = 3

	f := newFixture(t, budget)
	f.saveCredentials(t, "HomeNet", "wrong-password")

	ctx := context.Background()
	if err := f.machine.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer f.machine.Shutdown(ctx)

	waitForState(t, f.machine, StateConnecting)

	for i := 0; i < budget; i++ {
		f.publishLink(eventbus.LinkStaDisconnected, "")
	}

	waitForState(t, f.machine, StateApMode)

	if !f.machine.ProvisioningActive() {
		t.Error("ProvisioningActive() = false after fallback")
	}
	_, aps, connects := f.backend.counts()
	if aps != 1 {
		t.Errorf("StartAccessPoint calls = %d, want 1", aps)
	}
	// budget-1 reconnect attempts before giving up.
	if connects != budget-1 {
		t.Errorf("Connect calls = %d, want %d", connects, budget-1)
	}
}

func TestDisconnectBelowBudgetRetries(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 5)
	f.saveCredentials(t, "HomeNet", "hunter22")

	ctx := context.Background()
	if err := f.machine.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer f.machine.Shutdown(ctx)

	waitForState(t, f.machine, StateConnecting)

	f.publishLink(eventbus.LinkStaDisconnected, "")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, _, connects := f.backend.counts(); connects >= 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if _, _, connects := f.backend.counts(); connects != 1 {
		t.Errorf("Connect calls = %d, want 1", connects)
	}
	if got := f.machine.Retries(); got != 1 {
		t.Errorf("Retries() = %d, want 1", got)
	}
	waitForState(t, f.machine, StateConnecting)
}

func TestStaStartedTriggersConnect(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 5)
	f.saveCredentials(t, "HomeNet", "hunter22")

	ctx := context.Background()
	if err := f.machine.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer f.machine.Shutdown(ctx)

	waitForState(t, f.machine, StateConnecting)
	f.publishLink(eventbus.LinkStaStarted, "")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, _, connects := f.backend.counts(); connects == 1 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Error("Connect was not called after sta_started")
}

func TestAccessPointFailureSurfacesError(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 5)
	f.backend.apErr = errors.New("radio unavailable")

	ctx := context.Background()
	if err := f.machine.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer f.machine.Shutdown(ctx)

	select {
	case err := <-f.machine.Errors():
		if err == nil {
			t.Error("Errors() delivered nil")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("AP start failure was not surfaced")
	}
}

func TestNewValidatesOptions(t *testing.T) {
	t.Parallel()

	store, err := configstore.Open(configstore.Options{
		DeviceName: "test-device",
		DBPath:     filepath.Join(t.TempDir(), "settings.db"),
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	if _, err := New(Options{Store: store, RetryBudget: 5}); err == nil {
		t.Error("New() without backend expected error")
	}
	if _, err := New(Options{Backend: &fakeBackend{}, RetryBudget: 5}); err == nil {
		t.Error("New() without store expected error")
	}
	if _, err := New(Options{Backend: &fakeBackend{}, Store: store}); err == nil {
		t.Error("New() without retry budget expected error")
	}
}
