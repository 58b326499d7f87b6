package daemon

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/lumio-dev/lumio/internal/config"
	configstore "github.com/lumio-dev/lumio/internal/config/store"
	"github.com/lumio-dev/lumio/internal/discovery"
	"github.com/lumio-dev/lumio/internal/eventbus"
	"github.com/lumio-dev/lumio/internal/indicator"
	"github.com/lumio-dev/lumio/internal/netstate"
)

func testConfig() config.File {
	cfg := config.DefaultFile()
	cfg.Listen = "127.0.0.1:0"
	cfg.Discovery.Enabled = false
	cfg.Indicator.Tick = time.Millisecond
	return cfg
}

func newTestDaemon(t *testing.T, withCredentials bool) *Daemon {
	t.Helper()

	store, err := configstore.Open(configstore.Options{
		DeviceName: "test-device",
		DBPath:     filepath.Join(t.TempDir(), "settings.db"),
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if withCredentials {
		if err := store.SaveSettings(context.Background(), map[string]string{
			configstore.KeySSID:     "HomeNet",
			configstore.KeyPassword: "hunter22",
		}); err != nil {
			t.Fatalf("save credentials: %v", err)
		}
	}

	d, err := New(Options{
		Store:      store,
		Config:     testConfig(),
		Strip:      indicator.NewNullStrip(4),
		Advertiser: discovery.NoopAdvertiser{},
		Restart:    func(string) {},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return d
}

func startDaemon(t *testing.T, d *Daemon) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		d.Shutdown(shutdownCtx)
		cancel()
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNewRequiresStore(t *testing.T) {
	t.Parallel()

	if _, err := New(Options{Config: testConfig()}); err == nil {
		t.Fatal("New() without store expected error")
	}
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	store, err := configstore.Open(configstore.Options{
		DeviceName: "test-device",
		DBPath:     filepath.Join(t.TempDir(), "settings.db"),
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	cfg := testConfig()
	cfg.Network.RetryBudget = 0

	if _, err := New(Options{Store: store, Config: cfg}); err == nil {
		t.Fatal("New() with invalid config expected error")
	}
}

func TestLoopbackConnectsEndToEnd(t *testing.T) {
	t.Parallel()

	d := newTestDaemon(t, true)
	startDaemon(t, d)

	// The loopback backend associates and reports an IP immediately.
	waitFor(t, "connected state", func() bool {
		return d.Machine().State() == netstate.StateConnected
	})

	if d.Machine().ProvisioningActive() {
		t.Error("provisioning still active after connect")
	}
}

func TestNoCredentialsStaysInApMode(t *testing.T) {
	t.Parallel()

	d := newTestDaemon(t, false)
	startDaemon(t, d)

	waitFor(t, "ap mode", func() bool {
		return d.Machine().State() == netstate.StateApMode
	})

	if !d.Machine().ProvisioningActive() {
		t.Error("provisioning inactive in AP mode")
	}
}

func TestPresenceDrivesIndicator(t *testing.T) {
	t.Parallel()

	d := newTestDaemon(t, true)
	startDaemon(t, d)

	waitFor(t, "connected state", func() bool {
		return d.Machine().State() == netstate.StateConnected
	})

	ctx := context.Background()

	// A participant joins voice: occupancy 1, lamp on.
	eventbus.Publish(ctx, d.Bus(), eventbus.Voice.Presence, eventbus.SourceVoiceGateway,
		eventbus.PresenceEvent{UserID: "u1", ChannelID: "c1"})

	waitFor(t, "solid indicator", func() bool {
		return d.Controller().Mode() == indicator.ModeSolid
	})
	if got := d.Tracker().Occupancy(); got != 1 {
		t.Errorf("Occupancy() = %d, want 1", got)
	}

	// A transfer keeps the lamp on.
	eventbus.Publish(ctx, d.Bus(), eventbus.Voice.Presence, eventbus.SourceVoiceGateway,
		eventbus.PresenceEvent{UserID: "u1", ChannelID: "c2"})

	waitFor(t, "roster transfer", func() bool {
		snapshot := d.Tracker().Snapshot()
		return len(snapshot) == 1 && snapshot[0].Channel == "c2"
	})
	if got := d.Controller().Mode(); got != indicator.ModeSolid {
		t.Errorf("Mode() after transfer = %q, want solid", got)
	}

	// Leaving voice empties the channel: lamp off.
	eventbus.Publish(ctx, d.Bus(), eventbus.Voice.Presence, eventbus.SourceVoiceGateway,
		eventbus.PresenceEvent{UserID: "u1", ChannelID: ""})

	waitFor(t, "indicator off", func() bool {
		return d.Controller().Mode() == indicator.ModeOff
	})
	if got := d.Tracker().Occupancy(); got != 0 {
		t.Errorf("Occupancy() = %d, want 0", got)
	}
}

func TestExternalColorEditCyclesIndicator(t *testing.T) {
	t.Parallel()

	d := newTestDaemon(t, false)
	d.watchInterval = 500 * time.Millisecond
	startDaemon(t, d)

	waitFor(t, "ap mode", func() bool {
		return d.Machine().State() == netstate.StateApMode
	})

	// An edit landing in the database behind the portal's back; the watcher
	// notices and cycles the indicator service so the new color is cached.
	want := indicator.ParseColor("#112233")
	if d.Controller().Color() == want {
		t.Fatal("test color matches the default, pick another")
	}
	if err := d.store.SaveSetting(context.Background(), configstore.KeyLEDColor, "#112233"); err != nil {
		t.Fatalf("SaveSetting() error = %v", err)
	}

	waitFor(t, "recached color", func() bool {
		return d.Controller().Color() == want
	})
}

func TestGatewayReadyReappliesOccupancy(t *testing.T) {
	t.Parallel()

	d := newTestDaemon(t, true)
	startDaemon(t, d)

	waitFor(t, "connected state", func() bool {
		return d.Machine().State() == netstate.StateConnected
	})

	ctx := context.Background()
	eventbus.Publish(ctx, d.Bus(), eventbus.Voice.Presence, eventbus.SourceVoiceGateway,
		eventbus.PresenceEvent{UserID: "u1", ChannelID: "c1"})
	waitFor(t, "solid indicator", func() bool {
		return d.Controller().Mode() == indicator.ModeSolid
	})

	// Force the mode away, then replay READY; the daemon resyncs the lamp
	// with the roster.
	d.Controller().SetMode(indicator.ModeOff)
	eventbus.Publish(ctx, d.Bus(), eventbus.Voice.Ready, eventbus.SourceVoiceGateway,
		eventbus.GatewayReadyEvent{BotID: "b1", BotName: "lumio-bot"})

	waitFor(t, "resynced indicator", func() bool {
		return d.Controller().Mode() == indicator.ModeSolid
	})
}
