package netstate

import (
	"context"

	"github.com/lumio-dev/lumio/internal/eventbus"
)

// Credentials is the station-mode credential pair loaded from the settings
// store. Station mode is only attempted when both fields are non-empty.
type Credentials struct {
	SSID     string
	Password string
}

// Complete reports whether the pair is usable for a station-mode attempt.
func (c Credentials) Complete() bool {
	return c.SSID != "" && c.Password != ""
}

// APProfile describes the provisioning access point.
type APProfile struct {
	SSID       string
	MaxClients int
}

// Backend abstracts the wireless link layer. Implementations report link
// changes by publishing eventbus.LinkEvent on the network.link topic; the
// state machine never polls.
//
// At most one of station and access-point mode is active at a time; the
// state machine enforces this by calling Stop before switching.
type Backend interface {
	// StartStation begins station-mode association with the given credentials.
	StartStation(ctx context.Context, creds Credentials) error
	// StartAccessPoint brings up the provisioning access point.
	StartAccessPoint(ctx context.Context, ap APProfile) error
	// Connect issues a connect attempt after LinkStaStarted and on retries.
	Connect(ctx context.Context) error
	// Stop tears down whichever mode is active.
	Stop(ctx context.Context) error
}

// LoopbackBackend is a Backend for development machines without radio
// control: station mode "associates" immediately and reports a loopback
// address, the access point is a no-op.
type LoopbackBackend struct {
	bus *eventbus.Bus
	ip  string
}

// NewLoopbackBackend creates a loopback backend publishing on bus.
func NewLoopbackBackend(bus *eventbus.Bus) *LoopbackBackend {
	return &LoopbackBackend{bus: bus, ip: "127.0.0.1"}
}

func (b *LoopbackBackend) StartStation(ctx context.Context, creds Credentials) error {
	eventbus.Publish(ctx, b.bus, eventbus.Network.Link, eventbus.SourceWireless, eventbus.LinkEvent{
		Kind: eventbus.LinkStaStarted,
	})
	return nil
}

func (b *LoopbackBackend) StartAccessPoint(ctx context.Context, ap APProfile) error {
	return nil
}

func (b *LoopbackBackend) Connect(ctx context.Context) error {
	eventbus.Publish(ctx, b.bus, eventbus.Network.Link, eventbus.SourceWireless, eventbus.LinkEvent{
		Kind: eventbus.LinkStaGotIP,
		IP:   b.ip,
	})
	return nil
}

func (b *LoopbackBackend) Stop(ctx context.Context) error {
	return nil
}
