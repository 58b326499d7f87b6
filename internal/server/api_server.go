// Package server exposes the device HTTP surface: the provisioning portal,
// the settings JSON API, and the status endpoint.
package server

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/lumio-dev/lumio/internal/eventbus"
	"github.com/lumio-dev/lumio/internal/indicator"
	"github.com/lumio-dev/lumio/internal/netstate"
	"github.com/lumio-dev/lumio/internal/observability"
	"github.com/lumio-dev/lumio/internal/provision"
	"github.com/lumio-dev/lumio/internal/roster"
	"github.com/lumio-dev/lumio/internal/version"
)

//go:embed assets/index.html assets/style.css
var assetsFS embed.FS

// flushDelay is how long the restart is deferred after a reboot-required
// save, so the HTTP response reaches the client first.
const flushDelay = 1 * time.Second

// ProvisioningGate reports whether the provisioning surface is reachable.
// It is satisfied by *netstate.Machine.
type ProvisioningGate interface {
	ProvisioningActive() bool
}

// RestartFunc triggers the reboot-equivalent daemon restart.
type RestartFunc func(reason string)

// Options groups the collaborators of the APIServer.
type Options struct {
	Listen    string
	Provision *provision.Service
	Gate      ProvisioningGate
	Machine   *netstate.Machine
	Roster    *roster.Tracker
	Indicator *indicator.Controller
	Counter   *observability.EventCounter
	Restart   RestartFunc
}

// APIServer serves the device HTTP surface.
type APIServer struct {
	listen    string
	provision *provision.Service
	gate      ProvisioningGate
	machine   *netstate.Machine
	roster    *roster.Tracker
	indicator *indicator.Controller
	counter   *observability.EventCounter
	restart   RestartFunc

	page      *template.Template
	server    *http.Server
	errs      chan error
	startTime time.Time
}

// New creates an APIServer. The provisioning service and gate are required;
// the status collaborators may be nil and simply leave their fields empty.
func New(opts Options) (*APIServer, error) {
	if opts.Provision == nil {
		return nil, errors.New("server: provisioning service is required")
	}
	if opts.Gate == nil {
		return nil, errors.New("server: provisioning gate is required")
	}
	if opts.Listen == "" {
		opts.Listen = ":80"
	}

	page, err := template.ParseFS(assetsFS, "assets/index.html")
	if err != nil {
		return nil, fmt.Errorf("server: parse portal template: %w", err)
	}

	s := &APIServer{
		listen:    opts.Listen,
		provision: opts.Provision,
		gate:      opts.Gate,
		machine:   opts.Machine,
		roster:    opts.Roster,
		indicator: opts.Indicator,
		counter:   opts.Counter,
		restart:   opts.Restart,
		page:      page,
		errs:      make(chan error, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/style.css", s.handleStyle)
	mux.HandleFunc("/save", s.handleSave)
	mux.HandleFunc("/settings.json", s.handleSettings)
	mux.HandleFunc("/status.json", s.handleStatus)

	s.server = &http.Server{
		Addr:              opts.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// Handler exposes the HTTP handler for tests.
func (s *APIServer) Handler() http.Handler {
	return s.server.Handler
}

// Start binds the listen address and serves until Shutdown.
func (s *APIServer) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.listen, err)
	}

	s.startTime = time.Now()
	log.Printf("[APIServer] listening on %s", listener.Addr())

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case s.errs <- err:
			default:
			}
		}
	}()

	return nil
}

// Shutdown stops the HTTP server, letting in-flight requests finish.
func (s *APIServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Errors surfaces fatal serve failures.
func (s *APIServer) Errors() <-chan error {
	return s.errs
}

// provisioningAllowed guards the portal routes: they are reachable only in
// AP mode or before the mode decision, never while the device serves on the
// production network.
func (s *APIServer) provisioningAllowed(w http.ResponseWriter) bool {
	if s.gate.ProvisioningActive() {
		return true
	}
	writeError(w, http.StatusForbidden, "provisioning is only available in setup mode")
	return false
}

type statusResponse struct {
	State         string                    `json:"state"`
	Retries       int                       `json:"retries"`
	Occupancy     int                       `json:"occupancy"`
	RosterSize    int                       `json:"roster_size"`
	IndicatorMode string                    `json:"indicator_mode"`
	UptimeSeconds float64                   `json:"uptime_seconds"`
	Version       string                    `json:"version"`
	Events        map[eventbus.Topic]uint64 `json:"events,omitempty"`
}

func (s *APIServer) statusSnapshot() statusResponse {
	resp := statusResponse{
		Version: version.String(),
	}
	if !s.startTime.IsZero() {
		resp.UptimeSeconds = time.Since(s.startTime).Seconds()
	}
	if s.machine != nil {
		resp.State = string(s.machine.State())
		resp.Retries = s.machine.Retries()
	}
	if s.roster != nil {
		resp.Occupancy = s.roster.Occupancy()
		resp.RosterSize = s.roster.Size()
	}
	if s.indicator != nil {
		resp.IndicatorMode = string(s.indicator.Mode())
	}
	if s.counter != nil {
		resp.Events = s.counter.Snapshot()
	}
	return resp
}
