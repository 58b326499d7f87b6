// Package discovery announces the device on the local network via mDNS so
// browsers can reach it by hostname instead of IP.
package discovery

import (
	"fmt"
	"log"
	"sync"

	"github.com/grandcat/zeroconf"
)

// Advertiser announces the device HTTP endpoint on the local network.
type Advertiser interface {
	// Advertise starts announcing under the given hostname and port.
	// Calling it again replaces the previous announcement.
	Advertise(hostname string, port int) error
	// Stop withdraws the announcement. Safe to call when idle.
	Stop()
}

// MDNSAdvertiser registers an _http._tcp service over multicast DNS.
type MDNSAdvertiser struct {
	mu     sync.Mutex
	server *zeroconf.Server
}

// NewMDNS creates an idle mDNS advertiser.
func NewMDNS() *MDNSAdvertiser {
	return &MDNSAdvertiser{}
}

// Advertise registers the service. A previous registration is shut down
// first so hostname changes take effect.
func (a *MDNSAdvertiser) Advertise(hostname string, port int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	server, err := zeroconf.Register(hostname, "_http._tcp", "local.", port, nil, nil)
	if err != nil {
		return fmt.Errorf("discovery: register mdns service: %w", err)
	}
	a.server = server
	log.Printf("[Discovery] announcing %s.local on port %d", hostname, port)
	return nil
}

// Stop withdraws the current announcement, if any.
func (a *MDNSAdvertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// NoopAdvertiser satisfies Advertiser without touching the network.
type NoopAdvertiser struct{}

func (NoopAdvertiser) Advertise(string, int) error { return nil }
func (NoopAdvertiser) Stop()                       {}
