// Package voice maintains the WebSocket connection to the voice-chat
// gateway and feeds presence updates into the event bus.
package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lumio-dev/lumio/internal/eventbus"
)

const (
	handshakeTimeout      = 10 * time.Second
	helloTimeout          = 15 * time.Second
	writeTimeout          = 10 * time.Second
	defaultReconnectDelay = 5 * time.Second
)

// Options configures a Client.
type Options struct {
	Bus            *eventbus.Bus
	URL            string
	Token          string
	Dialer         *websocket.Dialer // optional override, primarily for tests
	ReconnectDelay time.Duration
}

// Client connects to the gateway, performs the hello/identify handshake,
// heartbeats on the interval the gateway dictates, and publishes READY and
// VOICE_STATE_UPDATE dispatches on the bus. It reconnects with a fixed
// delay until its context is cancelled.
type Client struct {
	bus       *eventbus.Bus
	url       string
	token     string
	dialer    *websocket.Dialer
	reconnect time.Duration
	deviceID  string

	lifecycle eventbus.ServiceLifecycle
	errs      chan error
}

// New creates a gateway client.
func New(opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, errors.New("voice: gateway URL is required")
	}
	if opts.Token == "" {
		return nil, errors.New("voice: gateway token is required")
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	}
	delay := opts.ReconnectDelay
	if delay <= 0 {
		delay = defaultReconnectDelay
	}

	return &Client{
		bus:       opts.Bus,
		url:       opts.URL,
		token:     opts.Token,
		dialer:    dialer,
		reconnect: delay,
		deviceID:  uuid.NewString(),
		errs:      make(chan error, 1),
	}, nil
}

// Start launches the connect/reconnect loop.
func (c *Client) Start(ctx context.Context) error {
	c.lifecycle.Start(ctx)
	c.lifecycle.Go(c.run)
	return nil
}

// Shutdown stops the loop and waits for the session goroutines to exit.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.lifecycle.Shutdown(ctx)
}

// Errors surfaces session failures. The client keeps reconnecting after
// reporting them; the channel is informational.
func (c *Client) Errors() <-chan error {
	return c.errs
}

func (c *Client) run(ctx context.Context) {
	for {
		if err := c.session(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[Voice] session ended: %v", err)
			select {
			case c.errs <- err:
			default:
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.reconnect):
		}
	}
}

// session runs one gateway connection from dial to teardown.
func (c *Client) session(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("voice: dial gateway: %w", err)
	}
	defer conn.Close()

	// Drop the connection as soon as the service shuts down so the blocking
	// reads below return.
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sessionCtx.Done()
		conn.Close()
	}()

	interval, err := c.awaitHello(conn)
	if err != nil {
		return err
	}

	var writeMu sync.Mutex
	if err := c.writeFrame(conn, &writeMu, frame{
		Op:   opIdentify,
		Data: mustMarshal(identifyData{Token: c.token, Properties: identifyProperties{Device: c.deviceID}}),
	}); err != nil {
		return fmt.Errorf("voice: identify: %w", err)
	}

	var lastSeq int64
	var seqMu sync.Mutex

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-sessionCtx.Done():
				return
			case <-ticker.C:
				seqMu.Lock()
				seq := lastSeq
				seqMu.Unlock()
				if err := c.writeFrame(conn, &writeMu, frame{Op: opHeartbeat, Sequence: &seq}); err != nil {
					cancel()
					return
				}
			}
		}
	}()
	defer func() {
		cancel()
		<-heartbeatDone
	}()

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			if sessionCtx.Err() != nil {
				return sessionCtx.Err()
			}
			return fmt.Errorf("voice: read frame: %w", err)
		}

		if f.Sequence != nil {
			seqMu.Lock()
			lastSeq = *f.Sequence
			seqMu.Unlock()
		}

		switch f.Op {
		case opDispatch:
			c.handleDispatch(sessionCtx, f)
		case opHeartbeatAck:
			// Nothing to do; liveness only.
		}
	}
}

func (c *Client) awaitHello(conn *websocket.Conn) (time.Duration, error) {
	conn.SetReadDeadline(time.Now().Add(helloTimeout))
	defer conn.SetReadDeadline(time.Time{})

	var f frame
	if err := conn.ReadJSON(&f); err != nil {
		return 0, fmt.Errorf("voice: read hello: %w", err)
	}
	if f.Op != opHello {
		return 0, fmt.Errorf("voice: expected hello, got op %d", f.Op)
	}

	var hello helloData
	if err := json.Unmarshal(f.Data, &hello); err != nil {
		return 0, fmt.Errorf("voice: decode hello: %w", err)
	}
	if hello.HeartbeatInterval <= 0 {
		return 0, fmt.Errorf("voice: invalid heartbeat interval %d", hello.HeartbeatInterval)
	}

	return time.Duration(hello.HeartbeatInterval) * time.Millisecond, nil
}

func (c *Client) handleDispatch(ctx context.Context, f frame) {
	switch f.Type {
	case eventReady:
		var ready readyData
		if err := json.Unmarshal(f.Data, &ready); err != nil {
			log.Printf("[Voice] decode READY failed: %v", err)
			return
		}
		log.Printf("[Voice] gateway ready, bot=%s session=%s", ready.User.Username, ready.SessionID)
		eventbus.Publish(ctx, c.bus, eventbus.Voice.Ready, eventbus.SourceVoiceGateway, eventbus.GatewayReadyEvent{
			BotID:     ready.User.ID,
			BotName:   ready.User.Username,
			SessionID: ready.SessionID,
		})

	case eventVoiceStateUpdate:
		var state voiceStateData
		if err := json.Unmarshal(f.Data, &state); err != nil {
			log.Printf("[Voice] decode VOICE_STATE_UPDATE failed: %v", err)
			return
		}
		if state.UserID == "" {
			return
		}
		eventbus.Publish(ctx, c.bus, eventbus.Voice.Presence, eventbus.SourceVoiceGateway, eventbus.PresenceEvent{
			UserID:    state.UserID,
			ChannelID: state.ChannelID,
		})
	}
}

func (c *Client) writeFrame(conn *websocket.Conn, mu *sync.Mutex, f frame) error {
	mu.Lock()
	defer mu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(f)
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("voice: marshal %T: %v", v, err))
	}
	return data
}
