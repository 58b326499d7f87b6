package indicator

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	configstore "github.com/lumio-dev/lumio/internal/config/store"
)

// Mode is the discrete indicator state.
type Mode string

const (
	ModeOff   Mode = "off"
	ModeSolid Mode = "solid"
	ModeBlink Mode = "blink"
)

// DefaultTick is the render period. Every write to the strip happens on the
// tick; SetMode only stages state.
const DefaultTick = 50 * time.Millisecond

// Controller owns the indicator mode and renders it onto a Strip on a fixed
// tick. The color is read from the settings store once at Start and cached:
// the tick must stay free of storage and network I/O to remain safe for
// hardware timing, so color edits take effect after the next restart.
type Controller struct {
	strip Strip
	store *configstore.Store
	tick  time.Duration

	mu    sync.Mutex
	mode  Mode
	color RGB
	blink bool

	cancel context.CancelFunc
	done   chan struct{}
}

// Options configures a Controller.
type Options struct {
	Strip Strip
	Store *configstore.Store
	Tick  time.Duration // defaults to DefaultTick
}

// New creates a stopped controller in ModeOff.
func New(opts Options) (*Controller, error) {
	if opts.Strip == nil {
		return nil, errors.New("indicator: strip is required")
	}
	tick := opts.Tick
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Controller{
		strip: opts.Strip,
		store: opts.Store,
		tick:  tick,
		mode:  ModeOff,
		color: ParseColor(DefaultColorSetting),
	}, nil
}

// Start loads and caches the configured color, then launches the render loop.
func (c *Controller) Start(ctx context.Context) error {
	value := DefaultColorSetting
	if c.store != nil {
		stored, err := c.store.LoadSetting(ctx, configstore.KeyLEDColor, configstore.MaxLEDColorLen)
		switch {
		case err == nil:
			value = stored
		case configstore.IsNotFound(err):
			// No saved color yet; keep the default.
		default:
			log.Printf("[Indicator] load color failed, using default: %v", err)
		}
	}

	c.mu.Lock()
	c.color = ParseColor(value)
	c.mu.Unlock()

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.renderLoop(loopCtx)
	return nil
}

// Shutdown stops the render loop and blanks the strip.
func (c *Controller) Shutdown(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	if c.done != nil {
		select {
		case <-c.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return c.strip.Clear()
}

// SetMode stages the indicator mode. The observable effect is deferred to
// the next render tick, which is the only writer to the strip.
func (c *Controller) SetMode(mode Mode) {
	c.mu.Lock()
	c.mode = mode
	c.mu.Unlock()
}

// Mode returns the currently staged mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Color returns the cached render color.
func (c *Controller) Color() RGB {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.color
}

func (c *Controller) renderLoop(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.renderTick(); err != nil {
				log.Printf("[Indicator] render failed: %v", err)
			}
		}
	}
}

// renderTick draws one frame for the staged mode.
func (c *Controller) renderTick() error {
	c.mu.Lock()
	mode := c.mode
	color := c.color
	if mode == ModeBlink {
		c.blink = !c.blink
	}
	blinkOn := c.blink
	c.mu.Unlock()

	switch mode {
	case ModeOff:
		return c.strip.Clear()
	case ModeSolid:
		return c.fill(color)
	case ModeBlink:
		if blinkOn {
			return c.fill(color)
		}
		return c.fill(RGB{})
	}
	return nil
}

func (c *Controller) fill(color RGB) error {
	for i := 0; i < c.strip.Len(); i++ {
		c.strip.SetPixel(i, color.R, color.G, color.B)
	}
	return c.strip.Refresh()
}
