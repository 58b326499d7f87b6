package indicator

// Strip abstracts the physical LED strip. The timing-accurate pixel driver
// is an external collaborator; implementations must tolerate being called
// every render tick.
type Strip interface {
	// SetPixel stages the color of pixel i without transmitting it.
	SetPixel(i int, r, g, b uint8)
	// Refresh transmits the staged pixels to the hardware.
	Refresh() error
	// Clear blanks all pixels immediately.
	Clear() error
	// Len returns the number of pixels on the strip.
	Len() int
}

// NullStrip is a Strip with no hardware behind it, used when the daemon runs
// without an attached LED strip and in tests.
type NullStrip struct {
	leds int
}

// NewNullStrip returns a no-op strip reporting the given pixel count.
func NewNullStrip(leds int) *NullStrip {
	if leds <= 0 {
		leds = 1
	}
	return &NullStrip{leds: leds}
}

func (s *NullStrip) SetPixel(int, uint8, uint8, uint8) {}
func (s *NullStrip) Refresh() error                    { return nil }
func (s *NullStrip) Clear() error                      { return nil }
func (s *NullStrip) Len() int                          { return s.leds }
