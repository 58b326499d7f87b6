package indicator

import "fmt"

// RGB is a single indicator color.
type RGB struct {
	R, G, B uint8
}

// FallbackColor is used whenever a stored color value cannot be parsed.
var FallbackColor = RGB{R: 100, G: 0, B: 0}

// DefaultColorSetting is the color assumed when none has been saved yet.
const DefaultColorSetting = "#23A55A"

// ParseColor decodes a "#RRGGBB" string. Malformed input (wrong length,
// missing '#', non-hex digits) yields FallbackColor rather than an error:
// the render path must always have a usable color.
func ParseColor(value string) RGB {
	if len(value) != 7 || value[0] != '#' {
		return FallbackColor
	}

	var rgb [3]uint8
	for i := 0; i < 3; i++ {
		hi, ok1 := hexDigit(value[1+2*i])
		lo, ok2 := hexDigit(value[2+2*i])
		if !ok1 || !ok2 {
			return FallbackColor
		}
		rgb[i] = hi<<4 | lo
	}

	return RGB{R: rgb[0], G: rgb[1], B: rgb[2]}
}

// String renders the color back in "#RRGGBB" form.
func (c RGB) String() string {
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}

func hexDigit(b byte) (uint8, bool) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', true
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, true
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, true
	default:
		return 0, false
	}
}
