package indicator

import "testing"

func TestParseColor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  RGB
	}{
		{
			name:  "default green",
			input: "#23A55A",
			want:  RGB{R: 0x23, G: 0xA5, B: 0x5A},
		},
		{
			name:  "lowercase hex",
			input: "#ff00aa",
			want:  RGB{R: 0xFF, G: 0x00, B: 0xAA},
		},
		{
			name:  "black",
			input: "#000000",
			want:  RGB{},
		},
		{
			name:  "missing hash",
			input: "23A55A0",
			want:  FallbackColor,
		},
		{
			name:  "too short",
			input: "#FFF",
			want:  FallbackColor,
		},
		{
			name:  "too long",
			input: "#23A55A00",
			want:  FallbackColor,
		},
		{
			name:  "non-hex digits",
			input: "#zzzzzz",
			want:  FallbackColor,
		},
		{
			name:  "empty",
			input: "",
			want:  FallbackColor,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := ParseColor(tt.input); got != tt.want {
				t.Errorf("ParseColor(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestColorStringRoundTrip(t *testing.T) {
	t.Parallel()

	color := RGB{R: 0x23, G: 0xA5, B: 0x5A}
	if got := color.String(); got != "#23A55A" {
		t.Errorf("String() = %q, want #23A55A", got)
	}
	if got := ParseColor(color.String()); got != color {
		t.Errorf("ParseColor(String()) = %+v, want %+v", got, color)
	}
}

func TestFallbackColorValue(t *testing.T) {
	t.Parallel()

	want := RGB{R: 100, G: 0, B: 0}
	if FallbackColor != want {
		t.Errorf("FallbackColor = %+v, want %+v", FallbackColor, want)
	}
}
