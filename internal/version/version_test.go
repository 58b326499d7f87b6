package version

import "testing"

func TestStringIsNeverEmpty(t *testing.T) {
	if got := String(); got == "" {
		t.Error("String() returned an empty version")
	}
}

func TestForTestingRestoresOriginal(t *testing.T) {
	original := String()

	restore := ForTesting("1.2.3")
	if got := String(); got != "1.2.3" {
		t.Errorf("String() after override = %q, want %q", got, "1.2.3")
	}

	restore()
	if got := String(); got != original {
		t.Errorf("String() after restore = %q, want %q", got, original)
	}
}
