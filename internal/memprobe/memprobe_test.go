package memprobe

import "testing"

func TestFreeBytesReturnsPositiveOrUnsupported(t *testing.T) {
	got, err := FreeBytes()
	if err != nil {
		if err != ErrUnsupportedPlatform {
			t.Fatalf("unexpected error: %v", err)
		}
		return
	}
	if got == 0 {
		t.Fatal("expected a positive free-byte count on a supported platform")
	}
}

func TestDefaultMaxBytesUsesFractionOfFree(t *testing.T) {
	got, err := FreeBytes()
	if err != nil {
		// unsupported platform: DefaultMaxBytes must fall back
		if DefaultMaxBytes(123) != 123 {
			t.Fatal("expected fallback value on unsupported platform")
		}
		return
	}
	want := uint64(float64(got) * DefaultCacheFraction)
	if DefaultMaxBytes(1) != want {
		t.Fatalf("got %d want %d", DefaultMaxBytes(1), want)
	}
}
