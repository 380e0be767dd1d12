package status

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	cases := []struct {
		name string
		err  *Error
		want string
	}{
		{"plain", New(Timeout, "waited 50ms"), "timeout: waited 50ms"},
		{"wrapped", Wrap(IOError, fmt.Errorf("disk full"), "flush failed"), "i/o-error: flush failed: disk full"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.err.Error(); got != tc.want {
				t.Fatalf("Error() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestCodeOf(t *testing.T) {
	err := fmt.Errorf("region: %w", New(BufferFull, "ring saturated"))
	if got := CodeOf(err); got != BufferFull {
		t.Fatalf("CodeOf() = %v, want %v", got, BufferFull)
	}
	if got := CodeOf(errors.New("plain")); got != Unknown {
		t.Fatalf("CodeOf(plain) = %v, want Unknown", got)
	}
}

func TestIsMatchesByCode(t *testing.T) {
	a := New(Timeout, "first wait")
	b := New(Timeout, "second wait")
	if !errors.Is(a, b) {
		t.Fatalf("expected errors with the same code to match via errors.Is")
	}
	c := New(BufferFull, "different code")
	if errors.Is(a, c) {
		t.Fatalf("expected errors with different codes not to match")
	}
}
