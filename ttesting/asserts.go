package ttesting

import (
	"bytes"
	"testing"
)

func AssertEqualInt(t *testing.T, name string, got, want int) {
	t.Run(name, func(t *testing.T) {
		if got != want {
			t.Errorf("got %d; want %d", got, want)
		}
	})
}

func AssertEqualUint32(t *testing.T, name string, got, want uint32) {
	t.Run(name, func(t *testing.T) {
		if got != want {
			t.Errorf("got %d; want %d", got, want)
		}
	})
}

func AssertEqualStr(t *testing.T, name string, got, want string) {
	t.Run(name, func(t *testing.T) {
		if got != want {
			t.Errorf("got %q; want %q", got, want)
		}
	})
}

func AssertEqualBytes(t *testing.T, name string, got, want []byte) {
	t.Run(name, func(t *testing.T) {
		if !bytes.Equal(got, want) {
			t.Errorf("got % x; want % x", got, want)
		}
	})
}

func AssertNoError(t *testing.T, name string, err error) {
	t.Run(name, func(t *testing.T) {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}
