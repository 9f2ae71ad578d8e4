package objstore

import (
	"errors"
	"testing"
)

func TestValidRef(t *testing.T) {
	for _, test := range []struct {
		ref string
		err error
	}{
		{"out/results/W/result", nil},
		{"a", nil},
		{"", ErrEmptyRef},
		{"/abs", ErrInvalidRef},
		{"a//b", ErrInvalidRef},
		{"a/../b", ErrInvalidRef},
		{"a/", ErrInvalidRef},
	} {
		if err := ValidRef(test.ref); !errors.Is(err, test.err) {
			t.Errorf("%q: have: %v, want: %v", test.ref, err, test.err)
		}
	}
}
