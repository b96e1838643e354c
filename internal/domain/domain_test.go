package domain

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_IsMatchesKindSentinel(t *testing.T) {
	err := Conflict("qr %s already used", "abc")
	wrapped := fmt.Errorf("submit: %w", err)

	assert.True(t, errors.Is(wrapped, ErrConflict))
	assert.False(t, errors.Is(wrapped, ErrNotFound))
	assert.Equal(t, KindConflict, KindOf(wrapped))
	assert.Equal(t, "qr abc already used", err.Error())
}

func TestKindOf_PlainError(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, KindInternal, KindOf(nil))
}

func TestError_WrapsCause(t *testing.T) {
	cause := errors.New("driver failure")
	err := &Error{Kind: KindConflict, Message: "duplicate", Err: cause}
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "duplicate: driver failure", err.Error())
}

func TestParseIdentifier(t *testing.T) {
	id, err := ParseIdentifier("42")
	require.NoError(t, err)
	assert.True(t, id.IsNumeric())
	assert.Equal(t, int64(42), id.ID())

	key, err := ParseIdentifier("a1b2c3d4e5f60708")
	require.NoError(t, err)
	assert.False(t, key.IsNumeric())
	assert.Equal(t, "a1b2c3d4e5f60708", key.Key())

	_, err = ParseIdentifier("  ")
	assert.True(t, errors.Is(err, ErrInvalidInput))

	_, err = ParseIdentifier("0")
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestGPSValidate(t *testing.T) {
	cases := []struct {
		name string
		gps  GPS
		ok   bool
	}{
		{"origin", GPS{0, 0}, true},
		{"bounds", GPS{90, -180}, true},
		{"lat too high", GPS{90.01, 0}, false},
		{"lon too low", GPS{0, -180.5}, false},
		{"nan", GPS{math.NaN(), 0}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.gps.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, ErrInvalidInput))
			}
		})
	}
}

func TestDefaultStatusesUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, s := range DefaultStatuses() {
		k := string(s.EntityType) + "/" + s.Key
		assert.False(t, seen[k], k)
		seen[k] = true
	}
	assert.Len(t, seen, 14)
}
