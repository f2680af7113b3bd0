package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainErrorFormat(t *testing.T) {
	err := NewDomainError("Registry.SetPWM", ErrUnsupportedCapability, "GPIO4 does not support PWM")
	want := "Registry.SetPWM: GPIO4 does not support PWM: unsupported capability"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorFormatNoDetail(t *testing.T) {
	err := NewDomainError("Syncer.Sync", ErrTimeSyncFailed, "")
	want := "Syncer.Sync: time sync failed"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorUnwrap(t *testing.T) {
	err := NewDomainError("Registry.Level", ErrUnknownPin, "GPIO99")
	if !errors.Is(err, ErrUnknownPin) {
		t.Error("errors.Is should match ErrUnknownPin")
	}
}

func TestDetailOf(t *testing.T) {
	wrapped := fmt.Errorf("router: %w", NewDomainError("Engine.Schedule", ErrValidation, "Timing must be greater than 0"))
	assert.Equal(t, "Timing must be greater than 0", DetailOf(wrapped))
	assert.Equal(t, "boom", DetailOf(errors.New("boom")))
	assert.Equal(t, "", DetailOf(nil))
}

func TestErrorCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, CodeUnknown},
		{"direct sentinel", ErrValidation, CodeValidation},
		{"domain error", NewDomainError("op", ErrUnknownPin, "GPIO7"), CodeUnknownPin},
		{"wrapped domain error", WrapOp("router", NewDomainError("op", ErrUnsupportedCapability, "")), CodeUnsupportedCapability},
		{"wrapped sentinel", fmt.Errorf("outer: %w", ErrDriver), CodeDriver},
		{"unrelated", errors.New("plain"), CodeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCodeOf(tt.err))
		})
	}
}

func TestErrorCodeOf_ValidationWinsOverDriver(t *testing.T) {
	err := NewDomainError("op", fmt.Errorf("%w: %w", ErrValidation, ErrDriver), "")
	assert.Equal(t, CodeValidation, ErrorCodeOf(err))
}

func TestDomainErrorCode(t *testing.T) {
	de := NewDomainError("op", ErrConnectivityTimeout, "")
	require.Equal(t, CodeConnectivityTimeout, de.Code())
}

func TestWrapOpNil(t *testing.T) {
	assert.NoError(t, WrapOp("op", nil))
}

func TestLevelInvert(t *testing.T) {
	assert.Equal(t, High, Low.Invert())
	assert.Equal(t, Low, High.Invert())
	assert.False(t, Level(2).Valid())
}

func TestFormatWallClock(t *testing.T) {
	assert.Equal(t, "2023-11-14 22:13:20", FormatWallClock(time.Unix(1700000000, 0)))
}
