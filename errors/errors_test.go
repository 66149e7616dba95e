package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassString(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(99).String())
}

func TestWrapPattern(t *testing.T) {
	err := Wrap(ErrDecode, "Codec", "Decode", "frame parsing")
	require.Error(t, err)
	assert.Equal(t, "Codec.Decode: frame parsing failed: packet decode failed", err.Error())
	assert.True(t, Is(err, ErrDecode))

	assert.NoError(t, Wrap(nil, "Codec", "Decode", "frame parsing"))
}

func TestClassifiedWrappers(t *testing.T) {
	tests := []struct {
		name  string
		wrap  func(error, string, string, string) error
		class ErrorClass
	}{
		{"transient", WrapTransient, ErrorTransient},
		{"invalid", WrapInvalid, ErrorInvalid},
		{"fatal", WrapFatal, ErrorFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.wrap(fmt.Errorf("boom"), "Session", "Establish", "handshake")
			require.Error(t, err)

			var ce *ClassifiedError
			require.True(t, As(err, &ce))
			assert.Equal(t, tt.class, ce.Class)
			assert.Equal(t, "Session", ce.Component)
			assert.Equal(t, "Establish", ce.Operation)
			assert.Equal(t, tt.class, Classify(err))
		})
	}
}

func TestClassifyUnwrapped(t *testing.T) {
	assert.Equal(t, ErrorInvalid, Classify(ErrAuth))
	assert.Equal(t, ErrorInvalid, Classify(ErrDecode))
	assert.Equal(t, ErrorFatal, Classify(ErrInvalidConfig))
	assert.Equal(t, ErrorTransient, Classify(ErrConnectionLost))
	assert.Equal(t, ErrorTransient, Classify(fmt.Errorf("some new error")))
}

func TestIsHelpers(t *testing.T) {
	assert.True(t, IsTransient(ErrQueueFull))
	assert.False(t, IsTransient(nil))
	assert.True(t, IsInvalid(fmt.Errorf("wrapped: %w", ErrProtocolViolation)))
	assert.True(t, IsFatal(Wrap(ErrMissingConfig, "Config", "Load", "settings read")))
	assert.False(t, IsFatal(ErrWatchdogTimeout))
}

func TestClassifiedErrorUnwrap(t *testing.T) {
	inner := fmt.Errorf("socket closed: %w", ErrConnectionLost)
	err := WrapTransient(inner, "Transport", "Send", "publish")

	var ce *ClassifiedError
	require.True(t, As(err, &ce))
	assert.Equal(t, inner, ce.Unwrap())
	assert.True(t, Is(err, ErrConnectionLost))
}
