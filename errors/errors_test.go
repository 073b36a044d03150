package errors

import (
	"context"
	"fmt"
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			assert.Equal(t, test.expected, test.class.String())
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection timeout", ErrConnectionTimeout, true},
		{"connection lost", ErrConnectionLost, true},
		{"operation in progress", ErrOperationInProgress, true},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"invalid data", ErrInvalidData, false},
		{"signal address", ErrInvalidSignalAddress, false},
		{"channel not ready", fmt.Errorf("send: %w", ErrChannelNotReady), true},
		{"socket deadline", &net.OpError{Op: "read", Net: "udp", Err: os.ErrDeadlineExceeded}, true},
		{"refused in message", fmt.Errorf("dial tcp: connection refused"), true},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, IsTransient(test.err))
		})
	}
}

func TestIsInvalid(t *testing.T) {
	assert.True(t, IsInvalid(ErrInvalidSignalAddress))
	assert.True(t, IsInvalid(fmt.Errorf("wrapped: %w", ErrChecksumFailed)))
	assert.True(t, IsInvalid(WrapInvalid(fmt.Errorf("bad"), "Parser", "Write", "decode")))
	assert.True(t, IsInvalid(fmt.Errorf("device 7: %w", ErrAmbiguousDevice)))
	assert.False(t, IsInvalid(ErrConnectionLost))
	assert.False(t, IsInvalid(nil))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(ErrInvalidConfig))
	assert.True(t, IsFatal(WrapFatal(fmt.Errorf("boom"), "Server", "Start", "listen")))
	assert.False(t, IsFatal(ErrInvalidData))
}

func TestClassify_PrefersExplicitClass(t *testing.T) {
	// The message mentions a connection but the explicit class wins
	err := WrapInvalid(fmt.Errorf("connection string malformed"), "transport", "ParseConnectionString", "parse")
	assert.Equal(t, ErrorInvalid, Classify(err))
	assert.Equal(t, ErrorFatal, Classify(ErrMissingConfig))
	assert.Equal(t, ErrorTransient, Classify(fmt.Errorf("something odd")))
}

func TestWrap_Format(t *testing.T) {
	base := fmt.Errorf("root cause")
	err := Wrap(base, "Mapper", "LoadDevices", "device registration")

	assert.Equal(t, "Mapper.LoadDevices: device registration failed: root cause", err.Error())
	assert.True(t, Is(err, base))
	assert.Nil(t, Wrap(nil, "a", "b", "c"))
}

func TestWrapClassified_KeepsChain(t *testing.T) {
	err := WrapInvalid(ErrDuplicateQualityFlags, "Concentrator", "buildCrossReference", "quality flags")

	var ce *ClassifiedError
	require.True(t, As(err, &ce))
	assert.Equal(t, ErrorInvalid, ce.Class)
	assert.Equal(t, "Concentrator", ce.Component)
	assert.Equal(t, "buildCrossReference", ce.Operation)
	assert.True(t, Is(err, ErrDuplicateQualityFlags))
}
