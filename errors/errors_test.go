package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{
			name:     "connection timeout is transient",
			err:      ErrConnectionTimeout,
			expected: ErrorTransient,
		},
		{
			name:     "connection lost is transient",
			err:      ErrConnectionLost,
			expected: ErrorTransient,
		},
		{
			name:     "context deadline is transient",
			err:      context.DeadlineExceeded,
			expected: ErrorTransient,
		},
		{
			name:     "unknown scheme is invalid",
			err:      ErrUnknownScheme,
			expected: ErrorInvalid,
		},
		{
			name:     "deserialisation is invalid",
			err:      ErrDeserialisation,
			expected: ErrorInvalid,
		},
		{
			name:     "invalid config is fatal",
			err:      ErrInvalidConfig,
			expected: ErrorFatal,
		},
		{
			name:     "server busy message is transient",
			err:      stderrors.New("the server is busy"),
			expected: ErrorTransient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.err))
		})
	}
}

func TestWrapPreservesChain(t *testing.T) {
	base := ErrResourceUnavailable
	wrapped := Wrap(base, "SourceManager", "Open", "mount share")

	require.Error(t, wrapped)
	assert.True(t, stderrors.Is(wrapped, ErrResourceUnavailable))
	assert.Contains(t, wrapped.Error(), "SourceManager.Open: mount share failed")
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "a", "b", "c"))
	assert.NoError(t, WrapTransient(nil, "a", "b", "c"))
	assert.NoError(t, WrapInvalid(nil, "a", "b", "c"))
	assert.NoError(t, WrapFatal(nil, "a", "b", "c"))
}

func TestWrapTransientClassification(t *testing.T) {
	err := WrapTransient(fmt.Errorf("boom"), "Stage", "publish", "send message")

	assert.True(t, IsTransient(err))
	assert.False(t, IsFatal(err))

	var ce *ClassifiedError
	require.True(t, stderrors.As(err, &ce))
	assert.Equal(t, ErrorTransient, ce.Class)
	assert.Equal(t, "Stage", ce.Component)
}

func TestWrapFatalOverridesContent(t *testing.T) {
	// A fatal classification wins even when the message looks transient.
	err := WrapFatal(fmt.Errorf("connection handler panicked"), "Stage", "run", "dispatch")

	assert.True(t, IsFatal(err))
	assert.False(t, IsTransient(err))
}

func TestInvalidClassificationDistinguishesModelErrors(t *testing.T) {
	unknown := WrapInvalid(ErrUnknownScheme, "model", "DecodeSource", "lookup type")
	malformed := WrapInvalid(ErrDeserialisation, "model", "DecodeSource", "unmarshal")

	assert.True(t, stderrors.Is(unknown, ErrUnknownScheme))
	assert.False(t, stderrors.Is(unknown, ErrDeserialisation))
	assert.True(t, stderrors.Is(malformed, ErrDeserialisation))
}
