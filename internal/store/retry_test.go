package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryTransientRecovers(t *testing.T) {
	attempts := 0
	err := RetryTransient(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return Transient(errors.New("connection reset"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryTransientGivesUp(t *testing.T) {
	attempts := 0
	err := RetryTransient(context.Background(), func() error {
		attempts++
		return Transient(errors.New("still down"))
	})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, DefaultMaxRetries, attempts)
}

func TestRetryTransientStopsOnPermanentError(t *testing.T) {
	boom := errors.New("boom")
	attempts := 0
	err := RetryTransient(context.Background(), func() error {
		attempts++
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts, "a non-transient error must not be retried")
}

func TestTransientMarking(t *testing.T) {
	assert.Nil(t, Transient(nil))
	assert.False(t, IsTransient(errors.New("plain")))

	wrapped := Transient(errors.New("timeout"))
	assert.True(t, IsTransient(wrapped))
	assert.True(t, IsTransient(errors.Join(errors.New("outer"), wrapped)))
}
