package worker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryWithBackoff(t *testing.T) {
	t.Run("Should succeed on first attempt", func(t *testing.T) {
		attempts := 0
		var slept []time.Duration

		err := retryWithBackoff("thumb", func() error {
			attempts++
			return nil
		}, 3, func(d time.Duration) { slept = append(slept, d) })

		assert.NoError(t, err)
		assert.Equal(t, 1, attempts)
		assert.Empty(t, slept)
	})

	t.Run("Should retry up to maxAttempts times with growing backoff", func(t *testing.T) {
		attempts := 0
		var slept []time.Duration

		err := retryWithBackoff("thumb", func() error {
			attempts++
			return errors.New("temporary error")
		}, 3, func(d time.Duration) { slept = append(slept, d) })

		assert.Error(t, err)
		assert.Equal(t, 3, attempts)
		assert.Contains(t, err.Error(), "failed after 3 attempts")
		assert.Equal(t, []time.Duration{500 * time.Millisecond, 2 * time.Second}, slept)
	})

	t.Run("Should succeed on second attempt", func(t *testing.T) {
		attempts := 0
		err := retryWithBackoff("thumb", func() error {
			attempts++
			if attempts < 2 {
				return errors.New("temporary error")
			}
			return nil
		}, 3, func(time.Duration) {})

		assert.NoError(t, err)
		assert.Equal(t, 2, attempts)
	})

	t.Run("Should keep the last error", func(t *testing.T) {
		sentinel := errors.New("quota")
		err := retryWithBackoff("thumb", func() error { return sentinel }, 2, func(time.Duration) {})
		assert.ErrorIs(t, err, sentinel)
	})
}
