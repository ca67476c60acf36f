package downloader

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"clipsync/internal/domain"
)

func TestRetryPolicyDecide(t *testing.T) {
	policy := NewRetryPolicy(3, 2*time.Second)
	fetchErr := domain.FetchError(errors.New("connection reset"))

	t.Run("fetch errors back off exponentially", func(t *testing.T) {
		retry, delay := policy.Decide(1, fetchErr)
		assert.True(t, retry)
		assert.Equal(t, 2*time.Second, delay)

		retry, delay = policy.Decide(2, fetchErr)
		assert.True(t, retry)
		assert.Equal(t, 4*time.Second, delay)
	})

	t.Run("attempts are capped", func(t *testing.T) {
		retry, _ := policy.Decide(3, fetchErr)
		assert.False(t, retry)
	})

	t.Run("non-fetch classes never retry", func(t *testing.T) {
		for _, err := range []error{
			domain.ResolutionError(errors.New("video unavailable")),
			domain.TrimError(errors.New("start past end")),
			domain.MergeError(errors.New("ffmpeg missing"), ""),
			errors.New("plain error"),
		} {
			retry, _ := policy.Decide(1, err)
			assert.False(t, retry, "error %v must not be retried", err)
		}
	})
}

func TestRetryPolicyDefaults(t *testing.T) {
	policy := NewRetryPolicy(0, 0)
	assert.Equal(t, defaultMaxAttempts, policy.MaxAttempts)
	assert.Equal(t, defaultBaseDelay, policy.BaseDelay)
}
