package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	fetchErr := FetchError(errors.New("timeout"))
	assert.Equal(t, ClassFetch, ClassOf(fetchErr))
	assert.True(t, Retryable(fetchErr))

	for _, err := range []error{
		InvalidRequestError("bad input"),
		ResolutionError(errors.New("gone")),
		TrimError(errors.New("bounds")),
		MergeError(errors.New("no ffmpeg"), "hint"),
		MetadataEmbedError(errors.New("tag")),
	} {
		assert.False(t, Retryable(err), "%v", err)
	}

	assert.Equal(t, ClassUnknown, ClassOf(errors.New("plain")))
	assert.False(t, Retryable(errors.New("plain")))
}

func TestErrorClassSurvivesWrapping(t *testing.T) {
	wrapped := fmt.Errorf("attempt 2: %w", FetchError(errors.New("reset")))
	assert.Equal(t, ClassFetch, ClassOf(wrapped))
	assert.True(t, Retryable(wrapped))
}

func TestTaskErrorUnwrap(t *testing.T) {
	inner := errors.New("root cause")
	err := MergeError(inner, "install ffmpeg")
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "merge")
	assert.Contains(t, err.Error(), "root cause")
}
