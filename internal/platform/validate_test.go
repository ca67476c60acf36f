package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidURL(t *testing.T) {
	assert.True(t, IsValidURL("https://example.com/v"))
	assert.True(t, IsValidURL("http://example.com/v"))
	assert.False(t, IsValidURL("ftp://example.com/v"))
	assert.False(t, IsValidURL("not a url"))
	assert.False(t, IsValidURL(""))
}

func TestIsYouTubeURL(t *testing.T) {
	valid := []string{
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		"https://youtu.be/dQw4w9WgXcQ",
		"http://youtube.com/embed/dQw4w9WgXcQ",
		"www.youtube.com/watch?v=dQw4w9WgXcQ",
	}
	for _, u := range valid {
		assert.True(t, IsYouTubeURL(u), "%s", u)
	}

	invalid := []string{
		"https://vimeo.com/123456",
		"https://example.com/watch?v=dQw4w9WgXcQ",
		"",
	}
	for _, u := range invalid {
		assert.False(t, IsYouTubeURL(u), "%s", u)
	}
}

func TestIsPlaylistURL(t *testing.T) {
	assert.True(t, IsPlaylistURL("https://www.youtube.com/playlist?list=PLabc123"))
	assert.False(t, IsPlaylistURL("https://www.youtube.com/watch?v=dQw4w9WgXcQ"))
	assert.False(t, IsPlaylistURL(""))
}
