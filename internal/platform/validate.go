package platform

import (
	"regexp"
	"strings"
)

var (
	ytVideoRegex = regexp.MustCompile(
		`(https?://)?(www\.)?(youtube|youtu|youtube-nocookie)\.(com|be)/(watch\?v=|embed/|v/|.+\?v=)?([^&=%?]{11})`)
	ytPlaylistRegex = regexp.MustCompile(
		`(https?://)?(www\.)?(youtube|youtu|youtube-nocookie)\.(com|be)/playlist\?list=([^&=%?]+)`)
)

// IsValidURL checks that s looks like an http(s) URL.
func IsValidURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// IsYouTubeURL reports whether s matches a YouTube video URL.
func IsYouTubeURL(s string) bool {
	return ytVideoRegex.MatchString(s)
}

// IsPlaylistURL reports whether s is a YouTube playlist URL.
func IsPlaylistURL(s string) bool {
	return ytPlaylistRegex.MatchString(s)
}
