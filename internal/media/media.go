// Package media wraps the external download library (yt-dlp via go-ytdlp)
// and the ffmpeg/ffprobe executables behind small interfaces so the queue
// can be exercised against fakes.
package media

import "context"

// Format describes one downloadable stream variant of a source.
type Format struct {
	ID         string  `json:"format_id"`
	Ext        string  `json:"ext"`
	Resolution string  `json:"resolution"`
	FPS        float64 `json:"fps,omitempty"`
	VCodec     string  `json:"vcodec,omitempty"`
	ACodec     string  `json:"acodec,omitempty"`
	Filesize   int64   `json:"filesize,omitempty"`
	Note       string  `json:"note,omitempty"`
}

// Entry is a playlist member or a search hit.
type Entry struct {
	URL             string  `json:"url"`
	Title           string  `json:"title"`
	Channel         string  `json:"channel,omitempty"`
	DurationSeconds float64 `json:"duration,omitempty"`
	Thumbnail       string  `json:"thumbnail,omitempty"`
	ViewCount       int64   `json:"view_count,omitempty"`
}

// Info is resolved source metadata, fetched without downloading.
type Info struct {
	URL             string   `json:"url"`
	Title           string   `json:"title"`
	Channel         string   `json:"channel"`
	DurationSeconds float64  `json:"duration"`
	Thumbnail       string   `json:"thumbnail,omitempty"`
	Formats         []Format `json:"formats,omitempty"`
	IsPlaylist      bool     `json:"is_playlist"`
	PlaylistTitle   string   `json:"playlist_title,omitempty"`
	Entries         []Entry  `json:"entries,omitempty"`
}

// Progress is a fetch progress sample.
type Progress struct {
	Percent    float64
	Speed      int64 // bytes/s
	ETASeconds int
	Downloaded int64
	Total      int64
}

// FetchRequest asks for one stream of URL to be downloaded into Dir under
// OutputName (a yt-dlp template without directory, e.g. "video.%(ext)s").
type FetchRequest struct {
	URL        string
	Dir        string
	OutputName string
	Format     string // yt-dlp format selector

	SpeedLimit     string
	Proxy          string
	Subtitles      bool
	SubtitleLangs  string
	WriteThumbnail bool
}

// Resolver fetches source metadata without downloading.
type Resolver interface {
	Resolve(ctx context.Context, url string) (*Info, error)
	Search(ctx context.Context, query string, limit int) ([]Entry, error)
}

// Fetcher downloads one stream, reporting progress through onProgress.
// It returns the path of the downloaded media file.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest, onProgress func(Progress)) (string, error)
}

// Metadata is embedded into outputs as a best-effort step.
type Metadata struct {
	Title   string
	Artist  string
	Comment string // source URL
}

// Processor runs ffmpeg/ffprobe post-processing steps.
type Processor interface {
	// Available returns an error when the ffmpeg binary cannot be found.
	Available() error
	// ProbeDuration returns the media duration in seconds.
	ProbeDuration(ctx context.Context, path string) (float64, error)
	// Trim extracts [start, end) seconds of input into output. end == 0
	// keeps everything from start to the end of the media.
	Trim(ctx context.Context, input, output string, start, end float64, extraArgs []string) error
	// Merge muxes a video and an audio stream into output.
	Merge(ctx context.Context, video, audio, output string, extraArgs []string) error
	// Transcode converts input to the codec implied by output's extension.
	Transcode(ctx context.Context, input, output, bitrate string, extraArgs []string) error
	// EmbedMetadata rewrites path in place with container-level metadata.
	EmbedMetadata(ctx context.Context, path string, meta Metadata) error
}

// Tagger writes tags into audio files.
type Tagger interface {
	Tag(path string, meta Metadata, artwork []byte) error
}
