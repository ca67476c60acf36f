package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusRetrying  TaskStatus = "retrying"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

func (s TaskStatus) String() string {
	return string(s)
}

// Terminal reports whether no further transition can occur.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// Waiting reports whether the task is eligible for (re-)dispatch.
// Retrying is a pending task with a not-before time attached.
func (s TaskStatus) Waiting() bool {
	return s == TaskStatusPending || s == TaskStatusRetrying
}

// TrimRange selects a sub-interval [Start, End) of the source media, in
// seconds. End == 0 means "until the end of the media".
type TrimRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Inverted reports whether the range ends before it starts.
func (r TrimRange) Inverted() bool {
	return r.End > 0 && r.End <= r.Start
}

// Duration returns the selected length in seconds, or 0 when open-ended.
func (r TrimRange) Duration() float64 {
	if r.End <= 0 {
		return 0
	}
	return r.End - r.Start
}

// ParseTimestamp converts "HH:MM:SS", "MM:SS" or plain seconds to seconds.
func ParseTimestamp(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("invalid timestamp %q", s)
	}
	var total float64
	for _, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("invalid timestamp %q", s)
		}
		total = total*60 + v
	}
	return total, nil
}

// DownloadOptions carries the user-selected knobs for one task. All fields
// are optional; zero values fall back to configured defaults.
type DownloadOptions struct {
	// Format is a yt-dlp format selector, e.g. "bestvideo+bestaudio/best".
	Format string `json:"format,omitempty"`
	// Container for merged video output ("mp4", "mkv").
	Container string `json:"container,omitempty"`

	AudioOnly    bool   `json:"audio_only,omitempty"`
	AudioFormat  string `json:"audio_format,omitempty"`  // "mp3", "m4a"
	AudioBitrate string `json:"audio_bitrate,omitempty"` // "192"

	OutputDir string `json:"output_dir,omitempty"`
	// Subfolder under OutputDir, set when a playlist is expanded.
	Subfolder string `json:"subfolder,omitempty"`

	EmbedThumbnail bool `json:"embed_thumbnail,omitempty"`
	EmbedMetadata  bool `json:"embed_metadata,omitempty"`

	SpeedLimit string `json:"speed_limit,omitempty"` // yt-dlp rate, e.g. "5M"
	Proxy      string `json:"proxy,omitempty"`

	Subtitles     bool   `json:"subtitles,omitempty"`
	SubtitleLangs string `json:"subtitle_langs,omitempty"`

	Trim *TrimRange `json:"trim,omitempty"`

	// ExtraFFmpegArgs is appended to post-processing ffmpeg invocations,
	// split with shlex, never through a shell.
	ExtraFFmpegArgs string `json:"extra_ffmpeg_args,omitempty"`

	// NotBefore delays the first dispatch (scheduled download).
	NotBefore *time.Time `json:"not_before,omitempty"`
}

// Task represents one user-requested download/convert operation.
type Task struct {
	ID      int64
	URL     string
	Options DownloadOptions

	Status   TaskStatus
	Progress int   // 0..100
	Speed    int64 // bytes/s
	ETASec   int   // -1 when unknown

	DownloadedBytes int64
	TotalBytes      int64

	Title           string
	Channel         string
	DurationSeconds float64

	StagingDir string
	OutputPath string

	Attempts    int
	NextRetryAt *time.Time

	ErrorMessage string
	Warning      string // best-effort step failures, e.g. metadata embed

	CreatedAt  time.Time
	UpdatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// HistoryEntry records one completed download.
type HistoryEntry struct {
	ID         int64
	Title      string
	URL        string
	OutputPath string
	CreatedAt  time.Time
}
