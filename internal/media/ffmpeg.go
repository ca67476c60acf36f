package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/google/shlex"
	"github.com/sirupsen/logrus"
)

// FFmpeg runs the ffmpeg/ffprobe binaries. All invocations go through
// exec.CommandContext, never a shell.
type FFmpeg struct {
	ffmpegBin  string
	ffprobeBin string
	logger     *logrus.Logger
}

func NewFFmpeg(ffmpegBin, ffprobeBin string, logger *logrus.Logger) *FFmpeg {
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}
	if ffprobeBin == "" {
		ffprobeBin = "ffprobe"
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &FFmpeg{ffmpegBin: ffmpegBin, ffprobeBin: ffprobeBin, logger: logger}
}

func (f *FFmpeg) Available() error {
	if _, err := exec.LookPath(f.ffmpegBin); err != nil {
		return fmt.Errorf("ffmpeg binary %q not found in PATH: %w", f.ffmpegBin, err)
	}
	return nil
}

func (f *FFmpeg) ProbeDuration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, f.ffprobeBin,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	duration, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse ffprobe duration: %w", err)
	}
	return duration, nil
}

func (f *FFmpeg) Trim(ctx context.Context, input, output string, start, end float64, extraArgs []string) error {
	args := []string{"-y", "-ss", formatSeconds(start)}
	if end > 0 {
		args = append(args, "-to", formatSeconds(end))
	}
	args = append(args, "-i", input, "-c", "copy")
	args = append(args, extraArgs...)
	args = append(args, output)
	return f.run(ctx, output, args)
}

func (f *FFmpeg) Merge(ctx context.Context, video, audio, output string, extraArgs []string) error {
	args := []string{
		"-y",
		"-i", video,
		"-i", audio,
		"-c", "copy",
		"-map", "0:v:0",
		"-map", "1:a:0",
	}
	args = append(args, extraArgs...)
	args = append(args, output)
	return f.run(ctx, output, args)
}

func (f *FFmpeg) Transcode(ctx context.Context, input, output, bitrate string, extraArgs []string) error {
	args := []string{"-y", "-i", input, "-vn"}
	if bitrate != "" {
		args = append(args, "-b:a", bitrate+"k")
	}
	args = append(args, extraArgs...)
	args = append(args, output)
	return f.run(ctx, output, args)
}

func (f *FFmpeg) EmbedMetadata(ctx context.Context, path string, meta Metadata) error {
	tmp := path + ".meta.tmp" + ext(path)
	args := []string{"-y", "-i", path, "-c", "copy"}
	if meta.Title != "" {
		args = append(args, "-metadata", "title="+meta.Title)
	}
	if meta.Artist != "" {
		args = append(args, "-metadata", "artist="+meta.Artist)
	}
	if meta.Comment != "" {
		args = append(args, "-metadata", "comment="+meta.Comment)
	}
	args = append(args, tmp)
	if err := f.run(ctx, tmp, args); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (f *FFmpeg) run(ctx context.Context, output string, args []string) error {
	cmd := exec.CommandContext(ctx, f.ffmpegBin, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	f.logger.Debugf("executing: %s %s", f.ffmpegBin, strings.Join(args, " "))

	if err := cmd.Run(); err != nil {
		// Never leave a partial output behind.
		os.Remove(output)
		return fmt.Errorf("ffmpeg failed: %w: %s", err, lastLines(buf.String(), 3))
	}
	return nil
}

// SplitExtraArgs parses user-supplied extra ffmpeg arguments without a
// shell, rejecting shell metacharacters outright.
func SplitExtraArgs(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	args, err := shlex.Split(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid ffmpeg args syntax: %w", err)
	}
	for _, arg := range args {
		if strings.ContainsAny(arg, "|&;`$()<>") {
			return nil, fmt.Errorf("disallowed character in ffmpeg argument: %s", arg)
		}
	}
	return args, nil
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func ext(path string) string {
	if i := strings.LastIndex(path, "."); i >= 0 {
		return path[i:]
	}
	return ""
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}
