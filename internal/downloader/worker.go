package downloader

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"clipsync/internal/domain"
	"clipsync/internal/media"
	"clipsync/internal/platform"
	"clipsync/internal/service"
)

const (
	defaultVideoFormat = "bestvideo+bestaudio"
	defaultAudioFormat = "bestaudio/best"
	defaultContainer   = "mp4"

	ffmpegHint = "install ffmpeg and ensure it is in PATH"
)

// worker runs a single attempt of one task through the full pipeline:
// resolve, fetch, trim, merge/transcode, embed metadata, move to output.
// Cancellation is checked between steps; in-flight subprocesses are killed
// through the context.
type worker struct {
	cfg      Config
	tasks    service.TaskService
	resolver media.Resolver
	fetcher  media.Fetcher
	proc     media.Processor
	tagger   media.Tagger
	reporter *Reporter
	logger   *logrus.Entry

	lastPersist time.Time
}

func (w *worker) run(ctx context.Context, task *domain.Task) (outputPath, warning string, err error) {
	opts := task.Options

	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	if err := platform.EnsureDir(task.StagingDir); err != nil {
		return "", "", fmt.Errorf("create staging dir: %w", err)
	}
	if w.cfg.MinFreeDisk > 0 {
		if err := platform.CheckDiskSpace(w.cfg.StagingRoot, w.cfg.MinFreeDisk); err != nil {
			return "", "", err
		}
	}

	info, err := w.resolve(ctx, task)
	if err != nil {
		return "", "", err
	}

	if err := validateTrim(opts.Trim, info.DurationSeconds); err != nil {
		return "", "", err
	}

	extraArgs, err := media.SplitExtraArgs(opts.ExtraFFmpegArgs)
	if err != nil {
		return "", "", domain.InvalidRequestError("extra ffmpeg args: %v", err)
	}

	files, err := w.fetch(ctx, task)
	if err != nil {
		return "", "", err
	}
	if err := ctx.Err(); err != nil {
		return "", "", err
	}

	final, err := w.process(ctx, task, files, extraArgs)
	if err != nil {
		return "", "", err
	}
	if err := ctx.Err(); err != nil {
		return "", "", err
	}

	warning = w.embedMetadata(ctx, task, final)

	dest, err := w.moveToOutput(task, final, info.Title)
	if err != nil {
		return "", "", err
	}

	if err := os.RemoveAll(task.StagingDir); err != nil && !os.IsNotExist(err) {
		w.logger.Warnf("remove staging dir: %v", err)
	}
	return dest, warning, nil
}

// resolve fetches source metadata and persists title/channel/duration so
// the queue shows them before any bytes arrive.
func (w *worker) resolve(ctx context.Context, task *domain.Task) (*media.Info, error) {
	info, err := w.resolver.Resolve(ctx, task.URL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.ResolutionError(err)
	}
	if info.IsPlaylist {
		return nil, domain.ResolutionError(fmt.Errorf("URL is a playlist, expand it into individual tasks first"))
	}

	task.Title = info.Title
	task.Channel = info.Channel
	task.DurationSeconds = info.DurationSeconds
	if err := w.tasks.UpdateMediaInfo(context.Background(), task.ID, info.Title, info.Channel, info.DurationSeconds); err != nil {
		w.logger.Warnf("persist media info: %v", err)
	}
	w.reporter.TaskChanged(task)
	return info, nil
}

func validateTrim(trim *domain.TrimRange, duration float64) error {
	if trim == nil || duration <= 0 {
		return nil
	}
	if trim.Start >= duration {
		return domain.TrimError(fmt.Errorf("trim start %.1fs is past the media duration %.1fs", trim.Start, duration))
	}
	if trim.End > duration {
		return domain.TrimError(fmt.Errorf("trim end %.1fs is past the media duration %.1fs", trim.End, duration))
	}
	return nil
}

// fetch downloads the streams the task needs into its staging dir. A
// combined selector like "bestvideo+bestaudio" becomes two fetches whose
// results are merged later; anything else is a single fetch.
func (w *worker) fetch(ctx context.Context, task *domain.Task) ([]string, error) {
	opts := task.Options

	if opts.AudioOnly {
		selector := opts.Format
		if selector == "" {
			selector = defaultAudioFormat
		}
		path, err := w.fetchOne(ctx, task, selector, "media.%(ext)s", true, 0, 1)
		if err != nil {
			return nil, err
		}
		return []string{path}, nil
	}

	selector := opts.Format
	if selector == "" {
		selector = defaultVideoFormat
	}
	parts := strings.SplitN(selector, "+", 2)
	if len(parts) == 1 {
		path, err := w.fetchOne(ctx, task, selector, "media.%(ext)s", true, 0, 1)
		if err != nil {
			return nil, err
		}
		return []string{path}, nil
	}

	video, err := w.fetchOne(ctx, task, parts[0], "video.%(ext)s", true, 0, 2)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	audio, err := w.fetchOne(ctx, task, parts[1], "audio.%(ext)s", false, 1, 2)
	if err != nil {
		return nil, err
	}
	return []string{video, audio}, nil
}

// fetchOne downloads one stream, scaling progress to the phase slice so a
// two-stream fetch still reads 0..100 overall.
func (w *worker) fetchOne(ctx context.Context, task *domain.Task, format, outputName string, primary bool, phase, phases int) (string, error) {
	opts := task.Options
	req := media.FetchRequest{
		URL:        task.URL,
		Dir:        task.StagingDir,
		OutputName: outputName,
		Format:     format,
		SpeedLimit: opts.SpeedLimit,
		Proxy:      opts.Proxy,
	}
	if primary {
		req.Subtitles = opts.Subtitles
		req.SubtitleLangs = opts.SubtitleLangs
		req.WriteThumbnail = opts.EmbedThumbnail
	}

	path, err := w.fetcher.Fetch(ctx, req, func(p media.Progress) {
		p.Percent = (float64(phase)*100 + p.Percent) / float64(phases)
		w.onProgress(task, p)
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", domain.FetchError(err)
	}
	return path, nil
}

// onProgress forwards every sample to the reporter and persists a snapshot
// at most once per PersistInterval.
func (w *worker) onProgress(task *domain.Task, p media.Progress) {
	w.reporter.Progress(task.ID, p)

	now := time.Now()
	if now.Sub(w.lastPersist) < w.cfg.PersistInterval {
		return
	}
	w.lastPersist = now
	err := w.tasks.UpdateProgress(context.Background(), task.ID,
		int(p.Percent), p.Speed, p.Downloaded, p.Total, p.ETASeconds)
	if err != nil {
		w.logger.Warnf("persist progress: %v", err)
	}
}

// process applies trim/merge/transcode and returns the finished file inside
// the staging dir.
func (w *worker) process(ctx context.Context, task *domain.Task, files []string, extraArgs []string) (string, error) {
	opts := task.Options
	trim := opts.Trim
	needTrim := trim != nil && (trim.Start > 0 || trim.End > 0)
	needMerge := len(files) == 2
	needTranscode := opts.AudioOnly && opts.AudioFormat != "" &&
		!strings.EqualFold(opts.AudioFormat, strings.TrimPrefix(filepath.Ext(files[0]), "."))

	if needTrim || needMerge || needTranscode {
		if err := w.proc.Available(); err != nil {
			return "", domain.MergeError(err, ffmpegHint)
		}
	}

	if needTrim {
		for i, in := range files {
			out := trimmedName(in)
			if err := w.proc.Trim(ctx, in, out, trim.Start, trim.End, extraArgs); err != nil {
				if ctx.Err() != nil {
					return "", ctx.Err()
				}
				return "", domain.TrimError(err)
			}
			files[i] = out
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
	}

	if needMerge {
		container := opts.Container
		if container == "" {
			container = defaultContainer
		}
		merged := filepath.Join(task.StagingDir, "merged."+container)
		if err := w.proc.Merge(ctx, files[0], files[1], merged, extraArgs); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", domain.MergeError(err, "")
		}
		return merged, nil
	}

	if needTranscode {
		out := strings.TrimSuffix(files[0], filepath.Ext(files[0])) + "." + strings.ToLower(opts.AudioFormat)
		if err := w.proc.Transcode(ctx, files[0], out, opts.AudioBitrate, extraArgs); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", domain.MergeError(err, "")
		}
		return out, nil
	}

	return files[0], nil
}

func trimmedName(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".trimmed" + ext
}

// embedMetadata tags the finished file. Failures never fail the task; the
// message is surfaced as a warning instead.
func (w *worker) embedMetadata(ctx context.Context, task *domain.Task, path string) string {
	opts := task.Options
	if !opts.EmbedMetadata && !opts.EmbedThumbnail {
		return ""
	}

	meta := media.Metadata{
		Title:   task.Title,
		Artist:  task.Channel,
		Comment: task.URL,
	}

	var err error
	if strings.EqualFold(filepath.Ext(path), ".mp3") {
		var artwork []byte
		if opts.EmbedThumbnail {
			artwork = w.readThumbnail(task.StagingDir)
		}
		err = w.tagger.Tag(path, meta, artwork)
	} else if opts.EmbedMetadata {
		err = w.proc.EmbedMetadata(ctx, path, meta)
	}
	if err != nil {
		w.logger.Warnf("embed metadata: %v", err)
		return fmt.Sprintf("metadata embedding failed: %v", err)
	}
	return ""
}

// readThumbnail returns the thumbnail yt-dlp wrote next to the media, if
// it is in a format id3v2 accepts.
func (w *worker) readThumbnail(dir string) []byte {
	for _, pattern := range []string{"*.jpg", "*.jpeg", "*.png"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil || len(matches) == 0 {
			continue
		}
		data, err := os.ReadFile(matches[0])
		if err == nil {
			return data
		}
	}
	return nil
}

// moveToOutput places the finished file under the output dir with a
// sanitized, collision-free name.
func (w *worker) moveToOutput(task *domain.Task, src, title string) (string, error) {
	opts := task.Options
	dir := opts.OutputDir
	if dir == "" {
		dir = w.cfg.OutputDir
	}
	if opts.Subfolder != "" {
		dir = filepath.Join(dir, platform.SanitizeFilename(opts.Subfolder))
	}
	if err := platform.EnsureDir(dir); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	base := platform.SanitizeFilename(title)
	dest := platform.UniquePath(dir, base, filepath.Ext(src))
	if err := moveFile(src, dest); err != nil {
		return "", fmt.Errorf("move output: %w", err)
	}
	if opts.Subtitles {
		w.moveSubtitles(task.StagingDir, dir, strings.TrimSuffix(filepath.Base(dest), filepath.Ext(dest)))
	}
	return dest, nil
}

// moveSubtitles places downloaded subtitle files next to the output, keeping
// their language suffix ("media.en.srt" becomes "<base>.en.srt").
func (w *worker) moveSubtitles(stagingDir, outDir, base string) {
	for _, pattern := range []string{"*.srt", "*.vtt"} {
		matches, err := filepath.Glob(filepath.Join(stagingDir, pattern))
		if err != nil {
			continue
		}
		for _, m := range matches {
			name := filepath.Base(m)
			suffix := name
			if i := strings.Index(name, "."); i >= 0 {
				suffix = name[i:]
			}
			if err := moveFile(m, filepath.Join(outDir, base+suffix)); err != nil {
				w.logger.Warnf("move subtitle %s: %v", name, err)
			}
		}
	}
}

// moveFile renames, falling back to copy+remove across filesystems.
func moveFile(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dest)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
