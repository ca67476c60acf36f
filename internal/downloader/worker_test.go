package downloader

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clipsync/internal/domain"
	"clipsync/internal/media"
)

type failingEmbedProcessor struct {
	fakeProcessor
}

func (failingEmbedProcessor) EmbedMetadata(context.Context, string, media.Metadata) error {
	return errors.New("container does not support metadata")
}

type unavailableProcessor struct {
	fakeProcessor
}

func (unavailableProcessor) Available() error {
	return errors.New(`ffmpeg binary "ffmpeg" not found in PATH`)
}

func newTestWorker(t *testing.T, svc *memService, resolver media.Resolver, fetcher media.Fetcher, proc media.Processor) *worker {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	if resolver == nil {
		resolver = &fakeResolver{}
	}
	if fetcher == nil {
		fetcher = &fakeFetcher{}
	}
	if proc == nil {
		proc = fakeProcessor{}
	}
	return &worker{
		cfg: Config{
			StagingRoot:     t.TempDir(),
			OutputDir:       t.TempDir(),
			PersistInterval: time.Second,
		},
		tasks:    svc,
		resolver: resolver,
		fetcher:  fetcher,
		proc:     proc,
		tagger:   fakeTagger{},
		reporter: NewReporter(nil),
		logger:   logger.WithField("task_id", 0),
	}
}

func newTestTask(t *testing.T, svc *memService, opts domain.DownloadOptions) *domain.Task {
	t.Helper()
	task, err := svc.CreateTask(context.Background(), "https://example.com/v", opts, t.TempDir())
	require.NoError(t, err)
	return task
}

func TestWorkerTrimPastDuration(t *testing.T) {
	svc := newMemService()
	w := newTestWorker(t, svc, nil, nil, nil) // resolver reports 120s

	task := newTestTask(t, svc, domain.DownloadOptions{
		Format: "best",
		Trim:   &domain.TrimRange{Start: 200},
	})

	_, _, err := w.run(context.Background(), task)
	require.Error(t, err)
	assert.Equal(t, domain.ClassTrim, domain.ClassOf(err))
}

func TestWorkerRejectsPlaylistURL(t *testing.T) {
	svc := newMemService()
	resolver := &fakeResolver{
		resolveFunc: func(context.Context, string) (*media.Info, error) {
			return &media.Info{IsPlaylist: true, PlaylistTitle: "Mix"}, nil
		},
	}
	w := newTestWorker(t, svc, resolver, nil, nil)
	task := newTestTask(t, svc, domain.DownloadOptions{Format: "best"})

	_, _, err := w.run(context.Background(), task)
	require.Error(t, err)
	assert.Equal(t, domain.ClassResolution, domain.ClassOf(err))
}

func TestWorkerRejectsShellMetacharsInExtraArgs(t *testing.T) {
	svc := newMemService()
	w := newTestWorker(t, svc, nil, nil, nil)
	task := newTestTask(t, svc, domain.DownloadOptions{
		Format:          "best",
		ExtraFFmpegArgs: "-vf scale=320:240; rm -rf /",
	})

	_, _, err := w.run(context.Background(), task)
	require.Error(t, err)
	assert.Equal(t, domain.ClassInvalidRequest, domain.ClassOf(err))
}

func TestWorkerMissingFFmpegIsMergeClass(t *testing.T) {
	svc := newMemService()
	w := newTestWorker(t, svc, nil, nil, unavailableProcessor{})
	// combined selector forces the merge path
	task := newTestTask(t, svc, domain.DownloadOptions{})

	_, _, err := w.run(context.Background(), task)
	require.Error(t, err)
	assert.Equal(t, domain.ClassMerge, domain.ClassOf(err))
	assert.False(t, domain.Retryable(err), "a missing tool does not fix itself")
}

func TestWorkerMetadataFailureIsWarningOnly(t *testing.T) {
	svc := newMemService()
	w := newTestWorker(t, svc, nil, nil, failingEmbedProcessor{})
	task := newTestTask(t, svc, domain.DownloadOptions{
		Format:        "best",
		EmbedMetadata: true,
	})

	output, warning, err := w.run(context.Background(), task)
	require.NoError(t, err, "metadata embedding must never fail the task")
	assert.NotEmpty(t, output)
	assert.Contains(t, warning, "metadata embedding failed")
}

func TestWorkerUsesTitleForOutputName(t *testing.T) {
	svc := newMemService()
	resolver := &fakeResolver{
		resolveFunc: func(ctx context.Context, url string) (*media.Info, error) {
			return &media.Info{Title: `A / B: "C"`, DurationSeconds: 60}, nil
		},
	}
	w := newTestWorker(t, svc, resolver, nil, nil)
	task := newTestTask(t, svc, domain.DownloadOptions{Format: "best"})

	output, _, err := w.run(context.Background(), task)
	require.NoError(t, err)
	assert.Contains(t, output, "A  B C")
	assert.FileExists(t, output)
	assert.NoDirExists(t, task.StagingDir)
}

func TestWorkerCancelledBetweenSteps(t *testing.T) {
	svc := newMemService()
	ctx, cancel := context.WithCancel(context.Background())
	resolver := &fakeResolver{
		resolveFunc: func(context.Context, string) (*media.Info, error) {
			cancel() // cancelled right after resolve succeeds
			return &media.Info{Title: "V", DurationSeconds: 60}, nil
		},
	}
	w := newTestWorker(t, svc, resolver, nil, nil)
	task := newTestTask(t, svc, domain.DownloadOptions{Format: "best"})

	_, _, err := w.run(ctx, task)
	assert.ErrorIs(t, err, context.Canceled)
}
