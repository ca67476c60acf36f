// Package playlist expands a playlist URL into individual download tasks.
package playlist

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"clipsync/internal/domain"
	"clipsync/internal/media"
	"clipsync/internal/platform"
	"clipsync/internal/service"
)

// resolveLimit bounds concurrent per-entry metadata lookups during
// expansion. Flat playlist listings often omit duration and channel.
const resolveLimit = 4

type Expander struct {
	resolver media.Resolver
	tasks    service.TaskService
	logger   *logrus.Logger
}

func NewExpander(resolver media.Resolver, tasks service.TaskService, logger *logrus.Logger) *Expander {
	return &Expander{resolver: resolver, tasks: tasks, logger: logger}
}

// Expand resolves url as a playlist and creates one task per entry, in
// playlist order, all sharing a subfolder named after the playlist. Entry
// options are copied from opts.
func (e *Expander) Expand(ctx context.Context, url string, opts domain.DownloadOptions, stagingRoot string) ([]*domain.Task, error) {
	info, err := e.resolver.Resolve(ctx, url)
	if err != nil {
		return nil, domain.ResolutionError(err)
	}
	if !info.IsPlaylist {
		return nil, domain.InvalidRequestError("URL is not a playlist")
	}
	if len(info.Entries) == 0 {
		return nil, domain.ResolutionError(fmt.Errorf("playlist %q has no entries", info.PlaylistTitle))
	}

	entries := e.enrich(ctx, info.Entries)

	if opts.Subfolder == "" && info.PlaylistTitle != "" {
		opts.Subfolder = platform.SanitizeFilename(info.PlaylistTitle)
	}

	tasks := make([]*domain.Task, 0, len(entries))
	for _, entry := range entries {
		task, err := e.tasks.CreateTask(ctx, entry.URL, opts, stagingRoot)
		if err != nil {
			return tasks, fmt.Errorf("create task for %s: %w", entry.URL, err)
		}
		task.Title = entry.Title
		tasks = append(tasks, task)
	}
	e.logger.Infof("expanded playlist %q into %d tasks", info.PlaylistTitle, len(tasks))
	return tasks, nil
}

// enrich fills in titles missing from the flat listing. Lookups run
// concurrently but the playlist order is preserved; failures leave the
// entry as-is since the worker resolves again before fetching.
func (e *Expander) enrich(ctx context.Context, entries []media.Entry) []media.Entry {
	out := make([]media.Entry, len(entries))
	copy(out, entries)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(resolveLimit)

	for i := range out {
		if out[i].Title != "" {
			continue
		}
		i := i
		g.Go(func() error {
			info, err := e.resolver.Resolve(gctx, out[i].URL)
			if err != nil {
				e.logger.Debugf("resolve playlist entry %s: %v", out[i].URL, err)
				return nil
			}
			mu.Lock()
			out[i].Title = info.Title
			out[i].Channel = info.Channel
			out[i].DurationSeconds = info.DurationSeconds
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}
