// Package watch runs the long-lived parts of taskgrid: a manifest watcher
// that imports new task definitions as the file changes, and a cron-driven
// reporter that refreshes sprint and swarm figures.
package watch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/marcus/taskgrid/internal/logging"
	"github.com/marcus/taskgrid/internal/manifest"
	"github.com/marcus/taskgrid/internal/registry"
	"github.com/marcus/taskgrid/internal/task"
)

// DefaultDebounce collapses the burst of events editors emit on save.
const DefaultDebounce = 250 * time.Millisecond

// Importer accepts task batches. *registry.Registry satisfies it.
type Importer interface {
	CreateTasks(ctx context.Context, tasks []task.Task) (registry.CreateReport, error)
}

// ManifestWatcher imports a manifest on start and again whenever it changes.
// Tasks already present are skipped by the importer, so re-reading an
// unchanged file is harmless.
type ManifestWatcher struct {
	path     string
	importer Importer
	roster   task.Roster
	logger   *logging.Logger
	debounce time.Duration
	onSync   func(registry.CreateReport, error)
}

// WatcherOption configures a ManifestWatcher.
type WatcherOption func(*ManifestWatcher)

// WithWatcherLogger sets the logger.
func WithWatcherLogger(l *logging.Logger) WatcherOption {
	return func(w *ManifestWatcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *ManifestWatcher) { w.debounce = d }
}

// OnSync registers a callback invoked after every import attempt.
func OnSync(fn func(registry.CreateReport, error)) WatcherOption {
	return func(w *ManifestWatcher) { w.onSync = fn }
}

// NewManifestWatcher creates a watcher for the manifest at path.
func NewManifestWatcher(path string, imp Importer, roster task.Roster, opts ...WatcherOption) *ManifestWatcher {
	w := &ManifestWatcher{
		path:     filepath.Clean(path),
		importer: imp,
		roster:   roster,
		logger:   logging.Nop(),
		debounce: DefaultDebounce,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Sync loads, validates and imports the manifest once.
func (w *ManifestWatcher) Sync(ctx context.Context) (registry.CreateReport, error) {
	m, err := manifest.Load(w.path)
	if err != nil {
		return registry.CreateReport{}, err
	}
	if err := m.Validate(w.roster); err != nil {
		return registry.CreateReport{}, err
	}
	return w.importer.CreateTasks(ctx, m.TaskList())
}

// Run syncs immediately, then watches the manifest's directory until ctx is
// done. The directory is watched rather than the file so that editors which
// save by rename keep triggering reloads. Import failures are logged and do
// not stop the loop.
func (w *ManifestWatcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watching manifest dir: %w", err)
	}

	w.sync(ctx)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Err(err).Str("manifest", w.path).Msg("watch error")
		case <-timer.C:
			w.sync(ctx)
		}
	}
}

func (w *ManifestWatcher) sync(ctx context.Context) {
	report, err := w.Sync(ctx)
	if w.onSync != nil {
		w.onSync(report, err)
	}
	switch {
	case errors.Is(err, context.Canceled):
	case err != nil:
		w.logger.Err(err).Str("manifest", w.path).Msg("manifest import failed")
	case len(report.Created) > 0:
		w.logger.Zerolog().Info().
			Str("manifest", w.path).
			Int("created", len(report.Created)).
			Int("skipped", len(report.Skipped)).
			Msg("manifest imported")
	}
}
