// Package watch implements the file watch manager: one worker goroutine
// per watched folder, OS events from github.com/fsnotify/fsnotify
// debounced per file, and a shared cancellation signal for graceful
// shutdown.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mimirhq/mimir/pkg/indexer"
	"github.com/mimirhq/mimir/pkg/log"
	"github.com/mimirhq/mimir/pkg/watchconfig"
)

// DefaultDebounce is used when a WatchConfig doesn't specify one.
const DefaultDebounce = 500 * time.Millisecond

// DefaultShutdownTimeout bounds how long Shutdown waits for in-flight
// per-folder work to drain before forcing an exit.
const DefaultShutdownTimeout = 10 * time.Second

// queueBound is the per-folder event backlog above which same-path
// events are coalesced.
const queueBound = 256

// Manager owns one worker per registered folder and multiplexes fsnotify
// events to them. It is a process-wide singleton by convention,
// constructed once by pkg/mimir.
type Manager struct {
	ix    *indexer.Indexer
	store *watchconfig.Store

	mu      sync.Mutex
	folders map[string]*folderWorker

	wg sync.WaitGroup
}

func NewManager(ix *indexer.Indexer, store *watchconfig.Store) *Manager {
	return &Manager{ix: ix, store: store, folders: make(map[string]*folderWorker)}
}

// Recover re-attaches every active WatchConfig on startup, marking
// folders whose path no longer exists as inactive.
func (m *Manager) Recover(ctx context.Context) error {
	configs, err := m.store.ListActive()
	if err != nil {
		return err
	}
	for _, cfg := range configs {
		logger := log.WithComponent("watch")
		if _, statErr := statPath(cfg.Path); statErr != nil {
			if markErr := m.store.MarkInactive(cfg.ID, "path_not_found"); markErr != nil {
				logger.Warn().Err(markErr).Str("path", cfg.Path).Msg("marking inactive failed")
			}
			continue
		}
		if err := m.Start(ctx, cfg); err != nil {
			logger.Warn().Err(err).Str("path", cfg.Path).Msg("re-attach failed")
		}
	}
	return nil
}

// Start registers folder cfg and launches its worker. A second Start on
// an already-watched path is a no-op.
func (m *Manager) Start(ctx context.Context, cfg *watchconfig.WatchConfig) error {
	m.mu.Lock()
	if _, exists := m.folders[cfg.Path]; exists {
		m.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if err := addRecursive(watcher, cfg.Path, cfg.Recursive); err != nil {
		watcher.Close()
		m.mu.Unlock()
		return err
	}

	fw := &folderWorker{
		cfg:      cfg,
		watcher:  watcher,
		events:   make(chan fsnotify.Event, queueBound),
		stop:     make(chan struct{}),
		debounce: debounceDuration(cfg.DebounceMs),
		indexer:  m.ix,
	}
	m.folders[cfg.Path] = fw
	m.mu.Unlock()

	m.wg.Add(2)
	go func() { defer m.wg.Done(); fw.pump() }()
	go func() { defer m.wg.Done(); fw.run(ctx) }()
	return nil
}

// Stop tears down the worker for path, if one exists.
func (m *Manager) Stop(path string) {
	m.mu.Lock()
	fw, ok := m.folders[path]
	if ok {
		delete(m.folders, path)
	}
	m.mu.Unlock()
	if ok {
		fw.shutdown()
	}
}

// Shutdown stops every worker, draining in-flight work up to timeout
// before forcing an exit.
func (m *Manager) Shutdown(timeout time.Duration) {
	m.mu.Lock()
	workers := make([]*folderWorker, 0, len(m.folders))
	for _, fw := range m.folders {
		workers = append(workers, fw)
	}
	m.folders = make(map[string]*folderWorker)
	m.mu.Unlock()

	for _, fw := range workers {
		fw.shutdown()
	}

	done := make(chan struct{})
	go func() { m.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(timeout):
		logger := log.WithComponent("watch")
		logger.Warn().Msg("shutdown timed out waiting for workers to drain")
	}
}

func debounceDuration(ms int) time.Duration {
	if ms <= 0 {
		return DefaultDebounce
	}
	return time.Duration(ms) * time.Millisecond
}

func statPath(path string) (bool, error) {
	_, err := os.Stat(path)
	return err == nil, err
}

// folderWorker owns one fsnotify.Watcher and serializes per-file work
// for a single folder; cross-folder work runs in parallel because each
// folder gets its own worker.
type folderWorker struct {
	cfg      *watchconfig.WatchConfig
	watcher  *fsnotify.Watcher
	events   chan fsnotify.Event
	stop     chan struct{}
	stopOnce sync.Once
	debounce time.Duration
	indexer  *indexer.Indexer
}

// pump forwards raw fsnotify events into the bounded events channel.
// When the channel is full, queued events for the same path are
// coalesced; events for distinct paths are preserved.
func (fw *folderWorker) pump() {
	for {
		select {
		case ev, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			select {
			case fw.events <- ev:
			default:
				fw.coalesce(ev)
			}
		case <-fw.watcher.Errors:
			// Transient watcher errors don't tear down the folder worker.
		case <-fw.stop:
			return
		}
	}
}

// coalesce drops every queued event for the same path as ev, then
// re-enqueues the rest followed by ev, waiting for room if none was
// dropped. It gives up only when the worker is stopped.
func (fw *folderWorker) coalesce(ev fsnotify.Event) {
	drained := make([]fsnotify.Event, 0, len(fw.events))
	for {
		select {
		case queued := <-fw.events:
			if queued.Name != ev.Name {
				drained = append(drained, queued)
			}
		default:
			drained = append(drained, ev)
			for _, q := range drained {
				select {
				case fw.events <- q:
				case <-fw.stop:
					return
				}
			}
			return
		}
	}
}

// run debounces per-file events and invokes the indexer sequentially,
// honoring the shared cancellation signal.
func (fw *folderWorker) run(ctx context.Context) {
	defer fw.watcher.Close()
	pending := make(map[string]*time.Timer)
	fire := make(chan string, queueBound)
	defer func() {
		for _, t := range pending {
			t.Stop()
		}
	}()

	for {
		select {
		case ev := <-fw.events:
			path := ev.Name
			if t, ok := pending[path]; ok {
				t.Stop()
			}
			pending[path] = time.AfterFunc(fw.debounce, func() {
				select {
				case fire <- path:
				case <-fw.stop:
				}
			})
		case path := <-fire:
			delete(pending, path)
			fw.handle(ctx, path)
		case <-ctx.Done():
			return
		case <-fw.stop:
			return
		}
	}
}

func (fw *folderWorker) handle(ctx context.Context, path string) {
	logger := log.WithComponent("watch")
	if _, err := os.Stat(path); err != nil {
		if err := fw.indexer.RemoveFile(path); err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("remove on delete-event failed")
		}
		return
	}
	_, err := fw.indexer.IndexFile(ctx, path, indexer.Config{
		Path: fw.cfg.Path, Recursive: fw.cfg.Recursive,
		FilePatterns: fw.cfg.FilePatterns, IgnorePatterns: fw.cfg.IgnorePatterns,
		GenerateEmbeddings: fw.cfg.GenerateEmbeddings,
	})
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("re-index on change-event failed")
	}
}

func (fw *folderWorker) shutdown() {
	fw.stopOnce.Do(func() { close(fw.stop) })
}

func addRecursive(watcher *fsnotify.Watcher, root string, recursive bool) error {
	if !recursive {
		return watcher.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}
