package directory

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// CSVWatcher reloads a MemoryStore whenever its CSV export changes on disk.
type CSVWatcher struct {
	watcher *fsnotify.Watcher
	path    string
	store   *MemoryStore
	logger  *zap.Logger
	cancel  context.CancelFunc
	done    chan struct{}
	reloads chan int
}

// WatchCSV starts watching path. The parent directory is watched so that
// editors and exports that replace the file by renaming are picked up. A
// file that fails to parse leaves the previous records in place.
func WatchCSV(ctx context.Context, path string, store *MemoryStore, logger *zap.Logger) (*CSVWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	cw := &CSVWatcher{
		watcher: w,
		path:    abs,
		store:   store,
		logger:  logger,
		cancel:  cancel,
		done:    make(chan struct{}),
		reloads: make(chan int, 1),
	}
	go cw.run(ctx)
	return cw, nil
}

// Reloads delivers the record count after each successful reload. Counts
// are dropped while nobody receives them.
func (w *CSVWatcher) Reloads() <-chan int {
	return w.reloads
}

// Close stops watching.
func (w *CSVWatcher) Close() error {
	w.cancel()
	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *CSVWatcher) run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("directory watch error", zap.Error(err))
		}
	}
}

func (w *CSVWatcher) reload() {
	records, err := LoadCSVFile(w.path)
	if err != nil {
		w.logger.Warn("directory CSV not reloaded", zap.String("path", w.path), zap.Error(err))
		return
	}
	w.store.Replace(records...)
	w.logger.Info("directory CSV reloaded", zap.String("path", w.path), zap.Int("records", len(records)))

	select {
	case w.reloads <- len(records):
	default:
	}
}
