// Package watch keeps the catalogue in step with a directory of shapefiles.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/EmpoweredVote/GIS-Backend/internal/logging"
	"github.com/EmpoweredVote/GIS-Backend/internal/metrics"
	"github.com/EmpoweredVote/GIS-Backend/internal/parcels"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Loader parses a file into layers. parcels.Loader satisfies it.
type Loader interface {
	Load(path string, opts parcels.LoadOptions) ([]*parcels.Layer, parcels.Timings, error)
}

// Watcher loads shapefiles dropped into a directory, reloads them when they
// change and removes their layers when they go away.
type Watcher struct {
	dir     string
	cat     *parcels.Catalogue
	loader  Loader
	watcher *fsnotify.Watcher

	mu          sync.Mutex
	pending     map[string]time.Time
	debounceDur time.Duration
	tick        time.Duration
}

// New creates a watcher on dir. dir is created if missing.
func New(dir string, cat *parcels.Catalogue, loader Loader) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create watch dir: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return &Watcher{
		dir:         dir,
		cat:         cat,
		loader:      loader,
		watcher:     fw,
		pending:     make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond,
		tick:        100 * time.Millisecond,
	}, nil
}

// Scan loads every shapefile already in the directory.
func (w *Watcher) Scan(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if p, ok := w.target(filepath.Join(w.dir, e.Name())); ok && p == filepath.Join(w.dir, e.Name()) {
			w.sync(ctx, p)
		}
	}
	return nil
}

// Run processes events until ctx is done, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			logging.LogError("watch", "fsnotify", err)
		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) &&
		!ev.Op.Has(fsnotify.Remove) && !ev.Op.Has(fsnotify.Rename) {
		return
	}
	p, ok := w.target(ev.Name)
	if !ok {
		return
	}
	w.mu.Lock()
	w.pending[p] = time.Now()
	w.mu.Unlock()
}

// target maps an event path to the file that is loaded: a .zip, or the .shp
// a sidecar belongs to.
func (w *Watcher) target(name string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".zip", ".shp":
		return name, true
	case ".dbf", ".shx", ".prj", ".cpg":
		return strings.TrimSuffix(name, filepath.Ext(name)) + ".shp", true
	default:
		return "", false
	}
}

func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	now := time.Now()
	var ready []string
	for p, at := range w.pending {
		if now.Sub(at) >= w.debounceDur {
			ready = append(ready, p)
			delete(w.pending, p)
		}
	}
	w.mu.Unlock()

	for _, p := range ready {
		w.sync(ctx, p)
	}
}

func (w *Watcher) sync(ctx context.Context, p string) {
	log := logging.L().With(zap.String("path", p))

	if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
		if n := w.cat.RemoveSource(ctx, p); n > 0 {
			metrics.ObserveCatalogue(w.cat.Stats())
			metrics.WatchEventsTotal.WithLabelValues("remove").Inc()
			log.Info("watched file removed", zap.Int("layers", n))
		}
		return
	}

	existing := len(w.cat.FindBySource(p))
	fresh, _, err := w.loader.Load(p, parcels.LoadOptions{})
	if err != nil {
		// Half-copied files fail here and are retried on their next write.
		metrics.WatchEventsTotal.WithLabelValues("error").Inc()
		log.Warn("watched file not loaded", zap.Error(err))
		return
	}
	w.cat.SyncSource(ctx, p, fresh)
	metrics.ObserveCatalogue(w.cat.Stats())

	action := "load"
	if existing > 0 {
		action = "reload"
	}
	metrics.WatchEventsTotal.WithLabelValues(action).Inc()
	log.Info("watched file "+action+"ed", zap.Int("layers", len(fresh)))
}
