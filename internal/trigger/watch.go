package trigger

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const DefaultDebounce = 2 * time.Second

// Watcher submits a sync for a filesystem tenant once its root has been
// quiet for the debounce period after a change.
type Watcher struct {
	sub      Submitter
	fsw      *fsnotify.Watcher
	debounce time.Duration

	mu     sync.Mutex
	roots  map[string]string // root -> tenant
	timers map[string]*time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	logger *slog.Logger
}

func NewWatcher(sub Submitter, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		sub:      sub,
		fsw:      fsw,
		debounce: debounce,
		roots:    make(map[string]string),
		timers:   make(map[string]*time.Timer),
		done:     make(chan struct{}),
		logger:   slog.Default().With("component", "trigger-watch"),
	}, nil
}

// Add watches root and every directory below it on behalf of tenantID.
func (w *Watcher) Add(tenantID, root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	if err := w.addTree(abs); err != nil {
		return err
	}
	w.mu.Lock()
	w.roots[abs] = tenantID
	w.mu.Unlock()
	w.logger.Info("watching tenant root", "tenant", tenantID, "root", abs)
	return nil
}

// Remove stops reacting to changes for tenantID.
func (w *Watcher) Remove(tenantID string) {
	var removed []string
	w.mu.Lock()
	for root, id := range w.roots {
		if id == tenantID {
			delete(w.roots, root)
			removed = append(removed, root)
		}
	}
	if t, ok := w.timers[tenantID]; ok {
		t.Stop()
		delete(w.timers, tenantID)
	}
	w.mu.Unlock()

	for _, p := range w.fsw.WatchList() {
		for _, root := range removed {
			if within(root, p) && w.tenantFor(p) == "" {
				w.fsw.Remove(p)
			}
		}
	}
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func (w *Watcher) Start(ctx context.Context) {
	w.ctx, w.cancel = context.WithCancel(ctx)
	go w.loop()
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("watch error", "error", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
		return
	}
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addTree(ev.Name); err != nil && !errors.Is(err, fs.ErrNotExist) {
				w.logger.Warn("cannot watch new directory", "path", ev.Name, "error", err)
			}
		}
	}
	tenantID := w.tenantFor(ev.Name)
	if tenantID == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[tenantID]; ok {
		t.Reset(w.debounce)
		return
	}
	w.timers[tenantID] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, tenantID)
		w.mu.Unlock()
		if w.ctx.Err() != nil {
			return
		}
		submit(w.ctx, w.logger, w.sub, tenantID, SourceWatch)
	})
}

// tenantFor picks the tenant with the longest root containing path.
func (w *Watcher) tenantFor(path string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	best, tenantID := -1, ""
	for root, id := range w.roots {
		if within(root, path) && len(root) > best {
			best, tenantID = len(root), id
		}
	}
	return tenantID
}

func within(root, path string) bool {
	return path == root || strings.HasPrefix(path, root+string(filepath.Separator))
}

func (w *Watcher) Close() error {
	if w.cancel != nil {
		w.cancel()
	}
	err := w.fsw.Close()
	if w.ctx != nil {
		<-w.done
	}
	w.mu.Lock()
	for id, t := range w.timers {
		t.Stop()
		delete(w.timers, id)
	}
	w.mu.Unlock()
	return err
}
