// Package watch turns filesystem events under the songs root into debounced
// scan triggers.
package watch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/taikoweb/songindex/internal/scan"
)

// DefaultDebounce is the delay between the last relevant event and the scan
// callback.
const DefaultDebounce = 750 * time.Millisecond

// Watcher monitors the songs root and schedules a single debounced scan
// callback for bursts of chart or audio changes. It is optional: a missing
// root fails Start and the engine keeps running on explicit triggers.
type Watcher struct {
	root     string
	debounce time.Duration
	trigger  func()
	log      zerolog.Logger

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu    sync.Mutex
	timer *time.Timer
}

// New creates a watcher invoking trigger after the debounce delay.
func New(root string, debounce time.Duration, trigger func(), log zerolog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		root:     root,
		debounce: debounce,
		trigger:  trigger,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins watching. The root and every subdirectory join the watch set;
// directories created later are added as their create events arrive.
func (w *Watcher) Start() error {
	if _, err := os.Stat(w.root); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = watcher

	if err := w.addWatches(w.root); err != nil {
		_ = watcher.Close()
		return err
	}

	w.wg.Add(1)
	go w.processEvents()

	w.log.Info().Str("dir", w.root).Msg("watching songs directory")
	return nil
}

// Stop cancels the watcher and any pending debounce timer.
func (w *Watcher) Stop() {
	w.cancel()
	if w.watcher != nil {
		_ = w.watcher.Close()
	}
	w.wg.Wait()

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()
}

func (w *Watcher) addWatches(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.watcher.Add(path); err != nil {
			w.log.Warn().Err(err).Str("path", path).Msg("failed to watch directory")
		}
		return nil
	})
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("watcher error")
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	path := event.Name

	if info, err := os.Stat(path); err == nil && info.IsDir() {
		if event.Op&fsnotify.Create != 0 {
			if err := w.watcher.Add(path); err != nil {
				w.log.Warn().Err(err).Str("path", path).Msg("failed to watch new directory")
			}
		}
		return
	}

	if !relevantPath(path) {
		return
	}
	w.schedule()
}

// relevantPath reports whether a file event can affect the catalog: charts
// and companion audio only.
func relevantPath(path string) bool {
	if strings.EqualFold(filepath.Ext(path), ".tja") {
		return true
	}
	return scan.IsAudioPath(path)
}

// schedule resets the single debounce timer; any new event pushes the scan
// out by the full delay.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.trigger)
}
