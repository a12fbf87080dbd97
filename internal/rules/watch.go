package rules

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period after the last file event before a
// reload is attempted.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reloads a rule file into a Holder whenever it changes on disk. A
// file that fails to parse is logged and the previous rule set stays active.
type Watcher struct {
	path     string
	holder   *Holder
	debounce time.Duration

	// OnReload, if set, is called after every successful swap.
	OnReload func(*RuleSet)
}

// NewWatcher creates a watcher for path feeding holder.
func NewWatcher(path string, holder *Holder) *Watcher {
	return &Watcher{
		path:     filepath.Clean(path),
		holder:   holder,
		debounce: DefaultDebounce,
	}
}

// Run blocks until ctx is cancelled. The parent directory is watched rather
// than the file itself so that editors which replace the file by rename are
// picked up.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("rules: create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("rules: watch %s: %w", w.path, err)
	}
	log.Printf("[rules] watching %s (version %s active)", w.path, w.holder.Load().Version)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[rules] watcher stopped")
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return fmt.Errorf("rules: watcher events channel closed")
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return fmt.Errorf("rules: watcher errors channel closed")
			}
			log.Printf("[rules] watcher error: %v", err)

		case <-timer.C:
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	rs, err := LoadFile(w.path)
	if err != nil {
		log.Printf("[rules] WARN reload %s failed, keeping version %s: %v",
			w.path, w.holder.Load().Version, err)
		return
	}
	prev := w.holder.Load().Version
	w.holder.Store(rs)
	log.Printf("[rules] reloaded %s: version %s -> %s (%d rules)", w.path, prev, rs.Version, len(rs.Rules))
	if w.OnReload != nil {
		w.OnReload(rs)
	}
}
