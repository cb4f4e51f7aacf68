package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tandem-dev/tandem/internal/logging"
	"github.com/tandem-dev/tandem/pkg/types"
)

// Watcher observes the global and project config files and reloads the
// merged configuration when either changes. Change notifications are
// debounced; editors tend to emit several write events per save.
type Watcher struct {
	fsw      *fsnotify.Watcher
	done     chan struct{}
	onChange func(*types.Config)
}

const watchDebounce = 200 * time.Millisecond

// Watch starts watching the config directories relevant to directory.
// onChange receives the freshly merged config after every settled change.
func Watch(directory string, onChange func(*types.Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dirs := []string{GetPaths().Config}
	if directory != "" {
		dirs = append(dirs, filepath.Join(directory, ".tandem"))
	}
	for _, d := range dirs {
		// A directory that doesn't exist yet simply isn't watched; the
		// watcher is rebuilt on restart, not on mkdir.
		if err := fsw.Add(d); err != nil {
			logging.Debug().Err(err).Str("dir", d).Msg("config watch skip")
		}
	}

	w := &Watcher{fsw: fsw, done: make(chan struct{}), onChange: onChange}
	go w.run(directory)
	return w, nil
}

func (w *Watcher) run(directory string) {
	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !isConfigFile(ev.Name) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case <-fire:
			cfg, err := Load(directory)
			if err != nil {
				logging.Warn().Err(err).Msg("config reload failed")
				continue
			}
			w.onChange(cfg)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.Warn().Err(err).Msg("config watcher error")
		case <-w.done:
			return
		}
	}
}

func isConfigFile(path string) bool {
	base := filepath.Base(path)
	return base == "tandem.json" || base == "tandem.jsonc" || strings.HasPrefix(base, "tandem.json.")
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
