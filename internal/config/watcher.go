package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watcher reloads the config file when it changes on disk. It is the serve
// mode replacement for editing options through a UI: edit config.yaml and
// the running daemon picks it up.
type Watcher struct {
	path     string
	onChange func(*Config)
	log      logrus.FieldLogger
	fsw      *fsnotify.Watcher
	done     chan struct{}
}

// debounce window for editors that write the file in several events
const reloadDelay = 500 * time.Millisecond

// NewWatcher watches configPath and calls onChange with each successfully
// loaded and validated new config.
func NewWatcher(configPath string, log logrus.FieldLogger, onChange func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	// Watch the directory: editors replace files, which drops the watch on
	// the file itself.
	dir := filepath.Dir(configPath)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching config directory: %w", err)
	}

	w := &Watcher{
		path:     configPath,
		onChange: onChange,
		log:      log,
		fsw:      fsw,
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	var timer *time.Timer
	var pending <-chan time.Time

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDelay)
			} else {
				timer.Reset(reloadDelay)
			}
			pending = timer.C
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("config watcher error")
		case <-pending:
			pending = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.log.WithError(err).Error("config reload failed, keeping previous config")
		return
	}
	if err := cfg.Validate(); err != nil {
		w.log.WithError(err).Error("config reload rejected, keeping previous config")
		return
	}
	w.log.WithField("installations", len(cfg.Installations)).Info("config reloaded")
	w.onChange(cfg)
}

// Close stops the watcher
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
