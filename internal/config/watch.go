package config

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "prionotify/pkg/logx"
)

const (
	watchRetryMin = 250 * time.Millisecond
	watchRetryMax = 5 * time.Second
)

const reloadOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod

var errWatchClosed = errors.New("fsnotify channels closed")

// Watch reloads the config file whenever it changes, until ctx ends. The
// parent directory is watched so editors that replace the file are seen.
// A broken watcher is rebuilt after a jittered, doubling pause. With no
// path Watch just blocks.
func (m *ConfigManager) Watch(ctx context.Context) error {
	if strings.TrimSpace(m.path) == "" {
		<-ctx.Done()
		return nil
	}

	deb := &debouncer{delay: m.debounce, fire: func() { m.reload(ctx) }}
	defer deb.stop()

	retry := watchRetryMin
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for {
		err := m.watchOnce(ctx, deb.kick, func() { retry = watchRetryMin })
		if ctx.Err() != nil {
			return nil
		}
		pause := retry + time.Duration(rng.Int63n(int64(retry/2)+1))
		retry = min(retry*2, watchRetryMax)
		m.log.Warn("config watcher down; retrying", logx.String("path", m.path), logx.Duration("in", pause), logx.Err(err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(pause):
		}
	}
}

// watchOnce runs one fsnotify watcher until it fails or ctx ends.
func (m *ConfigManager) watchOnce(ctx context.Context, changed, healthy func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new watcher: %w", err)
	}
	defer w.Close()

	dir, name := filepath.Dir(m.path), filepath.Base(m.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	healthy()
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", name))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return errWatchClosed
			}
			if ev.Op&reloadOps != 0 && strings.EqualFold(filepath.Base(ev.Name), name) {
				changed()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errWatchClosed
			}
			if err != nil {
				// an overflow may have swallowed the write
				m.log.Warn("config watch error", logx.Err(err), logx.String("dir", dir))
				changed()
			}
		}
	}
}

// debouncer collapses a burst of kicks into one fire, delay after the last kick.
type debouncer struct {
	delay time.Duration
	fire  func()

	mu    sync.Mutex
	timer *time.Timer
}

func (d *debouncer) kick() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fire)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}
