package config

import (
	"context"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"

	logx "stayconnect/pkg/logx"
)

const (
	reloadDebounce  = 250 * time.Millisecond
	watchRetryFirst = 250 * time.Millisecond
	watchRetryMax   = 5 * time.Second
)

// Watch reloads the file after edits settle, until ctx is done. The parent
// directory is watched so editors that replace the file by rename are seen.
// A broken watcher is recreated with jittered backoff.
func (m *ConfigManager) Watch(ctx context.Context) error {
	dir := filepath.Dir(m.path)
	retry := watchRetryFirst
	for {
		w, err := openWatcher(dir)
		if err == nil {
			retry = watchRetryFirst
			m.log.Debug("config watcher started", logx.String("dir", dir))
			err = m.follow(ctx, w)
			_ = w.Close()
		}
		if ctx.Err() != nil {
			return nil
		}

		wait := retry/2 + rand.N(retry)
		retry = min(retry*2, watchRetryMax)
		m.log.Warn("config watcher down; retrying", logx.String("dir", dir), logx.Duration("backoff", wait), logx.Err(err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func openWatcher(dir string) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "config watcher")
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, errors.Wrapf(err, "watch %s", dir)
	}
	return w, nil
}

// follow consumes watcher events until ctx ends or the watcher fails. Edits
// within reloadDebounce of each other trigger one reload.
func (m *ConfigManager) follow(ctx context.Context, w *fsnotify.Watcher) error {
	name := filepath.Base(m.path)
	settle := time.NewTimer(reloadDebounce)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-settle.C:
			if _, err := m.Reload(ctx); err != nil {
				m.log.Warn("config reload failed", logx.String("path", m.path), logx.Err(err))
			}
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("config watcher closed")
			}
			if strings.EqualFold(filepath.Base(ev.Name), name) && ev.Op != 0 {
				settle.Reset(reloadDebounce)
			}
		case err, ok := <-w.Errors:
			switch {
			case !ok:
				return errors.New("config watcher closed")
			case errors.Is(err, fsnotify.ErrEventOverflow):
				// events were lost; the file may have changed
				m.log.Warn("config watch overflow; forcing reload", logx.Err(err))
				settle.Reset(reloadDebounce)
			case err != nil:
				return err
			}
		}
	}
}
