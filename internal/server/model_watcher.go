package server

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// modelWatchDebounce coalesces the write/rename bursts editors produce.
const modelWatchDebounce = 250 * time.Millisecond

// modelWatcher watches the operator-facing model and provider override
// files, pushing a live model switch into the running pipeline without a
// daemon restart. Grounded on internal/skills/manager.go's
// fsnotify.Watcher + debounce-timer pattern.
type modelWatcher struct {
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
}

const (
	modelOverridePath    = "/etc/hostctl/llm-model"
	providerOverridePath = "/etc/hostctl/llm-provider"
)

// startModelWatcher arms a best-effort fsnotify watch on the model and
// provider override files. It never fails daemon startup: a missing
// directory just means live switching is unavailable on this host.
func (d *Daemon) startModelWatcher() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.log.Warn("model watcher unavailable", "error", err)
		return
	}
	for _, p := range []string{modelOverridePath, providerOverridePath} {
		if err := watcher.Add(p); err != nil {
			d.log.Debug("not watching model override file", "path", p, "error", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	mw := &modelWatcher{watcher: watcher, cancel: cancel}
	d.modelWatcher = mw

	go d.watchModelOverrides(ctx, watcher)
}

func (d *Daemon) watchModelOverrides(ctx context.Context, watcher *fsnotify.Watcher) {
	var timer *time.Timer
	reload := func() {
		if d.Pipeline == nil {
			return
		}
		model, err := readOverride(modelOverridePath)
		if err != nil {
			return
		}
		d.Pipeline.SetModel(model)
		d.log.Info("llm model switched via override file", "model", model)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(modelWatchDebounce, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			d.log.Warn("model watcher error", "error", err)
		}
	}
}

func readOverride(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

func (w *modelWatcher) close() error {
	if w == nil {
		return nil
	}
	w.cancel()
	return w.watcher.Close()
}
