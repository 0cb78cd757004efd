package config

import (
	"github.com/dogmatiq/dodeca/logging"
	"github.com/fsnotify/fsnotify"
)

// Watcher notifies a channel whenever the contents of a .service directory
// may have changed, replacing mdnsd.c's SIGHUP-plus-10-second-poll reload
// trigger (`reload` global, set from the signal handler and checked in
// sys_timeout) with an fsnotify event.
type Watcher struct {
	fsw    *fsnotify.Watcher
	Events chan struct{}
	logger logging.Logger
}

// Watch starts watching dir. Call Close when done.
func Watch(dir string, logger logging.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		fsw:    fsw,
		Events: make(chan struct{}, 1),
		logger: logger,
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			logging.DebugString(w.logger, "service directory changed: "+ev.Name)
			select {
			case w.Events <- struct{}{}:
			default:
				// a reload is already pending; coalesce
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.Log(w.logger, "error watching service directory: %s", err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
