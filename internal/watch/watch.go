// Package watch adapts the teacher's fsnotify wrapper
// (internal/watcher/watcher.go) into an executable-path watcher: it
// logs a notice when a configured service's executable changes on
// disk but never triggers a reload itself, per spec.md's explicit
// exclusion of dynamic reconfiguration. An operator (or a future
// layer) decides whether a notice warrants a Reload command.
package watch

import (
	"log"

	"github.com/fsnotify/fsnotify"
)

// EventKind mirrors the teacher's EventType enum, trimmed to the
// three changes relevant to an executable file.
type EventKind string

const (
	EventWritten EventKind = "written"
	EventRemoved EventKind = "removed"
	EventRenamed EventKind = "renamed"
)

// Notice is one observed change to a watched executable.
type Notice struct {
	Kind EventKind
	Path string
}

// Watcher watches a fixed set of executable paths and logs a Notice
// for each change. It never calls back into the Command Center:
// wiring a Notice to a Reload is deliberately left to the caller.
type Watcher struct {
	fsw    *fsnotify.Watcher
	logger *log.Logger
}

func New(logger *log.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{fsw: fsw, logger: logger}, nil
}

// Add starts watching path, a configured service's executable_path.
func (w *Watcher) Add(path string) error {
	return w.fsw.Add(path)
}

// Run drains fsnotify events until Close is called, invoking onNotice
// for every change recognized as one of EventWritten/Removed/Renamed.
// Unrecognized event bits (e.g. bare Chmod) are ignored.
func (w *Watcher) Run(onNotice func(Notice)) {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			var kind EventKind
			switch {
			case event.Has(fsnotify.Write):
				kind = EventWritten
			case event.Has(fsnotify.Remove):
				kind = EventRemoved
			case event.Has(fsnotify.Rename):
				kind = EventRenamed
			default:
				continue
			}
			n := Notice{Kind: kind, Path: event.Name}
			w.logger.Printf("watch: %s %s", n.Kind, n.Path)
			onNotice(n)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Printf("watch: error: %v", err)
		}
	}
}

func (w *Watcher) Close() error {
	return w.fsw.Close()
}
