package client

import (
	"context"
	"sync"

	"github.com/collabnote/collabnote/protocol"
)

// DrawingEmitter is the slice of the channel the drawing log broadcasts on.
type DrawingEmitter interface {
	SendDrawingUpdate(notebookID, action string, path *protocol.DrawPath)
}

// DrawingLogConfig wires one drawing log to its notebook.
type DrawingLogConfig struct {
	NotebookID string
	Emitter    DrawingEmitter
	Saver      SnapshotSaver
	// OnChange is invoked with a copy of the path log whenever it changes.
	OnChange func([]protocol.DrawPath)
	// OnSaveError observes failed durable saves.
	OnSaveError func(error)
}

// DrawingLog maintains one participant's replica of the append-only path
// log. Appends and clears apply locally first and broadcast; undo is
// broadcast even when the local replica is empty so replicas that still
// hold paths can shrink.
type DrawingLog struct {
	notebookID  string
	emitter     DrawingEmitter
	saver       SnapshotSaver
	onChange    func([]protocol.DrawPath)
	onSaveError func(error)

	mu    sync.Mutex
	paths []protocol.DrawPath
}

// NewDrawingLog validates configuration and constructs an empty log.
func NewDrawingLog(cfg DrawingLogConfig) (*DrawingLog, error) {
	if cfg.NotebookID == "" {
		return nil, errMissingNotebookID
	}
	if cfg.Emitter == nil {
		return nil, errMissingEmitter
	}
	if cfg.Saver == nil {
		return nil, errMissingSaver
	}
	return &DrawingLog{
		notebookID:  cfg.NotebookID,
		emitter:     cfg.Emitter,
		saver:       cfg.Saver,
		onChange:    cfg.OnChange,
		onSaveError: cfg.OnSaveError,
	}, nil
}

// Append records a locally completed stroke and broadcasts it. The path is
// carried verbatim; the log never inspects tool-specific fields.
func (d *DrawingLog) Append(path protocol.DrawPath) {
	d.mu.Lock()
	d.paths = append(d.paths, path)
	snapshot := d.copyPathsLocked()
	d.mu.Unlock()

	d.notifyChange(snapshot)
	d.emitter.SendDrawingUpdate(d.notebookID, protocol.DrawingActionAdd, &path)
}

// Undo removes the most recent path from the local replica and broadcasts
// the intent. On an empty replica the local removal is a no-op but the
// broadcast still goes out.
func (d *DrawingLog) Undo() {
	d.mu.Lock()
	changed := len(d.paths) > 0
	if changed {
		d.paths = d.paths[:len(d.paths)-1]
	}
	snapshot := d.copyPathsLocked()
	d.mu.Unlock()

	if changed {
		d.notifyChange(snapshot)
	}
	d.emitter.SendDrawingUpdate(d.notebookID, protocol.DrawingActionUndo, nil)
}

// Clear empties the local replica, broadcasts the clear, and immediately
// persists the empty drawing. Clear is destructive, so unlike text it never
// waits out a debounce window.
func (d *DrawingLog) Clear(ctx context.Context) {
	d.mu.Lock()
	d.paths = nil
	d.mu.Unlock()

	d.notifyChange(nil)
	d.emitter.SendDrawingUpdate(d.notebookID, protocol.DrawingActionClear, nil)

	if err := d.saver.SaveDrawing(ctx, d.notebookID, protocol.DrawingData{Paths: []protocol.DrawPath{}}); err != nil {
		if d.onSaveError != nil {
			d.onSaveError(err)
		}
	}
}

// ApplyRemote folds a remote drawing operation into the local replica and
// reports whether the log changed.
func (d *DrawingLog) ApplyRemote(action string, path *protocol.DrawPath) bool {
	d.mu.Lock()
	changed := false
	switch action {
	case protocol.DrawingActionAdd:
		if path != nil {
			d.paths = append(d.paths, *path)
			changed = true
		}
	case protocol.DrawingActionUndo:
		if len(d.paths) > 0 {
			d.paths = d.paths[:len(d.paths)-1]
			changed = true
		}
	case protocol.DrawingActionClear:
		changed = len(d.paths) > 0
		d.paths = nil
	}
	snapshot := d.copyPathsLocked()
	d.mu.Unlock()

	if changed {
		d.notifyChange(snapshot)
	}
	return changed
}

// Seed installs the content-sync path log a joining participant receives.
func (d *DrawingLog) Seed(paths []protocol.DrawPath) {
	d.mu.Lock()
	d.paths = append([]protocol.DrawPath(nil), paths...)
	snapshot := d.copyPathsLocked()
	d.mu.Unlock()

	d.notifyChange(snapshot)
}

// Paths returns a copy of the current path log in append order.
func (d *DrawingLog) Paths() []protocol.DrawPath {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.copyPathsLocked()
}

// Flush persists the current path log immediately. Used on session teardown.
func (d *DrawingLog) Flush(ctx context.Context) error {
	d.mu.Lock()
	drawing := protocol.DrawingData{Paths: d.copyPathsLocked()}
	d.mu.Unlock()
	if drawing.Paths == nil {
		drawing.Paths = []protocol.DrawPath{}
	}
	return d.saver.SaveDrawing(ctx, d.notebookID, drawing)
}

func (d *DrawingLog) copyPathsLocked() []protocol.DrawPath {
	if len(d.paths) == 0 {
		return nil
	}
	return append([]protocol.DrawPath(nil), d.paths...)
}

func (d *DrawingLog) notifyChange(snapshot []protocol.DrawPath) {
	if d.onChange != nil {
		d.onChange(snapshot)
	}
}
