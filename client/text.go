package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/collabnote/collabnote/protocol"
)

const (
	defaultSuppressionWindow = 100 * time.Millisecond
	defaultDebounceInterval  = 2000 * time.Millisecond
)

var (
	errMissingNotebookID = errors.New("notebook id is required")
	errMissingEmitter    = errors.New("text emitter is required")
	errMissingSaver      = errors.New("snapshot saver is required")
)

// TextEmitter is the slice of the channel the synchronizer broadcasts on.
type TextEmitter interface {
	SendTextUpdate(notebookID, textContent string)
}

// SnapshotSaver is the persistence gateway seen from the participant side.
// Saves are fire-and-forget: failures surface through the error callback
// and never disturb live collaboration state.
type SnapshotSaver interface {
	SaveText(ctx context.Context, notebookID, textContent string) error
	SaveDrawing(ctx context.Context, notebookID string, drawing protocol.DrawingData) error
}

// ConvergenceStrategy decides whether a remote text value replaces the
// local one. The default is last-writer-wins with an echo guard; swapping
// in an OT or CRDT strategy touches nothing else.
type ConvergenceStrategy interface {
	ShouldApplyRemote(remote, lastSent string, locallyEditing bool) bool
}

// LastWriterWins discards a remote value that either echoes the last local
// send or races an in-flight local edit; everything else is applied as-is.
type LastWriterWins struct{}

// ShouldApplyRemote implements ConvergenceStrategy.
func (LastWriterWins) ShouldApplyRemote(remote, lastSent string, locallyEditing bool) bool {
	return remote != lastSent && !locallyEditing
}

type editState int

const (
	stateIdle editState = iota
	stateLocalEditPending
	stateSynced
)

// TextSynchronizerConfig wires one synchronizer to its notebook.
type TextSynchronizerConfig struct {
	NotebookID string
	Emitter    TextEmitter
	Saver      SnapshotSaver
	// OnDisplay is invoked with the new value whenever the visible text
	// changes, locally or remotely.
	OnDisplay func(string)
	// OnSaveError observes failed durable saves.
	OnSaveError func(error)
	Strategy    ConvergenceStrategy
	// SuppressionWindow bounds how long a local edit blocks remote
	// application; DebounceInterval is the quiet period before a durable
	// save. Zero values pick the defaults.
	SuppressionWindow time.Duration
	DebounceInterval  time.Duration
	Clock             func() time.Time
}

// TextSynchronizer reconciles one notebook's rich-text value on behalf of a
// single participant. Local edits apply immediately and broadcast; remote
// updates pass the convergence strategy before touching the display; a
// restartable debounce collapses bursts of edits into one durable save.
type TextSynchronizer struct {
	notebookID        string
	emitter           TextEmitter
	saver             SnapshotSaver
	onDisplay         func(string)
	onSaveError       func(error)
	strategy          ConvergenceStrategy
	suppressionWindow time.Duration
	debounceInterval  time.Duration
	clock             func() time.Time

	mu           sync.Mutex
	content      string
	lastSent     string
	state        editState
	editingUntil time.Time
	suppression  *time.Timer
	debounce     *time.Timer
	stopped      bool
}

// NewTextSynchronizer validates configuration and constructs a synchronizer.
func NewTextSynchronizer(cfg TextSynchronizerConfig) (*TextSynchronizer, error) {
	if cfg.NotebookID == "" {
		return nil, errMissingNotebookID
	}
	if cfg.Emitter == nil {
		return nil, errMissingEmitter
	}
	if cfg.Saver == nil {
		return nil, errMissingSaver
	}

	strategy := cfg.Strategy
	if strategy == nil {
		strategy = LastWriterWins{}
	}
	suppressionWindow := cfg.SuppressionWindow
	if suppressionWindow <= 0 {
		suppressionWindow = defaultSuppressionWindow
	}
	debounceInterval := cfg.DebounceInterval
	if debounceInterval <= 0 {
		debounceInterval = defaultDebounceInterval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &TextSynchronizer{
		notebookID:        cfg.NotebookID,
		emitter:           cfg.Emitter,
		saver:             cfg.Saver,
		onDisplay:         cfg.OnDisplay,
		onSaveError:       cfg.OnSaveError,
		strategy:          strategy,
		suppressionWindow: suppressionWindow,
		debounceInterval:  debounceInterval,
		clock:             clock,
	}, nil
}

// LocalEdit applies the participant's own edit: the display updates
// immediately, the value broadcasts to the room, the suppression window
// opens, and the debounce timer restarts.
func (t *TextSynchronizer) LocalEdit(textContent string) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.content = textContent
	t.lastSent = textContent
	t.state = stateLocalEditPending
	t.editingUntil = t.clock().Add(t.suppressionWindow)

	if t.suppression != nil {
		t.suppression.Stop()
	}
	t.suppression = time.AfterFunc(t.suppressionWindow, t.suppressionLapsed)

	if t.debounce != nil {
		t.debounce.Stop()
	}
	t.debounce = time.AfterFunc(t.debounceInterval, func() { t.persist(textContent) })
	t.mu.Unlock()

	if t.onDisplay != nil {
		t.onDisplay(textContent)
	}
	t.emitter.SendTextUpdate(t.notebookID, textContent)
}

// ApplyRemote offers a remote text value to the synchronizer and reports
// whether it was applied. A discarded value is not an error: the staleness
// window heals on the next update in either direction.
func (t *TextSynchronizer) ApplyRemote(textContent string) bool {
	t.mu.Lock()
	locallyEditing := t.state == stateLocalEditPending && t.clock().Before(t.editingUntil)
	if !t.strategy.ShouldApplyRemote(textContent, t.lastSent, locallyEditing) {
		t.mu.Unlock()
		return false
	}
	t.content = textContent
	t.lastSent = textContent
	t.state = stateSynced
	t.mu.Unlock()

	if t.onDisplay != nil {
		t.onDisplay(textContent)
	}
	return true
}

// Seed installs the content-sync snapshot a joining participant receives.
func (t *TextSynchronizer) Seed(textContent string) {
	t.mu.Lock()
	t.content = textContent
	t.lastSent = textContent
	t.state = stateSynced
	t.mu.Unlock()

	if t.onDisplay != nil {
		t.onDisplay(textContent)
	}
}

// Content returns the current display value.
func (t *TextSynchronizer) Content() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.content
}

// Flush persists the current value immediately, cancelling any pending
// debounce. Used on session teardown so the quiet-window tail is not lost.
func (t *TextSynchronizer) Flush(ctx context.Context) error {
	t.mu.Lock()
	if t.debounce != nil {
		t.debounce.Stop()
		t.debounce = nil
	}
	textContent := t.content
	t.mu.Unlock()
	return t.saver.SaveText(ctx, t.notebookID, textContent)
}

// Stop cancels outstanding timers. The synchronizer accepts no further
// local edits afterwards.
func (t *TextSynchronizer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.suppression != nil {
		t.suppression.Stop()
		t.suppression = nil
	}
	if t.debounce != nil {
		t.debounce.Stop()
		t.debounce = nil
	}
}

func (t *TextSynchronizer) suppressionLapsed() {
	t.mu.Lock()
	if t.state == stateLocalEditPending && !t.clock().Before(t.editingUntil) {
		t.state = stateIdle
	}
	t.mu.Unlock()
}

func (t *TextSynchronizer) persist(textContent string) {
	if err := t.saver.SaveText(context.Background(), t.notebookID, textContent); err != nil {
		if t.onSaveError != nil {
			t.onSaveError(err)
		}
	}
}
