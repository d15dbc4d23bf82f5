package client

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/collabnote/collabnote/protocol"
)

// SessionConfig describes how to open one notebook session.
type SessionConfig struct {
	ServerURL   string
	AccessToken string
	NotebookID  string
	// OnTextChange and OnDrawingChange drive the application's rendering.
	OnTextChange    func(string)
	OnDrawingChange func([]protocol.DrawPath)
	OnRosterChange  func([]protocol.Participant)
	OnSaveError     func(error)
	OnDisconnect    func(error)
	// Strategy, SuppressionWindow, and DebounceInterval tune the text
	// synchronizer; zero values pick the defaults.
	Strategy          ConvergenceStrategy
	SuppressionWindow time.Duration
	DebounceInterval  time.Duration
	Logger            *zap.Logger
}

// NotebookSession is one participant's live attachment to one notebook. It
// composes the realtime channel, the text synchronizer, the drawing log,
// and the presence roster behind a single surface.
type NotebookSession struct {
	notebookID string
	channel    *Channel
	api        *ContentAPI
	text       *TextSynchronizer
	drawing    *DrawingLog
	roster     *Roster
	logger     *zap.Logger
}

// JoinNotebook opens a session: it dials the realtime channel, wires the
// incoming events into the local replicas, and enters the notebook's
// presence set. The initial content-sync seeds both replicas before any
// live update is observed.
func JoinNotebook(ctx context.Context, cfg SessionConfig) (*NotebookSession, error) {
	if cfg.NotebookID == "" {
		return nil, errMissingNotebookID
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	api, err := NewContentAPI(cfg.ServerURL, cfg.AccessToken, nil)
	if err != nil {
		return nil, err
	}

	session := &NotebookSession{
		notebookID: cfg.NotebookID,
		api:        api,
		roster:     &Roster{},
		logger:     logger,
	}

	channel, err := DialChannel(ctx, cfg.ServerURL, cfg.AccessToken, ChannelHandlers{
		OnContentSync:   session.applyContentSync,
		OnTextUpdate:    session.applyTextUpdate,
		OnDrawingUpdate: session.applyDrawingUpdate,
		OnOnlineUsers: func(users []protocol.Participant) {
			session.roster.SetAll(users)
			session.notifyRoster(cfg.OnRosterChange)
		},
		OnUserJoined: func(user protocol.Participant) {
			session.roster.Add(user)
			session.notifyRoster(cfg.OnRosterChange)
		},
		OnUserLeft: func(user protocol.Participant) {
			session.roster.Remove(user.ID)
			session.notifyRoster(cfg.OnRosterChange)
		},
		OnDisconnect: cfg.OnDisconnect,
	}, logger)
	if err != nil {
		return nil, err
	}
	session.channel = channel

	text, err := NewTextSynchronizer(TextSynchronizerConfig{
		NotebookID:        cfg.NotebookID,
		Emitter:           channel,
		Saver:             api,
		OnDisplay:         cfg.OnTextChange,
		OnSaveError:       cfg.OnSaveError,
		Strategy:          cfg.Strategy,
		SuppressionWindow: cfg.SuppressionWindow,
		DebounceInterval:  cfg.DebounceInterval,
	})
	if err != nil {
		_ = channel.Close()
		return nil, err
	}
	session.text = text

	drawing, err := NewDrawingLog(DrawingLogConfig{
		NotebookID:  cfg.NotebookID,
		Emitter:     channel,
		Saver:       api,
		OnChange:    cfg.OnDrawingChange,
		OnSaveError: cfg.OnSaveError,
	})
	if err != nil {
		_ = channel.Close()
		return nil, err
	}
	session.drawing = drawing

	channel.JoinNotebook(cfg.NotebookID)
	return session, nil
}

// EditText applies a local edit to the notebook text.
func (s *NotebookSession) EditText(textContent string) {
	s.text.LocalEdit(textContent)
}

// DrawPath appends a locally completed stroke.
func (s *NotebookSession) DrawPath(path protocol.DrawPath) {
	s.drawing.Append(path)
}

// Undo removes this replica's most recent path.
func (s *NotebookSession) Undo() {
	s.drawing.Undo()
}

// ClearCanvas empties the drawing and persists the empty state immediately.
func (s *NotebookSession) ClearCanvas(ctx context.Context) {
	s.drawing.Clear(ctx)
}

// Text returns the current text value.
func (s *NotebookSession) Text() string {
	return s.text.Content()
}

// Paths returns the current drawing log in append order.
func (s *NotebookSession) Paths() []protocol.DrawPath {
	return s.drawing.Paths()
}

// Participants returns the current presence roster.
func (s *NotebookSession) Participants() []protocol.Participant {
	return s.roster.Users()
}

// API exposes the REST client for history and activity reads.
func (s *NotebookSession) API() *ContentAPI {
	return s.api
}

// Leave exits the notebook's presence set but keeps the channel open.
func (s *NotebookSession) Leave() {
	s.channel.LeaveNotebook(s.notebookID)
}

// Close flushes pending text, leaves the notebook, and releases the
// channel.
func (s *NotebookSession) Close(ctx context.Context) error {
	s.text.Stop()
	if err := s.text.Flush(ctx); err != nil {
		s.logger.Warn("final text flush failed", zap.Error(err))
	}
	s.channel.LeaveNotebook(s.notebookID)
	return s.channel.Close()
}

func (s *NotebookSession) applyContentSync(payload protocol.ContentSyncPayload) {
	s.text.Seed(payload.TextContent)
	s.drawing.Seed(payload.DrawingData.Paths)
}

func (s *NotebookSession) applyTextUpdate(payload protocol.TextUpdatePayload) {
	s.text.ApplyRemote(payload.TextContent)
}

func (s *NotebookSession) applyDrawingUpdate(payload protocol.DrawingUpdatePayload) {
	s.drawing.ApplyRemote(payload.Action, payload.Path)
}

func (s *NotebookSession) notifyRoster(callback func([]protocol.Participant)) {
	if callback != nil {
		callback(s.roster.Users())
	}
}
