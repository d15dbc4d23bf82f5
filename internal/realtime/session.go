package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/collabnote/collabnote/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 1 << 20
	sendBufferSize = 32
)

// Session binds one websocket connection to its authenticated participant.
// A single goroutine reads, a single goroutine writes; the buffered send
// channel keeps the per-receiver FIFO ordering the engine promises.
type Session struct {
	conn        *websocket.Conn
	send        chan []byte
	participant protocol.Participant
	registry    *Registry
	logger      *zap.Logger

	mu         sync.Mutex
	notebookID string

	done      chan struct{}
	closeOnce sync.Once
}

// NewSession wraps an upgraded connection for the given participant.
func NewSession(conn *websocket.Conn, participant protocol.Participant, registry *Registry, logger *zap.Logger) *Session {
	if logger == nil {
		logger = noOpLogger
	}
	return &Session{
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		participant: participant,
		registry:    registry,
		logger:      logger,
		done:        make(chan struct{}),
	}
}

// Deliver queues one message for the connection without blocking. A full
// buffer reports false and the message is dropped.
func (s *Session) Deliver(message []byte) bool {
	select {
	case <-s.done:
		return false
	case s.send <- message:
		return true
	default:
		return false
	}
}

// Run services the connection until the peer disconnects or ctx is
// cancelled, then removes the participant from any room it joined.
func (s *Session) Run(ctx context.Context) {
	go s.writePump()
	s.readPump(ctx)
}

func (s *Session) readPump(ctx context.Context) {
	defer func() {
		s.leaveCurrentRoom(ctx)
		s.shutdown()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read failed",
					zap.String("participant_id", s.participant.ID),
					zap.Error(err))
			}
			return
		}
		s.dispatch(ctx, message)
	}
}

func (s *Session) dispatch(ctx context.Context, message []byte) {
	var envelope protocol.Envelope
	if err := json.Unmarshal(message, &envelope); err != nil {
		s.logger.Warn("malformed envelope dropped",
			zap.String("participant_id", s.participant.ID),
			zap.Error(err))
		return
	}

	switch envelope.Event {
	case protocol.EventJoinNotebook:
		s.handleJoin(ctx, envelope.Data)
	case protocol.EventLeaveNotebook:
		s.handleLeave(ctx, envelope.Data)
	case protocol.EventTextUpdate:
		s.handleTextUpdate(ctx, envelope.Data)
	case protocol.EventDrawingUpdate:
		s.handleDrawingUpdate(ctx, envelope.Data)
	default:
		s.logger.Debug("unknown event dropped", zap.String("event", envelope.Event))
	}
}

func (s *Session) handleJoin(ctx context.Context, data json.RawMessage) {
	notebookID := decodeNotebookID(data)
	if notebookID == "" {
		return
	}

	// One room per connection: switching notebooks leaves the old room.
	s.leaveCurrentRoom(ctx)

	if err := s.registry.Join(ctx, notebookID, s.participant, s); err != nil {
		s.logger.Warn("room join failed",
			zap.String("notebook_id", notebookID),
			zap.String("participant_id", s.participant.ID),
			zap.Error(err))
		return
	}

	s.mu.Lock()
	s.notebookID = notebookID
	s.mu.Unlock()
}

func (s *Session) handleLeave(ctx context.Context, data json.RawMessage) {
	notebookID := decodeNotebookID(data)
	current := s.currentRoom()
	if notebookID == "" || notebookID != current {
		return
	}
	s.leaveCurrentRoom(ctx)
}

func (s *Session) handleTextUpdate(ctx context.Context, data json.RawMessage) {
	var payload protocol.TextUpdatePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	notebookID := payload.NotebookID
	if notebookID == "" {
		notebookID = s.currentRoom()
	}
	if notebookID == "" {
		return
	}
	if err := s.registry.ApplyTextUpdate(ctx, notebookID, s.participant, payload.TextContent); err != nil {
		s.logger.Warn("text update rejected",
			zap.String("notebook_id", notebookID),
			zap.String("participant_id", s.participant.ID),
			zap.Error(err))
	}
}

func (s *Session) handleDrawingUpdate(ctx context.Context, data json.RawMessage) {
	var payload protocol.DrawingUpdatePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	notebookID := payload.NotebookID
	if notebookID == "" {
		notebookID = s.currentRoom()
	}
	if notebookID == "" {
		return
	}
	if err := s.registry.ApplyDrawingUpdate(ctx, notebookID, s.participant, payload.Action, payload.Path); err != nil {
		s.logger.Warn("drawing update rejected",
			zap.String("notebook_id", notebookID),
			zap.String("participant_id", s.participant.ID),
			zap.Error(err))
	}
}

func (s *Session) currentRoom() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notebookID
}

func (s *Session) leaveCurrentRoom(ctx context.Context) {
	s.mu.Lock()
	notebookID := s.notebookID
	s.notebookID = ""
	s.mu.Unlock()
	if notebookID != "" {
		s.registry.Leave(ctx, notebookID, s.participant)
	}
}

func (s *Session) shutdown() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.shutdown()
	}()

	for {
		select {
		case <-s.done:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// decodeNotebookID accepts both the bare string form the browser client
// emits and the wrapped {"notebookId": ...} object form.
func decodeNotebookID(data json.RawMessage) string {
	var raw string
	if err := json.Unmarshal(data, &raw); err == nil {
		return raw
	}
	var payload protocol.JoinNotebookPayload
	if err := json.Unmarshal(data, &payload); err == nil {
		return payload.NotebookID
	}
	return ""
}
