// Package client implements the participant side of the collaboration
// engine: a scoped realtime channel, the text synchronizer with its echo
// guard and debounced durable saves, the drawing log, and the presence
// roster. Applications embed these pieces behind their own UI.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/collabnote/collabnote/protocol"
)

const channelWriteWait = 10 * time.Second

var errUnsupportedScheme = errors.New("server url scheme must be http(s) or ws(s)")

// ChannelHandlers receive room-to-client events. Nil handlers are skipped.
// Handlers run on the channel's read goroutine, preserving the per-sender
// FIFO order the wire provides.
type ChannelHandlers struct {
	OnContentSync   func(protocol.ContentSyncPayload)
	OnTextUpdate    func(protocol.TextUpdatePayload)
	OnDrawingUpdate func(protocol.DrawingUpdatePayload)
	OnOnlineUsers   func([]protocol.Participant)
	OnUserJoined    func(protocol.Participant)
	OnUserLeft      func(protocol.Participant)
	OnDisconnect    func(error)
}

// Channel is the participant's explicitly owned connection to the room: one
// is created at session start and released with Close at session end. Every
// emit on a disconnected channel is a silent no-op, so callers never need to
// guard their sends.
type Channel struct {
	conn     *websocket.Conn
	handlers ChannelHandlers
	logger   *zap.Logger

	writeMu sync.Mutex

	mu        sync.Mutex
	connected bool

	closeOnce sync.Once
}

// DialChannel connects to the realtime endpoint, authenticating with the
// session token, and starts dispatching incoming events to handlers.
func DialChannel(ctx context.Context, serverURL, accessToken string, handlers ChannelHandlers, logger *zap.Logger) (*Channel, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	endpoint, err := realtimeEndpoint(serverURL, accessToken)
	if err != nil {
		return nil, err
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	channel := &Channel{
		conn:      conn,
		handlers:  handlers,
		logger:    logger,
		connected: true,
	}
	go channel.readLoop()
	return channel, nil
}

// Connected reports whether the channel can still reach the room.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close releases the connection. Safe to call more than once; repeat calls
// return nil.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.markDisconnected()
		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(channelWriteWait))
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// JoinNotebook enters the notebook's presence set and requests the initial
// content-sync snapshot.
func (c *Channel) JoinNotebook(notebookID string) {
	c.emit(protocol.EventJoinNotebook, protocol.JoinNotebookPayload{NotebookID: notebookID})
}

// LeaveNotebook leaves the notebook's presence set.
func (c *Channel) LeaveNotebook(notebookID string) {
	c.emit(protocol.EventLeaveNotebook, protocol.LeaveNotebookPayload{NotebookID: notebookID})
}

// SendTextUpdate propagates one local text edit to the room.
func (c *Channel) SendTextUpdate(notebookID, textContent string) {
	c.emit(protocol.EventTextUpdate, protocol.TextUpdatePayload{
		NotebookID:  notebookID,
		TextContent: textContent,
	})
}

// SendDrawingUpdate propagates one local drawing operation to the room.
func (c *Channel) SendDrawingUpdate(notebookID, action string, path *protocol.DrawPath) {
	c.emit(protocol.EventDrawingUpdate, protocol.DrawingUpdatePayload{
		NotebookID: notebookID,
		Action:     action,
		Path:       path,
	})
}

func (c *Channel) emit(event string, payload any) {
	if !c.Connected() {
		return
	}
	envelope, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		c.logger.Error("emit encode failed", zap.String("event", event), zap.Error(err))
		return
	}
	message, err := json.Marshal(envelope)
	if err != nil {
		c.logger.Error("emit encode failed", zap.String("event", event), zap.Error(err))
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(channelWriteWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		c.logger.Warn("emit dropped on dead channel", zap.String("event", event), zap.Error(err))
		c.markDisconnected()
	}
}

func (c *Channel) readLoop() {
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			c.markDisconnected()
			if c.handlers.OnDisconnect != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.handlers.OnDisconnect(err)
			}
			return
		}
		c.dispatch(message)
	}
}

func (c *Channel) dispatch(message []byte) {
	var envelope protocol.Envelope
	if err := json.Unmarshal(message, &envelope); err != nil {
		c.logger.Warn("malformed envelope dropped", zap.Error(err))
		return
	}

	switch envelope.Event {
	case protocol.EventContentSync:
		var payload protocol.ContentSyncPayload
		if json.Unmarshal(envelope.Data, &payload) == nil && c.handlers.OnContentSync != nil {
			c.handlers.OnContentSync(payload)
		}
	case protocol.EventTextUpdate:
		var payload protocol.TextUpdatePayload
		if json.Unmarshal(envelope.Data, &payload) == nil && c.handlers.OnTextUpdate != nil {
			c.handlers.OnTextUpdate(payload)
		}
	case protocol.EventDrawingUpdate:
		var payload protocol.DrawingUpdatePayload
		if json.Unmarshal(envelope.Data, &payload) == nil && c.handlers.OnDrawingUpdate != nil {
			c.handlers.OnDrawingUpdate(payload)
		}
	case protocol.EventOnlineUsers:
		var payload protocol.OnlineUsersPayload
		if json.Unmarshal(envelope.Data, &payload) == nil && c.handlers.OnOnlineUsers != nil {
			c.handlers.OnOnlineUsers(payload.Users)
		}
	case protocol.EventUserJoined:
		var payload protocol.PresencePayload
		if json.Unmarshal(envelope.Data, &payload) == nil && c.handlers.OnUserJoined != nil {
			c.handlers.OnUserJoined(payload.User)
		}
	case protocol.EventUserLeft:
		var payload protocol.PresencePayload
		if json.Unmarshal(envelope.Data, &payload) == nil && c.handlers.OnUserLeft != nil {
			c.handlers.OnUserLeft(payload.User)
		}
	default:
		c.logger.Debug("unknown event dropped", zap.String("event", envelope.Event))
	}
}

func (c *Channel) markDisconnected() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func realtimeEndpoint(serverURL, accessToken string) (string, error) {
	parsed, err := url.Parse(strings.TrimRight(serverURL, "/"))
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "http", "ws":
		parsed.Scheme = "ws"
	case "https", "wss":
		parsed.Scheme = "wss"
	default:
		return "", &url.Error{Op: "dial", URL: serverURL, Err: errUnsupportedScheme}
	}
	parsed.Path = parsed.Path + "/ws"
	query := parsed.Query()
	query.Set("access_token", accessToken)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
