// Package protocol defines the wire vocabulary shared by the realtime
// server and the participant-side client engine. Payload field names match
// the JSON the browser clients emit and expect.
package protocol

import "encoding/json"

// Client-to-room event names.
const (
	EventJoinNotebook  = "join-notebook"
	EventLeaveNotebook = "leave-notebook"
	EventTextUpdate    = "text-update"
	EventDrawingUpdate = "drawing-update"
)

// Room-to-client event names. EventTextUpdate and EventDrawingUpdate are
// reused for the remote direction.
const (
	EventContentSync = "content-sync"
	EventOnlineUsers = "online-users"
	EventUserJoined  = "user-joined"
	EventUserLeft    = "user-left"
)

// Drawing actions carried by EventDrawingUpdate.
const (
	DrawingActionAdd   = "add"
	DrawingActionUndo  = "undo"
	DrawingActionClear = "clear"
)

// Path types produced by the drawing canvas. Freehand pen strokes omit the
// type tag; the remaining tools set it explicitly.
const (
	PathTypeFreehand  = ""
	PathTypeEraser    = "eraser"
	PathTypeLine      = "line"
	PathTypeRectangle = "rectangle"
	PathTypeCircle    = "circle"
	PathTypeArrow     = "arrow"
)

// Envelope frames every websocket message as an event name plus payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Point is a single canvas coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DrawPath is one immutable drawing operation. Freehand and eraser paths
// carry Points; shape paths carry Start and End. The engine preserves every
// field untouched through append, broadcast, and persistence.
type DrawPath struct {
	Type   string  `json:"type,omitempty"`
	Points []Point `json:"points,omitempty"`
	Start  *Point  `json:"start,omitempty"`
	End    *Point  `json:"end,omitempty"`
	Color  string  `json:"color,omitempty"`
	Size   float64 `json:"size,omitempty"`
}

// DrawingData wraps the ordered path log the way snapshots store it.
type DrawingData struct {
	Paths []DrawPath `json:"paths"`
}

// Participant identifies one connected collaborator.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"name"`
	Color       string `json:"color"`
}

// JoinNotebookPayload enters a notebook's presence set.
type JoinNotebookPayload struct {
	NotebookID string `json:"notebookId"`
}

// LeaveNotebookPayload leaves a notebook's presence set.
type LeaveNotebookPayload struct {
	NotebookID string `json:"notebookId"`
}

// TextUpdatePayload propagates one text edit. NotebookID is set on the
// client-to-room leg and omitted on fan-out.
type TextUpdatePayload struct {
	NotebookID  string `json:"notebookId,omitempty"`
	TextContent string `json:"textContent"`
}

// DrawingUpdatePayload propagates one drawing operation. Path is present
// only for the add action.
type DrawingUpdatePayload struct {
	NotebookID string    `json:"notebookId,omitempty"`
	Path       *DrawPath `json:"path,omitempty"`
	Action     string    `json:"action"`
}

// ContentSyncPayload carries the full room snapshot sent to a joining
// participant.
type ContentSyncPayload struct {
	TextContent string      `json:"textContent"`
	DrawingData DrawingData `json:"drawingData"`
}

// OnlineUsersPayload is the full presence roster.
type OnlineUsersPayload struct {
	Users []Participant `json:"users"`
}

// PresencePayload is the incremental presence delta for user-joined and
// user-left.
type PresencePayload struct {
	User Participant `json:"user"`
}

// NewEnvelope marshals payload and wraps it with the event name.
func NewEnvelope(event string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Event: event}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: data}, nil
}
