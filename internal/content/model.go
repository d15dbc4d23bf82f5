package content

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidNotebookID indicates that a notebook identifier is empty or exceeds storage bounds.
	ErrInvalidNotebookID = errors.New("content: invalid notebook id")
)

// Activity actions surfaced in the notebook feed.
const (
	ActivityActionEdit    = "edit"
	ActivityActionDraw    = "draw"
	ActivityActionComment = "comment"
	ActivityActionTodo    = "todo"
	ActivityActionJoin    = "join"
)

// NotebookID represents a validated notebook identifier.
type NotebookID string

// NewNotebookID validates raw input and returns a NotebookID.
func NewNotebookID(rawInput string) (NotebookID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidNotebookID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidNotebookID, maxIdentifierLength)
	}
	return NotebookID(trimmed), nil
}

// String returns the underlying string identifier.
func (id NotebookID) String() string {
	return string(id)
}

// Snapshot is the durable current state of one notebook: the serialized
// rich-text markup and the drawing path log, stored as JSON.
type Snapshot struct {
	NotebookID       string `gorm:"column:notebook_id;primaryKey;size:190;not null"`
	TextContent      string `gorm:"column:text_content;type:text;not null"`
	DrawingJSON      string `gorm:"column:drawing_json;type:text;not null"`
	Version          int64  `gorm:"column:version;not null;default:1"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Snapshot) TableName() string {
	return "notebook_snapshots"
}

// Revision captures an append-only history of snapshot saves.
type Revision struct {
	RevisionID     string `gorm:"column:revision_id;primaryKey;size:190;not null"`
	NotebookID     string `gorm:"column:notebook_id;size:190;not null;index:idx_revisions_notebook_saved,priority:1"`
	TextContent    string `gorm:"column:text_content;type:text;not null"`
	DrawingJSON    string `gorm:"column:drawing_json;type:text;not null"`
	Version        int64  `gorm:"column:version;not null"`
	SavedAtSeconds int64  `gorm:"column:saved_at_s;not null;index:idx_revisions_notebook_saved,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Revision) TableName() string {
	return "notebook_revisions"
}

// TodoItem is one entry of a notebook's shared task list.
type TodoItem struct {
	TodoID           string `gorm:"column:todo_id;primaryKey;size:190;not null"`
	NotebookID       string `gorm:"column:notebook_id;size:190;not null;index:idx_todos_notebook_time,priority:1"`
	Text             string `gorm:"column:text;type:text;not null"`
	Completed        bool   `gorm:"column:completed;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;index:idx_todos_notebook_time,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (TodoItem) TableName() string {
	return "notebook_todos"
}

// Comment is one discussion entry attached to a notebook.
type Comment struct {
	CommentID        string `gorm:"column:comment_id;primaryKey;size:190;not null"`
	NotebookID       string `gorm:"column:notebook_id;size:190;not null;index:idx_comments_notebook_time,priority:1"`
	AuthorID         string `gorm:"column:author_id;size:190;not null"`
	AuthorName       string `gorm:"column:author_name;size:320;not null"`
	Text             string `gorm:"column:text;type:text;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;index:idx_comments_notebook_time,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Comment) TableName() string {
	return "notebook_comments"
}

// ActivityRecord is one append-only entry in a notebook's activity feed.
type ActivityRecord struct {
	ActivityID       string `gorm:"column:activity_id;primaryKey;size:190;not null"`
	NotebookID       string `gorm:"column:notebook_id;size:190;not null;index:idx_activity_notebook_time,priority:1"`
	ActorID          string `gorm:"column:actor_id;size:190;not null"`
	ActorName        string `gorm:"column:actor_name;size:320;not null"`
	Action           string `gorm:"column:action;size:32;not null"`
	Details          string `gorm:"column:details;type:text;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;index:idx_activity_notebook_time,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (ActivityRecord) TableName() string {
	return "notebook_activity"
}
