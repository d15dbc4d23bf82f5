package content

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/collabnote/collabnote/protocol"
)

const (
	opRestoreRevision = "content.restore_revision"
	opAddTodo         = "content.add_todo"
	opToggleTodo      = "content.toggle_todo"
	opDeleteTodo      = "content.delete_todo"
	opListTodos       = "content.list_todos"
	opAddComment      = "content.add_comment"
	opListComments    = "content.list_comments"
)

var (
	// ErrRevisionNotFound indicates a restore target that does not exist
	// for the notebook.
	ErrRevisionNotFound = errors.New("content: revision not found")
	// ErrTodoNotFound indicates a toggle or delete against a missing task.
	ErrTodoNotFound = errors.New("content: todo not found")
	errEmptyText    = errors.New("text must not be empty")
)

// RestoreRevision copies a stored revision back over the current snapshot.
// The restore itself is one durable save, so it appends a fresh revision row
// and bumps the version rather than rewriting history in place.
func (s *Service) RestoreRevision(ctx context.Context, notebookID NotebookID, revisionID string) (SnapshotData, error) {
	var revision Revision
	err := s.db.WithContext(ctx).
		Where("notebook_id = ? AND revision_id = ?", notebookID.String(), revisionID).
		Take(&revision).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return SnapshotData{}, newServiceError(opRestoreRevision, "revision_not_found", ErrRevisionNotFound)
	}
	if err != nil {
		s.logError(opRestoreRevision, "revision_select_failed", err, zap.String("notebook_id", notebookID.String()))
		return SnapshotData{}, newServiceError(opRestoreRevision, "revision_select_failed", err)
	}

	drawing := protocol.DrawingData{Paths: []protocol.DrawPath{}}
	if revision.DrawingJSON != "" {
		if err := json.Unmarshal([]byte(revision.DrawingJSON), &drawing); err != nil {
			s.logError(opRestoreRevision, "drawing_decode_failed", err, zap.String("notebook_id", notebookID.String()))
			return SnapshotData{}, newServiceError(opRestoreRevision, "drawing_decode_failed", err)
		}
	}

	return s.SaveSnapshot(ctx, notebookID, SnapshotUpdate{
		TextContent: &revision.TextContent,
		Drawing:     &drawing,
	})
}

// AddTodo appends one task to the notebook's shared list.
func (s *Service) AddTodo(ctx context.Context, notebookID NotebookID, text string) (TodoItem, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return TodoItem{}, newServiceError(opAddTodo, "empty_text", errEmptyText)
	}

	todoID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opAddTodo, "id_generation_failed", err, zap.String("notebook_id", notebookID.String()))
		return TodoItem{}, newServiceError(opAddTodo, "id_generation_failed", err)
	}

	item := TodoItem{
		TodoID:           todoID,
		NotebookID:       notebookID.String(),
		Text:             trimmed,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&item).Error; err != nil {
		s.logError(opAddTodo, "insert_failed", err, zap.String("notebook_id", notebookID.String()))
		return TodoItem{}, newServiceError(opAddTodo, "insert_failed", err)
	}
	return item, nil
}

// ToggleTodo flips a task's completion state and returns the updated row.
func (s *Service) ToggleTodo(ctx context.Context, notebookID NotebookID, todoID string) (TodoItem, error) {
	var result TodoItem
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var item TodoItem
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("notebook_id = ? AND todo_id = ?", notebookID.String(), todoID).
			Take(&item).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opToggleTodo, "todo_not_found", ErrTodoNotFound)
		}
		if err != nil {
			s.logError(opToggleTodo, "todo_select_failed", err, zap.String("notebook_id", notebookID.String()))
			return newServiceError(opToggleTodo, "todo_select_failed", err)
		}

		item.Completed = !item.Completed
		if err := tx.Save(&item).Error; err != nil {
			s.logError(opToggleTodo, "todo_save_failed", err, zap.String("notebook_id", notebookID.String()))
			return newServiceError(opToggleTodo, "todo_save_failed", err)
		}
		result = item
		return nil
	})
	if txErr != nil {
		return TodoItem{}, txErr
	}
	return result, nil
}

// DeleteTodo removes a task from the notebook's list.
func (s *Service) DeleteTodo(ctx context.Context, notebookID NotebookID, todoID string) error {
	deletion := s.db.WithContext(ctx).
		Where("notebook_id = ? AND todo_id = ?", notebookID.String(), todoID).
		Delete(&TodoItem{})
	if deletion.Error != nil {
		s.logError(opDeleteTodo, "delete_failed", deletion.Error, zap.String("notebook_id", notebookID.String()))
		return newServiceError(opDeleteTodo, "delete_failed", deletion.Error)
	}
	if deletion.RowsAffected == 0 {
		return newServiceError(opDeleteTodo, "todo_not_found", ErrTodoNotFound)
	}
	return nil
}

// ListTodos returns the notebook's tasks in creation order.
func (s *Service) ListTodos(ctx context.Context, notebookID NotebookID) ([]TodoItem, error) {
	var items []TodoItem
	if err := s.db.WithContext(ctx).
		Where("notebook_id = ?", notebookID.String()).
		Order("created_at_s ASC, todo_id ASC").
		Find(&items).Error; err != nil {
		s.logError(opListTodos, "query_failed", err, zap.String("notebook_id", notebookID.String()))
		return nil, newServiceError(opListTodos, "query_failed", err)
	}
	return items, nil
}

// AddComment appends one discussion entry to the notebook.
func (s *Service) AddComment(ctx context.Context, notebookID NotebookID, authorID, authorName, text string) (Comment, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Comment{}, newServiceError(opAddComment, "empty_text", errEmptyText)
	}

	commentID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opAddComment, "id_generation_failed", err, zap.String("notebook_id", notebookID.String()))
		return Comment{}, newServiceError(opAddComment, "id_generation_failed", err)
	}

	comment := Comment{
		CommentID:        commentID,
		NotebookID:       notebookID.String(),
		AuthorID:         authorID,
		AuthorName:       authorName,
		Text:             trimmed,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&comment).Error; err != nil {
		s.logError(opAddComment, "insert_failed", err, zap.String("notebook_id", notebookID.String()))
		return Comment{}, newServiceError(opAddComment, "insert_failed", err)
	}
	return comment, nil
}

// ListComments returns the notebook's discussion in posting order.
func (s *Service) ListComments(ctx context.Context, notebookID NotebookID) ([]Comment, error) {
	var comments []Comment
	if err := s.db.WithContext(ctx).
		Where("notebook_id = ?", notebookID.String()).
		Order("created_at_s ASC, comment_id ASC").
		Find(&comments).Error; err != nil {
		s.logError(opListComments, "query_failed", err, zap.String("notebook_id", notebookID.String()))
		return nil, newServiceError(opListComments, "query_failed", err)
	}
	return comments, nil
}
