package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/collabnote/collabnote/internal/content"
)

func (h *httpHandler) handleRestoreRevision(c *gin.Context) {
	notebookID, ok := h.notebookIDParam(c)
	if !ok {
		return
	}
	revisionID := c.Param("revisionId")
	if revisionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_revision_id"})
		return
	}

	snapshot, err := h.contentService.RestoreRevision(c.Request.Context(), notebookID, revisionID)
	if errors.Is(err, content.ErrRevisionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "revision_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to restore revision", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "restore_failed"})
		return
	}

	identity := h.identityFromContext(c)
	if err := h.contentService.RecordActivity(c.Request.Context(), content.ActivityEvent{
		NotebookID: notebookID,
		ActorID:    identity.UserID,
		ActorName:  identity.DisplayName,
		Action:     content.ActivityActionEdit,
		Details:    "restored an earlier version",
	}); err != nil {
		h.logger.Warn("restore activity not recorded", zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"content": contentPayload{
		TextContent: snapshot.TextContent,
		DrawingData: snapshot.Drawing,
		Version:     snapshot.Version,
	}})
}

type todoPayload struct {
	TodoID    string `json:"id"`
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
	CreatedAt int64  `json:"createdAt"`
}

func todoResponse(item content.TodoItem) todoPayload {
	return todoPayload{
		TodoID:    item.TodoID,
		Text:      item.Text,
		Completed: item.Completed,
		CreatedAt: item.CreatedAtSeconds,
	}
}

func (h *httpHandler) handleListTodos(c *gin.Context) {
	notebookID, ok := h.notebookIDParam(c)
	if !ok {
		return
	}

	items, err := h.contentService.ListTodos(c.Request.Context(), notebookID)
	if err != nil {
		h.logger.Error("failed to list todos", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "todos_failed"})
		return
	}

	todos := make([]todoPayload, 0, len(items))
	for _, item := range items {
		todos = append(todos, todoResponse(item))
	}
	c.JSON(http.StatusOK, gin.H{"todos": todos})
}

type textRequestPayload struct {
	Text string `json:"text"`
}

func (h *httpHandler) handleAddTodo(c *gin.Context) {
	notebookID, ok := h.notebookIDParam(c)
	if !ok {
		return
	}

	var request textRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	item, err := h.contentService.AddTodo(c.Request.Context(), notebookID, request.Text)
	if err != nil {
		h.logger.Error("failed to add todo", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	identity := h.identityFromContext(c)
	if err := h.contentService.RecordActivity(c.Request.Context(), content.ActivityEvent{
		NotebookID: notebookID,
		ActorID:    identity.UserID,
		ActorName:  identity.DisplayName,
		Action:     content.ActivityActionTodo,
		Details:    "added a task",
	}); err != nil {
		h.logger.Warn("todo activity not recorded", zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"todo": todoResponse(item)})
}

func (h *httpHandler) handleToggleTodo(c *gin.Context) {
	notebookID, ok := h.notebookIDParam(c)
	if !ok {
		return
	}

	item, err := h.contentService.ToggleTodo(c.Request.Context(), notebookID, c.Param("todoId"))
	if errors.Is(err, content.ErrTodoNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "todo_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to toggle todo", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "toggle_failed"})
		return
	}

	identity := h.identityFromContext(c)
	details := "reopened a task"
	if item.Completed {
		details = "completed a task"
	}
	if err := h.contentService.RecordActivity(c.Request.Context(), content.ActivityEvent{
		NotebookID: notebookID,
		ActorID:    identity.UserID,
		ActorName:  identity.DisplayName,
		Action:     content.ActivityActionTodo,
		Details:    details,
	}); err != nil {
		h.logger.Warn("todo activity not recorded", zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"todo": todoResponse(item)})
}

func (h *httpHandler) handleDeleteTodo(c *gin.Context) {
	notebookID, ok := h.notebookIDParam(c)
	if !ok {
		return
	}

	err := h.contentService.DeleteTodo(c.Request.Context(), notebookID, c.Param("todoId"))
	if errors.Is(err, content.ErrTodoNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "todo_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to delete todo", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

type commentPayload struct {
	CommentID string `json:"id"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	Text      string `json:"text"`
	CreatedAt int64  `json:"createdAt"`
}

func commentResponse(comment content.Comment) commentPayload {
	return commentPayload{
		CommentID: comment.CommentID,
		UserID:    comment.AuthorID,
		UserName:  comment.AuthorName,
		Text:      comment.Text,
		CreatedAt: comment.CreatedAtSeconds,
	}
}

func (h *httpHandler) handleListComments(c *gin.Context) {
	notebookID, ok := h.notebookIDParam(c)
	if !ok {
		return
	}

	comments, err := h.contentService.ListComments(c.Request.Context(), notebookID)
	if err != nil {
		h.logger.Error("failed to list comments", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "comments_failed"})
		return
	}

	payload := make([]commentPayload, 0, len(comments))
	for _, comment := range comments {
		payload = append(payload, commentResponse(comment))
	}
	c.JSON(http.StatusOK, gin.H{"comments": payload})
}

func (h *httpHandler) handleAddComment(c *gin.Context) {
	notebookID, ok := h.notebookIDParam(c)
	if !ok {
		return
	}

	var request textRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	identity := h.identityFromContext(c)
	comment, err := h.contentService.AddComment(c.Request.Context(), notebookID, identity.UserID, identity.DisplayName, request.Text)
	if err != nil {
		h.logger.Error("failed to add comment", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.contentService.RecordActivity(c.Request.Context(), content.ActivityEvent{
		NotebookID: notebookID,
		ActorID:    identity.UserID,
		ActorName:  identity.DisplayName,
		Action:     content.ActivityActionComment,
		Details:    "commented",
	}); err != nil {
		h.logger.Warn("comment activity not recorded", zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"comment": commentResponse(comment)})
}
