package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/collabnote/collabnote/internal/auth"
	"github.com/collabnote/collabnote/internal/content"
	"github.com/collabnote/collabnote/internal/realtime"
	"github.com/collabnote/collabnote/protocol"
)

const identityContextKey = "collabnote_identity"

var (
	errMissingIdentityVerifier = errors.New("identity verifier dependency required")
	errMissingTokenManager     = errors.New("token manager dependency required")
	errMissingContentService   = errors.New("content service dependency required")
	errMissingRegistry         = errors.New("room registry dependency required")
	errInvalidAuthorization    = errors.New("authorization header missing or invalid")
)

// IdentityVerifier checks an upstream credential and resolves the
// participant identity behind it. Identity issuance itself lives outside
// this service.
type IdentityVerifier interface {
	Verify(ctx context.Context, credential string) (auth.Identity, error)
}

// SessionTokenManager issues and validates the session tokens that carry a
// participant identity onto the realtime channel.
type SessionTokenManager interface {
	IssueSessionToken(ctx context.Context, identity auth.Identity) (string, int64, error)
	ValidateToken(token string) (auth.Identity, error)
}

// Dependencies wires the collaborators of the HTTP surface.
type Dependencies struct {
	IdentityVerifier IdentityVerifier
	TokenManager     SessionTokenManager
	ContentService   *content.Service
	Registry         *realtime.Registry
	Logger           *zap.Logger
	ActivityFeedSize int
}

// NewHTTPHandler builds the gin router for auth exchange, content REST, and
// the realtime websocket endpoint.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.IdentityVerifier == nil {
		return nil, errMissingIdentityVerifier
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.ContentService == nil {
		return nil, errMissingContentService
	}
	if deps.Registry == nil {
		return nil, errMissingRegistry
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	feedSize := deps.ActivityFeedSize
	if feedSize <= 0 {
		feedSize = 50
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		verifier:       deps.IdentityVerifier,
		tokens:         deps.TokenManager,
		contentService: deps.ContentService,
		registry:       deps.Registry,
		logger:         logger,
		feedSize:       feedSize,
	}

	router.POST("/auth/session", handler.handleSessionAuth)
	router.GET("/ws", handler.handleRealtime)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/content/:notebookId", handler.handleGetContent)
	protected.PUT("/content/:notebookId", handler.handleUpdateContent)
	protected.GET("/content/:notebookId/history", handler.handleGetHistory)
	protected.POST("/content/:notebookId/restore/:revisionId", handler.handleRestoreRevision)
	protected.GET("/content/:notebookId/activity", handler.handleGetActivity)
	protected.GET("/content/:notebookId/todos", handler.handleListTodos)
	protected.POST("/content/:notebookId/todos", handler.handleAddTodo)
	protected.PATCH("/content/:notebookId/todos/:todoId", handler.handleToggleTodo)
	protected.DELETE("/content/:notebookId/todos/:todoId", handler.handleDeleteTodo)
	protected.GET("/content/:notebookId/comments", handler.handleListComments)
	protected.POST("/content/:notebookId/comments", handler.handleAddComment)

	return router, nil
}

type httpHandler struct {
	verifier       IdentityVerifier
	tokens         SessionTokenManager
	contentService *content.Service
	registry       *realtime.Registry
	logger         *zap.Logger
	feedSize       int
}

type authRequestPayload struct {
	Credential string `json:"credential"`
}

type authResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleSessionAuth(c *gin.Context) {
	var request authRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Credential) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	identity, err := h.verifier.Verify(c.Request.Context(), request.Credential)
	if err != nil {
		h.logger.Warn("credential verification failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	token, expiresIn, err := h.tokens.IssueSessionToken(c.Request.Context(), identity)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, authResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

type contentPayload struct {
	TextContent string               `json:"textContent"`
	DrawingData protocol.DrawingData `json:"drawingData"`
	Version     int64                `json:"version"`
}

func (h *httpHandler) handleGetContent(c *gin.Context) {
	notebookID, ok := h.notebookIDParam(c)
	if !ok {
		return
	}

	snapshot, err := h.contentService.LoadSnapshot(c.Request.Context(), notebookID)
	if err != nil {
		h.logger.Error("failed to load snapshot", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"content": contentPayload{
		TextContent: snapshot.TextContent,
		DrawingData: snapshot.Drawing,
		Version:     snapshot.Version,
	}})
}

type updateContentPayload struct {
	TextContent *string               `json:"textContent"`
	DrawingData *protocol.DrawingData `json:"drawingData"`
}

func (h *httpHandler) handleUpdateContent(c *gin.Context) {
	notebookID, ok := h.notebookIDParam(c)
	if !ok {
		return
	}

	var request updateContentPayload
	if err := c.ShouldBindJSON(&request); err != nil || (request.TextContent == nil && request.DrawingData == nil) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	snapshot, err := h.contentService.SaveSnapshot(c.Request.Context(), notebookID, content.SnapshotUpdate{
		TextContent: request.TextContent,
		Drawing:     request.DrawingData,
	})
	if err != nil {
		h.logger.Error("failed to save snapshot", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save_failed"})
		return
	}

	if request.TextContent != nil {
		identity := h.identityFromContext(c)
		if err := h.contentService.RecordActivity(c.Request.Context(), content.ActivityEvent{
			NotebookID: notebookID,
			ActorID:    identity.UserID,
			ActorName:  identity.DisplayName,
			Action:     content.ActivityActionEdit,
			Details:    "updated the notes",
		}); err != nil {
			h.logger.Warn("edit activity not recorded", zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, gin.H{"content": contentPayload{
		TextContent: snapshot.TextContent,
		DrawingData: snapshot.Drawing,
		Version:     snapshot.Version,
	}})
}

type revisionPayload struct {
	RevisionID     string `json:"revisionId"`
	Version        int64  `json:"version"`
	SavedAtSeconds int64  `json:"saved_at_s"`
}

func (h *httpHandler) handleGetHistory(c *gin.Context) {
	notebookID, ok := h.notebookIDParam(c)
	if !ok {
		return
	}

	revisions, err := h.contentService.ListRevisions(c.Request.Context(), notebookID, 20)
	if err != nil {
		h.logger.Error("failed to list revisions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history_failed"})
		return
	}

	history := make([]revisionPayload, 0, len(revisions))
	for _, revision := range revisions {
		history = append(history, revisionPayload{
			RevisionID:     revision.RevisionID,
			Version:        revision.Version,
			SavedAtSeconds: revision.SavedAtSeconds,
		})
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}

type activityPayload struct {
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	Action    string `json:"action"`
	Details   string `json:"details"`
	Timestamp int64  `json:"timestamp"`
}

func (h *httpHandler) handleGetActivity(c *gin.Context) {
	notebookID, ok := h.notebookIDParam(c)
	if !ok {
		return
	}

	records, err := h.contentService.RecentActivity(c.Request.Context(), notebookID, h.feedSize)
	if err != nil {
		h.logger.Error("failed to load activity", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "activity_failed"})
		return
	}

	feed := make([]activityPayload, 0, len(records))
	for _, record := range records {
		feed = append(feed, activityPayload{
			UserID:    record.ActorID,
			UserName:  record.ActorName,
			Action:    record.Action,
			Details:   record.Details,
			Timestamp: record.CreatedAtSeconds,
		})
	}
	c.JSON(http.StatusOK, gin.H{"activity": feed})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	identity, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(identityContextKey, identity)
	c.Next()
}

func (h *httpHandler) identityFromContext(c *gin.Context) auth.Identity {
	value, ok := c.Get(identityContextKey)
	if !ok {
		return auth.Identity{}
	}
	identity, ok := value.(auth.Identity)
	if !ok {
		return auth.Identity{}
	}
	return identity
}

func (h *httpHandler) notebookIDParam(c *gin.Context) (content.NotebookID, bool) {
	notebookID, err := content.NewNotebookID(c.Param("notebookId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_notebook_id"})
		return "", false
	}
	return notebookID, true
}
