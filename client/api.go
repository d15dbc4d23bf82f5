package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/collabnote/collabnote/protocol"
)

const defaultRequestTimeout = 15 * time.Second

// APIError reports a non-success response from the content REST surface.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("content api: unexpected status %d: %s", e.StatusCode, e.Body)
}

// NotebookContent is the durable snapshot as the REST surface returns it.
type NotebookContent struct {
	TextContent string               `json:"textContent"`
	DrawingData protocol.DrawingData `json:"drawingData"`
	Version     int64                `json:"version"`
}

// Revision is one entry of a notebook's save history.
type Revision struct {
	RevisionID     string `json:"revisionId"`
	Version        int64  `json:"version"`
	SavedAtSeconds int64  `json:"saved_at_s"`
}

// ActivityEntry is one entry of a notebook's activity feed.
type ActivityEntry struct {
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	Action    string `json:"action"`
	Details   string `json:"details"`
	Timestamp int64  `json:"timestamp"`
}

// ContentAPI talks to the content REST surface with a session token. It
// implements SnapshotSaver so the synchronizer and drawing log can persist
// through it directly.
type ContentAPI struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
}

// NewContentAPI builds a client rooted at serverURL. A nil httpClient gets a
// default with a request timeout.
func NewContentAPI(serverURL, accessToken string, httpClient *http.Client) (*ContentAPI, error) {
	parsed, err := url.Parse(strings.TrimRight(serverURL, "/"))
	if err != nil {
		return nil, err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, &url.Error{Op: "parse", URL: serverURL, Err: errUnsupportedScheme}
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	return &ContentAPI{
		baseURL:     parsed.String(),
		accessToken: accessToken,
		httpClient:  httpClient,
	}, nil
}

// GetContent fetches the durable snapshot. Unknown notebooks come back as
// the empty snapshot, not an error.
func (a *ContentAPI) GetContent(ctx context.Context, notebookID string) (NotebookContent, error) {
	var response struct {
		Content NotebookContent `json:"content"`
	}
	err := a.do(ctx, http.MethodGet, "/content/"+url.PathEscape(notebookID), nil, &response)
	return response.Content, err
}

type contentUpdateRequest struct {
	TextContent *string               `json:"textContent,omitempty"`
	DrawingData *protocol.DrawingData `json:"drawingData,omitempty"`
}

// UpdateContent applies a partial update: nil fields leave the stored value
// untouched. Returns the snapshot after the save.
func (a *ContentAPI) UpdateContent(ctx context.Context, notebookID string, textContent *string, drawing *protocol.DrawingData) (NotebookContent, error) {
	var response struct {
		Content NotebookContent `json:"content"`
	}
	request := contentUpdateRequest{TextContent: textContent, DrawingData: drawing}
	err := a.do(ctx, http.MethodPut, "/content/"+url.PathEscape(notebookID), request, &response)
	return response.Content, err
}

// SaveText implements SnapshotSaver.
func (a *ContentAPI) SaveText(ctx context.Context, notebookID, textContent string) error {
	_, err := a.UpdateContent(ctx, notebookID, &textContent, nil)
	return err
}

// SaveDrawing implements SnapshotSaver.
func (a *ContentAPI) SaveDrawing(ctx context.Context, notebookID string, drawing protocol.DrawingData) error {
	_, err := a.UpdateContent(ctx, notebookID, nil, &drawing)
	return err
}

// Todo is one entry of a notebook's shared task list.
type Todo struct {
	TodoID    string `json:"id"`
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
	CreatedAt int64  `json:"createdAt"`
}

// Comment is one discussion entry attached to a notebook.
type Comment struct {
	CommentID string `json:"id"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	Text      string `json:"text"`
	CreatedAt int64  `json:"createdAt"`
}

// RestoreRevision copies a stored revision back over the current snapshot
// and returns the snapshot after the restore.
func (a *ContentAPI) RestoreRevision(ctx context.Context, notebookID, revisionID string) (NotebookContent, error) {
	var response struct {
		Content NotebookContent `json:"content"`
	}
	path := "/content/" + url.PathEscape(notebookID) + "/restore/" + url.PathEscape(revisionID)
	err := a.do(ctx, http.MethodPost, path, struct{}{}, &response)
	return response.Content, err
}

// ListTodos returns the notebook's tasks in creation order.
func (a *ContentAPI) ListTodos(ctx context.Context, notebookID string) ([]Todo, error) {
	var response struct {
		Todos []Todo `json:"todos"`
	}
	err := a.do(ctx, http.MethodGet, "/content/"+url.PathEscape(notebookID)+"/todos", nil, &response)
	return response.Todos, err
}

// AddTodo appends one task to the notebook's shared list.
func (a *ContentAPI) AddTodo(ctx context.Context, notebookID, text string) (Todo, error) {
	var response struct {
		Todo Todo `json:"todo"`
	}
	err := a.do(ctx, http.MethodPost, "/content/"+url.PathEscape(notebookID)+"/todos",
		map[string]string{"text": text}, &response)
	return response.Todo, err
}

// ToggleTodo flips a task's completion state and returns the updated task.
func (a *ContentAPI) ToggleTodo(ctx context.Context, notebookID, todoID string) (Todo, error) {
	var response struct {
		Todo Todo `json:"todo"`
	}
	path := "/content/" + url.PathEscape(notebookID) + "/todos/" + url.PathEscape(todoID)
	err := a.do(ctx, http.MethodPatch, path, struct{}{}, &response)
	return response.Todo, err
}

// DeleteTodo removes a task from the notebook's list.
func (a *ContentAPI) DeleteTodo(ctx context.Context, notebookID, todoID string) error {
	path := "/content/" + url.PathEscape(notebookID) + "/todos/" + url.PathEscape(todoID)
	return a.do(ctx, http.MethodDelete, path, nil, nil)
}

// ListComments returns the notebook's discussion in posting order.
func (a *ContentAPI) ListComments(ctx context.Context, notebookID string) ([]Comment, error) {
	var response struct {
		Comments []Comment `json:"comments"`
	}
	err := a.do(ctx, http.MethodGet, "/content/"+url.PathEscape(notebookID)+"/comments", nil, &response)
	return response.Comments, err
}

// AddComment posts one discussion entry under the caller's identity.
func (a *ContentAPI) AddComment(ctx context.Context, notebookID, text string) (Comment, error) {
	var response struct {
		Comment Comment `json:"comment"`
	}
	err := a.do(ctx, http.MethodPost, "/content/"+url.PathEscape(notebookID)+"/comments",
		map[string]string{"text": text}, &response)
	return response.Comment, err
}

// History lists the notebook's save history, newest first.
func (a *ContentAPI) History(ctx context.Context, notebookID string) ([]Revision, error) {
	var response struct {
		History []Revision `json:"history"`
	}
	err := a.do(ctx, http.MethodGet, "/content/"+url.PathEscape(notebookID)+"/history", nil, &response)
	return response.History, err
}

// RecentActivity lists the notebook's activity feed, newest first.
func (a *ContentAPI) RecentActivity(ctx context.Context, notebookID string) ([]ActivityEntry, error) {
	var response struct {
		Activity []ActivityEntry `json:"activity"`
	}
	err := a.do(ctx, http.MethodGet, "/content/"+url.PathEscape(notebookID)+"/activity", nil, &response)
	return response.Activity, err
}

func (a *ContentAPI) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return err
	}
	request.Header.Set("Authorization", "Bearer "+a.accessToken)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := a.httpClient.Do(request)
	if err != nil {
		return err
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(response.Body, 512))
		return &APIError{StatusCode: response.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(response.Body).Decode(out)
}

// ExchangeCredential trades an upstream credential for a session token at
// POST /auth/session. It needs no prior token, so it is a package function.
func ExchangeCredential(ctx context.Context, httpClient *http.Client, serverURL, credential string) (string, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}

	payload, err := json.Marshal(map[string]string{"credential": credential})
	if err != nil {
		return "", err
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(serverURL, "/")+"/auth/session", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := httpClient.Do(request)
	if err != nil {
		return "", err
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(response.Body, 512))
		return "", &APIError{StatusCode: response.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	var decoded struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return "", err
	}
	return decoded.AccessToken, nil
}
