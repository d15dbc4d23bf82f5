package content

import (
	"context"
	"errors"
	"testing"

	"github.com/collabnote/collabnote/protocol"
)

func TestRestoreRevisionReinstatesEarlierSnapshot(t *testing.T) {
	service := newTestService(t)
	notebookID := mustNotebookID(t, "nb-1")

	first := "<p>draft one</p>"
	drawing := protocol.DrawingData{Paths: []protocol.DrawPath{{
		Points: []protocol.Point{{X: 1, Y: 1}, {X: 2, Y: 2}},
		Color:  "#6366f1",
		Size:   3,
	}}}
	if _, err := service.SaveSnapshot(context.Background(), notebookID, SnapshotUpdate{TextContent: &first, Drawing: &drawing}); err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}
	second := "<p>draft two</p>"
	if _, err := service.SaveSnapshot(context.Background(), notebookID, SnapshotUpdate{TextContent: &second}); err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}

	revisions, err := service.ListRevisions(context.Background(), notebookID, 10)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(revisions) != 2 {
		t.Fatalf("expected 2 revisions, got %d", len(revisions))
	}
	oldest := revisions[len(revisions)-1]

	restored, err := service.RestoreRevision(context.Background(), notebookID, oldest.RevisionID)
	if err != nil {
		t.Fatalf("unexpected restore error: %v", err)
	}
	if restored.TextContent != first {
		t.Fatalf("expected restored text %q, got %q", first, restored.TextContent)
	}
	if len(restored.Drawing.Paths) != 1 || restored.Drawing.Paths[0].Color != "#6366f1" {
		t.Fatalf("unexpected restored drawing: %#v", restored.Drawing)
	}
	if restored.Version != 3 {
		t.Fatalf("restore must save forward as a new version, got %d", restored.Version)
	}

	revisions, err = service.ListRevisions(context.Background(), notebookID, 10)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(revisions) != 3 {
		t.Fatalf("restore must append a revision, got %d", len(revisions))
	}
}

func TestRestoreRevisionUnknownID(t *testing.T) {
	service := newTestService(t)

	_, err := service.RestoreRevision(context.Background(), mustNotebookID(t, "nb-1"), "missing")
	if !errors.Is(err, ErrRevisionNotFound) {
		t.Fatalf("expected ErrRevisionNotFound, got %v", err)
	}
}

func TestTodoLifecycle(t *testing.T) {
	service := newTestService(t)
	notebookID := mustNotebookID(t, "nb-1")

	added, err := service.AddTodo(context.Background(), notebookID, "  buy milk  ")
	if err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}
	if added.Text != "buy milk" {
		t.Fatalf("expected trimmed text, got %q", added.Text)
	}
	if added.Completed {
		t.Fatal("new task must start open")
	}

	toggled, err := service.ToggleTodo(context.Background(), notebookID, added.TodoID)
	if err != nil {
		t.Fatalf("unexpected toggle error: %v", err)
	}
	if !toggled.Completed {
		t.Fatal("expected task completed after toggle")
	}
	toggled, err = service.ToggleTodo(context.Background(), notebookID, added.TodoID)
	if err != nil {
		t.Fatalf("unexpected toggle error: %v", err)
	}
	if toggled.Completed {
		t.Fatal("expected task reopened after second toggle")
	}

	if err := service.DeleteTodo(context.Background(), notebookID, added.TodoID); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	items, err := service.ListTodos(context.Background(), notebookID)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected empty list after delete, got %d items", len(items))
	}
}

func TestTodoListKeepsCreationOrderPerNotebook(t *testing.T) {
	service := newTestService(t)
	notebookID := mustNotebookID(t, "nb-1")

	for _, text := range []string{"first", "second", "third"} {
		if _, err := service.AddTodo(context.Background(), notebookID, text); err != nil {
			t.Fatalf("unexpected add error: %v", err)
		}
	}
	if _, err := service.AddTodo(context.Background(), mustNotebookID(t, "nb-other"), "elsewhere"); err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}

	items, err := service.ListTodos(context.Background(), notebookID)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(items))
	}
	if items[0].Text != "first" || items[2].Text != "third" {
		t.Fatalf("expected creation order, got %+v", items)
	}
}

func TestTodoOperationsRejectBadInput(t *testing.T) {
	service := newTestService(t)
	notebookID := mustNotebookID(t, "nb-1")

	if _, err := service.AddTodo(context.Background(), notebookID, "   "); err == nil {
		t.Fatal("expected error for blank task text")
	}
	if _, err := service.ToggleTodo(context.Background(), notebookID, "missing"); !errors.Is(err, ErrTodoNotFound) {
		t.Fatalf("expected ErrTodoNotFound on toggle, got %v", err)
	}
	if err := service.DeleteTodo(context.Background(), notebookID, "missing"); !errors.Is(err, ErrTodoNotFound) {
		t.Fatalf("expected ErrTodoNotFound on delete, got %v", err)
	}
}

func TestCommentsKeepPostingOrder(t *testing.T) {
	service := newTestService(t)
	notebookID := mustNotebookID(t, "nb-1")

	if _, err := service.AddComment(context.Background(), notebookID, "user-1", "Ada", "looks good"); err != nil {
		t.Fatalf("unexpected comment error: %v", err)
	}
	if _, err := service.AddComment(context.Background(), notebookID, "user-2", "Grace", "one nit"); err != nil {
		t.Fatalf("unexpected comment error: %v", err)
	}

	comments, err := service.ListComments(context.Background(), notebookID)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(comments) != 2 {
		t.Fatalf("expected 2 comments, got %d", len(comments))
	}
	if comments[0].AuthorName != "Ada" || comments[1].AuthorName != "Grace" {
		t.Fatalf("expected posting order, got %+v", comments)
	}
	if comments[0].Text != "looks good" {
		t.Fatalf("unexpected first comment: %+v", comments[0])
	}
}

func TestAddCommentRejectsBlankText(t *testing.T) {
	service := newTestService(t)

	_, err := service.AddComment(context.Background(), mustNotebookID(t, "nb-1"), "user-1", "Ada", " ")
	if err == nil {
		t.Fatal("expected error for blank comment text")
	}
}
