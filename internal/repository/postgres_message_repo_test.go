package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/hitoshi/daochat/internal/model"
)

var messageViewCols = []string{
	"id", "conversation_id", "sender_id", "body", "read_at", "created_at", "updated_at",
	"id", "email", "name", "image", "created_at", "updated_at",
}

func TestPostgresMessageRepo_Create_TouchesConversation(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresMessageRepo(db)
	now := time.Now()

	msg := &model.Message{
		ID: "msg-1", ConversationID: "conv-1", SenderID: "user-1", Body: "hello",
		CreatedAt: now, UpdatedAt: now,
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO messages").
		WithArgs("msg-1", "conv-1", "user-1", "hello", nil, now, now).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE conversations SET updated_at").
		WithArgs("conv-1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.Create(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPostgresMessageRepo_Create_InsertFails(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresMessageRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO messages").WillReturnError(errors.New("fk violation"))
	mock.ExpectRollback()

	err := repo.Create(context.Background(), &model.Message{ID: "msg-1"})
	if err == nil || !strings.Contains(err.Error(), "failed to insert message") {
		t.Fatalf("expected insert error, got %v", err)
	}
}

func TestPostgresMessageRepo_MarkRead_OnlyUnread(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresMessageRepo(db)
	now := time.Now()

	mock.ExpectExec("UPDATE messages SET read_at = \\$2, updated_at = \\$2 WHERE id = \\$1 AND read_at IS NULL").
		WithArgs("msg-1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.MarkRead(context.Background(), "msg-1", now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPostgresMessageRepo_MarkConversationRead_ExcludesOwnMessages(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresMessageRepo(db)
	now := time.Now()

	mock.ExpectExec("WHERE conversation_id = \\$1 AND sender_id <> \\$2 AND read_at IS NULL").
		WithArgs("conv-1", "user-2", now).
		WillReturnResult(sqlmock.NewResult(0, 5))

	n, err := repo.MarkConversationRead(context.Background(), "conv-1", "user-2", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 5 {
		t.Errorf("updated = %d, want 5", n)
	}
}

func TestPostgresMessageRepo_FindViewByID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresMessageRepo(db)
	now := time.Now()

	mock.ExpectQuery("FROM messages m\\s+JOIN users u ON u.id = m.sender_id\\s+WHERE m.id = \\$1").
		WithArgs("msg-1").
		WillReturnRows(sqlmock.NewRows(messageViewCols).
			AddRow("msg-1", "conv-1", "user-1", "hello", now, now, now,
				"user-1", "a@example.com", "Alice", "", now, now))

	view, err := repo.FindViewByID(context.Background(), "msg-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if view == nil {
		t.Fatal("expected view, got nil")
	}
	if view.Sender.Name != "Alice" {
		t.Errorf("Sender.Name = %q, want Alice", view.Sender.Name)
	}
	if !view.IsRead() {
		t.Error("expected message to be read")
	}
}

func TestPostgresMessageRepo_FindViewByID_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresMessageRepo(db)

	mock.ExpectQuery("FROM messages m").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	view, err := repo.FindViewByID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if view != nil {
		t.Errorf("expected nil view, got %+v", view)
	}
}

func TestPostgresMessageRepo_ListViewsByConversation_All(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresMessageRepo(db)
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Second)

	mock.ExpectQuery("ORDER BY m.created_at, m.id").
		WithArgs("conv-1").
		WillReturnRows(sqlmock.NewRows(messageViewCols).
			AddRow("msg-1", "conv-1", "user-1", "first", nil, t1, t1, "user-1", "a@example.com", "Alice", "", t1, t1).
			AddRow("msg-2", "conv-1", "user-2", "second", nil, t2, t2, "user-2", "b@example.com", "Bob", "", t1, t1))

	views, err := repo.ListViewsByConversation(context.Background(), "conv-1", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("len(views) = %d, want 2", len(views))
	}
	if views[0].ID != "msg-1" || views[1].ID != "msg-2" {
		t.Errorf("unexpected order: %s, %s", views[0].ID, views[1].ID)
	}
	if views[0].IsRead() {
		t.Error("expected first message to be unread")
	}
}

func TestPostgresMessageRepo_ListViewsByConversation_WithLimit(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresMessageRepo(db)

	mock.ExpectQuery("LIMIT \\$2").
		WithArgs("conv-1", 50).
		WillReturnRows(sqlmock.NewRows(messageViewCols))

	views, err := repo.ListViewsByConversation(context.Background(), "conv-1", 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(views) != 0 {
		t.Errorf("len(views) = %d, want 0", len(views))
	}
}
