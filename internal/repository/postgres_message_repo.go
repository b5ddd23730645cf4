package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/daochat/internal/model"
)

// PostgresMessageRepo はPostgreSQLを使用したメッセージリポジトリ。
type PostgresMessageRepo struct {
	db *sql.DB
}

// NewPostgresMessageRepo はPostgresMessageRepoを生成する。
func NewPostgresMessageRepo(db *sql.DB) *PostgresMessageRepo {
	return &PostgresMessageRepo{db: db}
}

const messageViewColumns = `m.id, m.conversation_id, m.sender_id, m.body, m.read_at, m.created_at, m.updated_at,
		        u.id, u.email, u.name, u.image, u.created_at, u.updated_at`

// Create はメッセージを保存し、会話のupdated_atを送信時刻に進める。
func (r *PostgresMessageRepo) Create(ctx context.Context, message *model.Message) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, body, read_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		message.ID, message.ConversationID, message.SenderID, message.Body,
		message.ReadAt, message.CreatedAt, message.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = $2 WHERE id = $1`,
		message.ConversationID, message.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// MarkRead は単一メッセージに既読時刻を設定する。既読済みの行は更新しない。
func (r *PostgresMessageRepo) MarkRead(ctx context.Context, messageID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE messages SET read_at = $2, updated_at = $2 WHERE id = $1 AND read_at IS NULL`,
		messageID, at,
	)
	if err != nil {
		return fmt.Errorf("failed to mark message read: %w", err)
	}
	return nil
}

// MarkConversationRead は会話内で他者が送信した未読メッセージを一括既読化する。
func (r *PostgresMessageRepo) MarkConversationRead(ctx context.Context, conversationID, readerID string, at time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE messages SET read_at = $3, updated_at = $3
		 WHERE conversation_id = $1 AND sender_id <> $2 AND read_at IS NULL`,
		conversationID, readerID, at,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark conversation read: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// FindViewByID はメッセージを送信者プロフィール付きで取得する。見つからない場合はnilを返す。
func (r *PostgresMessageRepo) FindViewByID(ctx context.Context, id string) (*model.MessageView, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+messageViewColumns+`
		 FROM messages m
		 JOIN users u ON u.id = m.sender_id
		 WHERE m.id = $1`,
		id,
	)

	view, err := scanMessageView(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find message: %w", err)
	}
	return view, nil
}

// ListViewsByConversation は会話のメッセージを作成日時、IDの昇順で返す。
// limitが正の場合は最新のlimit件を昇順で返す。
func (r *PostgresMessageRepo) ListViewsByConversation(ctx context.Context, conversationID string, limit int) ([]model.MessageView, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = r.db.QueryContext(ctx,
			`SELECT * FROM (
			   SELECT `+messageViewColumns+`
			   FROM messages m
			   JOIN users u ON u.id = m.sender_id
			   WHERE m.conversation_id = $1
			   ORDER BY m.created_at DESC, m.id DESC
			   LIMIT $2
			 ) latest
			 ORDER BY 6, 1`,
			conversationID, limit,
		)
	} else {
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+messageViewColumns+`
			 FROM messages m
			 JOIN users u ON u.id = m.sender_id
			 WHERE m.conversation_id = $1
			 ORDER BY m.created_at, m.id`,
			conversationID,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var views []model.MessageView
	for rows.Next() {
		view, err := scanMessageView(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		views = append(views, *view)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return views, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessageView(s rowScanner) (*model.MessageView, error) {
	v := &model.MessageView{}
	var readAt sql.NullTime
	err := s.Scan(
		&v.ID, &v.ConversationID, &v.SenderID, &v.Body, &readAt, &v.CreatedAt, &v.UpdatedAt,
		&v.Sender.ID, &v.Sender.Email, &v.Sender.Name, &v.Sender.Image, &v.Sender.CreatedAt, &v.Sender.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if readAt.Valid {
		t := readAt.Time
		v.ReadAt = &t
	}
	return v, nil
}

// compile-time interface check
var _ MessageRepository = (*PostgresMessageRepo)(nil)
