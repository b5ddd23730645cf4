package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/daochat/internal/model"
)

// PostgresConversationRepo はPostgreSQLを使用した会話リポジトリ。
type PostgresConversationRepo struct {
	db *sql.DB
}

// NewPostgresConversationRepo はPostgresConversationRepoを生成する。
func NewPostgresConversationRepo(db *sql.DB) *PostgresConversationRepo {
	return &PostgresConversationRepo{db: db}
}

// CreateWithParticipants は会話と参加者行を同一トランザクションで作成する。
func (r *PostgresConversationRepo) CreateWithParticipants(ctx context.Context, conversation *model.Conversation, userIDs []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversations (id, created_at, updated_at) VALUES ($1, $2, $3)`,
		conversation.ID, conversation.CreatedAt, conversation.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}

	for _, userID := range userIDs {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO conversation_participants (conversation_id, user_id, created_at) VALUES ($1, $2, $3)`,
			conversation.ID, userID, conversation.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert participant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Exists は会話が存在するかを返す。
func (r *PostgresConversationRepo) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM conversations WHERE id = $1)`,
		id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check conversation existence: %w", err)
	}
	return exists, nil
}

// IsParticipant は指定ユーザーが会話の参加者かを返す。
func (r *PostgresConversationRepo) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM conversation_participants WHERE conversation_id = $1 AND user_id = $2
		 )`,
		conversationID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check participant: %w", err)
	}
	return exists, nil
}

// ListParticipantIDs は会話の参加者ID一覧を返す。
func (r *PostgresConversationRepo) ListParticipantIDs(ctx context.Context, conversationID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id FROM conversation_participants WHERE conversation_id = $1 ORDER BY created_at, user_id`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate participants: %w", err)
	}
	return ids, nil
}

// FindBetween は2人のユーザーが共有する会話を返す。見つからない場合はnilを返す。
func (r *PostgresConversationRepo) FindBetween(ctx context.Context, userA, userB string) (*model.Conversation, error) {
	c := &model.Conversation{}
	err := r.db.QueryRowContext(ctx,
		`SELECT c.id, c.created_at, c.updated_at
		 FROM conversations c
		 JOIN conversation_participants a ON a.conversation_id = c.id AND a.user_id = $1
		 JOIN conversation_participants b ON b.conversation_id = c.id AND b.user_id = $2
		 LIMIT 1`,
		userA, userB,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find conversation between users: %w", err)
	}
	return c, nil
}

// ListSummariesByUserID はユーザーの会話一覧を相手ユーザーと未読数付きで返す。
// 未読数は相手が送信しread_atが未設定のメッセージ数。
func (r *PostgresConversationRepo) ListSummariesByUserID(ctx context.Context, userID string) ([]model.ConversationSummary, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT c.id, c.created_at, c.updated_at,
		        u.id, u.email, u.name, u.image, u.created_at, u.updated_at,
		        (SELECT count(*) FROM messages m
		         WHERE m.conversation_id = c.id AND m.sender_id <> $1 AND m.read_at IS NULL) AS unread_count
		 FROM conversations c
		 JOIN conversation_participants me ON me.conversation_id = c.id AND me.user_id = $1
		 JOIN conversation_participants other ON other.conversation_id = c.id AND other.user_id <> $1
		 JOIN users u ON u.id = other.user_id
		 ORDER BY c.updated_at DESC, c.id, u.name`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var summaries []model.ConversationSummary
	for rows.Next() {
		var c model.Conversation
		var u model.User
		var unread int
		if err := rows.Scan(
			&c.ID, &c.CreatedAt, &c.UpdatedAt,
			&u.ID, &u.Email, &u.Name, &u.Image, &u.CreatedAt, &u.UpdatedAt,
			&unread,
		); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}

		// 同一会話の行は連続して返るため、末尾の要素にまとめる
		if n := len(summaries); n > 0 && summaries[n-1].ID == c.ID {
			summaries[n-1].OtherUsers = append(summaries[n-1].OtherUsers, u)
			continue
		}
		summaries = append(summaries, model.ConversationSummary{
			Conversation: c,
			OtherUsers:   []model.User{u},
			UnreadCount:  unread,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversations: %w", err)
	}

	return summaries, nil
}

// compile-time interface check
var _ ConversationRepository = (*PostgresConversationRepo)(nil)
