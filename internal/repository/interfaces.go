// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/daochat/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// UpdateProfile はIdPから取得した表示名とプロフィール画像を反映する。
	UpdateProfile(ctx context.Context, id, name, image string) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するidentities、sessions、参加者行、送信メッセージはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error

	// ListConversationCandidates はまだ会話を共有していないユーザーを名前順で返す。
	// 自分自身は含まない。
	ListConversationCandidates(ctx context.Context, userID string) ([]*model.User, error)
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// ConversationRepository は会話と参加者の永続化インターフェース。
type ConversationRepository interface {
	// CreateWithParticipants は会話と参加者行を同一トランザクションで作成する。
	CreateWithParticipants(ctx context.Context, conversation *model.Conversation, userIDs []string) error

	// Exists は会話が存在するかを返す。
	Exists(ctx context.Context, id string) (bool, error)

	// IsParticipant は指定ユーザーが会話の参加者かを返す。
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)

	// ListParticipantIDs は会話の参加者ID一覧を返す。
	ListParticipantIDs(ctx context.Context, conversationID string) ([]string, error)

	// FindBetween は2人のユーザーが共有する会話を返す。見つからない場合はnilを返す。
	FindBetween(ctx context.Context, userA, userB string) (*model.Conversation, error)

	// ListSummariesByUserID はユーザーの会話一覧を相手ユーザーと未読数付きで返す。
	// 最終更新の新しい順に並ぶ。
	ListSummariesByUserID(ctx context.Context, userID string) ([]model.ConversationSummary, error)
}

// MessageRepository はメッセージの永続化インターフェース。
type MessageRepository interface {
	// Create はメッセージを保存し、会話のupdated_atを進める。
	Create(ctx context.Context, message *model.Message) error

	// MarkRead は単一メッセージに既読時刻を設定する。既読済みの場合は何もしない。
	MarkRead(ctx context.Context, messageID string, at time.Time) error

	// MarkConversationRead は会話内で他者が送信した未読メッセージを一括既読化し、更新件数を返す。
	MarkConversationRead(ctx context.Context, conversationID, readerID string, at time.Time) (int64, error)

	// FindViewByID はメッセージを送信者プロフィール付きで取得する。見つからない場合はnilを返す。
	FindViewByID(ctx context.Context, id string) (*model.MessageView, error)

	// ListViewsByConversation は会話のメッセージを作成日時、IDの昇順で返す。
	// limitが0以下の場合は全件を返す。
	ListViewsByConversation(ctx context.Context, conversationID string, limit int) ([]model.MessageView, error)
}
