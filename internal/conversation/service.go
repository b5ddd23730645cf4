// Package conversation は会話の作成と一覧取得のドメインロジックを提供する。
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/daochat/internal/model"
)

// UserFinder はユーザーの存在確認に使うインターフェース。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	ListConversationCandidates(ctx context.Context, userID string) ([]*model.User, error)
}

// ConversationStore は会話の永続化インターフェース。
type ConversationStore interface {
	CreateWithParticipants(ctx context.Context, conversation *model.Conversation, userIDs []string) error
	Exists(ctx context.Context, id string) (bool, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	FindBetween(ctx context.Context, userA, userB string) (*model.Conversation, error)
	ListSummariesByUserID(ctx context.Context, userID string) ([]model.ConversationSummary, error)
}

// MessageLister はメッセージ履歴の取得インターフェース。
type MessageLister interface {
	ListViewsByConversation(ctx context.Context, conversationID string, limit int) ([]model.MessageView, error)
}

// Service は会話管理のサービス層。
type Service struct {
	users         UserFinder
	conversations ConversationStore
	messages      MessageLister
	now           func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(users UserFinder, conversations ConversationStore, messages MessageLister) *Service {
	return &Service{
		users:         users,
		conversations: conversations,
		messages:      messages,
		now:           time.Now,
	}
}

// Create はcreatorとparticipantの2人による会話を作成する。
// 自分自身との会話、存在しない相手、既存の組み合わせはAPIErrorで拒否する。
func (s *Service) Create(ctx context.Context, creatorID, participantID string) (*model.Conversation, error) {
	// 1. 自分自身との会話は作らない
	if creatorID == participantID {
		return nil, model.NewSelfConversationError()
	}

	// 2. 相手ユーザーの存在確認
	participant, err := s.users.FindByID(ctx, participantID)
	if err != nil {
		return nil, fmt.Errorf("failed to find participant: %w", err)
	}
	if participant == nil {
		return nil, model.NewUserNotFoundError()
	}

	// 3. 同じ2人の会話は1つだけ
	existing, err := s.conversations.FindBetween(ctx, creatorID, participantID)
	if err != nil {
		return nil, fmt.Errorf("failed to find existing conversation: %w", err)
	}
	if existing != nil {
		return nil, model.NewDuplicateConversationError()
	}

	// 4. 会話と参加者行を作成
	now := s.now()
	conv := &model.Conversation{
		ID:        uuid.New().String(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.conversations.CreateWithParticipants(ctx, conv, []string{creatorID, participantID}); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	slog.Info("conversation created",
		slog.String("conversation_id", conv.ID),
		slog.String("creator_id", creatorID),
		slog.String("participant_id", participantID),
	)
	return conv, nil
}

// List はユーザーの会話一覧を相手ユーザーと未読数付きで返す。
func (s *Service) List(ctx context.Context, userID string) ([]model.ConversationSummary, error) {
	summaries, err := s.conversations.ListSummariesByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	if summaries == nil {
		summaries = []model.ConversationSummary{}
	}
	return summaries, nil
}

// Messages は会話のメッセージ履歴を返す。参加者でない場合は会話が存在しないものとして扱う。
func (s *Service) Messages(ctx context.Context, userID, conversationID string) ([]model.MessageView, error) {
	exists, err := s.conversations.Exists(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to check conversation: %w", err)
	}
	if !exists {
		return nil, model.NewConversationNotFoundError(conversationID)
	}
	ok, err := s.conversations.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check participant: %w", err)
	}
	if !ok {
		return nil, model.NewConversationNotFoundError(conversationID)
	}

	views, err := s.messages.ListViewsByConversation(ctx, conversationID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	if views == nil {
		views = []model.MessageView{}
	}
	return views, nil
}

// Candidates はまだ会話を共有していないユーザーを返す。
func (s *Service) Candidates(ctx context.Context, userID string) ([]*model.User, error) {
	users, err := s.users.ListConversationCandidates(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}
	if users == nil {
		users = []*model.User{}
	}
	return users, nil
}
