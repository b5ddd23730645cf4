// Package chat はメッセージの中継と永続化、既読の伝播、入力中状態の配信を行う。
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/daochat/internal/logger"
	"github.com/hitoshi/daochat/internal/metrics"
	"github.com/hitoshi/daochat/internal/model"
	"github.com/hitoshi/daochat/internal/protocol"
	"github.com/hitoshi/daochat/internal/room"
	"github.com/hitoshi/daochat/internal/security"
	"github.com/hitoshi/daochat/internal/typing"
)

// ConversationStore は中継に必要な会話の参照操作。
type ConversationStore interface {
	Exists(ctx context.Context, id string) (bool, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	ListParticipantIDs(ctx context.Context, conversationID string) ([]string, error)
}

// MessageStore は中継に必要なメッセージの永続化操作。
type MessageStore interface {
	Create(ctx context.Context, message *model.Message) error
	MarkRead(ctx context.Context, messageID string, at time.Time) error
	MarkConversationRead(ctx context.Context, conversationID, readerID string, at time.Time) (int64, error)
	FindViewByID(ctx context.Context, id string) (*model.MessageView, error)
}

// Rooms はルーム所属と配信の操作。
type Rooms interface {
	Join(member room.Member, key string)
	Leave(member room.Member, key string)
	IsMember(member room.Member, key string) bool
	Members(key string) []room.Member
	Broadcast(key string, frame []byte, except room.Member) int
}

// TypingTracker は入力中状態の遷移判定。
type TypingTracker interface {
	Start(conversationID, userID string) bool
	Stop(conversationID, userID string) bool
	StopAll(userID string) []string
	Expire(ttl time.Duration) []typing.Entry
}

// Config はRelayの設定。
type Config struct {
	MessageMaxLength int // 本文の最大文字数（rune単位）
}

// Deps はRelayの依存コンポーネント。
type Deps struct {
	Conversations ConversationStore
	Messages      MessageStore
	Rooms         Rooms
	Typing        TypingTracker
	Sanitizer     security.MessageSanitizer
	Metrics       metrics.MetricsCollector
	Logger        *slog.Logger
}

// Relay はチャットの中核操作を提供する。
// 呼び出し元に返すエラーは全て*model.APIErrorで、リクエスト元の接続だけに通知される。
type Relay struct {
	conversations ConversationStore
	messages      MessageStore
	rooms         Rooms
	typing        TypingTracker
	sanitizer     security.MessageSanitizer
	metrics       metrics.MetricsCollector
	logger        *slog.Logger
	config        Config
	now           func() time.Time
}

// NewRelay はRelayを生成する。SanitizerとMetricsは省略可能。
func NewRelay(deps Deps, config Config) *Relay {
	if deps.Sanitizer == nil {
		deps.Sanitizer = security.NewMessageSanitizer()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	if config.MessageMaxLength <= 0 {
		config.MessageMaxLength = 4000
	}
	return &Relay{
		conversations: deps.Conversations,
		messages:      deps.Messages,
		rooms:         deps.Rooms,
		typing:        deps.Typing,
		sanitizer:     deps.Sanitizer,
		metrics:       deps.Metrics,
		logger:        logger.Component(deps.Logger, "chat"),
		config:        config,
		now:           time.Now,
	}
}

// errNotAuthorized は会話が存在しないか参加者でないことを表す内部エラー。
var errNotAuthorized = errors.New("conversation not found or not a participant")

// authorize は会話の存在と参加を確認する。
func (r *Relay) authorize(ctx context.Context, conversationID, userID string) error {
	exists, err := r.conversations.Exists(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("failed to check conversation: %w", err)
	}
	if !exists {
		return errNotAuthorized
	}
	ok, err := r.conversations.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return fmt.Errorf("failed to check participant: %w", err)
	}
	if !ok {
		return errNotAuthorized
	}
	return nil
}

// JoinConversation は接続を会話のルームに参加させる。
func (r *Relay) JoinConversation(ctx context.Context, member room.Member, conversationID string) error {
	if err := r.authorize(ctx, conversationID, member.UserID()); err != nil {
		if errors.Is(err, errNotAuthorized) {
			return model.NewConversationNotFoundError(conversationID)
		}
		r.logger.Error("failed to authorize join",
			slog.String("conversation_id", conversationID),
			slog.String("user_id", member.UserID()),
			slog.String("error", err.Error()),
		)
		return model.NewInternalError()
	}
	r.rooms.Join(member, room.ConversationKey(conversationID))
	return nil
}

// Participants は接続のユーザーが参加している会話の参加者IDを返す。
// 参加していない会話はconversation-not-foundとして扱う。
func (r *Relay) Participants(ctx context.Context, member room.Member, conversationID string) ([]string, error) {
	if err := r.authorize(ctx, conversationID, member.UserID()); err != nil {
		if errors.Is(err, errNotAuthorized) {
			return nil, model.NewConversationNotFoundError(conversationID)
		}
		r.logger.Error("failed to authorize participant lookup",
			slog.String("conversation_id", conversationID),
			slog.String("user_id", member.UserID()),
			slog.String("error", err.Error()),
		)
		return nil, model.NewInternalError()
	}

	ids, err := r.conversations.ListParticipantIDs(ctx, conversationID)
	if err != nil {
		r.logger.Error("failed to list participants",
			slog.String("conversation_id", conversationID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewInternalError()
	}
	return ids, nil
}

// LeaveConversation は接続を会話のルームから外す。ストレージには触れない。
func (r *Relay) LeaveConversation(member room.Member, conversationID string) {
	r.rooms.Leave(member, room.ConversationKey(conversationID))
}

// normalizeBody は本文を整形し、長さを検証する。
func (r *Relay) normalizeBody(body string) (string, error) {
	body = strings.TrimSpace(r.sanitizer.Sanitize(strings.TrimSpace(body)))
	if body == "" {
		return "", model.NewInvalidPayloadError("body must not be empty")
	}
	if utf8.RuneCountInString(body) > r.config.MessageMaxLength {
		return "", model.NewInvalidPayloadError(fmt.Sprintf("body must be at most %d characters", r.config.MessageMaxLength))
	}
	return body, nil
}

// SendMessage はメッセージを永続化し、会話のルームに配信する。
func (r *Relay) SendMessage(ctx context.Context, sender room.Member, conversationID, body string) error {
	senderID := sender.UserID()
	convKey := room.ConversationKey(conversationID)

	body, err := r.normalizeBody(body)
	if err != nil {
		return err
	}

	// 1. 会話の存在と参加を確認
	if err := r.authorize(ctx, conversationID, senderID); err != nil {
		if errors.Is(err, errNotAuthorized) {
			return model.NewConversationNotFoundError(conversationID)
		}
		r.logSendFailure("authorize", conversationID, senderID, err)
		return model.NewMessageSendFailedError()
	}

	// 2. 未読状態で永続化
	now := r.now()
	message := &model.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.messages.Create(ctx, message); err != nil {
		r.logSendFailure("persist", conversationID, senderID, err)
		return model.NewMessageSendFailedError()
	}
	r.metrics.RecordMessageSent()

	// 3. 相手が会話を表示中なら即既読、4. そうでなければ未読数を通知
	if r.otherUserViewing(convKey, senderID) && r.markDelivered(ctx, message) {
		r.metrics.RecordReadDecision(metrics.ReadDecisionImmediate)
	} else {
		r.metrics.RecordReadDecision(metrics.ReadDecisionUnread)
		r.notifyUnread(ctx, conversationID, senderID)
	}

	// 5. 送信者の入力中状態を解除
	if r.typing.Stop(conversationID, senderID) {
		r.broadcast(convKey, protocol.EventTypingStopped,
			protocol.TypingEvent{ConversationID: conversationID, UserID: senderID}, sender)
	}

	// 6. 送信者プロフィール付きで再取得して配信
	view, err := r.messages.FindViewByID(ctx, message.ID)
	if err != nil || view == nil {
		if err == nil {
			err = fmt.Errorf("message %s disappeared after insert", message.ID)
		}
		r.logSendFailure("refetch", conversationID, senderID, err)
		return model.NewMessageSendFailedError()
	}
	r.broadcast(convKey, protocol.EventMessageDelivered, protocol.NewMessageDelivered(view), sender)

	r.logger.Debug("message relayed",
		slog.String("conversation_id", conversationID),
		slog.String("message_id", message.ID),
		slog.Bool("read", view.IsRead()),
	)
	return nil
}

// otherUserViewing は送信者以外のユーザーの接続が会話のルームにいるかを返す。
func (r *Relay) otherUserViewing(convKey, senderID string) bool {
	for _, member := range r.rooms.Members(convKey) {
		if member.UserID() != senderID {
			return true
		}
	}
	return false
}

// markDelivered はメッセージを即時既読にする。失敗した場合はログを残してfalseを返す。
func (r *Relay) markDelivered(ctx context.Context, message *model.Message) bool {
	at := r.now()
	if err := r.messages.MarkRead(ctx, message.ID, at); err != nil {
		r.logger.Warn("failed to mark message read on delivery",
			slog.String("message_id", message.ID),
			slog.String("error", err.Error()),
		)
		return false
	}
	message.ReadAt = &at
	return true
}

// notifyUnread は送信者以外の参加者の個人ルームに未読数の増分を送る。
func (r *Relay) notifyUnread(ctx context.Context, conversationID, senderID string) {
	participants, err := r.conversations.ListParticipantIDs(ctx, conversationID)
	if err != nil {
		r.logger.Warn("failed to list participants for unread notification",
			slog.String("conversation_id", conversationID),
			slog.String("error", err.Error()),
		)
		return
	}
	for _, userID := range participants {
		if userID == senderID {
			continue
		}
		r.broadcast(room.UserKey(userID), protocol.EventUnreadIncremented,
			protocol.UnreadIncremented{ConversationID: conversationID, Count: 1}, nil)
	}
}

// MarkRead は会話内の他者のメッセージを一括既読化し、既読者の個人ルームに確認を送る。
// 更新件数が0でも確認は必ず送る。
func (r *Relay) MarkRead(ctx context.Context, member room.Member, conversationID string) (int64, error) {
	readerID := member.UserID()

	if err := r.authorize(ctx, conversationID, readerID); err != nil {
		if errors.Is(err, errNotAuthorized) {
			return 0, model.NewConversationNotFoundError(conversationID)
		}
		r.logger.Error("failed to authorize mark-read",
			slog.String("conversation_id", conversationID),
			slog.String("user_id", readerID),
			slog.String("error", err.Error()),
		)
		return 0, model.NewMarkReadFailedError()
	}

	updated, err := r.messages.MarkConversationRead(ctx, conversationID, readerID, r.now())
	if err != nil {
		r.logger.Error("failed to mark conversation read",
			slog.String("conversation_id", conversationID),
			slog.String("user_id", readerID),
			slog.String("error", err.Error()),
		)
		return 0, model.NewMarkReadFailedError()
	}

	r.broadcast(room.UserKey(readerID), protocol.EventReadConfirmed,
		protocol.ReadConfirmed{ConversationID: conversationID}, nil)
	return updated, nil
}

// broadcast はイベントをエンコードしてルームに配信する。
func (r *Relay) broadcast(key, event string, data any, except room.Member) {
	frame, err := protocol.Encode(event, data)
	if err != nil {
		r.logger.Error("failed to encode event",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
		return
	}
	r.rooms.Broadcast(key, frame, except)
}

func (r *Relay) logSendFailure(step, conversationID, senderID string, err error) {
	r.logger.Error("failed to send message",
		slog.String("step", step),
		slog.String("conversation_id", conversationID),
		slog.String("user_id", senderID),
		slog.String("error", err.Error()),
	)
}
