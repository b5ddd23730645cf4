// Package protocol はWebSocket上でやり取りするイベントの形式を定義する。
// フレームは {"event": "<name>", "data": {...}} のJSONテキスト。
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/daochat/internal/model"
)

// 受信イベント
const (
	EventJoinConversation    = "join-conversation"
	EventLeaveConversation   = "leave-conversation"
	EventSendMessage         = "send-message"
	EventTypingStarted       = "typing-started"
	EventTypingStopped       = "typing-stopped"
	EventMarkRead            = "mark-read"
	EventConversationCreated = "conversation-created"
)

// 送信イベント（typing-started/typing-stoppedは受信と同名）
const (
	EventActiveUsersSnapshot = "active-users-snapshot"
	EventUserBecameActive    = "user-became-active"
	EventUserBecameInactive  = "user-became-inactive"
	EventChatCreated         = "chat-created"
	EventMessageDelivered    = "message-delivered"
	EventUnreadIncremented   = "unread-incremented"
	EventReadConfirmed       = "read-confirmed"
	EventOperationError      = "operation-error"
)

// ErrMalformedFrame はフレームがイベント形式でないことを表す。
var ErrMalformedFrame = errors.New("malformed frame")

// Envelope は受信フレームを表す。Dataはイベントごとに後でデコードする。
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Encode は送信フレームをJSONにエンコードする。
func Encode(event string, data any) ([]byte, error) {
	frame, err := json.Marshal(outbound{Event: event, Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", event, err)
	}
	return frame, nil
}

// Decode は受信フレームをEnvelopeにデコードする。
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("%w: event is required", ErrMalformedFrame)
	}
	return env, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// DecodePayload はDataを構造体にデコードし、validateタグで検証する。
// 失敗した場合はinvalid-payloadのAPIErrorを返す。
func DecodePayload(data json.RawMessage, dst any) error {
	if len(data) == 0 {
		return model.NewInvalidPayloadError("data is required")
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return model.NewInvalidPayloadError("data is not a valid object")
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return model.NewInvalidPayloadError(fmt.Sprintf("%s failed on %s", verrs[0].Field(), verrs[0].Tag()))
		}
		return model.NewInvalidPayloadError(err.Error())
	}
	return nil
}

// --- 受信ペイロード ---

// ConversationRef はconversationIdだけを持つペイロード。
// join-conversation, leave-conversation, mark-readで使う。
type ConversationRef struct {
	ConversationID string `json:"conversationId" validate:"required,uuid"`
}

// SendMessagePayload はsend-messageのペイロード。
type SendMessagePayload struct {
	ConversationID string `json:"conversationId" validate:"required,uuid"`
	Body           string `json:"body" validate:"required"`
}

// TypingPayload はtyping-started/typing-stoppedのペイロード。
// userIdは省略可能だが、指定する場合は認証済みユーザーと一致しなければならない。
type TypingPayload struct {
	ConversationID string `json:"conversationId" validate:"required,uuid"`
	UserID         string `json:"userId,omitempty"`
}

// CreateConversationRequest はPOST /api/conversationsの本文。
// 作成後の通知はconversation-created {conversationId}で行う。
type CreateConversationRequest struct {
	ParticipantID string `json:"participantId" validate:"required,uuid"`
}

// --- 送信ペイロード ---

// ActiveUsersSnapshot はオンラインユーザー一覧。
type ActiveUsersSnapshot struct {
	UserIDs []string `json:"userIds"`
}

// UserPresence はユーザーのオンライン状態の変化。
type UserPresence struct {
	UserID string `json:"userId"`
}

// ChatCreated は新しい会話が作成されたことを通知する。
type ChatCreated struct {
	ConversationID string `json:"conversationId,omitempty"`
}

// SenderProfile は送信者の公開プロフィール。
type SenderProfile struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image"`
}

// MessageDelivered は配信されたメッセージ。
type MessageDelivered struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversationId"`
	SenderID       string        `json:"senderId"`
	Body           string        `json:"body"`
	ReadAt         *time.Time    `json:"readAt"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
	Sender         SenderProfile `json:"sender"`
}

// NewMessageDelivered はMessageViewから送信ペイロードを組み立てる。
func NewMessageDelivered(v *model.MessageView) MessageDelivered {
	return MessageDelivered{
		ID:             v.ID,
		ConversationID: v.ConversationID,
		SenderID:       v.SenderID,
		Body:           v.Body,
		ReadAt:         v.ReadAt,
		CreatedAt:      v.CreatedAt,
		UpdatedAt:      v.UpdatedAt,
		Sender: SenderProfile{
			ID:    v.Sender.ID,
			Name:  v.Sender.Name,
			Image: v.Sender.Image,
		},
	}
}

// UnreadIncremented は未読数の増分。
type UnreadIncremented struct {
	ConversationID string `json:"conversationId"`
	Count          int    `json:"count"`
}

// ReadConfirmed は既読化の完了通知。
type ReadConfirmed struct {
	ConversationID string `json:"conversationId"`
}

// TypingEvent は入力中状態の変化。
type TypingEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// OperationError はリクエスト元の接続にだけ返すエラー。
type OperationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewOperationError はAPIErrorから送信ペイロードを組み立てる。
func NewOperationError(apiErr *model.APIError) OperationError {
	return OperationError{Code: apiErr.Code, Message: apiErr.Message}
}
