// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// HTTPレスポンスとWebSocketのoperation-errorイベントの両方で使用する。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, chat, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeConversationNotFound = "conversation-not-found"
	ErrCodeMessageSendFailed    = "message-send-failed"
	ErrCodeMarkReadFailed       = "mark-read-failed"
	ErrCodeInvalidPayload       = "invalid-payload"
	ErrCodeUnknownEvent         = "unknown-event"
	ErrCodeRateLimited          = "rate-limited"
	ErrCodeUserNotFound         = "user-not-found"
	ErrCodeSelfConversation     = "self-conversation"
	ErrCodeDuplicateChat        = "duplicate-conversation"
	ErrCodeInternal             = "internal-error"
	ErrCodeCSRFInvalid          = "csrf-token-invalid"
)

// NewConversationNotFoundError は会話未検出エラーを生成する。
// 参加していない会話についても存在を漏らさないよう同じエラーを返す。
func NewConversationNotFoundError(conversationID string) *APIError {
	return &APIError{
		Code:     ErrCodeConversationNotFound,
		Message:  fmt.Sprintf("指定された会話が見つかりません: %s", conversationID),
		Category: "chat",
		Action:   "会話一覧を再読み込みしてください。",
	}
}

// NewMessageSendFailedError はメッセージ送信失敗エラーを生成する。
func NewMessageSendFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeMessageSendFailed,
		Message:  "メッセージの送信に失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewMarkReadFailedError は既読化失敗エラーを生成する。
func NewMarkReadFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeMarkReadFailed,
		Message:  "既読状態の更新に失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInvalidPayloadError は不正なペイロードのエラーを生成する。
func NewInvalidPayloadError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPayload,
		Message:  fmt.Sprintf("不正なリクエストです: %s", reason),
		Category: "validation",
		Action:   "送信内容を確認してください。",
	}
}

// NewUnknownEventError は未知のイベント名のエラーを生成する。
func NewUnknownEventError(event string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownEvent,
		Message:  fmt.Sprintf("未対応のイベントです: %s", event),
		Category: "validation",
		Action:   "クライアントを最新版に更新してください。",
	}
}

// NewRateLimitedError はイベント送信レート超過のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "送信頻度が上限を超えました。",
		Category: "system",
		Action:   "少し待ってから再度お試しください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewSelfConversationError は自分自身との会話を作成しようとした場合のエラーを生成する。
func NewSelfConversationError() *APIError {
	return &APIError{
		Code:     ErrCodeSelfConversation,
		Message:  "自分自身との会話は作成できません。",
		Category: "validation",
		Action:   "別のユーザーを選択してください。",
	}
}

// NewDuplicateConversationError は既に会話が存在する相手との会話を作成しようとした場合のエラーを生成する。
func NewDuplicateConversationError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateChat,
		Message:  "このユーザーとの会話は既に存在します。",
		Category: "chat",
		Action:   "会話一覧から該当の会話を開いてください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewCSRFInvalidError はCSRFトークン検証失敗のエラーを生成する。
func NewCSRFInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFInvalid,
		Message:  "CSRFトークンの検証に失敗しました。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}
