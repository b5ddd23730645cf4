package model

import "time"

// Message は会話内の1件のメッセージを表す。
// ReadAtはnullから時刻へ一度だけ遷移し、nullに戻ることはない。
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Body           string
	ReadAt         *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsRead は既読かどうかを返す。
func (m *Message) IsRead() bool {
	return m.ReadAt != nil
}

// MessageView はメッセージと送信者のプロフィールを結合したモデル。
// message-deliveredイベントとメッセージ一覧APIで返される。
type MessageView struct {
	Message
	Sender User
}
