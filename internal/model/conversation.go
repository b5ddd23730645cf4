package model

import "time"

// Conversation は2人のユーザー間の会話を表す。
type Conversation struct {
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Participant は会話の参加者を表す。
// (ConversationID, UserID) が主キー。会話の削除でCASCADE削除される。
type Participant struct {
	ConversationID string
	UserID         string
	CreatedAt      time.Time
}

// ConversationSummary は会話一覧用に、相手ユーザーと未読数を結合したモデル。
type ConversationSummary struct {
	Conversation
	OtherUsers  []User
	UnreadCount int
}
