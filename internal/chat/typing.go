package chat

import (
	"log/slog"
	"time"

	"github.com/hitoshi/daochat/internal/model"
	"github.com/hitoshi/daochat/internal/protocol"
	"github.com/hitoshi/daochat/internal/room"
)

// StartTyping はユーザーを入力中にし、Idleからの遷移時のみ会話のルームへ通知する。
// 会話のルームに参加していない接続からの通知は受け付けない。
func (r *Relay) StartTyping(member room.Member, conversationID string) error {
	convKey := room.ConversationKey(conversationID)
	if !r.rooms.IsMember(member, convKey) {
		return model.NewConversationNotFoundError(conversationID)
	}
	if r.typing.Start(conversationID, member.UserID()) {
		r.broadcast(convKey, protocol.EventTypingStarted,
			protocol.TypingEvent{ConversationID: conversationID, UserID: member.UserID()}, member)
	}
	return nil
}

// StopTyping はユーザーの入力中状態を解除し、遷移時のみ会話のルームへ通知する。
func (r *Relay) StopTyping(member room.Member, conversationID string) {
	if r.typing.Stop(conversationID, member.UserID()) {
		r.broadcast(room.ConversationKey(conversationID), protocol.EventTypingStopped,
			protocol.TypingEvent{ConversationID: conversationID, UserID: member.UserID()}, member)
	}
}

// ClearTyping は切断時に呼ばれ、ユーザーが入力中だった全ての会話へ解除を通知する。
func (r *Relay) ClearTyping(member room.Member) {
	for _, conversationID := range r.typing.StopAll(member.UserID()) {
		r.broadcast(room.ConversationKey(conversationID), protocol.EventTypingStopped,
			protocol.TypingEvent{ConversationID: conversationID, UserID: member.UserID()}, member)
	}
}

// ExpireTyping はttlを超えて入力中のエントリを解除し、件数を返す。
func (r *Relay) ExpireTyping(ttl time.Duration) int {
	expired := r.typing.Expire(ttl)
	for _, e := range expired {
		r.broadcast(room.ConversationKey(e.ConversationID), protocol.EventTypingStopped,
			protocol.TypingEvent{ConversationID: e.ConversationID, UserID: e.UserID}, nil)
	}
	if len(expired) > 0 {
		r.logger.Debug("typing entries expired", slog.Int("count", len(expired)))
	}
	return len(expired)
}
