package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/hitoshi/daochat/internal/model"
	"github.com/hitoshi/daochat/internal/protocol"
)

// eventHandler は1種類の受信イベントを処理する。
// 返した*model.APIErrorはoperation-errorとして送信元の接続にだけ返る。
type eventHandler func(ctx context.Context, conn *Connection, data json.RawMessage) error

func (h *Hub) eventHandlers() map[string]eventHandler {
	return map[string]eventHandler{
		protocol.EventJoinConversation:    h.handleJoinConversation,
		protocol.EventLeaveConversation:   h.handleLeaveConversation,
		protocol.EventSendMessage:         h.handleSendMessage,
		protocol.EventTypingStarted:       h.handleTypingStarted,
		protocol.EventTypingStopped:       h.handleTypingStopped,
		protocol.EventMarkRead:            h.handleMarkRead,
		protocol.EventConversationCreated: h.handleConversationCreated,
	}
}

// dispatch は受信フレームを対応するハンドラで処理する。
// panicはイベント単位で回復し、接続は維持する。
func (h *Hub) dispatch(conn *Connection, raw []byte) {
	if !conn.limiter.Allow() {
		h.sendError(conn, "", model.NewRateLimitedError())
		return
	}

	env, err := protocol.Decode(raw)
	if err != nil {
		h.sendError(conn, "", model.NewInvalidPayloadError("frame must be {\"event\", \"data\"}"))
		return
	}

	handler, ok := h.handlers[env.Event]
	if !ok {
		h.metrics.RecordEvent("unknown")
		h.sendError(conn, env.Event, model.NewUnknownEventError(env.Event))
		return
	}
	h.metrics.RecordEvent(env.Event)

	start := time.Now()
	defer func() {
		h.metrics.RecordEventLatency(env.Event, time.Since(start))
		if rec := recover(); rec != nil {
			conn.logger.Error("panic recovered in event handler",
				slog.String("event", env.Event),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
			h.sendError(conn, env.Event, model.NewInternalError())
		}
	}()

	if err := handler(conn.Context(), conn, env.Data); err != nil {
		h.sendError(conn, env.Event, err)
	}
}

// sendError はエラーをoperation-errorとして送信元の接続に返す。
func (h *Hub) sendError(conn *Connection, event string, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		conn.logger.Error("event handler failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
		apiErr = model.NewInternalError()
	}
	h.metrics.RecordOperationError(apiErr.Code)
	h.sendTo(conn, protocol.EventOperationError, protocol.NewOperationError(apiErr))
}

func (h *Hub) handleJoinConversation(ctx context.Context, conn *Connection, data json.RawMessage) error {
	var p protocol.ConversationRef
	if err := protocol.DecodePayload(data, &p); err != nil {
		return err
	}
	return h.relay.JoinConversation(ctx, conn, p.ConversationID)
}

func (h *Hub) handleLeaveConversation(_ context.Context, conn *Connection, data json.RawMessage) error {
	var p protocol.ConversationRef
	if err := protocol.DecodePayload(data, &p); err != nil {
		return err
	}
	h.relay.LeaveConversation(conn, p.ConversationID)
	return nil
}

func (h *Hub) handleSendMessage(ctx context.Context, conn *Connection, data json.RawMessage) error {
	var p protocol.SendMessagePayload
	if err := protocol.DecodePayload(data, &p); err != nil {
		return err
	}
	return h.relay.SendMessage(ctx, conn, p.ConversationID, p.Body)
}

// decodeTyping は入力中イベントのペイロードを検証する。
// userIdを指定する場合は認証済みユーザーと一致しなければならない。
func decodeTyping(conn *Connection, data json.RawMessage) (protocol.TypingPayload, error) {
	var p protocol.TypingPayload
	if err := protocol.DecodePayload(data, &p); err != nil {
		return p, err
	}
	if p.UserID != "" && p.UserID != conn.UserID() {
		return p, model.NewInvalidPayloadError(fmt.Sprintf("userId %s does not match the connection", p.UserID))
	}
	return p, nil
}

func (h *Hub) handleTypingStarted(_ context.Context, conn *Connection, data json.RawMessage) error {
	p, err := decodeTyping(conn, data)
	if err != nil {
		return err
	}
	return h.relay.StartTyping(conn, p.ConversationID)
}

func (h *Hub) handleTypingStopped(_ context.Context, conn *Connection, data json.RawMessage) error {
	p, err := decodeTyping(conn, data)
	if err != nil {
		return err
	}
	h.relay.StopTyping(conn, p.ConversationID)
	return nil
}

func (h *Hub) handleMarkRead(ctx context.Context, conn *Connection, data json.RawMessage) error {
	var p protocol.ConversationRef
	if err := protocol.DecodePayload(data, &p); err != nil {
		return err
	}
	_, err := h.relay.MarkRead(ctx, conn, p.ConversationID)
	return err
}

// handleConversationCreated はクライアントが作成した会話を参加者全員に知らせる。
// HTTPの作成処理で通知済みの会話は再通知しない。
func (h *Hub) handleConversationCreated(ctx context.Context, conn *Connection, data json.RawMessage) error {
	var p protocol.ConversationRef
	if err := protocol.DecodePayload(data, &p); err != nil {
		return err
	}
	participants, err := h.relay.Participants(ctx, conn, p.ConversationID)
	if err != nil {
		return err
	}
	h.announceConversation(p.ConversationID, participants, conn)
	return nil
}
