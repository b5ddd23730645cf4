// Package gateway はWebSocket接続の受け付け、認証、イベントの振り分け、切断時の後処理を行う。
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hitoshi/daochat/internal/auth"
	"github.com/hitoshi/daochat/internal/chat"
	"github.com/hitoshi/daochat/internal/logger"
	"github.com/hitoshi/daochat/internal/metrics"
	"github.com/hitoshi/daochat/internal/middleware"
	"github.com/hitoshi/daochat/internal/presence"
	"github.com/hitoshi/daochat/internal/protocol"
	"github.com/hitoshi/daochat/internal/room"
)

// Authenticator はハンドシェイク時の認証情報を検証する。
type Authenticator interface {
	Authenticate(ctx context.Context, creds auth.Credentials) (string, error)
}

// Config はゲートウェイの設定。
type Config struct {
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
	SendBuffer     int
	EventRate      float64 // 接続ごとの受信イベントレート（events/sec）
	EventBurst     int
	AllowedOrigin  string        // 空の場合はOriginを検証しない
	TypingTTL      time.Duration // 0の場合は入力中状態の期限切れ掃除を行わない
}

// DefaultConfig はデフォルトのゲートウェイ設定を返す。
func DefaultConfig() Config {
	return Config{
		PingInterval:   25 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 64 * 1024,
		SendBuffer:     64,
		EventRate:      10,
		EventBurst:     30,
	}
}

// Deps はHubの依存コンポーネント。
type Deps struct {
	Authenticator Authenticator
	Presence      *presence.Registry
	Rooms         *room.Manager
	Relay         *chat.Relay
	Metrics       metrics.MetricsCollector
	Logger        *slog.Logger
}

// Hub は接続のライフサイクルを管理する合成ルート。
type Hub struct {
	authenticator Authenticator
	presence      *presence.Registry
	rooms         *room.Manager
	relay         *chat.Relay
	metrics       metrics.MetricsCollector
	logger        *slog.Logger
	config        Config
	upgrader      websocket.Upgrader
	handlers      map[string]eventHandler
	announced     *announcements

	// シャットダウン時に閉じるための接続一覧
	conns sync.Map
	wg    sync.WaitGroup
}

// NewHub はHubを生成する。
func NewHub(deps Deps, config Config) *Hub {
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	h := &Hub{
		authenticator: deps.Authenticator,
		presence:      deps.Presence,
		rooms:         deps.Rooms,
		relay:         deps.Relay,
		metrics:       deps.Metrics,
		logger:        logger.Component(deps.Logger, "gateway"),
		config:        config,
		announced:     newAnnouncements(announceWindow),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	h.handlers = h.eventHandlers()
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || h.config.AllowedOrigin == "" {
		return true
	}
	return origin == h.config.AllowedOrigin
}

// ServeHTTP はWebSocketへのアップグレードを行う。
// 認証に失敗した場合はアップグレード前に401を返し、接続状態は一切作らない。
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 1. 認証
	creds := auth.CredentialsFromRequest(r)
	if creds.Empty() {
		middleware.WriteUnauthorized(w)
		return
	}
	userID, err := h.authenticator.Authenticate(r.Context(), creds)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthenticated) {
			middleware.WriteUnauthorized(w)
			return
		}
		h.logger.Error("failed to authenticate websocket handshake", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// 2. アップグレード（失敗時はUpgraderがエラーレスポンスを書く）
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return
	}

	// ハイジャック後はリクエストのcontextに依存しない
	conn := newConnection(context.Background(), ws, userID, h.config, h.logger)

	h.wg.Add(1)
	defer h.wg.Done()

	h.connect(conn)
	go conn.writePump()
	conn.readPump(func(raw []byte) { h.dispatch(conn, raw) })
	h.disconnect(conn)
}

// connect は接続確立時の状態登録を行う。
func (h *Hub) connect(conn *Connection) {
	h.conns.Store(conn.ID(), conn)
	h.metrics.ConnectionOpened()

	// 1. プレゼンス加算、初回接続なら全員に通知
	if h.presence.Increment(conn.UserID()) {
		h.broadcastAll(protocol.EventUserBecameActive, protocol.UserPresence{UserID: conn.UserID()}, conn)
	}
	h.metrics.SetOnlineUsers(h.presence.OnlineCount())

	// 2. 個人ルームに参加
	h.rooms.Join(conn, room.UserKey(conn.UserID()))

	// 3. オンラインユーザー一覧を送信
	h.sendTo(conn, protocol.EventActiveUsersSnapshot, protocol.ActiveUsersSnapshot{UserIDs: h.presence.Snapshot()})

	conn.logger.Info("websocket connected")
}

// disconnect は切断時の後処理を固定順序で行う。ストレージには書き込まない。
func (h *Hub) disconnect(conn *Connection) {
	// 1. 入力中状態を解除して各会話に通知
	h.relay.ClearTyping(conn)

	// 2. プレゼンス減算、最後の接続なら全員に通知
	if h.presence.Decrement(conn.UserID()) {
		h.broadcastAll(protocol.EventUserBecameInactive, protocol.UserPresence{UserID: conn.UserID()}, conn)
	}
	h.metrics.SetOnlineUsers(h.presence.OnlineCount())

	// 3. 全ルームから外して接続を破棄
	h.rooms.LeaveAll(conn)
	conn.Close()

	h.conns.Delete(conn.ID())
	h.metrics.ConnectionClosed()
	conn.logger.Info("websocket disconnected")
}

// NotifyConversationCreated は会話作成を両ユーザーの個人ルームに通知し、
// 最新のオンラインユーザー一覧も送る。exceptが非nilの場合はその接続を除く。
func (h *Hub) NotifyConversationCreated(conversationID, creatorID, participantID string, except room.Member) {
	h.announceConversation(conversationID, []string{creatorID, participantID}, except)
}

// announceConversation は会話ごとに一度だけchat-createdを配信する。
func (h *Hub) announceConversation(conversationID string, userIDs []string, except room.Member) {
	if !h.announced.claim(conversationID) {
		h.logger.Debug("conversation already announced",
			slog.String("conversation_id", conversationID),
		)
		return
	}
	snapshot := protocol.ActiveUsersSnapshot{UserIDs: h.presence.Snapshot()}
	for _, userID := range userIDs {
		key := room.UserKey(userID)
		h.broadcast(key, protocol.EventChatCreated, protocol.ChatCreated{ConversationID: conversationID}, except)
		h.broadcast(key, protocol.EventActiveUsersSnapshot, snapshot, except)
	}
}

// Run は入力中状態の期限切れ掃除を行う。TypingTTLが0の場合はctxの終了を待つだけ。
func (h *Hub) Run(ctx context.Context) {
	if h.config.TypingTTL <= 0 {
		<-ctx.Done()
		return
	}

	interval := h.config.TypingTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.relay.ExpireTyping(h.config.TypingTTL)
		case <-ctx.Done():
			return
		}
	}
}

// Shutdown は全ての接続を閉じ、後処理の完了を待つ。
func (h *Hub) Shutdown(ctx context.Context) error {
	h.conns.Range(func(_, v any) bool {
		v.(*Connection).Close()
		return true
	})

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DisconnectUser は指定ユーザーの全接続を閉じ、閉じた数を返す。
// 後処理は各接続の読み取りループ終了時に行われる。
func (h *Hub) DisconnectUser(userID string) int {
	n := 0
	h.conns.Range(func(_, v any) bool {
		if conn := v.(*Connection); conn.UserID() == userID {
			conn.Close()
			n++
		}
		return true
	})
	return n
}

// ConnectionCount は現在の接続数を返す。
func (h *Hub) ConnectionCount() int {
	n := 0
	h.conns.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (h *Hub) encode(event string, data any) []byte {
	frame, err := protocol.Encode(event, data)
	if err != nil {
		h.logger.Error("failed to encode event",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return frame
}

func (h *Hub) sendTo(conn *Connection, event string, data any) {
	if frame := h.encode(event, data); frame != nil {
		conn.Send(frame)
	}
}

func (h *Hub) broadcast(key, event string, data any, except room.Member) {
	if frame := h.encode(event, data); frame != nil {
		h.rooms.Broadcast(key, frame, except)
	}
}

func (h *Hub) broadcastAll(event string, data any, except room.Member) {
	if frame := h.encode(event, data); frame != nil {
		h.rooms.BroadcastAll(frame, except)
	}
}
