package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Connection は1本のWebSocket接続を表し、room.Memberを実装する。
// 読み取りは接続ごとのゴルーチンで逐次処理し、書き込みは送信キュー経由で専用ゴルーチンが行う。
type Connection struct {
	id     string
	userID string
	ws     *websocket.Conn
	config Config

	send    chan []byte
	done    chan struct{}
	limiter *rate.Limiter

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	logger *slog.Logger
}

func newConnection(parent context.Context, ws *websocket.Conn, userID string, config Config, logger *slog.Logger) *Connection {
	id := uuid.New().String()
	ctx, cancel := context.WithCancel(parent)
	return &Connection{
		id:      id,
		userID:  userID,
		ws:      ws,
		config:  config,
		send:    make(chan []byte, config.SendBuffer),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(rate.Limit(config.EventRate), config.EventBurst),
		ctx:     ctx,
		cancel:  cancel,
		logger: logger.With(
			slog.String("conn_id", id),
			slog.String("user_id", userID),
		),
	}
}

// ID は接続ごとに一意な識別子を返す。
func (c *Connection) ID() string { return c.id }

// UserID は接続を所有するユーザーIDを返す。
func (c *Connection) UserID() string { return c.userID }

// Context は接続のライフサイクルに紐づくcontextを返す。切断時にキャンセルされる。
func (c *Connection) Context() context.Context { return c.ctx }

// Send はフレームを送信キューに積む。
// キューが満杯の場合は遅い受信者として接続を閉じ、falseを返す。
func (c *Connection) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	case <-c.done:
		return false
	default:
		c.logger.Warn("send buffer full, dropping slow connection",
			slog.Int("buffer", cap(c.send)),
		)
		c.Close()
		return false
	}
}

// Close は接続を閉じる。複数回呼んでも安全。
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.done)
		c.ws.Close()
	})
}

// readPump はフレームを読み取り、1件ずつhandleに渡す。
// 読み取りエラー（切断を含む）で戻る。
func (c *Connection) readPump(handle func(raw []byte)) {
	c.ws.SetReadLimit(c.config.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.config.PongWait))
	})

	for {
		msgType, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Info("websocket read error", slog.String("error", err.Error()))
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		handle(raw)
	}
}

// writePump は送信キューのフレームを書き込み、定期的にpingを送る。
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("websocket write failed", slog.String("error", err.Error()))
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.config.WriteWait))
			return
		}
	}
}
