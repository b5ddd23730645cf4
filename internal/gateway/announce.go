package gateway

import (
	"sync"
	"time"
)

// announceWindow の間は同じ会話のchat-createdを再送しない。
const announceWindow = time.Minute

// announcements は最近chat-createdを配信した会話IDを保持する。
type announcements struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time
	seen   map[string]time.Time
}

func newAnnouncements(window time.Duration) *announcements {
	return &announcements{
		window: window,
		now:    time.Now,
		seen:   make(map[string]time.Time),
	}
}

// claim は会話IDが期間内に未配信ならば記録してtrueを返す。
// 期限切れのエントリはここで削除する。
func (a *announcements) claim(conversationID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	for id, at := range a.seen {
		if now.Sub(at) >= a.window {
			delete(a.seen, id)
		}
	}
	if _, ok := a.seen[conversationID]; ok {
		return false
	}
	a.seen[conversationID] = now
	return true
}
