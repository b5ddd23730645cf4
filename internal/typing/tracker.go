// Package typing は会話ごとの入力中ユーザーを管理する。
// 配信は呼び出し側が行い、このパッケージは状態遷移の判定だけを担う。
package typing

import (
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/daochat/internal/shard"
)

// Entry は入力中状態の1件を表す。
type Entry struct {
	ConversationID string
	UserID         string
}

type trackerShard struct {
	mu sync.Mutex
	// conversationID -> userID -> 最後にStartされた時刻
	typing map[string]map[string]time.Time
}

// Tracker は会話ごとの入力中ユーザー集合を保持する。
type Tracker struct {
	shards [shard.Count]*trackerShard
	now    func() time.Time
}

// NewTracker は空のTrackerを生成する。
func NewTracker() *Tracker {
	t := &Tracker{now: time.Now}
	for i := range t.shards {
		t.shards[i] = &trackerShard{typing: make(map[string]map[string]time.Time)}
	}
	return t
}

func (t *Tracker) shardFor(conversationID string) *trackerShard {
	return t.shards[shard.Index(conversationID)]
}

// Start はユーザーを入力中にする。Idleから遷移した場合のみtrueを返す。
// 入力中のまま再度呼ばれた場合は期限判定の時刻だけを更新する。
func (t *Tracker) Start(conversationID, userID string) bool {
	s := t.shardFor(conversationID)
	s.mu.Lock()
	defer s.mu.Unlock()

	users, ok := s.typing[conversationID]
	if !ok {
		users = make(map[string]time.Time)
		s.typing[conversationID] = users
	}
	_, already := users[userID]
	users[userID] = t.now()
	return !already
}

// Stop はユーザーの入力中状態を解除する。入力中だった場合のみtrueを返す。
func (t *Tracker) Stop(conversationID, userID string) bool {
	s := t.shardFor(conversationID)
	s.mu.Lock()
	defer s.mu.Unlock()

	users, ok := s.typing[conversationID]
	if !ok {
		return false
	}
	if _, typing := users[userID]; !typing {
		return false
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(s.typing, conversationID)
	}
	return true
}

// StopAll はユーザーを全ての会話で入力中から外し、入力中だった会話IDを返す。
// 入力中の会話だけがマップに残るため、全シャードの走査は入力中の件数に比例する。
func (t *Tracker) StopAll(userID string) []string {
	var stopped []string
	for _, s := range t.shards {
		s.mu.Lock()
		for conversationID, users := range s.typing {
			if _, typing := users[userID]; !typing {
				continue
			}
			delete(users, userID)
			if len(users) == 0 {
				delete(s.typing, conversationID)
			}
			stopped = append(stopped, conversationID)
		}
		s.mu.Unlock()
	}
	sort.Strings(stopped)
	return stopped
}

// IsTyping はユーザーが会話で入力中かを返す。
func (t *Tracker) IsTyping(conversationID, userID string) bool {
	s := t.shardFor(conversationID)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.typing[conversationID][userID]
	return ok
}

// Typers は会話で入力中のユーザーIDをソートして返す。
func (t *Tracker) Typers(conversationID string) []string {
	s := t.shardFor(conversationID)
	s.mu.Lock()
	defer s.mu.Unlock()

	users := s.typing[conversationID]
	out := make([]string, 0, len(users))
	for id := range users {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Expire は最後のStartからttl以上経過したエントリを削除して返す。
func (t *Tracker) Expire(ttl time.Duration) []Entry {
	cutoff := t.now().Add(-ttl)

	var expired []Entry
	for _, s := range t.shards {
		s.mu.Lock()
		for conversationID, users := range s.typing {
			for userID, startedAt := range users {
				if startedAt.After(cutoff) {
					continue
				}
				delete(users, userID)
				expired = append(expired, Entry{ConversationID: conversationID, UserID: userID})
			}
			if len(users) == 0 {
				delete(s.typing, conversationID)
			}
		}
		s.mu.Unlock()
	}
	return expired
}
