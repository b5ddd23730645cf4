// Package presence はユーザーごとの接続数を管理し、オンライン状態の遷移を判定する。
package presence

import (
	"sort"
	"sync"

	"github.com/hitoshi/daochat/internal/shard"
)

type registryShard struct {
	mu     sync.Mutex
	counts map[string]int
}

// Registry はユーザーIDごとの接続数を保持する。
// 接続数が0のユーザーはマップから削除される。
type Registry struct {
	shards [shard.Count]*registryShard
}

// NewRegistry は空のRegistryを生成する。
func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = &registryShard{counts: make(map[string]int)}
	}
	return r
}

func (r *Registry) shardFor(userID string) *registryShard {
	return r.shards[shard.Index(userID)]
}

// Increment は接続数を1増やし、0から1になった場合にtrueを返す。
func (r *Registry) Increment(userID string) bool {
	s := r.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counts[userID]++
	return s.counts[userID] == 1
}

// Decrement は接続数を1減らし、1から0になった場合にtrueを返す。
// 既に0の場合は何もせずfalseを返す。
func (r *Registry) Decrement(userID string) bool {
	s := r.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.counts[userID]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(s.counts, userID)
		return true
	}
	s.counts[userID] = n - 1
	return false
}

// Count は指定ユーザーの接続数を返す。
func (r *Registry) Count(userID string) int {
	s := r.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[userID]
}

// Snapshot は接続数が1以上のユーザーIDをソートして返す。
// シャードごとにロックを取るため、全体として厳密な時点のスナップショットではない。
func (r *Registry) Snapshot() []string {
	ids := make([]string, 0)
	for _, s := range r.shards {
		s.mu.Lock()
		for id := range s.counts {
			ids = append(ids, id)
		}
		s.mu.Unlock()
	}
	sort.Strings(ids)
	return ids
}

// OnlineCount はオンラインユーザー数を返す。
func (r *Registry) OnlineCount() int {
	total := 0
	for _, s := range r.shards {
		s.mu.Lock()
		total += len(s.counts)
		s.mu.Unlock()
	}
	return total
}
