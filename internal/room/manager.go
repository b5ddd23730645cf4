// Package room はルームキーごとの接続の所属を管理し、ルーム単位の配信を行う。
package room

import (
	"sync"

	"github.com/hitoshi/daochat/internal/shard"
)

// ルームキーの接頭辞
const (
	userPrefix         = "user:"
	conversationPrefix = "conversation:"
)

// UserKey はユーザー個人宛てのルームキーを返す。
func UserKey(userID string) string {
	return userPrefix + userID
}

// ConversationKey は会話のルームキーを返す。
func ConversationKey(conversationID string) string {
	return conversationPrefix + conversationID
}

// Member はルームに所属できる接続。
type Member interface {
	// ID は接続ごとに一意な識別子を返す。
	ID() string
	// UserID は接続を所有するユーザーIDを返す。
	UserID() string
	// Send はフレームを送信キューに積む。積めなかった場合はfalseを返す。
	Send(frame []byte) bool
}

type roomShard struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Member
}

type memberShard struct {
	mu          sync.Mutex
	members     map[string]Member
	memberships map[string]map[string]struct{}
}

// Manager はルームと所属を管理する。
// ルーム側と接続側の索引を別々のシャードで持ち、両方のロックを同時に保持しない。
type Manager struct {
	rooms   [shard.Count]*roomShard
	members [shard.Count]*memberShard
}

// NewManager は空のManagerを生成する。
func NewManager() *Manager {
	m := &Manager{}
	for i := 0; i < shard.Count; i++ {
		m.rooms[i] = &roomShard{rooms: make(map[string]map[string]Member)}
		m.members[i] = &memberShard{
			members:     make(map[string]Member),
			memberships: make(map[string]map[string]struct{}),
		}
	}
	return m
}

func (m *Manager) roomShardFor(key string) *roomShard {
	return m.rooms[shard.Index(key)]
}

func (m *Manager) memberShardFor(id string) *memberShard {
	return m.members[shard.Index(id)]
}

// Join は接続をルームに追加する。既に所属している場合は何もしない。
func (m *Manager) Join(member Member, key string) {
	rs := m.roomShardFor(key)
	rs.mu.Lock()
	set, ok := rs.rooms[key]
	if !ok {
		set = make(map[string]Member)
		rs.rooms[key] = set
	}
	set[member.ID()] = member
	rs.mu.Unlock()

	ms := m.memberShardFor(member.ID())
	ms.mu.Lock()
	ms.members[member.ID()] = member
	keys, ok := ms.memberships[member.ID()]
	if !ok {
		keys = make(map[string]struct{})
		ms.memberships[member.ID()] = keys
	}
	keys[key] = struct{}{}
	ms.mu.Unlock()
}

// Leave は接続をルームから外す。所属していない場合は何もしない。
func (m *Manager) Leave(member Member, key string) {
	m.removeFromRoom(member.ID(), key)

	ms := m.memberShardFor(member.ID())
	ms.mu.Lock()
	if keys, ok := ms.memberships[member.ID()]; ok {
		delete(keys, key)
	}
	ms.mu.Unlock()
}

// LeaveAll は接続を全てのルームから外し、接続の索引も破棄する。
func (m *Manager) LeaveAll(member Member) {
	ms := m.memberShardFor(member.ID())
	ms.mu.Lock()
	keys := ms.memberships[member.ID()]
	delete(ms.memberships, member.ID())
	delete(ms.members, member.ID())
	ms.mu.Unlock()

	for key := range keys {
		m.removeFromRoom(member.ID(), key)
	}
}

func (m *Manager) removeFromRoom(memberID, key string) {
	rs := m.roomShardFor(key)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	set, ok := rs.rooms[key]
	if !ok {
		return
	}
	delete(set, memberID)
	if len(set) == 0 {
		delete(rs.rooms, key)
	}
}

// Members はルームに所属する接続のスナップショットを返す。
func (m *Manager) Members(key string) []Member {
	rs := m.roomShardFor(key)
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	set := rs.rooms[key]
	out := make([]Member, 0, len(set))
	for _, member := range set {
		out = append(out, member)
	}
	return out
}

// IsMember は接続がルームに所属しているかを返す。
func (m *Manager) IsMember(member Member, key string) bool {
	rs := m.roomShardFor(key)
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	_, ok := rs.rooms[key][member.ID()]
	return ok
}

// Broadcast はルームの全接続にフレームを送る。exceptが非nilの場合はその接続を除く。
// 送信キューに積めた接続数を返す。
func (m *Manager) Broadcast(key string, frame []byte, except Member) int {
	return deliver(m.Members(key), frame, except)
}

// BroadcastAll は1つ以上のルームに所属する全接続にフレームを送る。
func (m *Manager) BroadcastAll(frame []byte, except Member) int {
	var targets []Member
	for _, ms := range m.members {
		ms.mu.Lock()
		for _, member := range ms.members {
			targets = append(targets, member)
		}
		ms.mu.Unlock()
	}
	return deliver(targets, frame, except)
}

func deliver(targets []Member, frame []byte, except Member) int {
	delivered := 0
	for _, member := range targets {
		if except != nil && member.ID() == except.ID() {
			continue
		}
		if member.Send(frame) {
			delivered++
		}
	}
	return delivered
}
