package room

import (
	"fmt"
	"sort"
	"sync"
	"testing"
)

// fakeMember は受信したフレームを記録するMember。
type fakeMember struct {
	id     string
	userID string
	full   bool

	mu     sync.Mutex
	frames [][]byte
}

func newFakeMember(id, userID string) *fakeMember {
	return &fakeMember{id: id, userID: userID}
}

func (f *fakeMember) ID() string     { return f.id }
func (f *fakeMember) UserID() string { return f.userID }

func (f *fakeMember) Send(frame []byte) bool {
	if f.full {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
	return true
}

func (f *fakeMember) received() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func memberIDs(members []Member) []string {
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ID())
	}
	sort.Strings(ids)
	return ids
}

func TestKeys(t *testing.T) {
	if got := UserKey("u1"); got != "user:u1" {
		t.Errorf("UserKey = %q", got)
	}
	if got := ConversationKey("c1"); got != "conversation:c1" {
		t.Errorf("ConversationKey = %q", got)
	}
}

func TestManager_JoinIsIdempotent(t *testing.T) {
	m := NewManager()
	a := newFakeMember("conn-a", "alice")

	m.Join(a, ConversationKey("c1"))
	m.Join(a, ConversationKey("c1"))

	if got := len(m.Members(ConversationKey("c1"))); got != 1 {
		t.Errorf("members = %d, want 1", got)
	}
	if n := m.Broadcast(ConversationKey("c1"), []byte("x"), nil); n != 1 {
		t.Errorf("delivered = %d, want 1", n)
	}
}

func TestManager_LeaveIsIdempotent(t *testing.T) {
	m := NewManager()
	a := newFakeMember("conn-a", "alice")

	m.Leave(a, ConversationKey("never-joined"))
	m.Join(a, ConversationKey("c1"))
	m.Leave(a, ConversationKey("c1"))
	m.Leave(a, ConversationKey("c1"))

	if m.IsMember(a, ConversationKey("c1")) {
		t.Error("member should have left")
	}
	if got := len(m.Members(ConversationKey("c1"))); got != 0 {
		t.Errorf("members = %d, want 0", got)
	}
}

func TestManager_Broadcast_ExcludesSender(t *testing.T) {
	m := NewManager()
	a := newFakeMember("conn-a", "alice")
	b := newFakeMember("conn-b", "bob")
	a2 := newFakeMember("conn-a2", "alice")

	for _, member := range []*fakeMember{a, b, a2} {
		m.Join(member, ConversationKey("c1"))
	}

	n := m.Broadcast(ConversationKey("c1"), []byte("hi"), a)

	if n != 2 {
		t.Errorf("delivered = %d, want 2", n)
	}
	if a.received() != 0 {
		t.Error("excluded socket should not receive the frame")
	}
	// 同一ユーザーの別デバイスは除外されない
	if a2.received() != 1 || b.received() != 1 {
		t.Errorf("received a2=%d b=%d, want 1 each", a2.received(), b.received())
	}
}

func TestManager_Broadcast_SkipsFullQueues(t *testing.T) {
	m := NewManager()
	slow := newFakeMember("conn-slow", "slow")
	slow.full = true
	ok := newFakeMember("conn-ok", "ok")
	m.Join(slow, UserKey("x"))
	m.Join(ok, UserKey("x"))

	if n := m.Broadcast(UserKey("x"), []byte("f"), nil); n != 1 {
		t.Errorf("delivered = %d, want 1", n)
	}
}

func TestManager_BroadcastAll_ReachesEveryConnectedMember(t *testing.T) {
	m := NewManager()
	a := newFakeMember("conn-a", "alice")
	b := newFakeMember("conn-b", "bob")
	c := newFakeMember("conn-c", "carol")
	m.Join(a, UserKey("alice"))
	m.Join(a, ConversationKey("c1"))
	m.Join(b, UserKey("bob"))
	m.Join(c, UserKey("carol"))

	n := m.BroadcastAll([]byte("presence"), c)

	if n != 2 {
		t.Errorf("delivered = %d, want 2", n)
	}
	// 複数ルームに所属していても1回だけ届く
	if a.received() != 1 {
		t.Errorf("alice received %d frames, want 1", a.received())
	}
	if c.received() != 0 {
		t.Error("excluded member should not receive")
	}
}

func TestManager_LeaveAll_RemovesEveryMembership(t *testing.T) {
	m := NewManager()
	a := newFakeMember("conn-a", "alice")
	b := newFakeMember("conn-b", "bob")
	m.Join(a, UserKey("alice"))
	m.Join(a, ConversationKey("c1"))
	m.Join(a, ConversationKey("c2"))
	m.Join(b, ConversationKey("c1"))

	m.LeaveAll(a)

	for _, key := range []string{UserKey("alice"), ConversationKey("c1"), ConversationKey("c2")} {
		if m.IsMember(a, key) {
			t.Errorf("still a member of %s", key)
		}
	}
	if got := memberIDs(m.Members(ConversationKey("c1"))); len(got) != 1 || got[0] != "conn-b" {
		t.Errorf("c1 members = %v, want [conn-b]", got)
	}
	if n := m.BroadcastAll([]byte("x"), nil); n != 1 {
		t.Errorf("BroadcastAll delivered = %d, want 1", n)
	}
}

func TestManager_ConcurrentJoinLeave(t *testing.T) {
	m := NewManager()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			member := newFakeMember(fmt.Sprintf("conn-%d", i), fmt.Sprintf("user-%d", i%5))
			for j := 0; j < 10; j++ {
				key := ConversationKey(fmt.Sprintf("c%d", j))
				m.Join(member, key)
				m.Broadcast(key, []byte("x"), member)
			}
			m.LeaveAll(member)
		}(i)
	}
	wg.Wait()

	for j := 0; j < 10; j++ {
		if got := len(m.Members(ConversationKey(fmt.Sprintf("c%d", j)))); got != 0 {
			t.Errorf("c%d has %d members after all left", j, got)
		}
	}
}
