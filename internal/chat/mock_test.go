package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/daochat/internal/model"
	"github.com/hitoshi/daochat/internal/room"
	"github.com/hitoshi/daochat/internal/typing"
)

// --- ストアのモック ---

type mockConversationStore struct {
	existsFn             func(ctx context.Context, id string) (bool, error)
	isParticipantFn      func(ctx context.Context, conversationID, userID string) (bool, error)
	listParticipantIDsFn func(ctx context.Context, conversationID string) ([]string, error)
}

func (m *mockConversationStore) Exists(ctx context.Context, id string) (bool, error) {
	if m.existsFn != nil {
		return m.existsFn(ctx, id)
	}
	return true, nil
}

func (m *mockConversationStore) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	if m.isParticipantFn != nil {
		return m.isParticipantFn(ctx, conversationID, userID)
	}
	return true, nil
}

func (m *mockConversationStore) ListParticipantIDs(ctx context.Context, conversationID string) ([]string, error) {
	if m.listParticipantIDsFn != nil {
		return m.listParticipantIDsFn(ctx, conversationID)
	}
	return nil, nil
}

// participantsOf は固定の参加者を持つ会話ストアを返す。
func participantsOf(ids ...string) *mockConversationStore {
	return &mockConversationStore{
		isParticipantFn: func(_ context.Context, _ string, userID string) (bool, error) {
			for _, id := range ids {
				if id == userID {
					return true, nil
				}
			}
			return false, nil
		},
		listParticipantIDsFn: func(context.Context, string) ([]string, error) {
			return ids, nil
		},
	}
}

// memoryMessageStore はメモリ上でメッセージを保持するMessageStore。
// 各Fnが設定されている場合はそちらを優先する。
type memoryMessageStore struct {
	mu       sync.Mutex
	messages map[string]*model.Message

	createFn               func(ctx context.Context, message *model.Message) error
	markReadFn             func(ctx context.Context, messageID string, at time.Time) error
	markConversationReadFn func(ctx context.Context, conversationID, readerID string, at time.Time) (int64, error)
	findViewByIDFn         func(ctx context.Context, id string) (*model.MessageView, error)

	markReadCalls int
}

func newMemoryMessageStore() *memoryMessageStore {
	return &memoryMessageStore{messages: make(map[string]*model.Message)}
}

func (s *memoryMessageStore) Create(ctx context.Context, message *model.Message) error {
	if s.createFn != nil {
		return s.createFn(ctx, message)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *message
	s.messages[message.ID] = &copied
	return nil
}

func (s *memoryMessageStore) MarkRead(ctx context.Context, messageID string, at time.Time) error {
	s.mu.Lock()
	s.markReadCalls++
	s.mu.Unlock()
	if s.markReadFn != nil {
		return s.markReadFn(ctx, messageID, at)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.messages[messageID]; ok && m.ReadAt == nil {
		m.ReadAt = &at
	}
	return nil
}

func (s *memoryMessageStore) MarkConversationRead(ctx context.Context, conversationID, readerID string, at time.Time) (int64, error) {
	if s.markConversationReadFn != nil {
		return s.markConversationReadFn(ctx, conversationID, readerID, at)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.messages {
		if m.ConversationID == conversationID && m.SenderID != readerID && m.ReadAt == nil {
			readAt := at
			m.ReadAt = &readAt
			n++
		}
	}
	return n, nil
}

func (s *memoryMessageStore) FindViewByID(ctx context.Context, id string) (*model.MessageView, error) {
	if s.findViewByIDFn != nil {
		return s.findViewByIDFn(ctx, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, nil
	}
	return &model.MessageView{
		Message: *m,
		Sender:  model.User{ID: m.SenderID, Name: "name-" + m.SenderID},
	}, nil
}

func (s *memoryMessageStore) only(t *testing.T) *model.Message {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) != 1 {
		t.Fatalf("stored messages = %d, want 1", len(s.messages))
	}
	for _, m := range s.messages {
		return m
	}
	return nil
}

var (
	_ ConversationStore = (*mockConversationStore)(nil)
	_ MessageStore      = (*memoryMessageStore)(nil)
	_ Rooms             = (*room.Manager)(nil)
	_ TypingTracker     = (*typing.Tracker)(nil)
)

// --- 接続のモック ---

type receivedEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// recordingMember は受信したフレームをイベントとして記録する。
type recordingMember struct {
	id     string
	userID string

	mu     sync.Mutex
	events []receivedEvent
}

func newMember(id, userID string) *recordingMember {
	return &recordingMember{id: id, userID: userID}
}

func (m *recordingMember) ID() string     { return m.id }
func (m *recordingMember) UserID() string { return m.userID }

func (m *recordingMember) Send(frame []byte) bool {
	var ev receivedEvent
	if err := json.Unmarshal(frame, &ev); err != nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return true
}

// eventsNamed は指定名のイベントを返す。
func (m *recordingMember) eventsNamed(name string) []receivedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []receivedEvent
	for _, ev := range m.events {
		if ev.Event == name {
			out = append(out, ev)
		}
	}
	return out
}

func (m *recordingMember) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func decodeData(t *testing.T, ev receivedEvent, dst any) {
	t.Helper()
	if err := json.Unmarshal(ev.Data, dst); err != nil {
		t.Fatalf("failed to decode %s data: %v", ev.Event, err)
	}
}

// assertAPIErrorCode はerrが指定コードの*model.APIErrorであることを検証する。
func assertAPIErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *model.APIError with code %s", err, code)
	}
	if apiErr.Code != code {
		t.Errorf("code = %q, want %q", apiErr.Code, code)
	}
}
