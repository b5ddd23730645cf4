package gateway

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/daochat/internal/auth"
	"github.com/hitoshi/daochat/internal/chat"
	"github.com/hitoshi/daochat/internal/model"
)

// tokenAuthenticator はトークン文字列をそのままユーザーIDにマッピングする。
type tokenAuthenticator struct {
	users map[string]string
	err   error
}

func (a *tokenAuthenticator) Authenticate(_ context.Context, creds auth.Credentials) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	if userID, ok := a.users[creds.Token]; ok {
		return userID, nil
	}
	return "", auth.ErrUnauthenticated
}

// memoryStore は会話とメッセージをメモリ上に保持する。
type memoryStore struct {
	mu            sync.Mutex
	conversations map[string][]string
	messages      map[string]*model.Message
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		conversations: make(map[string][]string),
		messages:      make(map[string]*model.Message),
	}
}

func (s *memoryStore) addConversation(id string, participants ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[id] = participants
}

func (s *memoryStore) Exists(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.conversations[id]
	return ok, nil
}

func (s *memoryStore) IsParticipant(_ context.Context, conversationID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.conversations[conversationID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (s *memoryStore) ListParticipantIDs(_ context.Context, conversationID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.conversations[conversationID]...), nil
}

func (s *memoryStore) Create(_ context.Context, message *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *message
	s.messages[message.ID] = &copied
	return nil
}

func (s *memoryStore) MarkRead(_ context.Context, messageID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.messages[messageID]; ok && m.ReadAt == nil {
		m.ReadAt = &at
	}
	return nil
}

func (s *memoryStore) MarkConversationRead(_ context.Context, conversationID, readerID string, at time.Time) (int64, error) {
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

func (s *memoryStore) FindViewByID(_ context.Context, id string) (*model.MessageView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, nil
	}
	return &model.MessageView{Message: *m, Sender: model.User{ID: m.SenderID, Name: m.SenderID}}, nil
}

// messagesIn は会話のメッセージを作成順に返す。
func (s *memoryStore) messagesIn(conversationID string) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Message
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

var (
	_ chat.ConversationStore = (*memoryStore)(nil)
	_ chat.MessageStore      = (*memoryStore)(nil)
)
