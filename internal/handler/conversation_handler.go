package handler

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/daochat/internal/model"
	"github.com/hitoshi/daochat/internal/protocol"
	"github.com/hitoshi/daochat/internal/room"
)

// maxRequestBody はJSONリクエストボディの上限バイト数。
const maxRequestBody = 64 << 10

// ConversationServiceInterface は会話ハンドラーが必要とするサービスインターフェース。
type ConversationServiceInterface interface {
	Create(ctx context.Context, creatorID, participantID string) (*model.Conversation, error)
	List(ctx context.Context, userID string) ([]model.ConversationSummary, error)
	Messages(ctx context.Context, userID, conversationID string) ([]model.MessageView, error)
	Candidates(ctx context.Context, userID string) ([]*model.User, error)
}

// ConversationNotifier は会話作成をリアルタイム接続へ通知する。
// gateway.Hubが実装する。
type ConversationNotifier interface {
	NotifyConversationCreated(conversationID, creatorID, participantID string, except room.Member)
}

// ConversationHandler は会話管理のHTTPハンドラー。
type ConversationHandler struct {
	service  ConversationServiceInterface
	notifier ConversationNotifier
}

// NewConversationHandler はConversationHandlerを生成する。notifierはnilでもよい。
func NewConversationHandler(service ConversationServiceInterface, notifier ConversationNotifier) *ConversationHandler {
	return &ConversationHandler{
		service:  service,
		notifier: notifier,
	}
}

type userResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image"`
}

type conversationResponse struct {
	ID          string         `json:"id"`
	OtherUsers  []userResponse `json:"otherUsers"`
	UnreadCount int            `json:"unreadCount"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

type createConversationResponse struct {
	ConversationID string `json:"conversationId"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{ID: u.ID, Name: u.Name, Image: u.Image}
}

// Create は2人の会話を作成し、両者の接続に通知する。
// POST /api/conversations
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		handleServiceError(w, model.NewInvalidPayloadError("request body is too large"))
		return
	}
	var req protocol.CreateConversationRequest
	if err := protocol.DecodePayload(body, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	conv, err := h.service.Create(r.Context(), userID, req.ParticipantID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if h.notifier != nil {
		h.notifier.NotifyConversationCreated(conv.ID, userID, req.ParticipantID, nil)
	}

	writeJSON(w, http.StatusCreated, createConversationResponse{ConversationID: conv.ID})
}

// List はユーザーの会話一覧を返す。
// GET /api/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	summaries, err := h.service.List(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]conversationResponse, len(summaries))
	for i, s := range summaries {
		others := make([]userResponse, len(s.OtherUsers))
		for j := range s.OtherUsers {
			others[j] = toUserResponse(&s.OtherUsers[j])
		}
		resp[i] = conversationResponse{
			ID:          s.ID,
			OtherUsers:  others,
			UnreadCount: s.UnreadCount,
			CreatedAt:   s.CreatedAt,
			UpdatedAt:   s.UpdatedAt,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListMessages は会話のメッセージを作成順で返す。
// GET /api/conversations/{id}/messages
func (h *ConversationHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	conversationID := chi.URLParam(r, "id")
	views, err := h.service.Messages(r.Context(), userID, conversationID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]protocol.MessageDelivered, len(views))
	for i := range views {
		resp[i] = protocol.NewMessageDelivered(&views[i])
	}
	writeJSON(w, http.StatusOK, resp)
}

// Candidates はまだ会話していないユーザー一覧を返す。
// GET /api/users/candidates
func (h *ConversationHandler) Candidates(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	users, err := h.service.Candidates(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]userResponse, len(users))
	for i, u := range users {
		resp[i] = toUserResponse(u)
	}
	writeJSON(w, http.StatusOK, resp)
}
