package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/parley-ai/parley/pkg/core"
	"github.com/parley-ai/parley/pkg/core/chat"
	"github.com/parley-ai/parley/pkg/gateway/apierror"
	"github.com/parley-ai/parley/pkg/gateway/auth"
	"github.com/parley-ai/parley/pkg/gateway/mw"
	"github.com/parley-ai/parley/pkg/gateway/store"
)

// ConversationStore is the slice of the store the CRUD handlers need.
type ConversationStore interface {
	Create(ctx context.Context, userID int64) (*store.Conversation, error)
	ListByUser(ctx context.Context, userID int64) ([]store.Summary, error)
	Get(ctx context.Context, id uuid.UUID, userID int64) (*store.Conversation, error)
	Delete(ctx context.Context, id uuid.UUID, userID int64) error
	UpdateTitle(ctx context.Context, id uuid.UUID, userID int64, title string) error
}

// ConversationsHandler serves conversation CRUD.
type ConversationsHandler struct {
	Store  ConversationStore
	Logger *slog.Logger
}

type conversationJSON struct {
	ID        uuid.UUID    `json:"id"`
	Title     string       `json:"title"`
	Messages  []chat.Entry `json:"messages"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

type summaryJSON struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updated_at"`
}

func conversationToJSON(conv *store.Conversation) conversationJSON {
	messages := conv.Entries
	if messages == nil {
		messages = []chat.Entry{}
	}
	return conversationJSON{
		ID:        conv.ID,
		Title:     conv.Title,
		Messages:  messages,
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
	}
}

func (h ConversationsHandler) Create(w http.ResponseWriter, r *http.Request) {
	p, reqID, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	conv, err := h.Store.Create(r.Context(), p.UserID)
	if err != nil {
		apierror.Write(w, err, reqID)
		return
	}
	writeJSON(w, http.StatusCreated, conversationToJSON(conv))
}

func (h ConversationsHandler) List(w http.ResponseWriter, r *http.Request) {
	p, reqID, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	summaries, err := h.Store.ListByUser(r.Context(), p.UserID)
	if err != nil {
		apierror.Write(w, err, reqID)
		return
	}
	out := make([]summaryJSON, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, summaryJSON{ID: s.ID, Title: s.Title, UpdatedAt: s.UpdatedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h ConversationsHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, reqID, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		apierror.Write(w, err, reqID)
		return
	}
	conv, err := h.Store.Get(r.Context(), id, p.UserID)
	if err != nil {
		apierror.Write(w, err, reqID)
		return
	}
	writeJSON(w, http.StatusOK, conversationToJSON(conv))
}

func (h ConversationsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	p, reqID, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		apierror.Write(w, err, reqID)
		return
	}
	if err := h.Store.Delete(r.Context(), id, p.UserID); err != nil {
		apierror.Write(w, err, reqID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h ConversationsHandler) Rename(w http.ResponseWriter, r *http.Request) {
	p, reqID, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		apierror.Write(w, err, reqID)
		return
	}

	var body struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apierror.Write(w, core.NewValidationError("invalid request body"), reqID)
		return
	}
	if body.Title == "" {
		apierror.Write(w, core.NewValidationErrorWithParam("title is required", "title"), reqID)
		return
	}

	if err := h.Store.UpdateTitle(r.Context(), id, p.UserID, body.Title); err != nil {
		apierror.Write(w, err, reqID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func requirePrincipal(w http.ResponseWriter, r *http.Request) (*auth.Principal, string, bool) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		apierror.Write(w, core.NewAuthenticationError("missing session"), reqID)
		return nil, reqID, false
	}
	return p, reqID, true
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, core.NewValidationErrorWithParam("invalid conversation id", "id")
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
