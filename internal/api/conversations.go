package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/costera/costera/internal/auth"
	"github.com/costera/costera/internal/conversation"
)

type conversationHandler struct {
	store    *conversation.Store
	resolver *auth.Resolver
	logger   *slog.Logger
}

// wireConversation is the list/detail shape of a conversation.
type wireConversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

// wireTurn is the rendering shape of a stored turn.
type wireTurn struct {
	ID        string                    `json:"id"`
	Role      string                    `json:"role"`
	Content   string                    `json:"content,omitempty"`
	Segments  []conversation.Segment    `json:"segments,omitempty"`
	Results   []conversation.ToolResult `json:"results,omitempty"`
	CreatedAt time.Time                 `json:"createdAt"`
}

// list handles GET /api/v1/conversations.
func (h *conversationHandler) list(w http.ResponseWriter, r *http.Request) {
	principal := h.resolver.Resolve(r.Context(), r)
	if principal == nil {
		writeError(w, http.StatusUnauthorized, "authentication required", h.logger)
		return
	}

	convs, err := h.store.ListByOwner(r.Context(), principal.ID)
	if err != nil {
		h.logger.Error("listing conversations failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error", h.logger)
		return
	}

	out := make([]wireConversation, 0, len(convs))
	for _, c := range convs {
		out = append(out, wireConversation{
			ID:        c.ID.String(),
			Title:     c.Title,
			CreatedAt: c.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": out}, h.logger)
}

// delete handles DELETE /api/v1/conversations?id=<uuid>.
func (h *conversationHandler) delete(w http.ResponseWriter, r *http.Request) {
	principal := h.resolver.Resolve(r.Context(), r)
	if principal == nil {
		writeError(w, http.StatusUnauthorized, "authentication required", h.logger)
		return
	}

	id, err := uuid.Parse(r.URL.Query().Get("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversation id", h.logger)
		return
	}

	conv, ok := h.loadOwned(w, r, id, principal)
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), conv.ID); err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found", h.logger)
			return
		}
		h.logger.Error("deleting conversation failed", "id", conv.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"}, h.logger)
}

// turns handles GET /api/v1/conversations/{id}/turns.
func (h *conversationHandler) turns(w http.ResponseWriter, r *http.Request) {
	principal := h.resolver.Resolve(r.Context(), r)
	if principal == nil {
		writeError(w, http.StatusUnauthorized, "authentication required", h.logger)
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversation id", h.logger)
		return
	}

	conv, ok := h.loadOwned(w, r, id, principal)
	if !ok {
		return
	}

	turns, err := h.store.Turns(r.Context(), conv.ID)
	if err != nil {
		h.logger.Error("loading turns failed", "id", conv.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error", h.logger)
		return
	}

	out := make([]wireTurn, 0, len(turns))
	for _, t := range turns {
		out = append(out, wireTurn{
			ID:        t.ID.String(),
			Role:      string(t.Role),
			Content:   t.Text,
			Segments:  t.Segments,
			Results:   t.Results,
			CreatedAt: t.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"turns": out}, h.logger)
}

// loadOwned fetches the conversation and enforces ownership, writing the
// error response itself on failure.
func (h *conversationHandler) loadOwned(w http.ResponseWriter, r *http.Request, id uuid.UUID, principal *auth.Principal) (*conversation.Conversation, bool) {
	conv, err := h.store.Get(r.Context(), id)
	if errors.Is(err, conversation.ErrNotFound) {
		writeError(w, http.StatusNotFound, "conversation not found", h.logger)
		return nil, false
	}
	if err != nil {
		h.logger.Error("loading conversation failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error", h.logger)
		return nil, false
	}
	if conv.OwnerID != principal.ID {
		writeError(w, http.StatusUnauthorized, "conversation belongs to another user", h.logger)
		return nil, false
	}
	return conv, true
}
