package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/costera/costera/internal/auth"
	"github.com/costera/costera/internal/chat"
	"github.com/costera/costera/internal/conversation"
	"github.com/costera/costera/internal/stream"
)

// maxChatBodyBytes bounds a chat submission body.
const maxChatBodyBytes = 1 << 20

type chatHandler struct {
	controller *chat.Controller
	resolver   *auth.Resolver
	logger     *slog.Logger
}

// chatRequest is the wire shape of a chat submission.
type chatRequest struct {
	ID       string         `json:"id"`
	Messages []chat.Message `json:"messages"`
	ModelID  string         `json:"modelId,omitempty"`
}

// wireMessage is one renderable turn in a buffered chat response.
type wireMessage struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// send handles POST /api/v1/chat. Web clients get an SSE stream; clients
// that mark themselves as a native platform get one buffered JSON body.
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	principal := h.resolver.Resolve(r.Context(), r)
	if principal == nil {
		writeError(w, http.StatusUnauthorized, "authentication required", h.logger)
		return
	}

	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	if isNativePlatform(r) {
		h.runBuffered(w, r, principal, req)
		return
	}
	h.runStream(w, r, principal, req)
}

// sendMobile handles POST /api/v1/mobile/chat. Bearer authentication is
// mandatory and the response is always one buffered JSON body.
func (h *chatHandler) sendMobile(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		writeError(w, http.StatusUnauthorized, "bearer token required", h.logger)
		return
	}
	principal := h.resolver.Resolve(r.Context(), r)
	if principal == nil {
		writeError(w, http.StatusUnauthorized, "authentication required", h.logger)
		return
	}

	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	h.runBuffered(w, r, principal, req)
}

// decode parses and validates the request body. Writes the error response
// itself and returns ok=false on failure.
func (h *chatHandler) decode(w http.ResponseWriter, r *http.Request) (chat.Request, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)

	var body chatRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", h.logger)
		return chat.Request{}, false
	}

	req := chat.Request{
		Messages: body.Messages,
		ModelID:  body.ModelID,
	}
	if body.ID != "" {
		id, err := uuid.Parse(body.ID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid conversation id", h.logger)
			return chat.Request{}, false
		}
		req.ConversationID = id
	}
	return req, true
}

// runStream delivers the turn over SSE.
func (h *chatHandler) runStream(w http.ResponseWriter, r *http.Request, principal *auth.Principal, req chat.Request) {
	sink, err := stream.NewLiveSink(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming unsupported", h.logger)
		return
	}

	if _, err := h.controller.Run(r.Context(), principal, req, sink); err != nil {
		// Sentinel errors occur before the first frame, so a proper status
		// can still be sent. Later failures were already delivered as an
		// error event on the stream.
		if status, msg, ok := mapControllerError(err); ok {
			writeError(w, status, msg, h.logger)
			return
		}
		h.logger.Error("chat turn failed mid-stream", "error", err)
	}
}

// runBuffered runs the whole turn, then responds with the renderable turns
// in one JSON body.
func (h *chatHandler) runBuffered(w http.ResponseWriter, r *http.Request, principal *auth.Principal, req chat.Request) {
	sink := stream.NewBufferedSink()

	produced, err := h.controller.Run(r.Context(), principal, req, sink)
	if err != nil {
		status, msg, ok := mapControllerError(err)
		if !ok {
			status, msg = http.StatusInternalServerError, "internal server error"
			h.logger.Error("chat turn failed", "error", err)
		}
		writeError(w, status, msg, h.logger)
		return
	}

	msgs := make([]wireMessage, 0, len(produced))
	for _, t := range produced {
		if t.Role != conversation.RoleAssistant {
			continue
		}
		var b strings.Builder
		for _, seg := range t.Segments {
			if seg.Type == conversation.SegmentText {
				b.WriteString(seg.Text)
			}
		}
		if b.Len() == 0 {
			continue
		}
		msgs = append(msgs, wireMessage{
			ID:      t.ID.String(),
			Role:    string(t.Role),
			Content: b.String(),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs}, h.logger)
}

// mapControllerError maps the controller's sentinel errors to HTTP
// responses. ok is false for non-sentinel failures.
func mapControllerError(err error) (status int, message string, ok bool) {
	switch {
	case errors.Is(err, chat.ErrUnauthenticated):
		return http.StatusUnauthorized, "authentication required", true
	case errors.Is(err, chat.ErrNotOwner):
		return http.StatusUnauthorized, "conversation belongs to another user", true
	case errors.Is(err, chat.ErrModelNotFound):
		return http.StatusNotFound, "model not found", true
	case errors.Is(err, chat.ErrNoUserMessage):
		return http.StatusBadRequest, "request must end with a user message", true
	case errors.Is(err, conversation.ErrNotFound):
		return http.StatusNotFound, "conversation not found", true
	}
	return 0, "", false
}

// isNativePlatform reports whether the client marked itself as a native
// mobile app, selecting buffered delivery.
func isNativePlatform(r *http.Request) bool {
	switch strings.ToLower(r.Header.Get("X-Client-Platform")) {
	case "ios", "android":
		return true
	}
	return false
}
