package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/novalive/internal/observe"
	"github.com/MrWong99/novalive/pkg/provider/chat"
)

// maxChatBody bounds the JSON body of a chat request.
const maxChatBody = 256 << 10

// ChatSettings is the per-request configuration of /api/chat, resolved for
// every request so that reloaded configuration applies at once.
type ChatSettings struct {
	// Instructions is the system instruction. Empty uses the backend default.
	Instructions string

	// MaxHistory caps the earlier turns sent to the backend; older turns are
	// dropped. Zero keeps them all.
	MaxHistory int
}

type chatRequest struct {
	Text    string         `json:"text"`
	History []chat.Message `json:"history"`
}

// chatResponse carries the reply. Fallback marks a canned reply standing in
// for one the model did not give.
type chatResponse struct {
	Reply    string `json:"reply"`
	Fallback bool   `json:"fallback,omitempty"`
}

type chatErrorBody struct {
	Error string `json:"error"`
	Reply string `json:"reply"`
}

type greetingResponse struct {
	Greeting string `json:"greeting"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		writeError(w, http.StatusServiceUnavailable, "chat is not configured")
		return
	}

	var body chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	settings := s.chatSettings()
	history := body.History
	if n := settings.MaxHistory; n > 0 && len(history) > n {
		history = history[len(history)-n:]
	}
	req := chat.Request{
		Text:         strings.TrimSpace(body.Text),
		History:      history,
		Instructions: settings.Instructions,
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, span := observe.StartSpan(r.Context(), "chat.reply",
		trace.WithAttributes(
			attribute.Int("text_length", len(req.Text)),
			attribute.Int("history_turns", len(req.History)),
		))
	defer span.End()
	log := observe.LoggerWith(s.log, ctx)

	began := time.Now()
	resp, err := s.chat.Reply(ctx, req)
	s.metrics.ChatDuration.Record(ctx, time.Since(began).Seconds())
	switch {
	case err == nil:
		log.Debug("chat replied", "reply_length", len(resp.Text))
		writeJSON(w, http.StatusOK, chatResponse{Reply: resp.Text})
	case errors.Is(err, chat.ErrEmptyText), errors.Is(err, chat.ErrInvalidHistory):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chat.ErrNoText):
		log.Warn("chat backend answered without text", "err", err)
		writeJSON(w, http.StatusOK, chatResponse{Reply: chat.EmptyReply, Fallback: true})
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "chat failed")
		s.metrics.RecordProviderError(ctx, "chat", "reply")
		log.Error("chat reply failed", "err", err)
		writeJSON(w, http.StatusBadGateway, chatErrorBody{Error: "chat failed", Reply: chat.FailureReply})
	}
}

func (s *Server) handleGreeting(w http.ResponseWriter, _ *http.Request) {
	if s.chat == nil {
		writeError(w, http.StatusServiceUnavailable, "chat is not configured")
		return
	}
	writeJSON(w, http.StatusOK, greetingResponse{Greeting: chat.Greeting})
}
