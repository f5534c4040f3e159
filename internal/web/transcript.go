package web

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/MrWong99/novalive/internal/archive"
)

type transcriptResponse struct {
	SessionID string           `json:"session_id"`
	Turns     []archive.Record `json:"turns"`
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "transcript archive is not configured")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), archiveTimeout)
	defer cancel()
	records, err := s.store.Turns(ctx, id)
	switch {
	case errors.Is(err, archive.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
		return
	case err != nil:
		s.log.Error("reading transcript archive failed", "session_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "reading transcript archive failed")
		return
	}
	writeJSON(w, http.StatusOK, transcriptResponse{SessionID: id, Turns: records})
}
