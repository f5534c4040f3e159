package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/novalive/internal/observe"
	"github.com/MrWong99/novalive/pkg/audio"
	"github.com/MrWong99/novalive/pkg/provider/speech"
)

// maxSpeechBody bounds the JSON body of a synthesis request.
const maxSpeechBody = 64 << 10

type speechRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

type voicesResponse struct {
	Default string   `json:"default,omitempty"`
	Voices  []string `json:"voices"`
}

func (s *Server) handleSpeech(w http.ResponseWriter, r *http.Request) {
	if s.speech == nil {
		writeError(w, http.StatusServiceUnavailable, "speech synthesis is not configured")
		return
	}

	var req speechRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSpeechBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, speech.ErrEmptyText.Error())
		return
	}
	voice, err := speech.ResolveVoice(req.Voice, s.defaultVoice, s.speech.Voices())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, span := observe.StartSpan(r.Context(), "speech.synthesize",
		trace.WithAttributes(
			attribute.String("voice", voice),
			attribute.Int("text_length", len(req.Text)),
		))
	defer span.End()
	log := observe.LoggerWith(s.log, ctx)

	began := time.Now()
	res, err := s.speech.Synthesize(ctx, speech.Request{Text: req.Text, Voice: voice})
	s.metrics.SpeechDuration.Record(ctx, time.Since(began).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "synthesis failed")
		switch {
		case errors.Is(err, speech.ErrEmptyText), errors.Is(err, speech.ErrUnknownVoice):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.metrics.RecordProviderError(ctx, "speech", "synthesize")
			log.Error("speech synthesis failed", "voice", voice, "err", err)
			writeError(w, http.StatusBadGateway, "speech synthesis failed")
		}
		return
	}

	wav, err := audio.EncodeWAV(res.PCM, res.SampleRate, 1)
	if err != nil {
		span.RecordError(err)
		log.Error("encoding speech as wav failed", "err", err)
		writeError(w, http.StatusBadGateway, "speech synthesis returned unusable audio")
		return
	}
	log.Debug("speech synthesized", "voice", voice, "duration", res.Duration())

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(wav)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wav)
}

func (s *Server) handleVoices(w http.ResponseWriter, _ *http.Request) {
	if s.speech == nil {
		writeError(w, http.StatusServiceUnavailable, "speech synthesis is not configured")
		return
	}
	writeJSON(w, http.StatusOK, voicesResponse{Default: s.defaultVoice, Voices: s.speech.Voices()})
}
