package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"sms-agent/internal/domain"
	"sms-agent/internal/infra/logging"
	"sms-agent/internal/infra/redis"
)

const (
	extractLimit  = 3
	extractWindow = time.Minute
)

type extractResponse struct {
	ConversationID string  `json:"conversation_id"`
	TraceID        string  `json:"trace_id"`
	Saved          bool    `json:"saved"`
	UserContext    *string `json:"user_context"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(r.Context()); err != nil {
			s.log.Warn().Err(err).Msg("health check: database unreachable")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// extractContextHandler runs context extraction for one conversation right
// away, regardless of the sampling interval.
func (s *Server) extractContextHandler(w http.ResponseWriter, r *http.Request) {
	convID := chi.URLParam(r, "id")
	if convID == "" {
		http.Error(w, "missing conversation id", http.StatusBadRequest)
		return
	}
	ctx := logging.WithTraceID(r.Context(), "")
	ctx = logging.WithConversationID(ctx, convID)
	log := logging.With(ctx, s.log)

	if s.limiter != nil {
		ok, err := s.limiter.Allow(ctx, redis.AdminExtractKey(convID), extractLimit, extractWindow)
		if err != nil {
			// fail open
			log.Warn().Err(err).Msg("rate limiter unavailable")
		} else if !ok {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
	}

	summary, err := s.contextUC.Extract(ctx, convID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, extractResponse{
			ConversationID: convID,
			TraceID:        logging.TraceID(ctx),
			Saved:          summary != nil,
			UserContext:    summary,
		})
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "conversation not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrLockHeld):
		http.Error(w, "extraction already running", http.StatusConflict)
	default:
		log.Error().Err(err).Msg("admin context extraction failed")
		http.Error(w, "extraction failed", http.StatusInternalServerError)
	}
}
