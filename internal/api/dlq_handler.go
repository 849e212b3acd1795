package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/our-edu/sqs-messaging/internal/logger"
	"github.com/our-edu/sqs-messaging/internal/queue"
)

// dlqFromRequest resolves the {queue} URL parameter; chi guarantees it's
// present for any route registered under /dlq/{queue}/...
func dlqFromRequest(r *http.Request) string {
	return chi.URLParam(r, "queue")
}

func intFromQuery(r *http.Request, param string, fallback int) int {
	raw := r.URL.Query().Get(param)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// DLQInspectHandler handles GET /dlq/{queue}/inspect.
func DLQInspectHandler(dlq *queue.DLQ) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logicalQueue := dlqFromRequest(r)
		log := logger.FromContext(r.Context())

		messages, err := dlq.Inspect(r.Context(), logicalQueue, intFromQuery(r, "limit", 10))
		if err != nil {
			log.Error().Err(err).Str("queue", logicalQueue).Msg("dlq inspect failed")
			respondError(w, http.StatusInternalServerError, "inspect failed")
			return
		}

		respondJSON(w, http.StatusOK, map[string]any{
			"queue":    logicalQueue,
			"messages": messages,
		})
	}
}

// DLQReplayHandler handles POST /dlq/{queue}/replay.
func DLQReplayHandler(dlq *queue.DLQ) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logicalQueue := dlqFromRequest(r)
		log := logger.FromContext(r.Context())

		result, err := dlq.Replay(r.Context(), logicalQueue, intFromQuery(r, "limit", 10))
		if err != nil {
			log.Error().Err(err).Str("queue", logicalQueue).Msg("dlq replay failed")
			respondError(w, http.StatusInternalServerError, "replay failed")
			return
		}

		log.Info().Str("queue", logicalQueue).Int("replayed", result.Replayed).Int("failed", result.Failed).Msg("dlq replay completed")
		respondJSON(w, http.StatusOK, map[string]any{
			"queue":    logicalQueue,
			"replayed": result.Replayed,
			"failed":   result.Failed,
		})
	}
}

// DLQMonitorHandler handles GET /dlq/{queue}/monitor.
func DLQMonitorHandler(dlq *queue.DLQ, defaultThreshold int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logicalQueue := dlqFromRequest(r)
		log := logger.FromContext(r.Context())

		depth, err := dlq.Monitor(r.Context(), logicalQueue, intFromQuery(r, "threshold", defaultThreshold))
		if err != nil {
			log.Error().Err(err).Str("queue", logicalQueue).Msg("dlq monitor failed")
			respondError(w, http.StatusInternalServerError, "monitor failed")
			return
		}

		respondJSON(w, http.StatusOK, map[string]any{
			"queue": logicalQueue,
			"depth": depth,
		})
	}
}
