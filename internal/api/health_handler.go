package api

import (
	"net/http"
	"strconv"

	"github.com/our-edu/sqs-messaging/internal/storage"
)

// HealthzHandler reports liveness: it never checks dependencies, so a
// deadlocked downstream (database, queue transport) doesn't take the
// process out of its own liveness probe.
func HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyzHandler reports readiness by pinging the database; a caller should
// stop routing traffic here until it recovers.
func ReadyzHandler(db *storage.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db == nil {
			respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
			return
		}

		if err := db.Ping(r.Context()); err != nil {
			w.Header().Set("Retry-After", strconv.Itoa(30))
			respondError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}

		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
