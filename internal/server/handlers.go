package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":  "healthy",
		"service": "networth",
	}

	writeJSON(w, s.log, http.StatusOK, response)
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, log zerolog.Logger, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeData wraps data in the standard envelope
func writeData(w http.ResponseWriter, log zerolog.Logger, status int, data interface{}) {
	writeJSON(w, log, status, map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

func writeError(w http.ResponseWriter, log zerolog.Logger, status int, message string) {
	writeJSON(w, log, status, map[string]string{"error": message})
}
