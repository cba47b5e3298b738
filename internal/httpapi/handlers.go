package httpapi

import (
	"context"
	"net/http"
	"time"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	res := map[string]any{
		"ok":   true,
		"time": s.now().Format(time.RFC3339Nano),
	}

	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			s.log.WithError(err).Warn("health check failed")
			res["ok"] = false
			res["store"] = "unreachable"
			writeJSON(w, http.StatusServiceUnavailable, res)
			return
		}
	}
	writeJSON(w, http.StatusOK, res)
}
