package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"mai-accounts/accountd/internal/account"
	"mai-accounts/accountd/internal/session"

	"github.com/gorilla/mux"
)

const streamKeepAlive = 15 * time.Second

type dismissNoticeRequest struct {
	Key string `json:"key"`
}

func (s *Server) handleAdminSession(w http.ResponseWriter, r *http.Request) {
	st := s.sessions.Validate(w, r)
	status := http.StatusOK
	if !st.Valid {
		status = http.StatusUnauthorized
	}
	writeJSON(w, status, st)
}

func (s *Server) handleAdminActivity(w http.ResponseWriter, r *http.Request) {
	st, err := s.sessions.Touch(w, r)
	if err != nil {
		if errors.Is(err, session.ErrNoSession) {
			writeError(w, http.StatusNotFound, "no_session", session.ReasonNoSession)
			return
		}
		s.log.WithError(err).Error("touch admin session")
		writeError(w, http.StatusInternalServerError, "internal", account.MsgGeneric)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "lastActivity": st.LastActivity})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := s.accounts.Stats(r.Context())
	if err != nil {
		s.writeAccountError(w, r, err)
		return
	}

	st := adminStatusFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"stats":   stats,
		"notices": s.notices.List(),
		"session": map[string]any{
			"lastActivity":       st.LastActivity,
			"idleTimeoutSeconds": int(s.sessions.IdleTimeout() / time.Second),
		},
	})
}

func (s *Server) handleNoticesList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"notices": s.notices.List()})
}

func (s *Server) handleNoticeDismiss(w http.ResponseWriter, r *http.Request) {
	var req dismissNoticeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	key := strings.TrimSpace(req.Key)
	if key == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "key is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "dismissed": s.notices.Dismiss(key)})
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.accounts.DeleteAccount(r.Context(), id); err != nil {
		s.writeAccountError(w, r, err)
		return
	}
	s.bus.Publish(EventAccounts, map[string]any{"action": "deleted", "id": id})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleClearUsers(w http.ResponseWriter, r *http.Request) {
	res, err := s.accounts.ClearNonAdmin(r.Context())
	if err != nil {
		s.writeAccountError(w, r, err)
		return
	}
	s.bus.Publish(EventAccounts, map[string]any{"action": "cleared", "count": res.Deleted})
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      len(res.Errors) == 0,
		"deletedCount": res.Deleted,
		"errors":       res.Errors,
	})
}

// handleStream pushes account and notice events to an admin page and runs
// the idle poll for its session. When the session goes idle the stream
// sends "expired" and closes.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "unsupported", "streaming unsupported")
		return
	}

	st := adminStatusFromContext(r.Context())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ch := s.bus.Subscribe(st.SessionID)
	defer s.bus.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	activity := make(chan time.Time, 8)
	watchDone := make(chan error, 1)
	watcher := s.sessions.NewWatcher(st)
	go func() { watchDone <- watcher.Run(ctx, s.sessions.PollInterval(), activity) }()

	// Initial event so the client knows the stream is up.
	_, _ = fmt.Fprintf(w, "event: hello\ndata: {}\n\n")
	flusher.Flush()

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-watchDone:
			if errors.Is(err, session.ErrExpired) {
				b, _ := json.Marshal(map[string]any{"reason": session.ReasonExpired, "redirect": "/login"})
				_, _ = fmt.Fprintf(w, "event: expired\ndata: %s\n\n", string(b))
				flusher.Flush()
			}
			return
		case <-keepAlive.C:
			_, _ = fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Type == EventActivity {
				select {
				case activity <- ev.Time:
				default:
				}
				continue
			}
			b, _ := json.Marshal(ev)
			eventName := "update"
			if ev.Type == EventNotice {
				eventName = "notice"
			}
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventName, string(b))
			flusher.Flush()
		}
	}
}
