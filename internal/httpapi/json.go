package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"mai-accounts/accountd/internal/account"
	"mai-accounts/accountd/internal/otp"
)

type errorResponse struct {
	Error  string            `json:"error"`
	Code   string            `json:"code"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid json")
		return false
	}
	return true
}

// accountStatus picks the HTTP status for an error from the account layer.
func accountStatus(err error) int {
	var (
		ve *account.ValidationError
		de *account.DuplicateFieldError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &de):
		return http.StatusConflict
	case errors.Is(err, otp.ErrInvalidOrExpired):
		return http.StatusBadRequest
	case errors.Is(err, otp.ErrTooManyRequests):
		return http.StatusTooManyRequests
	case errors.Is(err, account.ErrNotConfirmed):
		return http.StatusForbidden
	case errors.Is(err, account.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, account.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, account.ErrActivation):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *Server) writeAccountError(w http.ResponseWriter, r *http.Request, err error) {
	status := accountStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).WithField("request_id", r.Header.Get(requestIDHeader)).Error("request failed")
	}

	res := errorResponse{Error: account.UserMessage(err), Code: account.Code(err)}
	var ve *account.ValidationError
	if errors.As(err, &ve) {
		res.Fields = ve.Fields
	}
	writeJSON(w, status, res)
}
