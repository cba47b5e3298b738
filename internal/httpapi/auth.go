package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"mai-accounts/accountd/internal/account"
	"mai-accounts/accountd/internal/model"
)

type verifyOTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type resendOTPRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Email    string `json:"email"`
	OTP      string `json:"otp"`
	Password string `json:"password"`
}

type validateFieldRequest struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

type validateFieldResponse struct {
	IsUnique bool   `json:"isUnique"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req model.NewAccount
	if !decodeJSON(w, r, &req) {
		return
	}

	pending, err := s.accounts.Signup(r.Context(), req)
	if err != nil {
		s.writeAccountError(w, r, err)
		return
	}

	s.bus.Publish(EventAccounts, map[string]any{"action": "signup", "id": pending.IdentityID})
	writeJSON(w, http.StatusCreated, map[string]any{
		"success":      true,
		"pending":      true,
		"email":        pending.Email,
		"otpExpiresAt": pending.ExpiresAt,
		"message":      "Account created. Check your email for the verification code.",
	})
}

func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ident, err := s.accounts.VerifyOTP(r.Context(), req.Email, req.OTP)
	if err != nil {
		s.writeAccountError(w, r, err)
		return
	}

	s.bus.Publish(EventAccounts, map[string]any{"action": "verified", "id": ident.ID})
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"verified": true,
		"email":    ident.Email,
	})
}

func (s *Server) handleResendOTP(w http.ResponseWriter, r *http.Request) {
	var req resendOTPRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := s.accounts.ResendOTP(r.Context(), req.Email); err != nil {
		s.writeAccountError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "If the account is awaiting verification, a new code is on its way.",
	})
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req resendOTPRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := s.accounts.ForgotPassword(r.Context(), req.Email); err != nil {
		s.writeAccountError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "If an account exists for that email, a reset code is on its way.",
	})
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := s.accounts.ResetPassword(r.Context(), req.Email, req.OTP, req.Password); err != nil {
		s.writeAccountError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"redirect": "/login",
		"message":  "Password updated. Please log in with your new password.",
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req account.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := s.accounts.Login(r.Context(), req)
	if err != nil {
		s.writeAccountError(w, r, err)
		return
	}

	if res.Identity != nil {
		token, err := s.tokens.Issue(res.Identity.ID, res.Identity.Email)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal", "failed to generate token")
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:     userSessionCookie,
			Value:    token,
			Path:     "/",
			MaxAge:   int(jwtTokenExpiry / time.Second),
			HttpOnly: true,
			Secure:   s.cfg.SecureCookies,
			SameSite: http.SameSiteLaxMode,
		})
	}
	if res.Admin {
		if _, err := s.sessions.Start(w, r); err != nil {
			s.log.WithError(err).Error("start admin session")
			writeError(w, http.StatusInternalServerError, "internal", account.MsgGeneric)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"redirect": res.Redirect,
		"isAdmin":  res.Admin,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.sessions.End(w, r)
	http.SetCookie(w, &http.Cookie{
		Name:     userSessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "redirect": "/login"})
}

func (s *Server) handleValidateField(w http.ResponseWriter, r *http.Request) {
	var req validateFieldRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	field, ok := model.ParseField(req.Field)
	if !ok {
		s.writeAccountError(w, r, &account.ValidationError{Fields: map[string]string{
			"field": "Unknown field. Use username, email or mobile_number.",
		}})
		return
	}

	v := s.accounts.Validator()
	unique, err := v.CheckUnique(r.Context(), field, req.Value)
	if err != nil {
		// The check is advisory; the store decides at signup anyway.
		s.log.WithError(err).WithField("field", field).Warn("uniqueness check failed")
		writeJSON(w, http.StatusOK, validateFieldResponse{IsUnique: true, Error: "Could not check availability right now."})
		return
	}
	if unique {
		writeJSON(w, http.StatusOK, validateFieldResponse{IsUnique: true})
		return
	}

	dup := &account.DuplicateFieldError{Field: field, Reserved: field == model.FieldUsername && v.IsReserved(req.Value)}
	writeJSON(w, http.StatusOK, validateFieldResponse{Error: account.UserMessage(dup)})
}

func (s *Server) handleVerificationStatus(w http.ResponseWriter, r *http.Request) {
	noSession := func() {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"verified": false, "error": "No session found"})
	}

	c, err := r.Cookie(userSessionCookie)
	if err != nil || strings.TrimSpace(c.Value) == "" {
		noSession()
		return
	}
	identityID, _, err := s.tokens.Parse(c.Value)
	if err != nil {
		s.log.WithError(err).Debug("session token rejected")
		noSession()
		return
	}

	ident, err := s.accounts.VerificationStatus(r.Context(), identityID)
	if err != nil {
		if errors.Is(err, account.ErrUserNotFound) {
			noSession()
			return
		}
		s.writeAccountError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"verified":    ident.Confirmed,
		"email":       ident.Email,
		"confirmedAt": ident.ConfirmedAt,
	})
}
