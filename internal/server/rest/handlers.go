package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrijs2005/loanapp/internal/server/auth"
	"github.com/dmitrijs2005/loanapp/internal/server/models"
	"github.com/dmitrijs2005/loanapp/internal/server/validation"
)

// looseString accepts a JSON string or number. Clients send monthlySalary
// both ways.
type looseString string

func (l *looseString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*l = ""
		return nil
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*l = looseString(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number: %w", err)
	}
	*l = looseString(n.String())
	return nil
}

type registerRequest struct {
	FirstName       string      `json:"firstName"`
	LastName        string      `json:"lastName"`
	Email           string      `json:"email"`
	Phone           string      `json:"phone"`
	Password        string      `json:"password"`
	ConfirmPassword string      `json:"confirmPassword"`
	Address         string      `json:"address"`
	DateOfBirth     string      `json:"dateOfBirth"`
	Occupation      string      `json:"occupation"`
	MonthlySalary   looseString `json:"monthlySalary"`
	GhanaCardNumber string      `json:"ghanaCardNumber"`
	VotersIDNumber  string      `json:"votersIdNumber"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type otpRequest struct {
	OTP string `json:"otp"`
}

type updateProfileRequest struct {
	FirstName       *string      `json:"firstName"`
	LastName        *string      `json:"lastName"`
	Phone           *string      `json:"phone"`
	Address         *string      `json:"address"`
	DateOfBirth     *string      `json:"dateOfBirth"`
	Occupation      *string      `json:"occupation"`
	MonthlySalary   *looseString `json:"monthlySalary"`
	GhanaCardNumber *string      `json:"ghanaCardNumber"`
	VotersIDNumber  *string      `json:"votersIdNumber"`
}

func (u updateProfileRequest) toUpdate() models.ProfileUpdate {
	upd := models.ProfileUpdate{
		FirstName:       u.FirstName,
		LastName:        u.LastName,
		Phone:           u.Phone,
		Address:         u.Address,
		DateOfBirth:     u.DateOfBirth,
		Occupation:      u.Occupation,
		GhanaCardNumber: u.GhanaCardNumber,
		VotersIDNumber:  u.VotersIDNumber,
	}
	if u.MonthlySalary != nil {
		v := string(*u.MonthlySalary)
		upd.MonthlySalary = &v
	}
	return upd
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type sessionResponse struct {
	Success      bool             `json:"success"`
	Message      string           `json:"message,omitempty"`
	AccessToken  string           `json:"accessToken"`
	RefreshToken string           `json:"refreshToken"`
	User         *models.UserView `json:"user"`
}

type userResponse struct {
	Success bool             `json:"success"`
	Message string           `json:"message,omitempty"`
	User    *models.UserView `json:"user"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// readJSON decodes the body into dst and answers 400 on malformed input.
func (s *Server) readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := decode(r, dst); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, msgBadJSON)
		return false
	}
	return true
}

func principal(w http.ResponseWriter, r *http.Request) (*Principal, bool) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeUnauthenticated, msgUnauthenticated)
	}
	return p, ok
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !s.readJSON(w, r, &req) {
		return
	}

	pair, err := s.users.Register(r.Context(), validation.Registration{
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		Email:           req.Email,
		Phone:           req.Phone,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
		Address:         req.Address,
		DateOfBirth:     req.DateOfBirth,
		Occupation:      req.Occupation,
		MonthlySalary:   string(req.MonthlySalary),
		GhanaCardNumber: req.GhanaCardNumber,
		VotersIDNumber:  req.VotersIDNumber,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, session(pair, "Registration successful. Please check your email for the verification code."))
}

func session(pair *auth.SessionPair, msg string) sessionResponse {
	return sessionResponse{
		Success:      true,
		Message:      msg,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		User:         pair.User,
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.readJSON(w, r, &req) {
		return
	}

	pair, err := s.users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, session(pair, "Login successful"))
}

func (s *Server) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !s.readJSON(w, r, &req) {
		return
	}

	access, err := s.users.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "accessToken": access})
}

func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req otpRequest
	if !s.readJSON(w, r, &req) {
		return
	}

	if err := s.users.VerifyEmail(r.Context(), p.UserID, req.OTP); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Email verified successfully"})
}

func (s *Server) handleResendOTP(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	if err := s.users.ResendOTP(r.Context(), p.UserID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "OTP sent successfully"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, userResponse{Success: true, User: p.User})
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req updateProfileRequest
	if !s.readJSON(w, r, &req) {
		return
	}

	view, err := s.users.UpdateProfile(r.Context(), p.UserID, req.toUpdate())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, userResponse{Success: true, Message: "Profile updated successfully", User: view})
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req changePasswordRequest
	if !s.readJSON(w, r, &req) {
		return
	}

	if err := s.users.ChangePassword(r.Context(), p.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Password changed successfully"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	// the body is optional
	var req refreshRequest
	if !s.readJSON(w, r, &req) {
		return
	}

	if err := s.users.Logout(r.Context(), p.Claims, req.RefreshToken); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Logged out successfully"})
}

func (s *Server) handleProfileImage(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	url, key, err := s.users.ProfileImageUploadURL(r.Context(), p.UserID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"uploadUrl": url,
		"key":       key,
		"method":    http.MethodPut,
	})
}

func (s *Server) handleAdminGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, CodeValidation, "Invalid user id")
		return
	}

	view, err := s.users.GetUser(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, userResponse{Success: true, User: view})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	database := "up"

	if s.dbHealth != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := s.dbHealth(ctx); err != nil {
			s.logger.Warn(r.Context(), "health check failed", "error", err)
			status, code, database = "degraded", http.StatusServiceUnavailable, "down"
		}
	}

	writeJSON(w, code, map[string]any{
		"success":   code == http.StatusOK,
		"status":    status,
		"database":  database,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
