package rest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/dmitrijs2005/loanapp/internal/common"
)

// Error codes returned in the "code" field of failure bodies.
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeUnauthenticated    = "UNAUTHENTICATED"
	CodeTokenExpired       = "TOKEN_EXPIRED"
	CodeForbidden          = "FORBIDDEN"
	CodeNotFound           = "NOT_FOUND"
	CodeConflict           = "CONFLICT"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeInvalidOTP         = "INVALID_OTP"
	CodeNoFields           = "NO_FIELDS"
	CodeRateLimited        = "RATE_LIMITED"
	CodeInternal           = "INTERNAL"
)

const (
	msgConflict           = "User with this email, phone number, Ghana Card, or Voters ID already exists"
	msgInvalidCredentials = "Invalid credentials"
	msgWrongPassword      = "Current password is incorrect"
	msgInvalidOTP         = "Invalid or expired OTP"
	msgInvalidRefresh     = "Invalid or expired refresh token"
	msgTokenExpired       = "Token expired. Please login again."
	msgUnauthenticated    = "Not authorized to access this route. Please login."
	msgSuspended          = "Your account has been suspended. Please contact support."
	msgNotFound           = "Not found"
	msgInternal           = "Something went wrong. Please try again."
	msgRateLimited        = "Too many requests. Please try again later."
	msgBadJSON            = "Invalid JSON body"
)

type errorBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Success: false, Message: msg, Code: code})
}

// errorResponse maps a service error to status, code and client message.
// Anything unrecognised is a 500 with a generic message.
func errorResponse(err error) (int, string, string) {
	var ve *common.ValidationError

	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, CodeValidation, ve.Message
	case errors.Is(err, common.ErrNoFieldsProvided):
		return http.StatusBadRequest, CodeNoFields, "No fields to update"
	case errors.Is(err, common.ErrConflict):
		return http.StatusBadRequest, CodeConflict, msgConflict
	case errors.Is(err, common.ErrInvalidOTP):
		return http.StatusBadRequest, CodeInvalidOTP, msgInvalidOTP
	case errors.Is(err, common.ErrInvalidCredentials):
		return http.StatusUnauthorized, CodeInvalidCredentials, msgInvalidCredentials
	case errors.Is(err, common.ErrWrongPassword):
		return http.StatusUnauthorized, CodeInvalidCredentials, msgWrongPassword
	case errors.Is(err, common.ErrTokenExpired):
		return http.StatusUnauthorized, CodeTokenExpired, msgTokenExpired
	case errors.Is(err, common.ErrInvalidToken), errors.Is(err, common.ErrTokenRevoked):
		return http.StatusUnauthorized, CodeUnauthenticated, msgInvalidRefresh
	case errors.Is(err, common.ErrUnauthenticated):
		return http.StatusUnauthorized, CodeUnauthenticated, msgUnauthenticated
	case errors.Is(err, common.ErrForbidden):
		return http.StatusForbidden, CodeForbidden, msgSuspended
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound, CodeNotFound, msgNotFound
	default:
		return http.StatusInternalServerError, CodeInternal, msgInternal
	}
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := errorResponse(err)
	if status == http.StatusInternalServerError {
		s.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	writeError(w, status, code, msg)
}

// decode reads a JSON body into dst. An empty body leaves dst untouched.
func decode(r *http.Request, dst any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}
