package rest

import (
	"net/http"

	"github.com/dmitrijs2005/loanapp/internal/server/models"
)

func (s *Server) handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, s.instrument(pattern, h))
}

func (s *Server) routes() {
	authed := s.requireAuth
	fn := func(f http.HandlerFunc) http.Handler { return f }

	// public
	s.handle("POST /register", s.rateLimit("auth", s.limits.Auth, ipKey, fn(s.handleRegister)))
	s.handle("POST /login", s.rateLimit("auth", s.limits.Auth, ipKey, fn(s.handleLogin)))
	s.handle("POST /refresh-token", s.rateLimit("auth", s.limits.Auth, ipKey, fn(s.handleRefreshToken)))

	// bearer
	s.handle("POST /verify-email", authed(fn(s.handleVerifyEmail)))
	s.handle("POST /resend-otp", authed(s.rateLimit("otp", s.limits.OTP, userKey, fn(s.handleResendOTP))))
	s.handle("GET /me", authed(fn(s.handleMe)))
	s.handle("PUT /update-profile", authed(fn(s.handleUpdateProfile)))
	s.handle("PUT /change-password", authed(fn(s.handleChangePassword)))
	s.handle("POST /logout", authed(fn(s.handleLogout)))

	if s.users.ProfileImagesEnabled() {
		s.handle("POST /profile-image", authed(fn(s.handleProfileImage)))
	}

	// admin
	s.handle("GET /admin/users/{id}", authed(s.authorize(models.RoleAdmin)(fn(s.handleAdminGetUser))))

	// ops
	s.handle("GET /health", fn(s.handleHealth))
	s.mux.Handle("GET /metrics", s.metricsHandler())
}
