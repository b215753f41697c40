// Package rest exposes the identity service over HTTP/JSON.
package rest

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/loanapp/internal/logging"
	"github.com/dmitrijs2005/loanapp/internal/server/auth"
	"github.com/dmitrijs2005/loanapp/internal/server/models"
	"github.com/dmitrijs2005/loanapp/internal/server/ratelimit"
	"github.com/dmitrijs2005/loanapp/internal/server/validation"
	"github.com/prometheus/client_golang/prometheus"
)

// IdentityService is the subset of services.UserService the handlers use.
type IdentityService interface {
	Register(ctx context.Context, r validation.Registration) (*auth.SessionPair, error)
	Login(ctx context.Context, email, password string) (*auth.SessionPair, error)
	RefreshToken(ctx context.Context, refreshToken string) (string, error)
	Authenticate(ctx context.Context, token string) (*auth.Claims, *models.User, error)
	VerifyEmail(ctx context.Context, userID int64, code string) error
	ResendOTP(ctx context.Context, userID int64) error
	UpdateProfile(ctx context.Context, userID int64, upd models.ProfileUpdate) (*models.UserView, error)
	ChangePassword(ctx context.Context, userID int64, current, next string) error
	Logout(ctx context.Context, access *auth.Claims, refreshToken string) error
	ProfileImageUploadURL(ctx context.Context, userID int64) (url string, key string, err error)
	ProfileImagesEnabled() bool
	GetUser(ctx context.Context, id int64) (*models.UserView, error)
}

// Limits are request budgets per window. Zero disables a budget.
type Limits struct {
	Auth   int
	OTP    int
	Window time.Duration
}

const (
	readHeaderTimeout  = 5 * time.Second
	healthCheckTimeout = 2 * time.Second
	maxBodyBytes       = 1 << 20
)

type Server struct {
	address         string
	users           IdentityService
	limiter         ratelimit.Limiter
	limits          Limits
	dbHealth        func(context.Context) error
	logger          logging.Logger
	shutdownTimeout time.Duration

	mux      *http.ServeMux
	registry *prometheus.Registry
	metrics  *metrics
}

// NewServer builds the router. dbHealth may be nil.
func NewServer(address string, l logging.Logger, users IdentityService, limiter ratelimit.Limiter,
	limits Limits, dbHealth func(context.Context) error, shutdownTimeout time.Duration) *Server {

	s := &Server{
		address:         address,
		users:           users,
		limiter:         limiter,
		limits:          limits,
		dbHealth:        dbHealth,
		logger:          l.With("module", "rest_server"),
		shutdownTimeout: shutdownTimeout,
		mux:             http.NewServeMux(),
		registry:        prometheus.NewRegistry(),
	}
	s.metrics = newMetrics(s.registry)
	s.routes()
	return s
}

// Handler returns the root handler with all routes mounted.
func (s *Server) Handler() http.Handler { return s.mux }

// Run serves until ctx is cancelled, then drains in-flight requests for at
// most the shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	done := make(chan error, 1)
	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
		defer cancel()
		done <- srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return <-done
}
