// Package server wires the identity backend together: storage, token
// revocation, rate limiting, mail delivery and the HTTP server, and runs it
// until SIGINT/SIGTERM.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/loanapp/internal/logging"
	"github.com/dmitrijs2005/loanapp/internal/server/config"
	"github.com/dmitrijs2005/loanapp/internal/server/mail"
	"github.com/dmitrijs2005/loanapp/internal/server/password"
	"github.com/dmitrijs2005/loanapp/internal/server/ratelimit"
	"github.com/dmitrijs2005/loanapp/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/loanapp/internal/server/rest"
	"github.com/dmitrijs2005/loanapp/internal/server/revocation"
	"github.com/dmitrijs2005/loanapp/internal/server/services"
	"github.com/dmitrijs2005/loanapp/internal/server/storage"
	"github.com/redis/go-redis/v9"
)

const redisPingTimeout = 5 * time.Second

type App struct {
	config      *config.Config
	logger      logging.Logger
	db          *sql.DB
	redis       *redis.Client
	limiter     ratelimit.Limiter
	revoker     revocation.Revoker
	userService *services.UserService
}

// NewApp opens the database, applies migrations and builds the services.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.New(os.Stdout, c.LogLevel, c.LogFormat)

	db, err := repomanager.Open(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	hasher, err := password.New(c.PasswordHasher, c.BcryptCost)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	app := &App{config: c, logger: logger, db: db}

	if err := app.initRedis(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	notifier := mail.NewNotifier(app.newMailer(), c.SMTPFrom, c.FrontendURL, c.OTPValidityDuration)

	var opts []services.Option
	if c.S3Bucket != "" {
		opts = append(opts, services.WithProfileImages(storage.NewProfileImages(storage.S3Config{
			AccessKey:    c.S3RootUser,
			SecretKey:    c.S3RootPassword,
			Bucket:       c.S3Bucket,
			Region:       c.S3Region,
			BaseEndpoint: c.S3BaseEndpoint,
		})))
	}

	app.userService = services.NewUserService(db, rm, c, hasher, app.revoker, notifier, logger, opts...)

	return app, nil
}

// initRedis selects the Redis-backed revocation list and limiter when an
// address is configured, and the in-memory ones otherwise.
func (app *App) initRedis(ctx context.Context) error {
	if app.config.RedisAddr == "" {
		app.logger.Warn(ctx, "redis not configured, using in-memory revocation and rate limiting")
		app.revoker = revocation.NewMemoryStore()
		app.limiter = ratelimit.NewMemoryLimiter()
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     app.config.RedisAddr,
		Password: app.config.RedisPassword,
		DB:       app.config.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("redis init error: %w", err)
	}

	app.redis = client
	app.revoker = revocation.NewRedisStore(client, app.logger)
	app.limiter = ratelimit.NewRedisLimiter(client, app.logger)
	return nil
}

func (app *App) newMailer() mail.Mailer {
	c := app.config
	if c.SMTPHost == "" {
		app.logger.Warn(context.Background(), "smtp not configured, emails are logged only")
		return mail.NewLogMailer(app.logger)
	}
	return mail.NewSMTPMailer(mail.SMTPConfig{
		Host:          c.SMTPHost,
		Port:          c.SMTPPort,
		Username:      c.SMTPUser,
		Password:      c.SMTPPassword,
		SkipTLSVerify: c.SMTPInsecureSkipVerify,
	})
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run serves HTTP until ctx is cancelled or a signal arrives, then
// releases every resource.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	srv := rest.NewServer(app.config.HTTPAddr, app.logger, app.userService, app.limiter,
		rest.Limits{
			Auth:   app.config.AuthRateLimit,
			OTP:    app.config.OTPRateLimit,
			Window: app.config.RateLimitWindow,
		},
		app.db.PingContext, app.config.ShutdownTimeout)

	runErr := srv.Run(ctx)
	if runErr != nil {
		app.logger.Error(ctx, "http server failed", "error", runErr)
	}

	return errors.Join(runErr, app.close(context.WithoutCancel(ctx)))
}

func (app *App) close(ctx context.Context) error {
	app.userService.Wait()

	var errs []error
	if err := app.limiter.Close(); err != nil {
		errs = append(errs, err)
	}
	if c, ok := app.revoker.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := app.db.Close(); err != nil {
		errs = append(errs, err)
	}

	app.logger.Info(ctx, "App stopped")
	return errors.Join(errs...)
}
