// Command seedadmin creates the first administrator account, or promotes an
// existing user, using the server's database settings.
package main

import (
	"bufio"
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/loanapp/internal/logging"
	"github.com/dmitrijs2005/loanapp/internal/seedadmin"
	"github.com/dmitrijs2005/loanapp/internal/server/config"
	"github.com/dmitrijs2005/loanapp/internal/server/mail"
	"github.com/dmitrijs2005/loanapp/internal/server/password"
	"github.com/dmitrijs2005/loanapp/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/loanapp/internal/server/revocation"
	"github.com/dmitrijs2005/loanapp/internal/server/services"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()
	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	db, err := repomanager.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("db init error: %v", err)
	}
	defer db.Close()

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		log.Fatalf("migrations error: %v", err)
	}

	hasher, err := password.New(cfg.PasswordHasher, cfg.BcryptCost)
	if err != nil {
		log.Fatalf("%v", err)
	}

	revoker := revocation.NewMemoryStore()
	defer revoker.Close()

	notifier := mail.NewNotifier(mail.NewLogMailer(logger), cfg.SMTPFrom, cfg.FrontendURL, cfg.OTPValidityDuration)
	svc := services.NewUserService(db, rm, cfg, hasher, revoker, notifier, logger)

	if err := seedadmin.Run(ctx, svc, bufio.NewReader(os.Stdin), os.Stdout); err != nil {
		log.Fatalf("seed admin: %v", err)
	}
}
