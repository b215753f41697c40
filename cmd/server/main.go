package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/loanapp/internal/buildinfo"
	"github.com/dmitrijs2005/loanapp/internal/server"
	"github.com/dmitrijs2005/loanapp/internal/server/config"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	ctx := context.Background()
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	app, err := server.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	if err := app.Run(ctx); err != nil {
		log.Fatalf("%v", err)
	}

}
