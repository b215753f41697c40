package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/loanapp/internal/flagx"
)

var knownFlags = []string{
	"-a", "-d", "-s", "-rs", "-t", "-r",
	"-hasher", "-bcrypt-cost",
	"-redis", "-smtp-host", "-smtp-port", "-frontend-url",
	"-log-level", "-log-format",
	"-u", "-p", "-b", "-g", "-e",
}

// parseFlags populates Config fields from command-line flags.
//
//	-a string           HTTP bind address (":8080")
//	-d string           PostgreSQL DSN
//	-s string           access token secret
//	-rs string          refresh token secret
//	-t int              access token validity, minutes
//	-r int              refresh token validity, minutes
//	-hasher string      bcrypt | argon2id
//	-bcrypt-cost int    bcrypt work factor
//	-redis string       Redis address; empty keeps state in memory
//	-smtp-host string   SMTP host; empty logs emails instead of sending
//	-smtp-port int      SMTP port
//	-frontend-url string
//	-log-level string   debug | info | warn | error
//	-log-format string  json | text
//	-u, -p, -b, -g, -e  S3 user, password, bucket, region, endpoint
//
// os.Args is filtered with flagx.FilterArgs first so the -c/-config flag
// and test runner flags are not rejected.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], knownFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.AccessTokenSecret, "s", config.AccessTokenSecret, "access token secret")
	fs.StringVar(&config.RefreshTokenSecret, "rs", config.RefreshTokenSecret, "refresh token secret")

	accessTokenValidity := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access token validity (in minutes)")
	refreshTokenValidity := fs.Int("r", int(config.RefreshTokenValidityDuration.Minutes()), "refresh token validity (in minutes)")

	fs.StringVar(&config.PasswordHasher, "hasher", config.PasswordHasher, "password hasher: bcrypt or argon2id")
	fs.IntVar(&config.BcryptCost, "bcrypt-cost", config.BcryptCost, "bcrypt cost")

	fs.StringVar(&config.RedisAddr, "redis", config.RedisAddr, "redis address")
	fs.StringVar(&config.SMTPHost, "smtp-host", config.SMTPHost, "SMTP host")
	fs.IntVar(&config.SMTPPort, "smtp-port", config.SMTPPort, "SMTP port")
	fs.StringVar(&config.FrontendURL, "frontend-url", config.FrontendURL, "frontend base URL used in emails")

	fs.StringVar(&config.LogLevel, "log-level", config.LogLevel, "log level")
	fs.StringVar(&config.LogFormat, "log-format", config.LogFormat, "log format")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	// Minutes are applied only when given so sub-minute values from env or
	// JSON survive.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "t":
			config.AccessTokenValidityDuration = time.Duration(*accessTokenValidity) * time.Minute
		case "r":
			config.RefreshTokenValidityDuration = time.Duration(*refreshTokenValidity) * time.Minute
		}
	})
}
