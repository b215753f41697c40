package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/loanapp/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Durations use
// timex.Duration so "15m" and integer nanoseconds are both accepted.
type JsonConfig struct {
	HTTPAddr        string         `json:"http_addr"`
	DatabaseDSN     string         `json:"database_dsn"`
	ShutdownTimeout timex.Duration `json:"shutdown_timeout"`

	AccessTokenSecret            string         `json:"access_token_secret"`
	RefreshTokenSecret           string         `json:"refresh_token_secret"`
	AccessTokenValidityDuration  timex.Duration `json:"access_token_validity_duration"`
	RefreshTokenValidityDuration timex.Duration `json:"refresh_token_validity_duration"`

	PasswordHasher      string         `json:"password_hasher"`
	BcryptCost          int            `json:"bcrypt_cost"`
	OTPValidityDuration timex.Duration `json:"otp_validity_duration"`

	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`

	SMTPHost               string `json:"smtp_host"`
	SMTPPort               int    `json:"smtp_port"`
	SMTPUser               string `json:"smtp_user"`
	SMTPPassword           string `json:"smtp_password"`
	SMTPFrom               string `json:"smtp_from"`
	SMTPInsecureSkipVerify bool   `json:"smtp_insecure_skip_verify"`
	FrontendURL            string `json:"frontend_url"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`

	S3RootUser     string `json:"s3_root_user"`
	S3RootPassword string `json:"s3_root_password"`
	S3Bucket       string `json:"s3_bucket"`
	S3Region       string `json:"s3_region"`
	S3BaseEndpoint string `json:"s3_base_endpoint"`

	AuthRateLimit   int            `json:"auth_rate_limit"`
	OTPRateLimit    int            `json:"otp_rate_limit"`
	RateLimitWindow timex.Duration `json:"rate_limit_window"`
}

func toJson(c *Config) *JsonConfig {
	return &JsonConfig{
		HTTPAddr:                     c.HTTPAddr,
		DatabaseDSN:                  c.DatabaseDSN,
		ShutdownTimeout:              timex.Duration{Duration: c.ShutdownTimeout},
		AccessTokenSecret:            c.AccessTokenSecret,
		RefreshTokenSecret:           c.RefreshTokenSecret,
		AccessTokenValidityDuration:  timex.Duration{Duration: c.AccessTokenValidityDuration},
		RefreshTokenValidityDuration: timex.Duration{Duration: c.RefreshTokenValidityDuration},
		PasswordHasher:               c.PasswordHasher,
		BcryptCost:                   c.BcryptCost,
		OTPValidityDuration:          timex.Duration{Duration: c.OTPValidityDuration},
		RedisAddr:                    c.RedisAddr,
		RedisPassword:                c.RedisPassword,
		RedisDB:                      c.RedisDB,
		SMTPHost:                     c.SMTPHost,
		SMTPPort:                     c.SMTPPort,
		SMTPUser:                     c.SMTPUser,
		SMTPPassword:                 c.SMTPPassword,
		SMTPFrom:                     c.SMTPFrom,
		SMTPInsecureSkipVerify:       c.SMTPInsecureSkipVerify,
		FrontendURL:                  c.FrontendURL,
		LogLevel:                     c.LogLevel,
		LogFormat:                    c.LogFormat,
		S3RootUser:                   c.S3RootUser,
		S3RootPassword:               c.S3RootPassword,
		S3Bucket:                     c.S3Bucket,
		S3Region:                     c.S3Region,
		S3BaseEndpoint:               c.S3BaseEndpoint,
		AuthRateLimit:                c.AuthRateLimit,
		OTPRateLimit:                 c.OTPRateLimit,
		RateLimitWindow:              timex.Duration{Duration: c.RateLimitWindow},
	}
}

func (j *JsonConfig) apply(c *Config) {
	c.HTTPAddr = j.HTTPAddr
	c.DatabaseDSN = j.DatabaseDSN
	c.ShutdownTimeout = j.ShutdownTimeout.Duration
	c.AccessTokenSecret = j.AccessTokenSecret
	c.RefreshTokenSecret = j.RefreshTokenSecret
	c.AccessTokenValidityDuration = j.AccessTokenValidityDuration.Duration
	c.RefreshTokenValidityDuration = j.RefreshTokenValidityDuration.Duration
	c.PasswordHasher = j.PasswordHasher
	c.BcryptCost = j.BcryptCost
	c.OTPValidityDuration = j.OTPValidityDuration.Duration
	c.RedisAddr = j.RedisAddr
	c.RedisPassword = j.RedisPassword
	c.RedisDB = j.RedisDB
	c.SMTPHost = j.SMTPHost
	c.SMTPPort = j.SMTPPort
	c.SMTPUser = j.SMTPUser
	c.SMTPPassword = j.SMTPPassword
	c.SMTPFrom = j.SMTPFrom
	c.SMTPInsecureSkipVerify = j.SMTPInsecureSkipVerify
	c.FrontendURL = j.FrontendURL
	c.LogLevel = j.LogLevel
	c.LogFormat = j.LogFormat
	c.S3RootUser = j.S3RootUser
	c.S3RootPassword = j.S3RootPassword
	c.S3Bucket = j.S3Bucket
	c.S3Region = j.S3Region
	c.S3BaseEndpoint = j.S3BaseEndpoint
	c.AuthRateLimit = j.AuthRateLimit
	c.OTPRateLimit = j.OTPRateLimit
	c.RateLimitWindow = j.RateLimitWindow.Duration
}

// parseJson overlays the JSON file at path onto config. Keys absent from
// the file keep their current values. An empty path is a no-op; an
// unreadable or malformed file panics.
func parseJson(config *Config, path string) {
	if path == "" {
		return
	}

	file, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	c := toJson(config)
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	c.apply(config)
}
