package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// parseEnv overlays values from environment variables. Unset variables
// leave the field untouched; unparsable numbers or durations panic.
//
//	HTTP_ADDR, DATABASE_DSN, SHUTDOWN_TIMEOUT
//	JWT_SECRET, JWT_REFRESH_SECRET, JWT_EXPIRE, JWT_REFRESH_EXPIRE
//	PASSWORD_HASHER, BCRYPT_ROUNDS, OTP_EXPIRE
//	REDIS_ADDR, REDIS_PASSWORD, REDIS_DB
//	EMAIL_HOST, EMAIL_PORT, EMAIL_USER, EMAIL_PASSWORD, EMAIL_FROM,
//	EMAIL_INSECURE_SKIP_VERIFY, FRONTEND_URL
//	LOG_LEVEL, LOG_FORMAT
//	S3_ROOT_USER, S3_ROOT_PASSWORD, S3_BUCKET, S3_REGION, S3_BASE_ENDPOINT
//	RATE_LIMIT_AUTH, RATE_LIMIT_OTP, RATE_LIMIT_WINDOW
func parseEnv(c *Config) {
	envString("HTTP_ADDR", &c.HTTPAddr)
	envString("DATABASE_DSN", &c.DatabaseDSN)
	envDuration("SHUTDOWN_TIMEOUT", &c.ShutdownTimeout)

	envString("JWT_SECRET", &c.AccessTokenSecret)
	envString("JWT_REFRESH_SECRET", &c.RefreshTokenSecret)
	envDuration("JWT_EXPIRE", &c.AccessTokenValidityDuration)
	envDuration("JWT_REFRESH_EXPIRE", &c.RefreshTokenValidityDuration)

	envString("PASSWORD_HASHER", &c.PasswordHasher)
	envInt("BCRYPT_ROUNDS", &c.BcryptCost)
	envDuration("OTP_EXPIRE", &c.OTPValidityDuration)

	envString("REDIS_ADDR", &c.RedisAddr)
	envString("REDIS_PASSWORD", &c.RedisPassword)
	envInt("REDIS_DB", &c.RedisDB)

	envString("EMAIL_HOST", &c.SMTPHost)
	envInt("EMAIL_PORT", &c.SMTPPort)
	envString("EMAIL_USER", &c.SMTPUser)
	envString("EMAIL_PASSWORD", &c.SMTPPassword)
	envString("EMAIL_FROM", &c.SMTPFrom)
	envBool("EMAIL_INSECURE_SKIP_VERIFY", &c.SMTPInsecureSkipVerify)
	envString("FRONTEND_URL", &c.FrontendURL)

	envString("LOG_LEVEL", &c.LogLevel)
	envString("LOG_FORMAT", &c.LogFormat)

	envString("S3_ROOT_USER", &c.S3RootUser)
	envString("S3_ROOT_PASSWORD", &c.S3RootPassword)
	envString("S3_BUCKET", &c.S3Bucket)
	envString("S3_REGION", &c.S3Region)
	envString("S3_BASE_ENDPOINT", &c.S3BaseEndpoint)

	envInt("RATE_LIMIT_AUTH", &c.AuthRateLimit)
	envInt("RATE_LIMIT_OTP", &c.OTPRateLimit)
	envDuration("RATE_LIMIT_WINDOW", &c.RateLimitWindow)
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		panic(fmt.Errorf("%s: %w", key, err))
	}
	*dst = n
}

func envBool(key string, dst *bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		panic(fmt.Errorf("%s: %w", key, err))
	}
	*dst = b
}

func envDuration(key string, dst *time.Duration) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		panic(fmt.Errorf("%s: %w", key, err))
	}
	*dst = d
}
