// Package otp generates one-time verification codes and opaque tokens.
package otp

import (
	"crypto/rand"
	"math/big"
	"strconv"

	"github.com/dmitrijs2005/loanapp/internal/common"
	"github.com/dmitrijs2005/loanapp/internal/cryptox"
)

const (
	minCode = 100000
	maxCode = 999999

	opaqueTokenBytes = 32
)

var codeRange = big.NewInt(maxCode - minCode + 1)

// GenerateOTP returns a 6-digit code uniform over [100000, 999999].
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, codeRange)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n.Int64()+minCode, 10), nil
}

// GenerateOpaqueToken returns 32 random bytes as 64 hex characters.
func GenerateOpaqueToken() (string, error) {
	return common.MakeRandHexString(opaqueTokenBytes)
}

// HashToken is the digest stored in place of a code or token.
func HashToken(token string) string {
	return cryptox.Digest(token)
}
