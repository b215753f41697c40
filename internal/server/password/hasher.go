// Package password hashes and verifies user passwords with bcrypt or
// argon2id. Verification picks the algorithm from the stored hash, so
// switching the configured method does not lock out existing users.
package password

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/alexedwards/argon2id"
	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the bcrypt work factor used when none is configured.
const DefaultCost = 10

// ErrTooLong is returned by Hash for inputs bcrypt cannot represent.
var ErrTooLong = errors.New("password too long")

type Hasher interface {
	Hash(password string) (string, error)
	// Verify reports whether password matches hash. A malformed hash is an
	// error; a mismatch is (false, nil).
	Verify(password, hash string) (bool, error)
	// DummyHash returns a valid hash of a random secret, for running a
	// comparison of realistic cost when there is no real hash to check.
	DummyHash() string
}

// New returns the hasher for method ("bcrypt" or "argon2id").
func New(method string, bcryptCost int) (Hasher, error) {
	switch method {
	case "", "bcrypt":
		if bcryptCost == 0 {
			bcryptCost = DefaultCost
		}
		if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
			return nil, fmt.Errorf("bcrypt cost %d out of range", bcryptCost)
		}
		return NewBcrypt(bcryptCost), nil
	case "argon2id":
		return NewArgon2ID(), nil
	default:
		return nil, fmt.Errorf("unknown password hasher %q", method)
	}
}

// verify dispatches on the hash prefix.
func verify(password, hash string) (bool, error) {
	if strings.HasPrefix(hash, "$argon2id$") {
		ok, err := argon2id.ComparePasswordAndHash(password, hash)
		if err != nil {
			return false, fmt.Errorf("argon compare password hash: %w", err)
		}
		return ok, nil
	}

	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("bcrypt compare password hash: %w", err)
	}
}

type dummy struct {
	once sync.Once
	hash string
	gen  func() string
}

func (d *dummy) get() string {
	d.once.Do(func() { d.hash = d.gen() })
	return d.hash
}

type Bcrypt struct {
	cost  int
	dummy *dummy
}

var _ Hasher = (*Bcrypt)(nil)

func NewBcrypt(cost int) *Bcrypt {
	b := &Bcrypt{cost: cost}
	b.dummy = &dummy{gen: func() string {
		h, _ := bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing"), cost)
		return string(h)
	}}
	return b
}

func (b *Bcrypt) Hash(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), b.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", ErrTooLong
		}
		return "", fmt.Errorf("bcrypt hash: %w", err)
	}
	return string(h), nil
}

func (b *Bcrypt) Verify(password, hash string) (bool, error) { return verify(password, hash) }

func (b *Bcrypt) DummyHash() string { return b.dummy.get() }

type Argon2ID struct {
	params *argon2id.Params
	dummy  *dummy
}

var _ Hasher = (*Argon2ID)(nil)

func NewArgon2ID() *Argon2ID {
	a := &Argon2ID{params: argon2id.DefaultParams}
	a.dummy = &dummy{gen: func() string {
		h, _ := argon2id.CreateHash("dummy-password-for-timing", a.params)
		return h
	}}
	return a
}

func (a *Argon2ID) Hash(password string) (string, error) {
	s, err := argon2id.CreateHash(password, a.params)
	if err != nil {
		return "", fmt.Errorf("argon hash password: %w", err)
	}
	return s, nil
}

func (a *Argon2ID) Verify(password, hash string) (bool, error) { return verify(password, hash) }

func (a *Argon2ID) DummyHash() string { return a.dummy.get() }
