package services

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/loanapp/internal/common"
	"github.com/dmitrijs2005/loanapp/internal/dbx"
	"github.com/dmitrijs2005/loanapp/internal/logging"
	"github.com/dmitrijs2005/loanapp/internal/server/config"
	"github.com/dmitrijs2005/loanapp/internal/server/models"
	"github.com/dmitrijs2005/loanapp/internal/server/password"
	"github.com/dmitrijs2005/loanapp/internal/server/repositories/users"
	"github.com/dmitrijs2005/loanapp/internal/server/revocation"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// fakeUsersRepo is an in-memory User Store with the same unique keys as the
// users table.
type fakeUsersRepo struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*models.User

	// skipExistsCheck makes ExistsByIdentity always report false, so the
	// insert has to catch the duplicate.
	skipExistsCheck bool
	failWith        error
	passwordUpdates int
}

var _ users.Repository = (*fakeUsersRepo)(nil)

func newFakeUsersRepo() *fakeUsersRepo {
	return &fakeUsersRepo{byID: map[int64]*models.User{}}
}

func clone(u *models.User) *models.User {
	c := *u
	return &c
}

func eqPtr(a, b *string) bool { return a != nil && b != nil && *a == *b }

func (f *fakeUsersRepo) conflict(u *models.User, skip int64) bool {
	for id, o := range f.byID {
		if id == skip {
			continue
		}
		if o.Email == u.Email || o.Phone == u.Phone ||
			eqPtr(o.GhanaCardNumber, u.GhanaCardNumber) || eqPtr(o.VotersIDNumber, u.VotersIDNumber) {
			return true
		}
	}
	return false
}

func (f *fakeUsersRepo) Create(_ context.Context, u *models.User) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	if f.conflict(u, 0) {
		return nil, common.ErrConflict
	}
	f.nextID++
	u.ID = f.nextID
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	f.byID[u.ID] = clone(u)
	return u, nil
}

func (f *fakeUsersRepo) GetByID(_ context.Context, id int64) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	u, ok := f.byID[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return clone(u), nil
}

func (f *fakeUsersRepo) GetByEmail(_ context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	for _, u := range f.byID {
		if u.Email == email {
			return clone(u), nil
		}
	}
	return nil, common.ErrNotFound
}

func (f *fakeUsersRepo) ExistsByIdentity(_ context.Context, email, phone string, ghanaCard, votersID *string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return false, f.failWith
	}
	if f.skipExistsCheck {
		return false, nil
	}
	return f.conflict(&models.User{Email: email, Phone: phone, GhanaCardNumber: ghanaCard, VotersIDNumber: votersID}, 0), nil
}

func (f *fakeUsersRepo) with(id int64, fn func(u *models.User)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	u, ok := f.byID[id]
	if !ok {
		return common.ErrNotFound
	}
	fn(u)
	return nil
}

func (f *fakeUsersRepo) UpdateLastLogin(_ context.Context, id int64, at time.Time) error {
	return f.with(id, func(u *models.User) { u.LastLogin = &at })
}

func (f *fakeUsersRepo) SetEmailVerificationToken(_ context.Context, id int64, digest string, expiresAt time.Time) error {
	return f.with(id, func(u *models.User) {
		u.EmailVerificationToken = &digest
		u.EmailVerificationExpiresAt = &expiresAt
	})
}

func (f *fakeUsersRepo) MarkEmailVerified(_ context.Context, id int64, digest string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok || u.EmailVerificationToken == nil || *u.EmailVerificationToken != digest {
		return common.ErrNotFound
	}
	u.IsEmailVerified = true
	u.EmailVerificationToken = nil
	u.EmailVerificationExpiresAt = nil
	return nil
}

func (f *fakeUsersRepo) UpdateProfile(_ context.Context, id int64, upd models.ProfileUpdate) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	next := clone(u)
	for _, a := range upd.Assignments() {
		var sp *string
		if s, ok := a.Value.(string); ok {
			sp = &s
		}
		switch a.Column {
		case "first_name":
			next.FirstName = *sp
		case "last_name":
			next.LastName = *sp
		case "phone":
			next.Phone = *sp
		case "address":
			next.Address = sp
		case "occupation":
			next.Occupation = sp
		case "ghana_card_number":
			next.GhanaCardNumber = sp
		case "voters_id_number":
			next.VotersIDNumber = sp
		case "monthly_salary":
			next.MonthlySalary = nil
			if v, ok := a.Value.(float64); ok {
				next.MonthlySalary = &v
			}
		case "date_of_birth":
			next.DateOfBirth = nil
			if sp != nil {
				d, _ := time.Parse("2006-01-02", *sp)
				next.DateOfBirth = &d
			}
		}
	}
	if f.conflict(next, id) {
		return nil, common.ErrConflict
	}
	f.byID[id] = next
	return clone(next), nil
}

func (f *fakeUsersRepo) UpdatePassword(_ context.Context, id int64, hash string) error {
	return f.with(id, func(u *models.User) {
		u.PasswordHash = hash
		f.passwordUpdates++
	})
}

func (f *fakeUsersRepo) SetProfileImage(_ context.Context, id int64, key string) error {
	return f.with(id, func(u *models.User) { u.ProfileImage = &key })
}

func (f *fakeUsersRepo) SetRole(_ context.Context, id int64, role models.Role) error {
	return f.with(id, func(u *models.User) { u.Role = role })
}

func (f *fakeUsersRepo) get(t *testing.T, id int64) *models.User {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		t.Fatalf("user %d not stored", id)
	}
	return clone(u)
}

type fakeRepoManager struct {
	users *fakeUsersRepo
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Users(dbx.DBTX) users.Repository             { return m.users }

type sentMail struct {
	kind, email, name, code string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (n *fakeNotifier) SendOTP(_ context.Context, email, name, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMail{kind: "otp", email: email, name: name, code: code})
	return n.err
}

func (n *fakeNotifier) SendWelcome(_ context.Context, email, name string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMail{kind: "welcome", email: email, name: name})
	return n.err
}

func (n *fakeNotifier) last(t *testing.T) sentMail {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		t.Fatalf("no email sent")
	}
	return n.sent[len(n.sent)-1]
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type fakeImages struct {
	err error
}

func (f *fakeImages) PresignUpload(_ context.Context, userID int64) (string, string, error) {
	if f.err != nil {
		return "", "", f.err
	}
	key := "users/" + strconv.FormatInt(userID, 10) + "/profile/img"
	return "https://s3.local/" + key, key, nil
}

var errBoom = errors.New("boom")

func testConfig() *config.Config {
	return &config.Config{
		AccessTokenSecret:            "access-secret",
		RefreshTokenSecret:           "refresh-secret",
		AccessTokenValidityDuration:  time.Minute,
		RefreshTokenValidityDuration: time.Hour,
		OTPValidityDuration:          10 * time.Minute,
	}
}

type harness struct {
	svc      *UserService
	repo     *fakeUsersRepo
	notifier *fakeNotifier
	revoker  *revocation.MemoryStore
	hasher   password.Hasher
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	h := &harness{
		repo:     newFakeUsersRepo(),
		notifier: &fakeNotifier{},
		revoker:  revocation.NewMemoryStore(),
		hasher:   password.NewBcrypt(4),
	}
	t.Cleanup(func() { _ = h.revoker.Close() })

	// The repository is faked; the database only hosts transactions.
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	h.svc = NewUserService(db, &fakeRepoManager{users: h.repo}, testConfig(),
		h.hasher, h.revoker, h.notifier, logging.Nop{}, opts...)
	return h
}
