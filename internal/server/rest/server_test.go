package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/loanapp/internal/common"
	"github.com/dmitrijs2005/loanapp/internal/logging"
	"github.com/dmitrijs2005/loanapp/internal/server/auth"
	"github.com/dmitrijs2005/loanapp/internal/server/models"
	"github.com/dmitrijs2005/loanapp/internal/server/ratelimit"
	"github.com/dmitrijs2005/loanapp/internal/server/validation"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeIdentity resolves the bearer tokens in tokens and records the
// arguments of the last call.
type fakeIdentity struct {
	tokens  map[string]*models.User
	authErr map[string]error

	err      error
	pair     *auth.SessionPair
	view     *models.UserView
	images   bool
	lastReg  validation.Registration
	lastUpd  models.ProfileUpdate
	lastID   int64
	lastArgs []string
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{
		tokens: map[string]*models.User{
			"user-token": {
				ID: 7, FirstName: "Kwame", Email: "kwame@example.com",
				PasswordHash: "$2a$10$secret-hash", Role: models.RoleUser, Status: models.StatusActive,
			},
			"admin-token": {
				ID: 1, FirstName: "Ada", Email: "ada@example.com",
				PasswordHash: "$2a$10$admin-hash", Role: models.RoleAdmin, Status: models.StatusActive,
			},
		},
		authErr: map[string]error{
			"expired-token":   common.ErrTokenExpired,
			"suspended-token": common.ErrForbidden,
		},
		pair: &auth.SessionPair{
			AccessToken:  "access",
			RefreshToken: "refresh",
			User:         &models.UserView{ID: 7, Email: "kwame@example.com", EmailVerificationPending: true},
		},
		view: &models.UserView{ID: 7, FirstName: "Kofi"},
	}
}

func (f *fakeIdentity) Register(_ context.Context, r validation.Registration) (*auth.SessionPair, error) {
	f.lastReg = r
	return f.pair, f.err
}

func (f *fakeIdentity) Login(_ context.Context, email, pw string) (*auth.SessionPair, error) {
	f.lastArgs = []string{email, pw}
	return f.pair, f.err
}

func (f *fakeIdentity) RefreshToken(_ context.Context, token string) (string, error) {
	f.lastArgs = []string{token}
	if f.err != nil {
		return "", f.err
	}
	return "new-access", nil
}

func (f *fakeIdentity) Authenticate(_ context.Context, token string) (*auth.Claims, *models.User, error) {
	if err, ok := f.authErr[token]; ok {
		return nil, nil, err
	}
	u, ok := f.tokens[token]
	if !ok {
		return nil, nil, common.ErrUnauthenticated
	}
	claims := &auth.Claims{RegisteredClaims: jwt.RegisteredClaims{ID: "jti-" + token}, Type: auth.AccessToken}
	return claims, u, nil
}

func (f *fakeIdentity) VerifyEmail(_ context.Context, id int64, code string) error {
	f.lastID, f.lastArgs = id, []string{code}
	return f.err
}

func (f *fakeIdentity) ResendOTP(_ context.Context, id int64) error {
	f.lastID = id
	return f.err
}

func (f *fakeIdentity) UpdateProfile(_ context.Context, id int64, upd models.ProfileUpdate) (*models.UserView, error) {
	f.lastID, f.lastUpd = id, upd
	if f.err != nil {
		return nil, f.err
	}
	return f.view, nil
}

func (f *fakeIdentity) ChangePassword(_ context.Context, id int64, current, next string) error {
	f.lastID, f.lastArgs = id, []string{current, next}
	return f.err
}

func (f *fakeIdentity) Logout(_ context.Context, access *auth.Claims, refresh string) error {
	f.lastArgs = []string{access.ID, refresh}
	return f.err
}

func (f *fakeIdentity) ProfileImageUploadURL(_ context.Context, id int64) (string, string, error) {
	f.lastID = id
	return "https://s3.local/k", "k", f.err
}

func (f *fakeIdentity) ProfileImagesEnabled() bool { return f.images }

func (f *fakeIdentity) GetUser(_ context.Context, id int64) (*models.UserView, error) {
	f.lastID = id
	if f.err != nil {
		return nil, f.err
	}
	return &models.UserView{ID: id}, nil
}

func newTestServer(t *testing.T, svc *fakeIdentity, limiter ratelimit.Limiter, limits Limits) *httptest.Server {
	t.Helper()
	s := NewServer(":0", logging.Nop{}, svc, limiter, limits, nil, time.Second)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, ts *httptest.Server, method, path, token, body string) (int, map[string]any, http.Header) {
	t.Helper()

	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.URL+path, rdr)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var out map[string]any
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out, resp.Header
}

const kwameJSON = `{"firstName":"Kwame","lastName":"Mensah","email":"kwame@example.com",
	"phone":"0241234567","password":"SecurePass123","confirmPassword":"SecurePass123",
	"monthlySalary":2500.5,"ghanaCardNumber":"GHA-123456789-0","votersIdNumber":"1234567890"}`

func TestRegister(t *testing.T) {
	svc := newFakeIdentity()
	ts := newTestServer(t, svc, nil, Limits{})

	code, body, _ := do(t, ts, http.MethodPost, "/register", "", kwameJSON)

	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "access", body["accessToken"])
	assert.Equal(t, "refresh", body["refreshToken"])
	user := body["user"].(map[string]any)
	assert.Equal(t, true, user["email_verification_pending"])

	assert.Equal(t, "2500.5", svc.lastReg.MonthlySalary)
	assert.Equal(t, "1234567890", svc.lastReg.VotersIDNumber)
	assert.Equal(t, "SecurePass123", svc.lastReg.ConfirmPassword)
}

func TestRegister_Failures(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		body     string
		wantCode int
		wantErr  string
		wantMsg  string
	}{
		{"validation", common.NewValidationError(validation.MsgPhone), kwameJSON,
			http.StatusBadRequest, CodeValidation, validation.MsgPhone},
		{"duplicate", common.ErrConflict, kwameJSON,
			http.StatusBadRequest, CodeConflict, msgConflict},
		{"internal", errors.New("pq: connection refused"), kwameJSON,
			http.StatusInternalServerError, CodeInternal, msgInternal},
		{"bad json", nil, `{"firstName":`,
			http.StatusBadRequest, CodeValidation, msgBadJSON},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newFakeIdentity()
			svc.err = tt.err
			ts := newTestServer(t, svc, nil, Limits{})

			code, body, _ := do(t, ts, http.MethodPost, "/register", "", tt.body)

			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.wantErr, body["code"])
			assert.Equal(t, tt.wantMsg, body["message"])
		})
	}
}

func TestLogin(t *testing.T) {
	svc := newFakeIdentity()
	ts := newTestServer(t, svc, nil, Limits{})

	code, body, _ := do(t, ts, http.MethodPost, "/login", "", `{"email":"kwame@example.com","password":"SecurePass123"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "access", body["accessToken"])
	assert.Equal(t, []string{"kwame@example.com", "SecurePass123"}, svc.lastArgs)

	svc.err = common.ErrInvalidCredentials
	code, wrong, _ := do(t, ts, http.MethodPost, "/login", "", `{"email":"kwame@example.com","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, code)
	_, unknown, _ := do(t, ts, http.MethodPost, "/login", "", `{"email":"ghost@example.com","password":"nope"}`)
	assert.Equal(t, wrong, unknown)

	svc.err = common.ErrForbidden
	code, body, _ = do(t, ts, http.MethodPost, "/login", "", `{"email":"kwame@example.com","password":"SecurePass123"}`)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, msgSuspended, body["message"])
}

func TestRefreshToken(t *testing.T) {
	svc := newFakeIdentity()
	ts := newTestServer(t, svc, nil, Limits{})

	code, body, _ := do(t, ts, http.MethodPost, "/refresh-token", "", `{"refreshToken":"r"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "new-access", body["accessToken"])
	assert.NotContains(t, body, "refreshToken")

	svc.err = common.NewValidationError(validation.MsgRefreshRequired)
	code, _, _ = do(t, ts, http.MethodPost, "/refresh-token", "", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)

	svc.err = common.ErrInvalidToken
	code, body, _ = do(t, ts, http.MethodPost, "/refresh-token", "", `{"refreshToken":"bad"}`)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, msgInvalidRefresh, body["message"])
}

func TestAuthGateway(t *testing.T) {
	ts := newTestServer(t, newFakeIdentity(), nil, Limits{})

	tests := []struct {
		name     string
		token    string
		header   string
		wantCode int
		wantErr  string
	}{
		{"no header", "", "", http.StatusUnauthorized, CodeUnauthenticated},
		{"not bearer", "", "Basic dXNlcjpwYXNz", http.StatusUnauthorized, CodeUnauthenticated},
		{"unknown token", "garbage", "", http.StatusUnauthorized, CodeUnauthenticated},
		{"expired", "expired-token", "", http.StatusUnauthorized, CodeTokenExpired},
		{"suspended", "suspended-token", "", http.StatusForbidden, CodeForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, ts.URL+"/me", nil)
			require.NoError(t, err)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			resp, err := ts.Client().Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			var body errorBody
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.wantCode, resp.StatusCode)
			assert.Equal(t, tt.wantErr, body.Code)
			assert.False(t, body.Success)
		})
	}
}

func TestMe_NoPasswordHash(t *testing.T) {
	ts := newTestServer(t, newFakeIdentity(), nil, Limits{})

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/me", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer user-token")
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), `"email":"kwame@example.com"`)
	assert.NotContains(t, string(raw), "password")
	assert.NotContains(t, string(raw), "secret-hash")
}

func TestProtectedRoutes(t *testing.T) {
	svc := newFakeIdentity()
	ts := newTestServer(t, svc, nil, Limits{})

	code, body, _ := do(t, ts, http.MethodPost, "/verify-email", "user-token", `{"otp":"123456"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Email verified successfully", body["message"])
	assert.Equal(t, int64(7), svc.lastID)
	assert.Equal(t, []string{"123456"}, svc.lastArgs)

	code, _, _ = do(t, ts, http.MethodPost, "/resend-otp", "user-token", "")
	assert.Equal(t, http.StatusOK, code)

	code, body, _ = do(t, ts, http.MethodPut, "/update-profile", "user-token",
		`{"firstName":"Kofi","monthlySalary":"3000","address":""}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Kofi", body["user"].(map[string]any)["first_name"])
	require.NotNil(t, svc.lastUpd.FirstName)
	assert.Equal(t, "Kofi", *svc.lastUpd.FirstName)
	require.NotNil(t, svc.lastUpd.MonthlySalary)
	assert.Equal(t, "3000", *svc.lastUpd.MonthlySalary)
	require.NotNil(t, svc.lastUpd.Address)
	assert.Equal(t, "", *svc.lastUpd.Address)
	assert.Nil(t, svc.lastUpd.Phone)

	code, _, _ = do(t, ts, http.MethodPut, "/change-password", "user-token",
		`{"currentPassword":"SecurePass123","newPassword":"BrandNew123"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"SecurePass123", "BrandNew123"}, svc.lastArgs)

	code, _, _ = do(t, ts, http.MethodPost, "/logout", "user-token", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"jti-user-token", ""}, svc.lastArgs)

	code, _, _ = do(t, ts, http.MethodPost, "/logout", "user-token", `{"refreshToken":"r"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"jti-user-token", "r"}, svc.lastArgs)
}

func TestProtectedRoutes_ServiceErrors(t *testing.T) {
	tests := []struct {
		name, method, path, body string
		err                      error
		wantCode                 int
		wantErr                  string
	}{
		{"wrong otp", http.MethodPost, "/verify-email", `{"otp":"000000"}`, common.ErrInvalidOTP,
			http.StatusBadRequest, CodeInvalidOTP},
		{"no fields", http.MethodPut, "/update-profile", `{}`, common.ErrNoFieldsProvided,
			http.StatusBadRequest, CodeNoFields},
		{"wrong current password", http.MethodPut, "/change-password",
			`{"currentPassword":"x","newPassword":"BrandNew123"}`, common.ErrWrongPassword,
			http.StatusUnauthorized, CodeInvalidCredentials},
		{"short new password", http.MethodPut, "/change-password",
			`{"currentPassword":"SecurePass123","newPassword":"abc12"}`,
			common.NewValidationError(validation.MsgNewPasswordLen),
			http.StatusBadRequest, CodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newFakeIdentity()
			svc.err = tt.err
			ts := newTestServer(t, svc, nil, Limits{})

			code, body, _ := do(t, ts, tt.method, tt.path, "user-token", tt.body)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantErr, body["code"])
		})
	}
}

func TestAdminRoute(t *testing.T) {
	svc := newFakeIdentity()
	ts := newTestServer(t, svc, nil, Limits{})

	code, body, _ := do(t, ts, http.MethodGet, "/admin/users/7", "user-token", "")
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "User role 'user' is not authorized to access this route.", body["message"])

	code, body, _ = do(t, ts, http.MethodGet, "/admin/users/7", "admin-token", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(7), body["user"].(map[string]any)["id"])

	code, _, _ = do(t, ts, http.MethodGet, "/admin/users/abc", "admin-token", "")
	assert.Equal(t, http.StatusBadRequest, code)

	svc.err = common.ErrNotFound
	code, _, _ = do(t, ts, http.MethodGet, "/admin/users/99", "admin-token", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestProfileImageRoute(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		ts := newTestServer(t, newFakeIdentity(), nil, Limits{})
		code, _, _ := do(t, ts, http.MethodPost, "/profile-image", "user-token", "")
		assert.Equal(t, http.StatusNotFound, code)
	})

	t.Run("enabled", func(t *testing.T) {
		svc := newFakeIdentity()
		svc.images = true
		ts := newTestServer(t, svc, nil, Limits{})

		code, body, _ := do(t, ts, http.MethodPost, "/profile-image", "user-token", "")
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, "https://s3.local/k", body["uploadUrl"])
		assert.Equal(t, "k", body["key"])
	})
}

func TestRateLimit(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter()
	t.Cleanup(func() { _ = limiter.Close() })

	ts := newTestServer(t, newFakeIdentity(), limiter, Limits{Auth: 2, OTP: 1, Window: time.Minute})

	for i := 0; i < 2; i++ {
		code, _, h := do(t, ts, http.MethodPost, "/login", "", `{"email":"a@b.co","password":"x"}`)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, "2", h.Get("X-RateLimit-Limit"))
	}

	// the auth budget is shared by the public routes
	code, body, h := do(t, ts, http.MethodPost, "/register", "", kwameJSON)
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, CodeRateLimited, body["code"])
	assert.Equal(t, "0", h.Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, h.Get("Retry-After"))

	code, _, _ = do(t, ts, http.MethodPost, "/resend-otp", "user-token", "")
	assert.Equal(t, http.StatusOK, code)
	code, _, _ = do(t, ts, http.MethodPost, "/resend-otp", "user-token", "")
	assert.Equal(t, http.StatusTooManyRequests, code)

	// other users have their own otp budget
	code, _, _ = do(t, ts, http.MethodPost, "/resend-otp", "admin-token", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestHealth(t *testing.T) {
	t.Run("up", func(t *testing.T) {
		s := NewServer(":0", logging.Nop{}, newFakeIdentity(), nil, Limits{},
			func(context.Context) error { return nil }, time.Second)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"database":"up"`)
	})

	t.Run("down", func(t *testing.T) {
		s := NewServer(":0", logging.Nop{}, newFakeIdentity(), nil, Limits{},
			func(context.Context) error { return errors.New("dial tcp: refused") }, time.Second)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), `"database":"down"`)
		assert.NotContains(t, rec.Body.String(), "refused")
	})
}

func TestMetrics(t *testing.T) {
	s := NewServer(":0", logging.Nop{}, newFakeIdentity(), nil, Limits{}, nil, time.Second)
	h := s.Handler()

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(),
		`loanapp_api_http_requests_total{method="GET",route="GET /health",status="200"} 1`)
}

func TestRun_StopsOnCancel(t *testing.T) {
	s := NewServer("127.0.0.1:0", logging.Nop{}, newFakeIdentity(), nil, Limits{}, nil, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
