// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authd/internal/auth"
	"github.com/holomush/authd/internal/auth/memory"
	"github.com/holomush/authd/internal/httpapi"
	"github.com/holomush/authd/internal/notify"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type outbox struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (o *outbox) Notify(_ context.Context, msg notify.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, msg)
	return nil
}

func (o *outbox) lastRecoveryCode(t *testing.T) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.msgs) - 1; i >= 0; i-- {
		if o.msgs[i].Kind == notify.KindRecoveryCode {
			return strings.TrimPrefix(o.msgs[i].Body, "Your password recovery code is: ")
		}
	}
	t.Fatal("no recovery code was sent")
	return ""
}

type requestLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *requestLog) RecordRequest(route, method string, status int, _ time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, method+" "+route+" "+http.StatusText(status))
}

type fixture struct {
	handler  http.Handler
	outbox   *outbox
	requests *requestLog
}

func newFixture(t *testing.T, opts ...auth.ServiceOption) *fixture {
	t.Helper()
	hasher, err := auth.NewArgon2idHasherWithParams(auth.Argon2Params{
		Time: 1, Memory: 1024, Threads: 1, SaltLen: 16, KeyLen: 32,
	})
	require.NoError(t, err)
	access, err := auth.NewTokenCodec(testSecret)
	require.NoError(t, err)
	recovery, err := auth.NewTokenCodec(testSecret,
		auth.WithAudience(auth.AudienceRecovery),
		auth.WithTTL(10*time.Minute))
	require.NoError(t, err)

	f := &fixture{outbox: &outbox{}, requests: &requestLog{}}
	svc, err := auth.NewService(memory.NewAccountRepository(), hasher, access, recovery, f.outbox, opts...)
	require.NoError(t, err)

	f.handler = httpapi.New(svc, httpapi.WithRecorder(f.requests)).Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, path, body, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) register(t *testing.T) {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/auth/register",
		`{"username":"alice","email":"alice@example.com","password":"s3cret-pass"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (f *fixture) login(t *testing.T, password string) *httptest.ResponseRecorder {
	t.Helper()
	return f.do(t, http.MethodPost, "/auth/login",
		`{"username":"alice","password":"`+password+`"}`, "")
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func assertError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) httpapi.ErrorDetail {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	detail := decodeBody[httpapi.ErrorResponse](t, rec).Error
	assert.Equal(t, code, detail.Code)
	assert.NotEmpty(t, detail.Message)
	return detail
}

func TestRegister(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/auth/register",
		`{"username":"alice","email":"Alice@Example.com","password":"s3cret-pass"}`, "")

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "user registered", decodeBody[httpapi.MessageResponse](t, rec).Message)
}

func TestRegister_Duplicate(t *testing.T) {
	f := newFixture(t)
	f.register(t)

	rec := f.do(t, http.MethodPost, "/auth/register",
		`{"username":"ALICE","email":"other@example.com","password":"s3cret-pass"}`, "")

	detail := assertError(t, rec, http.StatusConflict, auth.CodeConflict)
	assert.Equal(t, "username already registered", detail.Message)
}

func TestRegister_RejectsBadRequests(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		status    int
		code      string
		wantField string
	}{
		{"empty body", ``, http.StatusBadRequest, httpapi.CodeInvalidJSON, ""},
		{"malformed json", `{"username":`, http.StatusBadRequest, httpapi.CodeInvalidJSON, ""},
		{"unknown field", `{"username":"alice","email":"a@example.com","password":"pw","admin":true}`,
			http.StatusBadRequest, httpapi.CodeInvalidJSON, ""},
		{"trailing data", `{"username":"alice","email":"a@example.com","password":"pw"} {}`,
			http.StatusBadRequest, httpapi.CodeInvalidJSON, ""},
		{"missing username", `{"email":"a@example.com","password":"pw"}`,
			http.StatusBadRequest, httpapi.CodeInvalidRequest, "username"},
		{"short username", `{"username":"al","email":"a@example.com","password":"pw"}`,
			http.StatusBadRequest, httpapi.CodeInvalidRequest, "username"},
		{"bad email", `{"username":"alice","email":"not-an-email","password":"pw"}`,
			http.StatusBadRequest, httpapi.CodeInvalidRequest, "email"},
		{"missing password", `{"username":"alice","email":"a@example.com"}`,
			http.StatusBadRequest, httpapi.CodeInvalidRequest, "password"},
		{"username starting with digit", `{"username":"9lives","email":"a@example.com","password":"pw"}`,
			http.StatusBadRequest, auth.CodeBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.do(t, http.MethodPost, "/auth/register", tt.body, "")
			detail := assertError(t, rec, tt.status, tt.code)
			if tt.wantField != "" {
				assert.Contains(t, detail.Fields, tt.wantField)
			}
		})
	}
}

func TestRegister_BodyTooLarge(t *testing.T) {
	f := newFixture(t)
	body := `{"username":"alice","email":"a@example.com","password":"` +
		strings.Repeat("x", httpapi.MaxBodyBytes) + `"}`

	rec := f.do(t, http.MethodPost, "/auth/register", body, "")

	assertError(t, rec, http.StatusRequestEntityTooLarge, httpapi.CodeRequestTooLarge)
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	f.register(t)

	before := time.Now()
	rec := f.login(t, "s3cret-pass")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[httpapi.LoginResponse](t, rec)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, "bearer", resp.TokenType)
	assert.Equal(t, "alice", resp.Username)
	assert.Equal(t, "alice@example.com", resp.Email)
	assert.True(t, resp.ExpiresAt.After(before))
}

func TestLogin_ByEmail(t *testing.T) {
	f := newFixture(t)
	f.register(t)

	rec := f.do(t, http.MethodPost, "/auth/login", `{"email":"ALICE@example.com","password":"s3cret-pass"}`, "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestPaddedEmailIsTrimmedEverywhere(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/auth/register",
		`{"username":" alice ","email":" A@x.com ","password":"s3cret-pass"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	login := f.do(t, http.MethodPost, "/auth/login", `{"email":"  a@X.com\t","password":"s3cret-pass"}`, "")
	require.Equal(t, http.StatusOK, login.Code, login.Body.String())
	resp := decodeBody[httpapi.LoginResponse](t, login)
	assert.Equal(t, "alice", resp.Username)
	assert.Equal(t, "a@x.com", resp.Email)

	reset := f.do(t, http.MethodPost, "/auth/request_reset", `{"email":" a@x.com "}`, "")
	require.Equal(t, http.StatusAccepted, reset.Code, reset.Body.String())
	assert.NotEmpty(t, f.outbox.lastRecoveryCode(t))
}

func TestLogin_Failures(t *testing.T) {
	f := newFixture(t)
	f.register(t)

	wrong := f.login(t, "nope")
	assertError(t, wrong, http.StatusUnauthorized, auth.CodeUnauthorized)
	assert.Equal(t, "Bearer", wrong.Header().Get("WWW-Authenticate"))

	unknown := f.do(t, http.MethodPost, "/auth/login", `{"username":"bob","password":"nope"}`, "")
	assertError(t, unknown, http.StatusUnauthorized, auth.CodeUnauthorized)

	// Unknown accounts and bad passwords are indistinguishable.
	assert.JSONEq(t, wrong.Body.String(), unknown.Body.String())

	missing := f.do(t, http.MethodPost, "/auth/login", `{"password":"nope"}`, "")
	detail := assertError(t, missing, http.StatusBadRequest, httpapi.CodeInvalidRequest)
	assert.Equal(t, "username or email is required", detail.Fields["username"])
}

func TestCurrentUser(t *testing.T) {
	f := newFixture(t)
	f.register(t)
	token := decodeBody[httpapi.LoginResponse](t, f.login(t, "s3cret-pass")).AccessToken

	me := f.do(t, http.MethodGet, "/auth/me", "", token)
	require.Equal(t, http.StatusOK, me.Code, me.Body.String())
	assert.Equal(t, httpapi.ProfileResponse{Username: "alice", Email: "alice@example.com"},
		decodeBody[httpapi.ProfileResponse](t, me))

	root := f.do(t, http.MethodGet, "/", "", token)
	require.Equal(t, http.StatusOK, root.Code, root.Body.String())
	assert.Equal(t, "Welcome, alice!", decodeBody[httpapi.MessageResponse](t, root).Message)
}

func TestCurrentUser_Unauthorized(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"garbage token", "Bearer not.a.jwt"},
		{"wrong scheme", "Basic YWxpY2U6cHc="},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			f.handler.ServeHTTP(rec, req)

			assertError(t, rec, http.StatusUnauthorized, auth.CodeUnauthorized)
			assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
		})
	}
}

func TestRecoveryFlow(t *testing.T) {
	f := newFixture(t)
	f.register(t)

	reset := f.do(t, http.MethodPost, "/auth/request_reset", `{"email":"alice@example.com"}`, "")
	require.Equal(t, http.StatusAccepted, reset.Code, reset.Body.String())
	code := f.outbox.lastRecoveryCode(t)

	verify := f.do(t, http.MethodPost, "/auth/verify_code", `{"code":"`+code+`"}`, "")
	require.Equal(t, http.StatusOK, verify.Code, verify.Body.String())
	token := decodeBody[httpapi.TokenResponse](t, verify)
	assert.Equal(t, "bearer", token.TokenType)

	// The recovery token is not an access token.
	assertError(t, f.do(t, http.MethodGet, "/auth/me", "", token.AccessToken),
		http.StatusUnauthorized, auth.CodeUnauthorized)

	mismatch := f.do(t, http.MethodPost, "/auth/set_new_password",
		`{"token":"`+token.AccessToken+`","new_password":"n3w-pass","confirm_password":"other"}`, "")
	assertError(t, mismatch, http.StatusBadRequest, auth.CodeBadRequest)

	set := f.do(t, http.MethodPost, "/auth/set_new_password",
		`{"token":"`+token.AccessToken+`","new_password":"n3w-pass","confirm_password":"n3w-pass"}`, "")
	require.Equal(t, http.StatusOK, set.Code, set.Body.String())
	assert.Equal(t, "password updated", decodeBody[httpapi.MessageResponse](t, set).Message)

	assert.Equal(t, http.StatusOK, f.login(t, "n3w-pass").Code)
	assertError(t, f.login(t, "s3cret-pass"), http.StatusUnauthorized, auth.CodeUnauthorized)

	replay := f.do(t, http.MethodPost, "/auth/set_new_password",
		`{"token":"`+token.AccessToken+`","new_password":"again-pass","confirm_password":"again-pass"}`, "")
	assertError(t, replay, http.StatusUnauthorized, auth.CodeUnauthorized)

	reuse := f.do(t, http.MethodPost, "/auth/verify_code", `{"code":"`+code+`"}`, "")
	assertError(t, reuse, http.StatusUnauthorized, auth.CodeUnauthorized)
}

func TestRequestReset_UnknownEmail(t *testing.T) {
	hidden := newFixture(t)
	rec := hidden.do(t, http.MethodPost, "/auth/request_reset", `{"email":"ghost@example.com"}`, "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	revealed := newFixture(t, auth.WithRevealUnknownEmail(true))
	rec = revealed.do(t, http.MethodPost, "/auth/request_reset", `{"email":"ghost@example.com"}`, "")
	assertError(t, rec, http.StatusNotFound, auth.CodeNotFound)
}

func TestVerifyCode_Invalid(t *testing.T) {
	f := newFixture(t)

	assertError(t, f.do(t, http.MethodPost, "/auth/verify_code", `{"code":"bogus"}`, ""),
		http.StatusUnauthorized, auth.CodeUnauthorized)
	assertError(t, f.do(t, http.MethodPost, "/auth/verify_code", `{"code":""}`, ""),
		http.StatusBadRequest, httpapi.CodeInvalidRequest)
}

func TestSetNewPassword_BadToken(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/auth/set_new_password",
		`{"token":"forged","new_password":"n3w-pass","confirm_password":"n3w-pass"}`, "")
	assertError(t, rec, http.StatusUnauthorized, auth.CodeUnauthorized)
}

func TestRouting(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/nope", "", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do(t, http.MethodGet, "/auth/login", "", "").Code)
}

func TestInstrument_RequestIDAndMetrics(t *testing.T) {
	f := newFixture(t)
	f.register(t)
	f.do(t, http.MethodGet, "/nope", "", "")

	rec := f.login(t, "nope")
	_, err := ulid.Parse(rec.Header().Get(httpapi.RequestIDHeader))
	assert.NoError(t, err)

	f.requests.mu.Lock()
	defer f.requests.mu.Unlock()
	assert.Equal(t, []string{
		"POST /auth/register Created",
		"GET unmatched Not Found",
		"POST /auth/login Unauthorized",
	}, f.requests.entries)
}

// stubService fails every call with err, or panics when err is nil.
type stubService struct{ err error }

func (s stubService) fail() error {
	if s.err == nil {
		panic("boom")
	}
	return s.err
}

func (s stubService) Register(context.Context, auth.RegisterRequest) error { return s.fail() }
func (s stubService) Login(context.Context, auth.LoginRequest) (*auth.LoginResult, error) {
	return nil, s.fail()
}
func (s stubService) RequestReset(context.Context, string) error { return s.fail() }
func (s stubService) VerifyRecoveryCode(context.Context, string) (*auth.RecoveryToken, error) {
	return nil, s.fail()
}
func (s stubService) SetNewPassword(context.Context, auth.SetPasswordRequest) error { return s.fail() }
func (s stubService) CurrentUser(context.Context, string) (*auth.Profile, error) {
	return nil, s.fail()
}

func TestInternalErrorsAreNotExposed(t *testing.T) {
	svc := stubService{err: oops.Code("AUTH_LOGIN_FAILED").Errorf("dial tcp 10.0.0.5:5432: connection refused")}
	handler := httpapi.New(svc).Handler()

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"username":"alice","password":"pw"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	detail := assertError(t, rec, http.StatusInternalServerError, httpapi.CodeInternal)
	assert.Equal(t, "internal server error", detail.Message)
	assert.NotContains(t, rec.Body.String(), "10.0.0.5")
}

func TestPanicsBecomeInternalErrors(t *testing.T) {
	handler := httpapi.New(stubService{}).Handler()

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assertError(t, rec, http.StatusInternalServerError, httpapi.CodeInternal)
}
