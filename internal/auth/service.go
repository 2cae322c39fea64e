// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/authd/internal/notify"
	"github.com/holomush/authd/pkg/errutil"
)

// DefaultRecoveryCodeTTL is how long a recovery code stays valid.
const DefaultRecoveryCodeTTL = time.Hour

// dummyPasswordHash is used when an account doesn't exist to prevent timing attacks.
// We still run password verification to make response time consistent.
// This is NOT a real credential - it's a fake hash that will never match any password.
//
//nolint:gosec // G101: This is an intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Notifier hands outbound messages to delivery without waiting for it.
type Notifier interface {
	Notify(ctx context.Context, msg notify.Message) error
}

// OutcomeRecorder receives the outcome of each service operation.
type OutcomeRecorder interface {
	RecordAuthOutcome(operation, outcome string)
}

type noopRecorder struct{}

func (noopRecorder) RecordAuthOutcome(string, string) {}

// RegisterRequest carries registration input.
type RegisterRequest struct {
	Username string
	Email    string
	Password string
}

// LoginRequest carries login input. Username takes precedence over Email.
type LoginRequest struct {
	Username string
	Email    string
	Password string
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	AccessToken string
	TokenType   string
	ExpiresAt   time.Time
	Profile     Profile
}

// RecoveryToken is the short-lived token returned by VerifyRecoveryCode.
type RecoveryToken struct {
	Token     string
	TokenType string
	ExpiresAt time.Time
}

// SetPasswordRequest carries the second step of password recovery.
type SetPasswordRequest struct {
	Token           string
	NewPassword     string
	ConfirmPassword string
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRecorder sets the operation outcome recorder.
func WithRecorder(r OutcomeRecorder) ServiceOption {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithRecoveryCodeTTL sets how long issued recovery codes remain valid.
func WithRecoveryCodeTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.codeTTL = ttl
		}
	}
}

// WithRevealUnknownEmail makes RequestReset fail with NotFound for unknown
// addresses instead of acknowledging them.
func WithRevealUnknownEmail(reveal bool) ServiceOption {
	return func(s *Service) { s.revealUnknownEmail = reveal }
}

// WithServiceClock overrides the time source for recovery code expiry.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service implements registration, login, password recovery and
// current-user resolution. It holds no per-account state; every call
// re-reads the repository.
type Service struct {
	accounts AccountRepository
	hasher   PasswordHasher
	access   *TokenCodec
	recovery *TokenCodec
	notifier Notifier
	logger   *slog.Logger
	recorder OutcomeRecorder
	now      func() time.Time

	codeTTL            time.Duration
	revealUnknownEmail bool
}

// NewService creates a Service. access verifies bearer tokens; recovery mints
// and verifies the short-lived tokens of the password recovery flow.
func NewService(
	accounts AccountRepository,
	hasher PasswordHasher,
	access, recovery *TokenCodec,
	notifier Notifier,
	opts ...ServiceOption,
) (*Service, error) {
	switch {
	case accounts == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("account repository is required")
	case hasher == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("password hasher is required")
	case access == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("access token codec is required")
	case recovery == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("recovery token codec is required")
	case notifier == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("notifier is required")
	}
	if access.audience == recovery.audience {
		return nil, oops.Code("AUTH_INVALID_CONFIG").
			With("audience", access.audience).
			Errorf("access and recovery token codecs must use different audiences")
	}

	s := &Service{
		accounts: accounts,
		hasher:   hasher,
		access:   access,
		recovery: recovery,
		notifier: notifier,
		logger:   slog.Default(),
		recorder: noopRecorder{},
		now:      time.Now,
		codeTTL:  DefaultRecoveryCodeTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Register creates an account. A welcome message is queued on success; no
// token is issued.
func (s *Service) Register(ctx context.Context, req RegisterRequest) error {
	const op = "register"

	username := strings.TrimSpace(req.Username)
	email := NormalizeEmail(req.Email)
	if err := validateAll(ValidateUsername(username), ValidateEmail(email), ValidatePassword(req.Password)); err != nil {
		return s.finish(ctx, op, badRequest(op, err.Error()))
	}

	if err := s.ensureAvailable(ctx, op, username, email); err != nil {
		return s.finish(ctx, op, err)
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return s.finish(ctx, op, oops.Code("AUTH_REGISTER_FAILED").With("operation", "hash password").Wrap(err))
	}

	account, err := NewAccount(username, email, hash)
	if err != nil {
		return s.finish(ctx, op, badRequest(op, err.Error()))
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, ErrConflict) {
			return s.finish(ctx, op, conflict(op, "username or email already registered"))
		}
		return s.finish(ctx, op, oops.Code("AUTH_REGISTER_FAILED").With("operation", "create account").Wrap(err))
	}

	s.notify(ctx, op, notify.WelcomeMessage(account.Email, account.Username))
	s.logger.InfoContext(ctx, "account registered", "account_id", account.ID.String())
	return s.finish(ctx, op, nil)
}

func (s *Service) ensureAvailable(ctx context.Context, op, username, email string) error {
	if _, err := s.accounts.GetByUsername(ctx, username); err == nil {
		return conflict(op, "username already registered")
	} else if !errors.Is(err, ErrNotFound) {
		return oops.Code("AUTH_REGISTER_FAILED").With("operation", "get account by username").Wrap(err)
	}

	if _, err := s.accounts.GetByEmail(ctx, email); err == nil {
		return conflict(op, "email already registered")
	} else if !errors.Is(err, ErrNotFound) {
		return oops.Code("AUTH_REGISTER_FAILED").With("operation", "get account by email").Wrap(err)
	}
	return nil
}

// Login authenticates by username (preferred) or email and issues an access
// token. Unknown accounts and wrong passwords fail identically.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	const op = "login"

	var (
		account   *Account
		lookupErr error
	)
	switch {
	case strings.TrimSpace(req.Username) != "":
		account, lookupErr = s.accounts.GetByUsername(ctx, strings.TrimSpace(req.Username))
	case strings.TrimSpace(req.Email) != "":
		account, lookupErr = s.accounts.GetByEmail(ctx, NormalizeEmail(req.Email))
	default:
		return nil, s.finish(ctx, op, badRequest(op, "username or email is required"))
	}

	// Verify against a dummy hash when the account is missing so both paths cost the same.
	targetHash := dummyPasswordHash
	exists := false
	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			return nil, s.finish(ctx, op, oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "get account").
				Wrap(lookupErr))
		}
	} else {
		targetHash = account.PasswordHash
		exists = true
	}

	valid, verifyErr := s.hasher.Verify(req.Password, targetHash)
	if verifyErr != nil && exists {
		return nil, s.finish(ctx, op, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			With("account_id", account.ID.String()).
			Wrap(verifyErr))
	}
	if !exists || !valid || verifyErr != nil {
		return nil, s.finish(ctx, op, unauthorized(op, "incorrect username, email or password"))
	}

	s.upgradeHash(ctx, account, req.Password)

	token, expiresAt, err := s.access.Issue(account.Email)
	if err != nil {
		return nil, s.finish(ctx, op, oops.Code("AUTH_LOGIN_FAILED").With("operation", "issue token").Wrap(err))
	}

	_ = s.finish(ctx, op, nil)
	return &LoginResult{
		AccessToken: token,
		TokenType:   TokenTypeBearer,
		ExpiresAt:   expiresAt,
		Profile:     account.Profile(),
	}, nil
}

// upgradeHash rehashes legacy or weak password hashes after a successful
// login. Failure is logged; the login still succeeds.
func (s *Service) upgradeHash(ctx context.Context, account *Account, password string) {
	if !s.hasher.NeedsUpgrade(account.PasswordHash) {
		return
	}
	hash, err := s.hasher.Hash(password)
	if err == nil {
		err = s.accounts.UpdatePassword(ctx, account.ID, hash)
	}
	if err != nil {
		errutil.LogError(ctx, s.logger, "password hash upgrade failed", oops.
			With("account_id", account.ID.String()).
			Wrap(err))
		return
	}
	s.logger.InfoContext(ctx, "password hash upgraded", "account_id", account.ID.String())
}

// RequestReset issues a fresh recovery code for the account with the given
// email, replacing any earlier one, and queues it for delivery. Unknown
// addresses are acknowledged unless WithRevealUnknownEmail is set.
func (s *Service) RequestReset(ctx context.Context, email string) error {
	const op = "request_reset"

	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return s.finish(ctx, op, badRequest(op, err.Error()))
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return s.finish(ctx, op, s.unknownEmail(ctx, op))
		}
		return s.finish(ctx, op, oops.Code("AUTH_RESET_REQUEST_FAILED").
			With("operation", "get account by email").
			Wrap(err))
	}

	code, codeHash, err := GenerateRecoveryCode()
	if err != nil {
		return s.finish(ctx, op, oops.Code("AUTH_RESET_REQUEST_FAILED").
			With("operation", "generate recovery code").
			Wrap(err))
	}

	if err := s.accounts.SetRecoveryCode(ctx, account.Email, codeHash, s.now().Add(s.codeTTL)); err != nil {
		if errors.Is(err, ErrNotFound) {
			return s.finish(ctx, op, s.unknownEmail(ctx, op))
		}
		return s.finish(ctx, op, oops.Code("AUTH_RESET_REQUEST_FAILED").
			With("operation", "set recovery code").
			With("account_id", account.ID.String()).
			Wrap(err))
	}

	s.notify(ctx, op, notify.RecoveryCodeMessage(account.Email, code))
	s.logger.InfoContext(ctx, "recovery code issued", "account_id", account.ID.String())
	return s.finish(ctx, op, nil)
}

func (s *Service) unknownEmail(ctx context.Context, op string) error {
	if s.revealUnknownEmail {
		return oops.Code(CodeNotFound).
			With("operation", op).
			Public("no account registered with that email").
			Wrap(ErrNotFound)
	}
	s.logger.DebugContext(ctx, "recovery requested for unknown email")
	return nil
}

// VerifyRecoveryCode exchanges a live recovery code for a short-lived
// recovery token. The code stays valid until SetNewPassword consumes it.
func (s *Service) VerifyRecoveryCode(ctx context.Context, code string) (*RecoveryToken, error) {
	const op = "verify_code"

	code = strings.TrimSpace(code)
	if code == "" {
		return nil, s.finish(ctx, op, unauthorized(op, "invalid recovery code"))
	}

	codeHash := HashRecoveryCode(code)
	account, err := s.accounts.GetByRecoveryCodeHash(ctx, codeHash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, s.finish(ctx, op, unauthorized(op, "invalid recovery code"))
		}
		return nil, s.finish(ctx, op, oops.Code("AUTH_VERIFY_CODE_FAILED").
			With("operation", "get account by recovery code").
			Wrap(err))
	}

	if !account.HasLiveRecoveryCode(s.now()) || !VerifyRecoveryCode(code, *account.RecoveryCodeHash) {
		return nil, s.finish(ctx, op, unauthorized(op, "invalid recovery code"))
	}

	token, expiresAt, err := s.recovery.IssueBound(account.Email, codeHash)
	if err != nil {
		return nil, s.finish(ctx, op, oops.Code("AUTH_VERIFY_CODE_FAILED").
			With("operation", "issue recovery token").
			Wrap(err))
	}

	_ = s.finish(ctx, op, nil)
	return &RecoveryToken{Token: token, TokenType: TokenTypeBearer, ExpiresAt: expiresAt}, nil
}

// SetNewPassword completes recovery. The password update and recovery code
// clear happen in one conditional write, so a token works at most once and
// stops working as soon as a newer code is issued.
func (s *Service) SetNewPassword(ctx context.Context, req SetPasswordRequest) error {
	const op = "set_new_password"

	claims, err := s.recovery.Verify(req.Token)
	if err != nil {
		s.logger.DebugContext(ctx, "recovery token rejected", "error", err)
		return s.finish(ctx, op, unauthorized(op, "invalid or expired recovery token"))
	}
	if claims.Binding == "" {
		return s.finish(ctx, op, unauthorized(op, "invalid or expired recovery token"))
	}

	if req.NewPassword != req.ConfirmPassword {
		return s.finish(ctx, op, badRequest(op, "passwords do not match"))
	}
	if err := ValidatePassword(req.NewPassword); err != nil {
		return s.finish(ctx, op, badRequest(op, err.Error()))
	}

	hash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return s.finish(ctx, op, oops.Code("AUTH_SET_PASSWORD_FAILED").With("operation", "hash password").Wrap(err))
	}

	if err := s.accounts.ResetPassword(ctx, claims.Subject, claims.Binding, hash, s.now()); err != nil {
		if errors.Is(err, ErrNotFound) {
			return s.finish(ctx, op, unauthorized(op, "recovery code is no longer valid"))
		}
		return s.finish(ctx, op, oops.Code("AUTH_SET_PASSWORD_FAILED").
			With("operation", "reset password").
			Wrap(err))
	}

	s.logger.InfoContext(ctx, "password reset completed")
	return s.finish(ctx, op, nil)
}

// CurrentUser resolves a bearer token to the profile of its account. Bad
// tokens and vanished accounts both fail with Unauthorized.
func (s *Service) CurrentUser(ctx context.Context, bearer string) (*Profile, error) {
	const op = "current_user"

	claims, err := s.access.Verify(bearer)
	if err != nil {
		s.logger.DebugContext(ctx, "access token rejected", "error", err)
		return nil, s.finish(ctx, op, unauthorized(op, "could not validate credentials"))
	}

	account, err := s.accounts.GetByEmail(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, s.finish(ctx, op, unauthorized(op, "could not validate credentials"))
		}
		return nil, s.finish(ctx, op, oops.Code("AUTH_CURRENT_USER_FAILED").
			With("operation", "get account by email").
			Wrap(err))
	}

	profile := account.Profile()
	_ = s.finish(ctx, op, nil)
	return &profile, nil
}

// SweepExpiredRecoveryCodes clears recovery codes whose expiry has passed.
func (s *Service) SweepExpiredRecoveryCodes(ctx context.Context) (int64, error) {
	n, err := s.accounts.ClearExpiredRecoveryCodes(ctx, s.now())
	if err != nil {
		return 0, oops.Code("AUTH_SWEEP_FAILED").With("operation", "clear expired recovery codes").Wrap(err)
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "expired recovery codes cleared", "count", n)
	}
	return n, nil
}

// notify queues msg. Queueing failures are logged and never fail the caller.
func (s *Service) notify(ctx context.Context, op string, msg notify.Message) {
	if err := s.notifier.Notify(ctx, msg); err != nil {
		errutil.LogError(ctx, s.logger, "failed to queue notification", oops.
			With("operation", op).
			With("kind", string(msg.Kind)).
			Wrap(err))
	}
}

// finish records the outcome of op and returns err unchanged. Unexpected
// errors are logged here so callers only log once.
func (s *Service) finish(ctx context.Context, op string, err error) error {
	kind := KindOf(err)
	switch {
	case err == nil:
		s.recorder.RecordAuthOutcome(op, "success")
	case kind == KindInternal:
		s.recorder.RecordAuthOutcome(op, kind.String())
		errutil.LogError(ctx, s.logger, op+" failed", err)
	default:
		s.recorder.RecordAuthOutcome(op, kind.String())
		s.logger.DebugContext(ctx, op+" rejected", "reason", kind.String())
	}
	return err
}

func conflict(operation, msg string) error {
	return oops.Code(CodeConflict).
		With("operation", operation).
		Public(msg).
		Wrapf(ErrConflict, "%s", msg)
}

func validateAll(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
