// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package httpapi exposes the auth service as a JSON API over HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/holomush/authd/internal/auth"
)

// Service is the subset of auth.Service the API calls.
type Service interface {
	Register(ctx context.Context, req auth.RegisterRequest) error
	Login(ctx context.Context, req auth.LoginRequest) (*auth.LoginResult, error)
	RequestReset(ctx context.Context, email string) error
	VerifyRecoveryCode(ctx context.Context, code string) (*auth.RecoveryToken, error)
	SetNewPassword(ctx context.Context, req auth.SetPasswordRequest) error
	CurrentUser(ctx context.Context, bearer string) (*auth.Profile, error)
}

// RequestRecorder receives one observation per handled request.
type RequestRecorder interface {
	RecordRequest(route, method string, status int, elapsed time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) RecordRequest(string, string, int, time.Duration) {}

// LoginResponse is returned by POST /auth/login.
type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
}

// TokenResponse is returned by POST /auth/verify_code.
type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// ProfileResponse is returned by GET /auth/me.
type ProfileResponse struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Response messages.
const (
	msgRegistered      = "user registered"
	msgResetRequested  = "if an account exists for that email, a recovery code has been sent"
	msgPasswordUpdated = "password updated"
)

// Option configures an API.
type Option func(*API)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithRecorder sets the request metrics recorder.
func WithRecorder(r RequestRecorder) Option {
	return func(a *API) {
		if r != nil {
			a.recorder = r
		}
	}
}

// API serves the authentication endpoints.
type API struct {
	svc      Service
	logger   *slog.Logger
	recorder RequestRecorder
}

// New creates an API backed by svc.
func New(svc Service, opts ...Option) *API {
	a := &API{
		svc:      svc,
		logger:   slog.Default(),
		recorder: noopRecorder{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the routed, instrumented handler.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/register", a.handleRegister)
	mux.HandleFunc("POST /auth/login", a.handleLogin)
	mux.HandleFunc("POST /auth/request_reset", a.handleRequestReset)
	mux.HandleFunc("POST /auth/verify_code", a.handleVerifyCode)
	mux.HandleFunc("POST /auth/set_new_password", a.handleSetNewPassword)
	mux.HandleFunc("GET /auth/me", a.handleMe)
	mux.HandleFunc("GET /{$}", a.handleRoot)
	return a.instrument(mux)
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decode(w, r, &req); err != nil {
		a.writeRequestError(w, err)
		return
	}

	err := a.svc.Register(r.Context(), auth.RegisterRequest{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, a.logger, http.StatusCreated, MessageResponse{Message: msgRegistered})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decode(w, r, &req); err != nil {
		a.writeRequestError(w, err)
		return
	}

	result, err := a.svc.Login(r.Context(), auth.LoginRequest{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, a.logger, http.StatusOK, LoginResponse{
		AccessToken: result.AccessToken,
		TokenType:   result.TokenType,
		ExpiresAt:   result.ExpiresAt.UTC(),
		Username:    result.Profile.Username,
		Email:       result.Profile.Email,
	})
}

func (a *API) handleRequestReset(w http.ResponseWriter, r *http.Request) {
	var req ResetRequest
	if err := decode(w, r, &req); err != nil {
		a.writeRequestError(w, err)
		return
	}

	if err := a.svc.RequestReset(r.Context(), req.Email); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, a.logger, http.StatusAccepted, MessageResponse{Message: msgResetRequested})
}

func (a *API) handleVerifyCode(w http.ResponseWriter, r *http.Request) {
	var req VerifyCodeRequest
	if err := decode(w, r, &req); err != nil {
		a.writeRequestError(w, err)
		return
	}

	token, err := a.svc.VerifyRecoveryCode(r.Context(), req.Code)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, a.logger, http.StatusOK, TokenResponse{
		AccessToken: token.Token,
		TokenType:   token.TokenType,
		ExpiresAt:   token.ExpiresAt.UTC(),
	})
}

func (a *API) handleSetNewPassword(w http.ResponseWriter, r *http.Request) {
	var req SetPasswordRequest
	if err := decode(w, r, &req); err != nil {
		a.writeRequestError(w, err)
		return
	}

	err := a.svc.SetNewPassword(r.Context(), auth.SetPasswordRequest{
		Token:           req.Token,
		NewPassword:     req.NewPassword,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, a.logger, http.StatusOK, MessageResponse{Message: msgPasswordUpdated})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	profile, err := a.svc.CurrentUser(r.Context(), bearerToken(r))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, a.logger, http.StatusOK, ProfileResponse{Username: profile.Username, Email: profile.Email})
}

func (a *API) handleRoot(w http.ResponseWriter, r *http.Request) {
	profile, err := a.svc.CurrentUser(r.Context(), bearerToken(r))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, a.logger, http.StatusOK, MessageResponse{Message: "Welcome, " + profile.Username + "!"})
}
