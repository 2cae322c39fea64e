// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", ""},
		{"Bearer abc.def.ghi", "abc.def.ghi"},
		{"bearer abc", "abc"},
		{"BEARER  abc ", "abc"},
		{"Bearer", ""},
		{"Basic abc", ""},
		{"abc", ""},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, bearerToken(req))
		})
	}
}

func TestRouteOf(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, unmatchedRoute, routeOf(req))

	req.Pattern = "POST /auth/login"
	assert.Equal(t, "/auth/login", routeOf(req))

	req.Pattern = "/metrics"
	assert.Equal(t, "/metrics", routeOf(req))
}

func TestLoginRequest_Validate(t *testing.T) {
	assert.NoError(t, LoginRequest{Username: "alice", Password: "pw"}.Validate())
	assert.NoError(t, LoginRequest{Email: "alice@example.com", Password: "pw"}.Validate())
	assert.Error(t, LoginRequest{Password: "pw"}.Validate())
	assert.Error(t, LoginRequest{Username: "alice"}.Validate())
	assert.NoError(t, LoginRequest{Email: " alice@example.com ", Password: "pw"}.Validate())
	assert.Error(t, LoginRequest{Username: "  ", Email: " ", Password: "pw"}.Validate())
}

func TestRegisterRequest_ValidateTrimsIdentifiers(t *testing.T) {
	assert.NoError(t, RegisterRequest{Username: " alice ", Email: " A@x.com ", Password: "pw"}.Validate())
	assert.Error(t, RegisterRequest{Username: "  al  ", Email: "a@x.com", Password: "pw"}.Validate())
	assert.Error(t, RegisterRequest{Username: "alice", Email: "   ", Password: "pw"}.Validate())
}

func TestResetRequest_ValidateTrimsEmail(t *testing.T) {
	assert.NoError(t, ResetRequest{Email: "\ta@x.com "}.Validate())
	assert.Error(t, ResetRequest{Email: "  "}.Validate())
	assert.Error(t, ResetRequest{Email: " not-an-email "}.Validate())
}

func TestSetPasswordRequest_Validate(t *testing.T) {
	assert.NoError(t, SetPasswordRequest{Token: "t", NewPassword: "a", ConfirmPassword: "b"}.Validate())
	assert.Error(t, SetPasswordRequest{NewPassword: "a", ConfirmPassword: "a"}.Validate())
	assert.Error(t, SetPasswordRequest{Token: "t", ConfirmPassword: "a"}.Validate())
}
