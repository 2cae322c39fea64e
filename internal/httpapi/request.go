// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/samber/oops"

	"github.com/holomush/authd/internal/auth"
)

// MaxBodyBytes limits every request body.
const MaxBodyBytes = 1 << 20

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate checks field shape on the trimmed identifiers, the same form the
// service stores. Account rules are enforced by the service.
func (r RegisterRequest) Validate() error {
	r.Username = strings.TrimSpace(r.Username)
	r.Email = strings.TrimSpace(r.Email)
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username,
			validation.Required,
			validation.Length(auth.MinUsernameLength, auth.MaxUsernameLength),
		),
		validation.Field(&r.Email,
			validation.Required,
			validation.Length(0, auth.MaxEmailLength),
			is.EmailFormat,
		),
		validation.Field(&r.Password,
			validation.Required,
			validation.Length(0, auth.MaxPasswordLength),
		),
	)
}

// LoginRequest is the body of POST /auth/login. Username wins when both
// identifiers are present.
type LoginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate requires one identifier and a password.
func (r LoginRequest) Validate() error {
	r.Username = strings.TrimSpace(r.Username)
	r.Email = strings.TrimSpace(r.Email)
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username,
			validation.Required.When(r.Email == "").Error("username or email is required"),
		),
		validation.Field(&r.Password, validation.Required),
	)
}

// ResetRequest is the body of POST /auth/request_reset.
type ResetRequest struct {
	Email string `json:"email"`
}

// Validate requires an address once surrounding whitespace is trimmed.
func (r ResetRequest) Validate() error {
	r.Email = strings.TrimSpace(r.Email)
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.EmailFormat),
	)
}

// VerifyCodeRequest is the body of POST /auth/verify_code.
type VerifyCodeRequest struct {
	Code string `json:"code"`
}

// Validate requires a code.
func (r VerifyCodeRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Code, validation.Required),
	)
}

// SetPasswordRequest is the body of POST /auth/set_new_password.
type SetPasswordRequest struct {
	Token           string `json:"token"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

// Validate requires every field. Whether the passwords match is decided by
// the service after the token is checked.
func (r SetPasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required),
		validation.Field(&r.NewPassword, validation.Required, validation.Length(0, auth.MaxPasswordLength)),
		validation.Field(&r.ConfirmPassword, validation.Required),
	)
}

// decode reads a single JSON object from r into dst and validates it.
// Unknown fields and trailing data are rejected.
func decode(w http.ResponseWriter, r *http.Request, dst validation.Validatable) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		if errors.Is(err, io.EOF) {
			return oops.Code(CodeInvalidJSON).Errorf("request body is empty")
		}
		return oops.Code(CodeInvalidJSON).Errorf("malformed request body: %s", err.Error())
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return oops.Code(CodeInvalidJSON).Errorf("request body must contain a single JSON object")
	}

	return dst.Validate()
}

// bearerToken extracts the token from an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
