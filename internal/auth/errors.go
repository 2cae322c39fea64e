// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"errors"

	"github.com/samber/oops"
)

// Sentinel errors. Repositories and services wrap these with oops codes;
// callers classify with errors.Is or KindOf.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when an identity field is already taken.
	ErrConflict = errors.New("conflict")

	// ErrUnauthorized covers bad credentials, bad recovery codes and bad bearer tokens.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrBadRequest is returned for malformed input such as a password confirmation mismatch.
	ErrBadRequest = errors.New("bad request")

	// ErrInvalidToken is returned when a token fails signature or claim checks.
	ErrInvalidToken = errors.New("invalid token")

	// ErrExpired is returned when a token's expiry has elapsed.
	ErrExpired = errors.New("token expired")
)

// Error codes attached to errors returned by Service.
const (
	CodeConflict     = "AUTH_CONFLICT"
	CodeUnauthorized = "AUTH_UNAUTHORIZED"
	CodeNotFound     = "AUTH_NOT_FOUND"
	CodeBadRequest   = "AUTH_BAD_REQUEST"
	CodeInvalidToken = "TOKEN_INVALID"
	CodeExpired      = "TOKEN_EXPIRED"
)

// Kind is the caller-facing classification of an error.
type Kind int

// Error kinds.
const (
	KindInternal Kind = iota
	KindConflict
	KindUnauthorized
	KindNotFound
	KindBadRequest
)

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case KindConflict:
		return "conflict"
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindBadRequest:
		return "bad_request"
	default:
		return "internal"
	}
}

// KindOf classifies err. Token failures are reported as KindUnauthorized.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrInvalidToken),
		errors.Is(err, ErrExpired):
		return KindUnauthorized
	case errors.Is(err, ErrBadRequest):
		return KindBadRequest
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	default:
		return KindInternal
	}
}

// unauthorized builds the single error returned for every credential failure.
func unauthorized(operation, msg string) error {
	return oops.Code(CodeUnauthorized).
		With("operation", operation).
		Public(msg).
		Wrapf(ErrUnauthorized, "%s", msg)
}

// badRequest builds a client error whose message is safe to echo back.
func badRequest(operation, msg string) error {
	return oops.Code(CodeBadRequest).
		With("operation", operation).
		Public(msg).
		Wrapf(ErrBadRequest, "%s", msg)
}
