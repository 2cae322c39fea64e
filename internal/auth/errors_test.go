// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"errors"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"

	"github.com/holomush/authd/internal/auth"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want auth.Kind
	}{
		{name: "nil", err: nil, want: auth.KindInternal},
		{name: "plain error", err: errors.New("boom"), want: auth.KindInternal},
		{name: "conflict", err: oops.Code(auth.CodeConflict).Wrap(auth.ErrConflict), want: auth.KindConflict},
		{name: "unauthorized", err: oops.Wrap(auth.ErrUnauthorized), want: auth.KindUnauthorized},
		{name: "invalid token", err: oops.Wrap(auth.ErrInvalidToken), want: auth.KindUnauthorized},
		{name: "expired token", err: oops.Wrap(auth.ErrExpired), want: auth.KindUnauthorized},
		{name: "bad request", err: oops.Wrap(auth.ErrBadRequest), want: auth.KindBadRequest},
		{name: "not found", err: oops.With("field", "email").Wrap(auth.ErrNotFound), want: auth.KindNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, auth.KindOf(tt.err))
		})
	}
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "conflict", auth.KindConflict.String())
	assert.Equal(t, "unauthorized", auth.KindUnauthorized.String())
	assert.Equal(t, "not_found", auth.KindNotFound.String())
	assert.Equal(t, "bad_request", auth.KindBadRequest.String())
	assert.Equal(t, "internal", auth.KindInternal.String())
}
