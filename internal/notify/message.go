// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package notify delivers account emails (welcome and password recovery)
// through a bounded queue drained by background workers.
package notify

import (
	"context"
	"errors"
	"fmt"
)

// Kind identifies the purpose of a message.
type Kind string

// Message kinds.
const (
	KindWelcome      Kind = "welcome"
	KindRecoveryCode Kind = "recovery_code"
)

// Message is a plain-text email addressed to one recipient.
type Message struct {
	Kind    Kind
	To      string
	Subject string
	Body    string
}

// WelcomeMessage builds the message sent after registration.
func WelcomeMessage(to, username string) Message {
	return Message{
		Kind:    KindWelcome,
		To:      to,
		Subject: "Welcome",
		Body:    fmt.Sprintf("Welcome, %s! Your account has been created.", username),
	}
}

// RecoveryCodeMessage builds the message carrying a password recovery code.
func RecoveryCodeMessage(to, code string) Message {
	return Message{
		Kind:    KindRecoveryCode,
		To:      to,
		Subject: "Password Recovery Code",
		Body:    fmt.Sprintf("Your password recovery code is: %s", code),
	}
}

// Sender delivers a single message synchronously.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// permanentError marks a delivery failure that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the dispatcher gives up without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
