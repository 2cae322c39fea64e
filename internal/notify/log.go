// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package notify

import (
	"context"
	"log/slog"
)

// LogSender writes messages to the log instead of sending them. Used when
// no SMTP server is configured.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender. A nil logger uses slog.Default.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

// Send logs the message. The body is only logged at debug level.
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.InfoContext(ctx, "email not sent, smtp disabled",
		"kind", msg.Kind,
		"to", msg.To,
		"subject", msg.Subject)
	s.logger.DebugContext(ctx, "email body", "kind", msg.Kind, "body", msg.Body)
	return nil
}
