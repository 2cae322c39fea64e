// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/samber/oops"

	"github.com/holomush/authd/internal/auth"
	"github.com/holomush/authd/pkg/errutil"
)

// Error codes produced by the transport itself.
const (
	CodeInvalidJSON     = "REQUEST_INVALID_JSON"
	CodeInvalidRequest  = "REQUEST_INVALID"
	CodeRequestTooLarge = "REQUEST_TOO_LARGE"
	CodeInternal        = "INTERNAL"
)

const internalMessage = "internal server error"

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a failure. Fields is set for request validation
// failures and maps JSON field names to messages.
type ErrorDetail struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// MessageResponse is returned by operations without a payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// writeJSON writes v with the given status code.
func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to encode JSON response", "status", status, "error", err)
	}
}

var defaultCodes = map[auth.Kind]string{
	auth.KindConflict:     auth.CodeConflict,
	auth.KindUnauthorized: auth.CodeUnauthorized,
	auth.KindNotFound:     auth.CodeNotFound,
	auth.KindBadRequest:   auth.CodeBadRequest,
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind auth.Kind) int {
	switch kind {
	case auth.KindConflict:
		return http.StatusConflict
	case auth.KindUnauthorized:
		return http.StatusUnauthorized
	case auth.KindNotFound:
		return http.StatusNotFound
	case auth.KindBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err. Internal errors never expose their message; the
// service has already logged them.
func (a *API) writeError(w http.ResponseWriter, err error) {
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for name, ferr := range verrs {
			fields[name] = ferr.Error()
		}
		writeJSON(w, a.logger, http.StatusBadRequest, ErrorResponse{Error: ErrorDetail{
			Code:    CodeInvalidRequest,
			Message: "request validation failed",
			Fields:  fields,
		}})
		return
	}

	kind := auth.KindOf(err)
	status := statusFor(kind)
	detail := ErrorDetail{Code: CodeInternal, Message: internalMessage}
	if kind != auth.KindInternal {
		detail = ErrorDetail{Code: defaultCodes[kind], Message: http.StatusText(status)}
		if oopsErr, ok := oops.AsOops(err); ok {
			if code := errutil.Code(err); code != "" {
				detail.Code = code
			}
			if public := oopsErr.Public(); public != "" {
				detail.Message = public
			}
		}
	}

	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	writeJSON(w, a.logger, status, ErrorResponse{Error: detail})
}

// writeRequestError renders a decode or validation failure.
func (a *API) writeRequestError(w http.ResponseWriter, err error) {
	var (
		verrs    validation.Errors
		tooLarge *http.MaxBytesError
	)
	switch {
	case errors.As(err, &verrs):
		a.writeError(w, err)
		return
	case errors.As(err, &tooLarge):
		writeJSON(w, a.logger, http.StatusRequestEntityTooLarge, ErrorResponse{Error: ErrorDetail{
			Code:    CodeRequestTooLarge,
			Message: "request body too large",
		}})
		return
	}

	writeJSON(w, a.logger, http.StatusBadRequest, ErrorResponse{Error: ErrorDetail{
		Code:    CodeInvalidJSON,
		Message: err.Error(),
	}})
}
