// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Error types and exit codes for rigchat commands.
//
// Commands return errors and let main decide how to display them.

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/jeranaias/rigchat/internal/config"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess       = 0
	ExitGeneralError  = 1
	ExitUsageError    = 2
	ExitConfigError   = 3
	ExitAuthError     = 4
	ExitNetworkError  = 5
	ExitNotFoundError = 7
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ValidationError is invalid command-line input.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	if e.Value != "" {
		msg += fmt.Sprintf(" (got: %s)", e.Value)
	}
	return msg
}

// APIError is an error response from the rigchat server.
type APIError struct {
	Status  int
	Message string
	Field   string
}

func (e *APIError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("server returned %d: %s: %s", e.Status, e.Field, e.Message)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// NetworkError wraps a failure to reach the server.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("cannot reach rigchat server at %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// readAPIError decodes the server's error body. Bodies that are not the
// expected JSON fall back to the status text.
func readAPIError(resp *http.Response) error {
	var body struct {
		Error struct {
			Message string `json:"message"`
			Field   string `json:"field"`
		} `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	if json.Unmarshal(data, &body) == nil && body.Error.Message != "" {
		apiErr.Message = body.Error.Message
		apiErr.Field = body.Error.Field
	}
	return apiErr
}

// =============================================================================
// EXIT CODE MAPPING
// =============================================================================

// GetExitCode maps an error to the process exit code.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return ExitUsageError
	}

	var cfgErr config.ValidationError
	var cfgErrs config.ValidateErrors
	if errors.As(err, &cfgErr) || errors.As(err, &cfgErrs) {
		return ExitConfigError
	}

	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return ExitNetworkError
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusUnauthorized, http.StatusForbidden:
			return ExitAuthError
		case http.StatusNotFound:
			return ExitNotFoundError
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			return ExitUsageError
		}
	}
	return ExitGeneralError
}
