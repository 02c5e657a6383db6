// Copyright 2026 The Abeku Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"errors"
	"fmt"
	"strings"

	"github.com/abekugithub/matrix/lib/ref"
)

// MatrixError represents a structured error response from the Matrix
// homeserver. Callers use errors.As to extract it:
//
//	var matrixErr *MatrixError
//	if errors.As(err, &matrixErr) {
//	    if matrixErr.Code == ErrCodeNotFound { ... }
//	}
type MatrixError struct {
	// Code is the Matrix error code (e.g., "M_FORBIDDEN").
	Code string `json:"errcode"`
	// Message is the human-readable description from the server.
	Message string `json:"error"`
	// StatusCode is the HTTP status code of the response.
	StatusCode int `json:"-"`
}

func (e *MatrixError) Error() string {
	return fmt.Sprintf("matrix: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Standard Matrix error codes.
const (
	ErrCodeForbidden     = "M_FORBIDDEN"
	ErrCodeUnknownToken  = "M_UNKNOWN_TOKEN"
	ErrCodeNotFound      = "M_NOT_FOUND"
	ErrCodeLimitExceeded = "M_LIMIT_EXCEEDED"
	ErrCodeUnrecognized  = "M_UNRECOGNIZED"
	ErrCodeUnknown       = "M_UNKNOWN"
	ErrCodeTooLarge      = "M_TOO_LARGE"
)

// IsMatrixError checks whether err is a *MatrixError with the given code.
func IsMatrixError(err error, code string) bool {
	var matrixErr *MatrixError
	if errors.As(err, &matrixErr) {
		return matrixErr.Code == code
	}
	return false
}

// UnknownDevicesError is returned by an encrypting send path when the
// peer has devices the local session has never seen. The caller
// acknowledges the devices through the crypto collaborator (trust on
// first use) and retries the send exactly once.
type UnknownDevicesError struct {
	Devices []DeviceTrustEntry
}

func (e *UnknownDevicesError) Error() string {
	owners := make([]string, 0, len(e.Devices))
	for _, device := range e.Devices {
		owners = append(owners, device.UserID.String()+"/"+device.DeviceID)
	}
	return fmt.Sprintf("messaging: send blocked by %d unknown devices: %s",
		len(e.Devices), strings.Join(owners, ", "))
}

// DeviceTrustEntry identifies one recipient device reported by the
// crypto collaborator as unknown.
type DeviceTrustEntry struct {
	UserID   ref.UserID
	DeviceID string
}
