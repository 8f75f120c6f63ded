package errors

import (
	"errors"
	"fmt"
)

// AppError provides a structured error that carries a stable taxonomy code and a
// human-readable message suitable for showing verbatim in the UI.
type AppError struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Internal error  `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.Internal != nil {
		if e.Message == "" {
			return e.Internal.Error()
		}
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}

	return e.Message
}

// Unwrap exposes the internal error for errors.Is / errors.As compatibility.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// Is reports whether target is an AppError sharing the same code.
func (e *AppError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*AppError)
	if !ok || t == nil {
		return false
	}
	return t.Code == e.Code
}

// WithInternal returns a copy of the AppError with an attached internal error.
func (e *AppError) WithInternal(err error) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Internal = err
	return &cpy
}

// WithMessage returns a copy of the AppError carrying a different message.
func (e *AppError) WithMessage(message string) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Message = message
	return &cpy
}

// Taxonomy shared by the connection manager and the filesystem backends.
var (
	ErrAuthenticationFailure = &AppError{
		Code:    "AUTHENTICATION_FAILURE",
		Message: "Authentication failed",
	}

	ErrHandshakeFailure = &AppError{
		Code:    "HANDSHAKE_FAILURE",
		Message: "SSH handshake failed",
	}

	ErrChannelOpenFailure = &AppError{
		Code:    "CHANNEL_OPEN_FAILURE",
		Message: "SFTP channel could not be opened",
	}

	ErrNotFound = &AppError{
		Code:    "NOT_FOUND",
		Message: "No such file or directory",
	}

	ErrAccessDenied = &AppError{
		Code:    "ACCESS_DENIED",
		Message: "Permission denied",
	}

	ErrNotADirectory = &AppError{
		Code:    "NOT_A_DIRECTORY",
		Message: "Not a directory",
	}

	ErrTransientBackend = &AppError{
		Code:    "TRANSIENT_BACKEND_ERROR",
		Message: "Backend unavailable",
	}

	ErrInvalidProfile = &AppError{
		Code:    "INVALID_PROFILE",
		Message: "Invalid connection profile",
	}

	ErrUnsupportedEncoding = &AppError{
		Code:    "UNSUPPORTED_ENCODING",
		Message: "Unsupported encoding",
	}

	ErrManagerDisposed = &AppError{
		Code:    "MANAGER_DISPOSED",
		Message: "Connection manager has been disposed",
	}

	ErrConnectSuperseded = &AppError{
		Code:    "CONNECT_SUPERSEDED",
		Message: "Connection attempt was superseded",
	}
)

// FromError converts a generic error into an AppError, defaulting to ErrTransientBackend.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	return ErrTransientBackend.WithInternal(err)
}
