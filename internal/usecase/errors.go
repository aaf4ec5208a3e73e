package usecase

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorInvalidInput ErrorCode = "INVALID_INPUT"
	ErrorUnavailable  ErrorCode = "SERVICE_UNAVAILABLE"
	ErrorPairing      ErrorCode = "PAIRING_FAILED"
	ErrorAuth         ErrorCode = "AUTH_REJECTED"
	ErrorExport       ErrorCode = "EXPORT_FAILED"
	ErrorInternal     ErrorCode = "INTERNAL_ERROR"
)

// ErrSessionInProgress is returned when a session is already running in this process.
var ErrSessionInProgress = errors.New("usecase: session already in progress")

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// PairingRequestError reports a failed pairing-code request.
type PairingRequestError struct {
	Err error
}

func (e *PairingRequestError) Error() string {
	return fmt.Sprintf("usecase: request pairing code: %v", e.Err)
}

func (e *PairingRequestError) Unwrap() error { return e.Err }

// ExportStage names the step of the credential export that failed.
type ExportStage string

const (
	StageRead      ExportStage = "read"
	StageUpload    ExportStage = "upload"
	StageReference ExportStage = "reference"
	StageNotify    ExportStage = "notify"
)

// ExportError reports a failed credential export.
type ExportError struct {
	Stage ExportStage
	Err   error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("usecase: export credentials (%s): %v", e.Stage, e.Err)
}

func (e *ExportError) Unwrap() error { return e.Err }
