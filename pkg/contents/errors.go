package contents

import (
	"fmt"
	"net/http"

	"emperror.dev/errors"
)

type ErrorCode string

const (
	CodeNotFound      = ErrorCode("not_found")
	CodeNotADirectory = ErrorCode("not_a_directory")
	CodeBadPath       = ErrorCode("bad_path")
	CodeExists        = ErrorCode("exists")
	CodeReadOnly      = ErrorCode("read_only")
	CodeRootImmutable = ErrorCode("root_immutable")
	CodeBadType       = ErrorCode("bad_type")
	CodeBadFormat     = ErrorCode("bad_format")
	CodeNoContent     = ErrorCode("no_content")
	CodeBadEncoding   = ErrorCode("bad_encoding")
	CodeBadLocation   = ErrorCode("bad_location")
	CodeTargetExists  = ErrorCode("target_exists")
	CodeInternal      = ErrorCode("internal")
)

var errorStatus = map[ErrorCode]int{
	CodeNotFound:      http.StatusNotFound,
	CodeNotADirectory: http.StatusNotFound,
	CodeBadPath:       http.StatusNotFound,
	CodeExists:        http.StatusConflict,
	CodeReadOnly:      http.StatusConflict,
	CodeRootImmutable: http.StatusConflict,
	CodeBadType:       http.StatusBadRequest,
	CodeBadFormat:     http.StatusBadRequest,
	CodeNoContent:     http.StatusBadRequest,
	CodeBadEncoding:   http.StatusBadRequest,
	CodeBadLocation:   http.StatusBadRequest,
	CodeTargetExists:  http.StatusBadRequest,
	CodeInternal:      http.StatusInternalServerError,
}

// Error is an operation failure with a fixed HTTP status.
type Error struct {
	Code   ErrorCode
	Status int
	Reason string
	Detail string
}

func NewError(code ErrorCode, format string, a ...any) *Error {
	status, ok := errorStatus[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	return &Error{
		Code:   code,
		Status: status,
		Reason: fmt.Sprintf(format, a...),
	}
}

// AppendDetail returns a copy with additional detail text.
func (ce *Error) AppendDetail(format string, a ...any) *Error {
	detail := fmt.Sprintf(format, a...)
	if ce.Detail != "" {
		detail = ce.Detail + " " + detail
	}
	return &Error{
		Code:   ce.Code,
		Status: ce.Status,
		Reason: ce.Reason,
		Detail: detail,
	}
}

func (ce *Error) Error() string {
	if ce.Detail != "" {
		return fmt.Sprintf("%s [%d] - %s (%s)", ce.Code, ce.Status, ce.Reason, ce.Detail)
	}
	return fmt.Sprintf("%s [%d] - %s", ce.Code, ce.Status, ce.Reason)
}

// StatusCode maps err to its HTTP status, 500 for uncoded errors.
func StatusCode(err error) int {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Status
	}
	return http.StatusInternalServerError
}

// Reason returns the user-facing message of err.
func Reason(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return err.Error()
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}
