package exceptions

import (
	"errors"
	"net/http"
)

// Kind classifies an Exception independent of its message.
type Kind string

const (
	KindInvalidSlot        Kind = "invalid_slot"
	KindValidation         Kind = "validation"
	KindNotFound           Kind = "not_found"
	KindConflict           Kind = "conflict"
	KindStorageUnavailable Kind = "storage_unavailable"
)

type Exception struct {
	Kind       Kind
	Message    string
	StatusCode int
	Err        error
}

func (e *Exception) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Exception) Unwrap() error {
	return e.Err
}

// Is matches any Exception of the same kind, so callers can compare against
// the sentinels below regardless of message.
func (e *Exception) Is(target error) bool {
	t, ok := target.(*Exception)
	return ok && t.Kind == e.Kind
}

func StatusCode(err error) int {
	var appErr *Exception
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// Retryable reports whether the caller may retry the same request later.
func Retryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}
