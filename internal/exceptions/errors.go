package exceptions

import "net/http"

var ErrInvalidSlot = &Exception{
	Kind:       KindInvalidSlot,
	Message:    "invalid time slot",
	StatusCode: http.StatusBadRequest,
}

var ErrValidation = &Exception{
	Kind:       KindValidation,
	Message:    "validation failed",
	StatusCode: http.StatusBadRequest,
}

var ErrTaskNotFound = &Exception{
	Kind:       KindNotFound,
	Message:    "task not found",
	StatusCode: http.StatusNotFound,
}

var ErrUserNotFound = &Exception{
	Kind:       KindNotFound,
	Message:    "user not found",
	StatusCode: http.StatusNotFound,
}

var ErrOptimisticLock = &Exception{
	Kind:       KindConflict,
	Message:    "task was modified concurrently",
	StatusCode: http.StatusConflict,
}

var ErrStorageUnavailable = &Exception{
	Kind:       KindStorageUnavailable,
	Message:    "storage is busy, retry later",
	StatusCode: http.StatusServiceUnavailable,
}

// InvalidSlot returns an InvalidSlot exception with a specific reason.
func InvalidSlot(reason string) error {
	return &Exception{Kind: KindInvalidSlot, Message: reason, StatusCode: http.StatusBadRequest}
}

// Validation returns a Validation exception wrapping the underlying cause.
func Validation(reason string, err error) error {
	return &Exception{Kind: KindValidation, Message: reason, StatusCode: http.StatusBadRequest, Err: err}
}

// StorageUnavailable wraps the last contention error after retries ran out.
func StorageUnavailable(err error) error {
	return &Exception{
		Kind:       KindStorageUnavailable,
		Message:    ErrStorageUnavailable.Message,
		StatusCode: http.StatusServiceUnavailable,
		Err:        err,
	}
}
