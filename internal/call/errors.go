package call

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned when a call is requested while another session exists.
	ErrBusy = errors.New("call: another call is in progress")
	// ErrNoSession is returned by controls that need an active session.
	ErrNoSession = errors.New("call: no active call")
	// ErrInvalidState is returned when an operation does not apply to the
	// session's current state.
	ErrInvalidState = errors.New("call: operation not valid in current state")

	ErrPermissionDenied = errors.New("permission denied")
	ErrDeviceBusy       = errors.New("device busy")
	ErrMediaUnavailable = errors.New("media unavailable")
)

// MediaError reports a failed local media acquisition. The session is torn
// down without any signaling when it is returned.
type MediaError struct {
	Media Media
	Err   error
}

func (e *MediaError) Error() string {
	return fmt.Sprintf("acquire %s media: %v", e.Media, e.Err)
}

func (e *MediaError) Unwrap() error { return e.Err }

// Reason classifies the error for notices and metrics.
func (e *MediaError) Reason() string {
	switch {
	case errors.Is(e.Err, ErrPermissionDenied):
		return "permission-denied"
	case errors.Is(e.Err, ErrDeviceBusy):
		return "device-busy"
	default:
		return "unavailable"
	}
}

func newMediaError(media Media, err error) *MediaError {
	var me *MediaError
	if errors.As(err, &me) {
		return me
	}
	if !errors.Is(err, ErrPermissionDenied) && !errors.Is(err, ErrDeviceBusy) {
		err = fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
	}
	return &MediaError{Media: media, Err: err}
}
