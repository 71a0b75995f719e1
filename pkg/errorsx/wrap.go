package errorsx

import (
	"errors"
	"fmt"
)

// ReasonedError pairs an error with a machine-readable reason code so
// callers can classify failures without matching message text.
type ReasonedError struct {
	Err    error
	Reason ReasonCode
}

func (e ReasonedError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e ReasonedError) Unwrap() error { return e.Err }

// Wrap tags err with reason. A nil err stays nil, and an error that
// already carries a reason anywhere in its chain keeps it: the reason
// closest to the failure site wins.
func Wrap(err error, reason ReasonCode) error {
	if err == nil {
		return nil
	}
	if hasAnyReason(err) {
		return err
	}
	return ReasonedError{Err: err, Reason: reason}
}

// Reason reports the reason code carried by err, or ReasonUnknown.
func Reason(err error) ReasonCode {
	var re ReasonedError
	if err != nil && errors.As(err, &re) {
		return re.Reason
	}
	return ReasonUnknown
}

// HasReason reports whether err carries exactly the given reason code.
func HasReason(err error, reason ReasonCode) bool {
	return Reason(err) == reason
}

func hasAnyReason(err error) bool {
	var re ReasonedError
	return errors.As(err, &re)
}
