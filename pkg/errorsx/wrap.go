package errorsx

import "errors"

// Error tags a failure with the ReasonCode reported in events and call reports.
// The first reason attached wins; outer wrappers keep it.
type Error struct {
	Code ReasonCode
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

func Wrap(err error, code ReasonCode) error {
	if err == nil || Reason(err) != ReasonUnknown {
		return err
	}
	return &Error{Code: code, Err: err}
}

// Reason returns the code attached to err, or ReasonUnknown.
func Reason(err error) ReasonCode {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Code
	}
	return ReasonUnknown
}

func HasReason(err error, code ReasonCode) bool { return Reason(err) == code }
