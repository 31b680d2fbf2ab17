package auth

import (
	"errors"
	"fmt"
)

// ErrNoPolicy is returned when the manifest declares no authentication
// policy. Callers treat it as "no gate", not as a failure.
var ErrNoPolicy = errors.New("authentication not configured")

// Stage is a step of one authentication attempt.
type Stage int

const (
	StageReceived Stage = iota
	StageCredentialsResolved
	StageKeyDecoded
	StageRemoteVerified
	StageTokenValidated
	StageCommitted
)

// String returns the string representation of the stage
func (s Stage) String() string {
	switch s {
	case StageReceived:
		return "received"
	case StageCredentialsResolved:
		return "credentials-resolved"
	case StageKeyDecoded:
		return "key-decoded"
	case StageRemoteVerified:
		return "remote-verified"
	case StageTokenValidated:
		return "token-validated"
	case StageCommitted:
		return "committed"
	default:
		return "unknown"
	}
}

// Error reports the stage an attempt failed to reach.
type Error struct {
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("authentication failed before %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// BadRequest reports whether the failure is the caller's fault.
func (e *Error) BadRequest() bool {
	return e.Stage == StageCredentialsResolved
}

// RemoteStatusError reports a non-2xx answer from the authentication URL.
type RemoteStatusError struct {
	URL        string
	StatusCode int
}

func (e *RemoteStatusError) Error() string {
	return fmt.Sprintf("authentication endpoint %s answered %d", e.URL, e.StatusCode)
}
