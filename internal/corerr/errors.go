// Package corerr defines the stable error kinds surfaced to callers of the
// transfer engines and the Orchestrator. Kinds are sentinel errors, wrapped
// with context via fmt.Errorf("...: %w", ...) the same way the teacher
// wraps store errors in storage/manifest.go.
package corerr

import "errors"

var (
	ErrBadPassword     = errors.New("bad password")
	ErrCorrupt         = errors.New("corrupt data")
	ErrSourceMismatch  = errors.New("source mismatch")
	ErrNetwork         = errors.New("network error")
	ErrTimeout         = errors.New("timeout")
	ErrRateLimited     = errors.New("rate limited")
	ErrAuth            = errors.New("auth error")
	ErrRemoteRejected  = errors.New("remote rejected")
	ErrCanceled        = errors.New("canceled")
	ErrIntegrity       = errors.New("integrity failure")
	ErrNotFound        = errors.New("not found")
	ErrInternal        = errors.New("internal error")
	ErrWrongPassword   = errors.New("wrong password")
	ErrMalformed       = errors.New("malformed envelope")
	ErrBadMagic        = errors.New("bad magic")
	ErrTooLarge        = errors.New("payload too large")
	ErrAlreadyRunning  = errors.New("operation already running for this id")
)

// RateLimited carries a retry-after hint alongside the ErrRateLimited kind.
type RateLimited struct {
	RetryAfterSeconds int
}

func (e *RateLimited) Error() string { return "rate limited" }
func (e *RateLimited) Unwrap() error { return ErrRateLimited }

// RemoteRejected carries the remote service's stated reason.
type RemoteRejected struct {
	Reason string
}

func (e *RemoteRejected) Error() string { return "remote rejected: " + e.Reason }
func (e *RemoteRejected) Unwrap() error { return ErrRemoteRejected }

// Kind maps an error to one of the §7 kinds by unwrapping sentinels; used by
// the Orchestrator to translate engine errors into a stable user-visible
// category without leaking internal wrapping.
func Kind(err error) error {
	for _, k := range []error{
		ErrBadPassword, ErrCorrupt, ErrSourceMismatch, ErrNetwork, ErrTimeout,
		ErrRateLimited, ErrAuth, ErrRemoteRejected, ErrCanceled, ErrIntegrity,
		ErrNotFound, ErrInternal, ErrWrongPassword, ErrMalformed, ErrBadMagic,
		ErrTooLarge, ErrAlreadyRunning,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrInternal
}
