package mount

import "fmt"

// AuthError means a write was rejected by the permission gate or the
// device reported a wrong PIN. Cooldown (seconds) is nonzero when the
// device refuses further authentication attempts for a while. Never
// retried automatically: retrying without new credentials cannot succeed.
type AuthError struct {
	Cooldown int
	Reason   string
}

func (e *AuthError) Error() string {
	if e.Cooldown > 0 {
		return fmt.Sprintf("mount: unauthorized: %s (cooldown %ds)", e.Reason, e.Cooldown)
	}
	return "mount: unauthorized: " + e.Reason
}

// UnreachableError means the connection could not be established, or was
// lost and not recovered within the bounded retry budget. The caller
// should back off and reconnect later.
type UnreachableError struct {
	Op  string // operation or characteristic that failed
	Err error
}

func (e *UnreachableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("mount: device unreachable during %s", e.Op)
	}
	return fmt.Sprintf("mount: device unreachable during %s: %v", e.Op, e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// MismatchError means a write succeeded at the transport level but the
// read-back value differs from what was requested: the device silently
// clamped or rejected the input. Distinct from transport failure because
// the root cause is logical, not connectivity.
type MismatchError struct {
	Field    string
	Expected any
	Actual   any
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("mount: %s not saved: wrote %v, device reports %v", e.Field, e.Expected, e.Actual)
}

// UnsupportedError means the characteristic does not exist on the
// connected firmware. Not retried: the feature genuinely isn't there.
type UnsupportedError struct {
	Characteristic string
}

func (e *UnsupportedError) Error() string {
	return "mount: characteristic not supported: " + e.Characteristic
}
