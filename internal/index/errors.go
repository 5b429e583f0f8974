package index

import (
	"errors"
	"syscall"
)

var (
	// ErrIndexUnavailable wraps transport-level failures reaching the index.
	ErrIndexUnavailable = errors.New("index unavailable")
	// ErrFatalTransport marks local transport corruption that cannot be retried.
	ErrFatalTransport = errors.New("fatal transport error")
)

// IsFatal reports whether err means the local transport is corrupt (bad
// descriptor, bad buffer address, unsupported operation). Everything else is
// treated as transient.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrFatalTransport) ||
		errors.Is(err, syscall.EBADF) ||
		errors.Is(err, syscall.EFAULT) ||
		errors.Is(err, syscall.ENOTSUP) ||
		errors.Is(err, syscall.EOPNOTSUPP)
}
