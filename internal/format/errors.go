package format

import "errors"

var (
	// ErrTruncated indicates the buffer lacked the bytes required for a structure.
	ErrTruncated = errors.New("format: truncated buffer")
	// ErrBadGuard indicates a record's front or rear guard did not match.
	ErrBadGuard = errors.New("format: guard mismatch")
	// ErrBadSize indicates a record declared an impossible size.
	ErrBadSize = errors.New("format: bad record size")
	// ErrBadPolicy indicates a scan policy word with an unknown kind.
	ErrBadPolicy = errors.New("format: bad scan policy")
)
