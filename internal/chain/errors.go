package chain

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the engine and both front ends. Every value maps
// onto a status code the calling boot protocol already defines.
var (
	// ErrAddressOutOfRange is a caller error: the requested sector range
	// exceeds the declared image size. It is reported before any media access.
	ErrAddressOutOfRange = errors.New("address out of range")

	// ErrChunkTableExhausted means no chunk claims a sector inside the
	// declared image size. The disk layout is unknowable, so it is fatal.
	ErrChunkTableExhausted = errors.New("chunk table exhausted")

	// ErrMalformedChainHead is returned by Parse for any structural defect.
	ErrMalformedChainHead = errors.New("malformed chain head")

	// ErrWriteRejected is returned for every write attempt.
	ErrWriteRejected = errors.New("write rejected: virtual disk is read-only")
)

// ReadError reports a failing read of the underlying physical device. Err is
// the device error exactly as returned, so front ends can recover the native
// status code with errors.As.
type ReadError struct {
	LBA   uint64
	Count uint64
	Err   error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("underlying read of %d sectors at LBA %d failed: %v", e.Count, e.LBA, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedChainHead, fmt.Sprintf(format, args...))
}
