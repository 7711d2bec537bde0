package bios

import (
	"errors"
	"fmt"

	"github.com/open-edge-platform/os-image-vdisk/internal/chain"
	"github.com/open-edge-platform/os-image-vdisk/internal/chunkmap"
)

// Status is an INT 13h status code, returned in AH. The carry flag is set
// whenever it is non-zero.
type Status uint8

// INT 13h status codes
const (
	StatusSuccess          Status = 0x00
	StatusInvalidParameter Status = 0x01
	StatusAddressMark      Status = 0x02
	StatusWriteProtected   Status = 0x03
	StatusSectorNotFound   Status = 0x04
	StatusResetFailed      Status = 0x05
	StatusDMABoundary      Status = 0x09
	StatusBadSector        Status = 0x0A
	StatusMediaType        Status = 0x0C
	StatusControllerFail   Status = 0x20
	StatusSeekFailed       Status = 0x40
	StatusTimeout          Status = 0x80
	StatusNotReady         Status = 0xAA
	StatusUndefined        Status = 0xBB
	StatusSenseFailed      Status = 0xFF
)

var statusNames = map[Status]string{
	StatusSuccess:          "success",
	StatusInvalidParameter: "invalid function or parameter",
	StatusAddressMark:      "address mark not found",
	StatusWriteProtected:   "write protected",
	StatusSectorNotFound:   "sector not found",
	StatusResetFailed:      "reset failed",
	StatusDMABoundary:      "data boundary error",
	StatusBadSector:        "bad sector",
	StatusMediaType:        "unsupported track or invalid media",
	StatusControllerFail:   "controller failure",
	StatusSeekFailed:       "seek failed",
	StatusTimeout:          "timeout",
	StatusNotReady:         "drive not ready",
	StatusUndefined:        "undefined error",
	StatusSenseFailed:      "sense operation failed",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return fmt.Sprintf("%02Xh (%s)", uint8(s), n)
	}
	return fmt.Sprintf("%02Xh", uint8(s))
}

// DriveError carries the status an underlying drive returned, verbatim.
type DriveError struct {
	Drive  uint8
	Status Status
}

func (e *DriveError) Error() string {
	return fmt.Sprintf("drive %02Xh: %s", e.Drive, e.Status)
}

// statusFor maps an engine error onto the INT 13h convention.
func statusFor(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var de *DriveError
	switch {
	case errors.As(err, &de):
		return de.Status
	case errors.Is(err, chain.ErrAddressOutOfRange):
		return StatusSectorNotFound
	case errors.Is(err, chain.ErrWriteRejected):
		return StatusWriteProtected
	case errors.Is(err, chunkmap.ErrShortBuffer):
		return StatusInvalidParameter
	default:
		// chunk table exhausted and anything unforeseen
		return StatusUndefined
	}
}
