package uefi

import (
	"errors"
	"fmt"

	"github.com/open-edge-platform/os-image-vdisk/internal/chain"
	"github.com/open-edge-platform/os-image-vdisk/internal/chunkmap"
)

// Status is an EFI_STATUS. Error codes have the high bit set.
type Status uint64

const errorBit Status = 1 << 63

// EFI status codes
const (
	Success          Status = 0
	LoadError        Status = errorBit | 1
	InvalidParameter Status = errorBit | 2
	Unsupported      Status = errorBit | 3
	BadBufferSize    Status = errorBit | 4
	BufferTooSmall   Status = errorBit | 5
	NotReady         Status = errorBit | 6
	DeviceError      Status = errorBit | 7
	WriteProtected   Status = errorBit | 8
	OutOfResources   Status = errorBit | 9
	VolumeCorrupted  Status = errorBit | 10
	VolumeFull       Status = errorBit | 11
	NoMedia          Status = errorBit | 12
	MediaChanged     Status = errorBit | 13
	NotFound         Status = errorBit | 14
)

var statusNames = map[Status]string{
	Success:          "EFI_SUCCESS",
	LoadError:        "EFI_LOAD_ERROR",
	InvalidParameter: "EFI_INVALID_PARAMETER",
	Unsupported:      "EFI_UNSUPPORTED",
	BadBufferSize:    "EFI_BAD_BUFFER_SIZE",
	BufferTooSmall:   "EFI_BUFFER_TOO_SMALL",
	NotReady:         "EFI_NOT_READY",
	DeviceError:      "EFI_DEVICE_ERROR",
	WriteProtected:   "EFI_WRITE_PROTECTED",
	OutOfResources:   "EFI_OUT_OF_RESOURCES",
	VolumeCorrupted:  "EFI_VOLUME_CORRUPTED",
	VolumeFull:       "EFI_VOLUME_FULL",
	NoMedia:          "EFI_NO_MEDIA",
	MediaChanged:     "EFI_MEDIA_CHANGED",
	NotFound:         "EFI_NOT_FOUND",
}

// IsError reports whether s is an error code.
func (s Status) IsError() bool { return s&errorBit != 0 }

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	if s.IsError() {
		return fmt.Sprintf("EFI error %d", uint64(s&^errorBit))
	}
	return fmt.Sprintf("EFI warning %d", uint64(s))
}

// RawError carries the status the raw block device returned, verbatim.
type RawError struct {
	Status Status
}

func (e *RawError) Error() string { return "raw block read: " + e.Status.String() }

func statusFor(err error) Status {
	if err == nil {
		return Success
	}
	var re *RawError
	switch {
	case errors.As(err, &re):
		return re.Status
	case errors.Is(err, chain.ErrAddressOutOfRange):
		return InvalidParameter
	case errors.Is(err, chain.ErrWriteRejected):
		return WriteProtected
	case errors.Is(err, chunkmap.ErrShortBuffer):
		return BadBufferSize
	default:
		return DeviceError
	}
}
