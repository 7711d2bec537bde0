// Package chain defines the hand-off structure between the loading stage and
// the boot-time disk emulation stage: the chunk records, the OS compatibility
// parameter block and the Chain Head, together with their packed
// little-endian binary codec.
//
// Chain head layout (version 1, all integers little-endian, no padding):
//
//	off   size  field
//	0     4     magic "VDCH"
//	4     2     version
//	6     2     reserved
//	8     4     head size (2640 for version 1)
//	12    512   OS parameter block
//	524   4     underlying BIOS disk drive
//	528   4     drive map
//	532   4     disk sector size
//	536   4     image sector size
//	540   8     real image size in bytes
//	548   8     virtual image size in bytes (0: same as real)
//	556   4     El Torito boot catalog LBA (0: none)
//	560   2048  boot catalog sector image
//	2608  8     image chunk table (offset, count)
//	2616  8     override chunk table (offset, count)
//	2624  8     virtual chunk table (offset, count)
//	2632  8     memory region (offset, length)
//
// All offsets are relative to the start of the blob.
package chain

import (
	"encoding/binary"

	"github.com/google/uuid"
)

const (
	// Version is the chain head version written by Serialize.
	Version uint16 = 1

	// HeadSize is the size of the version 1 chain head.
	HeadSize = 2640

	// OSParamSize is the size of the OS compatibility parameter block.
	OSParamSize = 512

	// BootCatalogSize is the size of the captured boot catalog sector.
	BootCatalogSize = 2048

	// ImagePathSize is the size of the NUL-padded image path field.
	ImagePathSize = 384

	DefaultImageSectorSize = 2048
	DefaultDiskSectorSize  = 512
)

// Magic opens every chain head.
var Magic = [4]byte{'V', 'D', 'C', 'H'}

// OSParamGUID identifies a valid OS parameter block. OS-side helpers scan
// memory for it.
var OSParamGUID = uuid.MustParse("c2f9a0e4-6b1d-4d7a-9b3e-5a8c0f1d2e47")

// headSizes records the head size of every version Parse understands.
var headSizes = map[uint16]uint32{
	1: HeadSize,
}

// header field offsets
const (
	offMagic        = 0
	offVersion      = 4
	offHeadSize     = 8
	offOSParam      = 12
	offDiskDrive    = 524
	offDriveMap     = 528
	offDiskSector   = 532
	offImageSector  = 536
	offRealSize     = 540
	offVirtSize     = 548
	offBootCatalog  = 556
	offCatalogData  = 560
	offImageTable   = 2608
	offOverrideTbl  = 2616
	offVirtualTable = 2624
	offMemory       = 2632
)

// OSParam is the compatibility parameter block read by OS-side helpers to
// find the physical disk and image the virtual disk was built from.
type OSParam struct {
	DiskGUID          uuid.UUID `json:"diskGuid" yaml:"diskGuid"`
	DiskSize          uint64    `json:"diskSize" yaml:"diskSize"`
	PartitionID       uint16    `json:"partitionId" yaml:"partitionId"`
	PartitionType     uint16    `json:"partitionType" yaml:"partitionType"`
	ImagePath         string    `json:"imagePath" yaml:"imagePath"`
	ImageSize         uint64    `json:"imageSize" yaml:"imageSize"`
	ImageLocationAddr uint64    `json:"imageLocationAddr,omitempty" yaml:"imageLocationAddr,omitempty"`
	ImageLocationLen  uint32    `json:"imageLocationLen,omitempty" yaml:"imageLocationLen,omitempty"`
	DiskSignature     [4]byte   `json:"diskSignature" yaml:"diskSignature"`
}

// OS parameter block field offsets
const (
	opGUID      = 0
	opChecksum  = 16
	opDiskGUID  = 17
	opDiskSize  = 33
	opPartID    = 41
	opPartType  = 43
	opImagePath = 45
	opImageSize = 429
	opLocAddr   = 437
	opLocLen    = 445
	opDiskSig   = 481
)

func (p *OSParam) put(b []byte) {
	b = b[:OSParamSize]
	clear(b)
	copy(b[opGUID:], OSParamGUID[:])
	copy(b[opDiskGUID:], p.DiskGUID[:])
	binary.LittleEndian.PutUint64(b[opDiskSize:], p.DiskSize)
	binary.LittleEndian.PutUint16(b[opPartID:], p.PartitionID)
	binary.LittleEndian.PutUint16(b[opPartType:], p.PartitionType)
	copy(b[opImagePath:opImagePath+ImagePathSize-1], p.ImagePath)
	binary.LittleEndian.PutUint64(b[opImageSize:], p.ImageSize)
	binary.LittleEndian.PutUint64(b[opLocAddr:], p.ImageLocationAddr)
	binary.LittleEndian.PutUint32(b[opLocLen:], p.ImageLocationLen)
	copy(b[opDiskSig:], p.DiskSignature[:])
	b[opChecksum] = -checksum(b)
}

func decodeOSParam(b []byte) (OSParam, error) {
	b = b[:OSParamSize]
	var p OSParam
	if [16]byte(b[opGUID:opGUID+16]) != OSParamGUID {
		return p, malformed("os parameter block magic mismatch")
	}
	if checksum(b) != 0 {
		return p, malformed("os parameter block checksum mismatch")
	}
	copy(p.DiskGUID[:], b[opDiskGUID:opDiskGUID+16])
	p.DiskSize = binary.LittleEndian.Uint64(b[opDiskSize:])
	p.PartitionID = binary.LittleEndian.Uint16(b[opPartID:])
	p.PartitionType = binary.LittleEndian.Uint16(b[opPartType:])
	path := b[opImagePath : opImagePath+ImagePathSize]
	for i, c := range path {
		if c == 0 {
			path = path[:i]
			break
		}
	}
	p.ImagePath = string(path)
	p.ImageSize = binary.LittleEndian.Uint64(b[opImageSize:])
	p.ImageLocationAddr = binary.LittleEndian.Uint64(b[opLocAddr:])
	p.ImageLocationLen = binary.LittleEndian.Uint32(b[opLocLen:])
	copy(p.DiskSignature[:], b[opDiskSig:opDiskSig+4])
	return p, nil
}

// checksum sums every byte modulo 256. A sealed block sums to zero.
func checksum(b []byte) byte {
	var sum byte
	for _, c := range b {
		sum += c
	}
	return sum
}

// ChainHead describes the image geometry and the physical disk behind it.
// One instance exists per boot session and is never mutated after Serialize.
type ChainHead struct {
	OSParam OSParam `json:"osParam" yaml:"osParam"`

	// DiskDrive is the BIOS drive number of the underlying physical disk.
	DiskDrive uint32 `json:"diskDrive" yaml:"diskDrive"`
	// DriveMap, when non-zero, is a BIOS drive number redirected to DiskDrive
	// once the virtual disk has taken the physical disk's number.
	DriveMap uint32 `json:"driveMap" yaml:"driveMap"`

	DiskSectorSize  uint32 `json:"diskSectorSize" yaml:"diskSectorSize"`
	ImageSectorSize uint32 `json:"imageSectorSize" yaml:"imageSectorSize"`

	RealImageSize uint64 `json:"realImageSize" yaml:"realImageSize"`
	VirtImageSize uint64 `json:"virtImageSize" yaml:"virtImageSize"`

	BootCatalog       uint32                `json:"bootCatalog" yaml:"bootCatalog"`
	BootCatalogSector [BootCatalogSize]byte `json:"-" yaml:"-"`
}

// ImageSize returns the declared apparent image size in bytes.
func (h *ChainHead) ImageSize() uint64 {
	if h.VirtImageSize != 0 {
		return h.VirtImageSize
	}
	return h.RealImageSize
}

// TotalSectors returns the declared image size in image sectors.
func (h *ChainHead) TotalSectors() uint64 {
	if h.ImageSectorSize == 0 {
		return 0
	}
	return h.ImageSize() / uint64(h.ImageSectorSize)
}
