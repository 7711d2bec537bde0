// Package uefi serves a chunk-mapped virtual disk as an
// EFI_BLOCK_IO_PROTOCOL instance over the raw block device of the disk that
// holds the image.
package uefi

import (
	"fmt"

	"github.com/open-edge-platform/os-image-vdisk/internal/chain"
	"github.com/open-edge-platform/os-image-vdisk/internal/chunkmap"
)

// Block I/O protocol revisions
const (
	Revision  uint64 = 0x00010000
	Revision2 uint64 = 0x00020001
	Revision3 uint64 = 0x0002001F
)

// Media mirrors EFI_BLOCK_IO_MEDIA up to revision 3.
type Media struct {
	MediaID          uint32 `json:"mediaId" yaml:"mediaId"`
	RemovableMedia   bool   `json:"removableMedia" yaml:"removableMedia"`
	MediaPresent     bool   `json:"mediaPresent" yaml:"mediaPresent"`
	LogicalPartition bool   `json:"logicalPartition" yaml:"logicalPartition"`
	ReadOnly         bool   `json:"readOnly" yaml:"readOnly"`
	WriteCaching     bool   `json:"writeCaching" yaml:"writeCaching"`
	BlockSize        uint32 `json:"blockSize" yaml:"blockSize"`
	IoAlign          uint32 `json:"ioAlign" yaml:"ioAlign"`
	LastBlock        uint64 `json:"lastBlock" yaml:"lastBlock"`

	LowestAlignedLba                 uint64 `json:"lowestAlignedLba" yaml:"lowestAlignedLba"`
	LogicalBlocksPerPhysicalBlock    uint32 `json:"logicalBlocksPerPhysicalBlock" yaml:"logicalBlocksPerPhysicalBlock"`
	OptimalTransferLengthGranularity uint32 `json:"optimalTransferLengthGranularity" yaml:"optimalTransferLengthGranularity"`
}

// BlockDevice is the raw Block I/O of the disk holding the image. ReadBlocks
// fills dst, a whole number of blocks, starting at lba.
type BlockDevice interface {
	BlockSize() uint32
	ReadBlocks(lba uint64, dst []byte) Status
}

// Config selects the identity of the published media.
type Config struct {
	MediaID   uint32
	Removable bool
}

// BlockIO is the virtual disk's block I/O protocol instance.
type BlockIO struct {
	Revision uint64
	media    Media
	mapper   chunkmap.Mapper
	dev      rawDevice
}

// New publishes m over raw. The apparent sector size becomes the block size.
// The raw device must use the disk sector size the chain was built for,
// since resolved segments are addressed in those units.
func New(cfg Config, m chunkmap.Mapper, head *chain.ChainHead, raw BlockDevice) (*BlockIO, error) {
	if m == nil || head == nil || raw == nil {
		return nil, fmt.Errorf("uefi: mapper, chain head and raw block device are required")
	}
	bs := raw.BlockSize()
	if bs == 0 || bs != head.DiskSectorSize {
		return nil, fmt.Errorf("uefi: raw block size %d does not match disk sector size %d", bs, head.DiskSectorSize)
	}
	if m.SectorSize()%bs != 0 {
		return nil, fmt.Errorf("uefi: sector size %d is not a multiple of raw block size %d", m.SectorSize(), bs)
	}
	if m.TotalSectors() == 0 {
		return nil, fmt.Errorf("%w: image has no sectors", chain.ErrMalformedChainHead)
	}
	return &BlockIO{
		Revision: Revision3,
		media: Media{
			MediaID:                       cfg.MediaID,
			RemovableMedia:                cfg.Removable,
			MediaPresent:                  true,
			ReadOnly:                      true,
			BlockSize:                     m.SectorSize(),
			LastBlock:                     m.TotalSectors() - 1,
			LogicalBlocksPerPhysicalBlock: 1,
		},
		mapper: m,
		dev:    rawDevice{raw: raw, blockSize: uint64(bs)},
	}, nil
}

// Media returns the media descriptor.
func (b *BlockIO) Media() Media { return b.media }

// Reset has nothing to reinitialise.
func (b *BlockIO) Reset(extendedVerification bool) Status { return Success }

// ReadBlocks reads len(buf) bytes starting at block lba.
func (b *BlockIO) ReadBlocks(mediaID uint32, lba uint64, buf []byte) Status {
	if mediaID != b.media.MediaID {
		return MediaChanged
	}
	if len(buf) == 0 {
		return Success
	}
	bs := uint64(b.media.BlockSize)
	if uint64(len(buf))%bs != 0 {
		return BadBufferSize
	}
	count := uint64(len(buf)) / bs
	if lba > b.media.LastBlock || count > b.media.LastBlock+1-lba {
		return InvalidParameter
	}
	_, err := chunkmap.Read(b.mapper, b.dev, lba, count, buf)
	return statusFor(err)
}

// WriteBlocks always fails: the virtual disk is read-only.
func (b *BlockIO) WriteBlocks(mediaID uint32, lba uint64, buf []byte) Status {
	if mediaID != b.media.MediaID {
		return MediaChanged
	}
	return WriteProtected
}

// FlushBlocks has nothing to flush.
func (b *BlockIO) FlushBlocks() Status { return Success }

type rawDevice struct {
	raw       BlockDevice
	blockSize uint64
}

func (r rawDevice) ReadSectors(lba, count uint64, dst []byte) error {
	if uint64(len(dst)) != count*r.blockSize {
		return &RawError{Status: BadBufferSize}
	}
	if st := r.raw.ReadBlocks(lba, dst); st != Success {
		return &RawError{Status: st}
	}
	return nil
}
