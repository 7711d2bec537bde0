// Package builder produces chain blobs on the host: it locates an image file
// inside a FAT partition, turns its cluster chain into image chunks and
// serializes the chain head with the OS parameter block.
package builder

import (
	"errors"
	"fmt"
	"io"

	"github.com/open-edge-platform/os-image-vdisk/internal/chain"
	"github.com/open-edge-platform/os-image-vdisk/internal/chunkmap"
	"github.com/open-edge-platform/os-image-vdisk/internal/utils/logger"
)

var log = logger.Logger()

// Source is the host disk the image lives on.
type Source interface {
	io.ReaderAt
	chunkmap.Device
	PartitionTabler
	Size() int64
}

// Options controls Build.
type Options struct {
	// Partition is the 1-based partition holding the FAT filesystem. Zero
	// means the filesystem starts at sector 0 of the disk.
	Partition int
	// ImagePath is the path of the image file inside the filesystem.
	ImagePath string

	ImageSectorSize uint32
	DiskSectorSize  uint32
	DiskDrive       uint32
	DriveMap        uint32

	Overrides []chain.OverrideChunk
	Virtuals  []chain.VirtualChunk
	Memory    []byte

	// SkipBootCatalog leaves the El Torito catalog uncaptured.
	SkipBootCatalog bool
}

// Result is a built chain.
type Result struct {
	Blob      []byte
	Head      *chain.ChainHead
	Partition Partition
	Extents   []Extent
	Images    []chain.ImageChunk
}

// Build locates opts.ImagePath on src and assembles its chain blob.
func Build(src Source, opts Options) (*Result, error) {
	if opts.ImageSectorSize == 0 {
		opts.ImageSectorSize = chain.DefaultImageSectorSize
	}
	if opts.DiskSectorSize == 0 {
		opts.DiskSectorSize = chain.DefaultDiskSectorSize
	}
	if opts.ImageSectorSize%opts.DiskSectorSize != 0 {
		return nil, fmt.Errorf("image sector size %d is not a multiple of disk sector size %d", opts.ImageSectorSize, opts.DiskSectorSize)
	}

	var part Partition
	if opts.Partition > 0 {
		p, err := LocatePartition(src, opts.Partition)
		if err != nil {
			return nil, err
		}
		part = p
		log.Debugf("partition %d: sectors %d..%d type %s", p.Number, p.StartLBA, p.EndLBA, p.Type)
	}
	partOff := int64(part.StartLBA) * int64(opts.DiskSectorSize)

	extents, size, err := FileExtents(src, partOff, opts.ImagePath, opts.DiskSectorSize)
	if err != nil {
		return nil, fmt.Errorf("locate %s: %w", opts.ImagePath, err)
	}
	images, err := Coalesce(extents, opts.ImageSectorSize, opts.DiskSectorSize)
	if err != nil {
		return nil, err
	}
	log.Infof("%s: %d bytes in %d fragments, %d image chunks", opts.ImagePath, size, len(extents), len(images))

	head := &chain.ChainHead{
		OSParam: chain.OSParam{
			DiskGUID:      part.DiskGUID,
			DiskSize:      uint64(src.Size()),
			PartitionID:   uint16(part.Number),
			PartitionType: part.Scheme,
			ImagePath:     opts.ImagePath,
			ImageSize:     size,
		},
		DiskDrive:       opts.DiskDrive,
		DriveMap:        opts.DriveMap,
		DiskSectorSize:  opts.DiskSectorSize,
		ImageSectorSize: opts.ImageSectorSize,
		RealImageSize:   size,
	}
	// keep the tail sector of an unaligned image addressable
	if rem := size % uint64(opts.ImageSectorSize); rem != 0 {
		head.VirtImageSize = size + uint64(opts.ImageSectorSize) - rem
	}
	if _, err := src.ReadAt(head.OSParam.DiskSignature[:], 440); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read disk signature: %w", err)
	}

	ratio := uint64(opts.ImageSectorSize / opts.DiskSectorSize)
	if err := ValidateImageChunks(images, head.TotalSectors(), ratio); err != nil {
		return nil, err
	}
	if err := ValidateOverrides(opts.Overrides, head.ImageSize()); err != nil {
		return nil, err
	}
	memOff := chain.MemoryOffset(len(images), len(opts.Overrides), len(opts.Virtuals))
	if err := ValidateVirtualChunks(opts.Virtuals, memOff, len(opts.Memory), opts.ImageSectorSize); err != nil {
		return nil, err
	}

	blob, err := chain.Serialize(head, images, opts.Overrides, opts.Virtuals, opts.Memory)
	if err != nil {
		return nil, err
	}

	if !opts.SkipBootCatalog {
		view, err := chain.Parse(blob)
		if err != nil {
			return nil, err
		}
		tbl, err := chunkmap.New(view)
		if err != nil {
			return nil, err
		}
		lba, sector, err := ReadBootCatalog(tbl, src)
		switch {
		case errors.Is(err, ErrNoBootCatalog):
			log.Debugf("%s has no El Torito boot catalog", opts.ImagePath)
		case err != nil:
			return nil, err
		default:
			head.BootCatalog = lba
			copy(head.BootCatalogSector[:], sector)
			log.Infof("boot catalog at sector %d", lba)
			if blob, err = chain.Serialize(head, images, opts.Overrides, opts.Virtuals, opts.Memory); err != nil {
				return nil, err
			}
		}
	}

	return &Result{
		Blob:      blob,
		Head:      head,
		Partition: part,
		Extents:   extents,
		Images:    images,
	}, nil
}
