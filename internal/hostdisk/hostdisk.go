// Package hostdisk reads physical sectors from a disk image or block device
// file on the host. One Disk serves as the underlying device for the engine,
// as a BIOS drive and as a raw UEFI block device.
package hostdisk

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	diskfs "github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/disk"
	"github.com/diskfs/go-diskfs/partition"

	"github.com/open-edge-platform/os-image-vdisk/internal/frontend/bios"
	"github.com/open-edge-platform/os-image-vdisk/internal/frontend/uefi"
	"github.com/open-edge-platform/os-image-vdisk/internal/utils/logger"
)

var log = logger.Logger()

// ErrOutOfRange is returned for reads past the end of the disk.
var ErrOutOfRange = errors.New("read past end of disk")

// Disk is a read-only host disk of fixed-size sectors.
type Disk struct {
	path       string
	f          *os.File
	size       int64
	sectorSize uint32

	mu sync.Mutex
	fs *disk.Disk // opened on first partition table lookup
}

// Open opens path read-only with the given sector size.
func Open(path string, sectorSize uint32) (*Disk, error) {
	if sectorSize == 0 || sectorSize&(sectorSize-1) != 0 {
		return nil, fmt.Errorf("sector size %d is not a power of two", sectorSize)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open disk: %w", err)
	}
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("size disk: %w", err)
	}
	log.Debugf("opened %s: %d bytes, %d byte sectors", path, size, sectorSize)
	return &Disk{path: path, f: f, size: size, sectorSize: sectorSize}, nil
}

// Close releases the file and any go-diskfs handle.
func (d *Disk) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var errs []error
	if d.fs != nil {
		errs = append(errs, d.fs.Close())
		d.fs = nil
	}
	errs = append(errs, d.f.Close())
	return errors.Join(errs...)
}

// Path returns the file the disk was opened from.
func (d *Disk) Path() string { return d.path }

// Size returns the disk size in bytes.
func (d *Disk) Size() int64 { return d.size }

// Sectors returns the number of whole sectors.
func (d *Disk) Sectors() uint64 { return uint64(d.size) / uint64(d.sectorSize) }

// ReadAt reads raw bytes; it lets filesystem readers walk the disk.
func (d *Disk) ReadAt(p []byte, off int64) (int, error) { return d.f.ReadAt(p, off) }

// ReadSectors reads count sectors at lba into dst.
func (d *Disk) ReadSectors(lba, count uint64, dst []byte) error {
	if lba > d.Sectors() || count > d.Sectors()-lba {
		return fmt.Errorf("%w: sectors [%d, %d) of %d", ErrOutOfRange, lba, lba+count, d.Sectors())
	}
	n := count * uint64(d.sectorSize)
	if uint64(len(dst)) < n {
		return fmt.Errorf("destination holds %d bytes, need %d", len(dst), n)
	}
	if _, err := d.f.ReadAt(dst[:n], int64(lba)*int64(d.sectorSize)); err != nil {
		return fmt.Errorf("read sectors [%d, %d): %w", lba, lba+count, err)
	}
	return nil
}

// GetPartitionTable reads the partition table through go-diskfs.
func (d *Disk) GetPartitionTable() (partition.Table, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fs == nil {
		fs, err := diskfs.Open(d.path)
		if err != nil {
			return nil, fmt.Errorf("open disk image: %w", err)
		}
		d.fs = fs
	}
	return d.fs.GetPartitionTable()
}

// BlockSize implements uefi.BlockDevice.
func (d *Disk) BlockSize() uint32 { return d.sectorSize }

// ReadBlocks implements uefi.BlockDevice.
func (d *Disk) ReadBlocks(lba uint64, dst []byte) uefi.Status {
	if uint64(len(dst))%uint64(d.sectorSize) != 0 {
		return uefi.BadBufferSize
	}
	err := d.ReadSectors(lba, uint64(len(dst))/uint64(d.sectorSize), dst)
	switch {
	case err == nil:
		return uefi.Success
	case errors.Is(err, ErrOutOfRange):
		return uefi.InvalidParameter
	default:
		log.Errorf("raw block read at %d: %v", lba, err)
		return uefi.DeviceError
	}
}

// Drive presents the disk as the real BIOS drive with the given number.
func (d *Disk) Drive(number uint8) bios.Drive { return biosDrive{d: d, number: number} }

type biosDrive struct {
	d      *Disk
	number uint8
}

func (b biosDrive) ExtendedRead(drive uint8, lba uint64, count uint16, dst []byte) bios.Status {
	if drive != b.number {
		return bios.StatusInvalidParameter
	}
	err := b.d.ReadSectors(lba, uint64(count), dst)
	switch {
	case err == nil:
		return bios.StatusSuccess
	case errors.Is(err, ErrOutOfRange):
		return bios.StatusSectorNotFound
	default:
		log.Errorf("drive %02Xh read at %d: %v", drive, lba, err)
		return bios.StatusBadSector
	}
}
