package hostdisk

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/open-edge-platform/os-image-vdisk/internal/frontend/bios"
	"github.com/open-edge-platform/os-image-vdisk/internal/frontend/uefi"
)

func writeDisk(t *testing.T, sectors int) (string, []byte) {
	t.Helper()
	data := make([]byte, sectors*512)
	for i := range data {
		data[i] = byte(i>>9) ^ byte(i)
	}
	p := filepath.Join(t.TempDir(), "disk.img")
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatalf("write disk: %v", err)
	}
	return p, data
}

func openTestDisk(t *testing.T, sectors int) (*Disk, []byte) {
	t.Helper()
	p, data := writeDisk(t, sectors)
	d, err := Open(p, 512)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d, data
}

func TestOpen(t *testing.T) {
	d, _ := openTestDisk(t, 64)
	if d.Size() != 64*512 || d.Sectors() != 64 || d.BlockSize() != 512 {
		t.Fatalf("size=%d sectors=%d block=%d", d.Size(), d.Sectors(), d.BlockSize())
	}
	if _, err := Open(filepath.Join(t.TempDir(), "missing.img"), 512); err == nil {
		t.Fatalf("expected error for a missing file")
	}
	p, _ := writeDisk(t, 1)
	if _, err := Open(p, 520); err == nil {
		t.Fatalf("expected error for a non power of two sector size")
	}
}

func TestReadSectors(t *testing.T) {
	d, data := openTestDisk(t, 64)

	dst := make([]byte, 3*512)
	if err := d.ReadSectors(10, 3, dst); err != nil {
		t.Fatalf("ReadSectors: %v", err)
	}
	if !bytes.Equal(dst, data[10*512:13*512]) {
		t.Fatalf("ReadSectors returned the wrong bytes")
	}
	if err := d.ReadSectors(62, 3, make([]byte, 3*512)); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("err=%v want ErrOutOfRange", err)
	}
	if err := d.ReadSectors(0, 2, make([]byte, 512)); err == nil {
		t.Fatalf("expected error for a short destination")
	}
}

func TestReadBlocks(t *testing.T) {
	d, data := openTestDisk(t, 16)

	dst := make([]byte, 1024)
	if st := d.ReadBlocks(4, dst); st != uefi.Success || !bytes.Equal(dst, data[4*512:6*512]) {
		t.Fatalf("ReadBlocks=%v", st)
	}
	if st := d.ReadBlocks(0, make([]byte, 100)); st != uefi.BadBufferSize {
		t.Fatalf("partial block=%v want EFI_BAD_BUFFER_SIZE", st)
	}
	if st := d.ReadBlocks(16, make([]byte, 512)); st != uefi.InvalidParameter {
		t.Fatalf("past end=%v want EFI_INVALID_PARAMETER", st)
	}
}

func TestDrive(t *testing.T) {
	d, data := openTestDisk(t, 16)
	drive := d.Drive(0x80)

	dst := make([]byte, 512)
	if st := drive.ExtendedRead(0x80, 7, 1, dst); st != bios.StatusSuccess || !bytes.Equal(dst, data[7*512:8*512]) {
		t.Fatalf("ExtendedRead=%v", st)
	}
	if st := drive.ExtendedRead(0x81, 7, 1, dst); st != bios.StatusInvalidParameter {
		t.Fatalf("wrong drive=%v want 01h", st)
	}
	if st := drive.ExtendedRead(0x80, 16, 1, dst); st != bios.StatusSectorNotFound {
		t.Fatalf("past end=%v want 04h", st)
	}
}

func TestGetPartitionTable_NoTable(t *testing.T) {
	d, _ := openTestDisk(t, 64)
	if _, err := d.GetPartitionTable(); err == nil {
		t.Fatalf("expected error for a disk without a partition table")
	}
}
