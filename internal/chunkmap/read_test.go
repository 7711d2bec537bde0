package chunkmap

import (
	"bytes"
	"errors"
	"testing"

	"github.com/open-edge-platform/os-image-vdisk/internal/chain"
)

// memDisk is a physical disk held in memory.
type memDisk struct {
	sectorSize uint64
	data       []byte
	failAt     uint64 // fail reads touching this LBA when non-zero
	calls      int
}

func newMemDisk(sectors, sectorSize uint64) *memDisk {
	d := &memDisk{sectorSize: sectorSize, data: make([]byte, sectors*sectorSize)}
	for i := range d.data {
		// each physical sector starts with its own LBA so misplaced reads show
		d.data[i] = byte(uint64(i)/sectorSize) ^ byte(i)
	}
	return d
}

var errMedia = errors.New("media error")

func (d *memDisk) ReadSectors(lba, count uint64, dst []byte) error {
	d.calls++
	if d.failAt != 0 && lba <= d.failAt && d.failAt < lba+count {
		return errMedia
	}
	if uint64(len(dst)) != count*d.sectorSize {
		return errors.New("dst length does not match sector count")
	}
	copy(dst, d.data[lba*d.sectorSize:(lba+count)*d.sectorSize])
	return nil
}

func (d *memDisk) sectors(lba, count uint64) []byte {
	return d.data[lba*d.sectorSize : (lba+count)*d.sectorSize]
}

func TestRead_AssemblesSegments(t *testing.T) {
	layout := virtualLayout()
	layout.overrides = []chain.OverrideChunk{chain.NewOverrideChunk(4*2048+10, []byte{0xEE, 0xEF})}
	tbl := newTable(t, layout)
	disk := newMemDisk(1024, 2048)

	buf := make([]byte, 24*2048)
	n, err := Read(tbl, disk, 0, 24, buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 24 {
		t.Fatalf("Read returned %d sectors, want 24", n)
	}

	want := make([]byte, 0, 24*2048)
	want = append(want, disk.sectors(100, 2)...)
	want = append(want, bytes.Repeat([]byte{0xA1}, 2048)...)
	want = append(want, disk.sectors(103, 7)...)
	want = append(want, disk.sectors(500, 10)...)
	want = append(want, bytes.Repeat([]byte{0xB2}, 2*2048)...)
	want = append(want, disk.sectors(108, 2)...)
	copy(want[4*2048+10:], []byte{0xEE, 0xEF})

	if !bytes.Equal(buf, want) {
		for i := range buf {
			if buf[i] != want[i] {
				t.Fatalf("first mismatch at byte %d (sector %d): got %#x want %#x", i, i/2048, buf[i], want[i])
			}
		}
	}
}

func TestRead_ManySegmentsBeyondBatch(t *testing.T) {
	var chunks []chain.ImageChunk
	for i := uint32(0); i < 3*segmentBatch; i++ {
		chunks = append(chunks, chain.ImageChunk{
			ImageStartSector: i, ImageEndSector: i,
			DiskStartSector: uint64(1000 - 4*i), DiskEndSector: uint64(1000 - 4*i + 3),
		})
	}
	tbl := newTable(t, tableLayout{imageSectorSize: 2048, diskSectorSize: 512, realSectors: 3 * segmentBatch, images: chunks})
	disk := newMemDisk(2048, 512)

	buf := make([]byte, 3*segmentBatch*2048)
	if _, err := Read(tbl, disk, 0, 3*segmentBatch, buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if disk.calls != 3*segmentBatch {
		t.Fatalf("device calls=%d want %d", disk.calls, 3*segmentBatch)
	}
	for i, c := range chunks {
		if !bytes.Equal(buf[i*2048:(i+1)*2048], disk.sectors(c.DiskStartSector, 4)) {
			t.Fatalf("sector %d does not hold disk sectors %d..%d", i, c.DiskStartSector, c.DiskEndSector)
		}
	}
}

func TestRead_PropagatesDeviceError(t *testing.T) {
	tbl := newTable(t, tableLayout{
		realSectors: 20,
		images: []chain.ImageChunk{
			{ImageStartSector: 0, ImageEndSector: 9, DiskStartSector: 100, DiskEndSector: 109},
			{ImageStartSector: 10, ImageEndSector: 19, DiskStartSector: 500, DiskEndSector: 509},
		},
		overrides: []chain.OverrideChunk{chain.NewOverrideChunk(0, []byte{0xFF})},
	})
	disk := newMemDisk(1024, 2048)
	disk.failAt = 502

	buf := make([]byte, 20*2048)
	n, err := Read(tbl, disk, 0, 20, buf)
	if !errors.Is(err, errMedia) {
		t.Fatalf("err=%v want wrapping the device error", err)
	}
	var re *chain.ReadError
	if !errors.As(err, &re) || re.LBA != 500 || re.Count != 10 {
		t.Fatalf("err=%v want *chain.ReadError{LBA: 500, Count: 10}", err)
	}
	if n != 10 {
		t.Fatalf("sectors filled=%d want 10", n)
	}
	if buf[0] == 0xFF {
		t.Fatalf("overrides must not be applied to a failed read")
	}
}

func TestRead_Errors(t *testing.T) {
	tbl := newTable(t, tableLayout{
		realSectors: 4,
		images:      []chain.ImageChunk{{ImageStartSector: 0, ImageEndSector: 3, DiskStartSector: 0, DiskEndSector: 3}},
	})
	disk := newMemDisk(8, 2048)

	if _, err := Read(tbl, disk, 0, 2, make([]byte, 2047)); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("short buffer err=%v want ErrShortBuffer", err)
	}
	if _, err := Read(tbl, disk, 3, 2, make([]byte, 2*2048)); !errors.Is(err, chain.ErrAddressOutOfRange) {
		t.Errorf("out of range err=%v want ErrAddressOutOfRange", err)
	}
	if disk.calls != 0 {
		t.Errorf("rejected requests touched the device %d times", disk.calls)
	}
}

func TestDeviceFunc(t *testing.T) {
	var got uint64
	dev := DeviceFunc(func(lba, count uint64, dst []byte) error {
		got = lba
		return nil
	})
	if err := dev.ReadSectors(42, 1, nil); err != nil || got != 42 {
		t.Fatalf("DeviceFunc did not forward the call: lba=%d err=%v", got, err)
	}
}
