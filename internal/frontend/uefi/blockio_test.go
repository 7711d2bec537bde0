package uefi

import (
	"bytes"
	"testing"

	"github.com/google/uuid"

	"github.com/open-edge-platform/os-image-vdisk/internal/chain"
	"github.com/open-edge-platform/os-image-vdisk/internal/chunkmap"
)

// fakeRaw is a raw block device of 512-byte blocks unless bs says otherwise.
type fakeRaw struct {
	data     []byte
	bs       uint32
	reads    int
	failFrom uint64
	fail     Status
}

func newFakeRaw(blocks int) *fakeRaw {
	f := &fakeRaw{data: make([]byte, blocks*512)}
	for i := range f.data {
		f.data[i] = byte(i>>9) ^ byte(i*3)
	}
	return f
}

func (f *fakeRaw) BlockSize() uint32 {
	if f.bs == 0 {
		return 512
	}
	return f.bs
}

func (f *fakeRaw) ReadBlocks(lba uint64, dst []byte) Status {
	f.reads++
	bs := uint64(f.BlockSize())
	end := lba + uint64(len(dst))/bs
	if f.fail != Success && end > f.failFrom {
		return f.fail
	}
	copy(dst, f.data[lba*bs:end*bs])
	return Success
}

func (f *fakeRaw) blocks(lba, n uint64) []byte { return f.data[lba*512 : (lba+n)*512] }

func newTestBlockIO(t *testing.T, overrides []chain.OverrideChunk) (*BlockIO, *fakeRaw) {
	t.Helper()
	head := &chain.ChainHead{
		OSParam:         chain.OSParam{ImagePath: "/images/test.iso", ImageSize: 6 * 2048},
		DiskDrive:       0x80,
		DiskSectorSize:  512,
		ImageSectorSize: 2048,
		RealImageSize:   6 * 2048,
	}
	images := []chain.ImageChunk{
		{ImageStartSector: 0, ImageEndSector: 2, DiskStartSector: 40, DiskEndSector: 51},
		{ImageStartSector: 3, ImageEndSector: 5, DiskStartSector: 8, DiskEndSector: 19},
	}
	blob, err := chain.Serialize(head, images, overrides, nil, nil)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	view, err := chain.Parse(blob)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	tbl, err := chunkmap.New(view)
	if err != nil {
		t.Fatalf("chunkmap.New: %v", err)
	}
	raw := newFakeRaw(128)
	b, err := New(Config{MediaID: 7, Removable: true}, tbl, view.Head(), raw)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b, raw
}

func TestNew_BlockSizeMismatch(t *testing.T) {
	head := &chain.ChainHead{
		OSParam:         chain.OSParam{ImagePath: "/images/test.iso", ImageSize: 2048},
		DiskDrive:       0x80,
		DiskSectorSize:  512,
		ImageSectorSize: 2048,
		RealImageSize:   2048,
	}
	images := []chain.ImageChunk{{ImageStartSector: 0, ImageEndSector: 0, DiskStartSector: 8, DiskEndSector: 11}}
	blob, err := chain.Serialize(head, images, nil, nil, nil)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	view, err := chain.Parse(blob)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	tbl, err := chunkmap.New(view)
	if err != nil {
		t.Fatalf("chunkmap.New: %v", err)
	}

	for _, bs := range []uint32{1024, 4096} {
		raw := newFakeRaw(64)
		raw.bs = bs
		if _, err := New(Config{MediaID: 1}, tbl, view.Head(), raw); err == nil {
			t.Errorf("New accepted %d-byte raw blocks under 512-byte disk sectors", bs)
		}
	}
	if _, err := New(Config{MediaID: 1}, tbl, nil, newFakeRaw(64)); err == nil {
		t.Errorf("New accepted a nil chain head")
	}

	raw := newFakeRaw(64)
	b, err := New(Config{MediaID: 1}, tbl, view.Head(), raw)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	buf := make([]byte, 2048)
	if st := b.ReadBlocks(1, 0, buf); st != Success {
		t.Fatalf("ReadBlocks=%v want EFI_SUCCESS", st)
	}
	if !bytes.Equal(buf, raw.blocks(8, 4)) {
		t.Fatalf("ReadBlocks did not return disk sectors 8..11")
	}
}

func TestRawDevice_CountMismatch(t *testing.T) {
	dev := rawDevice{raw: newFakeRaw(8), blockSize: 512}
	err := dev.ReadSectors(0, 2, make([]byte, 512))
	if statusFor(err) != BadBufferSize {
		t.Fatalf("ReadSectors with a short buffer gave %v want EFI_BAD_BUFFER_SIZE", err)
	}
	if err := dev.ReadSectors(0, 2, make([]byte, 1024)); err != nil {
		t.Fatalf("ReadSectors: %v", err)
	}
}

func TestNew_Media(t *testing.T) {
	b, _ := newTestBlockIO(t, nil)
	m := b.Media()
	want := Media{
		MediaID:                       7,
		RemovableMedia:                true,
		MediaPresent:                  true,
		ReadOnly:                      true,
		BlockSize:                     2048,
		LastBlock:                     5,
		LogicalBlocksPerPhysicalBlock: 1,
	}
	if m != want {
		t.Fatalf("Media()=%+v want %+v", m, want)
	}
	if b.Revision != Revision3 {
		t.Fatalf("Revision=%#x want %#x", b.Revision, Revision3)
	}
}

func TestReadBlocks(t *testing.T) {
	b, raw := newTestBlockIO(t, []chain.OverrideChunk{chain.NewOverrideChunk(3*2048, []byte("PATCH"))})

	buf := make([]byte, 3*2048)
	if st := b.ReadBlocks(7, 2, buf); st != Success {
		t.Fatalf("ReadBlocks=%v want EFI_SUCCESS", st)
	}
	want := make([]byte, 0, len(buf))
	want = append(want, raw.blocks(48, 4)...)
	want = append(want, raw.blocks(8, 8)...)
	copy(want[2048:], "PATCH")
	if !bytes.Equal(buf, want) {
		t.Fatalf("ReadBlocks returned the wrong bytes")
	}
}

func TestReadBlocks_Status(t *testing.T) {
	tests := []struct {
		name    string
		mediaID uint32
		lba     uint64
		size    int
		fail    Status
		want    Status
	}{
		{name: "MediaChanged", mediaID: 8, lba: 0, size: 2048, want: MediaChanged},
		{name: "EmptyBuffer", mediaID: 7, lba: 0, size: 0, want: Success},
		{name: "PartialBlock", mediaID: 7, lba: 0, size: 2047, want: BadBufferSize},
		{name: "LastBlock", mediaID: 7, lba: 5, size: 2048, want: Success},
		{name: "PastLastBlock", mediaID: 7, lba: 6, size: 2048, want: InvalidParameter},
		{name: "CrossesEnd", mediaID: 7, lba: 4, size: 3 * 2048, want: InvalidParameter},
		{name: "RawStatusVerbatim", mediaID: 7, lba: 0, size: 2048, fail: NoMedia, want: NoMedia},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, raw := newTestBlockIO(t, nil)
			raw.fail = tt.fail
			if got := b.ReadBlocks(tt.mediaID, tt.lba, make([]byte, tt.size)); got != tt.want {
				t.Fatalf("ReadBlocks=%v want %v", got, tt.want)
			}
			if tt.want.IsError() && tt.fail == Success && raw.reads != 0 {
				t.Fatalf("rejected request reached the raw device")
			}
		})
	}
}

func TestWriteFlushReset(t *testing.T) {
	b, raw := newTestBlockIO(t, nil)
	if st := b.WriteBlocks(7, 0, make([]byte, 2048)); st != WriteProtected {
		t.Errorf("WriteBlocks=%v want EFI_WRITE_PROTECTED", st)
	}
	if st := b.WriteBlocks(9, 0, make([]byte, 2048)); st != MediaChanged {
		t.Errorf("WriteBlocks with stale media id=%v want EFI_MEDIA_CHANGED", st)
	}
	if st := b.FlushBlocks(); st != Success {
		t.Errorf("FlushBlocks=%v", st)
	}
	if st := b.Reset(true); st != Success {
		t.Errorf("Reset=%v", st)
	}
	if raw.reads != 0 {
		t.Errorf("write, flush and reset touched the raw device")
	}
}

func TestVendorDevicePath(t *testing.T) {
	guid := uuid.MustParse("00112233-4455-6677-8899-aabbccddeeff")
	wantGUID := []byte{0x33, 0x22, 0x11, 0x00, 0x55, 0x44, 0x77, 0x66, 0x88, 0x99, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	if g := GUIDBytes(guid); !bytes.Equal(g[:], wantGUID) {
		t.Fatalf("GUIDBytes=% x want % x", g, wantGUID)
	}

	parent := []byte{0x01, 0x01, 0x06, 0x00, 0x00, 0x02, 0x7F, 0xFF, 0x04, 0x00}
	got := VendorDevicePath(parent, guid, []byte{0xAB})

	want := []byte{0x01, 0x01, 0x06, 0x00, 0x00, 0x02, 0x04, 0x03, 21, 0x00}
	want = append(want, wantGUID...)
	want = append(want, 0xAB, 0x7F, 0xFF, 0x04, 0x00)
	if !bytes.Equal(got, want) {
		t.Fatalf("VendorDevicePath=\n% x\nwant\n% x", got, want)
	}

	if alone := VendorDevicePath(nil, guid, nil); len(alone) != 20+4 || alone[0] != 0x04 {
		t.Fatalf("rootless path=% x", alone)
	}
}

func TestStatus_String(t *testing.T) {
	tests := map[Status]string{
		Success:       "EFI_SUCCESS",
		MediaChanged:  "EFI_MEDIA_CHANGED",
		errorBit | 99: "EFI error 99",
		Status(2):     "EFI warning 2",
	}
	for st, want := range tests {
		if got := st.String(); got != want {
			t.Errorf("%#x.String()=%q want %q", uint64(st), got, want)
		}
	}
}
