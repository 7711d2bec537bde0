package chain

import (
	"encoding/binary"
	"fmt"
	"math"
)

// tableRef locates one packed table inside the blob.
type tableRef struct {
	off   uint32
	count uint32
}

func (t tableRef) put(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], t.off)
	binary.LittleEndian.PutUint32(b[4:8], t.count)
}

func decodeTableRef(b []byte) tableRef {
	return tableRef{
		off:   binary.LittleEndian.Uint32(b[0:4]),
		count: binary.LittleEndian.Uint32(b[4:8]),
	}
}

// Serialize lays out head, the three chunk tables and the memory region as
// one contiguous, position-independent blob. Tables follow the head in the
// order image, override, virtual; memory comes last. VirtualChunk memory
// offsets are relative to the blob base, so callers building virtual chunks
// place their data with MemoryOffset.
func Serialize(head *ChainHead, images []ImageChunk, overrides []OverrideChunk, virtuals []VirtualChunk, memory []byte) ([]byte, error) {
	if head == nil {
		return nil, fmt.Errorf("serialize chain head: head is nil")
	}
	if len(head.OSParam.ImagePath) >= ImagePathSize {
		return nil, fmt.Errorf("serialize chain head: image path is %d bytes, limit %d", len(head.OSParam.ImagePath), ImagePathSize-1)
	}
	for i := range overrides {
		if overrides[i].Size > OverrideDataSize {
			return nil, fmt.Errorf("serialize chain head: override %d size %d exceeds %d", i, overrides[i].Size, OverrideDataSize)
		}
	}

	imgRef := tableRef{off: HeadSize, count: uint32(len(images))}
	ovrOff := uint64(imgRef.off) + uint64(len(images))*ImageChunkSize
	virtOff := ovrOff + uint64(len(overrides))*OverrideChunkSize
	memOff := virtOff + uint64(len(virtuals))*VirtualChunkSize
	total := memOff + uint64(len(memory))
	if total > math.MaxUint32 {
		return nil, fmt.Errorf("serialize chain head: blob of %d bytes exceeds 32-bit offsets", total)
	}

	buf := make([]byte, total)
	copy(buf[offMagic:], Magic[:])
	binary.LittleEndian.PutUint16(buf[offVersion:], Version)
	binary.LittleEndian.PutUint32(buf[offHeadSize:], HeadSize)
	head.OSParam.put(buf[offOSParam:])
	binary.LittleEndian.PutUint32(buf[offDiskDrive:], head.DiskDrive)
	binary.LittleEndian.PutUint32(buf[offDriveMap:], head.DriveMap)
	binary.LittleEndian.PutUint32(buf[offDiskSector:], head.DiskSectorSize)
	binary.LittleEndian.PutUint32(buf[offImageSector:], head.ImageSectorSize)
	binary.LittleEndian.PutUint64(buf[offRealSize:], head.RealImageSize)
	binary.LittleEndian.PutUint64(buf[offVirtSize:], head.VirtImageSize)
	binary.LittleEndian.PutUint32(buf[offBootCatalog:], head.BootCatalog)
	copy(buf[offCatalogData:offCatalogData+BootCatalogSize], head.BootCatalogSector[:])

	imgRef.put(buf[offImageTable:])
	tableRef{off: uint32(ovrOff), count: uint32(len(overrides))}.put(buf[offOverrideTbl:])
	tableRef{off: uint32(virtOff), count: uint32(len(virtuals))}.put(buf[offVirtualTable:])
	tableRef{off: uint32(memOff), count: uint32(len(memory))}.put(buf[offMemory:])

	for i, c := range images {
		c.put(buf[HeadSize+i*ImageChunkSize:])
	}
	for i := range overrides {
		overrides[i].put(buf[ovrOff+uint64(i)*OverrideChunkSize:])
	}
	for i, v := range virtuals {
		v.put(buf[virtOff+uint64(i)*VirtualChunkSize:])
	}
	copy(buf[memOff:], memory)

	return buf, nil
}

// MemoryOffset returns the blob offset at which Serialize places the memory
// region for the given table sizes. It is the base for
// VirtualChunk.MemSectorOffset values.
func MemoryOffset(images, overrides, virtuals int) uint32 {
	return uint32(HeadSize + images*ImageChunkSize + overrides*OverrideChunkSize + virtuals*VirtualChunkSize)
}

// View is a parsed chain blob. It reads chunk records straight out of the
// caller's buffer; the buffer must stay unchanged while the view is in use.
type View struct {
	buf     []byte
	version uint16
	head    ChainHead

	images    tableRef
	overrides tableRef
	virtuals  tableRef
	memory    tableRef
}

// Parse validates buf and returns a view into it. Any defect is reported as
// ErrMalformedChainHead; no partial view is ever returned.
func Parse(buf []byte) (*View, error) {
	if len(buf) < offHeadSize+4 {
		return nil, malformed("blob of %d bytes is shorter than the fixed header", len(buf))
	}
	if [4]byte(buf[offMagic:offMagic+4]) != Magic {
		return nil, malformed("bad magic %q", buf[offMagic:offMagic+4])
	}

	v := &View{buf: buf}
	v.version = binary.LittleEndian.Uint16(buf[offVersion:])
	want, ok := headSizes[v.version]
	if !ok {
		return nil, malformed("unsupported version %d", v.version)
	}
	size := binary.LittleEndian.Uint32(buf[offHeadSize:])
	if size != want {
		return nil, malformed("head size %d, version %d expects %d", size, v.version, want)
	}
	if uint64(len(buf)) < uint64(size) {
		return nil, malformed("blob of %d bytes is shorter than head size %d", len(buf), size)
	}

	osp, err := decodeOSParam(buf[offOSParam:])
	if err != nil {
		return nil, err
	}
	h := &v.head
	h.OSParam = osp
	h.DiskDrive = binary.LittleEndian.Uint32(buf[offDiskDrive:])
	h.DriveMap = binary.LittleEndian.Uint32(buf[offDriveMap:])
	h.DiskSectorSize = binary.LittleEndian.Uint32(buf[offDiskSector:])
	h.ImageSectorSize = binary.LittleEndian.Uint32(buf[offImageSector:])
	h.RealImageSize = binary.LittleEndian.Uint64(buf[offRealSize:])
	h.VirtImageSize = binary.LittleEndian.Uint64(buf[offVirtSize:])
	h.BootCatalog = binary.LittleEndian.Uint32(buf[offBootCatalog:])
	copy(h.BootCatalogSector[:], buf[offCatalogData:offCatalogData+BootCatalogSize])

	if h.DiskSectorSize == 0 || h.ImageSectorSize == 0 {
		return nil, malformed("zero sector size (disk %d, image %d)", h.DiskSectorSize, h.ImageSectorSize)
	}
	if h.ImageSectorSize%h.DiskSectorSize != 0 {
		return nil, malformed("image sector size %d is not a multiple of disk sector size %d", h.ImageSectorSize, h.DiskSectorSize)
	}

	v.images = decodeTableRef(buf[offImageTable:])
	v.overrides = decodeTableRef(buf[offOverrideTbl:])
	v.virtuals = decodeTableRef(buf[offVirtualTable:])
	v.memory = decodeTableRef(buf[offMemory:])

	checks := []struct {
		name   string
		ref    tableRef
		recLen uint64
	}{
		{"image chunk", v.images, ImageChunkSize},
		{"override chunk", v.overrides, OverrideChunkSize},
		{"virtual chunk", v.virtuals, VirtualChunkSize},
		{"memory", v.memory, 1},
	}
	for _, c := range checks {
		end := uint64(c.ref.off) + uint64(c.ref.count)*c.recLen
		if c.ref.count > 0 && uint64(c.ref.off) < uint64(size) {
			return nil, malformed("%s table at %d overlaps the head", c.name, c.ref.off)
		}
		if end > uint64(len(buf)) {
			return nil, malformed("%s table [%d, %d) exceeds blob of %d bytes", c.name, c.ref.off, end, len(buf))
		}
	}

	for i := 0; i < v.OverrideCount(); i++ {
		if n := v.overrideSize(i); n > OverrideDataSize {
			return nil, malformed("override %d size %d exceeds %d", i, n, OverrideDataSize)
		}
	}
	for i := 0; i < v.VirtualCount(); i++ {
		vc := v.VirtualChunk(i)
		if vc.MemSectorEnd < vc.MemSectorStart {
			return nil, malformed("virtual chunk %d memory range is inverted", i)
		}
		if vc.HasRemap() && vc.RemapSectorStart != vc.MemSectorEnd {
			return nil, malformed("virtual chunk %d remap range does not follow its memory range", i)
		}
		if vc.Empty() {
			return nil, malformed("virtual chunk %d claims no sectors", i)
		}
		memLen := uint64(vc.MemSectorEnd-vc.MemSectorStart) * uint64(h.ImageSectorSize)
		if uint64(vc.MemSectorOffset)+memLen > uint64(len(buf)) {
			return nil, malformed("virtual chunk %d memory exceeds blob", i)
		}
	}

	return v, nil
}

// Version returns the chain head version.
func (v *View) Version() uint16 { return v.version }

// Head returns the decoded header fields.
func (v *View) Head() *ChainHead { return &v.head }

// Bytes returns the underlying blob.
func (v *View) Bytes() []byte { return v.buf }

// BootCatalogSector returns the captured boot catalog sector inside the blob.
func (v *View) BootCatalogSector() []byte {
	return v.buf[offCatalogData : offCatalogData+BootCatalogSize]
}

func (v *View) ImageCount() int    { return int(v.images.count) }
func (v *View) OverrideCount() int { return int(v.overrides.count) }
func (v *View) VirtualCount() int  { return int(v.virtuals.count) }

// ImageChunk decodes image chunk i.
func (v *View) ImageChunk(i int) ImageChunk {
	off := int(v.images.off) + i*ImageChunkSize
	return decodeImageChunk(v.buf[off : off+ImageChunkSize])
}

// OverrideOffset returns the image byte offset of override i.
func (v *View) OverrideOffset(i int) uint64 {
	off := int(v.overrides.off) + i*OverrideChunkSize
	return binary.LittleEndian.Uint64(v.buf[off:])
}

func (v *View) overrideSize(i int) uint32 {
	off := int(v.overrides.off) + i*OverrideChunkSize
	return binary.LittleEndian.Uint32(v.buf[off+8:])
}

// OverrideData returns the replacement bytes of override i inside the blob.
func (v *View) OverrideData(i int) []byte {
	off := int(v.overrides.off) + i*OverrideChunkSize
	return v.buf[off+12 : off+12+int(v.overrideSize(i))]
}

// VirtualChunk decodes virtual chunk i.
func (v *View) VirtualChunk(i int) VirtualChunk {
	off := int(v.virtuals.off) + i*VirtualChunkSize
	return decodeVirtualChunk(v.buf[off : off+VirtualChunkSize])
}

// MemoryOffset returns the blob offset of the memory region.
func (v *View) MemoryOffset() uint32 { return v.memory.off }

// Memory returns the memory region.
func (v *View) Memory() []byte {
	return v.buf[v.memory.off : v.memory.off+v.memory.count]
}

// ImageChunks copies the image chunk table out of the blob, for tooling.
func (v *View) ImageChunks() []ImageChunk {
	out := make([]ImageChunk, v.ImageCount())
	for i := range out {
		out[i] = v.ImageChunk(i)
	}
	return out
}

// OverrideChunks copies the override chunk table out of the blob.
func (v *View) OverrideChunks() []OverrideChunk {
	out := make([]OverrideChunk, v.OverrideCount())
	for i := range out {
		off := int(v.overrides.off) + i*OverrideChunkSize
		out[i] = decodeOverrideChunk(v.buf[off : off+OverrideChunkSize])
	}
	return out
}

// VirtualChunks copies the virtual chunk table out of the blob.
func (v *View) VirtualChunks() []VirtualChunk {
	out := make([]VirtualChunk, v.VirtualCount())
	for i := range out {
		out[i] = v.VirtualChunk(i)
	}
	return out
}
