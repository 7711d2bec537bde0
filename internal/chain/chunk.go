package chain

import "encoding/binary"

// Packed record sizes of the three chunk tables.
const (
	ImageChunkSize    = 24
	OverrideChunkSize = 524
	VirtualChunkSize  = 24

	// OverrideDataSize is the largest patch a single OverrideChunk carries.
	OverrideDataSize = 512
)

// ImageChunk maps one contiguous image extent onto one contiguous physical
// extent. Both ends are inclusive. Image sectors are in image-sector units,
// disk sectors in device-native units.
type ImageChunk struct {
	ImageStartSector uint32 `json:"imageStartSector" yaml:"imageStartSector"`
	ImageEndSector   uint32 `json:"imageEndSector" yaml:"imageEndSector"`
	DiskStartSector  uint64 `json:"diskStartSector" yaml:"diskStartSector"`
	DiskEndSector    uint64 `json:"diskEndSector" yaml:"diskEndSector"`
}

// Sectors returns the number of image sectors the chunk covers.
func (c ImageChunk) Sectors() uint64 {
	return uint64(c.ImageEndSector) - uint64(c.ImageStartSector) + 1
}

// Contains reports whether the image sector s falls inside the chunk.
func (c ImageChunk) Contains(s uint64) bool {
	return s >= uint64(c.ImageStartSector) && s <= uint64(c.ImageEndSector)
}

func (c ImageChunk) put(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], c.ImageStartSector)
	binary.LittleEndian.PutUint32(b[4:8], c.ImageEndSector)
	binary.LittleEndian.PutUint64(b[8:16], c.DiskStartSector)
	binary.LittleEndian.PutUint64(b[16:24], c.DiskEndSector)
}

func decodeImageChunk(b []byte) ImageChunk {
	return ImageChunk{
		ImageStartSector: binary.LittleEndian.Uint32(b[0:4]),
		ImageEndSector:   binary.LittleEndian.Uint32(b[4:8]),
		DiskStartSector:  binary.LittleEndian.Uint64(b[8:16]),
		DiskEndSector:    binary.LittleEndian.Uint64(b[16:24]),
	}
}

// OverrideChunk replaces Size bytes of the apparent image at ImageOffset.
// The backing file is never touched.
type OverrideChunk struct {
	ImageOffset uint64                 `json:"imageOffset" yaml:"imageOffset"`
	Size        uint32                 `json:"size" yaml:"size"`
	Data        [OverrideDataSize]byte `json:"-" yaml:"-"`
}

// NewOverrideChunk returns an override writing data at offset. Data longer
// than OverrideDataSize is truncated; callers validate beforehand.
func NewOverrideChunk(offset uint64, data []byte) OverrideChunk {
	o := OverrideChunk{ImageOffset: offset}
	o.Size = uint32(copy(o.Data[:], data))
	return o
}

// Bytes returns the replacement bytes.
func (o *OverrideChunk) Bytes() []byte {
	n := o.Size
	if n > OverrideDataSize {
		n = OverrideDataSize
	}
	return o.Data[:n]
}

// End returns the first byte offset after the patch.
func (o *OverrideChunk) End() uint64 { return o.ImageOffset + uint64(o.Size) }

func (o *OverrideChunk) put(b []byte) {
	binary.LittleEndian.PutUint64(b[0:8], o.ImageOffset)
	binary.LittleEndian.PutUint32(b[8:12], o.Size)
	copy(b[12:OverrideChunkSize], o.Data[:])
}

func decodeOverrideChunk(b []byte) OverrideChunk {
	o := OverrideChunk{
		ImageOffset: binary.LittleEndian.Uint64(b[0:8]),
		Size:        binary.LittleEndian.Uint32(b[8:12]),
	}
	copy(o.Data[:], b[12:OverrideChunkSize])
	return o
}

// VirtualChunk claims apparent sectors that are served from memory or
// redirected. Both ranges are half-open. Memory sectors start MemSectorOffset
// bytes from the chain blob base. A non-empty remap range begins at
// MemSectorEnd and maps onto OrgSectorStart, which is resolved against
// ImageChunks only.
type VirtualChunk struct {
	MemSectorStart   uint32 `json:"memSectorStart" yaml:"memSectorStart"`
	MemSectorEnd     uint32 `json:"memSectorEnd" yaml:"memSectorEnd"`
	MemSectorOffset  uint32 `json:"memSectorOffset" yaml:"memSectorOffset"`
	RemapSectorStart uint32 `json:"remapSectorStart" yaml:"remapSectorStart"`
	RemapSectorEnd   uint32 `json:"remapSectorEnd" yaml:"remapSectorEnd"`
	OrgSectorStart   uint32 `json:"orgSectorStart" yaml:"orgSectorStart"`
}

// HasRemap reports whether the chunk redirects any sectors.
func (v VirtualChunk) HasRemap() bool { return v.RemapSectorEnd > v.RemapSectorStart }

// Empty reports whether the chunk claims no apparent sectors.
func (v VirtualChunk) Empty() bool { return v.SpanEnd() <= v.SpanStart() }

// SpanStart returns the first apparent sector the chunk claims.
func (v VirtualChunk) SpanStart() uint64 { return uint64(v.MemSectorStart) }

// SpanEnd returns the first apparent sector after the chunk's claim.
func (v VirtualChunk) SpanEnd() uint64 {
	if v.HasRemap() {
		return uint64(v.RemapSectorEnd)
	}
	return uint64(v.MemSectorEnd)
}

func (v VirtualChunk) put(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], v.MemSectorStart)
	binary.LittleEndian.PutUint32(b[4:8], v.MemSectorEnd)
	binary.LittleEndian.PutUint32(b[8:12], v.MemSectorOffset)
	binary.LittleEndian.PutUint32(b[12:16], v.RemapSectorStart)
	binary.LittleEndian.PutUint32(b[16:20], v.RemapSectorEnd)
	binary.LittleEndian.PutUint32(b[20:24], v.OrgSectorStart)
}

func decodeVirtualChunk(b []byte) VirtualChunk {
	return VirtualChunk{
		MemSectorStart:   binary.LittleEndian.Uint32(b[0:4]),
		MemSectorEnd:     binary.LittleEndian.Uint32(b[4:8]),
		MemSectorOffset:  binary.LittleEndian.Uint32(b[8:12]),
		RemapSectorStart: binary.LittleEndian.Uint32(b[12:16]),
		RemapSectorEnd:   binary.LittleEndian.Uint32(b[16:20]),
		OrgSectorStart:   binary.LittleEndian.Uint32(b[20:24]),
	}
}
