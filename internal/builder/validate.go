package builder

import (
	"fmt"

	"github.com/open-edge-platform/os-image-vdisk/internal/chain"
)

// ValidateImageChunks checks that chunks are ascending, non-overlapping and
// cover [0, totalSectors) without gaps, with every disk range matching its
// image range at the given ratio.
func ValidateImageChunks(chunks []chain.ImageChunk, totalSectors uint64, ratio uint64) error {
	var next uint64
	for i, c := range chunks {
		if c.ImageEndSector < c.ImageStartSector {
			return fmt.Errorf("image chunk %d: inverted range %d..%d", i, c.ImageStartSector, c.ImageEndSector)
		}
		if uint64(c.ImageStartSector) != next {
			return fmt.Errorf("image chunk %d starts at %d, want %d", i, c.ImageStartSector, next)
		}
		if c.DiskEndSector < c.DiskStartSector || c.DiskEndSector-c.DiskStartSector+1 != c.Sectors()*ratio {
			return fmt.Errorf("image chunk %d: disk range %d..%d does not hold %d image sectors", i, c.DiskStartSector, c.DiskEndSector, c.Sectors())
		}
		next = uint64(c.ImageEndSector) + 1
	}
	if next < totalSectors {
		return fmt.Errorf("image chunks cover %d of %d sectors", next, totalSectors)
	}
	return nil
}

// ValidateVirtualChunks checks virtual chunk ordering and that each memory
// range lies inside memory, whose first byte sits at memOffset in the blob.
func ValidateVirtualChunks(virtuals []chain.VirtualChunk, memOffset uint32, memLen int, sectorSize uint32) error {
	var prevEnd uint64
	for i, v := range virtuals {
		if v.MemSectorEnd < v.MemSectorStart {
			return fmt.Errorf("virtual chunk %d: inverted memory range", i)
		}
		if v.HasRemap() && v.RemapSectorStart != v.MemSectorEnd {
			return fmt.Errorf("virtual chunk %d: remap range must follow the memory range", i)
		}
		if v.Empty() {
			return fmt.Errorf("virtual chunk %d: claims no sectors", i)
		}
		if i > 0 && v.SpanStart() < prevEnd {
			return fmt.Errorf("virtual chunk %d overlaps chunk %d", i, i-1)
		}
		prevEnd = v.SpanEnd()

		memBytes := uint64(v.MemSectorEnd-v.MemSectorStart) * uint64(sectorSize)
		if memBytes == 0 {
			continue
		}
		if v.MemSectorOffset < memOffset || uint64(v.MemSectorOffset-memOffset)+memBytes > uint64(memLen) {
			return fmt.Errorf("virtual chunk %d: memory data [%d, +%d) outside the memory region", i, v.MemSectorOffset, memBytes)
		}
	}
	return nil
}

// ValidateOverrides checks that every override holds at most one sector of
// data and lies inside the image.
func ValidateOverrides(overrides []chain.OverrideChunk, imageSize uint64) error {
	for i := range overrides {
		o := &overrides[i]
		if o.Size > chain.OverrideDataSize {
			return fmt.Errorf("override %d: size %d exceeds %d", i, o.Size, chain.OverrideDataSize)
		}
		if o.End() > imageSize {
			return fmt.Errorf("override %d: bytes [%d, %d) past image end %d", i, o.ImageOffset, o.End(), imageSize)
		}
	}
	return nil
}
