package builder

import (
	"errors"
	"fmt"

	"github.com/open-edge-platform/os-image-vdisk/internal/chain"
)

// ErrUnalignedExtent is returned when a fragment ends inside an image sector,
// which no image chunk can describe.
var ErrUnalignedExtent = errors.New("extent does not end on an image sector boundary")

// Extent is a run of contiguous disk sectors holding consecutive bytes of the
// image file.
type Extent struct {
	DiskSector uint64 `json:"diskSector" yaml:"diskSector"`
	Sectors    uint64 `json:"sectors" yaml:"sectors"`
}

// Coalesce merges physically adjacent extents and converts them into image
// chunks. Only the final extent may end inside an image sector; it is rounded
// up to the next image sector boundary.
func Coalesce(extents []Extent, imageSectorSize, diskSectorSize uint32) ([]chain.ImageChunk, error) {
	if diskSectorSize == 0 || imageSectorSize == 0 || imageSectorSize%diskSectorSize != 0 {
		return nil, fmt.Errorf("image sector size %d is not a multiple of disk sector size %d", imageSectorSize, diskSectorSize)
	}
	ratio := uint64(imageSectorSize / diskSectorSize)

	merged := make([]Extent, 0, len(extents))
	for _, e := range extents {
		if e.Sectors == 0 {
			continue
		}
		if n := len(merged); n > 0 && merged[n-1].DiskSector+merged[n-1].Sectors == e.DiskSector {
			merged[n-1].Sectors += e.Sectors
			continue
		}
		merged = append(merged, e)
	}

	chunks := make([]chain.ImageChunk, 0, len(merged))
	var image uint64
	for i, e := range merged {
		sectors := e.Sectors
		if rem := sectors % ratio; rem != 0 {
			if i != len(merged)-1 {
				return nil, fmt.Errorf("%w: extent %d at disk sector %d spans %d sectors", ErrUnalignedExtent, i, e.DiskSector, e.Sectors)
			}
			sectors += ratio - rem
		}
		n := sectors / ratio
		if image+n > 1<<32 {
			return nil, fmt.Errorf("image exceeds %d sectors", uint64(1)<<32)
		}
		chunks = append(chunks, chain.ImageChunk{
			ImageStartSector: uint32(image),
			ImageEndSector:   uint32(image + n - 1),
			DiskStartSector:  e.DiskSector,
			DiskEndSector:    e.DiskSector + sectors - 1,
		})
		image += n
	}
	return chunks, nil
}
