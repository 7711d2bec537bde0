package chunkmap

import (
	"errors"
	"fmt"

	"github.com/open-edge-platform/os-image-vdisk/internal/chain"
)

// Device is the consumed "read N physical sectors at LBA L" primitive. dst
// holds exactly count device sectors.
type Device interface {
	ReadSectors(lba, count uint64, dst []byte) error
}

// DeviceFunc adapts a function to Device.
type DeviceFunc func(lba, count uint64, dst []byte) error

func (f DeviceFunc) ReadSectors(lba, count uint64, dst []byte) error { return f(lba, count, dst) }

// ErrShortBuffer is returned when the destination cannot hold the request.
var ErrShortBuffer = errors.New("destination buffer too small")

// segmentBatch bounds the on-stack segment storage of one Read call.
const segmentBatch = 16

// Read fills buf with apparent sectors [start, start+count) of m, reading
// disk segments from dev, and applies overrides once every segment is in
// place. It returns the number of sectors filled before the first error; a
// device failure is wrapped in *chain.ReadError with the error unchanged.
func Read(m Mapper, dev Device, start, count uint64, buf []byte) (uint64, error) {
	ss := uint64(m.SectorSize())
	if uint64(len(buf)) < count*ss {
		return 0, fmt.Errorf("%w: %d bytes for %d sectors of %d bytes", ErrShortBuffer, len(buf), count, ss)
	}

	var segs [segmentBatch]Segment
	var done uint64
	for done < count {
		n, resolved, err := m.Resolve(start+done, count-done, segs[:])
		if err != nil {
			return done, err
		}
		base := done * ss
		for i := 0; i < n; i++ {
			seg := &segs[i]
			off := base + seg.BufOffset
			dst := buf[off : off+seg.Count*ss]
			switch seg.Kind {
			case SegmentMemory:
				copy(dst, seg.Memory)
			case SegmentDisk:
				if err := dev.ReadSectors(seg.DiskSector, seg.DiskCount, dst); err != nil {
					return done + seg.BufOffset/ss, &chain.ReadError{LBA: seg.DiskSector, Count: seg.DiskCount, Err: err}
				}
			default:
				return done + seg.BufOffset/ss, fmt.Errorf("segment %d has unknown kind %v", i, seg.Kind)
			}
		}
		done += resolved
	}

	m.ApplyOverrides(buf[:count*ss], start, count)
	return count, nil
}
