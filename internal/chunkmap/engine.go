// Package chunkmap resolves apparent sector ranges of a virtual disk against
// the chunk tables of a parsed chain head. It is the single engine behind the
// BIOS and UEFI front ends.
//
// The hot path never allocates and keeps no mutable state outside the call:
// a Table is immutable after New and callers supply the output storage.
package chunkmap

import (
	"fmt"

	"github.com/open-edge-platform/os-image-vdisk/internal/chain"
)

// SegmentKind tells a front end how to fill a resolved segment.
type SegmentKind uint8

const (
	// SegmentDisk is filled by reading the underlying physical device.
	SegmentDisk SegmentKind = iota + 1
	// SegmentMemory is filled from the chain blob.
	SegmentMemory
)

func (k SegmentKind) String() string {
	switch k {
	case SegmentDisk:
		return "disk"
	case SegmentMemory:
		return "memory"
	default:
		return fmt.Sprintf("SegmentKind(%d)", uint8(k))
	}
}

// Segment is one resolved piece of a request. Segments returned for one
// request are in ascending apparent-sector order and never overlap.
type Segment struct {
	Kind SegmentKind
	// Chunk indexes the image chunk (disk) or virtual chunk (memory) that
	// claimed the sectors.
	Chunk int

	// Sector and Count are the apparent range, in image sectors.
	Sector uint64
	Count  uint64

	// DiskSector and DiskCount are the physical range, in device sectors.
	DiskSector uint64
	DiskCount  uint64

	// Memory holds the source bytes of a memory segment, inside the blob.
	Memory []byte

	// BufOffset is the destination byte offset relative to the request start.
	BufOffset uint64
}

// Mapper is the capability both front ends consume.
type Mapper interface {
	SectorSize() uint32
	TotalSectors() uint64
	Resolve(start, count uint64, out []Segment) (n int, resolved uint64, err error)
	ApplyOverrides(buf []byte, start, count uint64)
}

// Table is an immutable chunk-table handle over a parsed chain blob.
type Table struct {
	view       *chain.View
	sectorSize uint64
	ratio      uint64 // device sectors per image sector
	total      uint64
}

var _ Mapper = (*Table)(nil)

// New checks the chunk tables of v for ordering and consistency and returns
// the engine handle. Table defects are reported as ErrMalformedChainHead.
func New(v *chain.View) (*Table, error) {
	h := v.Head()
	t := &Table{
		view:       v,
		sectorSize: uint64(h.ImageSectorSize),
		ratio:      uint64(h.ImageSectorSize / h.DiskSectorSize),
		total:      h.TotalSectors(),
	}

	var prevEnd uint64
	for i := 0; i < v.ImageCount(); i++ {
		c := v.ImageChunk(i)
		if c.ImageEndSector < c.ImageStartSector || c.DiskEndSector < c.DiskStartSector {
			return nil, fmt.Errorf("%w: image chunk %d has an inverted range", chain.ErrMalformedChainHead, i)
		}
		if i > 0 && uint64(c.ImageStartSector) < prevEnd {
			return nil, fmt.Errorf("%w: image chunk %d overlaps or precedes chunk %d", chain.ErrMalformedChainHead, i, i-1)
		}
		if got, want := c.DiskEndSector-c.DiskStartSector+1, c.Sectors()*t.ratio; got != want {
			return nil, fmt.Errorf("%w: image chunk %d spans %d disk sectors, want %d", chain.ErrMalformedChainHead, i, got, want)
		}
		prevEnd = uint64(c.ImageEndSector) + 1
	}

	prevEnd = 0
	for i := 0; i < v.VirtualCount(); i++ {
		c := v.VirtualChunk(i)
		if c.Empty() {
			return nil, fmt.Errorf("%w: virtual chunk %d claims no sectors", chain.ErrMalformedChainHead, i)
		}
		if i > 0 && c.SpanStart() < prevEnd {
			return nil, fmt.Errorf("%w: virtual chunk %d overlaps or precedes chunk %d", chain.ErrMalformedChainHead, i, i-1)
		}
		prevEnd = c.SpanEnd()
	}

	return t, nil
}

// View returns the chain blob the table reads from.
func (t *Table) View() *chain.View { return t.view }

// SectorSize returns the apparent sector size in bytes.
func (t *Table) SectorSize() uint32 { return uint32(t.sectorSize) }

// TotalSectors returns the declared image size in apparent sectors.
func (t *Table) TotalSectors() uint64 { return t.total }

// Resolve maps [start, start+count) onto segments written to out. When out
// fills before the range is exhausted, Resolve stops and reports how many
// sectors it covered; the caller continues at start+resolved.
func (t *Table) Resolve(start, count uint64, out []Segment) (int, uint64, error) {
	if count == 0 {
		return 0, 0, nil
	}
	if start >= t.total || count > t.total-start {
		return 0, 0, fmt.Errorf("%w: sectors [%d, %d) beyond image of %d sectors", chain.ErrAddressOutOfRange, start, start+count, t.total)
	}

	end := start + count
	s := start
	n := 0
	for s < end {
		if n == len(out) {
			break
		}

		vi, nextVirtual := t.findVirtual(s)
		if vi >= 0 {
			vc := t.view.VirtualChunk(vi)
			seg, err := t.resolveVirtual(vi, vc, s, end)
			if err != nil {
				return n, s - start, err
			}
			seg.BufOffset = (s - start) * t.sectorSize
			out[n] = seg
			n++
			s += seg.Count
			continue
		}

		limit := end
		if nextVirtual > s && nextVirtual < limit {
			limit = nextVirtual
		}
		seg, err := t.resolveImage(s, s, limit)
		if err != nil {
			return n, s - start, err
		}
		seg.BufOffset = (s - start) * t.sectorSize
		out[n] = seg
		n++
		s += seg.Count
	}

	return n, s - start, nil
}

// resolveVirtual serves sector s from virtual chunk vc.
func (t *Table) resolveVirtual(vi int, vc chain.VirtualChunk, s, end uint64) (Segment, error) {
	if s < uint64(vc.MemSectorEnd) {
		cnt := min(end, uint64(vc.MemSectorEnd)) - s
		off := uint64(vc.MemSectorOffset) + (s-uint64(vc.MemSectorStart))*t.sectorSize
		return Segment{
			Kind:   SegmentMemory,
			Chunk:  vi,
			Sector: s,
			Count:  cnt,
			Memory: t.view.Bytes()[off : off+cnt*t.sectorSize],
		}, nil
	}

	// Remap part: one level only, the target is looked up in image chunks.
	limit := min(end, uint64(vc.RemapSectorEnd))
	target := uint64(vc.OrgSectorStart) + (s - uint64(vc.RemapSectorStart))
	return t.resolveImage(s, target, target+(limit-s))
}

// resolveImage maps apparent sector s, backed by image sector target, onto
// the image chunk containing target. The segment never extends past limit,
// which is expressed in target coordinates.
func (t *Table) resolveImage(s, target, limit uint64) (Segment, error) {
	ci := t.findImage(target)
	if ci < 0 {
		return Segment{}, fmt.Errorf("%w: no chunk claims image sector %d", chain.ErrChunkTableExhausted, target)
	}
	c := t.view.ImageChunk(ci)
	cnt := min(limit, uint64(c.ImageEndSector)+1) - target
	return Segment{
		Kind:       SegmentDisk,
		Chunk:      ci,
		Sector:     s,
		Count:      cnt,
		DiskSector: c.DiskStartSector + (target-uint64(c.ImageStartSector))*t.ratio,
		DiskCount:  cnt * t.ratio,
	}, nil
}

// findImage returns the index of the image chunk containing s, or -1.
func (t *Table) findImage(s uint64) int {
	lo, hi := 0, t.view.ImageCount()
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if uint64(t.view.ImageChunk(mid).ImageEndSector) < s {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < t.view.ImageCount() && t.view.ImageChunk(lo).Contains(s) {
		return lo
	}
	return -1
}

// findVirtual returns the index of the virtual chunk claiming s, or -1 along
// with the first sector of the next virtual chunk after s (0 when none).
func (t *Table) findVirtual(s uint64) (int, uint64) {
	cnt := t.view.VirtualCount()
	lo, hi := 0, cnt
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if t.view.VirtualChunk(mid).SpanEnd() <= s {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == cnt {
		return -1, 0
	}
	vc := t.view.VirtualChunk(lo)
	if vc.SpanStart() <= s {
		return lo, 0
	}
	return -1, vc.SpanStart()
}

// ApplyOverrides patches buf, which holds apparent sectors
// [start, start+count), with every override intersecting it.
func (t *Table) ApplyOverrides(buf []byte, start, count uint64) {
	lo := start * t.sectorSize
	hi := lo + min(count*t.sectorSize, uint64(len(buf)))
	for i := 0; i < t.view.OverrideCount(); i++ {
		off := t.view.OverrideOffset(i)
		data := t.view.OverrideData(i)
		oend := off + uint64(len(data))
		if oend <= lo || off >= hi {
			continue
		}
		a, b := max(off, lo), min(oend, hi)
		copy(buf[a-lo:b-lo], data[a-off:b-off])
	}
}
