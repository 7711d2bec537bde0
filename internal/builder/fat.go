package builder

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// FAT variants
type fatKind int

const (
	fatUnknown fatKind = iota
	fat12
	fat16
	fat32
)

func (k fatKind) String() string {
	switch k {
	case fat12:
		return "FAT12"
	case fat16:
		return "FAT16"
	case fat32:
		return "FAT32"
	default:
		return "unknown"
	}
}

var errFATLoop = errors.New("FAT cluster chain loops")

// fatVolume is a FAT filesystem read through an io.ReaderAt.
type fatVolume struct {
	r       io.ReaderAt
	baseOff int64 // partition start in bytes

	kind        fatKind
	bytsPerSec  uint32
	clusterSize uint32
	rootEntCnt  uint32
	rootClus    uint32
	clusters    uint32

	fatStart     int64
	rootDirStart int64 // FAT12/16 fixed root
	rootDirSize  int64
	dataStart    int64
}

type fatEntry struct {
	name         string
	isDir        bool
	firstCluster uint32
	size         uint32
}

// openFAT parses the BPB at baseOff and classifies the FAT variant by
// cluster count.
func openFAT(r io.ReaderAt, baseOff int64) (*fatVolume, error) {
	bs := make([]byte, 512)
	if _, err := r.ReadAt(bs, baseOff); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read boot sector: %w", err)
	}
	if bs[510] != 0x55 || bs[511] != 0xAA {
		return nil, fmt.Errorf("invalid boot sector signature")
	}

	bytsPerSec := uint32(binary.LittleEndian.Uint16(bs[11:13]))
	secPerClus := uint32(bs[13])
	rsvdSecCnt := uint32(binary.LittleEndian.Uint16(bs[14:16]))
	numFATs := uint32(bs[16])
	rootEntCnt := uint32(binary.LittleEndian.Uint16(bs[17:19]))
	totSec := uint32(binary.LittleEndian.Uint16(bs[19:21]))
	fatSz := uint32(binary.LittleEndian.Uint16(bs[22:24]))
	if totSec == 0 {
		totSec = binary.LittleEndian.Uint32(bs[32:36])
	}
	if fatSz == 0 {
		fatSz = binary.LittleEndian.Uint32(bs[36:40])
	}
	switch bytsPerSec {
	case 512, 1024, 2048, 4096:
	default:
		return nil, fmt.Errorf("invalid BPB: bytesPerSec=%d", bytsPerSec)
	}
	if secPerClus == 0 || rsvdSecCnt == 0 || numFATs == 0 || fatSz == 0 || totSec == 0 {
		return nil, fmt.Errorf("invalid BPB fields")
	}

	v := &fatVolume{
		r:           r,
		baseOff:     baseOff,
		bytsPerSec:  bytsPerSec,
		clusterSize: bytsPerSec * secPerClus,
		rootEntCnt:  rootEntCnt,
	}
	rootDirSectors := (rootEntCnt*32 + bytsPerSec - 1) / bytsPerSec
	meta := rsvdSecCnt + numFATs*fatSz + rootDirSectors
	if meta >= totSec {
		return nil, fmt.Errorf("invalid BPB: %d metadata sectors in a %d sector volume", meta, totSec)
	}
	v.clusters = (totSec - meta) / secPerClus

	switch {
	case v.clusters < 4085:
		v.kind = fat12
	case v.clusters < 65525:
		v.kind = fat16
	default:
		v.kind = fat32
	}

	v.fatStart = baseOff + int64(rsvdSecCnt)*int64(bytsPerSec)
	v.rootDirStart = v.fatStart + int64(numFATs)*int64(fatSz)*int64(bytsPerSec)
	v.rootDirSize = int64(rootDirSectors) * int64(bytsPerSec)
	v.dataStart = v.rootDirStart + v.rootDirSize
	if v.kind == fat32 {
		v.rootClus = binary.LittleEndian.Uint32(bs[44:48])
	}
	return v, nil
}

func (v *fatVolume) isEOC(c uint32) bool {
	switch v.kind {
	case fat12:
		return c >= 0xFF8
	case fat16:
		return c >= 0xFFF8
	default:
		return c >= 0x0FFFFFF8
	}
}

// clusterOff returns the absolute byte offset of data cluster c.
func (v *fatVolume) clusterOff(c uint32) int64 {
	return v.dataStart + int64(c-2)*int64(v.clusterSize)
}

// next reads the FAT entry of cluster c.
func (v *fatVolume) next(c uint32) (uint32, error) {
	switch v.kind {
	case fat12:
		var b [2]byte
		if _, err := v.r.ReadAt(b[:], v.fatStart+int64(c)+int64(c/2)); err != nil && err != io.EOF {
			return 0, err
		}
		e := uint32(binary.LittleEndian.Uint16(b[:]))
		if c&1 == 1 {
			return e >> 4, nil
		}
		return e & 0x0FFF, nil
	case fat16:
		var b [2]byte
		if _, err := v.r.ReadAt(b[:], v.fatStart+int64(c)*2); err != nil && err != io.EOF {
			return 0, err
		}
		return uint32(binary.LittleEndian.Uint16(b[:])), nil
	default:
		var b [4]byte
		if _, err := v.r.ReadAt(b[:], v.fatStart+int64(c)*4); err != nil && err != io.EOF {
			return 0, err
		}
		return binary.LittleEndian.Uint32(b[:]) & 0x0FFFFFFF, nil
	}
}

// chain follows the cluster chain from start, stopping after limit clusters
// when limit is non-zero.
func (v *fatVolume) chain(start uint32, limit uint64) ([]uint32, error) {
	var out []uint32
	seen := map[uint32]bool{}
	for c := start; c >= 2 && !v.isEOC(c); {
		if c-2 >= v.clusters {
			return nil, fmt.Errorf("cluster %d outside the volume", c)
		}
		if seen[c] {
			return nil, fmt.Errorf("%w at cluster %d", errFATLoop, c)
		}
		seen[c] = true
		out = append(out, c)
		if limit != 0 && uint64(len(out)) == limit {
			break
		}
		n, err := v.next(c)
		if err != nil {
			return nil, err
		}
		c = n
	}
	return out, nil
}

func (v *fatVolume) readDir(start uint32) ([]fatEntry, error) {
	clusters, err := v.chain(start, 0)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, len(clusters)*int(v.clusterSize))
	chunk := make([]byte, v.clusterSize)
	for _, c := range clusters {
		if _, err := v.r.ReadAt(chunk, v.clusterOff(c)); err != nil && err != io.EOF {
			return nil, err
		}
		buf = append(buf, chunk...)
	}
	return parseDirEntries(buf), nil
}

func (v *fatVolume) readRootDir() ([]fatEntry, error) {
	if v.kind == fat32 {
		return v.readDir(v.rootClus)
	}
	buf := make([]byte, v.rootDirSize)
	if _, err := v.r.ReadAt(buf, v.rootDirStart); err != nil && err != io.EOF {
		return nil, err
	}
	return parseDirEntries(buf), nil
}

// lookup resolves a slash-separated path, matching names case-insensitively.
func (v *fatVolume) lookup(p string) (*fatEntry, error) {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil, fmt.Errorf("empty path")
	}
	ents, err := v.readRootDir()
	if err != nil {
		return nil, err
	}
	parts := strings.Split(p, "/")
	for i, part := range parts {
		var match *fatEntry
		for j := range ents {
			if strings.EqualFold(ents[j].name, part) {
				match = &ents[j]
				break
			}
		}
		if match == nil {
			return nil, fmt.Errorf("%s: %w", p, os.ErrNotExist)
		}
		if i == len(parts)-1 {
			return match, nil
		}
		if !match.isDir {
			return nil, fmt.Errorf("not a directory: %s", part)
		}
		if ents, err = v.readDir(match.firstCluster); err != nil {
			return nil, err
		}
	}
	return nil, os.ErrNotExist
}

// FileExtents walks the cluster chain of the file at path in the FAT
// filesystem starting at byte partOff and returns its disk extents, in
// diskSectorSize units, trimmed to the file size.
func FileExtents(r io.ReaderAt, partOff int64, path string, diskSectorSize uint32) ([]Extent, uint64, error) {
	v, err := openFAT(r, partOff)
	if err != nil {
		return nil, 0, err
	}
	e, err := v.lookup(path)
	if err != nil {
		return nil, 0, err
	}
	if e.isDir {
		return nil, 0, fmt.Errorf("%s is a directory", path)
	}
	if e.size == 0 {
		return nil, 0, fmt.Errorf("%s is empty", path)
	}
	ds := int64(diskSectorSize)
	if ds == 0 || int64(v.clusterSize)%ds != 0 || v.dataStart%ds != 0 {
		return nil, 0, fmt.Errorf("%s clusters are not aligned to %d byte disk sectors", v.kind, diskSectorSize)
	}

	need := (uint64(e.size) + uint64(v.clusterSize) - 1) / uint64(v.clusterSize)
	clusters, err := v.chain(e.firstCluster, need)
	if err != nil {
		return nil, 0, err
	}
	if uint64(len(clusters)) < need {
		return nil, 0, fmt.Errorf("%s: chain holds %d clusters, size needs %d", path, len(clusters), need)
	}

	perCluster := uint64(int64(v.clusterSize) / ds)
	remaining := (uint64(e.size) + uint64(ds) - 1) / uint64(ds)
	extents := make([]Extent, 0, 4)
	for _, c := range clusters {
		n := min(perCluster, remaining)
		sector := uint64(v.clusterOff(c) / ds)
		if k := len(extents); k > 0 && extents[k-1].DiskSector+extents[k-1].Sectors == sector {
			extents[k-1].Sectors += n
		} else {
			extents = append(extents, Extent{DiskSector: sector, Sectors: n})
		}
		remaining -= n
	}
	return extents, uint64(e.size), nil
}

// parseDirEntries decodes raw directory entries, joining long file name parts.
func parseDirEntries(buf []byte) []fatEntry {
	var out []fatEntry
	var lfn []string

	for off := 0; off+32 <= len(buf); off += 32 {
		e := buf[off : off+32]
		if e[0] == 0x00 {
			break
		}
		if e[0] == 0xE5 {
			lfn = nil
			continue
		}
		attr := e[11]
		if attr == 0x0F {
			if part := decodeLFNPart(e); part != "" {
				lfn = append(lfn, part)
			}
			continue
		}
		if attr&0x08 != 0 { // volume label
			lfn = nil
			continue
		}

		var name string
		if len(lfn) > 0 {
			// parts are stored last first
			var sb strings.Builder
			for i := len(lfn) - 1; i >= 0; i-- {
				sb.WriteString(lfn[i])
			}
			name = sb.String()
		} else {
			name = decode83Name(e[0:11])
		}
		lfn = nil
		if name == "." || name == ".." {
			continue
		}

		hi := binary.LittleEndian.Uint16(e[20:22])
		lo := binary.LittleEndian.Uint16(e[26:28])
		out = append(out, fatEntry{
			name:         name,
			isDir:        attr&0x10 != 0,
			firstCluster: uint32(hi)<<16 | uint32(lo),
			size:         binary.LittleEndian.Uint32(e[28:32]),
		})
	}
	return out
}

func decode83Name(b []byte) string {
	base := strings.TrimRight(string(b[0:8]), " ")
	ext := strings.TrimRight(string(b[8:11]), " ")
	if ext != "" {
		return base + "." + ext
	}
	return base
}

// decodeLFNPart returns the up to 13 UTF-16 characters of one LFN entry.
func decodeLFNPart(e []byte) string {
	var sb strings.Builder
	for _, i := range [...]int{1, 3, 5, 7, 9, 14, 16, 18, 20, 22, 24, 28, 30} {
		c := binary.LittleEndian.Uint16(e[i : i+2])
		if c == 0x0000 || c == 0xFFFF {
			break
		}
		sb.WriteRune(rune(c))
	}
	return sb.String()
}
