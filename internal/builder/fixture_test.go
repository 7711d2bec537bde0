package builder

import (
	"encoding/binary"
	"io"

	"github.com/diskfs/go-diskfs/partition"
	"github.com/diskfs/go-diskfs/partition/mbr"
)

// Fixture layout: an MBR disk with one FAT16 partition at LBA 64 holding
// ISO/installer.iso, fragmented into three cluster runs.
const (
	fxPartStart   = 64
	fxSecPerClus  = 4
	fxRsvd        = 1
	fxNumFATs     = 2
	fxFATSize     = 17
	fxRootEntries = 512
	fxRootSectors = fxRootEntries * 32 / 512
	fxClusters    = 4100
	fxTotSec      = fxRsvd + fxNumFATs*fxFATSize + fxRootSectors + fxClusters*fxSecPerClus
	fxDataSector  = fxPartStart + fxRsvd + fxNumFATs*fxFATSize + fxRootSectors
	fxImageSize   = 20*2048 + 100
	fxCatalogLBA  = 19
)

// fxChain is the cluster chain of installer.iso.
var fxChain = func() []uint32 {
	var c []uint32
	for i := uint32(3); i <= 10; i++ {
		c = append(c, i)
	}
	for i := uint32(20); i <= 29; i++ {
		c = append(c, i)
	}
	return append(c, 40, 41, 42)
}()

func fxClusterSector(c uint32) uint64 { return fxDataSector + uint64(c-2)*fxSecPerClus }

// memReaderAt serves ReadAt from a byte slice.
type memReaderAt struct{ b []byte }

func (m memReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.b)) {
		return 0, io.EOF
	}
	n := copy(p, m.b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// fakeSource is an in-memory host disk of 512-byte sectors.
type fakeSource struct {
	memReaderAt
	table partition.Table
	reads int
}

func (f *fakeSource) ReadSectors(lba, count uint64, dst []byte) error {
	f.reads++
	_, err := f.ReadAt(dst[:count*512], int64(lba*512))
	return err
}

func (f *fakeSource) GetPartitionTable() (partition.Table, error) { return f.table, nil }

func (f *fakeSource) Size() int64 { return int64(len(f.b)) }

// fxImage returns the content of installer.iso: a pattern with an El Torito
// boot record at sector 17 pointing at a catalog in sector 19.
func fxImage() []byte {
	img := make([]byte, fxImageSize)
	for i := range img {
		img[i] = byte(i/2048) ^ byte(i*7)
	}
	rec := img[17*2048 : 18*2048]
	clear(rec)
	rec[0] = 0
	copy(rec[1:], "CD001")
	rec[6] = 1
	copy(rec[7:], "EL TORITO SPECIFICATION")
	binary.LittleEndian.PutUint32(rec[catalogLBAOffset:], fxCatalogLBA)
	cat := img[fxCatalogLBA*2048 : (fxCatalogLBA+1)*2048]
	clear(cat)
	copy(cat, []byte{0x01, 0x00, 0x00, 0x00, 'F', 'I', 'X'})
	return img
}

func put83(e []byte, name string, attr byte, cluster uint32, size uint32) {
	copy(e[0:11], name)
	e[11] = attr
	binary.LittleEndian.PutUint16(e[20:22], uint16(cluster>>16))
	binary.LittleEndian.PutUint16(e[26:28], uint16(cluster))
	binary.LittleEndian.PutUint32(e[28:32], size)
}

// putLFN writes one long name entry holding exactly 13 characters.
func putLFN(e []byte, seq byte, name string) {
	e[0] = seq
	e[11] = 0x0F
	for i, off := range [...]int{1, 3, 5, 7, 9, 14, 16, 18, 20, 22, 24, 28, 30} {
		binary.LittleEndian.PutUint16(e[off:], uint16(name[i]))
	}
}

func newFixture() (*fakeSource, []byte) {
	disk := make([]byte, (fxPartStart+fxTotSec)*512)
	copy(disk[440:], []byte{0xCA, 0xFE, 0xBA, 0xBE})
	disk[510], disk[511] = 0x55, 0xAA

	bs := disk[fxPartStart*512:]
	bs[0], bs[1], bs[2] = 0xEB, 0x3C, 0x90
	copy(bs[3:11], "VDISKFIX")
	binary.LittleEndian.PutUint16(bs[11:], 512)
	bs[13] = fxSecPerClus
	binary.LittleEndian.PutUint16(bs[14:], fxRsvd)
	bs[16] = fxNumFATs
	binary.LittleEndian.PutUint16(bs[17:], fxRootEntries)
	binary.LittleEndian.PutUint16(bs[19:], fxTotSec)
	bs[21] = 0xF8
	binary.LittleEndian.PutUint16(bs[22:], fxFATSize)
	bs[510], bs[511] = 0x55, 0xAA

	fat := disk[(fxPartStart+fxRsvd)*512:]
	setFAT := func(c uint32, v uint16) {
		for n := 0; n < fxNumFATs; n++ {
			binary.LittleEndian.PutUint16(fat[n*fxFATSize*512+int(c)*2:], v)
		}
	}
	setFAT(0, 0xFFF8)
	setFAT(1, 0xFFFF)
	setFAT(2, 0xFFFF) // ISO directory
	for i, c := range fxChain {
		if i == len(fxChain)-1 {
			setFAT(c, 0xFFFF)
		} else {
			setFAT(c, uint16(fxChain[i+1]))
		}
	}

	root := disk[(fxPartStart+fxRsvd+fxNumFATs*fxFATSize)*512:]
	put83(root[0:], "VDISKFIX   ", 0x08, 0, 0)
	put83(root[32:], "ISO        ", 0x10, 2, 0)

	dir := disk[fxClusterSector(2)*512:]
	put83(dir[0:], ".          ", 0x10, 2, 0)
	put83(dir[32:], "..         ", 0x10, 0, 0)
	putLFN(dir[64:], 0x41, "installer.iso")
	put83(dir[96:], "INSTAL~1ISO", 0x20, fxChain[0], fxImageSize)

	img := fxImage()
	for i, c := range fxChain {
		start := i * 2048
		end := min(start+2048, len(img))
		copy(disk[fxClusterSector(c)*512:], img[start:end])
	}

	src := &fakeSource{
		memReaderAt: memReaderAt{disk},
		table: &mbr.Table{
			LogicalSectorSize:  512,
			PhysicalSectorSize: 512,
			Partitions: []*mbr.Partition{
				{Type: 0x0E, Start: fxPartStart, Size: fxTotSec},
			},
		},
	}
	return src, img
}
