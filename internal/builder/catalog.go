package builder

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/open-edge-platform/os-image-vdisk/internal/chain"
	"github.com/open-edge-platform/os-image-vdisk/internal/chunkmap"
)

// ErrNoBootCatalog is returned for images without an El Torito boot record.
var ErrNoBootCatalog = errors.New("no El Torito boot catalog")

const (
	cdSectorSize     = 2048
	bootRecordSector = 17
	catalogLBAOffset = 0x47
)

var elToritoID = []byte("EL TORITO SPECIFICATION")

// ReadBootCatalog reads the El Torito boot record of the mapped image and
// returns the catalog LBA together with a copy of the catalog sector. All
// reads go through the engine, so overrides are honoured.
func ReadBootCatalog(m chunkmap.Mapper, dev chunkmap.Device) (uint32, []byte, error) {
	if uint64(m.SectorSize())*m.TotalSectors() < (bootRecordSector+1)*cdSectorSize {
		return 0, nil, ErrNoBootCatalog
	}
	rec, err := readBytes(m, dev, bootRecordSector*cdSectorSize, cdSectorSize)
	if err != nil {
		return 0, nil, fmt.Errorf("read boot record: %w", err)
	}
	if rec[0] != 0 || !bytes.Equal(rec[1:6], []byte("CD001")) || !bytes.HasPrefix(rec[7:], elToritoID) {
		return 0, nil, ErrNoBootCatalog
	}
	lba := binary.LittleEndian.Uint32(rec[catalogLBAOffset:])
	if lba == 0 {
		return 0, nil, ErrNoBootCatalog
	}
	sector, err := readBytes(m, dev, uint64(lba)*cdSectorSize, chain.BootCatalogSize)
	if err != nil {
		return 0, nil, fmt.Errorf("read boot catalog at %d: %w", lba, err)
	}
	return lba, sector, nil
}

// readBytes reads n bytes at byte offset off of the apparent image.
func readBytes(m chunkmap.Mapper, dev chunkmap.Device, off, n uint64) ([]byte, error) {
	ss := uint64(m.SectorSize())
	first := off / ss
	last := (off + n + ss - 1) / ss
	if last > m.TotalSectors() {
		return nil, fmt.Errorf("%w: bytes [%d, %d)", chain.ErrAddressOutOfRange, off, off+n)
	}
	buf := make([]byte, (last-first)*ss)
	if _, err := chunkmap.Read(m, dev, first, last-first, buf); err != nil {
		return nil, err
	}
	return buf[off-first*ss : off-first*ss+n], nil
}
