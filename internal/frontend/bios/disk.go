// Package bios serves a chunk-mapped virtual disk through the INT 13h disk
// service. Extended reads are resolved by the chunk-map engine and issued
// against the real drive recorded in the chain head.
package bios

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/open-edge-platform/os-image-vdisk/internal/chain"
	"github.com/open-edge-platform/os-image-vdisk/internal/chunkmap"
)

// DefaultMaxTransferSectors is the largest transfer handed to the real drive
// in one call. Many BIOSes reject an extended read above 127 blocks.
const DefaultMaxTransferSectors = 127

// Drive is the INT 13h extended-read service of the real drive, the one that
// was installed before the virtual disk hooked the interrupt.
type Drive interface {
	ExtendedRead(drive uint8, lba uint64, count uint16, dst []byte) Status
}

// Handler services one INT 13h call.
type Handler interface {
	Handle(regs *Registers, mem Memory)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(regs *Registers, mem Memory)

func (f HandlerFunc) Handle(regs *Registers, mem Memory) { f(regs, mem) }

// Config describes how the virtual disk is registered.
type Config struct {
	// Drive is the BIOS number the virtual disk answers to, 80h for a hard
	// disk or E0h and above for a no-emulation CD.
	Drive uint8
	// MaxTransferSectors caps one read against the real drive, in disk
	// sectors. Zero selects DefaultMaxTransferSectors.
	MaxTransferSectors uint16
	// CDROM makes 4Bh report no-emulation El Torito status.
	CDROM bool
}

// Disk is a virtual drive registered with the INT 13h dispatcher.
type Disk struct {
	cfg        Config
	mapper     chunkmap.Mapper
	head       *chain.ChainHead
	dev        *driveDevice
	next       Handler
	lastStatus atomic.Uint32
}

// New registers a virtual disk backed by m. Reads go to the real drive
// under the number head.DiskDrive. Calls for any other drive are passed to
// next, which may be nil.
func New(cfg Config, m chunkmap.Mapper, head *chain.ChainHead, under Drive, next Handler) (*Disk, error) {
	if m == nil || head == nil || under == nil {
		return nil, fmt.Errorf("bios: mapper, chain head and underlying drive are required")
	}
	if cfg.MaxTransferSectors == 0 {
		cfg.MaxTransferSectors = DefaultMaxTransferSectors
	}
	if head.DiskSectorSize == 0 {
		return nil, fmt.Errorf("bios: chain head has no disk sector size")
	}
	if m.SectorSize()%head.DiskSectorSize != 0 {
		return nil, fmt.Errorf("bios: sector size %d is not a multiple of disk sector size %d", m.SectorSize(), head.DiskSectorSize)
	}
	return &Disk{
		cfg:    cfg,
		mapper: m,
		head:   head,
		next:   next,
		dev: &driveDevice{
			drive:      under,
			number:     uint8(head.DiskDrive),
			sectorSize: uint64(head.DiskSectorSize),
			max:        uint64(cfg.MaxTransferSectors),
		},
	}, nil
}

// Drive returns the BIOS number the disk answers to.
func (d *Disk) Drive() uint8 { return d.cfg.Drive }

// ExtendedRead reads count apparent sectors at lba into dst and returns the
// number of sectors transferred with the INT 13h status.
func (d *Disk) ExtendedRead(drive uint8, lba uint64, count uint16, dst []byte) (uint16, Status) {
	if drive != d.cfg.Drive {
		return 0, StatusInvalidParameter
	}
	if count == 0 {
		return 0, StatusSuccess
	}
	n, err := chunkmap.Read(d.mapper, d.dev, lba, uint64(count), dst)
	return uint16(n), statusFor(err)
}

// Handle dispatches one INT 13h call by AH.
func (d *Disk) Handle(regs *Registers, mem Memory) {
	dl := regs.DL()
	if dl != d.cfg.Drive {
		d.forward(regs, mem)
		return
	}

	var st Status
	switch regs.AH() {
	case 0x00: // reset
		st = StatusSuccess
	case 0x01: // status of last operation
		regs.SetStatus(Status(d.lastStatus.Load()))
		return
	case 0x02:
		st = d.readCHS(regs, mem)
	case 0x03, 0x43:
		st = d.write(regs, mem)
	case 0x08:
		st = d.parameters(regs)
	case 0x15:
		d.diskType(regs)
		return
	case 0x41:
		if d.extensionsPresent(regs) {
			d.lastStatus.Store(uint32(StatusSuccess))
			return
		}
		st = StatusInvalidParameter
	case 0x42:
		st = d.readExtended(regs, mem)
	case 0x44, 0x47: // verify and seek need no data movement
		st = StatusSuccess
	case 0x48:
		st = d.extendedParameters(regs, mem)
	case 0x4B:
		st = d.emulationStatus(regs, mem)
	default:
		st = StatusInvalidParameter
	}
	d.lastStatus.Store(uint32(st))
	regs.SetStatus(st)
}

// forward chains a call for another drive, rewriting the drive-map number to
// the real drive it stands for.
func (d *Disk) forward(regs *Registers, mem Memory) {
	if d.next == nil {
		regs.SetStatus(StatusInvalidParameter)
		return
	}
	dl := regs.DL()
	mapped := d.head.DriveMap != 0 && uint32(dl) == d.head.DriveMap
	if mapped {
		regs.SetDL(uint8(d.head.DiskDrive))
	}
	fn := regs.AH()
	d.next.Handle(regs, mem)
	// 08h returns the drive count in DL
	if mapped && fn != 0x08 {
		regs.SetDL(dl)
	}
}

func (d *Disk) readExtended(regs *Registers, mem Memory) Status {
	p, raw, err := readAddressPacket(regs, mem)
	if err != nil {
		return StatusInvalidParameter
	}
	if p.blocks == 0 {
		return StatusSuccess
	}
	dst, err := mem.Slice(p.buffer, uint32(p.blocks)*d.mapper.SectorSize())
	if err != nil {
		binary.LittleEndian.PutUint16(raw[2:4], 0)
		return StatusInvalidParameter
	}
	n, st := d.ExtendedRead(d.cfg.Drive, p.lba, p.blocks, dst)
	binary.LittleEndian.PutUint16(raw[2:4], n)
	return st
}

func (d *Disk) write(regs *Registers, mem Memory) Status {
	if regs.AH() == 0x43 {
		if _, raw, err := readAddressPacket(regs, mem); err == nil {
			binary.LittleEndian.PutUint16(raw[2:4], 0)
		}
	} else {
		regs.SetAL(0)
	}
	return StatusWriteProtected
}

func (d *Disk) readCHS(regs *Registers, mem Memory) Status {
	count := regs.AL()
	if count == 0 {
		return StatusInvalidParameter
	}
	g := d.Geometry()
	sector := uint64(regs.CL() & 0x3F)
	cyl := uint64(regs.CH()) | uint64(regs.CL()&0xC0)<<2
	head := uint64(regs.DH())
	if sector == 0 || sector > uint64(g.SectorsPerTrack) || head >= uint64(g.Heads) {
		regs.SetAL(0)
		return StatusSectorNotFound
	}
	lba := (cyl*uint64(g.Heads)+head)*uint64(g.SectorsPerTrack) + sector - 1

	dst, err := mem.Slice(SegOff(regs.ES, regs.BX), uint32(count)*d.mapper.SectorSize())
	if err != nil {
		regs.SetAL(0)
		return StatusInvalidParameter
	}
	n, st := d.ExtendedRead(d.cfg.Drive, lba, uint16(count), dst)
	regs.SetAL(uint8(n))
	return st
}

// Geometry is the CHS layout the disk reports for legacy callers.
type Geometry struct {
	Cylinders       uint32
	Heads           uint32
	SectorsPerTrack uint32
}

// Geometry derives a 255-head, 63-sector layout from the apparent size.
// Cylinders are capped at what 08h can express.
func (d *Disk) Geometry() Geometry {
	g := Geometry{Heads: 255, SectorsPerTrack: 63}
	cyl := d.mapper.TotalSectors() / uint64(g.Heads*g.SectorsPerTrack)
	if cyl == 0 {
		cyl = 1
	}
	g.Cylinders = uint32(min(cyl, 1024))
	return g
}

func (d *Disk) parameters(regs *Registers) Status {
	g := d.Geometry()
	maxCyl := g.Cylinders - 1
	regs.CX = uint16(maxCyl&0xFF)<<8 | uint16(maxCyl>>2&0xC0) | uint16(g.SectorsPerTrack&0x3F)
	regs.DX = uint16(g.Heads-1)<<8 | 1
	regs.SetAL(0)
	return StatusSuccess
}

// diskType answers 15h: AH=03h (fixed disk) with the sector count in CX:DX.
func (d *Disk) diskType(regs *Registers) {
	total := d.mapper.TotalSectors()
	if total > 0xFFFFFFFF {
		total = 0xFFFFFFFF
	}
	regs.CX = uint16(total >> 16)
	regs.DX = uint16(total)
	regs.Flags &^= FlagCarry
	regs.SetAH(0x03)
	d.lastStatus.Store(uint32(StatusSuccess))
}

// extensionsPresent answers 41h. On success AH carries the extensions
// version, 30h for EDD 3.0, instead of a status.
func (d *Disk) extensionsPresent(regs *Registers) bool {
	if regs.BX != 0x55AA {
		return false
	}
	regs.BX = 0xAA55
	regs.CX = 0x0001 // fixed disk access subset
	regs.SetAH(0x30)
	regs.Flags &^= FlagCarry
	return true
}

// EDD drive parameter result buffer sizes
const (
	paramsSize   = 0x1A
	paramsSizeV2 = 0x1E
)

func (d *Disk) extendedParameters(regs *Registers, mem Memory) Status {
	addr := SegOff(regs.DS, regs.SI)
	hdr, err := mem.Slice(addr, 2)
	if err != nil {
		return StatusInvalidParameter
	}
	size := binary.LittleEndian.Uint16(hdr)
	if size < paramsSize {
		return StatusInvalidParameter
	}
	if size > paramsSizeV2 {
		size = paramsSizeV2
	}
	buf, err := mem.Slice(addr, uint32(size))
	if err != nil {
		return StatusInvalidParameter
	}
	g := d.Geometry()
	var flags uint16
	if !d.cfg.CDROM {
		flags = 0x0002 // CHS information valid
	}
	binary.LittleEndian.PutUint16(buf[0:2], size)
	binary.LittleEndian.PutUint16(buf[2:4], flags)
	binary.LittleEndian.PutUint32(buf[4:8], g.Cylinders)
	binary.LittleEndian.PutUint32(buf[8:12], g.Heads)
	binary.LittleEndian.PutUint32(buf[12:16], g.SectorsPerTrack)
	binary.LittleEndian.PutUint64(buf[16:24], d.mapper.TotalSectors())
	binary.LittleEndian.PutUint16(buf[24:26], uint16(d.mapper.SectorSize()))
	if size >= paramsSizeV2 {
		binary.LittleEndian.PutUint32(buf[26:30], 0xFFFFFFFF) // no EDD configuration table
	}
	return StatusSuccess
}

// specPacketSize is the size of the El Torito specification packet.
const specPacketSize = 0x13

// emulationStatus answers 4Bh with a no-emulation specification packet.
func (d *Disk) emulationStatus(regs *Registers, mem Memory) Status {
	if !d.cfg.CDROM {
		return StatusInvalidParameter
	}
	// AL=00h terminates emulation and AL=01h only queries; both return the packet.
	if al := regs.AL(); al > 0x01 {
		return StatusInvalidParameter
	}
	pkt, err := mem.Slice(SegOff(regs.DS, regs.SI), specPacketSize)
	if err != nil {
		return StatusInvalidParameter
	}
	clear(pkt)
	pkt[0] = specPacketSize
	pkt[1] = 0x00 // no emulation
	pkt[2] = d.cfg.Drive
	binary.LittleEndian.PutUint32(pkt[4:8], d.head.BootCatalog)
	return StatusSuccess
}

// driveDevice issues the engine's disk segments against the real drive,
// splitting them into transfers the BIOS accepts.
type driveDevice struct {
	drive      Drive
	number     uint8
	sectorSize uint64
	max        uint64
}

func (dd *driveDevice) ReadSectors(lba, count uint64, dst []byte) error {
	for count > 0 {
		n := min(count, dd.max)
		if st := dd.drive.ExtendedRead(dd.number, lba, uint16(n), dst[:n*dd.sectorSize]); st != StatusSuccess {
			return &DriveError{Drive: dd.number, Status: st}
		}
		lba += n
		count -= n
		dst = dst[n*dd.sectorSize:]
	}
	return nil
}
