// Package vdisk loads a chain blob over a host disk and reads the virtual
// disk through one of the firmware front ends, the way a boot loader or the
// firmware would see it.
package vdisk

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/google/uuid"

	"github.com/open-edge-platform/os-image-vdisk/internal/chain"
	"github.com/open-edge-platform/os-image-vdisk/internal/chunkmap"
	"github.com/open-edge-platform/os-image-vdisk/internal/frontend/bios"
	"github.com/open-edge-platform/os-image-vdisk/internal/frontend/uefi"
	"github.com/open-edge-platform/os-image-vdisk/internal/hostdisk"
	"github.com/open-edge-platform/os-image-vdisk/internal/utils/logger"
)

var log = logger.Logger()

// Front ends a session can read through.
const (
	ViaBIOS = "bios"
	ViaUEFI = "uefi"
)

// Vias lists the accepted front end names.
var Vias = []string{ViaBIOS, ViaUEFI}

// BIOS guest memory layout used to drive INT 13h calls.
const (
	dapAddr     = 0x0500
	bufferAddr  = 0x1000
	maxDAPBlock = 64
)

// Options selects the front end and its identity.
type Options struct {
	Via        string
	BIOS       bios.Config
	UEFI       uefi.Config
	VendorGUID uuid.UUID
}

// Session is a virtual disk published over a host disk.
type Session struct {
	host  *hostdisk.Disk
	view  *chain.View
	table *chunkmap.Table
	via   string

	bios    *bios.Disk
	blockIO *uefi.BlockIO

	// DevicePath is the UEFI device path of the virtual disk, nil for BIOS.
	DevicePath []byte
}

// Open parses the chain at chainPath and publishes it over diskPath.
func Open(diskPath, chainPath string, opts Options) (*Session, error) {
	if !slices.Contains(Vias, opts.Via) {
		return nil, fmt.Errorf("unsupported front end %q (supported: bios, uefi)", opts.Via)
	}
	blob, err := os.ReadFile(chainPath)
	if err != nil {
		return nil, fmt.Errorf("read chain file: %w", err)
	}
	view, err := chain.Parse(blob)
	if err != nil {
		return nil, err
	}
	table, err := chunkmap.New(view)
	if err != nil {
		return nil, err
	}
	head := view.Head()
	host, err := hostdisk.Open(diskPath, head.DiskSectorSize)
	if err != nil {
		return nil, err
	}

	s := &Session{host: host, view: view, table: table, via: opts.Via}
	if err := s.publish(opts); err != nil {
		host.Close()
		return nil, err
	}
	log.Debugf("virtual disk: %d sectors of %d bytes over %s via %s",
		table.TotalSectors(), table.SectorSize(), diskPath, opts.Via)
	return s, nil
}

func (s *Session) publish(opts Options) error {
	head := s.view.Head()
	switch s.via {
	case ViaBIOS:
		d, err := bios.New(opts.BIOS, s.table, head, s.host.Drive(uint8(head.DiskDrive)), nil)
		if err != nil {
			return err
		}
		regs := bios.Registers{AX: 0x4100, BX: 0x55AA, DX: uint16(d.Drive())}
		d.Handle(&regs, bios.FlatMemory(nil))
		if regs.Carry() || regs.BX != 0xAA55 {
			return fmt.Errorf("drive %02Xh does not report INT 13h extensions", d.Drive())
		}
		s.bios = d
	case ViaUEFI:
		b, err := uefi.New(opts.UEFI, s.table, head, s.host)
		if err != nil {
			return err
		}
		guid := opts.VendorGUID
		if guid == uuid.Nil {
			guid = uefi.VendorGUID
		}
		s.DevicePath = uefi.VendorDevicePath(nil, guid, head.OSParam.DiskGUID[:])
		s.blockIO = b
	}
	return nil
}

// Close releases the host disk.
func (s *Session) Close() error { return s.host.Close() }

// Head returns the chain head.
func (s *Session) Head() *chain.ChainHead { return s.view.Head() }

// View returns the parsed chain.
func (s *Session) View() *chain.View { return s.view }

// Via returns the front end reads go through.
func (s *Session) Via() string { return s.via }

func (s *Session) SectorSize() uint32   { return s.table.SectorSize() }
func (s *Session) TotalSectors() uint64 { return s.table.TotalSectors() }

// ReadSectors reads count apparent sectors at lba into dst through the
// session's front end.
func (s *Session) ReadSectors(lba, count uint64, dst []byte) error {
	ss := uint64(s.table.SectorSize())
	if uint64(len(dst)) < count*ss {
		return fmt.Errorf("%w: %d bytes for %d sectors", chunkmap.ErrShortBuffer, len(dst), count)
	}
	if s.blockIO != nil {
		media := s.blockIO.Media()
		if st := s.blockIO.ReadBlocks(media.MediaID, lba, dst[:count*ss]); st != uefi.Success {
			return fmt.Errorf("ReadBlocks at LBA %d: %w", lba, &uefi.RawError{Status: st})
		}
		return nil
	}
	for count > 0 {
		n := min(count, maxDAPBlock)
		if err := s.extendedRead(lba, n, dst[:n*ss]); err != nil {
			return err
		}
		lba += n
		count -= n
		dst = dst[n*ss:]
	}
	return nil
}

// extendedRead issues one INT 13h AH=42h call with a flat-address packet.
func (s *Session) extendedRead(lba, count uint64, dst []byte) error {
	mem := make(bios.FlatMemory, bufferAddr+len(dst))
	dap := mem[dapAddr : dapAddr+0x18]
	dap[0] = 0x18
	binary.LittleEndian.PutUint16(dap[2:], uint16(count))
	binary.LittleEndian.PutUint32(dap[4:], 0xFFFFFFFF)
	binary.LittleEndian.PutUint64(dap[8:], lba)
	binary.LittleEndian.PutUint64(dap[16:], bufferAddr)

	regs := bios.Registers{AX: 0x4200, DX: uint16(s.bios.Drive()), SI: dapAddr}
	s.bios.Handle(&regs, mem)
	if regs.Carry() {
		done := binary.LittleEndian.Uint16(dap[2:])
		return fmt.Errorf("INT 13h AH=42h at LBA %d (%d of %d sectors): %w",
			lba, done, count, &bios.DriveError{Drive: s.bios.Drive(), Status: bios.Status(regs.AH())})
	}
	copy(dst, mem[bufferAddr:])
	return nil
}

// IsOutOfRange reports whether err is a read past the end of the virtual disk
// as the front end reports it.
func IsOutOfRange(err error) bool {
	var de *bios.DriveError
	if errors.As(err, &de) {
		return de.Status == bios.StatusSectorNotFound
	}
	var re *uefi.RawError
	if errors.As(err, &re) {
		return re.Status == uefi.InvalidParameter
	}
	return false
}
