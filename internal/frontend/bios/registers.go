package bios

import (
	"encoding/binary"
	"fmt"
)

// FlagCarry is the carry bit of the FLAGS register.
const FlagCarry uint16 = 0x0001

// Registers is the real-mode register file seen by an INT 13h handler.
type Registers struct {
	AX, BX, CX, DX uint16
	SI, DI         uint16
	DS, ES         uint16
	Flags          uint16
}

func (r *Registers) AH() uint8 { return uint8(r.AX >> 8) }
func (r *Registers) AL() uint8 { return uint8(r.AX) }
func (r *Registers) CH() uint8 { return uint8(r.CX >> 8) }
func (r *Registers) CL() uint8 { return uint8(r.CX) }
func (r *Registers) DH() uint8 { return uint8(r.DX >> 8) }
func (r *Registers) DL() uint8 { return uint8(r.DX) }

func (r *Registers) SetAH(v uint8) { r.AX = r.AX&0x00FF | uint16(v)<<8 }
func (r *Registers) SetAL(v uint8) { r.AX = r.AX&0xFF00 | uint16(v) }
func (r *Registers) SetDL(v uint8) { r.DX = r.DX&0xFF00 | uint16(v) }

// Carry reports whether the carry flag is set.
func (r *Registers) Carry() bool { return r.Flags&FlagCarry != 0 }

// SetStatus stores s in AH and sets the carry flag iff s is an error.
func (r *Registers) SetStatus(s Status) {
	r.SetAH(uint8(s))
	if s != StatusSuccess {
		r.Flags |= FlagCarry
	} else {
		r.Flags &^= FlagCarry
	}
}

// Memory gives the handler access to guest memory by flat address.
type Memory interface {
	Slice(addr uint64, n uint32) ([]byte, error)
}

// FlatMemory is guest memory backed by one byte slice starting at address 0.
type FlatMemory []byte

func (m FlatMemory) Slice(addr uint64, n uint32) ([]byte, error) {
	if addr > uint64(len(m)) || uint64(n) > uint64(len(m))-addr {
		return nil, fmt.Errorf("memory [%#x, %#x) outside %d bytes", addr, addr+uint64(n), len(m))
	}
	return m[addr : addr+uint64(n)], nil
}

// SegOff converts a real-mode segment:offset pair to a flat address.
func SegOff(seg, off uint16) uint64 { return uint64(seg)<<4 + uint64(off) }

// Disk address packet sizes
const (
	dapSize     = 0x10
	dapSizeFlat = 0x18
)

// addressPacket is a decoded EDD disk address packet.
type addressPacket struct {
	size   uint8
	blocks uint16
	buffer uint64 // flat address of the transfer buffer
	lba    uint64
}

// readAddressPacket decodes the packet at DS:SI. A 24-byte packet whose
// segment:offset is FFFF:FFFF carries a 64-bit flat buffer address.
func readAddressPacket(regs *Registers, mem Memory) (addressPacket, []byte, error) {
	raw, err := mem.Slice(SegOff(regs.DS, regs.SI), dapSize)
	if err != nil {
		return addressPacket{}, nil, err
	}
	p := addressPacket{
		size:   raw[0],
		blocks: binary.LittleEndian.Uint16(raw[2:4]),
		lba:    binary.LittleEndian.Uint64(raw[8:16]),
	}
	if p.size < dapSize {
		return p, nil, fmt.Errorf("disk address packet size %#x", p.size)
	}
	off := binary.LittleEndian.Uint16(raw[4:6])
	seg := binary.LittleEndian.Uint16(raw[6:8])
	p.buffer = SegOff(seg, off)
	if seg == 0xFFFF && off == 0xFFFF && p.size >= dapSizeFlat {
		ext, err := mem.Slice(SegOff(regs.DS, regs.SI), dapSizeFlat)
		if err != nil {
			return p, nil, err
		}
		p.buffer = binary.LittleEndian.Uint64(ext[16:24])
	}
	return p, raw, nil
}
