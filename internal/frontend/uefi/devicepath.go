package uefi

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// VendorGUID identifies the vendor media node of the virtual disk.
var VendorGUID = uuid.MustParse("6f1d4c2b-8a3e-4b57-9c60-d1e2f3a4b5c6")

// Device path node types
const (
	mediaDevicePath = 0x04
	mediaVendorDP   = 0x03
	endDevicePath   = 0x7F
	endEntireDP     = 0xFF
	endNodeLength   = 4
)

// GUIDBytes returns u in EFI_GUID layout: the first three fields are little
// endian, the last eight bytes keep their order.
func GUIDBytes(u uuid.UUID) [16]byte {
	var g [16]byte
	binary.LittleEndian.PutUint32(g[0:4], binary.BigEndian.Uint32(u[0:4]))
	binary.LittleEndian.PutUint16(g[4:6], binary.BigEndian.Uint16(u[4:6]))
	binary.LittleEndian.PutUint16(g[6:8], binary.BigEndian.Uint16(u[6:8]))
	copy(g[8:], u[8:])
	return g
}

// VendorDevicePath appends a vendor media node carrying data to parent, an
// end-terminated device path or nil, and terminates the result.
func VendorDevicePath(parent []byte, guid uuid.UUID, data []byte) []byte {
	if n := len(parent); n >= endNodeLength && parent[n-endNodeLength] == endDevicePath && parent[n-endNodeLength+1] == endEntireDP {
		parent = parent[:n-endNodeLength]
	}
	nodeLen := 4 + 16 + len(data)
	out := make([]byte, 0, len(parent)+nodeLen+endNodeLength)
	out = append(out, parent...)
	out = append(out, mediaDevicePath, mediaVendorDP)
	out = binary.LittleEndian.AppendUint16(out, uint16(nodeLen))
	g := GUIDBytes(guid)
	out = append(out, g[:]...)
	out = append(out, data...)
	return append(out, endDevicePath, endEntireDP, endNodeLength, 0)
}
