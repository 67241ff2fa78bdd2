package protocol

import (
	"encoding/binary"
	"fmt"
)

// AddressSize is the number of address bytes on the wire, excluding the checksum.
const AddressSize = 4

// Checksum computes the bootloader checksum of a payload: the XOR of all bytes.
// An empty payload has checksum 0x00.
func Checksum(data []byte) byte {
	var chk byte
	for _, b := range data {
		chk ^= b
	}
	return chk
}

// AppendChecksum returns a copy of data with its checksum appended.
// The input slice is not modified.
func AppendChecksum(data []byte) []byte {
	out := make([]byte, 0, len(data)+1)
	out = append(out, data...)
	return append(out, Checksum(data))
}

// Complement returns the bitwise complement of b.
func Complement(b byte) byte {
	return b ^ 0xFF
}

// EncodeAddress returns the 4-byte big-endian representation of addr.
func EncodeAddress(addr uint32) []byte {
	b := make([]byte, AddressSize)
	binary.BigEndian.PutUint32(b, addr)
	return b
}

// DecodeAddress parses a 4-byte big-endian address.
// A trailing checksum byte, if present, must match.
func DecodeAddress(b []byte) (uint32, error) {
	switch len(b) {
	case AddressSize:
	case AddressSize + 1:
		if chk := Checksum(b[:AddressSize]); chk != b[AddressSize] {
			return 0, fmt.Errorf("address checksum mismatch: got 0x%02X, expected 0x%02X", b[AddressSize], chk)
		}
	default:
		return 0, fmt.Errorf("invalid address length: got %d bytes, expected %d", len(b), AddressSize)
	}
	return binary.BigEndian.Uint32(b[:AddressSize]), nil
}
