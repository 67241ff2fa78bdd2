package image

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Format identifies the file format an image was loaded from.
type Format int

const (
	// FormatBinary is a raw memory dump with no address information
	FormatBinary Format = iota

	// FormatIntelHex is an Intel HEX file carrying absolute addresses
	FormatIntelHex
)

func (f Format) String() string {
	switch f {
	case FormatBinary:
		return "binary"
	case FormatIntelHex:
		return "intel-hex"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// Image is a firmware image made of one or more contiguous segments.
type Image struct {
	// Format is the source file format
	Format Format

	// Segments are sorted by address and never overlap.
	// Binary images have a single segment at address 0.
	Segments []Segment

	// Entry is the start address from a start-address record
	Entry uint32

	// HasEntry is true when the file declared a start address
	HasEntry bool
}

// Segment is a run of contiguous bytes.
type Segment struct {
	// Address of the first byte
	Address uint32

	// Data is the segment content
	Data []byte
}

// End returns the address one past the last byte.
func (s Segment) End() uint32 {
	return s.Address + uint32(len(s.Data))
}

// Padded returns a copy of the data extended with fill to a multiple of alignment.
func (s Segment) Padded(alignment int, fill byte) []byte {
	n := len(s.Data)
	if alignment > 1 && n%alignment != 0 {
		n += alignment - n%alignment
	}
	out := make([]byte, n)
	copy(out, s.Data)
	for i := len(s.Data); i < n; i++ {
		out[i] = fill
	}
	return out
}

// Absolute reports whether segment addresses are absolute memory addresses.
// Binary images are relative and must be placed by the caller.
func (img *Image) Absolute() bool {
	return img.Format == FormatIntelHex
}

// Size returns the total number of data bytes.
func (img *Image) Size() int {
	n := 0
	for _, s := range img.Segments {
		n += len(s.Data)
	}
	return n
}

// Load reads a firmware image from path. Files ending in .hex, .ihex or .ihx
// are parsed as Intel HEX, anything else as a raw binary.
//
// Example:
//
//	img, err := image.Load("firmware.hex")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, seg := range img.Segments {
//	    fmt.Printf("0x%08X: %d bytes\n", seg.Address, len(seg.Data))
//	}
func Load(path string) (*Image, error) {
	if IsIntelHexPath(path) {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open image: %w", err)
		}
		defer func() { _ = f.Close() }()

		img, err := ParseIntelHex(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return img, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return ParseBinary(data), nil
}

// IsIntelHexPath reports whether path has an Intel HEX extension.
func IsIntelHexPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hex", ".ihex", ".ihx":
		return true
	}
	return false
}

// ParseBinary wraps raw bytes as a relative image. The data is copied.
func ParseBinary(data []byte) *Image {
	img := &Image{Format: FormatBinary}
	if len(data) > 0 {
		img.Segments = []Segment{{Address: 0, Data: append([]byte(nil), data...)}}
	}
	return img
}

// OverlapError indicates two records that write the same address.
type OverlapError struct {
	Address uint32
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("overlapping data at 0x%08X", e.Address)
}

// normalize sorts segments and merges the ones that touch.
func normalize(segs []Segment) ([]Segment, error) {
	sort.Slice(segs, func(i, j int) bool { return segs[i].Address < segs[j].Address })

	out := make([]Segment, 0, len(segs))
	for _, s := range segs {
		if len(s.Data) == 0 {
			continue
		}
		if len(out) > 0 {
			last := &out[len(out)-1]
			switch {
			case s.Address < last.End():
				return nil, &OverlapError{Address: s.Address}
			case s.Address == last.End():
				last.Data = append(last.Data, s.Data...)
				continue
			}
		}
		out = append(out, s)
	}
	return out, nil
}
