package image

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// Intel HEX record types.
const (
	RecordData                = 0x00
	RecordEOF                 = 0x01
	RecordExtendedSegmentAddr = 0x02
	RecordStartSegmentAddr    = 0x03
	RecordExtendedLinearAddr  = 0x04
	RecordStartLinearAddr     = 0x05
)

const (
	// byte count, 2-byte address, record type
	recordHeaderSize = 4

	// header plus checksum
	recordMinimumSize = recordHeaderSize + 1
)

// RecordError reports a malformed line in an Intel HEX file.
type RecordError struct {
	Line   int
	Reason string
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// ParseIntelHex parses an Intel HEX stream. Data records are collected into
// sorted, merged segments. Parsing stops at the end-of-file record, which
// must be present.
//
// Example:
//
//	f, _ := os.Open("firmware.hex")
//	defer f.Close()
//	img, err := image.ParseIntelHex(f)
func ParseIntelHex(r io.Reader) (*Image, error) {
	scanner := bufio.NewScanner(r)
	img := &Image{Format: FormatIntelHex}

	var (
		segs    []Segment
		base    uint32
		lineNum int
		sawEOF  bool
	)

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line[0] != ':' {
			return nil, &RecordError{Line: lineNum, Reason: "record must start with ':'"}
		}

		rec, err := hex.DecodeString(line[1:])
		if err != nil {
			return nil, &RecordError{Line: lineNum, Reason: fmt.Sprintf("invalid hex data: %v", err)}
		}
		if len(rec) < recordMinimumSize {
			return nil, &RecordError{Line: lineNum, Reason: fmt.Sprintf("record too short: %d bytes", len(rec))}
		}
		count := int(rec[0])
		if len(rec) != recordMinimumSize+count {
			return nil, &RecordError{Line: lineNum,
				Reason: fmt.Sprintf("byte count %d does not match record length %d", count, len(rec)-recordMinimumSize)}
		}
		if sum := checksum(rec); sum != 0 {
			return nil, &RecordError{Line: lineNum, Reason: fmt.Sprintf("checksum mismatch (sum 0x%02X)", sum)}
		}

		offset := uint32(binary.BigEndian.Uint16(rec[1:3]))
		payload := rec[recordHeaderSize : recordHeaderSize+count]

		switch rec[3] {
		case RecordData:
			addr := base + offset
			if n := len(segs); n > 0 && segs[n-1].End() == addr {
				segs[n-1].Data = append(segs[n-1].Data, payload...)
			} else {
				segs = append(segs, Segment{Address: addr, Data: append([]byte(nil), payload...)})
			}
		case RecordEOF:
			sawEOF = true
		case RecordExtendedSegmentAddr:
			if count != 2 {
				return nil, &RecordError{Line: lineNum, Reason: "extended segment address needs 2 bytes"}
			}
			base = uint32(binary.BigEndian.Uint16(payload)) << 4
		case RecordStartSegmentAddr:
			if count != 4 {
				return nil, &RecordError{Line: lineNum, Reason: "start segment address needs 4 bytes"}
			}
			cs := uint32(binary.BigEndian.Uint16(payload[0:2]))
			ip := uint32(binary.BigEndian.Uint16(payload[2:4]))
			img.Entry = cs<<4 + ip
			img.HasEntry = true
		case RecordExtendedLinearAddr:
			if count != 2 {
				return nil, &RecordError{Line: lineNum, Reason: "extended linear address needs 2 bytes"}
			}
			base = uint32(binary.BigEndian.Uint16(payload)) << 16
		case RecordStartLinearAddr:
			if count != 4 {
				return nil, &RecordError{Line: lineNum, Reason: "start linear address needs 4 bytes"}
			}
			img.Entry = binary.BigEndian.Uint32(payload)
			img.HasEntry = true
		default:
			return nil, &RecordError{Line: lineNum, Reason: fmt.Sprintf("unknown record type 0x%02X", rec[3])}
		}

		if sawEOF {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if !sawEOF {
		return nil, fmt.Errorf("missing end-of-file record")
	}

	merged, err := normalize(segs)
	if err != nil {
		return nil, err
	}
	img.Segments = merged
	return img, nil
}

// checksum returns the 8-bit sum of the record; a valid record sums to zero.
func checksum(rec []byte) byte {
	var sum byte
	for _, b := range rec {
		sum += b
	}
	return sum
}
