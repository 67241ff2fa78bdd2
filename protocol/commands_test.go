package protocol

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestCommandFrame(t *testing.T) {
	tests := []struct {
		cmd      Command
		expected []byte
	}{
		{CmdGet, []byte{0x00, 0xFF}},
		{CmdGetVersion, []byte{0x01, 0xFE}},
		{CmdGetID, []byte{0x02, 0xFD}},
		{CmdReadMemory, []byte{0x11, 0xEE}},
		{CmdGo, []byte{0x21, 0xDE}},
		{CmdWriteMemory, []byte{0x31, 0xCE}},
		{CmdErase, []byte{0x43, 0xBC}},
		{CmdWriteProtect, []byte{0x63, 0x9C}},
		{CmdWriteUnprotect, []byte{0x73, 0x8C}},
		{CmdReadoutProtect, []byte{0x82, 0x7D}},
		{CmdReadoutUnprotect, []byte{0x92, 0x6D}},
	}

	for _, tt := range tests {
		t.Run(tt.cmd.String(), func(t *testing.T) {
			frame := CommandFrame(tt.cmd)
			if !bytes.Equal(frame, tt.expected) {
				t.Errorf("CommandFrame() = % X, want % X", frame, tt.expected)
			}
		})
	}
}

func TestAddressFrame(t *testing.T) {
	frame := AddressFrame(0x1FFFF800)
	expected := []byte{0x1F, 0xFF, 0xF8, 0x00, 0x1F ^ 0xFF ^ 0xF8}
	if !bytes.Equal(frame, expected) {
		t.Errorf("AddressFrame() = % X, want % X", frame, expected)
	}
}

func TestEraseAllFrame(t *testing.T) {
	if frame := EraseAllFrame(); !bytes.Equal(frame, []byte{0xFF, 0x00}) {
		t.Errorf("EraseAllFrame() = % X, want FF 00", frame)
	}
}

func TestBuildReadLengthFrame(t *testing.T) {
	tests := []struct {
		name     string
		length   int
		expected []byte
		wantErr  bool
	}{
		{name: "one byte", length: 1, expected: []byte{0x00, 0xFF}},
		{name: "sixteen bytes", length: 16, expected: []byte{0x0F, 0xF0}},
		{name: "maximum", length: 256, expected: []byte{0xFF, 0x00}},
		{name: "zero", length: 0, wantErr: true},
		{name: "negative", length: -4, wantErr: true},
		{name: "too long", length: 257, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := BuildReadLengthFrame(tt.length)
			if tt.wantErr {
				var lenErr *LengthError
				if !errors.As(err, &lenErr) {
					t.Fatalf("expected *LengthError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !bytes.Equal(frame, tt.expected) {
				t.Errorf("frame = % X, want % X", frame, tt.expected)
			}
		})
	}
}

func TestBuildWriteDataFrame(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr bool
		errMsg  string
	}{
		{name: "four bytes", data: []byte{0x01, 0x02, 0x03, 0x04}},
		{name: "maximum", data: make([]byte, 256)},
		{name: "empty", data: nil, wantErr: true, errMsg: "invalid length 0"},
		{name: "too long", data: make([]byte, 260), wantErr: true, errMsg: "invalid length 260"},
		{name: "unaligned", data: make([]byte, 6), wantErr: true, errMsg: "not a multiple of 4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := BuildWriteDataFrame(tt.data)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error containing %q, got nil", tt.errMsg)
				}
				if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("error = %v, want substring %q", err, tt.errMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if len(frame) != len(tt.data)+2 {
				t.Fatalf("frame length = %d, want %d", len(frame), len(tt.data)+2)
			}
			if frame[0] != byte(len(tt.data)-1) {
				t.Errorf("length byte = 0x%02X, want 0x%02X", frame[0], byte(len(tt.data)-1))
			}
			if !bytes.Equal(frame[1:len(frame)-1], tt.data) {
				t.Error("payload not copied verbatim")
			}
			if Checksum(frame) != 0 {
				t.Errorf("frame checksum does not cover length and data")
			}
		})
	}
}

func TestBuildErasePagesFrame(t *testing.T) {
	frame, err := BuildErasePagesFrame([]byte{0x00, 0x01, 0x02})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := []byte{0x02, 0x00, 0x01, 0x02, 0x02 ^ 0x01 ^ 0x02}
	if !bytes.Equal(frame, expected) {
		t.Errorf("frame = % X, want % X", frame, expected)
	}

	if _, err := BuildErasePagesFrame(nil); err == nil {
		t.Error("expected error for empty page list")
	}
	if _, err := BuildErasePagesFrame(make([]byte, 257)); err == nil {
		t.Error("expected error for 257 pages")
	}
	if _, err := BuildErasePagesFrame(make([]byte, 256)); err != nil {
		t.Errorf("256 pages rejected: %v", err)
	}
}

func TestBuildWriteProtectFrame(t *testing.T) {
	frame, err := BuildWriteProtectFrame([]byte{0x05})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(frame, []byte{0x00, 0x05, 0x05}) {
		t.Errorf("frame = % X, want 00 05 05", frame)
	}

	if _, err := BuildWriteProtectFrame([]byte{}); err == nil {
		t.Error("expected error for empty sector list")
	}
}
