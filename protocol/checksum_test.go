package protocol

import (
	"bytes"
	"testing"
)

func TestChecksum(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected byte
	}{
		{
			name:     "empty data",
			data:     []byte{},
			expected: 0x00,
		},
		{
			name:     "single byte",
			data:     []byte{0x5A},
			expected: 0x5A,
		},
		{
			name:     "address 0x08000000",
			data:     []byte{0x08, 0x00, 0x00, 0x00},
			expected: 0x08,
		},
		{
			name:     "pairs cancel",
			data:     []byte{0x12, 0x34, 0x12, 0x34},
			expected: 0x00,
		},
		{
			name:     "erase all",
			data:     []byte{0xFF},
			expected: 0xFF,
		},
		{
			name:     "mixed bytes",
			data:     []byte{0x01, 0x02, 0x04, 0x08},
			expected: 0x0F,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Checksum(tt.data)
			if result != tt.expected {
				t.Errorf("Checksum() = 0x%02X, want 0x%02X", result, tt.expected)
			}
		})
	}
}

func TestAppendChecksum(t *testing.T) {
	data := []byte{0x20, 0x00, 0x02, 0x00}
	orig := append([]byte(nil), data...)

	result := AppendChecksum(data)

	if !bytes.Equal(data, orig) {
		t.Errorf("input modified: % X", data)
	}
	if len(result) != len(data)+1 {
		t.Fatalf("length = %d, want %d", len(result), len(data)+1)
	}
	if result[len(result)-1] != 0x22 {
		t.Errorf("checksum = 0x%02X, want 0x22", result[len(result)-1])
	}
	// XOR over payload plus checksum is always zero
	if Checksum(result) != 0 {
		t.Errorf("Checksum(framed) = 0x%02X, want 0x00", Checksum(result))
	}
}

func TestComplement(t *testing.T) {
	for i := 0; i < 256; i++ {
		b := byte(i)
		c := Complement(b)
		if b^c != 0xFF {
			t.Fatalf("0x%02X ^ Complement = 0x%02X, want 0xFF", b, b^c)
		}
		if Complement(c) != b {
			t.Fatalf("Complement(Complement(0x%02X)) = 0x%02X", b, Complement(c))
		}
	}
}

func TestEncodeAddress(t *testing.T) {
	tests := []struct {
		addr     uint32
		expected []byte
	}{
		{0x00000000, []byte{0x00, 0x00, 0x00, 0x00}},
		{0x08000000, []byte{0x08, 0x00, 0x00, 0x00}},
		{0x1FFFF800, []byte{0x1F, 0xFF, 0xF8, 0x00}},
		{0x20000200, []byte{0x20, 0x00, 0x02, 0x00}},
		{0xFFFFFFFF, []byte{0xFF, 0xFF, 0xFF, 0xFF}},
	}

	for _, tt := range tests {
		got := EncodeAddress(tt.addr)
		if !bytes.Equal(got, tt.expected) {
			t.Errorf("EncodeAddress(0x%08X) = % X, want % X", tt.addr, got, tt.expected)
		}

		decoded, err := DecodeAddress(got)
		if err != nil {
			t.Fatalf("DecodeAddress(% X) error: %v", got, err)
		}
		if decoded != tt.addr {
			t.Errorf("DecodeAddress(EncodeAddress(0x%08X)) = 0x%08X", tt.addr, decoded)
		}
	}
}

func TestDecodeAddress(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    uint32
		wantErr bool
	}{
		{
			name: "with valid checksum",
			data: []byte{0x08, 0x00, 0x10, 0x00, 0x18},
			want: 0x08001000,
		},
		{
			name:    "with bad checksum",
			data:    []byte{0x08, 0x00, 0x10, 0x00, 0x00},
			wantErr: true,
		},
		{
			name:    "too short",
			data:    []byte{0x08, 0x00},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeAddress(tt.data)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("DecodeAddress() = 0x%08X, want 0x%08X", got, tt.want)
			}
		})
	}
}
