package device

import (
	"fmt"
	"strings"

	"github.com/boljen/go-bitmap"
)

// Read protection levels stored in the RDP option byte.
const (
	// ReadProtectDisabled is the only RDP value that leaves flash readable
	ReadProtectDisabled = 0xA5

	// ReadProtectEnabled is what the read-protect builder writes to enable protection
	ReadProtectEnabled = 0x00
)

// WriteProtectBits is the number of write-protect bits across WRP0..WRP3.
const WriteProtectBits = 32

// User option byte bits.
const (
	userWatchdogSoftware = 1 << 0
	userNoResetOnStop    = 1 << 1
	userNoResetOnStandby = 1 << 2
)

// OptionAttributes are the individual settings encoded in the option bytes.
type OptionAttributes struct {
	// ReadProtect is the raw RDP byte; ReadProtectDisabled (0xA5) disables protection
	ReadProtect byte

	// SoftwareWatchdog selects the software watchdog instead of the hardware one
	SoftwareWatchdog bool

	// ResetOnStop generates a reset when entering Stop mode
	ResetOnStop bool

	// ResetOnStandby generates a reset when entering Standby mode
	ResetOnStandby bool

	Data0 byte
	Data1 byte

	// WriteProtect holds WRP0..WRP3; a cleared bit protects its sector
	WriteProtect [4]byte
}

// OptionBytes is an immutable view of the 16-byte F1 option-byte block:
// eight value/complement pairs for RDP, USER, DATA0, DATA1 and WRP0..WRP3.
//
// The zero value is an all-zero image. Build values with DecodeOptionBytes,
// NewOptionBytes or FactoryOptionBytes, and derive changed copies with the
// With* methods.
type OptionBytes struct {
	readProtect      byte
	user             byte
	softwareWatchdog bool
	resetOnStop      bool
	resetOnStandby   bool
	data             [2]byte
	wrp              [4]byte
	raw              [OptionBytesSize]byte
}

// DecodeOptionBytes decodes a raw image as read from the device.
// Complement bytes are not checked, and Raw returns the image unchanged.
func DecodeOptionBytes(raw []byte) (OptionBytes, error) {
	if len(raw) != OptionBytesSize {
		return OptionBytes{}, &OptionBytesLengthError{Length: len(raw)}
	}

	ob := OptionBytes{
		readProtect:      raw[0],
		user:             raw[2],
		softwareWatchdog: raw[2]&userWatchdogSoftware != 0,
		resetOnStop:      raw[2]&userNoResetOnStop == 0,
		resetOnStandby:   raw[2]&userNoResetOnStandby == 0,
		data:             [2]byte{raw[4], raw[6]},
		wrp:              [4]byte{raw[8], raw[10], raw[12], raw[14]},
	}
	copy(ob.raw[:], raw)
	return ob, nil
}

// NewOptionBytes encodes a set of attributes.
//
// Example:
//
//	ob := device.NewOptionBytes(device.OptionAttributes{
//	    ReadProtect:  device.ReadProtectDisabled,
//	    WriteProtect: [4]byte{0xFF, 0xFF, 0xFF, 0xFF},
//	})
func NewOptionBytes(attrs OptionAttributes) OptionBytes {
	ob := OptionBytes{
		readProtect:      attrs.ReadProtect,
		softwareWatchdog: attrs.SoftwareWatchdog,
		resetOnStop:      attrs.ResetOnStop,
		resetOnStandby:   attrs.ResetOnStandby,
		data:             [2]byte{attrs.Data0, attrs.Data1},
		wrp:              attrs.WriteProtect,
	}
	return ob.reencode()
}

// FactoryOptionBytes returns the image of an erased option-byte block:
// read protection disabled, software watchdog, no reset on Stop or Standby,
// and no sector write-protected.
func FactoryOptionBytes() OptionBytes {
	return NewOptionBytes(OptionAttributes{
		ReadProtect:      ReadProtectDisabled,
		SoftwareWatchdog: true,
		Data0:            0xFF,
		Data1:            0xFF,
		WriteProtect:     [4]byte{0xFF, 0xFF, 0xFF, 0xFF},
	})
}

// Attributes returns the decoded settings.
func (ob OptionBytes) Attributes() OptionAttributes {
	return OptionAttributes{
		ReadProtect:      ob.readProtect,
		SoftwareWatchdog: ob.softwareWatchdog,
		ResetOnStop:      ob.resetOnStop,
		ResetOnStandby:   ob.resetOnStandby,
		Data0:            ob.data[0],
		Data1:            ob.data[1],
		WriteProtect:     ob.wrp,
	}
}

// Raw returns the cached image: the bytes as read for decoded values,
// the encoded bytes otherwise.
func (ob OptionBytes) Raw() [OptionBytesSize]byte {
	return ob.raw
}

// Bytes encodes the settings into a fresh 16-byte image. The user byte is
// regenerated from the watchdog and reset flags and every complement byte is
// recomputed, so the result is always writable.
func (ob OptionBytes) Bytes() [OptionBytesSize]byte {
	values := [8]byte{
		ob.readProtect,
		ob.generateUserByte(),
		ob.data[0],
		ob.data[1],
		ob.wrp[0],
		ob.wrp[1],
		ob.wrp[2],
		ob.wrp[3],
	}

	var out [OptionBytesSize]byte
	for i, v := range values {
		out[2*i] = v
		out[2*i+1] = v ^ 0xFF
	}
	return out
}

func (ob OptionBytes) generateUserByte() byte {
	var user byte
	if ob.softwareWatchdog {
		user |= userWatchdogSoftware
	}
	if !ob.resetOnStop {
		user |= userNoResetOnStop
	}
	if !ob.resetOnStandby {
		user |= userNoResetOnStandby
	}
	return user
}

func (ob OptionBytes) reencode() OptionBytes {
	ob.user = ob.generateUserByte()
	ob.raw = ob.Bytes()
	return ob
}

// ReadProtectByte returns the raw RDP byte.
func (ob OptionBytes) ReadProtectByte() byte { return ob.readProtect }

// ReadProtected reports whether flash readout protection is active.
func (ob OptionBytes) ReadProtected() bool { return ob.readProtect != ReadProtectDisabled }

// UserByte returns the USER byte: as read for decoded values, generated otherwise.
func (ob OptionBytes) UserByte() byte { return ob.user }

func (ob OptionBytes) SoftwareWatchdog() bool { return ob.softwareWatchdog }
func (ob OptionBytes) ResetOnStop() bool      { return ob.resetOnStop }
func (ob OptionBytes) ResetOnStandby() bool   { return ob.resetOnStandby }
func (ob OptionBytes) DataByte0() byte        { return ob.data[0] }
func (ob OptionBytes) DataByte1() byte        { return ob.data[1] }

// WriteProtectBytes returns WRP0..WRP3.
func (ob OptionBytes) WriteProtectBytes() [4]byte { return ob.wrp }

// WriteProtected reports whether every sector is write-protected (all WRP bytes zero).
func (ob OptionBytes) WriteProtected() bool {
	return ob.wrp == [4]byte{}
}

// WithReadProtect enables or disables readout protection.
func (ob OptionBytes) WithReadProtect(enabled bool) OptionBytes {
	if enabled {
		ob.readProtect = ReadProtectEnabled
	} else {
		ob.readProtect = ReadProtectDisabled
	}
	return ob.reencode()
}

func (ob OptionBytes) WithSoftwareWatchdog(software bool) OptionBytes {
	ob.softwareWatchdog = software
	return ob.reencode()
}

func (ob OptionBytes) WithResetOnStop(reset bool) OptionBytes {
	ob.resetOnStop = reset
	return ob.reencode()
}

func (ob OptionBytes) WithResetOnStandby(reset bool) OptionBytes {
	ob.resetOnStandby = reset
	return ob.reencode()
}

func (ob OptionBytes) WithDataByte0(b byte) OptionBytes {
	ob.data[0] = b
	return ob.reencode()
}

func (ob OptionBytes) WithDataByte1(b byte) OptionBytes {
	ob.data[1] = b
	return ob.reencode()
}

// WithWriteProtectByte replaces WRPn. n must be 0..3.
func (ob OptionBytes) WithWriteProtectByte(n int, b byte) (OptionBytes, error) {
	if n < 0 || n >= len(ob.wrp) {
		return ob, fmt.Errorf("write protect byte index %d out of range 0-3", n)
	}
	ob.wrp[n] = b
	return ob.reencode(), nil
}

// WithWriteProtectAll protects (all WRP bytes 0x00) or releases (all 0xFF) every sector.
func (ob OptionBytes) WithWriteProtectAll(protected bool) OptionBytes {
	fill := byte(0xFF)
	if protected {
		fill = 0x00
	}
	ob.wrp = [4]byte{fill, fill, fill, fill}
	return ob.reencode()
}

// ProtectedSectors lists the write-protected sectors, i.e. the cleared WRP bits.
func (ob OptionBytes) ProtectedSectors() []int {
	bm := ob.sectorMap()
	var sectors []int
	for i := 0; i < WriteProtectBits; i++ {
		if bm.Get(i) {
			sectors = append(sectors, i)
		}
	}
	return sectors
}

// WithProtectedSectors write-protects exactly the listed sectors (0..31).
func (ob OptionBytes) WithProtectedSectors(sectors []int) (OptionBytes, error) {
	var wrp [4]byte
	for i := range wrp {
		wrp[i] = 0xFF
	}
	for _, s := range sectors {
		if s < 0 || s >= WriteProtectBits {
			return ob, fmt.Errorf("write protect sector %d out of range 0-%d", s, WriteProtectBits-1)
		}
		// a cleared bit protects the sector
		wrp[s/8] &^= 1 << uint(s%8)
	}
	ob.wrp = wrp
	return ob.reencode(), nil
}

// sectorMap returns a bitmap with a set bit for every protected sector.
func (ob OptionBytes) sectorMap() bitmap.Bitmap {
	bm := bitmap.New(WriteProtectBits)
	for i := 0; i < WriteProtectBits; i++ {
		if ob.wrp[i/8]&(1<<uint(i%8)) == 0 {
			bm.Set(i, true)
		}
	}
	return bm
}

// String renders the raw image as hex, four bytes per line.
func (ob OptionBytes) String() string {
	lines := make([]string, 0, OptionBytesSize/4)
	for i := 0; i < OptionBytesSize; i += 4 {
		lines = append(lines, fmt.Sprintf("%02X %02X %02X %02X", ob.raw[i], ob.raw[i+1], ob.raw[i+2], ob.raw[i+3]))
	}
	return strings.Join(lines, "\n")
}
