package device

import (
	"fmt"

	"github.com/moffa90/go-stm32boot/protocol"
)

// Density is the STM32 F1 density class selected by the product ID.
type Density int

const (
	DensityUnknown Density = iota
	DensityLow
	DensityMedium
	DensityHigh
	DensityXL
	DensityMediumValueLine
	DensityHighValueLine
)

func (d Density) String() string {
	switch d {
	case DensityLow:
		return "low density"
	case DensityMedium:
		return "medium density"
	case DensityHigh:
		return "high density"
	case DensityXL:
		return "XL density"
	case DensityMediumValueLine:
		return "medium density value line"
	case DensityHighValueLine:
		return "high density value line"
	default:
		return "unknown"
	}
}

// Memory map constants common to the F1 line.
const (
	FlashStart            = 0x08000000
	OptionBytesAddress    = 0x1FFFF800
	OptionBytesSize       = 16
	defaultBootloaderRAM  = 0x20000000
	defaultBootloaderEnd  = 0x200001FF
	defaultSystemMemStart = 0x1FFFF000
	defaultSystemMemEnd   = 0x1FFFF7FF
)

type variant struct {
	density  Density
	name     string
	ram      Region
	pageSize int
	pageNum  int

	// zero values keep the defaults
	bootloaderRAM Region
	systemMemory  Region
}

var variants = map[uint16]variant{
	0x0412: {
		density:  DensityLow,
		name:     "stm32f10xxxLowDensity",
		ram:      Region{"ram", 0x20000200, 0x200027FF},
		pageSize: 1024,
		pageNum:  32,
	},
	0x0410: {
		density:  DensityMedium,
		name:     "stm32f10xxxMedDensity",
		ram:      Region{"ram", 0x20000200, 0x20004FFF},
		pageSize: 1024,
		pageNum:  128,
	},
	0x0414: {
		density:  DensityHigh,
		name:     "stm32f10xxxHighDensity",
		ram:      Region{"ram", 0x20000200, 0x2000FFFF},
		pageSize: 2048,
		pageNum:  256,
	},
	0x0420: {
		density:  DensityMediumValueLine,
		name:     "stm32f10xxxMedDensityValueLine",
		ram:      Region{"ram", 0x20000200, 0x20001FFF},
		pageSize: 1024,
		pageNum:  128,
	},
	0x0428: {
		density:  DensityHighValueLine,
		name:     "stm32f10xxxHighDensityValueLine",
		ram:      Region{"ram", 0x20000200, 0x20007FFF},
		pageSize: 2048,
		pageNum:  256,
	},
	0x0430: {
		density:       DensityXL,
		name:          "stm32f10xxxXlDensity",
		ram:           Region{"ram", 0x20000800, 0x20017FFF},
		pageSize:      2048,
		pageNum:       256,
		bootloaderRAM: Region{"bootloader ram", 0x20000000, 0x200007FF},
		systemMemory:  Region{"system memory", 0x1FFFE000, 0x1FFFF7FF},
	},
}

// SupportedPIDs returns the product IDs NewType accepts.
func SupportedPIDs() []uint16 {
	return []uint16{0x0412, 0x0410, 0x0414, 0x0420, 0x0428, 0x0430}
}

// Type describes the memory layout of an identified device.
// Values are built by NewType and never modified afterwards; use
// WithOptionBytes to get an updated copy.
type Type struct {
	PID               uint16
	BootloaderVersion float64
	Density           Density
	Name              string

	RAM               Region
	BootloaderRAM     Region
	SystemMemory      Region
	FlashMemory       Region
	OptionBytesRegion Region

	FlashPageSize int
	FlashPageNum  int

	// OptionBytes holds the last option bytes read from the device, or the
	// factory image until they are read
	OptionBytes OptionBytes
}

// NewType selects the memory layout for a product ID.
//
// Example:
//
//	dt, err := device.NewType(0x0410, 0x22)
//	// dt.FlashMemory is [0x08000000, 0x08020000)
func NewType(pid uint16, bootloaderVersion byte) (*Type, error) {
	v, ok := variants[pid]
	if !ok {
		return nil, &DeviceNotSupportedError{PID: pid}
	}

	t := &Type{
		PID:               pid,
		BootloaderVersion: protocol.BootloaderVersion(bootloaderVersion),
		Density:           v.density,
		Name:              v.name,
		RAM:               v.ram,
		BootloaderRAM:     Region{"bootloader ram", defaultBootloaderRAM, defaultBootloaderEnd},
		SystemMemory:      Region{"system memory", defaultSystemMemStart, defaultSystemMemEnd},
		FlashMemory:       Region{"flash memory", FlashStart, FlashStart + uint32(v.pageSize*v.pageNum)},
		OptionBytesRegion: Region{"option bytes", OptionBytesAddress, OptionBytesAddress + OptionBytesSize},
		FlashPageSize:     v.pageSize,
		FlashPageNum:      v.pageNum,
		OptionBytes:       FactoryOptionBytes(),
	}
	if v.bootloaderRAM.End != 0 {
		t.BootloaderRAM = v.bootloaderRAM
	}
	if v.systemMemory.End != 0 {
		t.SystemMemory = v.systemMemory
	}
	return t, nil
}

// WithOptionBytes returns a copy of t holding ob.
func (t *Type) WithOptionBytes(ob OptionBytes) *Type {
	c := *t
	c.OptionBytes = ob
	return &c
}

// FlashPage returns the region covered by a flash page.
func (t *Type) FlashPage(page int) (Region, error) {
	if page < 0 || page >= t.FlashPageNum {
		return Region{}, &InvalidPageError{Page: page, Max: t.FlashPageNum - 1}
	}
	start := t.FlashMemory.Start + uint32(page*t.FlashPageSize)
	return Region{
		Name:  fmt.Sprintf("flash_page_%d", page),
		Start: start,
		End:   start + uint32(t.FlashPageSize),
	}, nil
}

// FlashPageAddress returns the start address of a flash page.
func (t *Type) FlashPageAddress(page int) (uint32, error) {
	r, err := t.FlashPage(page)
	if err != nil {
		return 0, err
	}
	return r.Start, nil
}

// FlashPages returns every flash page in address order.
func (t *Type) FlashPages() []Region {
	pages := make([]Region, 0, t.FlashPageNum)
	for i := 0; i < t.FlashPageNum; i++ {
		r, _ := t.FlashPage(i)
		pages = append(pages, r)
	}
	return pages
}

// PageOf returns the index of the flash page containing addr.
func (t *Type) PageOf(addr uint32) (int, bool) {
	if !t.FlashMemory.Contains(addr) {
		return 0, false
	}
	return int(addr-t.FlashMemory.Start) / t.FlashPageSize, true
}

// FlashSize returns the flash size in bytes.
func (t *Type) FlashSize() int {
	return t.FlashPageSize * t.FlashPageNum
}
