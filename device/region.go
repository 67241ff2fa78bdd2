package device

import "fmt"

// Region is a named, half-open address range [Start, End).
type Region struct {
	Name  string
	Start uint32
	End   uint32
}

// Size returns the number of bytes in the region.
func (r Region) Size() uint32 {
	return r.End - r.Start
}

// Contains reports whether addr lies in [Start, End).
func (r Region) Contains(addr uint32) bool {
	return addr >= r.Start && addr < r.End
}

// ContainsRange reports whether the n bytes starting at addr all lie in the region.
func (r Region) ContainsRange(addr uint32, n int) bool {
	if n < 0 || !r.Contains(addr) {
		return false
	}
	return uint64(addr)+uint64(n) <= uint64(r.End)
}

func (r Region) String() string {
	return fmt.Sprintf("%s [0x%08X-0x%08X)", r.Name, r.Start, r.End)
}
