package sim

import (
	"time"

	"github.com/moffa90/go-stm32boot/device"
	"github.com/moffa90/go-stm32boot/protocol"
)

// Type returns the simulated device layout.
func (s *Simulator) Type() *device.Type {
	return s.dt
}

// Memory returns a copy of n bytes at addr, or false if the range is not mapped.
func (s *Simulator) Memory(addr uint32, n int) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mem, ok := s.memory(addr, n)
	if !ok {
		return nil, false
	}
	return append([]byte(nil), mem...), true
}

// LoadMemory overwrites mapped memory, bypassing the protocol.
func (s *Simulator) LoadMemory(addr uint32, data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	mem, ok := s.memory(addr, len(data))
	if !ok {
		return false
	}
	copy(mem, data)
	return true
}

// OptionBytes returns the current option-byte image.
func (s *Simulator) OptionBytes() [device.OptionBytesSize]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.optionBytes
}

// Synced reports whether the bootloader has seen a handshake since its last reset.
func (s *Simulator) Synced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != stateUnsynced && s.state != stateRunning
}

// Running reports whether a Go command started the application.
func (s *Simulator) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateRunning
}

// Resets returns how many times the device has reset.
func (s *Simulator) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

// Reads returns every Read Memory transfer served, in order.
func (s *Simulator) Reads() []Transfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Transfer(nil), s.reads...)
}

// Writes returns every accepted Write Memory transfer, in order.
func (s *Simulator) Writes() []Transfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Transfer(nil), s.writes...)
}

// Erased returns the pages erased so far, in order.
func (s *Simulator) Erased() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.erased...)
}

// Commands returns every well-formed opcode received.
func (s *Simulator) Commands() []protocol.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Command(nil), s.commands...)
}

// ReadTimeout returns the last timeout set by the host.
func (s *Simulator) ReadTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeout
}
