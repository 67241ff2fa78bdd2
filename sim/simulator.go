// Package sim provides an in-memory STM32 F1 system bootloader that speaks
// the USART protocol. It implements protocol.Port, so it can stand in for a
// serial port in tests, examples and dry runs.
package sim

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/moffa90/go-stm32boot/device"
	"github.com/moffa90/go-stm32boot/protocol"
)

// ErrPortClosed is returned by Read and Write while the port is closed.
var ErrPortClosed = errors.New("sim: port closed")

const ramBase = 0x20000000

type state int

const (
	stateUnsynced state = iota
	stateCommand
	stateReadAddress
	stateReadLength
	stateWriteAddress
	stateWriteData
	stateErase
	stateGoAddress
	stateWriteProtect
	stateRunning
)

// Transfer records one Read Memory or Write Memory command seen by the simulator.
type Transfer struct {
	Address uint32
	Length  int
}

// Simulator emulates the bootloader of one device.
// It is safe for concurrent use.
type Simulator struct {
	mu sync.Mutex

	dt      *device.Type
	version byte

	flash       []byte
	ram         []byte
	system      []byte
	optionBytes [device.OptionBytesSize]byte

	in    []byte
	out   bytes.Buffer
	state state
	addr  uint32

	open   bool
	silent bool

	resets    int
	reads     []Transfer
	writes    []Transfer
	erased    []int
	commands  []protocol.Command
	log       logrus.FieldLogger
	timeout   time.Duration
	dtrAssert bool
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithBootloaderVersion sets the version byte reported by Get and Get Version.
func WithBootloaderVersion(v byte) Option {
	return func(s *Simulator) {
		s.version = v
	}
}

// WithOptionBytes sets the initial option-byte image.
func WithOptionBytes(ob device.OptionBytes) Option {
	return func(s *Simulator) {
		s.optionBytes = ob.Bytes()
	}
}

// WithLogger traces the simulated device side.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Simulator) {
		if log != nil {
			s.log = log
		}
	}
}

// New creates a simulator for a supported product ID. Flash starts erased
// (0xFF), RAM zeroed, option bytes in the factory state.
//
// Example:
//
//	port, _ := sim.New(0x0410)
//	prog := bootloader.New(port)
func New(pid uint16, opts ...Option) (*Simulator, error) {
	dt, err := device.NewType(pid, 0x22)
	if err != nil {
		return nil, err
	}

	l := logrus.New()
	l.SetOutput(io.Discard)

	s := &Simulator{
		dt:          dt,
		version:     0x22,
		flash:       bytes.Repeat([]byte{0xFF}, dt.FlashSize()),
		ram:         make([]byte, dt.RAM.End-ramBase),
		system:      make([]byte, dt.SystemMemory.Size()),
		optionBytes: device.FactoryOptionBytes().Bytes(),
		open:        true,
		log:         l,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Read returns pending device bytes. With nothing pending it returns 0, nil,
// which a real serial port does when its read timeout expires.
func (s *Simulator) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return 0, ErrPortClosed
	}
	if s.out.Len() == 0 {
		return 0, nil
	}
	return s.out.Read(p)
}

// Write feeds host bytes to the bootloader state machine.
func (s *Simulator) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return 0, ErrPortClosed
	}
	s.in = append(s.in, p...)
	for s.step() {
	}
	return len(p), nil
}

func (s *Simulator) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = true
	return nil
}

func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	s.out.Reset()
	s.in = nil
	return nil
}

func (s *Simulator) SetReadTimeout(timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = timeout
	return nil
}

// SetDTR resets the device on the falling edge, like a board with DTR wired to NRST.
func (s *Simulator) SetDTR(level bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dtrAssert && !level {
		s.reset()
	}
	s.dtrAssert = level
	return nil
}

// SetSilent makes the device swallow input without answering.
func (s *Simulator) SetSilent(silent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent = silent
}

// step consumes one complete frame from the input, reporting false when more bytes are needed.
func (s *Simulator) step() bool {
	switch s.state {
	case stateUnsynced:
		return s.stepSync()
	case stateCommand:
		return s.stepCommand()
	case stateReadAddress, stateWriteAddress, stateGoAddress:
		return s.stepAddress()
	case stateReadLength:
		return s.stepReadLength()
	case stateWriteData:
		return s.stepWriteData()
	case stateErase:
		return s.stepErase()
	case stateWriteProtect:
		return s.stepWriteProtect()
	case stateRunning:
		s.in = nil
		return false
	}
	return false
}

func (s *Simulator) take(n int) ([]byte, bool) {
	if len(s.in) < n {
		return nil, false
	}
	b := append([]byte(nil), s.in[:n]...)
	s.in = s.in[n:]
	return b, true
}

func (s *Simulator) reply(b ...byte) {
	if s.silent {
		return
	}
	s.out.Write(b)
}

func (s *Simulator) stepSync() bool {
	b, ok := s.take(1)
	if !ok {
		return false
	}
	if b[0] == protocol.HandshakeByte {
		s.state = stateCommand
		s.reply(protocol.Ack)
		s.log.Debug("sim: synchronised")
	}
	return true
}

func (s *Simulator) stepCommand() bool {
	b, ok := s.take(2)
	if !ok {
		return false
	}
	cmd := protocol.Command(b[0])
	if b[1] != protocol.Complement(b[0]) {
		s.reply(protocol.Nack)
		return true
	}
	s.commands = append(s.commands, cmd)
	s.log.WithField("command", cmd.String()).Debug("sim: command")

	readProtected := s.readProtected()

	switch cmd {
	case protocol.CmdGet:
		cmds := supportedCommands()
		s.reply(protocol.Ack, byte(len(cmds)))
		s.reply(s.version)
		for _, c := range cmds {
			s.reply(byte(c))
		}
		s.reply(protocol.Ack)
	case protocol.CmdGetVersion:
		s.reply(protocol.Ack, s.version, 0x00, 0x00, protocol.Ack)
	case protocol.CmdGetID:
		s.reply(protocol.Ack, 0x01, byte(s.dt.PID>>8), byte(s.dt.PID), protocol.Ack)
	case protocol.CmdReadMemory:
		s.gate(readProtected, stateReadAddress)
	case protocol.CmdWriteMemory:
		s.gate(readProtected, stateWriteAddress)
	case protocol.CmdErase:
		s.gate(readProtected, stateErase)
	case protocol.CmdGo:
		s.gate(readProtected, stateGoAddress)
	case protocol.CmdWriteProtect:
		s.gate(readProtected, stateWriteProtect)
	case protocol.CmdWriteUnprotect:
		if readProtected {
			s.reply(protocol.Nack)
			return true
		}
		s.reply(protocol.Ack)
		s.setOptionBytes(s.currentOptionBytes().WithWriteProtectAll(false))
		s.reply(protocol.Ack)
		s.reset()
	case protocol.CmdReadoutProtect:
		s.reply(protocol.Ack)
		s.setOptionBytes(s.currentOptionBytes().WithReadProtect(true))
		s.reply(protocol.Ack)
		s.reset()
	case protocol.CmdReadoutUnprotect:
		s.reply(protocol.Ack)
		for i := range s.flash {
			s.flash[i] = 0xFF
		}
		s.setOptionBytes(s.currentOptionBytes().WithReadProtect(false))
		s.reply(protocol.Ack)
		s.reset()
	default:
		s.reply(protocol.Nack)
	}
	return true
}

func (s *Simulator) gate(rejected bool, next state) {
	if rejected {
		s.reply(protocol.Nack)
		return
	}
	s.reply(protocol.Ack)
	s.state = next
}

func (s *Simulator) stepAddress() bool {
	b, ok := s.take(protocol.AddressSize + 1)
	if !ok {
		return false
	}
	addr, err := protocol.DecodeAddress(b)
	if err != nil {
		s.reply(protocol.Nack)
		s.state = stateCommand
		return true
	}

	switch s.state {
	case stateReadAddress:
		if _, ok := s.memory(addr, 1); !ok {
			s.reply(protocol.Nack)
			s.state = stateCommand
			return true
		}
		s.addr = addr
		s.reply(protocol.Ack)
		s.state = stateReadLength
	case stateWriteAddress:
		if _, ok := s.memory(addr, 1); !ok {
			s.reply(protocol.Nack)
			s.state = stateCommand
			return true
		}
		s.addr = addr
		s.reply(protocol.Ack)
		s.state = stateWriteData
	case stateGoAddress:
		if !s.dt.FlashMemory.Contains(addr) && !s.dt.RAM.Contains(addr) {
			s.reply(protocol.Nack)
			s.state = stateCommand
			return true
		}
		s.reply(protocol.Ack)
		s.state = stateRunning
		s.log.WithField("address", fmt.Sprintf("0x%08X", addr)).Debug("sim: jumping to application")
	}
	return true
}

func (s *Simulator) stepReadLength() bool {
	b, ok := s.take(2)
	if !ok {
		return false
	}
	s.state = stateCommand
	if b[1] != protocol.Complement(b[0]) {
		s.reply(protocol.Nack)
		return true
	}

	n := int(b[0]) + 1
	mem, ok := s.memory(s.addr, n)
	if !ok {
		s.reply(protocol.Nack)
		return true
	}
	s.reads = append(s.reads, Transfer{Address: s.addr, Length: n})
	s.reply(protocol.Ack)
	s.reply(mem...)
	return true
}

func (s *Simulator) stepWriteData() bool {
	if len(s.in) < 1 {
		return false
	}
	n := int(s.in[0]) + 1
	b, ok := s.take(n + 2)
	if !ok {
		return false
	}
	s.state = stateCommand
	if protocol.Checksum(b) != 0 {
		s.reply(protocol.Nack)
		return true
	}
	data := b[1 : n+1]

	switch {
	case s.dt.OptionBytesRegion.ContainsRange(s.addr, n):
		s.writes = append(s.writes, Transfer{Address: s.addr, Length: n})
		copy(s.optionBytes[s.addr-s.dt.OptionBytesRegion.Start:], data)
		s.reply(protocol.Ack)
		s.reset()
	case s.dt.FlashMemory.ContainsRange(s.addr, n):
		if s.pageProtected(s.addr, n) {
			s.reply(protocol.Nack)
			return true
		}
		s.writes = append(s.writes, Transfer{Address: s.addr, Length: n})
		off := s.addr - s.dt.FlashMemory.Start
		for i, v := range data {
			s.flash[int(off)+i] &= v
		}
		s.reply(protocol.Ack)
	case s.ramRegion().ContainsRange(s.addr, n):
		s.writes = append(s.writes, Transfer{Address: s.addr, Length: n})
		copy(s.ram[s.addr-ramBase:], data)
		s.reply(protocol.Ack)
	default:
		// system memory and unmapped space: the bootloader never answers
		s.log.WithField("address", fmt.Sprintf("0x%08X", s.addr)).Debug("sim: write to protected area ignored")
	}
	return true
}

func (s *Simulator) stepErase() bool {
	if len(s.in) < 1 {
		return false
	}
	if s.in[0] == protocol.EraseAllCode {
		b, ok := s.take(2)
		if !ok {
			return false
		}
		s.state = stateCommand
		if b[1] != 0x00 {
			s.reply(protocol.Nack)
			return true
		}
		for i := range s.flash {
			s.flash[i] = 0xFF
		}
		for p := 0; p < s.dt.FlashPageNum; p++ {
			s.erased = append(s.erased, p)
		}
		s.reply(protocol.Ack)
		return true
	}

	n := int(s.in[0]) + 1
	b, ok := s.take(n + 2)
	if !ok {
		return false
	}
	s.state = stateCommand
	if protocol.Checksum(b) != 0 {
		s.reply(protocol.Nack)
		return true
	}
	for _, p := range b[1 : n+1] {
		page, err := s.dt.FlashPage(int(p))
		if err != nil {
			s.reply(protocol.Nack)
			return true
		}
		off := page.Start - s.dt.FlashMemory.Start
		for i := uint32(0); i < page.Size(); i++ {
			s.flash[off+i] = 0xFF
		}
		s.erased = append(s.erased, int(p))
	}
	s.reply(protocol.Ack)
	return true
}

func (s *Simulator) stepWriteProtect() bool {
	if len(s.in) < 1 {
		return false
	}
	n := int(s.in[0]) + 1
	b, ok := s.take(n + 2)
	if !ok {
		return false
	}
	s.state = stateCommand
	if protocol.Checksum(b) != 0 {
		s.reply(protocol.Nack)
		return true
	}

	ob := s.currentOptionBytes()
	sectors := ob.ProtectedSectors()
	for _, sec := range b[1 : n+1] {
		sectors = append(sectors, int(sec))
	}
	ob, err := ob.WithProtectedSectors(sectors)
	if err != nil {
		s.reply(protocol.Nack)
		return true
	}
	s.setOptionBytes(ob)
	s.reply(protocol.Ack)
	s.reset()
	return true
}

func (s *Simulator) reset() {
	s.state = stateUnsynced
	s.in = nil
	s.resets++
	s.log.Debug("sim: reset")
}

func (s *Simulator) ramRegion() device.Region {
	return device.Region{Name: "ram", Start: ramBase, End: s.dt.RAM.End}
}

// memory returns the backing bytes for a readable range.
func (s *Simulator) memory(addr uint32, n int) ([]byte, bool) {
	switch {
	case s.dt.FlashMemory.ContainsRange(addr, n):
		off := addr - s.dt.FlashMemory.Start
		return s.flash[off : int(off)+n], true
	case s.ramRegion().ContainsRange(addr, n):
		off := addr - ramBase
		return s.ram[off : int(off)+n], true
	case s.dt.SystemMemory.ContainsRange(addr, n):
		off := addr - s.dt.SystemMemory.Start
		return s.system[off : int(off)+n], true
	case s.dt.OptionBytesRegion.ContainsRange(addr, n):
		off := addr - s.dt.OptionBytesRegion.Start
		return s.optionBytes[off : int(off)+n], true
	}
	return nil, false
}

func (s *Simulator) currentOptionBytes() device.OptionBytes {
	ob, _ := device.DecodeOptionBytes(s.optionBytes[:])
	return ob
}

func (s *Simulator) setOptionBytes(ob device.OptionBytes) {
	s.optionBytes = ob.Bytes()
}

func (s *Simulator) readProtected() bool {
	return s.optionBytes[0] != device.ReadProtectDisabled
}

// pageProtected reports whether any page in the range belongs to a write-protected sector.
// Each WRP bit covers four pages on 1 KiB-page devices and two pages otherwise.
func (s *Simulator) pageProtected(addr uint32, n int) bool {
	pagesPerSector := 4
	if s.dt.FlashPageSize == 2048 {
		pagesPerSector = 2
	}
	protected := make(map[int]bool)
	for _, sec := range s.currentOptionBytes().ProtectedSectors() {
		protected[sec] = true
	}

	first, _ := s.dt.PageOf(addr)
	last, _ := s.dt.PageOf(addr + uint32(n) - 1)
	for p := first; p <= last; p++ {
		sec := p / pagesPerSector
		if sec >= device.WriteProtectBits {
			sec = device.WriteProtectBits - 1
		}
		if protected[sec] {
			return true
		}
	}
	return false
}

func supportedCommands() []protocol.Command {
	return []protocol.Command{
		protocol.CmdGet,
		protocol.CmdGetVersion,
		protocol.CmdGetID,
		protocol.CmdReadMemory,
		protocol.CmdGo,
		protocol.CmdWriteMemory,
		protocol.CmdErase,
		protocol.CmdWriteProtect,
		protocol.CmdWriteUnprotect,
		protocol.CmdReadoutProtect,
		protocol.CmdReadoutUnprotect,
	}
}
