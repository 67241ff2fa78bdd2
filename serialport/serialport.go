// Package serialport connects the bootloader engine to a real UART.
//
// The STM32 system bootloader talks 8 data bits, even parity and one stop
// bit. A board that wires DTR to NRST can be reset through SetDTR.
package serialport

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// Supported baud rate range of the F1 bootloader's auto-baud detection.
const (
	MinBaudRate     = 1200
	MaxBaudRate     = 115200
	DefaultBaudRate = 57600
)

// BaudRateError indicates a baud rate the bootloader cannot detect.
type BaudRateError struct {
	Baud int
}

func (e *BaudRateError) Error() string {
	return fmt.Sprintf("baud rate %d out of range (%d - %d)", e.Baud, MinBaudRate, MaxBaudRate)
}

// ValidateBaud checks that baud is within the range the bootloader detects.
func ValidateBaud(baud int) error {
	if baud < MinBaudRate || baud > MaxBaudRate {
		return &BaudRateError{Baud: baud}
	}
	return nil
}

// Mode returns the line settings the bootloader expects at the given baud rate.
func Mode(baud int) *serial.Mode {
	return &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.EvenParity,
		StopBits: serial.OneStopBit,
	}
}

// Port is a serial port that can be closed and reopened with the same settings.
// It implements protocol.Port.
type Port struct {
	mu      sync.Mutex
	name    string
	mode    *serial.Mode
	timeout time.Duration
	port    serial.Port
}

// Open opens the named port in 8E1 mode at baud.
//
// Example:
//
//	port, err := serialport.Open("/dev/ttyUSB0", 115200)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer port.Close()
func Open(name string, baud int) (*Port, error) {
	if name == "" {
		return nil, errors.New("serial port name is required")
	}
	if err := ValidateBaud(baud); err != nil {
		return nil, err
	}

	p := &Port{name: name, mode: Mode(baud)}
	if err := p.Open(); err != nil {
		return nil, err
	}
	return p, nil
}

// Name returns the OS name of the port.
func (p *Port) Name() string {
	return p.name
}

// BaudRate returns the configured baud rate.
func (p *Port) BaudRate() int {
	return p.mode.BaudRate
}

// Open (re)opens the port. Opening an open port is a no-op.
func (p *Port) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.port != nil {
		return nil
	}
	sp, err := serial.Open(p.name, p.mode)
	if err != nil {
		return errors.Wrapf(err, "open %s", p.name)
	}
	if p.timeout > 0 {
		if err := sp.SetReadTimeout(p.timeout); err != nil {
			_ = sp.Close()
			return errors.Wrapf(err, "set read timeout on %s", p.name)
		}
	}
	p.port = sp
	return nil
}

// Close closes the port. Closing a closed port is a no-op.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.port == nil {
		return nil
	}
	err := p.port.Close()
	p.port = nil
	return errors.Wrapf(err, "close %s", p.name)
}

// Read reads from the port. It returns 0, nil when the read timeout expires.
func (p *Port) Read(b []byte) (int, error) {
	sp, err := p.current()
	if err != nil {
		return 0, err
	}
	n, err := sp.Read(b)
	return n, errors.Wrapf(err, "read %s", p.name)
}

func (p *Port) Write(b []byte) (int, error) {
	sp, err := p.current()
	if err != nil {
		return 0, err
	}
	n, err := sp.Write(b)
	return n, errors.Wrapf(err, "write %s", p.name)
}

// SetReadTimeout sets the read timeout, now and for future reopens.
func (p *Port) SetReadTimeout(timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.timeout = timeout
	if p.port == nil {
		return nil
	}
	return errors.Wrapf(p.port.SetReadTimeout(timeout), "set read timeout on %s", p.name)
}

// SetDTR drives the DTR line.
func (p *Port) SetDTR(level bool) error {
	sp, err := p.current()
	if err != nil {
		return err
	}
	return errors.Wrapf(sp.SetDTR(level), "set DTR on %s", p.name)
}

func (p *Port) current() (serial.Port, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.port == nil {
		return nil, errors.Errorf("%s is not open", p.name)
	}
	return p.port, nil
}

// Info describes a serial port found on the system.
type Info struct {
	Name         string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
	Product      string
}

// List returns the serial ports present on the system, with USB details where available.
func List() ([]Info, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err == nil {
		ports := make([]Info, 0, len(details))
		for _, d := range details {
			ports = append(ports, Info{
				Name:         d.Name,
				IsUSB:        d.IsUSB,
				VID:          d.VID,
				PID:          d.PID,
				SerialNumber: d.SerialNumber,
				Product:      d.Product,
			})
		}
		return ports, nil
	}

	names, err := serial.GetPortsList()
	if err != nil {
		return nil, errors.Wrap(err, "list serial ports")
	}
	ports := make([]Info, 0, len(names))
	for _, name := range names {
		ports = append(ports, Info{Name: name})
	}
	return ports, nil
}
