package protocol

import (
	"io"
	"time"
)

// Port is the byte stream to the bootloader, normally a serial port
// configured for 8 data bits, even parity and one stop bit.
//
// Read must return 0, nil when the read timeout expires without data.
type Port interface {
	io.ReadWriter

	// Open (re)opens the port with its previous settings
	Open() error

	// Close releases the port
	Close() error

	// SetReadTimeout bounds every subsequent Read
	SetReadTimeout(timeout time.Duration) error

	// SetDTR drives the DTR line, which is wired to the target reset on most boards
	SetDTR(level bool) error
}
