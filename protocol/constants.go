package protocol

import "time"

// Control bytes exchanged with the STM32 system-memory bootloader (AN3155).
const (
	// Ack is sent by the bootloader when a frame was accepted (0x79)
	Ack = 0x79

	// Nack is sent by the bootloader when a frame was rejected (0x1F)
	Nack = 0x1F

	// HandshakeByte lets the bootloader detect the host baud rate (0x7F)
	HandshakeByte = 0x7F
)

// Command is a bootloader command opcode. On the wire every command is
// followed by its complement.
type Command byte

// Command opcodes supported by the F1 USART bootloader.
const (
	// CmdGet returns the bootloader version and the supported commands
	CmdGet Command = 0x00

	// CmdGetVersion returns the bootloader version and the read protection status
	CmdGetVersion Command = 0x01

	// CmdGetID returns the 2-byte product ID
	CmdGetID Command = 0x02

	// CmdReadMemory reads up to 256 bytes starting at an address
	CmdReadMemory Command = 0x11

	// CmdGo jumps to user code at an address
	CmdGo Command = 0x21

	// CmdWriteMemory writes up to 256 bytes starting at an address
	CmdWriteMemory Command = 0x31

	// CmdErase erases flash pages, or the whole flash
	CmdErase Command = 0x43

	// CmdWriteProtect enables write protection for flash sectors (resets the device)
	CmdWriteProtect Command = 0x63

	// CmdWriteUnprotect disables write protection for all flash sectors (resets the device)
	CmdWriteUnprotect Command = 0x73

	// CmdReadoutProtect enables readout protection (resets the device)
	CmdReadoutProtect Command = 0x82

	// CmdReadoutUnprotect disables readout protection and mass-erases flash (resets the device)
	CmdReadoutUnprotect Command = 0x92

	// CmdHandshake is not a real command, it names the handshake exchange in logs and errors
	CmdHandshake Command = HandshakeByte
)

// Transfer limits.
const (
	// MaxTransferSize is the largest payload of a single read or write
	MaxTransferSize = 256

	// MaxErasePages is the largest number of pages in one erase request
	MaxErasePages = 256

	// MaxProtectSectors is the largest number of sectors in one write-protect request
	MaxProtectSectors = 256

	// WriteAlignment is the required multiple for write lengths
	WriteAlignment = 4

	// EraseAllCode selects a global erase when sent as the page count
	EraseAllCode = 0xFF
)

// Response data sizes.
const (
	// GetIDResponseSize is the number of data bytes returned by Get ID
	GetIDResponseSize = 2

	// GetVersionResponseSize is the number of data bytes returned by Get Version
	GetVersionResponseSize = 3

	// AnyLength disables the response length check of a length-prefixed reply
	AnyLength = -1
)

// Timing.
const (
	// DefaultReadTimeout bounds every read from the port
	DefaultReadTimeout = time.Second

	// DefaultReconnectDelay is the pause between closing and reopening the port
	DefaultReconnectDelay = 100 * time.Millisecond

	// ResetPulse is how long DTR is held to reset the target
	ResetPulse = time.Millisecond

	// ReadoutUnprotectAckTimeout is the shortest wait for the second
	// acknowledgement of Readout Unprotect, which follows a mass erase
	ReadoutUnprotectAckTimeout = 5 * time.Second
)
