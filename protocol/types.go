package protocol

import "fmt"

// Response is the outcome of a command the device answered.
// Acked is false when the device sent a NACK; that is a regular negative
// result, not an error.
type Response struct {
	// Command is the command this response belongs to
	Command Command

	// Acked reports whether every phase of the command was acknowledged
	Acked bool

	// Data holds the payload returned by the device, if any
	Data []byte
}

// Err returns a *NackError when the response is a NACK and nil otherwise.
func (r Response) Err() error {
	if r.Acked {
		return nil
	}
	return &NackError{Command: r.Command}
}

// BootloaderInfo is returned by the Get command.
type BootloaderInfo struct {
	// Version is the raw bootloader version byte (0x22 is version 2.2)
	Version byte

	// Commands lists the opcodes the bootloader supports
	Commands []Command
}

// Supports reports whether cmd is in the supported command list.
func (i *BootloaderInfo) Supports(cmd Command) bool {
	for _, c := range i.Commands {
		if c == cmd {
			return true
		}
	}
	return false
}

// VersionStatus is returned by the Get Version command.
type VersionStatus struct {
	// Version is the raw bootloader version byte
	Version byte

	// Option1 and Option2 are kept for compatibility and are normally 0x00
	Option1 byte
	Option2 byte
}

// String returns the command mnemonic.
func (c Command) String() string {
	switch c {
	case CmdGet:
		return "get"
	case CmdGetVersion:
		return "get version"
	case CmdGetID:
		return "get id"
	case CmdReadMemory:
		return "read memory"
	case CmdGo:
		return "go"
	case CmdWriteMemory:
		return "write memory"
	case CmdErase:
		return "erase"
	case CmdWriteProtect:
		return "write protect"
	case CmdWriteUnprotect:
		return "write unprotect"
	case CmdReadoutProtect:
		return "readout protect"
	case CmdReadoutUnprotect:
		return "readout unprotect"
	case CmdHandshake:
		return "handshake"
	default:
		return fmt.Sprintf("command 0x%02X", byte(c))
	}
}
