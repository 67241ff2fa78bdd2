package bootloader

import (
	"errors"
	"fmt"

	"github.com/moffa90/go-stm32boot/device"
)

var (
	// ErrNotConnected is returned when an operation needs a handshaken bootloader.
	ErrNotConnected = errors.New("device not connected")

	// ErrInfoNotRetrieved is returned when an operation needs the device type,
	// or the option bytes, and they have not been read since the last reset.
	ErrInfoNotRetrieved = errors.New("device information not retrieved, call ReadDeviceInfo first")
)

// InvalidAddressError indicates an address outside the region an operation targets.
type InvalidAddressError struct {
	Address uint32
	Region  device.Region
}

func (e *InvalidAddressError) Error() string {
	return fmt.Sprintf("address 0x%08X is out of range (0x%08X - 0x%08X)",
		e.Address, e.Region.Start, e.Region.End-1)
}

// InvalidLengthError indicates a transfer length that is not a positive
// multiple of 4, or that runs past the end of its region.
type InvalidLengthError struct {
	Operation string
	Length    int
	Reason    string
}

func (e *InvalidLengthError) Error() string {
	return fmt.Sprintf("invalid %s length %d: %s", e.Operation, e.Length, e.Reason)
}

// InvalidWriteAddressError indicates that the device did not answer a write,
// which is how the bootloader rejects writes to protected or reserved addresses.
type InvalidWriteAddressError struct {
	Address uint32
	Err     error
}

func (e *InvalidWriteAddressError) Error() string {
	return fmt.Sprintf("invalid write address 0x%08X: %v", e.Address, e.Err)
}

func (e *InvalidWriteAddressError) Unwrap() error {
	return e.Err
}

// VerificationError reports a flash word that differs from the expected image.
// Words are little-endian, as the core reads them.
type VerificationError struct {
	Address  uint32
	Expected uint32
	Actual   uint32
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verification failed at 0x%08X: expected 0x%08X, got 0x%08X",
		e.Address, e.Expected, e.Actual)
}

// ImageOffsetError indicates an offset given for an image that carries absolute addresses.
type ImageOffsetError struct {
	Path   string
	Offset uint32
}

func (e *ImageOffsetError) Error() string {
	return fmt.Sprintf("%s has absolute addresses, offset 0x%X cannot be applied", e.Path, e.Offset)
}
