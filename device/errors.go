package device

import "fmt"

// DeviceNotSupportedError indicates a product ID outside the supported F1 table.
type DeviceNotSupportedError struct {
	PID uint16
}

func (e *DeviceNotSupportedError) Error() string {
	return fmt.Sprintf("device not supported: product ID 0x%04X is invalid or unsupported", e.PID)
}

// InvalidPageError indicates a flash page index outside the device's page count.
type InvalidPageError struct {
	Page int
	Max  int
}

func (e *InvalidPageError) Error() string {
	return fmt.Sprintf("invalid flash page %d (max %d)", e.Page, e.Max)
}

// OptionBytesLengthError indicates a raw option-byte image that is not 16 bytes long.
type OptionBytesLengthError struct {
	Length int
}

func (e *OptionBytesLengthError) Error() string {
	return fmt.Sprintf("option bytes must be exactly %d bytes, got %d", OptionBytesSize, e.Length)
}
