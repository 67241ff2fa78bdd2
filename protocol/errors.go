package protocol

import (
	"errors"
	"fmt"
)

// ErrNoResponse is returned when the device sent nothing before the read timeout.
var ErrNoResponse = errors.New("no response from device")

// PhaseError records which phase of a command failed at the transport level.
type PhaseError struct {
	// Command is the command being executed
	Command Command

	// Phase is the step that failed, e.g. "command", "address", "data"
	Phase string

	// Err is the underlying failure
	Err error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s (%s phase): %v", e.Command, e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// ShortReadError indicates that the device stopped sending before the expected byte count.
type ShortReadError struct {
	Want int
	Got  int
}

func (e *ShortReadError) Error() string {
	return fmt.Sprintf("short read: got %d bytes, expected %d", e.Got, e.Want)
}

// ShortWriteError indicates that the port accepted fewer bytes than were sent.
type ShortWriteError struct {
	Want int
	Got  int
}

func (e *ShortWriteError) Error() string {
	return fmt.Sprintf("short write: wrote %d bytes, expected %d", e.Got, e.Want)
}

// UnexpectedByteError indicates that a byte other than ACK or NACK arrived
// where an acknowledgement was expected.
type UnexpectedByteError struct {
	Got byte
}

func (e *UnexpectedByteError) Error() string {
	return fmt.Sprintf("unexpected response byte 0x%02X", e.Got)
}

// ResponseLengthError indicates that the device announced a reply length
// different from the one the command expects.
type ResponseLengthError struct {
	Command  Command
	Expected int
	Actual   int
}

func (e *ResponseLengthError) Error() string {
	return fmt.Sprintf("%s: device responds with %d bytes, expected %d", e.Command, e.Actual, e.Expected)
}

// LengthError indicates that a caller asked for an invalid transfer size.
// It is raised before anything is sent to the device.
type LengthError struct {
	Operation string
	Length    int
	Min       int
	Max       int

	// Multiple is the required alignment, zero when there is none
	Multiple int
}

func (e *LengthError) Error() string {
	if e.Multiple > 0 && e.Length >= e.Min && e.Length <= e.Max {
		return fmt.Sprintf("%s: length %d is not a multiple of %d", e.Operation, e.Length, e.Multiple)
	}
	return fmt.Sprintf("%s: invalid length %d, must be %d-%d", e.Operation, e.Length, e.Min, e.Max)
}

// NackError indicates that the device rejected a command.
type NackError struct {
	Command Command
}

func (e *NackError) Error() string {
	return fmt.Sprintf("%s: device answered NACK", e.Command)
}

// IsNack returns true if err is, or wraps, a NackError.
func IsNack(err error) bool {
	var nack *NackError
	return errors.As(err, &nack)
}

// IsNoResponse returns true if err is, or wraps, ErrNoResponse.
func IsNoResponse(err error) bool {
	return errors.Is(err, ErrNoResponse)
}
