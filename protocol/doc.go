// Package protocol implements the STM32 USART bootloader protocol (ST AN3155)
// as used by the STM32 F1 system-memory bootloader.
//
// # Protocol Overview
//
// Every exchange is driven by the host. A command starts with the opcode and
// its complement; each following frame is acknowledged by the device:
//
//	Command:  [OPCODE][OPCODE^0xFF]      -> ACK (0x79) or NACK (0x1F)
//	Address:  [A3][A2][A1][A0][XOR]      -> ACK or NACK
//	Payload:  [N-1][DATA...][XOR]        -> ACK or NACK
//
// Checksums are the XOR of the bytes they protect. Addresses are big-endian.
// A session starts with the handshake byte 0x7F, which also lets the
// bootloader detect the baud rate.
//
// # Frame Builders
//
// The Build* functions and CommandFrame/AddressFrame create frames and
// validate transfer sizes:
//
//	frame, err := protocol.BuildWriteDataFrame(data)
//	addr := protocol.AddressFrame(0x08000000)
//
// # Engine
//
// Engine runs complete commands over a Port:
//
//	eng := protocol.NewEngine(port)
//	if _, err := eng.Handshake(ctx); err != nil {
//	    return err
//	}
//	resp, err := eng.GetID(ctx)
//	if err != nil {
//	    return err
//	}
//	if err := resp.Err(); err != nil {
//	    return err // NACK
//	}
//	pid, _ := protocol.ParseProductID(resp.Data)
//
// # Error Handling
//
// A NACK is a normal outcome and is reported through Response.Acked.
// Transport problems are errors: ErrNoResponse when nothing arrived before
// the timeout, ShortReadError, UnexpectedByteError and ResponseLengthError.
// They are wrapped in a PhaseError naming the command and phase:
//
//	if protocol.IsNoResponse(err) {
//	    // e.g. a write to a protected address
//	}
//
// Commands that reset the device (write protect/unprotect, readout
// protect/unprotect, go) clear Connected; call Reconnect to continue.
//
// # Reference
//
// STMicroelectronics AN3155, USART protocol used in the STM32 bootloader.
package protocol
