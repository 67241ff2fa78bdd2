package protocol

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// Engine executes bootloader commands over a Port. It owns the port and
// tracks whether the bootloader has been handshaken since the last reset.
//
// An Engine runs one command at a time and is not safe for concurrent use.
type Engine struct {
	port           Port
	connected      bool
	readTimeout    time.Duration
	reconnectDelay time.Duration
	log            logrus.FieldLogger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineLogger sets the logger used for frame traces.
func WithEngineLogger(log logrus.FieldLogger) EngineOption {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithReadTimeout sets the per-read timeout applied to the port.
func WithReadTimeout(timeout time.Duration) EngineOption {
	return func(e *Engine) {
		if timeout > 0 {
			e.readTimeout = timeout
		}
	}
}

// WithReconnectDelay sets the pause between closing and reopening the port in Reconnect.
func WithReconnectDelay(delay time.Duration) EngineOption {
	return func(e *Engine) {
		if delay >= 0 {
			e.reconnectDelay = delay
		}
	}
}

// NewEngine creates an Engine on an already opened port.
func NewEngine(port Port, opts ...EngineOption) *Engine {
	if port == nil {
		panic("port cannot be nil")
	}

	e := &Engine{
		port:           port,
		readTimeout:    DefaultReadTimeout,
		reconnectDelay: DefaultReconnectDelay,
		log:            discardLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// Connected reports whether a handshake succeeded since the last reset.
func (e *Engine) Connected() bool {
	return e.connected
}

// ReadTimeout returns the per-read timeout.
func (e *Engine) ReadTimeout() time.Duration {
	return e.readTimeout
}

// SetReadTimeout changes the per-read timeout and applies it to the port.
func (e *Engine) SetReadTimeout(timeout time.Duration) error {
	if err := e.port.SetReadTimeout(timeout); err != nil {
		return fmt.Errorf("set read timeout: %w", err)
	}
	e.readTimeout = timeout
	return nil
}

// Handshake sends the synchronisation byte and waits for the bootloader to acknowledge it.
func (e *Engine) Handshake(ctx context.Context) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	if err := e.port.SetReadTimeout(e.readTimeout); err != nil {
		return Response{}, fmt.Errorf("set read timeout: %w", err)
	}

	acked, err := e.sendAndWaitAck(CmdHandshake, "handshake", []byte{HandshakeByte})
	if err != nil {
		return Response{}, err
	}
	if acked {
		e.connected = true
	}
	e.log.WithField("acked", acked).Debug("handshake")
	return Response{Command: CmdHandshake, Acked: acked}, nil
}

// Disconnect closes the port and forgets the handshake.
func (e *Engine) Disconnect() error {
	e.connected = false
	if err := e.port.Close(); err != nil {
		return fmt.Errorf("close port: %w", err)
	}
	return nil
}

// Reconnect closes the port, waits, reopens it and handshakes again.
// It is needed after every command that resets the device.
func (e *Engine) Reconnect(ctx context.Context) (Response, error) {
	if err := e.Disconnect(); err != nil {
		e.log.WithError(err).Warn("close before reconnect failed")
	}

	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case <-time.After(e.reconnectDelay):
	}

	if err := e.port.Open(); err != nil {
		return Response{}, fmt.Errorf("reopen port: %w", err)
	}
	return e.Handshake(ctx)
}

// ResetDevice pulses DTR to reset the target. It does not handshake.
func (e *Engine) ResetDevice() error {
	e.log.Debug("resetting device via DTR")
	if err := e.port.SetDTR(true); err != nil {
		return fmt.Errorf("assert DTR: %w", err)
	}
	time.Sleep(ResetPulse)
	if err := e.port.SetDTR(false); err != nil {
		return fmt.Errorf("release DTR: %w", err)
	}
	e.connected = false
	return nil
}

// MarkReset records a device reset the engine could not see, such as the
// one that follows an option-byte write. The port stays open.
func (e *Engine) MarkReset() {
	e.dropConnection(CmdWriteMemory)
}

// Get returns the bootloader version byte followed by the supported opcodes.
func (e *Engine) Get(ctx context.Context) (Response, error) {
	return e.writeCommand(ctx, CmdGet, AnyLength)
}

// GetID returns the 2-byte product ID.
func (e *Engine) GetID(ctx context.Context) (Response, error) {
	return e.writeCommand(ctx, CmdGetID, GetIDResponseSize)
}

// GetVersion returns the bootloader version and the two compatibility option bytes.
// Unlike Get and GetID the reply is not length-prefixed.
func (e *Engine) GetVersion(ctx context.Context) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	acked, err := e.sendAndWaitAck(CmdGetVersion, "command", CommandFrame(CmdGetVersion))
	if err != nil || !acked {
		return Response{Command: CmdGetVersion}, err
	}

	data, err := e.read(GetVersionResponseSize)
	if err != nil {
		return Response{Command: CmdGetVersion}, &PhaseError{Command: CmdGetVersion, Phase: "data", Err: err}
	}

	acked, err = e.waitAck(CmdGetVersion, "trailer")
	if err != nil {
		return Response{Command: CmdGetVersion}, err
	}
	return Response{Command: CmdGetVersion, Acked: acked, Data: data}, nil
}

// ReadMemory reads length bytes (1 to 256) starting at addr.
// The data phase carries no trailing acknowledgement.
func (e *Engine) ReadMemory(ctx context.Context, addr uint32, length int) (Response, error) {
	lengthFrame, err := BuildReadLengthFrame(length)
	if err != nil {
		return Response{}, err
	}
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	resp := Response{Command: CmdReadMemory}
	phases := []struct {
		name  string
		frame []byte
	}{
		{"command", CommandFrame(CmdReadMemory)},
		{"address", AddressFrame(addr)},
		{"length", lengthFrame},
	}
	for _, p := range phases {
		acked, err := e.sendAndWaitAck(CmdReadMemory, p.name, p.frame)
		if err != nil || !acked {
			return resp, err
		}
	}

	data, err := e.read(length)
	if err != nil {
		return resp, &PhaseError{Command: CmdReadMemory, Phase: "data", Err: err}
	}

	e.log.WithFields(logrus.Fields{"address": fmt.Sprintf("0x%08X", addr), "length": length}).Debug("read memory")
	resp.Acked = true
	resp.Data = data
	return resp, nil
}

// WriteMemory writes data (1 to 256 bytes, a multiple of 4) starting at addr.
//
// The bootloader stays silent instead of answering NACK when the target
// address is not writable, so a write to such an address fails with an
// error wrapping ErrNoResponse.
func (e *Engine) WriteMemory(ctx context.Context, addr uint32, data []byte) (Response, error) {
	dataFrame, err := BuildWriteDataFrame(data)
	if err != nil {
		return Response{}, err
	}
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	resp := Response{Command: CmdWriteMemory}
	acked, err := e.sendAndWaitAck(CmdWriteMemory, "command", CommandFrame(CmdWriteMemory))
	if err != nil || !acked {
		return resp, err
	}
	acked, err = e.sendAndWaitAck(CmdWriteMemory, "address", AddressFrame(addr))
	if err != nil || !acked {
		return resp, err
	}
	acked, err = e.sendAndWaitAck(CmdWriteMemory, "data", dataFrame)
	if err != nil {
		return resp, err
	}

	e.log.WithFields(logrus.Fields{"address": fmt.Sprintf("0x%08X", addr), "length": len(data), "acked": acked}).Debug("write memory")
	resp.Acked = acked
	return resp, nil
}

// ErasePages erases the listed flash pages (1 to 256 entries).
func (e *Engine) ErasePages(ctx context.Context, pages []byte) (Response, error) {
	frame, err := BuildErasePagesFrame(pages)
	if err != nil {
		return Response{}, err
	}
	return e.twoPhase(ctx, CmdErase, "pages", frame)
}

// EraseAll erases the whole flash.
func (e *Engine) EraseAll(ctx context.Context) (Response, error) {
	return e.twoPhase(ctx, CmdErase, "global", EraseAllFrame())
}

// WriteProtect enables write protection for the listed sectors.
// The device resets afterwards, so the engine is no longer connected.
func (e *Engine) WriteProtect(ctx context.Context, sectors []byte) (Response, error) {
	frame, err := BuildWriteProtectFrame(sectors)
	if err != nil {
		return Response{}, err
	}
	defer e.dropConnection(CmdWriteProtect)
	return e.twoPhase(ctx, CmdWriteProtect, "sectors", frame)
}

// WriteUnprotect disables write protection for all flash sectors.
// The device resets afterwards, so the engine is no longer connected.
func (e *Engine) WriteUnprotect(ctx context.Context) (Response, error) {
	defer e.dropConnection(CmdWriteUnprotect)
	return e.doubleAck(ctx, CmdWriteUnprotect, e.readTimeout)
}

// ReadoutProtect enables flash readout protection.
// The device resets afterwards, so the engine is no longer connected.
func (e *Engine) ReadoutProtect(ctx context.Context) (Response, error) {
	defer e.dropConnection(CmdReadoutProtect)
	return e.doubleAck(ctx, CmdReadoutProtect, e.readTimeout)
}

// ReadoutUnprotect disables flash readout protection, which mass-erases the flash.
// The second acknowledgement waits for the erase, so its timeout is never
// shorter than ReadoutUnprotectAckTimeout or the configured read timeout.
// The device resets afterwards, so the engine is no longer connected.
func (e *Engine) ReadoutUnprotect(ctx context.Context) (Response, error) {
	defer e.dropConnection(CmdReadoutUnprotect)
	return e.doubleAck(ctx, CmdReadoutUnprotect, max(e.readTimeout, ReadoutUnprotectAckTimeout))
}

// Go makes the bootloader jump to the application at addr.
// The bootloader no longer answers afterwards.
func (e *Engine) Go(ctx context.Context, addr uint32) (Response, error) {
	resp, err := e.twoPhase(ctx, CmdGo, "address", AddressFrame(addr))
	if err == nil && resp.Acked {
		e.dropConnection(CmdGo)
	}
	return resp, err
}

// writeCommand runs the common length-prefixed exchange:
// command, ACK, length byte N, N+1 data bytes, ACK.
func (e *Engine) writeCommand(ctx context.Context, cmd Command, expected int) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	resp := Response{Command: cmd}
	acked, err := e.sendAndWaitAck(cmd, "command", CommandFrame(cmd))
	if err != nil || !acked {
		return resp, err
	}

	lengthByte, err := e.read(1)
	if err != nil {
		return resp, &PhaseError{Command: cmd, Phase: "length", Err: err}
	}
	n := int(lengthByte[0]) + 1
	if expected != AnyLength && n != expected {
		return resp, &ResponseLengthError{Command: cmd, Expected: expected, Actual: n}
	}

	data, err := e.read(n)
	if err != nil {
		return resp, &PhaseError{Command: cmd, Phase: "data", Err: err}
	}

	acked, err = e.waitAck(cmd, "trailer")
	if err != nil {
		return resp, err
	}
	resp.Acked = acked
	resp.Data = data
	return resp, nil
}

// twoPhase sends the command frame and one payload frame, each acknowledged.
func (e *Engine) twoPhase(ctx context.Context, cmd Command, phase string, frame []byte) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	resp := Response{Command: cmd}
	acked, err := e.sendAndWaitAck(cmd, "command", CommandFrame(cmd))
	if err != nil || !acked {
		return resp, err
	}
	acked, err = e.sendAndWaitAck(cmd, phase, frame)
	if err != nil {
		return resp, err
	}
	resp.Acked = acked
	return resp, nil
}

// doubleAck sends a bare command that is acknowledged once on receipt and
// once more when the operation completes.
func (e *Engine) doubleAck(ctx context.Context, cmd Command, secondTimeout time.Duration) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	resp := Response{Command: cmd}
	acked, err := e.sendAndWaitAck(cmd, "command", CommandFrame(cmd))
	if err != nil || !acked {
		return resp, err
	}

	if secondTimeout != e.readTimeout {
		if err := e.port.SetReadTimeout(secondTimeout); err != nil {
			return resp, fmt.Errorf("set read timeout: %w", err)
		}
		defer func() {
			if err := e.port.SetReadTimeout(e.readTimeout); err != nil {
				e.log.WithError(err).Warn("restoring read timeout failed")
			}
		}()
	}

	acked, err = e.waitAck(cmd, "completion")
	if err != nil {
		return resp, err
	}
	resp.Acked = acked
	return resp, nil
}

func (e *Engine) dropConnection(cmd Command) {
	if e.connected {
		e.log.WithField("command", cmd.String()).Debug("device resets, connection dropped")
	}
	e.connected = false
}

func (e *Engine) sendAndWaitAck(cmd Command, phase string, frame []byte) (bool, error) {
	if err := e.write(frame); err != nil {
		return false, &PhaseError{Command: cmd, Phase: phase, Err: err}
	}
	e.log.WithFields(logrus.Fields{"command": cmd.String(), "phase": phase}).Debugf("> % X", frame)
	return e.waitAck(cmd, phase)
}

// waitAck reads one byte and classifies it as ACK (true) or NACK (false).
func (e *Engine) waitAck(cmd Command, phase string) (bool, error) {
	b, err := e.read(1)
	if err != nil {
		return false, &PhaseError{Command: cmd, Phase: phase, Err: err}
	}

	switch b[0] {
	case Ack:
		return true, nil
	case Nack:
		e.log.WithFields(logrus.Fields{"command": cmd.String(), "phase": phase}).Debug("< NACK")
		return false, nil
	default:
		return false, &PhaseError{Command: cmd, Phase: phase, Err: &UnexpectedByteError{Got: b[0]}}
	}
}

func (e *Engine) write(frame []byte) error {
	n, err := e.port.Write(frame)
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if n != len(frame) {
		return &ShortWriteError{Want: len(frame), Got: n}
	}
	return nil
}

// read collects exactly n bytes. A read that returns no data means the
// timeout expired.
func (e *Engine) read(n int) ([]byte, error) {
	buf := make([]byte, n)
	got := 0
	for got < n {
		m, err := e.port.Read(buf[got:])
		got += m
		if err != nil {
			return buf[:got], fmt.Errorf("read: %w", err)
		}
		if m == 0 {
			break
		}
	}

	if got == 0 {
		return nil, ErrNoResponse
	}
	if got < n {
		return buf[:got], &ShortReadError{Want: n, Got: got}
	}
	return buf, nil
}
