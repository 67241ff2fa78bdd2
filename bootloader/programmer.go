package bootloader

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/moffa90/go-stm32boot/device"
	"github.com/moffa90/go-stm32boot/image"
	"github.com/moffa90/go-stm32boot/protocol"
)

// Programmer drives an STM32 F1 system bootloader session: connection,
// identification, memory access, erase and protection changes.
//
// Programmer is not safe for concurrent use. The serial line carries one
// command at a time; callers sharing a Programmer must serialize access.
type Programmer struct {
	engine *protocol.Engine
	config Config
	log    logrus.FieldLogger

	// set by ReadDeviceInfo, cleared on every reset
	info   *device.Type
	blInfo *protocol.BootloaderInfo
	obRead bool
}

// New creates a new Programmer on an opened port.
//
// Example:
//
//	port, _ := serialport.Open("/dev/ttyUSB0", 57600)
//	prog := bootloader.New(port,
//	    bootloader.WithProgressCallback(progressFunc),
//	    bootloader.WithReadTimeout(2*time.Second),
//	)
func New(port protocol.Port, opts ...Option) *Programmer {
	if port == nil {
		panic("port cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	log := cfg.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}

	return &Programmer{
		engine: protocol.NewEngine(port,
			protocol.WithEngineLogger(log.WithField("component", "protocol")),
			protocol.WithReadTimeout(cfg.ReadTimeout),
			protocol.WithReconnectDelay(cfg.ReconnectDelay),
		),
		config: cfg,
		log:    log,
	}
}

// Connect performs the handshake with a bootloader that has just been reset.
// The bootloader answers the sync byte only once per reset, so Connect does
// nothing on a session that is already connected.
func (p *Programmer) Connect(ctx context.Context) error {
	if p.engine.Connected() {
		p.log.Debug("already connected, skipping handshake")
		return nil
	}
	if err := sleep(ctx, p.config.ConnectDelay); err != nil {
		return err
	}

	resp, err := p.engine.Handshake(ctx)
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	if err := resp.Err(); err != nil {
		return err
	}
	p.log.Info("connected to bootloader")
	return nil
}

// ConnectAndReadInfo connects, identifies the device and, if readOptionBytes
// is set, reads the option bytes.
//
// Example:
//
//	if err := prog.ConnectAndReadInfo(ctx, true); err != nil {
//	    return err
//	}
//	dt, _ := prog.DeviceType()
//	fmt.Println(dt.Name, dt.FlashMemory)
func (p *Programmer) ConnectAndReadInfo(ctx context.Context, readOptionBytes bool) error {
	if err := p.Connect(ctx); err != nil {
		return err
	}
	if err := p.ReadDeviceInfo(ctx); err != nil {
		return err
	}
	if readOptionBytes {
		if _, err := p.ReadOptionBytes(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Disconnect closes the port. The device information is discarded.
func (p *Programmer) Disconnect() error {
	p.forgetDevice()
	return p.engine.Disconnect()
}

// Reconnect closes and reopens the port, then handshakes again.
// This is the only way back to a connected session after the device resets.
// ReadDeviceInfo must be called again afterwards.
func (p *Programmer) Reconnect(ctx context.Context) error {
	p.forgetDevice()

	resp, err := p.engine.Reconnect(ctx)
	if err != nil {
		return fmt.Errorf("reconnect: %w", err)
	}
	if err := resp.Err(); err != nil {
		return fmt.Errorf("reconnect: %w", err)
	}
	p.log.Info("reconnected to bootloader")
	return nil
}

// Connected reports whether the session is handshaken and the device has not reset since.
func (p *Programmer) Connected() bool {
	return p.engine.Connected()
}

// ReadDeviceInfo queries the product ID and the bootloader version and
// resolves the device memory layout.
func (p *Programmer) ReadDeviceInfo(ctx context.Context) error {
	if err := p.requireConnected(); err != nil {
		return err
	}

	resp, err := p.engine.GetID(ctx)
	if err != nil {
		return fmt.Errorf("get ID: %w", err)
	}
	if err := resp.Err(); err != nil {
		return err
	}
	pid, err := protocol.ParseProductID(resp.Data)
	if err != nil {
		return err
	}

	resp, err = p.engine.Get(ctx)
	if err != nil {
		return fmt.Errorf("get: %w", err)
	}
	if err := resp.Err(); err != nil {
		return err
	}
	blInfo, err := protocol.ParseBootloaderInfo(resp.Data)
	if err != nil {
		return err
	}

	dt, err := device.NewType(pid, blInfo.Version)
	if err != nil {
		return err
	}

	p.info = dt
	p.blInfo = blInfo
	p.obRead = false

	p.log.WithFields(logrus.Fields{
		"pid":        fmt.Sprintf("0x%04X", dt.PID),
		"device":     dt.Name,
		"bootloader": fmt.Sprintf("%.1f", dt.BootloaderVersion),
		"flash":      dt.FlashMemory.String(),
	}).Info("device identified")
	return nil
}

// DeviceType returns the identified device.
func (p *Programmer) DeviceType() (*device.Type, error) {
	if p.info == nil {
		return nil, ErrInfoNotRetrieved
	}
	return p.info, nil
}

// BootloaderVersion returns the bootloader version, e.g. 2.2.
func (p *Programmer) BootloaderVersion() (float64, error) {
	if p.info == nil {
		return 0, ErrInfoNotRetrieved
	}
	return p.info.BootloaderVersion, nil
}

// ProductID returns the 16-bit product ID.
func (p *Programmer) ProductID() (uint16, error) {
	if p.info == nil {
		return 0, ErrInfoNotRetrieved
	}
	return p.info.PID, nil
}

// SupportedCommands returns the opcodes the bootloader reported in its Get reply.
func (p *Programmer) SupportedCommands() ([]protocol.Command, error) {
	if p.blInfo == nil {
		return nil, ErrInfoNotRetrieved
	}
	return append([]protocol.Command(nil), p.blInfo.Commands...), nil
}

// OptionBytes returns the option bytes read by ReadOptionBytes.
func (p *Programmer) OptionBytes() (device.OptionBytes, error) {
	if p.info == nil || !p.obRead {
		return device.OptionBytes{}, ErrInfoNotRetrieved
	}
	return p.info.OptionBytes, nil
}

// ReadOptionBytes reads and decodes the 16-byte option-byte block.
func (p *Programmer) ReadOptionBytes(ctx context.Context) (device.OptionBytes, error) {
	if err := p.requireIdentified(); err != nil {
		return device.OptionBytes{}, err
	}

	raw, err := p.readMem(ctx, device.OptionBytesAddress, device.OptionBytesSize, PhaseReading)
	if err != nil {
		return device.OptionBytes{}, fmt.Errorf("read option bytes: %w", err)
	}
	ob, err := device.DecodeOptionBytes(raw)
	if err != nil {
		return device.OptionBytes{}, err
	}

	p.info = p.info.WithOptionBytes(ob)
	p.obRead = true
	p.log.WithField("rdp", fmt.Sprintf("0x%02X", ob.ReadProtectByte())).Debug("option bytes read")
	return ob, nil
}

// WriteOptionBytes writes a raw 16-byte option-byte image. The device resets
// once the write is acknowledged, so the session is always dropped; with
// reconnect set the session is reopened. It returns whether the session is
// connected on return.
func (p *Programmer) WriteOptionBytes(ctx context.Context, data []byte, reconnect bool) (bool, error) {
	if len(data) != device.OptionBytesSize {
		return p.Connected(), &device.OptionBytesLengthError{Length: len(data)}
	}
	if err := p.requireIdentified(); err != nil {
		return p.Connected(), err
	}

	// One Write Memory command: the device resets after the first one.
	start := time.Now()
	resp, err := p.engine.WriteMemory(ctx, device.OptionBytesAddress, data)
	if err != nil {
		if dataSent(err) {
			p.engine.MarkReset()
			p.forgetDevice()
		}
		return p.Connected(), fmt.Errorf("write option bytes: %w", err)
	}
	if err := resp.Err(); err != nil {
		return p.Connected(), fmt.Errorf("write option bytes: %w", err)
	}
	p.reportProgress(PhaseWriting, device.OptionBytesAddress, len(data), len(data), start)
	p.log.Info("option bytes written, device resets")
	p.engine.MarkReset()
	p.forgetDevice()

	if !reconnect {
		return false, nil
	}
	if err := sleep(ctx, p.config.ResetDelay); err != nil {
		return false, err
	}
	if err := p.Reconnect(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// ApplyOptionBytes encodes ob and writes it with WriteOptionBytes.
//
// Example:
//
//	ob, _ := prog.OptionBytes()
//	_, err := prog.ApplyOptionBytes(ctx, ob.WithDataByte0(0x42), true)
func (p *Programmer) ApplyOptionBytes(ctx context.Context, ob device.OptionBytes, reconnect bool) (bool, error) {
	raw := ob.Bytes()
	return p.WriteOptionBytes(ctx, raw[:], reconnect)
}

// ReadFromRAM reads length bytes of SRAM starting at addr.
func (p *Programmer) ReadFromRAM(ctx context.Context, addr uint32, length int) ([]byte, error) {
	if err := p.checkTransfer("read", addr, length, func(t *device.Type) device.Region { return t.RAM }); err != nil {
		return nil, err
	}
	return p.readMem(ctx, addr, length, PhaseReading)
}

// WriteToRAM writes data to SRAM starting at addr.
func (p *Programmer) WriteToRAM(ctx context.Context, addr uint32, data []byte) error {
	if err := p.checkTransfer("write", addr, len(data), func(t *device.Type) device.Region { return t.RAM }); err != nil {
		return err
	}
	return p.writeMem(ctx, addr, data, PhaseWriting)
}

// ReadFromFlash reads length bytes of flash starting at addr.
func (p *Programmer) ReadFromFlash(ctx context.Context, addr uint32, length int) ([]byte, error) {
	if err := p.checkTransfer("read", addr, length, flashRegion); err != nil {
		return nil, err
	}
	return p.readMem(ctx, addr, length, PhaseReading)
}

// WriteToFlash programs data into flash starting at addr. The target pages
// must have been erased.
//
// Example:
//
//	if err := prog.ErasePages(ctx, []int{0, 1}); err != nil {
//	    return err
//	}
//	err := prog.WriteToFlash(ctx, 0x08000000, firmware)
func (p *Programmer) WriteToFlash(ctx context.Context, addr uint32, data []byte) error {
	if err := p.checkTransfer("write", addr, len(data), flashRegion); err != nil {
		return err
	}
	return p.writeMem(ctx, addr, data, PhaseWriting)
}

// ReadFlashPage reads one whole flash page.
func (p *Programmer) ReadFlashPage(ctx context.Context, page int) ([]byte, error) {
	if err := p.requireIdentified(); err != nil {
		return nil, err
	}
	region, err := p.info.FlashPage(page)
	if err != nil {
		return nil, err
	}
	return p.readMem(ctx, region.Start, int(region.Size()), PhaseReading)
}

// VerifyFlash reads back len(data) bytes at addr and compares them word by
// word. Every mismatching word is reported in the returned error.
func (p *Programmer) VerifyFlash(ctx context.Context, addr uint32, data []byte) error {
	if err := p.checkTransfer("verify", addr, len(data), flashRegion); err != nil {
		return err
	}

	actual, err := p.readMem(ctx, addr, len(data), PhaseVerifying)
	if err != nil {
		return err
	}

	var result *multierror.Error
	for i := 0; i < len(data); i += protocol.WriteAlignment {
		want := binary.LittleEndian.Uint32(data[i:])
		got := binary.LittleEndian.Uint32(actual[i:])
		if want != got {
			result = multierror.Append(result, &VerificationError{
				Address:  addr + uint32(i),
				Expected: want,
				Actual:   got,
			})
		}
	}
	return result.ErrorOrNil()
}

// GlobalEraseFlash erases the whole flash.
func (p *Programmer) GlobalEraseFlash(ctx context.Context) error {
	if err := p.requireConnected(); err != nil {
		return err
	}

	p.log.Info("erasing all flash")
	resp, err := p.engine.EraseAll(ctx)
	if err != nil {
		return fmt.Errorf("global erase: %w", err)
	}
	return resp.Err()
}

// ErasePages erases the listed flash pages. Lists longer than one erase
// command accepts are split.
func (p *Programmer) ErasePages(ctx context.Context, pages []int) error {
	if err := p.requireIdentified(); err != nil {
		return err
	}
	if len(pages) == 0 {
		return &InvalidLengthError{Operation: "erase", Length: 0, Reason: "no pages given"}
	}

	codes := make([]byte, 0, len(pages))
	for _, page := range pages {
		if _, err := p.info.FlashPage(page); err != nil {
			return err
		}
		if page > 0xFF {
			return &device.InvalidPageError{Page: page, Max: 0xFF}
		}
		codes = append(codes, byte(page))
	}

	start := time.Now()
	for done := 0; done < len(codes); {
		n := len(codes) - done
		if n > protocol.MaxErasePages {
			n = protocol.MaxErasePages
		}
		resp, err := p.engine.ErasePages(ctx, codes[done:done+n])
		if err != nil {
			return fmt.Errorf("erase pages: %w", err)
		}
		if err := resp.Err(); err != nil {
			return err
		}
		done += n
		p.reportProgress(PhaseErasing, p.info.FlashMemory.Start, done, len(codes), start)
	}

	p.log.WithField("pages", len(codes)).Info("flash pages erased")
	return nil
}

// WriteApplicationFile loads a firmware image and programs it into flash.
// Raw binaries are written at the flash start plus offset; Intel HEX images
// carry their own addresses and reject a non-zero offset.
//
// Example:
//
//	if err := prog.GlobalEraseFlash(ctx); err != nil {
//	    return err
//	}
//	err := prog.WriteApplicationFile(ctx, "firmware.bin", 0)
func (p *Programmer) WriteApplicationFile(ctx context.Context, path string, offset uint32) error {
	img, err := image.Load(path)
	if err != nil {
		return err
	}
	if img.Absolute() && offset != 0 {
		return &ImageOffsetError{Path: path, Offset: offset}
	}
	return p.WriteImage(ctx, img, offset)
}

// WriteImage programs every segment of img into flash.
func (p *Programmer) WriteImage(ctx context.Context, img *image.Image, offset uint32) error {
	if err := p.requireIdentified(); err != nil {
		return err
	}

	for _, seg := range p.placeImage(img, offset) {
		if err := p.WriteToFlash(ctx, seg.Address, seg.Data); err != nil {
			return fmt.Errorf("segment at 0x%08X: %w", seg.Address, err)
		}
	}
	p.log.WithField("bytes", img.Size()).Info("image written")
	return nil
}

// VerifyImage compares every segment of img with the flash contents.
func (p *Programmer) VerifyImage(ctx context.Context, img *image.Image, offset uint32) error {
	if err := p.requireIdentified(); err != nil {
		return err
	}

	var result *multierror.Error
	for _, seg := range p.placeImage(img, offset) {
		if err := p.VerifyFlash(ctx, seg.Address, seg.Data); err != nil {
			var merr *multierror.Error
			if !errors.As(err, &merr) {
				return err
			}
			result = multierror.Append(result, merr.Errors...)
		}
	}
	return result.ErrorOrNil()
}

// placeImage relocates binary images to flash and pads every segment to a whole word.
func (p *Programmer) placeImage(img *image.Image, offset uint32) []image.Segment {
	segments := make([]image.Segment, 0, len(img.Segments))
	for _, seg := range img.Segments {
		addr := seg.Address
		if !img.Absolute() {
			addr += p.info.FlashMemory.Start + offset
		}
		segments = append(segments, image.Segment{
			Address: addr,
			Data:    seg.Padded(protocol.WriteAlignment, 0xFF),
		})
	}
	return segments
}

// IsFlashWriteProtected reports whether every flash sector is write protected,
// according to the last option bytes read.
func (p *Programmer) IsFlashWriteProtected() (bool, error) {
	ob, err := p.OptionBytes()
	if err != nil {
		return false, err
	}
	return ob.WriteProtected(), nil
}

// ReadProtectFlash enables readout protection. The device resets and the session is reopened.
func (p *Programmer) ReadProtectFlash(ctx context.Context) error {
	return p.resettingCommand(ctx, "readout protect", p.engine.ReadoutProtect)
}

// ReadUnprotectFlash disables readout protection, which mass-erases the flash.
// The device resets and the session is reopened.
func (p *Programmer) ReadUnprotectFlash(ctx context.Context) error {
	return p.resettingCommand(ctx, "readout unprotect", p.engine.ReadoutUnprotect)
}

// WriteProtectFlash enables write protection on the listed sectors.
// The device resets and the session is reopened.
func (p *Programmer) WriteProtectFlash(ctx context.Context, sectors []byte) error {
	if err := p.requireConnected(); err != nil {
		return err
	}
	if _, err := protocol.BuildWriteProtectFrame(sectors); err != nil {
		return fmt.Errorf("write protect: %w", err)
	}
	return p.resettingCommand(ctx, "write protect", func(ctx context.Context) (protocol.Response, error) {
		return p.engine.WriteProtect(ctx, sectors)
	})
}

// WriteUnprotectFlash disables write protection on every sector.
// The device resets and the session is reopened.
func (p *Programmer) WriteUnprotectFlash(ctx context.Context) error {
	return p.resettingCommand(ctx, "write unprotect", p.engine.WriteUnprotect)
}

// Go starts the application at addr. The bootloader stops answering once
// the jump is acknowledged.
func (p *Programmer) Go(ctx context.Context, addr uint32) error {
	if err := p.requireConnected(); err != nil {
		return err
	}

	resp, err := p.engine.Go(ctx, addr)
	if err != nil {
		return fmt.Errorf("go: %w", err)
	}
	if err := resp.Err(); err != nil {
		return err
	}
	p.forgetDevice()
	p.log.WithField("address", fmt.Sprintf("0x%08X", addr)).Info("application started")
	return nil
}

// ResetDevice pulses DTR to reset the target. Connect must be called afterwards.
func (p *Programmer) ResetDevice() error {
	p.forgetDevice()
	return p.engine.ResetDevice()
}

// resettingCommand runs a command after which the device resets, waits for
// the reset and always tries to reconnect.
func (p *Programmer) resettingCommand(ctx context.Context, name string, run func(context.Context) (protocol.Response, error)) error {
	if err := p.requireConnected(); err != nil {
		return err
	}

	resp, err := run(ctx)
	p.forgetDevice()

	var result *multierror.Error
	if err != nil {
		result = multierror.Append(result, fmt.Errorf("%s: %w", name, err))
	} else if nackErr := resp.Err(); nackErr != nil {
		result = multierror.Append(result, nackErr)
	} else {
		p.log.Infof("%s done, device resets", name)
	}

	if err := sleep(ctx, p.config.ResetDelay); err != nil {
		return multierror.Append(result, err)
	}
	if err := p.Reconnect(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// readMem reads length bytes in chunks of at most ChunkSize.
func (p *Programmer) readMem(ctx context.Context, addr uint32, length int, phase string) ([]byte, error) {
	start := time.Now()
	data := make([]byte, 0, length)

	for len(data) < length {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		chunkAddr := addr + uint32(len(data))
		n := length - len(data)
		if n > p.config.ChunkSize {
			n = p.config.ChunkSize
		}

		resp, err := p.engine.ReadMemory(ctx, chunkAddr, n)
		if err != nil {
			return nil, fmt.Errorf("read 0x%08X: %w", chunkAddr, err)
		}
		if err := resp.Err(); err != nil {
			return nil, fmt.Errorf("read 0x%08X: %w", chunkAddr, err)
		}

		data = append(data, resp.Data...)
		p.reportProgress(phase, addr, len(data), length, start)
	}
	return data, nil
}

// writeMem writes data in chunks of at most ChunkSize.
func (p *Programmer) writeMem(ctx context.Context, addr uint32, data []byte, phase string) error {
	start := time.Now()

	for done := 0; done < len(data); {
		if err := ctx.Err(); err != nil {
			return err
		}

		chunkAddr := addr + uint32(done)
		n := len(data) - done
		if n > p.config.ChunkSize {
			n = p.config.ChunkSize
		}

		resp, err := p.engine.WriteMemory(ctx, chunkAddr, data[done:done+n])
		if err != nil {
			if rejectedWrite(err) {
				return &InvalidWriteAddressError{Address: chunkAddr, Err: err}
			}
			return fmt.Errorf("write 0x%08X: %w", chunkAddr, err)
		}
		if err := resp.Err(); err != nil {
			return fmt.Errorf("write 0x%08X: %w", chunkAddr, err)
		}

		done += n
		p.reportProgress(phase, addr, done, len(data), start)
	}
	return nil
}

// rejectedWrite reports whether the device went silent after accepting the
// Write Memory opcode, which is how it refuses a target address.
func rejectedWrite(err error) bool {
	var pe *protocol.PhaseError
	return errors.As(err, &pe) && pe.Phase != "command" && protocol.IsNoResponse(err)
}

// dataSent reports whether a Write Memory failed after its data block went
// out, so the device may already have acted on it.
func dataSent(err error) bool {
	var pe *protocol.PhaseError
	return errors.As(err, &pe) && pe.Phase == "data"
}

// checkTransfer validates a memory access before anything is sent.
func (p *Programmer) checkTransfer(op string, addr uint32, length int, region func(*device.Type) device.Region) error {
	if err := p.requireIdentified(); err != nil {
		return err
	}

	r := region(p.info)
	switch {
	case !r.Contains(addr):
		return &InvalidAddressError{Address: addr, Region: r}
	case length <= 0:
		return &InvalidLengthError{Operation: op, Length: length, Reason: "must be positive"}
	case length%protocol.WriteAlignment != 0:
		return &InvalidLengthError{Operation: op, Length: length, Reason: "must be a multiple of 4"}
	case !r.ContainsRange(addr, length):
		return &InvalidLengthError{Operation: op, Length: length,
			Reason: fmt.Sprintf("runs past the end of %s", r)}
	}
	return nil
}

func flashRegion(t *device.Type) device.Region {
	return t.FlashMemory
}

func (p *Programmer) requireConnected() error {
	if !p.engine.Connected() {
		return ErrNotConnected
	}
	return nil
}

func (p *Programmer) requireIdentified() error {
	if err := p.requireConnected(); err != nil {
		return err
	}
	if p.info == nil {
		return ErrInfoNotRetrieved
	}
	return nil
}

func (p *Programmer) forgetDevice() {
	p.info = nil
	p.blInfo = nil
	p.obRead = false
}

// reportProgress calls the progress callback if configured.
func (p *Programmer) reportProgress(phase string, addr uint32, done, total int, start time.Time) {
	if p.config.ProgressCallback == nil {
		return
	}
	pct := 100.0
	if total > 0 {
		pct = float64(done) / float64(total) * 100
	}
	p.config.ProgressCallback(Progress{
		Phase:       phase,
		Address:     addr,
		BytesDone:   done,
		BytesTotal:  total,
		Percentage:  pct,
		ElapsedTime: time.Since(start),
	})
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
