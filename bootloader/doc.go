// Package bootloader provides a high-level API for the STM32 F1 system bootloader.
//
// # Overview
//
// This package runs a bootloader session on top of the protocol engine:
//   - Handshaking with a freshly reset device
//   - Identifying the device and resolving its memory layout
//   - Reading and writing RAM and flash with automatic chunking
//   - Erasing, verifying and programming firmware images
//   - Reading and writing option bytes
//   - Toggling read and write protection
//
// # Basic Usage
//
// The simplest way to program a device:
//
//	port, err := serialport.Open("/dev/ttyUSB0", 57600)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	prog := bootloader.New(port)
//	ctx := context.Background()
//
//	if err := prog.ConnectAndReadInfo(ctx, false); err != nil {
//	    log.Fatal(err)
//	}
//	if err := prog.GlobalEraseFlash(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	if err := prog.WriteApplicationFile(ctx, "firmware.bin", 0); err != nil {
//	    log.Fatal(err)
//	}
//
// # Session State
//
// A session is Disconnected, Connected (handshaken) or Identified (device
// information read). Go, the four protection commands and an option-byte
// write reset the device, which drops the session back to Disconnected and
// discards the device information. Reconnect is the only way back, and
// ReadDeviceInfo must follow it:
//
//	if _, err := prog.WriteOptionBytes(ctx, raw, false); err != nil {
//	    log.Fatal(err)
//	}
//	// prog.ReadFromFlash now fails with ErrNotConnected
//	if err := prog.Reconnect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	if err := prog.ReadDeviceInfo(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// The protection wrappers reconnect on their own; WriteOptionBytes does so
// only when asked.
//
// # Progress Tracking
//
// Track transfers with a callback:
//
//	prog := bootloader.New(port,
//	    bootloader.WithProgressCallback(func(p bootloader.Progress) {
//	        fmt.Printf("[%s] %.1f%% - %d/%d bytes\n",
//	            p.Phase, p.Percentage, p.BytesDone, p.BytesTotal)
//	    }),
//	)
//
// # Logging
//
// Logs go through logrus. Pass any logrus.FieldLogger:
//
//	log := logrus.New()
//	log.SetLevel(logrus.DebugLevel)
//	prog := bootloader.New(port, bootloader.WithLogger(log))
//
// At debug level every frame sent to the device is traced.
//
// # Error Handling
//
// Validation happens before any byte is sent:
//   - ErrNotConnected: no handshake since the last reset
//   - ErrInfoNotRetrieved: ReadDeviceInfo (or ReadOptionBytes) has not run
//   - InvalidAddressError: start address outside the target region
//   - InvalidLengthError: length not a positive multiple of 4, or past the region end
//
// Device outcomes:
//   - protocol.NackError: the device refused a command
//   - InvalidWriteAddressError: the device went silent during a write
//   - VerificationError: flash differs from the image, collected in a multierror
//
// Transport failures are protocol.PhaseError values wrapping protocol.ErrNoResponse
// or protocol.ShortReadError.
package bootloader
