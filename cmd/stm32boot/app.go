package main

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/moffa90/go-stm32boot/bootloader"
	"github.com/moffa90/go-stm32boot/protocol"
	"github.com/moffa90/go-stm32boot/serialport"
	"github.com/moffa90/go-stm32boot/sim"
)

// session is an open port with a connected, identified programmer.
type session struct {
	port protocol.Port
	prog *bootloader.Programmer
	bars *progressBars
}

// openSession opens the configured port and identifies the device.
// Option bytes are read when readOptionBytes is set.
func openSession(ctx context.Context, readOptionBytes bool) (*session, error) {
	port, err := openPort()
	if err != nil {
		return nil, err
	}

	s := &session{port: port}
	opts := []bootloader.Option{
		bootloader.WithLogger(log),
		bootloader.WithReadTimeout(cfg.ReadTimeout),
		bootloader.WithReconnectDelay(cfg.ReconnectDelay),
	}
	if !flagNoBar {
		s.bars = newProgressBars()
		opts = append(opts, bootloader.WithProgressCallback(s.bars.update))
	}
	s.prog = bootloader.New(port, opts...)

	if err := s.prog.ConnectAndReadInfo(ctx, false); err != nil {
		return nil, multierror.Append(fmt.Errorf("connect: %w", err), s.port.Close()).ErrorOrNil()
	}
	if readOptionBytes {
		if _, err := s.prog.ReadOptionBytes(ctx); err != nil {
			log.WithError(err).Warn("option bytes unavailable, the device may be read protected")
		}
	}
	return s, nil
}

func openPort() (protocol.Port, error) {
	if flagSimulate != "" {
		pid, err := parseNumber(flagSimulate)
		if err != nil {
			return nil, err
		}
		if pid > 0xFFFF {
			return nil, fmt.Errorf("invalid product ID %s, must fit in 16 bits", flagSimulate)
		}
		log.WithField("pid", fmt.Sprintf("0x%04X", pid)).Warn("using simulated device")
		dev, err := sim.New(uint16(pid), sim.WithLogger(log))
		if err != nil {
			return nil, err
		}
		return dev, nil
	}

	if cfg.Port == "" {
		return nil, fmt.Errorf("no serial port given, use --port or set port in %s", flagConfig)
	}
	log.WithField("port", cfg.Port).WithField("baud", cfg.Baud).Debug("opening serial port")
	port, err := serialport.Open(cfg.Port, cfg.Baud)
	if err != nil {
		return nil, err
	}
	return port, nil
}

// reidentify restores an identified session after a command that reset the device.
func (s *session) reidentify(ctx context.Context) error {
	if !s.prog.Connected() {
		if err := s.prog.Reconnect(ctx); err != nil {
			return err
		}
	}
	return s.prog.ReadDeviceInfo(ctx)
}

// Close finishes any progress output and closes the port.
func (s *session) Close() error {
	var errs *multierror.Error
	if s.bars != nil {
		errs = multierror.Append(errs, s.bars.finish())
	}
	errs = multierror.Append(errs, s.port.Close())
	return errs.ErrorOrNil()
}
