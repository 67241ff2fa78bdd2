package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/moffa90/go-stm32boot/bootloader"
	"github.com/moffa90/go-stm32boot/device"
	"github.com/moffa90/go-stm32boot/image"
	"github.com/moffa90/go-stm32boot/protocol"
)

var readOutput string

var readCmd = &cobra.Command{
	Use:   "read [address] [length]",
	Short: "Read RAM or flash",
	Long:  "Read memory from the device. The address picks the region (RAM or flash). Without --out the data is hex dumped.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := parseNumber(args[0])
		if err != nil {
			return fmt.Errorf("invalid address: %w", err)
		}
		length, err := parseNumber(args[1])
		if err != nil {
			return fmt.Errorf("invalid length: %w", err)
		}

		s, err := openSession(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer s.Close()

		data, err := readRegion(cmd.Context(), s.prog, addr, int(length))
		if err != nil {
			return err
		}

		if readOutput == "" {
			fmt.Fprint(cmd.OutOrStdout(), hex.Dump(data))
			return nil
		}
		if err := os.WriteFile(readOutput, data, 0o644); err != nil {
			return fmt.Errorf("could not write output file: %w", err)
		}
		log.WithField("file", readOutput).Infof("%d bytes read", len(data))
		return nil
	},
}

var writeCmd = &cobra.Command{
	Use:   "write [address] [file]",
	Short: "Write a raw file to RAM or flash",
	Long:  "Write a file's bytes at the address, padded with 0xFF to a whole word. Flash must be erased first.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := parseNumber(args[0])
		if err != nil {
			return fmt.Errorf("invalid address: %w", err)
		}
		raw, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("could not read file: %w", err)
		}
		data := image.Segment{Address: addr, Data: raw}.Padded(protocol.WriteAlignment, 0xFF)

		s, err := openSession(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := writeRegion(cmd.Context(), s.prog, addr, data); err != nil {
			return err
		}
		log.WithField("address", fmt.Sprintf("0x%08X", addr)).Infof("%d bytes written", len(data))
		return nil
	},
}

func init() {
	readCmd.Flags().StringVarP(&readOutput, "out", "o", "", "Write the data to this file instead of stdout")
}

// regionOf names the memory region holding addr.
func regionOf(dt *device.Type, addr uint32) (string, error) {
	switch {
	case dt.FlashMemory.Contains(addr):
		return "flash", nil
	case dt.RAM.Contains(addr):
		return "ram", nil
	}
	return "", &bootloader.InvalidAddressError{Address: addr, Region: dt.FlashMemory}
}

func readRegion(ctx context.Context, prog *bootloader.Programmer, addr uint32, length int) ([]byte, error) {
	dt, err := prog.DeviceType()
	if err != nil {
		return nil, err
	}
	region, err := regionOf(dt, addr)
	if err != nil {
		return nil, err
	}
	if region == "ram" {
		return prog.ReadFromRAM(ctx, addr, length)
	}
	return prog.ReadFromFlash(ctx, addr, length)
}

func writeRegion(ctx context.Context, prog *bootloader.Programmer, addr uint32, data []byte) error {
	dt, err := prog.DeviceType()
	if err != nil {
		return err
	}
	region, err := regionOf(dt, addr)
	if err != nil {
		return err
	}
	if region == "ram" {
		return prog.WriteToRAM(ctx, addr, data)
	}
	return prog.WriteToFlash(ctx, addr, data)
}
