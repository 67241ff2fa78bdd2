package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/moffa90/go-stm32boot/device"
)

var optbytesCmd = &cobra.Command{
	Use:   "optbytes",
	Short: "Show or change the option bytes",
}

var optbytesShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Read and decode the option bytes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer s.Close()

		ob, err := s.prog.ReadOptionBytes(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), strings.Join(renderOptionBytes(ob), "\n"))
		return nil
	},
}

var (
	obRaw        string
	obWatchdogSW bool
	obRstStop    bool
	obRstStandby bool
	obData0      string
	obData1      string
	obSectors    []int
)

var optbytesSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change option bytes",
	Long: `Read the option bytes, change the given fields and write them back.
The device resets afterwards and the session is reopened.

With --raw the 16-byte image is written as given, complements included.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		s, err := openSession(ctx, false)
		if err != nil {
			return err
		}
		defer s.Close()

		if obRaw != "" {
			raw, err := hex.DecodeString(strings.ReplaceAll(obRaw, " ", ""))
			if err != nil {
				return fmt.Errorf("invalid --raw: %w", err)
			}
			if _, err := s.prog.WriteOptionBytes(ctx, raw, true); err != nil {
				return err
			}
			log.Info("option bytes written")
			return nil
		}

		ob, err := s.prog.ReadOptionBytes(ctx)
		if err != nil {
			return err
		}
		ob, err = applyOptionFlags(cmd, ob)
		if err != nil {
			return err
		}
		if _, err := s.prog.ApplyOptionBytes(ctx, ob, true); err != nil {
			return err
		}
		if err := s.reidentify(ctx); err != nil {
			return err
		}
		ob, err = s.prog.ReadOptionBytes(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), strings.Join(renderOptionBytes(ob), "\n"))
		return nil
	},
}

func init() {
	f := optbytesSetCmd.Flags()
	f.StringVar(&obRaw, "raw", "", "Write this 16-byte hex image verbatim")
	f.BoolVar(&obWatchdogSW, "software-watchdog", true, "Use the software watchdog")
	f.BoolVar(&obRstStop, "reset-on-stop", false, "Reset when entering Stop mode")
	f.BoolVar(&obRstStandby, "reset-on-standby", false, "Reset when entering Standby mode")
	f.StringVar(&obData0, "data0", "", "User data byte 0")
	f.StringVar(&obData1, "data1", "", "User data byte 1")
	f.IntSliceVar(&obSectors, "protect-sectors", nil, "Write-protected sector numbers (replaces the current set)")
}

// applyOptionFlags applies every flag the user set to ob.
func applyOptionFlags(cmd *cobra.Command, ob device.OptionBytes) (device.OptionBytes, error) {
	flags := cmd.Flags()
	if flags.Changed("software-watchdog") {
		ob = ob.WithSoftwareWatchdog(obWatchdogSW)
	}
	if flags.Changed("reset-on-stop") {
		ob = ob.WithResetOnStop(obRstStop)
	}
	if flags.Changed("reset-on-standby") {
		ob = ob.WithResetOnStandby(obRstStandby)
	}
	if flags.Changed("data0") {
		b, err := parseByte(obData0)
		if err != nil {
			return ob, fmt.Errorf("invalid --data0: %w", err)
		}
		ob = ob.WithDataByte0(b)
	}
	if flags.Changed("data1") {
		b, err := parseByte(obData1)
		if err != nil {
			return ob, fmt.Errorf("invalid --data1: %w", err)
		}
		ob = ob.WithDataByte1(b)
	}
	if flags.Changed("protect-sectors") {
		var err error
		ob, err = ob.WithProtectedSectors(obSectors)
		if err != nil {
			return ob, err
		}
	}
	return ob, nil
}

func parseByte(s string) (byte, error) {
	n, err := parseNumber(s)
	if err != nil {
		return 0, err
	}
	if n > 0xFF {
		return 0, fmt.Errorf("%s does not fit in a byte", s)
	}
	return byte(n), nil
}
