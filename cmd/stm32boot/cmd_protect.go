package main

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

var (
	protectSectors []int
	assumeYes      bool
)

var protectCmd = &cobra.Command{
	Use:       "protect [read|write]",
	Short:     "Enable read or write protection",
	Long:      "Enable readout protection, or write protection for --sectors. The device resets afterwards.",
	Args:      cobra.ExactValidArgs(1),
	ValidArgs: []string{"read", "write"},
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer s.Close()

		switch args[0] {
		case "read":
			err = s.prog.ReadProtectFlash(cmd.Context())
		case "write":
			var sectors []byte
			sectors, err = sectorBytes(protectSectors)
			if err == nil {
				err = s.prog.WriteProtectFlash(cmd.Context(), sectors)
			}
		}
		if err != nil {
			return err
		}
		log.Infof("%s protection enabled", args[0])
		return nil
	},
}

var unprotectCmd = &cobra.Command{
	Use:   "unprotect [read|write]",
	Short: "Disable read or write protection",
	Long: `Disable readout protection (this mass-erases the flash) or write
protection on every sector. The device resets afterwards.`,
	Args:      cobra.ExactValidArgs(1),
	ValidArgs: []string{"read", "write"},
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer s.Close()

		switch args[0] {
		case "read":
			if err := confirm("Removing readout protection erases the whole flash. Continue?"); err != nil {
				return err
			}
			err = s.prog.ReadUnprotectFlash(cmd.Context())
		case "write":
			err = s.prog.WriteUnprotectFlash(cmd.Context())
		}
		if err != nil {
			return err
		}
		log.Infof("%s protection disabled", args[0])
		return nil
	},
}

var goCmd = &cobra.Command{
	Use:   "go [address]",
	Short: "Start the application at an address",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer s.Close()

		dt, err := s.prog.DeviceType()
		if err != nil {
			return err
		}
		addr := dt.FlashMemory.Start
		if len(args) == 1 {
			if addr, err = parseNumber(args[0]); err != nil {
				return fmt.Errorf("invalid address: %w", err)
			}
		}
		return s.prog.Go(cmd.Context(), addr)
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Pulse DTR to reset the target",
	Long:  "Pulse DTR to reset the target. Only works on boards that wire DTR to NRST.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, err := openPort()
		if err != nil {
			return err
		}
		defer port.Close()

		if err := port.SetDTR(true); err != nil {
			return err
		}
		if err := port.SetDTR(false); err != nil {
			return err
		}
		log.Info("reset pulse sent")
		return nil
	},
}

func init() {
	protectCmd.Flags().IntSliceVar(&protectSectors, "sectors", nil, "Sectors to write protect")
	unprotectCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask for confirmation")
}

// errAborted is returned when the user declines a destructive operation.
var errAborted = errors.New("aborted")

// confirm asks before a destructive operation unless --yes was given.
func confirm(title string) error {
	if assumeYes {
		return nil
	}

	var ok bool
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(title).
			Affirmative("Yes").
			Negative("No").
			Value(&ok),
	))
	if err := form.Run(); err != nil {
		return fmt.Errorf("confirmation failed (use --yes when not on a terminal): %w", err)
	}
	if !ok {
		return errAborted
	}
	return nil
}

func sectorBytes(sectors []int) ([]byte, error) {
	if len(sectors) == 0 {
		return nil, fmt.Errorf("no sectors given, use --sectors")
	}
	out := make([]byte, 0, len(sectors))
	for _, s := range sectors {
		if s < 0 || s > 0xFF {
			return nil, fmt.Errorf("invalid sector %d", s)
		}
		out = append(out, byte(s))
	}
	return out, nil
}
