package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/moffa90/go-stm32boot/serialport"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := serialport.List()
		if err != nil {
			return err
		}
		if len(ports) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no serial ports found")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PORT\tVID:PID\tSERIAL\tPRODUCT")
		for _, p := range ports {
			id := "-"
			if p.IsUSB {
				id = p.VID + ":" + p.PID
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Name, id, p.SerialNumber, p.Product)
		}
		return w.Flush()
	},
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Identify the device and show its memory map and option bytes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer s.Close()

		dt, err := s.prog.DeviceType()
		if err != nil {
			return err
		}
		cmds, err := s.prog.SupportedCommands()
		if err != nil {
			return err
		}
		ob, err := s.prog.OptionBytes()
		if err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), renderDeviceInfo(dt, cmds, nil))
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderDeviceInfo(dt, cmds, &ob))
		return nil
	},
}
