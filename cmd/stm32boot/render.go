package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/moffa90/go-stm32boot/device"
	"github.com/moffa90/go-stm32boot/protocol"
)

var (
	titleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	sectionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	metaStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	frameStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("12")).
			Padding(1, 2)
)

// renderDeviceInfo builds the info view. ob may be nil when the option bytes could not be read.
func renderDeviceInfo(dt *device.Type, cmds []protocol.Command, ob *device.OptionBytes) string {
	lines := []string{
		titleStyle.Render(fmt.Sprintf("%s (PID 0x%04X)", dt.Name, dt.PID)),
		metaStyle.Render(fmt.Sprintf("bootloader v%.1f, %s density", dt.BootloaderVersion, dt.Density)),
		"",
		sectionStyle.Render("Memory:"),
		fmt.Sprintf("  flash          %s  %d x %d bytes", dt.FlashMemory, dt.FlashPageNum, dt.FlashPageSize),
		fmt.Sprintf("  ram            %s", dt.RAM),
		fmt.Sprintf("  bootloader ram %s", dt.BootloaderRAM),
		fmt.Sprintf("  system memory  %s", dt.SystemMemory),
		fmt.Sprintf("  option bytes   %s", dt.OptionBytesRegion),
		"",
		sectionStyle.Render("Commands:"),
	}

	names := make([]string, 0, len(cmds))
	for _, c := range cmds {
		names = append(names, c.String())
	}
	lines = append(lines, "  "+strings.Join(names, ", "))

	lines = append(lines, "", sectionStyle.Render("Option bytes:"))
	if ob == nil {
		lines = append(lines, metaStyle.Render("  (unavailable)"))
	} else {
		lines = append(lines, renderOptionBytes(*ob)...)
	}
	return frameStyle.Render(strings.Join(lines, "\n"))
}

func renderOptionBytes(ob device.OptionBytes) []string {
	onOff := func(b bool) string {
		if b {
			return "yes"
		}
		return "no"
	}

	protected := "none"
	if sectors := ob.ProtectedSectors(); len(sectors) > 0 {
		parts := make([]string, 0, len(sectors))
		for _, s := range sectors {
			parts = append(parts, fmt.Sprint(s))
		}
		protected = strings.Join(parts, ",")
	}
	raw := ob.Raw()

	return []string{
		fmt.Sprintf("  read protected     %s (RDP 0x%02X)", onOff(ob.ReadProtected()), ob.ReadProtectByte()),
		fmt.Sprintf("  software watchdog  %s", onOff(ob.SoftwareWatchdog())),
		fmt.Sprintf("  reset on stop      %s", onOff(ob.ResetOnStop())),
		fmt.Sprintf("  reset on standby   %s", onOff(ob.ResetOnStandby())),
		fmt.Sprintf("  data               0x%02X 0x%02X", ob.DataByte0(), ob.DataByte1()),
		fmt.Sprintf("  protected sectors  %s", protected),
		metaStyle.Render(fmt.Sprintf("  raw % X", raw[:])),
	}
}
