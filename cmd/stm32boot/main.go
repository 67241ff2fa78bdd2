package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/moffa90/go-stm32boot/config"
)

// Set with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

var rootCmd = &cobra.Command{
	Use:   "stm32boot",
	Short: "stm32boot talks to the STM32 F1 system bootloader over UART",
	Long: `Reads, writes and erases memory, flashes firmware images and manages
option bytes and protection on STM32 F1 devices started in system memory
boot mode (BOOT0 high).

Settings are read from a YAML file (see --config); flags override it.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

var (
	flagConfig   string
	flagPort     string
	flagBaud     int
	flagTimeout  time.Duration
	flagLogLevel string
	flagVerbose  bool
	flagSimulate string
	flagNoBar    bool

	cfg *config.Config
	log *logrus.Logger
)

func main() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", config.DefaultPath(), "Configuration file")
	pf.StringVarP(&flagPort, "port", "p", "", "Serial port, e.g. /dev/ttyUSB0 or COM3")
	pf.IntVarP(&flagBaud, "baud", "b", 0, "Baud rate (1200-115200)")
	pf.DurationVar(&flagTimeout, "timeout", 0, "Read timeout per device reply")
	pf.StringVar(&flagLogLevel, "log-level", "", "Log level (panic, fatal, error, warn, info, debug, trace)")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "Enable verbose debug logging")
	pf.StringVar(&flagSimulate, "simulate", "", "Talk to an in-memory device with this product ID instead of a serial port")
	pf.BoolVar(&flagNoBar, "no-progress", false, "Disable progress bars")
	_ = pf.MarkHidden("simulate")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(portsCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(flashCmd)
	rootCmd.AddCommand(eraseCmd)
	optbytesCmd.AddCommand(optbytesShowCmd)
	optbytesCmd.AddCommand(optbytesSetCmd)
	rootCmd.AddCommand(optbytesCmd)
	rootCmd.AddCommand(protectCmd)
	rootCmd.AddCommand(unprotectCmd)
	rootCmd.AddCommand(goCmd)
	rootCmd.AddCommand(resetCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// setup loads the configuration, applies flag overrides and builds the logger.
func setup(cmd *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.Load(flagConfig, cmd.Flags().Changed("config"))
	if err != nil {
		return err
	}
	applyFlags(cmd.Flags(), cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, _ := cfg.Level()
	if flagVerbose {
		level = logrus.DebugLevel
	}
	log = initLogger(level)
	log.WithField("config", flagConfig).Debug("configuration loaded")
	return nil
}

func applyFlags(flags *pflag.FlagSet, c *config.Config) {
	if flags.Changed("port") {
		c.Port = flagPort
	}
	if flags.Changed("baud") {
		c.Baud = flagBaud
	}
	if flags.Changed("timeout") {
		c.ReadTimeout = flagTimeout
	}
	if flags.Changed("log-level") {
		c.LogLevel = flagLogLevel
	}
}

func initLogger(level logrus.Level) *logrus.Logger {
	formatter := &prefixed.TextFormatter{
		DisableColors:   false,
		TimestampFormat: "15:04:05",
		FullTimestamp:   true,
		ForceFormatting: true,
	}

	logger := logrus.New()
	logger.SetFormatter(formatter)
	logger.SetOutput(os.Stderr)
	logger.SetLevel(level)
	return logger
}

// parseNumber accepts 0x-prefixed hex or decimal. Bare strings that are not
// decimal are tried as hex.
func parseNumber(s string) (uint32, error) {
	var err error
	var res uint64
	if strings.HasPrefix(strings.ToLower(s), "0x") {
		res, err = strconv.ParseUint(s[2:], 16, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid number %q", s)
		}
	} else {
		res, err = strconv.ParseUint(s, 10, 32)
		if err != nil {
			res, err = strconv.ParseUint(s, 16, 32)
			if err != nil {
				return 0, fmt.Errorf("invalid number %q", s)
			}
		}
	}
	return uint32(res), nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "stm32boot %s (%s)\n", version, commit)
	},
}
