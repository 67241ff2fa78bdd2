package bootloader

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/moffa90/go-stm32boot/protocol"
)

// Config holds the programmer configuration.
type Config struct {
	// ProgressCallback is called during transfers to report progress (optional)
	ProgressCallback ProgressCallback

	// Logger receives session and frame traces (optional)
	Logger logrus.FieldLogger

	// ReadTimeout bounds every read from the port
	ReadTimeout time.Duration

	// ConnectDelay is waited before the handshake
	ConnectDelay time.Duration

	// ReconnectDelay is waited between closing and reopening the port
	ReconnectDelay time.Duration

	// ResetDelay is waited after a command that resets the device, before reconnecting
	ResetDelay time.Duration

	// ChunkSize is the payload size of each read or write command.
	// Default is 256 bytes, the protocol maximum
	ChunkSize int
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		ReadTimeout:    protocol.DefaultReadTimeout,
		ConnectDelay:   10 * time.Millisecond,
		ReconnectDelay: protocol.DefaultReconnectDelay,
		ResetDelay:     100 * time.Millisecond,
		ChunkSize:      protocol.MaxTransferSize,
	}
}

// Option is a functional option for configuring the Programmer.
type Option func(*Config)

// WithProgressCallback sets a callback function to track transfer progress.
//
// Example:
//
//	prog := bootloader.New(port,
//	    bootloader.WithProgressCallback(func(p bootloader.Progress) {
//	        fmt.Printf("%.1f%% complete\n", p.Percentage)
//	    }),
//	)
func WithProgressCallback(callback ProgressCallback) Option {
	return func(c *Config) {
		c.ProgressCallback = callback
	}
}

// WithLogger sets the logger used by the programmer and its protocol engine.
//
// Example:
//
//	log := logrus.New()
//	log.SetLevel(logrus.DebugLevel)
//	prog := bootloader.New(port, bootloader.WithLogger(log))
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithReadTimeout sets the per-read timeout.
//
// Example:
//
//	prog := bootloader.New(port, bootloader.WithReadTimeout(2*time.Second))
func WithReadTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.ReadTimeout = timeout
		}
	}
}

// WithConnectDelay sets the pause before the handshake.
func WithConnectDelay(delay time.Duration) Option {
	return func(c *Config) {
		if delay >= 0 {
			c.ConnectDelay = delay
		}
	}
}

// WithReconnectDelay sets the pause between closing and reopening the port.
func WithReconnectDelay(delay time.Duration) Option {
	return func(c *Config) {
		if delay >= 0 {
			c.ReconnectDelay = delay
		}
	}
}

// WithResetDelay sets the pause after a resetting command before reconnecting.
//
// Example:
//
//	prog := bootloader.New(port, bootloader.WithResetDelay(250*time.Millisecond))
func WithResetDelay(delay time.Duration) Option {
	return func(c *Config) {
		if delay >= 0 {
			c.ResetDelay = delay
		}
	}
}

// WithChunkSize sets the payload size of each read or write command.
// Must be a multiple of 4 between 4 and 256; other values are ignored.
//
// Example:
//
//	prog := bootloader.New(port, bootloader.WithChunkSize(128))
func WithChunkSize(size int) Option {
	return func(c *Config) {
		if size >= protocol.WriteAlignment && size <= protocol.MaxTransferSize && size%protocol.WriteAlignment == 0 {
			c.ChunkSize = size
		}
	}
}
