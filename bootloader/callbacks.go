package bootloader

import "time"

// Progress phases.
const (
	PhaseReading   = "reading"
	PhaseWriting   = "writing"
	PhaseErasing   = "erasing"
	PhaseVerifying = "verifying"
	PhaseComplete  = "complete"
)

// Progress contains information about a running memory transfer.
// Passed to ProgressCallback after every chunk.
type Progress struct {
	// Phase describes the current operation:
	//   "reading"   - Reading memory
	//   "writing"   - Writing memory
	//   "erasing"   - Erasing flash
	//   "verifying" - Comparing flash with an image
	//   "complete"  - The transfer finished
	Phase string

	// Address is the start address of the transfer
	Address uint32

	// BytesDone is the number of bytes transferred so far
	BytesDone int

	// BytesTotal is the size of the whole transfer
	BytesTotal int

	// Percentage is the completion percentage (0.0 to 100.0)
	Percentage float64

	// ElapsedTime is the time since the transfer started
	ElapsedTime time.Duration
}

// ProgressCallback is called during transfers to report progress.
// Implementations should return quickly, the transfer waits for them.
//
// Example:
//
//	prog := bootloader.New(port,
//	    bootloader.WithProgressCallback(func(p bootloader.Progress) {
//	        fmt.Printf("[%s] %.1f%% - %d/%d bytes\n",
//	            p.Phase, p.Percentage, p.BytesDone, p.BytesTotal)
//	    }),
//	)
type ProgressCallback func(Progress)
