package main

import (
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"

	"github.com/moffa90/go-stm32boot/bootloader"
)

// progressBars turns programmer progress reports into terminal bars,
// one bar per transfer.
type progressBars struct {
	out     io.Writer
	bar     *progressbar.ProgressBar
	phase   string
	address uint32
	total   int
	err     error
}

func newProgressBars() *progressBars {
	return &progressBars{out: os.Stderr}
}

func (b *progressBars) update(p bootloader.Progress) {
	// small transfers such as option bytes are not worth a bar
	if p.BytesTotal < 1024 {
		return
	}

	if b.bar == nil || p.Phase != b.phase || p.Address != b.address || p.BytesTotal != b.total {
		b.keep(b.finish())
		b.phase, b.address, b.total = p.Phase, p.Address, p.BytesTotal
		b.bar = progressbar.NewOptions(p.BytesTotal,
			progressbar.OptionSetWriter(b.out),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetDescription(fmt.Sprintf("%-9s 0x%08X", p.Phase, p.Address)),
			progressbar.OptionShowBytes(true),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(b.out) }),
		)
	}

	b.keep(b.bar.Set(p.BytesDone))
	if p.BytesDone >= p.BytesTotal {
		b.keep(b.finish())
	}
}

// finish completes the current bar, if any, and returns the first error seen.
func (b *progressBars) finish() error {
	if b.bar != nil {
		b.keep(b.bar.Finish())
		b.bar = nil
	}
	err := b.err
	b.err = nil
	return err
}

func (b *progressBars) keep(err error) {
	if b.err == nil {
		b.err = err
	}
}
