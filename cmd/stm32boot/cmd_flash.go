package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/moffa90/go-stm32boot/bootloader"
	"github.com/moffa90/go-stm32boot/device"
	"github.com/moffa90/go-stm32boot/image"
)

var (
	flashOffset string
	flashErase  string
	flashVerify bool
	flashGo     bool

	eraseAll   bool
	erasePages []int
)

var flashCmd = &cobra.Command{
	Use:   "flash [image]",
	Short: "Program a firmware image into flash",
	Long: `Program a raw binary or an Intel HEX image into flash.

Binaries are written at the flash start plus --offset. HEX files carry their
own addresses. By default only the pages the image touches are erased.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		offset, err := parseNumber(flashOffset)
		if err != nil {
			return fmt.Errorf("invalid offset: %w", err)
		}
		img, err := image.Load(args[0])
		if err != nil {
			return err
		}
		if img.Absolute() && offset != 0 {
			return &bootloader.ImageOffsetError{Path: args[0], Offset: offset}
		}
		if img.Size() == 0 {
			return fmt.Errorf("%s contains no data", args[0])
		}

		s, err := openSession(ctx, false)
		if err != nil {
			return err
		}
		defer s.Close()

		dt, err := s.prog.DeviceType()
		if err != nil {
			return err
		}

		start := time.Now()
		switch flashErase {
		case "all":
			if err := s.prog.GlobalEraseFlash(ctx); err != nil {
				return err
			}
		case "pages":
			pages, err := imagePages(dt, img, offset)
			if err != nil {
				return err
			}
			log.WithField("pages", len(pages)).Info("erasing")
			if err := s.prog.ErasePages(ctx, pages); err != nil {
				return err
			}
		case "none":
		default:
			return fmt.Errorf("invalid --erase %q, want pages, all or none", flashErase)
		}

		if err := s.prog.WriteImage(ctx, img, offset); err != nil {
			return err
		}
		if flashVerify {
			if err := s.prog.VerifyImage(ctx, img, offset); err != nil {
				return err
			}
			log.Info("verified")
		}
		log.WithField("bytes", img.Size()).WithField("elapsed", time.Since(start).Round(time.Millisecond)).Info("flash programmed")

		if flashGo {
			addr := imageBase(img, offset)
			if err := s.prog.Go(ctx, addr); err != nil {
				return err
			}
			log.WithField("address", fmt.Sprintf("0x%08X", addr)).Info("application started")
		}
		return nil
	},
}

var eraseCmd = &cobra.Command{
	Use:   "erase",
	Short: "Erase flash pages or the whole flash",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if eraseAll == (len(erasePages) > 0) {
			return fmt.Errorf("give exactly one of --all or --pages")
		}

		s, err := openSession(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer s.Close()

		if eraseAll {
			if err := confirm("Erase the whole flash?"); err != nil {
				return err
			}
			if err := s.prog.GlobalEraseFlash(cmd.Context()); err != nil {
				return err
			}
			log.Info("flash erased")
			return nil
		}
		if err := s.prog.ErasePages(cmd.Context(), erasePages); err != nil {
			return err
		}
		log.WithField("pages", erasePages).Info("pages erased")
		return nil
	},
}

func init() {
	flashCmd.Flags().StringVar(&flashOffset, "offset", "0", "Offset from the flash start for binary images")
	flashCmd.Flags().StringVar(&flashErase, "erase", "pages", "Erase before writing: pages, all or none")
	flashCmd.Flags().BoolVar(&flashVerify, "verify", false, "Read back and compare after writing")
	flashCmd.Flags().BoolVar(&flashGo, "go", false, "Start the application after writing")

	eraseCmd.Flags().BoolVar(&eraseAll, "all", false, "Erase the whole flash")
	eraseCmd.Flags().IntSliceVar(&erasePages, "pages", nil, "Comma separated page numbers to erase")
	eraseCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask for confirmation")
}

// imageBase returns the address the application starts at.
func imageBase(img *image.Image, offset uint32) uint32 {
	if img.Absolute() && len(img.Segments) > 0 {
		return img.Segments[0].Address
	}
	return device.FlashStart + offset
}

// imagePages lists, in order, every flash page the image writes to.
func imagePages(dt *device.Type, img *image.Image, offset uint32) ([]int, error) {
	seen := map[int]bool{}
	for _, seg := range img.Segments {
		start := seg.Address
		if !img.Absolute() {
			start += dt.FlashMemory.Start + offset
		}
		end := start + uint32(len(seg.Padded(4, 0xFF))) - 1

		first, ok := dt.PageOf(start)
		if !ok {
			return nil, &bootloader.InvalidAddressError{Address: start, Region: dt.FlashMemory}
		}
		last, ok := dt.PageOf(end)
		if !ok {
			return nil, &bootloader.InvalidAddressError{Address: end, Region: dt.FlashMemory}
		}
		for p := first; p <= last; p++ {
			seen[p] = true
		}
	}

	pages := make([]int, 0, len(seen))
	for p := range seen {
		pages = append(pages, p)
	}
	sort.Ints(pages)
	return pages, nil
}
