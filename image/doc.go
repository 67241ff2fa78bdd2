// Package image loads firmware images for flashing.
//
// Two formats are supported: raw binaries, which carry no addresses and are
// placed by the caller, and Intel HEX files, whose data records carry
// absolute addresses. Both load into an Image made of sorted, non-overlapping
// segments.
//
//	img, err := image.Load("firmware.hex")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("%s image, %d bytes in %d segments\n",
//	    img.Format, img.Size(), len(img.Segments))
package image
