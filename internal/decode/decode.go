// Package decode reads image files into frame images.
//
// PNG, JPEG and GIF come from the standard library, BMP, TIFF and WebP from
// golang.org/x/image, and the Netpbm family (PBM, PGM, PPM, PAM) from
// github.com/spakin/netpbm. 16-bit PNG, TIFF and PGM data keep their depth.
package decode

import (
	"bufio"
	"encoding/binary"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/spakin/netpbm"
	errors "golang.org/x/xerrors"

	"github.com/lanikai/camhal/internal/frame"
)

// Mode selects how decoded pixels are stored.
type Mode int

const (
	// Keep the channel count of the file.
	Unchanged Mode = iota

	// Reduce color images to a single luminance channel.
	Greyscale
)

var netpbmExtensions = map[string]bool{
	".pbm": true, ".pgm": true, ".ppm": true, ".pnm": true, ".pam": true,
}

// File decodes the image at path.
func File(path string, mode Mode) (*frame.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Errorf("decode: %w", err)
	}
	defer f.Close()

	img, err := Reader(bufio.NewReader(f), filepath.Ext(path), mode)
	if err != nil {
		return nil, errors.Errorf("decode %s: %w", path, err)
	}
	img.Path = path
	return img, nil
}

// Reader decodes an image from r. The extension (with its dot) picks the
// Netpbm decoder; everything else is sniffed by image.Decode.
func Reader(r io.Reader, ext string, mode Mode) (*frame.Image, error) {
	var (
		src image.Image
		err error
	)
	if netpbmExtensions[strings.ToLower(ext)] {
		src, err = netpbm.Decode(r, nil)
	} else {
		src, _, err = image.Decode(r)
	}
	if err != nil {
		return nil, err
	}

	img := Convert(src)
	if mode == Greyscale && img.Format != frame.Luminance {
		img = img.Greyscale()
	}
	return img, nil
}

// Convert copies a standard library image into a frame image.
func Convert(src image.Image) *frame.Image {
	b := src.Bounds()
	img := &frame.Image{
		Width:     b.Dx(),
		Height:    b.Dy(),
		Timestamp: frame.Unknown,
	}
	img.Type, img.Format = classify(src)
	img.Data = make([]byte, img.Stride()*img.Height)

	// Fast paths for the common luminance layouts.
	switch s := src.(type) {
	case *image.Gray:
		copyRows(img, s.Pix, s.Stride)
		return img
	case *image.Gray16:
		copyRows(img, s.Pix, s.Stride)
		return img
	case *netpbm.GrayM:
		// Raw samples, not rescaled to the full range of the element type.
		copyRows(img, s.Pix, s.Stride)
		return img
	case *netpbm.GrayM32:
		copyRows(img, s.Pix, s.Stride)
		return img
	}

	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := src.At(x, y)
			switch {
			case img.Format == frame.Luminance && img.Type == frame.Uint8:
				img.Data[i] = color.GrayModel.Convert(c).(color.Gray).Y
				i++
			case img.Format == frame.Luminance:
				binary.BigEndian.PutUint16(img.Data[i:], color.Gray16Model.Convert(c).(color.Gray16).Y)
				i += 2
			case img.Type == frame.Uint8:
				n := color.NRGBAModel.Convert(c).(color.NRGBA)
				img.Data[i], img.Data[i+1], img.Data[i+2] = n.R, n.G, n.B
				i += 3
			default:
				n := color.NRGBA64Model.Convert(c).(color.NRGBA64)
				binary.BigEndian.PutUint16(img.Data[i:], n.R)
				binary.BigEndian.PutUint16(img.Data[i+2:], n.G)
				binary.BigEndian.PutUint16(img.Data[i+4:], n.B)
				i += 6
			}
		}
	}
	return img
}

func copyRows(img *frame.Image, pix []byte, stride int) {
	row := img.Stride()
	for y := 0; y < img.Height; y++ {
		copy(img.Data[y*row:(y+1)*row], pix[y*stride:])
	}
}

// classify picks the element type and channel count that represent src
// without loss.
func classify(src image.Image) (frame.Type, frame.Format) {
	if pnm, ok := src.(netpbm.Image); ok {
		typ := frame.Uint8
		if pnm.MaxValue() > 255 {
			typ = frame.Uint16
		}
		switch pnm.Format() {
		case netpbm.PBM, netpbm.PGM:
			return typ, frame.Luminance
		default:
			return typ, frame.RGB
		}
	}

	switch src.ColorModel() {
	case color.GrayModel:
		return frame.Uint8, frame.Luminance
	case color.Gray16Model:
		return frame.Uint16, frame.Luminance
	case color.RGBA64Model, color.NRGBA64Model:
		return frame.Uint16, frame.RGB
	}
	return frame.Uint8, frame.RGB
}
