//////////////////////////////////////////////////////////////////////////////
//
// Frame containers handed from capture drivers to consumers
//
// Copyright 2019 Lanikai Labs. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package frame

import (
	"encoding/binary"
	"image"
	"image/color"
)

// Unknown is the timestamp of an image or set whose capture time could not be
// determined.
const Unknown = -1.0

// Type is the size class of one pixel element.
type Type int

const (
	Uint8   Type = 1
	Uint16  Type = 2
	Float32 Type = 4
)

// Format is the number of interleaved elements per pixel.
type Format int

const (
	Luminance Format = 1
	RGB       Format = 3
)

func (f Format) String() string {
	switch f {
	case Luminance:
		return "luminance"
	case RGB:
		return "rgb"
	default:
		return "unknown"
	}
}

// An Image is one channel of a Set. Data is row-major and interleaved; 16-bit
// elements are big-endian, as in image.Gray16.
type Image struct {
	Width  int
	Height int
	Type   Type
	Format Format
	Data   []byte

	// Capture time in seconds, or Unknown.
	Timestamp float64

	// Source file, if any.
	Path string
}

// Stride returns the number of bytes per row.
func (img *Image) Stride() int {
	return img.Width * int(img.Format) * int(img.Type)
}

// Clone returns a deep copy of img.
func (img *Image) Clone() *Image {
	c := *img
	c.Data = append([]byte(nil), img.Data...)
	return &c
}

// Greyscale returns a single-channel copy of img, keeping the element type.
// Luminance images are cloned unchanged.
func (img *Image) Greyscale() *Image {
	if img.Format == Luminance || img.Type == Float32 {
		return img.Clone()
	}

	g := *img
	g.Format = Luminance
	g.Data = make([]byte, img.Width*img.Height*int(img.Type))
	n := img.Width * img.Height
	for i := 0; i < n; i++ {
		switch img.Type {
		case Uint8:
			p := img.Data[3*i:]
			y := color.GrayModel.Convert(color.RGBA{p[0], p[1], p[2], 0xff}).(color.Gray)
			g.Data[i] = y.Y
		case Uint16:
			p := img.Data[6*i:]
			c := color.RGBA64{
				binary.BigEndian.Uint16(p[0:]),
				binary.BigEndian.Uint16(p[2:]),
				binary.BigEndian.Uint16(p[4:]),
				0xffff,
			}
			y := color.Gray16Model.Convert(c).(color.Gray16)
			binary.BigEndian.PutUint16(g.Data[2*i:], y.Y)
		}
	}
	return &g
}

// ToImage wraps the pixel data in a standard library image for encoding. The
// returned image shares Data for luminance images. Float32 images are not
// representable and yield nil.
func (img *Image) ToImage() image.Image {
	r := image.Rect(0, 0, img.Width, img.Height)
	switch {
	case img.Format == Luminance && img.Type == Uint8:
		return &image.Gray{Pix: img.Data, Stride: img.Stride(), Rect: r}
	case img.Format == Luminance && img.Type == Uint16:
		return &image.Gray16{Pix: img.Data, Stride: img.Stride(), Rect: r}
	case img.Format == RGB && img.Type == Uint8:
		out := image.NewNRGBA(r)
		for i, j := 0, 0; i+2 < len(img.Data); i, j = i+3, j+4 {
			out.Pix[j], out.Pix[j+1], out.Pix[j+2], out.Pix[j+3] = img.Data[i], img.Data[i+1], img.Data[i+2], 0xff
		}
		return out
	case img.Format == RGB && img.Type == Uint16:
		out := image.NewNRGBA64(r)
		for i, j := 0, 0; i+5 < len(img.Data); i, j = i+6, j+8 {
			copy(out.Pix[j:j+6], img.Data[i:i+6])
			out.Pix[j+6], out.Pix[j+7] = 0xff, 0xff
		}
		return out
	}
	return nil
}

// A Set holds the images of all channels captured together.
type Set struct {
	// Cursor index the images were read from. Live sources count frames.
	Seq int

	// Number of sets the driver produced before this one.
	Count int

	// Capture time of the whole set in seconds, or Unknown. Looping playback
	// keeps it increasing across each wrap.
	DeviceTime float64

	Images []*Image
}

// NewSet returns an empty set with room for n channels.
func NewSet(n int) *Set {
	return &Set{
		DeviceTime: Unknown,
		Images:     make([]*Image, n),
	}
}

// NumChannels returns the number of images in the set.
func (s *Set) NumChannels() int {
	return len(s.Images)
}

// Width of channel idx, or 0 if the channel is missing.
func (s *Set) Width(idx int) int {
	if idx < 0 || idx >= len(s.Images) || s.Images[idx] == nil {
		return 0
	}
	return s.Images[idx].Width
}

// Height of channel idx, or 0 if the channel is missing.
func (s *Set) Height(idx int) int {
	if idx < 0 || idx >= len(s.Images) || s.Images[idx] == nil {
		return 0
	}
	return s.Images[idx].Height
}

// StampDevice sets DeviceTime to the first known channel timestamp.
func (s *Set) StampDevice() {
	s.DeviceTime = Unknown
	for _, img := range s.Images {
		if img != nil && img.Timestamp >= 0 {
			s.DeviceTime = img.Timestamp
			return
		}
	}
}
