package v4l2

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/lanikai/camhal/internal/frame"
)

func fourcc(a, b, c, d byte) uint32 {
	return uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24
}

// Raw formats the driver understands.
var (
	V4L2_PIX_FMT_GREY = fourcc('G', 'R', 'E', 'Y')
	V4L2_PIX_FMT_Y16  = fourcc('Y', '1', '6', ' ')
	V4L2_PIX_FMT_YUYV = fourcc('Y', 'U', 'Y', 'V')
)

func formatName(code uint32) string {
	return string([]byte{byte(code), byte(code >> 8), byte(code >> 16), byte(code >> 24)})
}

// toImage converts one captured buffer to a luminance image. YUYV keeps only
// the Y samples. Rows may be padded to bytesPerLine.
func toImage(format uint32, width, height, bytesPerLine int, data []byte) (*frame.Image, error) {
	var bpp int
	switch format {
	case V4L2_PIX_FMT_GREY:
		bpp = 1
	case V4L2_PIX_FMT_Y16, V4L2_PIX_FMT_YUYV:
		bpp = 2
	default:
		return nil, errors.Errorf("v4l2: unsupported pixel format %s", formatName(format))
	}
	if bytesPerLine < width*bpp {
		bytesPerLine = width * bpp
	}
	if len(data) < bytesPerLine*(height-1)+width*bpp {
		return nil, errors.Errorf("v4l2: short frame, %d bytes for %dx%d %s",
			len(data), width, height, formatName(format))
	}

	img := &frame.Image{
		Width:     width,
		Height:    height,
		Type:      frame.Uint8,
		Format:    frame.Luminance,
		Timestamp: frame.Unknown,
	}
	if format == V4L2_PIX_FMT_Y16 {
		img.Type = frame.Uint16
	}
	img.Data = make([]byte, width*height*int(img.Type))

	for y := 0; y < height; y++ {
		row := data[y*bytesPerLine:]
		out := img.Data[y*img.Stride():]
		switch format {
		case V4L2_PIX_FMT_GREY:
			copy(out[:width], row)
		case V4L2_PIX_FMT_Y16:
			// Little-endian on the wire, big-endian in frame images.
			for x := 0; x < width; x++ {
				binary.BigEndian.PutUint16(out[2*x:], binary.LittleEndian.Uint16(row[2*x:]))
			}
		case V4L2_PIX_FMT_YUYV:
			for x := 0; x < width; x++ {
				out[x] = row[2*x]
			}
		}
	}
	return img, nil
}
