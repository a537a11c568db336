//go:build linux && (amd64 || arm64)

package v4l2

import (
	"io"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// A V4L2 character device.
type device struct {
	// Device path, usually "/dev/video0".
	path string

	// File descriptor of v4l2 device.
	fd int

	// Memory-mapped kernel buffers.
	mmaps [][]byte

	// Negotiated format.
	width, height int
	bytesPerLine  int
	format        uint32
}

// A captured buffer, copied out of the mapped memory.
type rawFrame struct {
	data     []byte
	sequence uint32
	time     float64
}

func openDevice(path string) (*device, error) {
	// Non-blocking, so a read loop can poll with a timeout and notice quit.
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK, 0666)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	return &device{path: path, fd: fd}, nil
}

func (dev *device) Close() error {
	dev.stop()
	return unix.Close(dev.fd)
}

func (dev *device) ioctl(request uint, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(
		unix.SYS_IOCTL,
		uintptr(dev.fd),
		uintptr(request),
		uintptr(arg),
	)
	if errno != 0 {
		return errno
	}
	return nil
}

// setPixelFormat asks for a format and records what the device settled on.
func (dev *device) setPixelFormat(width, height int, format uint32) error {
	f := v4l2_format{typ: V4L2_BUF_TYPE_VIDEO_CAPTURE}
	*f.pix() = v4l2_pix_format{
		width:       uint32(width),
		height:      uint32(height),
		pixelformat: format,
		field:       V4L2_FIELD_ANY,
	}
	if err := dev.ioctl(VIDIOC_S_FMT, unsafe.Pointer(&f)); err != nil {
		return errors.Wrap(err, "VIDIOC_S_FMT")
	}

	pix := f.pix()
	if pix.pixelformat != format {
		return errors.Errorf("%s does not support %s (offered %s)",
			dev.path, formatName(format), formatName(pix.pixelformat))
	}
	dev.width = int(pix.width)
	dev.height = int(pix.height)
	dev.bytesPerLine = int(pix.bytesperline)
	dev.format = pix.pixelformat
	return nil
}

func (dev *device) setControl(id uint32, value int32) error {
	ctrl := v4l2_control{id: id, value: value}
	return dev.ioctl(VIDIOC_S_CTRL, unsafe.Pointer(&ctrl))
}

func (dev *device) flipHorizontal() error {
	return dev.setControl(V4L2_CID_HFLIP, 1)
}

func (dev *device) flipVertical() error {
	return dev.setControl(V4L2_CID_VFLIP, 1)
}

// Request specified number of kernel buffers memory-mapped to user-space.
func (dev *device) requestBuffers(n int) (int, error) {
	rb := v4l2_requestbuffers{
		count:  uint32(n),
		typ:    V4L2_BUF_TYPE_VIDEO_CAPTURE,
		memory: V4L2_MEMORY_MMAP,
	}
	err := dev.ioctl(VIDIOC_REQBUFS, unsafe.Pointer(&rb))
	return int(rb.count), err
}

// Query buffer parameters.
func (dev *device) queryBuffer(n int) (length, offset uint32, err error) {
	qb := v4l2_buffer{
		index:  uint32(n),
		typ:    V4L2_BUF_TYPE_VIDEO_CAPTURE,
		memory: V4L2_MEMORY_MMAP,
	}
	if err = dev.ioctl(VIDIOC_QUERYBUF, unsafe.Pointer(&qb)); err != nil {
		return
	}
	return qb.length, uint32(qb.m), nil
}

func (dev *device) mapMemory(n int) error {
	if dev.mmaps != nil {
		panic("v4l2 device: memory already mapped")
	}

	granted, err := dev.requestBuffers(n)
	if err != nil {
		return errors.Wrap(err, "VIDIOC_REQBUFS")
	}
	if granted < 1 {
		return errors.Errorf("%s granted no capture buffers", dev.path)
	}

	for i := 0; i < granted; i++ {
		length, offset, err := dev.queryBuffer(i)
		if err != nil {
			return errors.Wrap(err, "VIDIOC_QUERYBUF")
		}
		m, err := unix.Mmap(
			dev.fd,
			int64(offset),
			int(length),
			unix.PROT_READ|unix.PROT_WRITE,
			unix.MAP_SHARED,
		)
		if err != nil {
			return errors.Wrap(err, "mmap")
		}
		dev.mmaps = append(dev.mmaps, m)
	}
	return nil
}

func (dev *device) unmapMemory() {
	for _, m := range dev.mmaps {
		unix.Munmap(m)
	}
	dev.mmaps = nil
	dev.requestBuffers(0)
}

func (dev *device) enqueue(index int) error {
	qbuf := v4l2_buffer{
		typ:    V4L2_BUF_TYPE_VIDEO_CAPTURE,
		memory: V4L2_MEMORY_MMAP,
		index:  uint32(index),
	}
	return dev.ioctl(VIDIOC_QBUF, unsafe.Pointer(&qbuf))
}

func (dev *device) dequeue() (v4l2_buffer, error) {
	dqbuf := v4l2_buffer{
		typ:    V4L2_BUF_TYPE_VIDEO_CAPTURE,
		memory: V4L2_MEMORY_MMAP,
	}
	err := dev.ioctl(VIDIOC_DQBUF, unsafe.Pointer(&dqbuf))
	return dqbuf, err
}

// Start video capture with n kernel buffers.
func (dev *device) start(n int) error {
	if err := dev.mapMemory(n); err != nil {
		dev.unmapMemory()
		return err
	}

	for i := range dev.mmaps {
		if err := dev.enqueue(i); err != nil {
			dev.unmapMemory()
			return errors.Wrap(err, "VIDIOC_QBUF")
		}
	}

	typ := int32(V4L2_BUF_TYPE_VIDEO_CAPTURE)
	if err := dev.ioctl(VIDIOC_STREAMON, unsafe.Pointer(&typ)); err != nil {
		dev.unmapMemory()
		return errors.Wrap(err, "VIDIOC_STREAMON")
	}
	return nil
}

// Stop video capture.
func (dev *device) stop() {
	if dev.mmaps == nil {
		return
	}
	// Disable stream (dequeues any outstanding buffers as well).
	typ := int32(V4L2_BUF_TYPE_VIDEO_CAPTURE)
	dev.ioctl(VIDIOC_STREAMOFF, unsafe.Pointer(&typ))
	dev.unmapMemory()
}

// readFrame waits up to timeoutMs for a frame. It returns nil without error
// on timeout.
func (dev *device) readFrame(timeoutMs int) (*rawFrame, error) {
	if dev.mmaps == nil {
		panic("v4l2 device: illegal state, capture not started")
	}

	fds := []unix.PollFd{{Fd: int32(dev.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, timeoutMs)
	if err == unix.EINTR || n == 0 {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "poll")
	}

	buf, err := dev.dequeue()
	if err == unix.EAGAIN {
		return nil, nil
	}
	if err != nil {
		if err == unix.EINVAL {
			err = io.EOF
		}
		return nil, err
	}

	// Copy data to new heap-allocated buffer.
	raw := &rawFrame{
		data:     append([]byte(nil), dev.mmaps[buf.index][:buf.bytesused]...),
		sequence: buf.sequence,
		time:     float64(buf.timestamp.Sec) + float64(buf.timestamp.Usec)/1e6,
	}
	if err := dev.enqueue(int(buf.index)); err != nil {
		return nil, errors.Wrap(err, "VIDIOC_QBUF")
	}
	return raw, nil
}
