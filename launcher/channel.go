package launcher

import (
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/sys/unix"
)

// FrameType is the bitmask carried in a frame header. A frame may carry the
// Data bit and the Control bits simultaneously; when both are set the Data
// branch takes precedence.
type FrameType uint32

const (
	// FrameData marks a frame as routine output bound for Upstream.
	FrameData FrameType = 1 << iota
	// FrameControl marks a frame as a control message.
	FrameControl
	// FrameControlFinished, only meaningful alongside FrameControl, signals
	// that the routine has finished and should be terminated.
	FrameControlFinished
)

// maxFramePayload bounds a single frame's payload so that a corrupt or
// malicious header cannot force an unbounded allocation.
const maxFramePayload = 16 << 20 // 16 MiB

// frameHeaderSize is the wire size, in bytes, of a frame header: a 4-byte
// type bitmask followed by a 4-byte big-endian payload length.
const frameHeaderSize = 8

// FrameKind discriminates the outcome of receiving one frame.
type FrameKind int

const (
	// KindData is a routine-output frame.
	KindData FrameKind = iota
	// KindControl is a control-channel frame.
	KindControl
	// KindClosed means the peer end was closed (the child exited
	// prematurely, or voluntarily, before sending FrameControlFinished).
	KindClosed
	// KindError means the endpoint is corrupted or the read failed for a
	// reason other than orderly closure.
	KindError
)

// Frame is the result of one Recv call on a child endpoint.
type Frame struct {
	Kind    FrameKind
	Type    FrameType
	Payload []byte
	Err     error
}

// Finished reports whether this is a control frame with the FINISHED bit
// set. Callers only need this when Kind is KindControl.
func (f Frame) Finished() bool {
	return f.Kind == KindControl && f.Type&FrameControlFinished != 0
}

// Conn is one end of a framed bidirectional byte-stream connecting the
// launcher to a routine. Both the parent (Slot Table) and a routine's own
// process may use a Conn over their respective end of the same socketpair;
// the wire format is symmetric.
type Conn struct {
	fd int
}

// NewConn wraps an already-open, already-connected file descriptor. The
// caller transfers ownership: Close will close fd.
func NewConn(fd int) *Conn {
	return &Conn{fd: fd}
}

// Fd returns the underlying file descriptor, for use with the Poller.
func (c *Conn) Fd() int {
	return c.fd
}

// Close closes the underlying file descriptor. Idempotent.
func (c *Conn) Close() error {
	if c.fd < 0 {
		return nil
	}

	fd := c.fd
	c.fd = -1
	return unix.Close(fd)
}

// Send writes one frame verbatim from a single buffer holding header and
// payload together. writeFull issues one write for it and only issues more
// if the kernel accepts part of the buffer.
func (c *Conn) Send(payload []byte, typ FrameType) error {
	if len(payload) > maxFramePayload {
		return fmt.Errorf("launcher: frame payload too large (%d bytes)", len(payload))
	}

	buf := make([]byte, frameHeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(typ))
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(payload)))
	copy(buf[frameHeaderSize:], payload)

	return writeFull(c.fd, buf)
}

// Recv performs a blocking read of exactly one frame. It must be called only
// after the endpoint has been signalled ready by the Poller, so that it
// cannot stall the Launcher Core waiting on a child that never writes.
func (c *Conn) Recv() Frame {
	header := make([]byte, frameHeaderSize)
	n, err := readFull(c.fd, header)
	if n == 0 && err == nil {
		return Frame{Kind: KindClosed}
	}

	if err != nil {
		if err == io.EOF {
			return Frame{Kind: KindClosed}
		}

		return Frame{Kind: KindError, Err: err}
	}

	typ := FrameType(binary.BigEndian.Uint32(header[0:4]))
	length := binary.BigEndian.Uint32(header[4:8])
	if length > maxFramePayload {
		return Frame{Kind: KindError, Err: fmt.Errorf("launcher: frame claims %d byte payload", length)}
	}

	payload := make([]byte, length)
	if length > 0 {
		_, err := readFull(c.fd, payload)
		if err != nil {
			if err == io.EOF {
				return Frame{Kind: KindClosed}
			}

			return Frame{Kind: KindError, Err: err}
		}
	}

	// A frame may carry both the Data and Control bits; when it does, the
	// Data branch takes precedence.
	kind := KindData
	if typ&FrameControl != 0 && typ&FrameData == 0 {
		kind = KindControl
	}

	return Frame{Kind: kind, Type: typ, Payload: payload}
}

// forward writes payload upstream verbatim, tagged with typ. A nil upstream
// silently discards the frame, which is useful in tests that only care
// about slot bookkeeping.
func forward(upstream Upstream, payload []byte, typ FrameType) error {
	if upstream == nil {
		return nil
	}

	return upstream.Forward(payload, typ)
}

// readFull reads exactly len(buf) bytes from fd, retrying on EINTR and on
// short reads, until buf is full, an orderly close is observed, or an error
// occurs.
func readFull(fd int, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := unix.Read(fd, buf[total:])
		if err != nil {
			if err == unix.EINTR {
				continue
			}

			return total, err
		}

		if n == 0 {
			if total == 0 {
				return 0, nil
			}

			return total, io.EOF
		}

		total += n
	}

	return total, nil
}

// writeFull writes all of buf to fd in as many unix.Write calls as needed,
// retrying on EINTR.
func writeFull(fd int, buf []byte) error {
	total := 0
	for total < len(buf) {
		n, err := unix.Write(fd, buf[total:])
		if err != nil {
			if err == unix.EINTR {
				continue
			}

			return err
		}

		total += n
	}

	return nil
}
