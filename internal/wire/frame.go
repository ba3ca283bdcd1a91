package wire

import (
	"io"

	msgio "github.com/libp2p/go-msgio"
)

// MaxFrameSize bounds any single length-delimited frame read from a stream.
// Individual protocols additionally cap their own payloads (e.g. headers at
// HeadersMaxSize, welcome at WelcomeMaxLen); this is the outer safety net
// against a peer claiming an unbounded frame length.
const MaxFrameSize = 10 * 1024 * 1024

// Framer wraps a stream with the length-delimited framing spec §6 calls
// "length-delimited protobuf": each message is prefixed with its own varint
// length, exactly the shape go-msgio's varint reader/writer produce.
type Framer struct {
	r msgio.ReadCloser
	w msgio.WriteCloser
}

// NewFramer wraps rw (a libp2p stream, or any ReadWriteCloser in tests).
func NewFramer(rw io.ReadWriteCloser) *Framer {
	return &Framer{
		r: msgio.NewVarintReaderSize(rw, MaxFrameSize),
		w: msgio.NewVarintWriter(rw),
	}
}

// WriteMsg writes one length-delimited frame.
func (f *Framer) WriteMsg(b []byte) error {
	return f.w.WriteMsg(b)
}

// ReadMsg reads one length-delimited frame. The returned slice is only
// valid until the next call to ReadMsg.
func (f *Framer) ReadMsg() ([]byte, error) {
	return f.r.ReadMsg()
}

// Close releases both the reader and writer sides.
func (f *Framer) Close() error {
	rErr := f.r.Close()
	wErr := f.w.Close()
	if rErr != nil {
		return rErr
	}
	return wErr
}
