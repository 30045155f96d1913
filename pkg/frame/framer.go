package frame

import (
	"bytes"
	"encoding/binary"

	"github.com/kestrelgames/netpipe/pkg/errors"
)

// Framer reassembles length-prefixed frames from an arbitrarily segmented
// byte stream. Push whatever the socket produced, then call Next until it
// returns nil: frames coalesced into one read and frames split across many
// reads both come out whole and in arrival order.
//
// Not safe for concurrent use; each connection owns exactly one Framer.
type Framer struct {
	maxFrameSize int
	buf          bytes.Buffer
}

func CreateFramer(maxFrameSize int) *Framer {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}

	return &Framer{
		maxFrameSize: maxFrameSize,
	}
}

// Push appends a chunk of stream bytes to the reassembly buffer.
func (f *Framer) Push(chunk []byte) {
	f.buf.Write(chunk)
}

// Next returns the body of the next complete frame (header fields plus
// payload, length prefix already consumed), or nil when no complete frame is
// buffered yet. A partial header or partial body never yields.
//
// The returned slice is owned by the caller.
//
// A totalLength beyond the configured maximum returns a FrameOverflow error:
// the stream is corrupt or hostile and the connection must be torn down
// before the buffer grows without bound. A totalLength too small to even
// cover the prefix is instead treated as a zero-body frame, which downstream
// decoding rejects without killing the connection.
func (f *Framer) Next() ([]byte, error) {
	if f.buf.Len() < LengthPrefixSize {
		return nil, nil
	}

	header := f.buf.Bytes()[:LengthPrefixSize]
	totalLength := binary.LittleEndian.Uint32(header)
	if int64(totalLength) > int64(f.maxFrameSize) {
		return nil, &errors.FrameOverflow{
			FrameSize:    int(totalLength),
			MaxFrameSize: f.maxFrameSize,
		}
	}

	bodyLength := ComputeBodyLength(header)
	if f.buf.Len() < LengthPrefixSize+bodyLength {
		return nil, nil
	}

	f.buf.Next(LengthPrefixSize)
	body := make([]byte, bodyLength)
	copy(body, f.buf.Next(bodyLength))

	return body, nil
}

// BufferedBytes reports how many unconsumed bytes are sitting in the
// reassembly buffer.
func (f *Framer) BufferedBytes() int {
	return f.buf.Len()
}
