package connector

import (
	"context"
	"io"
	"sync"

	"github.com/klauspost/compress/flate"

	"github.com/kestrelgames/netpipe/pkg/errors"
)

type CompressStageParams struct {
	// Level is a flate compression level; 0 means flate.DefaultCompression.
	Level int
}

// CompressStage wraps the stream in a DEFLATE transform. Every Write is
// flushed through the compressor so each frame is decodable by the peer as
// soon as it is sent - no frame ever sits in the compressor waiting for more
// input.
type CompressStage struct {
	params CompressStageParams
}

func CreateCompressStage(params CompressStageParams) *CompressStage {
	if params.Level == 0 {
		params.Level = flate.DefaultCompression
	}

	return &CompressStage{
		params: params,
	}
}

func (s *CompressStage) Name() string {
	return "compress"
}

func (s *CompressStage) Connect(ctx context.Context, prev Stream) (Stream, error) {
	if prev == nil {
		return nil, &errors.InvalidStageInput{StageName: s.Name(), Expected: "an established stream"}
	}

	writer, err := flate.NewWriter(prev, s.params.Level)
	if err != nil {
		return nil, err
	}

	return &compressedStream{
		raw:    prev,
		reader: flate.NewReader(prev),
		writer: writer,
	}, nil
}

type compressedStream struct {
	raw    Stream
	reader io.ReadCloser
	writer *flate.Writer

	mut_close sync.Mutex
	closed    bool
}

func (c *compressedStream) Read(p []byte) (int, error) {
	return c.reader.Read(p)
}

func (c *compressedStream) Write(p []byte) (int, error) {
	n, err := c.writer.Write(p)
	if err != nil {
		return n, err
	}

	return n, c.writer.Flush()
}

func (c *compressedStream) Close() error {
	c.mut_close.Lock()
	defer c.mut_close.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	c.writer.Close()
	c.reader.Close()
	return c.raw.Close()
}
