// Package connection owns one transport stream: a background read loop that
// reassembles and decodes inbound frames, and a single-writer send path that
// keeps outbound frames whole and in order on the wire.
package connection

import (
	"context"
	goerrors "errors"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"go.uber.org/zap"

	"github.com/kestrelgames/netpipe/internal"
	"github.com/kestrelgames/netpipe/pkg/connector"
	"github.com/kestrelgames/netpipe/pkg/errors"
	"github.com/kestrelgames/netpipe/pkg/frame"
)

type State int32

const (
	StateCreated State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

const (
	DefaultIncomingFrameBufferLength = 256
	DefaultOutgoingWriteBufferLength = 64

	readChunkSize = 32 * 1024
)

// Close reasons reported through CloseReason.
const (
	CloseReasonLocal  = "closed by local endpoint"
	CloseReasonRemote = "closed by remote endpoint"
)

type BufferedConnectionParams struct {
	Chain *connector.Chain
	Codec *frame.Codec

	// Pool is optional; without one every inbound message is freshly
	// allocated.
	Pool *internal.MessagePool

	MaxFrameSize int

	IncomingFrameBufferLength int
	OutgoingWriteBufferLength int

	Logger *zap.Logger

	// Tag shows up on every log line from this connection.
	Tag string
}

// BufferedConnection drives one connection through
// Created -> Connecting -> Open -> Closing -> Closed. A fatal read or write
// error takes the Open -> Closed transition directly; either way CloseReason
// delivers exactly one reason string.
type BufferedConnection struct {
	chain        *connector.Chain
	codec        *frame.Codec
	pool         *internal.MessagePool
	maxFrameSize int
	log          *zap.Logger

	state  atomic.Int32
	stream connector.Stream

	incomingFrames chan *frame.InboundMessage
	outgoingWrites chan []byte

	closeReason chan string
	done        chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
}

func CreateBufferedConnection(params BufferedConnectionParams) (*BufferedConnection, error) {
	if params.Chain == nil {
		return nil, &errors.NilArgument{ArgumentName: "Chain", Context: "connection.CreateBufferedConnection"}
	}
	if params.Codec == nil {
		return nil, &errors.NilArgument{ArgumentName: "Codec", Context: "connection.CreateBufferedConnection"}
	}

	incomingBufferLength := DefaultIncomingFrameBufferLength
	if params.IncomingFrameBufferLength > 0 {
		incomingBufferLength = params.IncomingFrameBufferLength
	}
	outgoingBufferLength := DefaultOutgoingWriteBufferLength
	if params.OutgoingWriteBufferLength > 0 {
		outgoingBufferLength = params.OutgoingWriteBufferLength
	}

	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}
	if params.Tag != "" {
		logger = logger.With(zap.String("conn", params.Tag))
	}

	return &BufferedConnection{
		chain:        params.Chain,
		codec:        params.Codec,
		pool:         params.Pool,
		maxFrameSize: params.MaxFrameSize,
		log:          logger,

		incomingFrames: make(chan *frame.InboundMessage, incomingBufferLength),
		outgoingWrites: make(chan []byte, outgoingBufferLength),

		closeReason: make(chan string, 1),
		done:        make(chan struct{}),
	}, nil
}

// Open drives the connector chain and, on success, starts the read and write
// loops. A connection object is single-use: a second Open fails, and a failed
// Open leaves the connection Closed with nothing half-open behind it.
func (c *BufferedConnection) Open(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateCreated), int32(StateConnecting)) {
		return &errors.ConnectionAlreadyOpen{}
	}

	stream, err := c.chain.Connect(ctx)
	if err != nil {
		c.state.Store(int32(StateClosed))
		return err
	}

	c.stream = stream
	c.state.Store(int32(StateOpen))

	c.wg.Add(1)
	go c.readLoop()

	c.wg.Add(1)
	go c.writeLoop()

	return nil
}

func (c *BufferedConnection) State() State {
	return State(c.state.Load())
}

// Frames is the ordered sequence of decoded inbound messages. The channel is
// closed once the read loop stops; buffered messages remain readable after
// close.
func (c *BufferedConnection) Frames() <-chan *frame.InboundMessage {
	return c.incomingFrames
}

// CloseReason delivers the single reason string for this connection's close.
func (c *BufferedConnection) CloseReason() <-chan string {
	return c.closeReason
}

// Send enqueues one fully encoded frame for the write loop. The frame goes
// out in exactly one stream write, after every previously enqueued frame.
// Send blocks only when the outgoing buffer is full (backpressure, never
// dropped frames); it does not wait for socket I/O, and a write failure
// surfaces through CloseReason rather than here.
func (c *BufferedConnection) Send(encoded []byte) error {
	if encoded == nil {
		return &errors.NilArgument{ArgumentName: "encoded", Context: "BufferedConnection.Send"}
	}

	if c.State() != StateOpen {
		return &errors.ConnectionClosed{Reason: "send on non-open connection"}
	}

	select {
	case c.outgoingWrites <- encoded:
		return nil
	case <-c.done:
		return &errors.ConnectionClosed{Reason: "connection closed while enqueueing send"}
	}
}

// Close shuts down both directions and releases the stream. Idempotent:
// every call after the first is a no-op that still returns nil.
func (c *BufferedConnection) Close() error {
	c.shutdown(CloseReasonLocal)
	return nil
}

func (c *BufferedConnection) shutdown(reason string) {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosing))
		close(c.done)
		if c.stream != nil {
			// Unblocks both loops; their own errors after this point are
			// ignorable by definition.
			c.stream.Close()
		}
		c.state.Store(int32(StateClosed))
		c.closeReason <- reason
		c.log.Info("Connection closed", zap.String("reason", reason))
	})
}

func (c *BufferedConnection) readLoop() {
	defer c.wg.Done()
	defer close(c.incomingFrames)

	framer := frame.CreateFramer(c.maxFrameSize)
	buf := make([]byte, readChunkSize)

	for {
		n, err := c.stream.Read(buf)
		if n > 0 {
			framer.Push(buf[:n])
			if !c.drainFramer(framer) {
				return
			}
		}

		if err != nil {
			if isIgnorableStreamError(err) {
				c.shutdown(CloseReasonRemote)
			} else {
				c.log.Warn("Read loop stopping on stream error", zap.Error(err))
				c.shutdown(err.Error())
			}
			return
		}
	}
}

// drainFramer decodes and delivers every complete frame sitting in the
// framer, in arrival order. Returns false when the connection must stop.
func (c *BufferedConnection) drainFramer(framer *frame.Framer) bool {
	for {
		body, err := framer.Next()
		if err != nil {
			// Oversize length prefix - corrupt or hostile stream.
			c.log.Warn("Fatal framing error", zap.Error(err))
			c.shutdown(err.Error())
			return false
		}
		if body == nil {
			return true
		}

		msg := c.acquireMessage()
		if decodeErr := c.codec.DecodeInbound(body, msg); decodeErr != nil {
			c.log.Warn("Dropping frame with truncated header", zap.Int("size", len(body)), zap.Error(decodeErr))
			c.releaseMessage(msg)
			continue
		}

		select {
		case c.incomingFrames <- msg:
		case <-c.done:
			c.releaseMessage(msg)
			return false
		}
	}
}

func (c *BufferedConnection) writeLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.outgoingWrites:
			if err := writeAll(c.stream, data); err != nil {
				if isIgnorableStreamError(err) {
					c.shutdown(CloseReasonRemote)
				} else {
					c.log.Warn("Write loop stopping on stream error", zap.Error(err))
					c.shutdown(err.Error())
				}
				return
			}
		}
	}
}

func (c *BufferedConnection) acquireMessage() *frame.InboundMessage {
	if c.pool != nil {
		return c.pool.Acquire()
	}
	return &frame.InboundMessage{}
}

func (c *BufferedConnection) releaseMessage(msg *frame.InboundMessage) {
	if c.pool != nil {
		c.pool.Release(msg)
	}
}

func writeAll(stream connector.Stream, data []byte) error {
	for len(data) > 0 {
		n, err := stream.Write(data)
		if err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// isIgnorableStreamError reports whether err is one of the "peer went away /
// socket already closed" family that means a normal close rather than a
// failure worth surfacing.
func isIgnorableStreamError(err error) bool {
	if goerrors.Is(err, io.EOF) || goerrors.Is(err, io.ErrClosedPipe) || goerrors.Is(err, net.ErrClosed) {
		return true
	}
	if goerrors.Is(err, syscall.ECONNRESET) || goerrors.Is(err, syscall.EPIPE) {
		return true
	}

	// Some wrapped transports only expose these as strings.
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "connection reset by peer")
}
