package connection

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kestrelgames/netpipe/internal"
	"github.com/kestrelgames/netpipe/pkg/connector"
	"github.com/kestrelgames/netpipe/pkg/frame"
)

// streamStage hands a pre-established stream to the connection, standing in
// for a full connector chain.
type streamStage struct {
	stream connector.Stream
}

func (s *streamStage) Name() string { return "test" }

func (s *streamStage) Connect(ctx context.Context, prev connector.Stream) (connector.Stream, error) {
	return s.stream, nil
}

func inboundFrame(messageId uint16, clientSeq int32, payload []byte) []byte {
	out := []byte{0, 0, 0, 0}
	out = binary.LittleEndian.AppendUint16(out, messageId)
	out = binary.LittleEndian.AppendUint32(out, uint32(clientSeq))
	out = binary.LittleEndian.AppendUint32(out, 0) // serverSeq
	out = binary.LittleEndian.AppendUint64(out, 0) // originatorId
	out = binary.LittleEndian.AppendUint16(out, 0) // routingId
	out = append(out, payload...)
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(out)))
	return out
}

func createTestConnection(t *testing.T, maxFrameSize int) (*BufferedConnection, net.Conn) {
	t.Helper()

	clientEnd, serverEnd := net.Pipe()

	chain, err := connector.CreateChain(zap.NewNop(), &streamStage{stream: clientEnd})
	require.NoError(t, err)

	codec, err := frame.CreateCodec(frame.CreateRegistry(), zap.NewNop())
	require.NoError(t, err)

	conn, err := CreateBufferedConnection(BufferedConnectionParams{
		Chain:        chain,
		Codec:        codec,
		Pool:         internal.CreateMessagePool(0),
		MaxFrameSize: maxFrameSize,
		Logger:       zap.NewNop(),
		Tag:          "test",
	})
	require.NoError(t, err)

	require.Equal(t, StateCreated, conn.State())
	require.NoError(t, conn.Open(context.Background()))
	require.Equal(t, StateOpen, conn.State())

	t.Cleanup(func() {
		conn.Close()
		serverEnd.Close()
	})

	return conn, serverEnd
}

func recvFrame(t *testing.T, conn *BufferedConnection) *frame.InboundMessage {
	t.Helper()

	select {
	case msg, ok := <-conn.Frames():
		require.True(t, ok, "frame channel closed unexpectedly")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound frame")
		return nil
	}
}

func recvCloseReason(t *testing.T, conn *BufferedConnection) string {
	t.Helper()

	select {
	case reason := <-conn.CloseReason():
		return reason
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for close reason")
		return ""
	}
}

func TestConnectionDeliversCoalescedFramesInOrder(t *testing.T) {
	conn, server := createTestConnection(t, 0)

	wire := append(inboundFrame(1, 100, []byte("first")), inboundFrame(2, 101, []byte("second"))...)
	go server.Write(wire)

	first := recvFrame(t, conn)
	assert.Equal(t, uint16(1), first.MessageId)
	assert.Equal(t, []byte("first"), first.RawPayload)

	second := recvFrame(t, conn)
	assert.Equal(t, uint16(2), second.MessageId)
	assert.Equal(t, []byte("second"), second.RawPayload)
}

func TestConnectionReassemblesSplitFrame(t *testing.T) {
	conn, server := createTestConnection(t, 0)

	wire := inboundFrame(7, 5, []byte("split me"))
	go func() {
		server.Write(wire[:3])
		time.Sleep(20 * time.Millisecond)
		server.Write(wire[3:])
	}()

	// Nothing may surface before the tail arrives.
	select {
	case <-conn.Frames():
		t.Fatal("frame yielded before its bytes were complete")
	case <-time.After(10 * time.Millisecond):
	}

	msg := recvFrame(t, conn)
	assert.Equal(t, uint16(7), msg.MessageId)
	assert.Equal(t, []byte("split me"), msg.RawPayload)
}

func TestConnectionSendPreservesOrderAndBoundaries(t *testing.T) {
	conn, server := createTestConnection(t, 0)

	codec, err := frame.CreateCodec(frame.CreateRegistry(), zap.NewNop())
	require.NoError(t, err)

	first, err := codec.EncodeOutbound(&frame.OutboundMessage{MessageId: 1, ClientSequenceId: 1, RawPayload: []byte("aaa")})
	require.NoError(t, err)
	second, err := codec.EncodeOutbound(&frame.OutboundMessage{MessageId: 2, ClientSequenceId: 2, RawPayload: []byte("bbbb")})
	require.NoError(t, err)

	require.NoError(t, conn.Send(first))
	require.NoError(t, conn.Send(second))

	got := make([]byte, len(first)+len(second))
	_, err = io.ReadFull(server, got)
	require.NoError(t, err)

	assert.Equal(t, first, got[:len(first)])
	assert.Equal(t, second, got[len(first):])
}

func TestConnectionCloseIsIdempotent(t *testing.T) {
	conn, _ := createTestConnection(t, 0)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())

	assert.Equal(t, CloseReasonLocal, recvCloseReason(t, conn))
	assert.Equal(t, StateClosed, conn.State())

	// Read loop has stopped; the frame channel drains and closes.
	for {
		_, ok := <-conn.Frames()
		if !ok {
			break
		}
	}
}

func TestConnectionRemoteCloseIsNormal(t *testing.T) {
	conn, server := createTestConnection(t, 0)

	server.Close()

	assert.Equal(t, CloseReasonRemote, recvCloseReason(t, conn))
	assert.Equal(t, StateClosed, conn.State())
}

func TestConnectionBufferedFramesSurviveRemoteClose(t *testing.T) {
	conn, server := createTestConnection(t, 0)

	wire := inboundFrame(3, 9, []byte("last words"))
	go func() {
		server.Write(wire)
		server.Close()
	}()

	msg := recvFrame(t, conn)
	assert.Equal(t, []byte("last words"), msg.RawPayload)

	assert.Equal(t, CloseReasonRemote, recvCloseReason(t, conn))
}

func TestConnectionOversizedFrameIsFatal(t *testing.T) {
	conn, server := createTestConnection(t, 64)

	go server.Write(binary.LittleEndian.AppendUint32(nil, 1<<20))

	reason := recvCloseReason(t, conn)
	assert.Contains(t, reason, "exceeds configured maximum")
	assert.Equal(t, StateClosed, conn.State())
}

func TestConnectionSendAfterCloseFails(t *testing.T) {
	conn, _ := createTestConnection(t, 0)

	conn.Close()
	recvCloseReason(t, conn)

	err := conn.Send([]byte{1, 2, 3, 4})
	assert.ErrorContains(t, err, "closed")
}

func TestConnectionOpenTwiceFails(t *testing.T) {
	conn, _ := createTestConnection(t, 0)

	err := conn.Open(context.Background())
	assert.ErrorContains(t, err, "already been opened")
}
