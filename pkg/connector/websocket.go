package connector

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kestrelgames/netpipe/pkg/errors"
)

type WebSocketStageParams struct {
	// Url is a ws:// or wss:// endpoint.
	Url string

	HandshakeTimeout time.Duration

	Logger *zap.Logger
}

// WebSocketStage is an alternative base stage for clients that can only reach
// the server over HTTP infrastructure. It presents the binary-message
// connection as the same ordered byte stream the TCP stage produces, so the
// framing and session layers run over it unchanged.
type WebSocketStage struct {
	params WebSocketStageParams
	log    *zap.Logger
}

func CreateWebSocketStage(params WebSocketStageParams) *WebSocketStage {
	if params.HandshakeTimeout <= 0 {
		params.HandshakeTimeout = DefaultDialTimeout
	}

	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}

	return &WebSocketStage{
		params: params,
		log:    logger.With(zap.String("stage", "WebSocket")),
	}
}

func (s *WebSocketStage) Name() string {
	return "websocket"
}

func (s *WebSocketStage) Connect(ctx context.Context, prev Stream) (Stream, error) {
	if prev != nil {
		return nil, &errors.InvalidStageInput{StageName: s.Name(), Expected: "nil (base stage)"}
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: s.params.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, s.params.Url, nil)
	if err != nil {
		return nil, err
	}

	return &websocketStream{
		conn: conn,
		log:  s.log,
	}, nil
}

type websocketStream struct {
	conn *websocket.Conn
	log  *zap.Logger

	// remainder holds the unread tail of the last websocket message, so
	// stream reads may split messages at arbitrary points.
	remainder []byte
}

var expectedCloseErrors = []int{websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived}

func (w *websocketStream) Read(p []byte) (int, error) {
	for len(w.remainder) == 0 {
		msgType, payload, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, expectedCloseErrors...) {
				return 0, io.EOF
			}
			// Local Close interrupts the blocked read; treat that as a clean
			// end of stream too.
			if strings.Contains(err.Error(), "use of closed network connection") {
				return 0, io.EOF
			}
			return 0, err
		}

		if msgType != websocket.BinaryMessage {
			w.log.Info("Received non-binary message, ignoring", zap.Int("size", len(payload)))
			continue
		}

		w.remainder = payload
	}

	n := copy(p, w.remainder)
	w.remainder = w.remainder[n:]
	return n, nil
}

func (w *websocketStream) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *websocketStream) Close() error {
	// Best effort close frame; the peer finding out politely is optional.
	w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return w.conn.Close()
}
