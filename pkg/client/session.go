// Package client is the host-facing surface of the framework: a Session owns
// at most one buffered connection, hands out sequence ids, and funnels every
// user callback through the host-driven Tick so application code never races
// the network goroutines.
package client

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kestrelgames/netpipe/internal"
	"github.com/kestrelgames/netpipe/pkg/connection"
	"github.com/kestrelgames/netpipe/pkg/connector"
	"github.com/kestrelgames/netpipe/pkg/errors"
	"github.com/kestrelgames/netpipe/pkg/frame"
	utils "github.com/kestrelgames/netpipe/pkg/util"
)

type SessionParams struct {
	Logger *zap.Logger

	// Registry maps messageId to payload codecs. Populate it before the
	// first Connect; a nil registry means every payload is delivered raw.
	Registry *frame.Registry

	MaxFrameSize int

	DialTimeout time.Duration

	// LocalAddr optionally binds outgoing sockets to a local endpoint.
	LocalAddr *net.TCPAddr

	// TLS, when set, inserts a TLS stage after the TCP connect.
	TLS *connector.TLSStageParams

	// Compression, when set, inserts a DEFLATE stage as the outermost wrap.
	Compression *connector.CompressStageParams

	IncomingFrameBufferLength int
	OutgoingWriteBufferLength int

	MessagePoolSize int
}

// connectivityEvent is one entry of the connect/disconnect event queue
// drained by Tick. Exactly one of the two fields is set.
type connectivityEvent struct {
	connect    *ConnectResult
	disconnect *DisconnectEvent
}

type Session struct {
	params SessionParams
	log    *zap.Logger

	registry *frame.Registry
	codec    *frame.Codec
	pool     *internal.MessagePool
	tagGen   *utils.RandomStringGenerator
	seq      internal.SequenceCounter

	mut_handlers   sync.RWMutex
	handlers       map[uint16]MessageHandler
	commonHandlers []MessageHandler

	connectCallbacks    callbackList[ConnectResult]
	disconnectCallbacks callbackList[DisconnectEvent]

	mut_events sync.Mutex
	events     []connectivityEvent

	mut_conn sync.Mutex
	conn     *connection.BufferedConnection
}

func CreateSession(params SessionParams) (*Session, error) {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}

	registry := params.Registry
	if registry == nil {
		registry = frame.CreateRegistry()
	}

	codec, err := frame.CreateCodec(registry, logger)
	if err != nil {
		return nil, err
	}

	return &Session{
		params: params,
		log:    logger,

		registry: registry,
		codec:    codec,
		pool:     internal.CreateMessagePool(params.MessagePoolSize),
		tagGen:   utils.CreateRandomStringGenerator(time.Now().UnixMicro()),

		handlers: make(map[uint16]MessageHandler),
	}, nil
}

// Connect resolves host, drives the connector chain, and starts the read
// loop. The boolean result is also queued as a ConnectResult event so hosts
// that only listen via callbacks see every outcome. Connecting while already
// connected disconnects the previous connection first - a session never holds
// two live connections. No retry happens internally.
func (s *Session) Connect(ctx context.Context, host string, port int) bool {
	s.Disconnect()

	addr, err := resolvePreferredAddress(host)
	if err != nil {
		s.log.Warn("Connect failed during address resolution", zap.String("host", host), zap.Error(err))
		s.pushConnectResult(false, host, port, err.Error())
		return false
	}

	stages := []connector.Stage{
		connector.CreateTCPStage(connector.TCPStageParams{
			RemoteAddr:  net.JoinHostPort(addr, strconv.Itoa(port)),
			LocalAddr:   s.params.LocalAddr,
			DialTimeout: s.params.DialTimeout,
		}),
	}
	if s.params.TLS != nil {
		tlsParams := *s.params.TLS
		if tlsParams.ServerName == "" {
			tlsParams.ServerName = host
		}
		stages = append(stages, connector.CreateTLSStage(tlsParams))
	}
	if s.params.Compression != nil {
		stages = append(stages, connector.CreateCompressStage(*s.params.Compression))
	}

	chain, err := connector.CreateChain(s.log, stages...)
	if err != nil {
		s.pushConnectResult(false, host, port, err.Error())
		return false
	}

	conn, err := connection.CreateBufferedConnection(connection.BufferedConnectionParams{
		Chain:        chain,
		Codec:        s.codec,
		Pool:         s.pool,
		MaxFrameSize: s.params.MaxFrameSize,

		IncomingFrameBufferLength: s.params.IncomingFrameBufferLength,
		OutgoingWriteBufferLength: s.params.OutgoingWriteBufferLength,

		Logger: s.log,
		Tag:    s.tagGen.GetRandomString(6),
	})
	if err != nil {
		s.pushConnectResult(false, host, port, err.Error())
		return false
	}

	// Open tears down anything it half-built on failure, so a false here
	// never leaks a socket.
	if err := conn.Open(ctx); err != nil {
		s.log.Warn("Connect failed", zap.String("host", host), zap.Int("port", port), zap.Error(err))
		s.pushConnectResult(false, host, port, err.Error())
		return false
	}

	s.mut_conn.Lock()
	s.conn = conn
	s.mut_conn.Unlock()

	go s.watchClose(conn)

	s.log.Info("Connected", zap.String("host", host), zap.Int("port", port))
	s.pushConnectResult(true, host, port, "")
	return true
}

// Disconnect closes the active connection, if any. Always safe to call while
// already disconnected.
func (s *Session) Disconnect() {
	s.mut_conn.Lock()
	conn := s.conn
	s.conn = nil
	s.mut_conn.Unlock()

	if conn == nil {
		return
	}

	conn.Close()
}

func (s *Session) IsConnected() bool {
	conn := s.currentConn()
	return conn != nil && conn.State() == connection.StateOpen
}

// Send encodes payload through the codec registered for messageId, assigns
// the next sequence id, and enqueues the frame. It never blocks on network
// I/O and never reports transport failures - those arrive later as a
// disconnect event. Errors here are local misuse only (no codec registered,
// codec rejected the payload, no connection at all).
func (s *Session) Send(messageId uint16, routingId uint16, payload any) (int32, error) {
	return s.send(&frame.OutboundMessage{
		MessageId: messageId,
		RoutingId: routingId,
		Payload:   payload,
	})
}

// SendBytes is Send for pre-serialized payloads.
func (s *Session) SendBytes(messageId uint16, routingId uint16, payload []byte) (int32, error) {
	return s.send(&frame.OutboundMessage{
		MessageId:  messageId,
		RoutingId:  routingId,
		RawPayload: payload,
	})
}

func (s *Session) send(msg *frame.OutboundMessage) (int32, error) {
	conn := s.currentConn()
	if conn == nil {
		return 0, &errors.ConnectionClosed{Reason: "no active connection"}
	}

	msg.ClientSequenceId = s.seq.Next()

	encoded, err := s.codec.EncodeOutbound(msg)
	if err != nil {
		return 0, err
	}

	if sendErr := conn.Send(encoded); sendErr != nil {
		// The disconnect event is the authoritative failure signal; a send
		// racing the close just gets dropped.
		s.log.Debug("Dropped send on closing connection",
			zap.Uint16("messageId", msg.MessageId),
			zap.Int32("clientSeq", msg.ClientSequenceId))
	}

	return msg.ClientSequenceId, nil
}

// Register installs the handler for messageId, silently replacing any
// previous one. A nil handler unregisters.
func (s *Session) Register(messageId uint16, handler MessageHandler) {
	s.mut_handlers.Lock()
	defer s.mut_handlers.Unlock()

	if handler == nil {
		delete(s.handlers, messageId)
		return
	}
	s.handlers[messageId] = handler
}

// RegisterCommonHandler installs an additional catch-all handler that fires
// for every inbound message, before the per-id handler.
func (s *Session) RegisterCommonHandler(handler MessageHandler) {
	if handler == nil {
		return
	}

	s.mut_handlers.Lock()
	defer s.mut_handlers.Unlock()
	s.commonHandlers = append(s.commonHandlers, handler)
}

func (s *Session) OnConnectResult(cb ConnectResultCallback) Subscription {
	return s.connectCallbacks.subscribe(func(result ConnectResult) { cb(result) })
}

func (s *Session) OffConnectResult(sub Subscription) {
	s.connectCallbacks.unsubscribe(sub)
}

func (s *Session) OnDisconnect(cb DisconnectCallback) Subscription {
	return s.disconnectCallbacks.subscribe(func(evt DisconnectEvent) { cb(evt) })
}

func (s *Session) OffDisconnect(sub Subscription) {
	s.disconnectCallbacks.unsubscribe(sub)
}

// Tick drains the connectivity event queue and then the pending inbound
// messages, invoking all callbacks synchronously. This is the only place
// user callbacks ever run, so hosts calling Tick from one thread get
// single-threaded delivery in wire order. Call it once per frame.
func (s *Session) Tick() {
	for _, evt := range s.takeEvents() {
		if evt.connect != nil {
			s.connectCallbacks.invoke(*evt.connect)
		}
		if evt.disconnect != nil {
			s.disconnectCallbacks.invoke(*evt.disconnect)
		}
	}

	conn := s.currentConn()
	if conn == nil {
		return
	}

	for {
		select {
		case msg, ok := <-conn.Frames():
			if !ok {
				// Read loop is done; drop the stale connection reference.
				s.clearConn(conn)
				return
			}
			s.dispatchMessage(msg)
			s.pool.Release(msg)
		default:
			return
		}
	}
}

func (s *Session) dispatchMessage(msg *frame.InboundMessage) {
	s.mut_handlers.RLock()
	commonHandlers := make([]MessageHandler, len(s.commonHandlers))
	copy(commonHandlers, s.commonHandlers)
	handler := s.handlers[msg.MessageId]
	s.mut_handlers.RUnlock()

	for _, commonHandler := range commonHandlers {
		commonHandler(msg)
	}
	if handler != nil {
		handler(msg)
	}
}

func (s *Session) watchClose(conn *connection.BufferedConnection) {
	reason := <-conn.CloseReason()
	s.pushDisconnect(reason)
}

func (s *Session) currentConn() *connection.BufferedConnection {
	s.mut_conn.Lock()
	defer s.mut_conn.Unlock()
	return s.conn
}

func (s *Session) clearConn(conn *connection.BufferedConnection) {
	s.mut_conn.Lock()
	defer s.mut_conn.Unlock()
	if s.conn == conn {
		s.conn = nil
	}
}

func (s *Session) pushConnectResult(success bool, host string, port int, errorMessage string) {
	s.mut_events.Lock()
	defer s.mut_events.Unlock()
	s.events = append(s.events, connectivityEvent{
		connect: &ConnectResult{
			Success:      success,
			Host:         host,
			Port:         port,
			ErrorMessage: errorMessage,
		},
	})
}

func (s *Session) pushDisconnect(reason string) {
	s.mut_events.Lock()
	defer s.mut_events.Unlock()
	s.events = append(s.events, connectivityEvent{
		disconnect: &DisconnectEvent{Reason: reason},
	})
}

func (s *Session) takeEvents() []connectivityEvent {
	s.mut_events.Lock()
	defer s.mut_events.Unlock()

	events := s.events
	s.events = nil
	return events
}
