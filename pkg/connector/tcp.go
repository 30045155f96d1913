package connector

import (
	"context"
	"net"
	"time"

	"github.com/kestrelgames/netpipe/pkg/errors"
)

type TCPStageParams struct {
	RemoteAddr string

	// LocalAddr optionally binds the socket to a specific local endpoint
	// before connecting.
	LocalAddr *net.TCPAddr

	DialTimeout time.Duration
}

// TCPStage is the base connector stage: it opens the raw socket. Cancelling
// ctx mid-dial aborts the attempt and closes any partially opened socket
// (net.Dialer guarantees this).
type TCPStage struct {
	params TCPStageParams
}

const DefaultDialTimeout = 10 * time.Second

func CreateTCPStage(params TCPStageParams) *TCPStage {
	if params.DialTimeout <= 0 {
		params.DialTimeout = DefaultDialTimeout
	}

	return &TCPStage{
		params: params,
	}
}

func (s *TCPStage) Name() string {
	return "tcp"
}

func (s *TCPStage) Connect(ctx context.Context, prev Stream) (Stream, error) {
	if prev != nil {
		return nil, &errors.InvalidStageInput{StageName: s.Name(), Expected: "nil (base stage)"}
	}

	dialer := net.Dialer{
		Timeout:   s.params.DialTimeout,
		LocalAddr: s.params.LocalAddr,
	}

	conn, err := dialer.DialContext(ctx, "tcp", s.params.RemoteAddr)
	if err != nil {
		return nil, err
	}

	// Latency-sensitive traffic: flush every frame immediately.
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
		tcpConn.SetKeepAlive(true)
	}

	return conn, nil
}
