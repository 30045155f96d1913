// Package connector establishes transport streams through an ordered pipeline
// of stages: a base stage opens the raw transport (TCP or WebSocket) and each
// later stage wraps the stream it is handed (TLS, compression).
package connector

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/kestrelgames/netpipe/pkg/errors"
)

// Stream is the byte stream a connector chain produces. The buffered
// connection layer only ever reads, writes, and closes it.
type Stream interface {
	io.ReadWriteCloser
}

// Stage is one step of connection establishment. Base stages (TCP, WebSocket)
// require prev to be nil; wrapping stages (TLS, compression) require it to be
// the previous stage's output.
type Stage interface {
	Name() string
	Connect(ctx context.Context, prev Stream) (Stream, error)
}

// Chain runs stages strictly in order. Failure at any stage short-circuits,
// closes whatever transport was already opened, and reports the failing
// stage - there is no fallback to a partially built stream.
type Chain struct {
	stages []Stage
	log    *zap.Logger
}

func CreateChain(logger *zap.Logger, stages ...Stage) (*Chain, error) {
	if len(stages) == 0 {
		return nil, &errors.NilArgument{ArgumentName: "stages", Context: "connector.CreateChain"}
	}
	for _, stage := range stages {
		if stage == nil {
			return nil, &errors.NilArgument{ArgumentName: "stages[i]", Context: "connector.CreateChain"}
		}
	}

	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}

	return &Chain{
		stages: stages,
		log:    logger,
	}, nil
}

func (c *Chain) Connect(ctx context.Context) (Stream, error) {
	var stream Stream

	for _, stage := range c.stages {
		next, err := stage.Connect(ctx, stream)
		if err != nil {
			if stream != nil {
				stream.Close()
			}
			c.log.Warn("Connector stage failed", zap.String("stage", stage.Name()), zap.Error(err))
			return nil, &errors.StageFailure{StageName: stage.Name(), Err: err}
		}

		stream = next
	}

	return stream, nil
}
