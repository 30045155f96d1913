package internal

import (
	"github.com/kestrelgames/netpipe/pkg/frame"
)

// MessagePool is a bounded free-list of inbound message objects, used to keep
// the per-frame hot path from allocating. Releasing into a full pool drops
// the object on the floor - that is normal operation, not an error.
type MessagePool struct {
	pool chan *frame.InboundMessage
}

const DefaultMessagePoolSize = 256

func CreateMessagePool(maxSize int) *MessagePool {
	if maxSize <= 0 {
		maxSize = DefaultMessagePoolSize
	}

	return &MessagePool{
		pool: make(chan *frame.InboundMessage, maxSize),
	}
}

// Acquire returns a message with every field reset. Pooled objects must never
// be assumed to retain prior values.
func (p *MessagePool) Acquire() *frame.InboundMessage {
	select {
	case msg := <-p.pool:
		msg.Reset()
		return msg
	default:
		return &frame.InboundMessage{}
	}
}

func (p *MessagePool) Release(msg *frame.InboundMessage) {
	if msg == nil {
		return
	}

	select {
	case p.pool <- msg:
	default:
		// Pool is at capacity - let the GC have it.
	}
}
