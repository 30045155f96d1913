package client

import (
	"sync"

	"github.com/kestrelgames/netpipe/pkg/frame"
)

// ConnectResult reports the outcome of one Connect attempt. Exactly one is
// queued per attempt, success or failure.
type ConnectResult struct {
	Success      bool
	Host         string
	Port         int
	ErrorMessage string
}

// DisconnectEvent reports that the active connection closed, locally or
// remotely.
type DisconnectEvent struct {
	Reason string
}

// MessageHandler receives one decoded inbound message. Handlers only ever run
// inside Tick, on the host's thread. The message object is recycled once the
// handler returns - copy any fields that need to outlive the call.
type MessageHandler func(msg *frame.InboundMessage)

type ConnectResultCallback func(result ConnectResult)

type DisconnectCallback func(evt DisconnectEvent)

// Subscription identifies one subscribed connectivity callback so it can be
// removed later.
type Subscription uint64

// callbackList is an ordered multicast list: callbacks fire in subscription
// order, and unsubscription removes by identity.
type callbackList[T any] struct {
	mut     sync.Mutex
	nextId  Subscription
	entries []callbackEntry[T]
}

type callbackEntry[T any] struct {
	id Subscription
	cb func(T)
}

func (l *callbackList[T]) subscribe(cb func(T)) Subscription {
	l.mut.Lock()
	defer l.mut.Unlock()

	l.nextId++
	l.entries = append(l.entries, callbackEntry[T]{id: l.nextId, cb: cb})
	return l.nextId
}

func (l *callbackList[T]) unsubscribe(id Subscription) {
	l.mut.Lock()
	defer l.mut.Unlock()

	for i, entry := range l.entries {
		if entry.id == id {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return
		}
	}
}

func (l *callbackList[T]) invoke(value T) {
	l.mut.Lock()
	snapshot := make([]callbackEntry[T], len(l.entries))
	copy(snapshot, l.entries)
	l.mut.Unlock()

	for _, entry := range snapshot {
		entry.cb(value)
	}
}
