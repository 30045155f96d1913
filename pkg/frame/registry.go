package frame

// PayloadCodec serializes one application payload type. Implementations are
// selected by messageId at encode/decode time; the framing layer treats the
// resulting bytes as opaque.
type PayloadCodec interface {
	Marshal(obj any) ([]byte, error)
	Unmarshal(data []byte) (any, error)
}

// Registry maps messageId to the codec for that message's payload.
//
// Registration is expected to happen at startup, before any connection is
// made; after that the registry is only read, concurrently and without
// locking. Mutating a registry that is attached to a live session is
// undefined.
type Registry struct {
	codecs map[uint16]PayloadCodec
}

func CreateRegistry() *Registry {
	return &Registry{
		codecs: make(map[uint16]PayloadCodec),
	}
}

// Register installs codec for messageId, silently replacing any previous
// registration.
func (r *Registry) Register(messageId uint16, codec PayloadCodec) {
	if codec == nil {
		delete(r.codecs, messageId)
		return
	}
	r.codecs[messageId] = codec
}

func (r *Registry) Lookup(messageId uint16) (PayloadCodec, bool) {
	codec, has := r.codecs[messageId]
	return codec, has
}
