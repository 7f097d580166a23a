package messaging

import (
	"errors"
	"io"
)

// Bus is a pluggable messaging interface for broadcast and subscription.
// Implementations adapt an in-process router, NATS, memberlist gossip,
// libp2p pubsub and a watched spool directory.
type Bus interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler func([]byte)) (io.Closer, error)
	Close() error
}

var (
	ErrClosed           = errors.New("messaging: bus closed")
	ErrEmptySubject     = errors.New("messaging: empty subject")
	ErrNilHandler       = errors.New("messaging: nil handler")
	ErrUnknownTransport = errors.New("messaging: unknown transport")
	ErrFrameTruncated   = errors.New("messaging: truncated frame")
	ErrInvalidSubject   = errors.New("messaging: invalid subject")
)

type closerFunc func() error

func (c closerFunc) Close() error { return c() }
