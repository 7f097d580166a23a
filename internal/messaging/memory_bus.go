package messaging

import (
	"io"
	"sync/atomic"

	"dqmnet/internal/logging"
	"dqmnet/internal/metrics"
)

// MemoryBus delivers in process. Publish copies data once and hands the same
// copy to every subscriber synchronously, in subscription order.
type MemoryBus struct {
	router *router
	closed atomic.Bool
}

func NewMemoryBus(logger logging.Logger, m metrics.Provider) *MemoryBus {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &MemoryBus{router: newRouter(logger, m)}
}

func (b *MemoryBus) Publish(subject string, data []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if subject == "" {
		return ErrEmptySubject
	}
	b.router.route(subject, append([]byte(nil), data...))
	return nil
}

func (b *MemoryBus) Subscribe(subject string, handler func([]byte)) (io.Closer, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	sub, err := b.router.subscribe(subject, handler)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Subjects lists subjects with at least one subscriber.
func (b *MemoryBus) Subjects() []string { return b.router.list() }

func (b *MemoryBus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.router.reset()
	return nil
}
