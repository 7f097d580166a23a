package messaging

import (
	"fmt"
	"io"
	"time"

	"github.com/nats-io/nats.go"

	"dqmnet/internal/logging"
)

type NATSBus struct {
	nc     *nats.Conn
	logger logging.Logger
}

func NewNATSBus(url string, opts ...nats.Option) (*NATSBus, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return &NATSBus{nc: nc, logger: logging.NewDefaultLogger()}, nil
}

// NATSOptions builds connection options that log connection state changes.
func NATSOptions(name string, reconnectWait time.Duration, maxReconnects int, logger logging.Logger) []nats.Option {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	opts := []nats.Option{
		nats.MaxReconnects(maxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warnf("nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infof("nats reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			if sub != nil {
				logger.Errorf("nats subscription %s: %v", sub.Subject, err)
				return
			}
			logger.Errorf("nats: %v", err)
		}),
	}
	if name != "" {
		opts = append(opts, nats.Name(name))
	}
	if reconnectWait > 0 {
		opts = append(opts, nats.ReconnectWait(reconnectWait))
	}
	return opts
}

func (b *NATSBus) Publish(subject string, data []byte) error {
	if subject == "" {
		return ErrEmptySubject
	}
	if b.nc.IsClosed() {
		return ErrClosed
	}
	return b.nc.Publish(subject, data)
}

// Subscribe runs handler on the subscription's own goroutine. m.Data is not
// reused by the client, so handlers may keep it.
func (b *NATSBus) Subscribe(subject string, handler func([]byte)) (io.Closer, error) {
	if subject == "" {
		return nil, ErrEmptySubject
	}
	if handler == nil {
		return nil, ErrNilHandler
	}
	if b.nc.IsClosed() {
		return nil, ErrClosed
	}
	sub, err := b.nc.Subscribe(subject, func(m *nats.Msg) { handler(m.Data) })
	if err != nil {
		return nil, err
	}
	return closerFunc(func() error { return sub.Unsubscribe() }), nil
}

// Flush waits for the server to process everything published so far.
func (b *NATSBus) Flush(timeout time.Duration) error {
	return b.nc.FlushTimeout(timeout)
}

func (b *NATSBus) Close() error {
	if b.nc.IsClosed() {
		return nil
	}
	if err := b.nc.Drain(); err != nil {
		b.logger.Warnf("nats drain: %v", err)
		b.nc.Close()
	}
	return nil
}
