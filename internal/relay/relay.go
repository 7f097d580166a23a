// Package relay subscribes subjects on a message bus and re-emits each
// payload as a buffer.Buffer through typed signals.
package relay

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"dqmnet/internal/buffer"
	"dqmnet/internal/config"
	"dqmnet/internal/logging"
	"dqmnet/internal/messaging"
	"dqmnet/internal/metrics"
	"dqmnet/internal/sigslot"
)

var ErrClosed = errors.New("relay: closed")

type Option func(*Relay)

func WithLogger(l logging.Logger) Option {
	return func(r *Relay) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics records relay counters and instruments the relay's signals.
func WithMetrics(p metrics.Provider) Option {
	return func(r *Relay) {
		if p != nil {
			r.metrics = p
		}
	}
}

// WithClock replaces time.Now for dedupe expiry.
func WithClock(now func() time.Time) Option {
	return func(r *Relay) {
		if now != nil {
			r.now = now
		}
	}
}

// Relay turns bus deliveries into signal dispatches. Slots run on the bus
// delivery goroutine; a slot that keeps a Buffer past its return must share
// the model with SetModel(b.Model()) or copy the bytes.
type Relay struct {
	id      string
	bus     messaging.Bus
	cfg     config.RelayConfig
	logger  logging.Logger
	metrics metrics.Provider
	now     func() time.Time

	// seen maps payload hashes to their expiry.
	seen *lru.Cache[common.Hash, time.Time]

	mu     sync.Mutex
	subs   map[string]io.Closer
	closed bool

	Received  *sigslot.Signal2[string, *buffer.Buffer]
	Duplicate *sigslot.Signal[string]
	Stopped   *sigslot.Signal0
}

func New(bus messaging.Bus, cfg config.RelayConfig, opts ...Option) (*Relay, error) {
	if bus == nil {
		return nil, errors.New("relay: nil bus")
	}
	r := &Relay{
		id:      uuid.NewString(),
		bus:     bus,
		cfg:     cfg,
		logger:  logging.WithComponent("relay"),
		metrics: metrics.Noop{},
		now:     time.Now,
		subs:    make(map[string]io.Closer),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	if cfg.DedupeTTL > 0 {
		size := cfg.DedupeMax
		if size <= 0 {
			size = config.DefaultDedupeMax
		}
		seen, err := lru.New[common.Hash, time.Time](size)
		if err != nil {
			return nil, fmt.Errorf("relay: dedupe cache: %w", err)
		}
		r.seen = seen
	}

	sigOpts := func(name string) []sigslot.Option {
		return []sigslot.Option{sigslot.WithName(name), sigslot.WithLogger(r.logger), sigslot.WithMetrics(r.metrics)}
	}
	r.Received = sigslot.New2[string, *buffer.Buffer](sigOpts("relay.received")...)
	r.Duplicate = sigslot.New[string](sigOpts("relay.duplicate")...)
	r.Stopped = sigslot.New0(sigOpts("relay.stopped")...)
	return r, nil
}

// ID identifies this relay instance in logs.
func (r *Relay) ID() string { return r.id }

// Start subscribes every configured subject. If one fails the subjects
// already subscribed by this call are released again.
func (r *Relay) Start() error {
	var started []string
	for _, subject := range r.cfg.Subjects {
		added, err := r.subscribe(subject)
		if err != nil {
			for _, s := range started {
				r.Unsubscribe(s)
			}
			return err
		}
		if added {
			started = append(started, subject)
		}
	}
	r.logger.Infof("relay %s started on %d subjects", r.id, len(r.Subjects()))
	return nil
}

// Subscribe adds subject at runtime. Subscribing twice is a no-op.
func (r *Relay) Subscribe(subject string) error {
	_, err := r.subscribe(subject)
	return err
}

func (r *Relay) subscribe(subject string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false, ErrClosed
	}
	if _, ok := r.subs[subject]; ok {
		return false, nil
	}
	sub, err := r.bus.Subscribe(subject, func(p []byte) { r.deliver(subject, p) })
	if err != nil {
		return false, fmt.Errorf("relay: subscribe %s: %w", subject, err)
	}
	r.subs[subject] = sub
	return true, nil
}

// Unsubscribe drops subject and reports whether it was subscribed.
func (r *Relay) Unsubscribe(subject string) bool {
	r.mu.Lock()
	sub, ok := r.subs[subject]
	delete(r.subs, subject)
	r.mu.Unlock()
	if !ok {
		return false
	}
	if err := sub.Close(); err != nil {
		r.logger.Warnf("unsubscribe %s: %v", subject, err)
	}
	return true
}

// Subjects returns the subscribed subjects.
func (r *Relay) Subjects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.subs))
	for s := range r.subs {
		out = append(out, s)
	}
	return out
}

func (r *Relay) deliver(subject string, payload []byte) {
	if r.duplicate(subject, payload) {
		r.metrics.IncCounter(metrics.RelayDuplicatesTotal, 1, subject)
		r.Duplicate.Process(subject)
		return
	}

	b := buffer.New()
	if r.cfg.CopyPayloads {
		buffer.Copy(b, payload)
	} else {
		b.Adopt(payload)
	}
	r.metrics.IncCounter(metrics.RelayMessagesTotal, 1, subject)
	r.metrics.IncCounter(metrics.RelayBytesTotal, float64(b.Size()), subject)
	r.Received.Process(subject, b)
}

// duplicate records the payload and reports whether an unexpired record of
// the same subject and payload existed.
func (r *Relay) duplicate(subject string, payload []byte) bool {
	if r.seen == nil {
		return false
	}
	key := crypto.Keccak256Hash([]byte(subject), []byte{0}, payload)
	now := r.now()
	expiry := now.Add(r.cfg.DedupeTTL)
	prev, found, _ := r.seen.PeekOrAdd(key, expiry)
	if found && now.Before(prev) {
		return true
	}
	if found {
		r.seen.Add(key, expiry)
	}
	return false
}

// Close releases every subscription and fires Stopped once. Later calls
// return nil.
func (r *Relay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	subs := r.subs
	r.subs = make(map[string]io.Closer)
	r.mu.Unlock()

	var errs []error
	for subject, sub := range subs {
		if err := sub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe %s: %w", subject, err))
		}
	}
	r.logger.Infof("relay %s stopped", r.id)
	r.Stopped.Process()
	return errors.Join(errs...)
}
