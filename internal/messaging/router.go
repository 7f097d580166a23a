package messaging

import (
	"sort"
	"sync"

	"dqmnet/internal/logging"
	"dqmnet/internal/metrics"
	"dqmnet/internal/sigslot"
)

// router fans payloads out to one signal per subject. Every subscription is
// a receiver on its subject's signal, so closing it is a Disconnect.
type router struct {
	mu       sync.RWMutex
	subjects map[string]*sigslot.Signal[[]byte]
	logger   logging.Logger
	metrics  metrics.Provider
}

func newRouter(logger logging.Logger, m metrics.Provider) *router {
	return &router{
		subjects: make(map[string]*sigslot.Signal[[]byte]),
		logger:   logger,
		metrics:  m,
	}
}

type subscription struct {
	r       *router
	subject string
	handler func([]byte)
	once    sync.Once
	// onEmpty runs after the last subscription of a subject is closed, with
	// no router lock held. A new subscriber may already have arrived.
	onEmpty func(subject string)
}

func (s *subscription) deliver(p []byte) { s.handler(p) }

func (s *subscription) Close() error {
	s.once.Do(func() {
		if s.r.unsubscribe(s) && s.onEmpty != nil {
			s.onEmpty(s.subject)
		}
	})
	return nil
}

func (r *router) subscribe(subject string, handler func([]byte)) (*subscription, error) {
	if subject == "" {
		return nil, ErrEmptySubject
	}
	if handler == nil {
		return nil, ErrNilHandler
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	sig, ok := r.subjects[subject]
	if !ok {
		opts := []sigslot.Option{sigslot.WithName(subject)}
		if r.metrics != nil {
			opts = append(opts, sigslot.WithMetrics(r.metrics))
		}
		sig = sigslot.New[[]byte](opts...)
		r.subjects[subject] = sig
	}
	sub := &subscription{r: r, subject: subject, handler: handler}
	sig.Connect(sub, sub.deliver)
	return sub, nil
}

// unsubscribe reports whether the subject is now without subscribers.
func (r *router) unsubscribe(sub *subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	sig := r.subjects[sub.subject]
	if sig == nil || !sig.Disconnect(sub) {
		return false
	}
	if sig.HasConnection() {
		return false
	}
	delete(r.subjects, sub.subject)
	return true
}

// route dispatches payload to the subject's subscribers with no router lock
// held, so handlers may subscribe or close. It returns the number reached.
func (r *router) route(subject string, payload []byte) int {
	r.mu.RLock()
	sig := r.subjects[subject]
	r.mu.RUnlock()
	if sig == nil {
		return 0
	}
	n := sig.Len()
	sig.Process(payload)
	return n
}

func (r *router) has(subject string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.subjects[subject]
	return ok
}

// list returns the subscribed subjects in sorted order.
func (r *router) list() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.subjects))
	for s := range r.subjects {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (r *router) reset() {
	r.mu.Lock()
	subjects := r.subjects
	r.subjects = make(map[string]*sigslot.Signal[[]byte])
	r.mu.Unlock()
	for _, sig := range subjects {
		sig.DisconnectAll()
	}
}
