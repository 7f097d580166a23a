package sigslot

import (
	"sync"
	"time"

	"dqmnet/internal/logging"
	"dqmnet/internal/metrics"
)

// Option configures a signal.
type Option func(*options)

type options struct {
	name    string
	logger  logging.Logger
	metrics metrics.Provider
}

// WithName labels the signal in logs and metrics.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithLogger enables debug logging of registry changes.
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records dispatch counts, latency and connection gauges.
func WithMetrics(p metrics.Provider) Option {
	return func(o *options) { o.metrics = p }
}

type slot[F any] struct {
	receiver any // nil for receiver-less slots
	fn       uintptr
	call     F
}

// core is the registry shared by every signal arity. slots is copy-on-write:
// entries below len are never modified in place, so a snapshot taken by
// Process stays valid while the registry changes.
type core[F any] struct {
	options

	mu    sync.RWMutex
	slots []slot[F]
}

func (c *core[F]) apply(opts []Option) {
	for _, opt := range opts {
		if opt != nil {
			opt(&c.options)
		}
	}
}

// Name returns the label set with WithName.
func (c *core[F]) Name() string { return c.name }

// Connect registers fn bound to recv. It returns false and registers nothing
// when recv already has a slot on this signal, whichever callback it used, or
// when recv is not a non-nil pointer or fn is nil.
func (c *core[F]) Connect(recv any, fn F) bool {
	key, ok := receiverKey(recv)
	code := funcKey(fn)
	if !ok || code == 0 {
		c.debugf("connect rejected: receiver %T is not a usable identity or callback is nil", recv)
		return false
	}

	c.mu.Lock()
	if c.find(func(s *slot[F]) bool { return s.receiver == key }) >= 0 {
		c.mu.Unlock()
		c.debugf("connect rejected: receiver %p already connected", recv)
		return false
	}
	n := c.add(slot[F]{receiver: key, fn: code, call: fn})
	c.mu.Unlock()

	c.changed(n)
	return true
}

// ConnectFunc registers a receiver-less callback. It returns false when the
// same function is already connected. Closures created from one function
// literal share an identity.
func (c *core[F]) ConnectFunc(fn F) bool {
	code := funcKey(fn)
	if code == 0 {
		return false
	}

	c.mu.Lock()
	if c.find(func(s *slot[F]) bool { return s.receiver == nil && s.fn == code }) >= 0 {
		c.mu.Unlock()
		c.debugf("connect rejected: function %#x already connected", code)
		return false
	}
	n := c.add(slot[F]{fn: code, call: fn})
	c.mu.Unlock()

	c.changed(n)
	return true
}

// Disconnect removes the slot bound to recv.
func (c *core[F]) Disconnect(recv any) bool {
	key, ok := receiverKey(recv)
	if !ok {
		return false
	}
	return c.remove(func(s *slot[F]) bool { return s.receiver == key })
}

// DisconnectMethod removes the slot bound to recv only if it was registered
// with fn.
func (c *core[F]) DisconnectMethod(recv any, fn F) bool {
	key, ok := receiverKey(recv)
	code := funcKey(fn)
	if !ok || code == 0 {
		return false
	}
	return c.remove(func(s *slot[F]) bool { return s.receiver == key && s.fn == code })
}

// DisconnectFunc removes a receiver-less slot registered with fn.
func (c *core[F]) DisconnectFunc(fn F) bool {
	code := funcKey(fn)
	if code == 0 {
		return false
	}
	return c.remove(func(s *slot[F]) bool { return s.receiver == nil && s.fn == code })
}

// DisconnectAll removes every slot.
func (c *core[F]) DisconnectAll() {
	c.mu.Lock()
	c.slots = nil
	c.mu.Unlock()

	c.changed(0)
}

// IsConnected reports whether recv has a slot on this signal.
func (c *core[F]) IsConnected(recv any) bool {
	key, ok := receiverKey(recv)
	if !ok {
		return false
	}
	return c.has(func(s *slot[F]) bool { return s.receiver == key })
}

// IsMethodConnected reports whether recv is connected with fn.
func (c *core[F]) IsMethodConnected(recv any, fn F) bool {
	key, ok := receiverKey(recv)
	code := funcKey(fn)
	if !ok || code == 0 {
		return false
	}
	return c.has(func(s *slot[F]) bool { return s.receiver == key && s.fn == code })
}

// IsFuncConnected reports whether fn is connected as a receiver-less slot.
func (c *core[F]) IsFuncConnected(fn F) bool {
	code := funcKey(fn)
	if code == 0 {
		return false
	}
	return c.has(func(s *slot[F]) bool { return s.receiver == nil && s.fn == code })
}

// HasConnection reports whether at least one slot is registered.
func (c *core[F]) HasConnection() bool { return c.Len() > 0 }

// Len returns the number of registered slots.
func (c *core[F]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.slots)
}

// find must be called with mu held.
func (c *core[F]) find(match func(*slot[F]) bool) int {
	for i := range c.slots {
		if match(&c.slots[i]) {
			return i
		}
	}
	return -1
}

// add must be called with mu held. Appending never touches entries a
// snapshot can see.
func (c *core[F]) add(s slot[F]) int {
	c.slots = append(c.slots, s)
	return len(c.slots)
}

func (c *core[F]) remove(match func(*slot[F]) bool) bool {
	c.mu.Lock()
	i := c.find(match)
	if i < 0 {
		c.mu.Unlock()
		return false
	}
	next := make([]slot[F], 0, len(c.slots)-1)
	next = append(next, c.slots[:i]...)
	next = append(next, c.slots[i+1:]...)
	c.slots = next
	n := len(next)
	c.mu.Unlock()

	c.changed(n)
	return true
}

func (c *core[F]) has(match func(*slot[F]) bool) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.find(match) >= 0
}

// begin snapshots the registry for one dispatch.
func (c *core[F]) begin() ([]slot[F], time.Time) {
	var start time.Time
	if c.metrics != nil {
		start = time.Now()
	}
	c.mu.RLock()
	snapshot := c.slots
	c.mu.RUnlock()
	return snapshot, start
}

func (c *core[F]) end(invoked int, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.IncCounter(metrics.SignalDispatchTotal, 1, c.name)
	c.metrics.IncCounter(metrics.SlotInvocationsTotal, float64(invoked), c.name)
	c.metrics.Observe(metrics.SignalDispatchSeconds, time.Since(start).Seconds(), c.name)
}

func (c *core[F]) changed(n int) {
	if c.metrics != nil {
		c.metrics.SetGauge(metrics.SignalConnections, float64(n), c.name)
	}
	c.debugf("slots=%d", n)
}

func (c *core[F]) debugf(format string, args ...interface{}) {
	if c.logger == nil {
		return
	}
	if c.name != "" {
		format = "signal " + c.name + ": " + format
	}
	c.logger.Debugf(format, args...)
}
