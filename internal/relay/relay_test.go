package relay

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"
	"unsafe"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dqmnet/internal/buffer"
	"dqmnet/internal/config"
	"dqmnet/internal/logging"
	"dqmnet/internal/messaging"
	"dqmnet/internal/metrics"
)

type tap struct {
	mu         sync.Mutex
	subjects   []string
	payloads   []string
	duplicates []string
	stopped    int
}

func (t *tap) OnMessage(subject string, b *buffer.Buffer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subjects = append(t.subjects, subject)
	t.payloads = append(t.payloads, string(b.Bytes()))
}

func (t *tap) OnDuplicate(subject string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.duplicates = append(t.duplicates, subject)
}

func (t *tap) OnStopped() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped++
}

func relayConfig(subjects ...string) config.RelayConfig {
	return config.RelayConfig{Subjects: subjects, DedupeTTL: time.Minute, DedupeMax: 16}
}

func newTestRelay(t *testing.T, bus messaging.Bus, cfg config.RelayConfig, opts ...Option) (*Relay, *tap) {
	t.Helper()
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	r, err := New(bus, cfg, opts...)
	require.NoError(t, err)
	tp := &tap{}
	require.True(t, r.Received.Connect(tp, tp.OnMessage))
	require.True(t, r.Duplicate.Connect(tp, tp.OnDuplicate))
	require.True(t, r.Stopped.Connect(tp, tp.OnStopped))
	require.NoError(t, r.Start())
	t.Cleanup(func() { _ = r.Close() })
	return r, tp
}

func TestRelayDeliversConfiguredSubjects(t *testing.T) {
	bus := messaging.NewMemoryBus(logging.Discard(), nil)
	defer bus.Close()
	r, tp := newTestRelay(t, bus, relayConfig("dqm.a", "dqm.b"))

	assert.NotEmpty(t, r.ID())
	assert.ElementsMatch(t, []string{"dqm.a", "dqm.b"}, r.Subjects())

	require.NoError(t, bus.Publish("dqm.a", []byte("one")))
	require.NoError(t, bus.Publish("dqm.c", []byte("ignored")))
	require.NoError(t, bus.Publish("dqm.b", []byte("two")))

	assert.Equal(t, []string{"dqm.a", "dqm.b"}, tp.subjects)
	assert.Equal(t, []string{"one", "two"}, tp.payloads)
}

func TestRelaySuppressesDuplicatesUntilExpiry(t *testing.T) {
	bus := messaging.NewMemoryBus(logging.Discard(), nil)
	defer bus.Close()
	now := time.Unix(1000, 0)
	_, tp := newTestRelay(t, bus, relayConfig("dqm.a", "dqm.b"), WithClock(func() time.Time { return now }))

	require.NoError(t, bus.Publish("dqm.a", []byte("same")))
	require.NoError(t, bus.Publish("dqm.a", []byte("same")))
	// the subject is part of the key
	require.NoError(t, bus.Publish("dqm.b", []byte("same")))

	assert.Equal(t, []string{"same", "same"}, tp.payloads)
	assert.Equal(t, []string{"dqm.a"}, tp.duplicates)

	now = now.Add(2 * time.Minute)
	require.NoError(t, bus.Publish("dqm.a", []byte("same")))
	assert.Len(t, tp.payloads, 3)
	assert.Len(t, tp.duplicates, 1)
}

func TestRelayWithoutDedupe(t *testing.T) {
	bus := messaging.NewMemoryBus(logging.Discard(), nil)
	defer bus.Close()
	_, tp := newTestRelay(t, bus, config.RelayConfig{Subjects: []string{"dqm.a"}})

	require.NoError(t, bus.Publish("dqm.a", []byte("same")))
	require.NoError(t, bus.Publish("dqm.a", []byte("same")))
	assert.Len(t, tp.payloads, 2)
	assert.Empty(t, tp.duplicates)
}

// fakeBus hands the subscriber the exact slice given to Publish.
type fakeBus struct {
	handlers map[string]func([]byte)
	fail     map[string]error
	closed   []string
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: map[string]func([]byte){}, fail: map[string]error{}}
}

func (f *fakeBus) Publish(subject string, data []byte) error {
	if h := f.handlers[subject]; h != nil {
		h(data)
	}
	return nil
}

func (f *fakeBus) Subscribe(subject string, handler func([]byte)) (io.Closer, error) {
	if err := f.fail[subject]; err != nil {
		return nil, err
	}
	f.handlers[subject] = handler
	return closer(func() error {
		delete(f.handlers, subject)
		f.closed = append(f.closed, subject)
		return nil
	}), nil
}

func (f *fakeBus) Close() error { return nil }

type closer func() error

func (c closer) Close() error { return c() }

func TestRelayAdoptsPayloadByDefault(t *testing.T) {
	bus := newFakeBus()
	r, err := New(bus, config.RelayConfig{Subjects: []string{"dqm.a"}}, WithLogger(logging.Discard()))
	require.NoError(t, err)
	require.NoError(t, r.Start())

	payload := []byte("zero copy")
	var seen *byte
	r.Received.ConnectFunc(func(_ string, b *buffer.Buffer) { seen = unsafe.SliceData(b.Bytes()) })

	require.NoError(t, bus.Publish("dqm.a", payload))
	assert.Same(t, unsafe.SliceData(payload), seen)
}

func TestRelayCopiesPayloadWhenConfigured(t *testing.T) {
	bus := newFakeBus()
	r, err := New(bus, config.RelayConfig{Subjects: []string{"dqm.a"}, CopyPayloads: true}, WithLogger(logging.Discard()))
	require.NoError(t, err)
	require.NoError(t, r.Start())

	payload := []byte("owned")
	var kept buffer.Buffer
	r.Received.ConnectFunc(func(_ string, b *buffer.Buffer) { kept.SetModel(b.Model()) })

	require.NoError(t, bus.Publish("dqm.a", payload))
	payload[0] = 'X'
	assert.Equal(t, "owned", string(kept.Bytes()))
}

func TestRelayStartRollsBack(t *testing.T) {
	bus := newFakeBus()
	boom := errors.New("boom")
	bus.fail["dqm.bad"] = boom

	r, err := New(bus, config.RelayConfig{Subjects: []string{"dqm.a", "dqm.b", "dqm.bad"}}, WithLogger(logging.Discard()))
	require.NoError(t, err)

	err = r.Start()
	require.ErrorIs(t, err, boom)
	assert.Empty(t, r.Subjects())
	assert.ElementsMatch(t, []string{"dqm.a", "dqm.b"}, bus.closed)
}

func TestRelayRuntimeSubscriptions(t *testing.T) {
	bus := messaging.NewMemoryBus(logging.Discard(), nil)
	defer bus.Close()
	r, tp := newTestRelay(t, bus, relayConfig("dqm.a"))

	require.NoError(t, r.Subscribe("dqm.b"))
	require.NoError(t, r.Subscribe("dqm.b"))
	require.NoError(t, bus.Publish("dqm.b", []byte("b")))

	assert.True(t, r.Unsubscribe("dqm.b"))
	assert.False(t, r.Unsubscribe("dqm.b"))
	require.NoError(t, bus.Publish("dqm.b", []byte("b2")))

	assert.Equal(t, []string{"b"}, tp.payloads)
}

func TestRelayClose(t *testing.T) {
	bus := messaging.NewMemoryBus(logging.Discard(), nil)
	defer bus.Close()
	r, tp := newTestRelay(t, bus, relayConfig("dqm.a"))

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.Equal(t, 1, tp.stopped)

	require.NoError(t, bus.Publish("dqm.a", []byte("late")))
	assert.Empty(t, tp.payloads)
	assert.Empty(t, bus.Subjects())

	assert.ErrorIs(t, r.Subscribe("dqm.b"), ErrClosed)
	assert.ErrorIs(t, r.Start(), ErrClosed)
}

func TestRelayMetrics(t *testing.T) {
	prom := metrics.NewProm()
	bus := messaging.NewMemoryBus(logging.Discard(), nil)
	defer bus.Close()
	newTestRelay(t, bus, relayConfig("dqm.a"), WithMetrics(prom))

	require.NoError(t, bus.Publish("dqm.a", []byte("1234")))
	require.NoError(t, bus.Publish("dqm.a", []byte("1234")))

	assert.Equal(t, 1.0, testutil.ToFloat64(prom.RelayMessages.WithLabelValues("dqm.a")))
	assert.Equal(t, 4.0, testutil.ToFloat64(prom.RelayBytes.WithLabelValues("dqm.a")))
	assert.Equal(t, 1.0, testutil.ToFloat64(prom.RelayDuplicates.WithLabelValues("dqm.a")))
	assert.Equal(t, 1.0, testutil.ToFloat64(prom.Dispatches.WithLabelValues("relay.received")))
	assert.Equal(t, 1.0, testutil.ToFloat64(prom.Connections.WithLabelValues("relay.received")))
}

func TestNewRequiresBus(t *testing.T) {
	_, err := New(nil, relayConfig("dqm.a"))
	assert.Error(t, err)
}
