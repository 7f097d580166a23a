package messaging

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dqmnet/internal/logging"
)

func TestLoadOrCreateIdentityKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "node.key")

	first, err := loadOrCreateIdentityKey(path)
	require.NoError(t, err)
	second, err := loadOrCreateIdentityKey(path)
	require.NoError(t, err)

	assert.True(t, first.Equals(second))
}

func TestLibp2pBusLocalDelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus, err := NewLibp2pBus(ctx, Libp2pOptions{
		ListenAddrs:     []string{"/ip4/127.0.0.1/tcp/0"},
		IdentityKeyFile: filepath.Join(t.TempDir(), "node.key"),
	}, logging.Discard(), nil)
	require.NoError(t, err)
	defer bus.Close()

	assert.NotEmpty(t, bus.PeerID())
	require.NotEmpty(t, bus.ListenAddrs())
	assert.Contains(t, bus.ListenAddrs()[0], "/p2p/"+bus.PeerID())

	c := &collector{}
	sub, err := bus.Subscribe("dqm.a", c.OnPayload)
	require.NoError(t, err)

	require.NoError(t, bus.Publish("dqm.a", []byte("over gossipsub")))
	require.Eventually(t, func() bool { return len(c.snapshot()) == 1 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, []byte("over gossipsub"), c.snapshot()[0])

	require.NoError(t, sub.Close())
	require.NoError(t, bus.Close())
	assert.ErrorIs(t, bus.Publish("dqm.a", nil), ErrClosed)
}

func TestNewLibp2pBusInvalidListenAddr(t *testing.T) {
	_, err := NewLibp2pBus(context.Background(), Libp2pOptions{ListenAddrs: []string{"not-a-multiaddr"}}, logging.Discard(), nil)
	assert.Error(t, err)
}

func newTestLibp2pBus(t *testing.T, opts Libp2pOptions) *Libp2pBus {
	t.Helper()
	opts.ListenAddrs = []string{"/ip4/127.0.0.1/tcp/0"}
	bus, err := NewLibp2pBus(context.Background(), opts, logging.Discard(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func (b *Libp2pBus) hasReader(subject string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.readers[subject]
	return ok
}

func TestLibp2pBusReaderFollowsConcurrentSubscribeAndClose(t *testing.T) {
	bus := newTestLibp2pBus(t, Libp2pOptions{})

	for i := 0; i < 50; i++ {
		old, err := bus.Subscribe("dqm.a", func([]byte) {})
		require.NoError(t, err)

		var (
			wg    sync.WaitGroup
			fresh io.Closer
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = old.Close()
		}()
		go func() {
			defer wg.Done()
			sub, err := bus.Subscribe("dqm.a", func([]byte) {})
			assert.NoError(t, err)
			fresh = sub
		}()
		wg.Wait()
		require.NotNil(t, fresh)

		require.True(t, bus.hasReader("dqm.a"), "iteration %d: subscriber left without a reader", i)
		require.NoError(t, fresh.Close())
		require.False(t, bus.hasReader("dqm.a"), "iteration %d: reader kept without subscribers", i)
	}

	c := &collector{}
	_, err := bus.Subscribe("dqm.a", c.OnPayload)
	require.NoError(t, err)
	require.NoError(t, bus.Publish("dqm.a", []byte("still read")))
	require.Eventually(t, func() bool { return len(c.snapshot()) == 1 }, 5*time.Second, 20*time.Millisecond)
}

func TestLibp2pBusClosesMDNS(t *testing.T) {
	bus, err := NewLibp2pBus(context.Background(), Libp2pOptions{
		ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0"},
		EnableMDNS:  true,
		Rendezvous:  "dqmnet-test",
	}, logging.Discard(), nil)
	require.NoError(t, err)
	if bus.mdns == nil {
		_ = bus.Close()
		t.Skip("mdns not available on this host")
	}

	require.NoError(t, bus.Close())
	assert.NoError(t, bus.Close())
	assert.ErrorIs(t, bus.Publish("dqm.a", nil), ErrClosed)
}
