package messaging

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	mdns "github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	ma "github.com/multiformats/go-multiaddr"

	"dqmnet/internal/logging"
	"dqmnet/internal/metrics"
)

// Libp2pOptions configures the libp2p transport.
type Libp2pOptions struct {
	ListenAddrs     []string
	Bootstrap       []string
	Rendezvous      string
	EnableMDNS      bool
	IdentityKeyFile string
}

// Libp2pBus maps subjects onto gossipsub topics. Each subscribed topic has
// one pubsub subscription whose reader goroutine feeds the router; it is
// cancelled when the last handler for the topic closes.
type Libp2pBus struct {
	ctx    context.Context
	cancel context.CancelFunc

	host   host.Host
	ps     *pubsub.PubSub
	mdns   mdns.Service
	router *router
	logger logging.Logger
	closed atomic.Bool

	// readerMu serialises syncReader so reader starts and stops are applied
	// in the order the router changed.
	readerMu sync.Mutex

	mu      sync.Mutex
	topics  map[string]*pubsub.Topic
	readers map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func NewLibp2pBus(parent context.Context, opts Libp2pOptions, logger logging.Logger, m metrics.Provider) (*Libp2pBus, error) {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	ctx, cancel := context.WithCancel(parent)

	listenAddrs := make([]ma.Multiaddr, 0, len(opts.ListenAddrs))
	for _, s := range opts.ListenAddrs {
		if s == "" {
			continue
		}
		a, err := ma.NewMultiaddr(s)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("invalid listen multiaddr %q: %w", s, err)
		}
		listenAddrs = append(listenAddrs, a)
	}
	if len(listenAddrs) == 0 {
		a, _ := ma.NewMultiaddr("/ip4/0.0.0.0/tcp/0")
		listenAddrs = append(listenAddrs, a)
	}

	libp2pOpts := []libp2p.Option{libp2p.ListenAddrs(listenAddrs...)}
	if opts.IdentityKeyFile != "" {
		key, err := loadOrCreateIdentityKey(opts.IdentityKeyFile)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("load identity key: %w", err)
		}
		libp2pOpts = append(libp2pOpts, libp2p.Identity(key))
	}

	h, err := libp2p.New(libp2pOpts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		_ = h.Close()
		cancel()
		return nil, fmt.Errorf("create gossipsub: %w", err)
	}

	b := &Libp2pBus{
		ctx:     ctx,
		cancel:  cancel,
		host:    h,
		ps:      ps,
		router:  newRouter(logger, m),
		logger:  logger,
		topics:  make(map[string]*pubsub.Topic),
		readers: make(map[string]context.CancelFunc),
	}

	if opts.EnableMDNS {
		service := mdns.NewMdnsService(h, opts.Rendezvous, &mdnsNotifee{host: h, logger: logger})
		if err := service.Start(); err != nil {
			logger.Warnf("mdns start: %v", err)
		} else {
			b.mdns = service
		}
	}

	for _, raw := range opts.Bootstrap {
		if raw == "" {
			continue
		}
		addr, err := ma.NewMultiaddr(raw)
		if err != nil {
			logger.Warnf("skip bootstrap addr %q: %v", raw, err)
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			logger.Warnf("skip bootstrap addr %q: %v", raw, err)
			continue
		}
		if err := h.Connect(ctx, *info); err != nil {
			logger.Warnf("bootstrap connect failed %s: %v", info.ID, err)
		} else {
			logger.Infof("connected bootstrap peer %s", info.ID)
		}
	}

	return b, nil
}

func (b *Libp2pBus) Publish(subject string, data []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if subject == "" {
		return ErrEmptySubject
	}
	t, err := b.getOrJoinTopic(subject)
	if err != nil {
		return err
	}
	return t.Publish(b.ctx, data)
}

// Subscribe includes messages published by this host.
func (b *Libp2pBus) Subscribe(subject string, handler func([]byte)) (io.Closer, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	sub, err := b.router.subscribe(subject, handler)
	if err != nil {
		return nil, err
	}
	sub.onEmpty = b.stopReader
	if err := b.syncReader(subject); err != nil {
		_ = sub.Close()
		return nil, err
	}
	return sub, nil
}

// syncReader runs or cancels the subject's reader so that one runs exactly
// while the router has subscribers for it. Calls are serialised and follow
// every router change, so the last one applies the final state.
func (b *Libp2pBus) syncReader(subject string) error {
	b.readerMu.Lock()
	defer b.readerMu.Unlock()
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.Lock()
	cancel, running := b.readers[subject]
	b.mu.Unlock()
	want := b.router.has(subject)

	switch {
	case want && !running:
		return b.startReader(subject)
	case !want && running:
		b.mu.Lock()
		delete(b.readers, subject)
		b.mu.Unlock()
		cancel()
	}
	return nil
}

func (b *Libp2pBus) stopReader(subject string) { _ = b.syncReader(subject) }

func (b *Libp2pBus) startReader(subject string) error {
	t, err := b.getOrJoinTopic(subject)
	if err != nil {
		return err
	}
	ps, err := t.Subscribe()
	if err != nil {
		return fmt.Errorf("subscribe topic %s: %w", subject, err)
	}

	ctx, cancel := context.WithCancel(b.ctx)
	b.mu.Lock()
	b.readers[subject] = cancel
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer ps.Cancel()
		for {
			msg, err := ps.Next(ctx)
			if err != nil {
				return
			}
			b.router.route(subject, msg.Data)
		}
	}()
	return nil
}

func (b *Libp2pBus) Close() error {
	b.readerMu.Lock()
	already := b.closed.Swap(true)
	b.readerMu.Unlock()
	if already {
		return nil
	}

	if b.mdns != nil {
		if err := b.mdns.Close(); err != nil {
			b.logger.Debugf("mdns close: %v", err)
		}
	}
	b.cancel()
	b.wg.Wait()
	b.router.reset()
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range b.topics {
		_ = t.Close()
	}
	return b.host.Close()
}

func (b *Libp2pBus) PeerID() string {
	return b.host.ID().String()
}

func (b *Libp2pBus) ListenAddrs() []string {
	out := make([]string, 0, len(b.host.Addrs()))
	for _, addr := range b.host.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", addr.String(), b.host.ID().String()))
	}
	return out
}

func (b *Libp2pBus) ConnectedPeers() []string {
	peers := b.host.Network().Peers()
	out := make([]string, 0, len(peers))
	for _, pid := range peers {
		out = append(out, pid.String())
	}
	return out
}

func (b *Libp2pBus) getOrJoinTopic(name string) (*pubsub.Topic, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[name]; ok {
		return t, nil
	}
	t, err := b.ps.Join(name)
	if err != nil {
		return nil, fmt.Errorf("join topic %s: %w", name, err)
	}
	b.topics[name] = t
	return t, nil
}

type mdnsNotifee struct {
	host   host.Host
	logger logging.Logger
}

func (n *mdnsNotifee) HandlePeerFound(info peer.AddrInfo) {
	if err := n.host.Connect(context.Background(), info); err != nil {
		n.logger.Warnf("mdns connect failed %s: %v", info.ID, err)
	}
}

func loadOrCreateIdentityKey(path string) (crypto.PrivKey, error) {
	if b, err := os.ReadFile(path); err == nil && len(b) > 0 {
		key, err := crypto.UnmarshalPrivateKey(b)
		if err != nil {
			return nil, fmt.Errorf("unmarshal private key: %w", err)
		}
		return key, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir key dir: %w", err)
	}
	key, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	raw, err := crypto.MarshalPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return nil, fmt.Errorf("write private key: %w", err)
	}
	return key, nil
}
