package messaging

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/memberlist"

	"dqmnet/internal/logging"
	"dqmnet/internal/metrics"
	"dqmnet/internal/sigslot"
)

const (
	// Frames above this size go point to point over TCP instead of being
	// piggybacked on UDP gossip.
	maxGossipFrame = 1024
	seenFrames     = 4096
)

// GossipConfig configures the gossip layer
type GossipConfig struct {
	NodeName       string
	BindAddress    string
	BindPort       int
	AdvertiseAddr  string
	AdvertisePort  int
	Seeds          []string
	GossipInterval time.Duration
	ProbeInterval  time.Duration
}

// GossipBus publishes over a memberlist cluster. Small frames are gossiped and
// re-gossiped once by every receiver; frame ids keep each node from routing a
// frame twice.
type GossipBus struct {
	config       GossipConfig
	memberlist   atomic.Pointer[memberlist.Memberlist]
	delegate     *gossipDelegate
	router       *router
	logger       logging.Logger
	logWriter    *io.PipeWriter
	shutdownOnce sync.Once
	closed       atomic.Bool

	// Joined and Left fire from memberlist's goroutine on membership changes.
	// Joined also fires for the local node during creation.
	Joined *sigslot.Signal[*memberlist.Node]
	Left   *sigslot.Signal[*memberlist.Node]
}

// NewGossipBus creates the memberlist instance and joins cfg.Seeds.
func NewGossipBus(cfg GossipConfig, logger logging.Logger, m metrics.Provider) (*GossipBus, error) {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if cfg.NodeName == "" {
		cfg.NodeName = uuid.NewString()
	}

	seen, err := lru.New[string, struct{}](seenFrames)
	if err != nil {
		return nil, fmt.Errorf("create frame cache: %w", err)
	}

	g := &GossipBus{
		config: cfg,
		router: newRouter(logger, m),
		logger: logger,
		Joined: sigslot.New[*memberlist.Node](sigslot.WithName("gossip.joined"), sigslot.WithLogger(logger)),
		Left:   sigslot.New[*memberlist.Node](sigslot.WithName("gossip.left"), sigslot.WithLogger(logger)),
	}
	g.delegate = &gossipDelegate{
		nodeID: cfg.NodeName,
		seen:   seen,
		router: g.router,
		logger: logger,
		joined: g.Joined,
		left:   g.Left,
		queue: &memberlist.TransmitLimitedQueue{
			NumNodes:       g.numNodes,
			RetransmitMult: 3,
		},
	}

	mlConfig := memberlist.DefaultLANConfig()
	mlConfig.Name = cfg.NodeName
	if cfg.BindAddress != "" {
		mlConfig.BindAddr = cfg.BindAddress
	}
	mlConfig.BindPort = cfg.BindPort
	if cfg.AdvertiseAddr != "" {
		mlConfig.AdvertiseAddr = cfg.AdvertiseAddr
	}
	if cfg.AdvertisePort > 0 {
		mlConfig.AdvertisePort = cfg.AdvertisePort
	}
	if cfg.GossipInterval > 0 {
		mlConfig.GossipInterval = cfg.GossipInterval
	} else {
		mlConfig.GossipInterval = 200 * time.Millisecond
	}
	if cfg.ProbeInterval > 0 {
		mlConfig.ProbeInterval = cfg.ProbeInterval
	} else {
		mlConfig.ProbeInterval = 1 * time.Second
	}
	mlConfig.Delegate = g.delegate
	mlConfig.Events = g.delegate
	g.logWriter = logging.DebugWriter()
	mlConfig.LogOutput = g.logWriter

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		_ = g.logWriter.Close()
		return nil, fmt.Errorf("create memberlist: %w", err)
	}
	g.memberlist.Store(ml)

	logger.Infof("gossip bus started node=%s bind=%s:%d", cfg.NodeName, mlConfig.BindAddr, ml.LocalNode().Port)

	if len(cfg.Seeds) > 0 {
		if err := g.JoinSeeds(cfg.Seeds); err != nil {
			// the node can still be joined later by a peer
			logger.Warnf("failed to join gossip seeds %v: %v", cfg.Seeds, err)
		}
	}
	return g, nil
}

func (g *GossipBus) numNodes() int {
	if ml := g.memberlist.Load(); ml != nil {
		return ml.NumMembers()
	}
	return 1
}

// JoinSeeds attempts to join the provided seed nodes
func (g *GossipBus) JoinSeeds(seeds []string) error {
	if len(seeds) == 0 {
		return nil
	}
	n, err := g.memberlist.Load().Join(seeds)
	if err != nil {
		return fmt.Errorf("join seeds: %w", err)
	}
	g.logger.Infof("joined gossip cluster via %d of %d seeds", n, len(seeds))
	return nil
}

// Publish routes data to local subscribers, then sends it to the cluster.
func (g *GossipBus) Publish(subject string, data []byte) error {
	if g.closed.Load() {
		return ErrClosed
	}
	if subject == "" {
		return ErrEmptySubject
	}
	g.router.route(subject, append([]byte(nil), data...))

	f := frame{ID: uuid.NewString(), Origin: g.config.NodeName, Subject: subject, Payload: data}
	msg := f.marshal()
	g.delegate.seen.Add(f.ID, struct{}{})
	if len(msg) <= maxGossipFrame {
		g.delegate.queue.QueueBroadcast(&frameBroadcast{msg: msg})
		return nil
	}

	ml := g.memberlist.Load()
	local := ml.LocalNode().Name
	var errs []error
	for _, node := range ml.Members() {
		if node.Name == local {
			continue
		}
		if err := ml.SendReliable(node, msg); err != nil {
			errs = append(errs, fmt.Errorf("send to %s: %w", node.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (g *GossipBus) Subscribe(subject string, handler func([]byte)) (io.Closer, error) {
	if g.closed.Load() {
		return nil, ErrClosed
	}
	sub, err := g.router.subscribe(subject, handler)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Members returns the current list of cluster members
func (g *GossipBus) Members() []*memberlist.Node { return g.memberlist.Load().Members() }

// NumMembers returns the number of cluster members
func (g *GossipBus) NumMembers() int { return g.memberlist.Load().NumMembers() }

// LocalNode returns the local node information
func (g *GossipBus) LocalNode() *memberlist.Node { return g.memberlist.Load().LocalNode() }

// Address returns host:port other nodes can join.
func (g *GossipBus) Address() string { return g.LocalNode().Address() }

// Close leaves the cluster and shuts memberlist down.
func (g *GossipBus) Close() error {
	var shutdownErr error
	g.shutdownOnce.Do(func() {
		g.closed.Store(true)
		ml := g.memberlist.Load()
		if err := ml.Leave(5 * time.Second); err != nil {
			g.logger.Warnf("failed to leave gossip cluster: %v", err)
		}
		if err := ml.Shutdown(); err != nil {
			shutdownErr = fmt.Errorf("shutdown memberlist: %w", err)
		}
		g.router.reset()
		_ = g.logWriter.Close()
		g.logger.Infof("gossip bus node=%s shut down", g.config.NodeName)
	})
	return shutdownErr
}

type frameBroadcast struct{ msg []byte }

func (b *frameBroadcast) Invalidates(memberlist.Broadcast) bool { return false }
func (b *frameBroadcast) Message() []byte                       { return b.msg }
func (b *frameBroadcast) Finished()                             {}

// gossipDelegate implements memberlist.Delegate and memberlist.EventDelegate.
type gossipDelegate struct {
	nodeID string
	queue  *memberlist.TransmitLimitedQueue
	seen   *lru.Cache[string, struct{}]
	router *router
	logger logging.Logger
	joined *sigslot.Signal[*memberlist.Node]
	left   *sigslot.Signal[*memberlist.Node]
}

// NotifyMsg is called from memberlist's goroutine. data is reused after it
// returns.
func (d *gossipDelegate) NotifyMsg(data []byte) {
	f, err := unmarshalFrame(data)
	if err != nil {
		d.logger.Warnf("dropping gossip frame: %v", err)
		return
	}
	if f.Origin == d.nodeID {
		return
	}
	if f.ID != "" {
		if dup, _ := d.seen.ContainsOrAdd(f.ID, struct{}{}); dup {
			return
		}
	}
	if len(data) <= maxGossipFrame {
		d.queue.QueueBroadcast(&frameBroadcast{msg: append([]byte(nil), data...)})
	}
	d.router.route(f.Subject, append([]byte(nil), f.Payload...))
}

func (d *gossipDelegate) GetBroadcasts(overhead, limit int) [][]byte {
	return d.queue.GetBroadcasts(overhead, limit)
}

// NodeMeta carries the node id, clipped to limit.
func (d *gossipDelegate) NodeMeta(limit int) []byte {
	meta := []byte(d.nodeID)
	if len(meta) > limit {
		meta = meta[:limit]
	}
	return meta
}

// Frames are ephemeral; there is no state to exchange.
func (d *gossipDelegate) LocalState(join bool) []byte            { return nil }
func (d *gossipDelegate) MergeRemoteState(buf []byte, join bool) {}

func (d *gossipDelegate) NotifyJoin(node *memberlist.Node) {
	if node == nil {
		return
	}
	d.logger.Infof("node %s joined gossip cluster addr=%s", node.Name, node.Address())
	d.joined.Process(node)
}

func (d *gossipDelegate) NotifyLeave(node *memberlist.Node) {
	if node == nil {
		return
	}
	d.logger.Infof("node %s left gossip cluster addr=%s", node.Name, node.Address())
	d.left.Process(node)
}

func (d *gossipDelegate) NotifyUpdate(node *memberlist.Node) {
	if node == nil {
		return
	}
	d.logger.Debugf("node %s updated addr=%s", node.Name, node.Address())
}
