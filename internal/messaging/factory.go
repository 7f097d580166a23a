package messaging

import (
	"context"
	"fmt"

	"dqmnet/internal/config"
	"dqmnet/internal/logging"
	"dqmnet/internal/metrics"
)

// New creates the bus selected by cfg.Kind. ctx bounds the lifetime of
// transports that run background work (libp2p).
func New(ctx context.Context, cfg config.TransportConfig, logger logging.Logger, m metrics.Provider) (Bus, error) {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	switch cfg.Kind {
	case config.TransportMemory, "":
		return NewMemoryBus(logger, m), nil

	case config.TransportNATS:
		opts := NATSOptions(cfg.NATS.Name, cfg.NATS.ReconnectWait, cfg.NATS.MaxReconnects, logger)
		bus, err := NewNATSBus(cfg.NATS.URL, opts...)
		if err != nil {
			return nil, err
		}
		bus.logger = logger
		return bus, nil

	case config.TransportGossip:
		g := cfg.Gossip
		return NewGossipBus(GossipConfig{
			NodeName:       g.NodeName,
			BindAddress:    g.BindAddress,
			BindPort:       g.BindPort,
			AdvertiseAddr:  g.AdvertiseAddr,
			AdvertisePort:  g.AdvertisePort,
			Seeds:          g.Seeds,
			GossipInterval: g.GossipInterval,
			ProbeInterval:  g.ProbeInterval,
		}, logger, m)

	case config.TransportLibp2p:
		p := cfg.Libp2p
		return NewLibp2pBus(ctx, Libp2pOptions{
			ListenAddrs:     p.ListenAddrs,
			Bootstrap:       p.Bootstrap,
			Rendezvous:      p.Rendezvous,
			EnableMDNS:      p.EnableMDNS,
			IdentityKeyFile: p.IdentityKeyFile,
		}, logger, m)

	case config.TransportSpool:
		return NewSpoolBus(cfg.Spool.Dir, logger, m)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, cfg.Kind)
	}
}
