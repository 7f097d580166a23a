package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Transport kinds.
const (
	TransportMemory = "memory"
	TransportNATS   = "nats"
	TransportGossip = "gossip"
	TransportLibp2p = "libp2p"
	TransportSpool  = "spool"
)

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // text | json
}

type NATSConfig struct {
	URL           string        `mapstructure:"url" yaml:"url"`
	Name          string        `mapstructure:"name" yaml:"name"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait" yaml:"reconnect_wait"`
	MaxReconnects int           `mapstructure:"max_reconnects" yaml:"max_reconnects"`
}

// GossipConfig represents memberlist gossip configuration
type GossipConfig struct {
	NodeName       string        `mapstructure:"node_name" yaml:"node_name"`
	BindAddress    string        `mapstructure:"bind_address" yaml:"bind_address"`
	BindPort       int           `mapstructure:"bind_port" yaml:"bind_port"`
	AdvertiseAddr  string        `mapstructure:"advertise_addr" yaml:"advertise_addr"`
	AdvertisePort  int           `mapstructure:"advertise_port" yaml:"advertise_port"`
	Seeds          []string      `mapstructure:"seeds" yaml:"seeds"`
	GossipInterval time.Duration `mapstructure:"gossip_interval" yaml:"gossip_interval"`
	ProbeInterval  time.Duration `mapstructure:"probe_interval" yaml:"probe_interval"`
}

type Libp2pConfig struct {
	ListenAddrs     []string `mapstructure:"listen_addrs" yaml:"listen_addrs"`
	Bootstrap       []string `mapstructure:"bootstrap" yaml:"bootstrap"`
	Rendezvous      string   `mapstructure:"rendezvous" yaml:"rendezvous"`
	EnableMDNS      bool     `mapstructure:"enable_mdns" yaml:"enable_mdns"`
	IdentityKeyFile string   `mapstructure:"identity_key_file" yaml:"identity_key_file"`
}

type SpoolConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// TransportConfig selects and configures the message bus.
type TransportConfig struct {
	Kind   string       `mapstructure:"kind" yaml:"kind"`
	NATS   NATSConfig   `mapstructure:"nats" yaml:"nats"`
	Gossip GossipConfig `mapstructure:"gossip" yaml:"gossip"`
	Libp2p Libp2pConfig `mapstructure:"libp2p" yaml:"libp2p"`
	Spool  SpoolConfig  `mapstructure:"spool" yaml:"spool"`
}

type RelayConfig struct {
	Subjects []string `mapstructure:"subjects" yaml:"subjects"`
	// DedupeTTL of zero disables duplicate suppression.
	DedupeTTL    time.Duration `mapstructure:"dedupe_ttl" yaml:"dedupe_ttl"`
	DedupeMax    int           `mapstructure:"dedupe_max" yaml:"dedupe_max"`
	CopyPayloads bool          `mapstructure:"copy_payloads" yaml:"copy_payloads"`
}

type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"` // e.g., 0.0.0.0:9095
}

type AppConfig struct {
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Transport TransportConfig `mapstructure:"transport" yaml:"transport"`
	Relay     RelayConfig     `mapstructure:"relay" yaml:"relay"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Timeouts  TimeoutConfig   `mapstructure:"timeouts" yaml:"timeouts"`
}

func setDefaults(v *viper.Viper) {
	t := DefaultTimeoutConfig()
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("transport.kind", TransportMemory)
	v.SetDefault("transport.nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("transport.nats.name", "dqmnet-relay")
	v.SetDefault("transport.nats.reconnect_wait", DefaultNATSReconnectWait)
	v.SetDefault("transport.nats.max_reconnects", -1)
	v.SetDefault("transport.gossip.node_name", "")
	v.SetDefault("transport.gossip.bind_address", "0.0.0.0")
	v.SetDefault("transport.gossip.bind_port", 7946)
	v.SetDefault("transport.gossip.advertise_addr", "")
	v.SetDefault("transport.gossip.advertise_port", 0)
	v.SetDefault("transport.gossip.seeds", []string{})
	v.SetDefault("transport.gossip.gossip_interval", DefaultGossipInterval)
	v.SetDefault("transport.gossip.probe_interval", DefaultProbeInterval)
	v.SetDefault("transport.libp2p.listen_addrs", []string{"/ip4/0.0.0.0/tcp/0"})
	v.SetDefault("transport.libp2p.bootstrap", []string{})
	v.SetDefault("transport.libp2p.rendezvous", "dqmnet")
	v.SetDefault("transport.libp2p.enable_mdns", false)
	v.SetDefault("transport.libp2p.identity_key_file", "")
	v.SetDefault("transport.spool.dir", "./spool")
	v.SetDefault("relay.subjects", []string{})
	v.SetDefault("relay.dedupe_ttl", DefaultDedupeTTL)
	v.SetDefault("relay.dedupe_max", DefaultDedupeMax)
	v.SetDefault("relay.copy_payloads", false)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9095")
	v.SetDefault("timeouts.shutdown", t.Shutdown)
	v.SetDefault("timeouts.nats_flush", t.NATSFlush)
}

// Override adjusts a loaded configuration before it is validated, e.g. from
// command line flags.
type Override func(*AppConfig)

// Load reads path (YAML) over the defaults; an empty path uses defaults only.
// Environment variables prefixed with DQMNET_ override both, e.g.
// DQMNET_TRANSPORT_KIND=nats. overrides run last.
func Load(path string, overrides ...Override) (*AppConfig, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("DQMNET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	for _, o := range overrides {
		if o != nil {
			o(&cfg)
		}
	}
	cfg.normalize()

	validator := NewConfigValidator()
	if err := validator.Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) normalize() {
	c.Transport.Kind = strings.ToLower(strings.TrimSpace(c.Transport.Kind))
	c.Relay.Subjects = SplitList(c.Relay.Subjects...)
	c.Transport.Gossip.Seeds = SplitList(c.Transport.Gossip.Seeds...)
	c.Transport.Libp2p.Bootstrap = SplitList(c.Transport.Libp2p.Bootstrap...)
	if c.Relay.DedupeMax < 0 {
		c.Relay.DedupeMax = 0
	}
}

// SplitList flattens comma separated entries, trimming blanks. Environment
// variables deliver lists as one comma separated string.
func SplitList(items ...string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
