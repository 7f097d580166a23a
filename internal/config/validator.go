package config

import (
	"fmt"
	"net"
	"os"
	"strings"

	ma "github.com/multiformats/go-multiaddr"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"dqmnet/internal/logging"
)

// ValidationMode determines the strictness of configuration validation
type ValidationMode string

const (
	ValidationModeProduction  ValidationMode = "production"
	ValidationModeDevelopment ValidationMode = "development"
	ValidationModeTest        ValidationMode = "test"
)

// ConfigValidator validates configuration. Errors always fail validation;
// production mode promotes some warnings to errors.
type ConfigValidator struct {
	mode     ValidationMode
	errors   []string
	warnings []string
}

// NewConfigValidator creates a validator whose mode comes from DQMNET_MODE.
func NewConfigValidator() *ConfigValidator {
	mode := ValidationModeDevelopment

	if envMode := os.Getenv("DQMNET_MODE"); envMode != "" {
		switch strings.ToLower(envMode) {
		case "production", "prod":
			mode = ValidationModeProduction
		case "test", "testing":
			mode = ValidationModeTest
		case "development", "dev":
			mode = ValidationModeDevelopment
		}
	}
	return NewConfigValidatorWithMode(mode)
}

func NewConfigValidatorWithMode(mode ValidationMode) *ConfigValidator {
	return &ConfigValidator{
		mode:     mode,
		errors:   []string{},
		warnings: []string{},
	}
}

func (v *ConfigValidator) Mode() ValidationMode { return v.mode }

// Warnings returns the warnings of the last Validate call.
func (v *ConfigValidator) Warnings() []string { return v.warnings }

// Validate checks the configuration for issues
func (v *ConfigValidator) Validate(cfg *AppConfig) error {
	v.errors = []string{}
	v.warnings = []string{}
	if cfg == nil {
		return fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}

	v.validateLog(cfg)
	v.validateTransport(cfg)
	v.validateRelay(cfg)
	v.validateMetrics(cfg)

	if len(v.errors) > 0 {
		return fmt.Errorf("%w:\n%s", ErrInvalidConfig, strings.Join(v.errors, "\n"))
	}

	if len(v.warnings) > 0 && v.mode != ValidationModeTest {
		logging.L().Warnf("Configuration warnings:\n%s", strings.Join(v.warnings, "\n"))
	}
	return nil
}

// strict records msg as an error in production and a warning otherwise.
func (v *ConfigValidator) strict(msg string) {
	if v.mode == ValidationModeProduction {
		v.errors = append(v.errors, msg)
	} else {
		v.warnings = append(v.warnings, msg)
	}
}

func (v *ConfigValidator) validateLog(cfg *AppConfig) {
	if _, err := log.ParseLevel(cfg.Log.Level); err != nil {
		v.warnings = append(v.warnings, fmt.Sprintf("log.level %q is not a level, using info", cfg.Log.Level))
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "", "text", "json":
	default:
		v.warnings = append(v.warnings, fmt.Sprintf("log.format %q is unknown, using text", cfg.Log.Format))
	}
}

func (v *ConfigValidator) validateTransport(cfg *AppConfig) {
	t := cfg.Transport
	switch t.Kind {
	case TransportMemory:
		v.strict("memory transport only delivers within this process")
	case TransportNATS:
		if strings.TrimSpace(t.NATS.URL) == "" {
			v.errors = append(v.errors, "transport.nats.url is required")
		}
	case TransportGossip:
		if t.Gossip.BindPort < 0 || t.Gossip.BindPort > 65535 {
			v.errors = append(v.errors, fmt.Sprintf("transport.gossip.bind_port %d out of range", t.Gossip.BindPort))
		}
		for _, seed := range t.Gossip.Seeds {
			if _, _, err := net.SplitHostPort(seed); err != nil {
				v.errors = append(v.errors, fmt.Sprintf("transport.gossip.seeds: %q is not host:port", seed))
			}
		}
		if len(t.Gossip.Seeds) == 0 {
			v.warnings = append(v.warnings, "no gossip seeds configured, waiting to be joined")
		}
	case TransportLibp2p:
		for _, addr := range t.Libp2p.ListenAddrs {
			if _, err := ma.NewMultiaddr(addr); err != nil {
				v.errors = append(v.errors, fmt.Sprintf("transport.libp2p.listen_addrs: %q: %v", addr, err))
			}
		}
		for _, addr := range t.Libp2p.Bootstrap {
			if _, err := ma.NewMultiaddr(addr); err != nil {
				v.warnings = append(v.warnings, fmt.Sprintf("transport.libp2p.bootstrap: %q will be skipped: %v", addr, err))
			}
		}
		if len(t.Libp2p.Bootstrap) == 0 && !t.Libp2p.EnableMDNS {
			v.warnings = append(v.warnings, "libp2p has neither bootstrap peers nor mdns")
		}
		if t.Libp2p.IdentityKeyFile == "" {
			v.strict("libp2p identity is ephemeral; set transport.libp2p.identity_key_file")
		}
	case TransportSpool:
		if strings.TrimSpace(t.Spool.Dir) == "" {
			v.errors = append(v.errors, "transport.spool.dir is required")
		}
	default:
		v.errors = append(v.errors, fmt.Sprintf("transport.kind %q is not one of memory, nats, gossip, libp2p, spool", t.Kind))
	}
}

func (v *ConfigValidator) validateRelay(cfg *AppConfig) {
	r := cfg.Relay
	if len(r.Subjects) == 0 {
		v.errors = append(v.errors, "relay.subjects is empty")
	}
	if cfg.Transport.Kind == TransportSpool {
		for _, s := range r.Subjects {
			if strings.ContainsAny(s, `/\`) || strings.HasPrefix(s, ".") {
				v.errors = append(v.errors, fmt.Sprintf("relay.subjects: %q cannot name a spool directory", s))
			}
		}
	}
	switch {
	case r.DedupeTTL < 0:
		v.errors = append(v.errors, "relay.dedupe_ttl must not be negative")
	case r.DedupeTTL == 0:
		v.strict("duplicate suppression is disabled (relay.dedupe_ttl=0)")
	case r.DedupeMax <= 0:
		v.errors = append(v.errors, "relay.dedupe_max must be positive when dedupe_ttl is set")
	}
}

func (v *ConfigValidator) validateMetrics(cfg *AppConfig) {
	if cfg.Metrics.Enabled && strings.TrimSpace(cfg.Metrics.ListenAddr) == "" {
		v.errors = append(v.errors, "metrics.listen_addr is required when metrics are enabled")
	}
	if !cfg.Metrics.Enabled && v.mode == ValidationModeProduction {
		v.warnings = append(v.warnings, "metrics are disabled")
	}
}

// ValidateProductionReadiness performs strict validation for production deployments
func ValidateProductionReadiness(cfg *AppConfig) error {
	return NewConfigValidatorWithMode(ValidationModeProduction).Validate(cfg)
}

// Summary renders the effective configuration as YAML.
func Summary(cfg *AppConfig) (string, error) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("render config: %w", err)
	}
	return string(out), nil
}

// PrintConfigurationSummary logs the settings that matter at startup.
func PrintConfigurationSummary(cfg *AppConfig, logger logging.Logger) {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	logger.Infof("transport: %s", cfg.Transport.Kind)
	logger.Infof("subjects: %s", strings.Join(cfg.Relay.Subjects, ", "))
	if cfg.Relay.DedupeTTL > 0 {
		logger.Infof("dedupe: ttl=%s max=%d", cfg.Relay.DedupeTTL, cfg.Relay.DedupeMax)
	} else {
		logger.Infof("dedupe: disabled")
	}
	logger.Infof("copy payloads: %v", cfg.Relay.CopyPayloads)
	if cfg.Metrics.Enabled {
		logger.Infof("metrics: %s", cfg.Metrics.ListenAddr)
	} else {
		logger.Infof("metrics: disabled")
	}
}
