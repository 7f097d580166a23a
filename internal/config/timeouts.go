package config

import "time"

// TimeoutConfig holds process-wide timeouts
type TimeoutConfig struct {
	// Shutdown bounds graceful shutdown of the relay process.
	Shutdown time.Duration `mapstructure:"shutdown" yaml:"shutdown"`
	// NATSFlush bounds the flush of pending publishes before close.
	NATSFlush time.Duration `mapstructure:"nats_flush" yaml:"nats_flush"`
}

// DefaultTimeoutConfig returns default timeout configurations
func DefaultTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		Shutdown:  10 * time.Second,
		NATSFlush: 2 * time.Second,
	}
}

// Transport and relay defaults.
const (
	DefaultNATSReconnectWait = 2 * time.Second
	DefaultGossipInterval    = 200 * time.Millisecond
	DefaultProbeInterval     = 1 * time.Second
	DefaultDedupeTTL         = 30 * time.Second
	DefaultDedupeMax         = 10000
)
