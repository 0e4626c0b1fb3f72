package meta

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"overdns/internal/log"
	"overdns/internal/network"
)

// ApplicationConfig is a top-level block for application-level meta configuration.
type ApplicationConfig struct {
	SentryDSN string `yaml:"sentry_dsn"`
}

// LogConfig is a top-level block for logging configuration.
type LogConfig struct {
	Format       log.Format `yaml:"format"`
	NoMatchLevel *log.Level `yaml:"no_match_level"`
}

// RulesConfig is a top-level block for the rule table.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// StatsdConfig describes a statsd metrics sink.
type StatsdConfig struct {
	Address    string  `yaml:"addr"`
	SampleRate float32 `yaml:"sample_rate"`
}

// PrometheusConfig describes an HTTP endpoint exposing Prometheus metrics.
type PrometheusConfig struct {
	Address string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// MetricsConfig is a top-level block for metrics configuration.
type MetricsConfig struct {
	Statsd     *StatsdConfig     `yaml:"statsd"`
	Prometheus *PrometheusConfig `yaml:"prometheus"`
}

// UDPListenerConfig describes the UDP listener.
type UDPListenerConfig struct {
	Address            string `yaml:"addr"`
	MaxForwardSessions int64  `yaml:"max_forward_sessions"`
	BufferSize         int    `yaml:"buffer_size"`
}

// ListenerConfig is a top-level block for server listener configuration.
type ListenerConfig struct {
	UDP *UDPListenerConfig `yaml:"udp"`
}

// UpstreamServer describes parameters for a single upstream server.
type UpstreamServer struct {
	Address        string        `yaml:"addr"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// UpstreamConfig is a top-level block for upstream configuration.
type UpstreamConfig struct {
	LoadBalancingPolicy string           `yaml:"load_balancing_policy"`
	Servers             []UpstreamServer `yaml:"servers"`
}

// Config describes all application configuration options.
type Config struct {
	Application *ApplicationConfig `yaml:"application"`
	Log         *LogConfig         `yaml:"log"`
	Rules       *RulesConfig       `yaml:"rules"`
	Metrics     *MetricsConfig     `yaml:"metrics"`
	Listener    *ListenerConfig    `yaml:"listener"`
	Upstream    *UpstreamConfig    `yaml:"upstream"`
}

// ParseConfig parses a Config struct instance from a file specified as a path on disk.
func ParseConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: error reading config: err=%v", err)
	}

	return DecodeConfig(data)
}

// DecodeConfig parses, defaults, and validates a Config from its YAML representation.
func DecodeConfig(data []byte) (*Config, error) {
	var cfg *Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: error parsing config: err=%v", err)
	}

	if cfg == nil {
		cfg = &Config{}
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadBalancingPolicy returns the configured upstream load balancing policy.
func (c *Config) LoadBalancingPolicy() network.LoadBalancingPolicy {
	policy, _ := network.ParseLoadBalancingPolicy(c.Upstream.LoadBalancingPolicy)

	return policy
}

// applyDefaults fills in optional blocks and values that were omitted.
func (c *Config) applyDefaults() {
	if c.Log == nil {
		c.Log = &LogConfig{}
	}

	if c.Log.Format == "" {
		c.Log.Format = log.Console
	}

	if c.Log.NoMatchLevel == nil {
		level := log.Error
		c.Log.NoMatchLevel = &level
	}

	if c.Listener == nil {
		c.Listener = &ListenerConfig{}
	}

	if c.Listener.UDP == nil {
		c.Listener.UDP = &UDPListenerConfig{}
	}

	if c.Listener.UDP.Address == "" {
		c.Listener.UDP.Address = ":53"
	}

	if c.Listener.UDP.MaxForwardSessions == 0 {
		c.Listener.UDP.MaxForwardSessions = 1024
	}

	if c.Listener.UDP.BufferSize == 0 {
		c.Listener.UDP.BufferSize = 65535
	}

	if c.Upstream != nil && c.Upstream.LoadBalancingPolicy == "" {
		c.Upstream.LoadBalancingPolicy = network.RoundRobin.String()
	}

	for idx := range c.upstreamServers() {
		if c.Upstream.Servers[idx].ReadTimeout == 0 {
			c.Upstream.Servers[idx].ReadTimeout = 5 * time.Second
		}
	}

	if c.Metrics != nil && c.Metrics.Prometheus != nil && c.Metrics.Prometheus.Path == "" {
		c.Metrics.Prometheus.Path = "/metrics"
	}
}

// validate the contents of the configuration. Every problem found is reported in the returned
// error; nil is returned if the configuration is valid.
func (c *Config) validate() error {
	var err error

	/* Log */

	switch c.Log.Format {
	case log.Console, log.JSON:
	default:
		err = multierr.Append(err, fmt.Errorf("config: unknown log format: format=%s", c.Log.Format))
	}

	/* Rules */

	if c.Rules == nil || c.Rules.Path == "" {
		err = multierr.Append(err, fmt.Errorf("config: missing rules file path"))
	}

	/* Metrics */

	// Users can omit the metrics block entirely to disable metrics reporting.
	if c.Metrics != nil && c.Metrics.Statsd != nil {
		if c.Metrics.Statsd.Address == "" {
			err = multierr.Append(err, fmt.Errorf("config: missing metrics statsd address"))
		}

		if c.Metrics.Statsd.SampleRate < 0 || c.Metrics.Statsd.SampleRate > 1 {
			err = multierr.Append(err, fmt.Errorf(
				"config: statsd sample rate must be in range [0.0, 1.0]: sample_rate=%v",
				c.Metrics.Statsd.SampleRate,
			))
		}
	}

	if c.Metrics != nil && c.Metrics.Prometheus != nil && c.Metrics.Prometheus.Address == "" {
		err = multierr.Append(err, fmt.Errorf("config: missing metrics prometheus address"))
	}

	/* Listener */

	if c.Listener.UDP.MaxForwardSessions < 0 {
		err = multierr.Append(err, fmt.Errorf(
			"config: max forward sessions must be positive: max_forward_sessions=%d",
			c.Listener.UDP.MaxForwardSessions,
		))
	}

	if c.Listener.UDP.BufferSize < 0 || c.Listener.UDP.BufferSize > 65535 {
		err = multierr.Append(err, fmt.Errorf(
			"config: UDP buffer size must be in range [1, 65535]: buffer_size=%d",
			c.Listener.UDP.BufferSize,
		))
	}

	/* Upstream */

	if c.Upstream == nil {
		return multierr.Append(err, fmt.Errorf("config: missing top-level upstream config key"))
	}

	if _, ok := network.ParseLoadBalancingPolicy(c.Upstream.LoadBalancingPolicy); !ok {
		err = multierr.Append(err, fmt.Errorf(
			"config: unknown load balancing policy: policy=%s",
			c.Upstream.LoadBalancingPolicy,
		))
	}

	if len(c.Upstream.Servers) == 0 {
		err = multierr.Append(err, fmt.Errorf("config: no upstream servers specified"))
	}

	for idx, server := range c.Upstream.Servers {
		if _, addrErr := network.NormalizeAddr(server.Address); addrErr != nil {
			err = multierr.Append(err, fmt.Errorf("config: invalid server address: idx=%d err=%v", idx, addrErr))
		}

		if server.ConnectTimeout < 0 || server.ReadTimeout < 0 || server.WriteTimeout < 0 {
			err = multierr.Append(err, fmt.Errorf("config: negative server timeout: idx=%d", idx))
		}
	}

	return err
}

// upstreamServers returns the configured upstream servers, if any.
func (c *Config) upstreamServers() []UpstreamServer {
	if c.Upstream == nil {
		return nil
	}

	return c.Upstream.Servers
}
