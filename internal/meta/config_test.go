package meta

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"overdns/internal/log"
	"overdns/internal/network"
)

const fullConfig = `
application:
  sentry_dsn: https://key@sentry.example/1
log:
  format: json
  no_match_level: info
rules:
  path: /etc/overdns/rules.txt
listener:
  udp:
    addr: 127.0.0.1:5353
    max_forward_sessions: 64
    buffer_size: 4096
upstream:
  load_balancing_policy: historical_sessions
  servers:
    - addr: 8.8.8.8:53
      connect_timeout: 1s
      write_timeout: 2s
      read_timeout: 3s
    - addr: 1.1.1.1
metrics:
  statsd:
    addr: 127.0.0.1:8125
    sample_rate: 0.5
  prometheus:
    addr: 127.0.0.1:9153
`

func TestDecodeConfig(t *testing.T) {
	cfg, err := DecodeConfig([]byte(fullConfig))
	require.NoError(t, err)

	assert.Equal(t, "https://key@sentry.example/1", cfg.Application.SentryDSN)
	assert.Equal(t, log.JSON, cfg.Log.Format)
	assert.Equal(t, log.Info, *cfg.Log.NoMatchLevel)
	assert.Equal(t, "/etc/overdns/rules.txt", cfg.Rules.Path)

	assert.Equal(t, "127.0.0.1:5353", cfg.Listener.UDP.Address)
	assert.Equal(t, int64(64), cfg.Listener.UDP.MaxForwardSessions)
	assert.Equal(t, 4096, cfg.Listener.UDP.BufferSize)

	assert.Equal(t, network.HistoricalSessions, cfg.LoadBalancingPolicy())
	require.Len(t, cfg.Upstream.Servers, 2)
	assert.Equal(t, UpstreamServer{
		Address:        "8.8.8.8:53",
		ConnectTimeout: time.Second,
		WriteTimeout:   2 * time.Second,
		ReadTimeout:    3 * time.Second,
	}, cfg.Upstream.Servers[0])
	assert.Equal(t, 5*time.Second, cfg.Upstream.Servers[1].ReadTimeout)

	assert.Equal(t, float32(0.5), cfg.Metrics.Statsd.SampleRate)
	assert.Equal(t, "/metrics", cfg.Metrics.Prometheus.Path)
}

func TestDecodeConfig_Defaults(t *testing.T) {
	cfg, err := DecodeConfig([]byte(`
rules:
  path: rules.txt
upstream:
  servers:
    - addr: 9.9.9.9
`))
	require.NoError(t, err)

	assert.Nil(t, cfg.Application)
	assert.Nil(t, cfg.Metrics)
	assert.Equal(t, log.Console, cfg.Log.Format)
	assert.Equal(t, log.Error, *cfg.Log.NoMatchLevel)
	assert.Equal(t, ":53", cfg.Listener.UDP.Address)
	assert.Equal(t, int64(1024), cfg.Listener.UDP.MaxForwardSessions)
	assert.Equal(t, 65535, cfg.Listener.UDP.BufferSize)
	assert.Equal(t, network.RoundRobin, cfg.LoadBalancingPolicy())
	assert.Equal(t, 5*time.Second, cfg.Upstream.Servers[0].ReadTimeout)
}

func TestDecodeConfig_AggregatesErrors(t *testing.T) {
	_, err := DecodeConfig([]byte(`
log:
  format: xml
listener:
  udp:
    buffer_size: 100000
upstream:
  load_balancing_policy: failover
  servers:
    - addr: ""
metrics:
  statsd:
    sample_rate: 2
`))
	require.Error(t, err)

	errs := multierr.Errors(err)
	assert.Len(t, errs, 7)

	for _, expected := range []string{
		"unknown log format",
		"missing rules file path",
		"missing metrics statsd address",
		"sample rate",
		"buffer size",
		"unknown load balancing policy",
		"invalid server address",
	} {
		assert.Contains(t, err.Error(), expected)
	}
}

func TestDecodeConfig_MissingUpstream(t *testing.T) {
	_, err := DecodeConfig([]byte("rules:\n  path: rules.txt\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing top-level upstream config key")
}

func TestDecodeConfig_UnknownLevel(t *testing.T) {
	_, err := DecodeConfig([]byte(`
log:
  no_match_level: loud
rules:
  path: rules.txt
upstream:
  servers:
    - addr: 9.9.9.9
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown level")
}

func TestParseConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overdns.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fullConfig), 0o600))

	cfg, err := ParseConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:5353", cfg.Listener.UDP.Address)

	_, err = ParseConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
