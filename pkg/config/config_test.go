package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	cfg, err := Load("testdata/config.yml")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Values from file
	assert.Equal(t, BackendUpstream, cfg.Resolver.Backend)
	assert.Equal(t, []string{"9.9.9.9:53"}, cfg.Resolver.Upstreams)
	assert.Equal(t, 750*time.Millisecond, cfg.Resolver.Timeout)
	assert.True(t, cfg.Server.Enabled)
	assert.Equal(t, ":5353", cfg.Server.ListenAddress)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	// Defaults
	assert.Equal(t, 30*time.Second, cfg.Resolver.ExchangeTimeout)
	assert.True(t, cfg.Server.UDPEnabled)
	assert.True(t, cfg.Server.TCPEnabled)
	assert.Equal(t, uint32(60), cfg.Server.AnswerTTL)
	assert.Equal(t, "stderr", cfg.Logging.Output)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestLoadWithDefaults(t *testing.T) {
	cfg := LoadWithDefaults()
	require.NotNil(t, cfg)

	assert.Equal(t, BackendSystem, cfg.Resolver.Backend)
	assert.Empty(t, cfg.Resolver.Upstreams)
	assert.Equal(t, 5*time.Second, cfg.Resolver.Timeout)
	assert.Equal(t, "127.0.0.1:5353", cfg.Server.ListenAddress)
	assert.False(t, cfg.API.Enabled)
	assert.Equal(t, "127.0.0.1:8080", cfg.API.ListenAddress)
	assert.Equal(t, 1000, cfg.Storage.BufferSize)
	assert.Equal(t, 100, cfg.Storage.BatchSize)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "gaiwait", cfg.Telemetry.ServiceName)
	assert.NoError(t, cfg.Validate())
}

func TestParseUpstreamDefaults(t *testing.T) {
	cfg, err := Parse([]byte("resolver:\n  backend: upstream\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"1.1.1.1:53", "8.8.8.8:53"}, cfg.Resolver.Upstreams)
}

func TestParseInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("resolver: [unterminated"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "defaults",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Resolver.Backend = "carrier-pigeon" },
			wantErr: true,
		},
		{
			name: "upstream backend without upstreams",
			mutate: func(c *Config) {
				c.Resolver.Backend = BackendUpstream
				c.Resolver.Upstreams = nil
			},
			wantErr: true,
		},
		{
			name:    "negative timeout",
			mutate:  func(c *Config) { c.Resolver.Timeout = -time.Second },
			wantErr: true,
		},
		{
			name: "batch larger than buffer",
			mutate: func(c *Config) {
				c.Storage.Enabled = true
				c.Storage.BatchSize = 2000
			},
			wantErr: true,
		},
		{
			name: "api without address",
			mutate: func(c *Config) {
				c.API.Enabled = true
				c.API.ListenAddress = ""
			},
			wantErr: true,
		},
		{
			name:    "invalid level",
			mutate:  func(c *Config) { c.Logging.Level = "trace" },
			wantErr: true,
		},
		{
			name:    "invalid format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: true,
		},
		{
			name:    "invalid output",
			mutate:  func(c *Config) { c.Logging.Output = "syslog" },
			wantErr: true,
		},
		{
			name:    "file output without path",
			mutate:  func(c *Config) { c.Logging.Output = "file" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := LoadWithDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}
