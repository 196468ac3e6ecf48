package mcdump

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pior/mcdump/internal/bytesize"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	config.Hosts = []string{"10.0.0.1:11211"}
	require.NoError(t, config.Validate())

	require.NotEmpty(t, config.RequestID)
	require.Equal(t, DefaultBatchSize, config.BatchSize)
	require.Equal(t, 2*bytesize.MiB, config.ChunkSize)
	require.Equal(t, int32(2), config.MaxConnsPerHost)
	require.Equal(t, uint32(2), config.Breaker.MaxRequests)
	require.Equal(t, "none", config.Compression)
	require.Equal(t, "INFO", config.Logging.Level)
}

func TestConfig_ApplyDefaultsKeepsValues(t *testing.T) {
	config := &Config{
		RequestID: "req",
		BatchSize: 7,
		IOTimeout: time.Second,
		Logging:   LoggingConfig{Level: "debug"},
	}
	config.ApplyDefaults()

	require.Equal(t, "req", config.RequestID)
	require.Equal(t, 7, config.BatchSize)
	require.Equal(t, time.Second, config.IOTimeout)
	require.Equal(t, "DEBUG", config.Logging.Level)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{"no host", func(c *Config) { c.Hosts = nil }, "no host to dump"},
		{"bad host", func(c *Config) { c.Hosts = []string{"nope"} }, "Hosts"},
		{"small chunk", func(c *Config) { c.ChunkSize = bytesize.KiB }, "chunk_size"},
		{"one chunk", func(c *Config) { c.ChunkCount = 1 }, "ChunkCount"},
		{"one connection", func(c *Config) { c.MaxConnsPerHost = 1 }, "MaxConnsPerHost"},
		{"compression", func(c *Config) { c.Compression = "gzip" }, "Compression"},
		{"kafka without topic", func(c *Config) { c.Kafka.Brokers = []string{"k:9092"} }, "kafka.topic"},
		{"pool too small", func(c *Config) { c.MaxPoolBytes = bytesize.MiB }, "max_pool_bytes"},
		{"log level", func(c *Config) { c.Logging.Level = "TRACE" }, "Level"},
		{"pending limit", func(c *Config) { c.PendingLimit = -2 }, "PendingLimit"},
		{"kafka and sqs", func(c *Config) {
			c.Kafka = KafkaConfig{Brokers: []string{"k:9092"}, Topic: "t"}
			c.SQS.Queue = "q"
		}, "exclusive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			config.Hosts = []string{"10.0.0.1:11211"}
			tt.modify(config)

			err := config.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestConfig_PendingLimit(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, 100_000, config.PendingLimit)

	config = &Config{OutputDir: "/tmp", Hosts: []string{"10.0.0.1:11211"}, PendingLimit: UnboundedPending}
	config.ApplyDefaults()
	require.Equal(t, UnboundedPending, config.PendingLimit)
	require.NoError(t, config.Validate())
}

func TestConfig_ResolveHosts(t *testing.T) {
	dir := t.TempDir()
	hostsFile := filepath.Join(dir, "hosts")
	require.NoError(t, os.WriteFile(hostsFile, []byte("10.0.0.2:11211\n"), 0o600))
	allFile := filepath.Join(dir, "all")
	require.NoError(t, os.WriteFile(allFile, []byte("10.0.0.1:11211\n10.0.0.2:11211\n10.0.0.3:11211\n"), 0o600))

	config := &Config{Hosts: []string{"10.0.0.1:11211"}, HostsFile: hostsFile}
	require.NoError(t, config.ResolveHosts())
	require.Equal(t, []string{"10.0.0.1:11211", "10.0.0.2:11211"}, config.Hosts)
	require.Equal(t, config.Hosts, config.AllHosts)

	config = &Config{Hosts: []string{"10.0.0.1:11211"}, AllHostsFile: allFile}
	require.NoError(t, config.ResolveHosts())
	require.Len(t, config.AllHosts, 3)

	config = &Config{HostsFile: filepath.Join(dir, "missing")}
	require.ErrorIs(t, config.ResolveHosts(), os.ErrNotExist)
}

func TestReadHostsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts")
	require.NoError(t, os.WriteFile(path, []byte("# cluster a\n\n 10.0.0.1:11211 \n10.0.0.2:11211\n"), 0o600))

	hosts, err := ReadHostsFile(path)
	require.NoError(t, err)
	require.Equal(t, []string{"10.0.0.1:11211", "10.0.0.2:11211"}, hosts)
}
