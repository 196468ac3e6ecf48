package mcdump

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/pior/mcdump/internal/bytesize"
	"github.com/pior/mcdump/notify"
	"github.com/pior/mcdump/storage"
)

// UnboundedPending is the PendingLimit that holds the whole listing before
// fetching.
const UnboundedPending = -1

// MinChunkSize fits the largest item memcached stores by default (1MiB) with
// its VALUE header.
const MinChunkSize = bytesize.MiB + 512

// Config is built once per dump and shared by every component.
type Config struct {
	// RequestID tags the data files and completion messages of this dump.
	// Default: a random UUID
	RequestID string `mapstructure:"request_id" yaml:"request_id"`

	// OutputDir receives the staging/ and final/ data file directories.
	OutputDir string `mapstructure:"output_dir" validate:"required" yaml:"output_dir"`

	// Hosts are the memcached servers dumped by this process (ip:port).
	Hosts []string `mapstructure:"hosts" validate:"dive,hostname_port" yaml:"hosts"`

	// AllHosts is the whole cluster, used to partition keys between dumpers.
	// Default: Hosts
	AllHosts []string `mapstructure:"all_hosts" validate:"dive,hostname_port" yaml:"all_hosts"`

	// HostsFile and AllHostsFile list one ip:port per line. They are appended
	// to Hosts and AllHosts.
	HostsFile    string `mapstructure:"hosts_file" yaml:"hosts_file,omitempty"`
	AllHostsFile string `mapstructure:"all_hosts_file" yaml:"all_hosts_file,omitempty"`

	// BatchSize is the number of keys per fetch round.
	BatchSize int `mapstructure:"batch_size" validate:"gte=1,lte=10000" yaml:"batch_size"`

	// MaxDataFileSize is the size at which a data file is finalized.
	MaxDataFileSize bytesize.ByteSize `mapstructure:"max_data_file_size" validate:"gt=0" yaml:"max_data_file_size"`

	// ExpiryThreshold skips keys expiring within this delay.
	ExpiryThreshold time.Duration `mapstructure:"expiry_threshold" validate:"gte=0" yaml:"expiry_threshold"`

	// FilterBuckets is the number of hash buckets per host of the key filter.
	FilterBuckets int `mapstructure:"filter_buckets" validate:"gte=1" yaml:"filter_buckets"`

	// ChunkSize and ChunkCount size the shared buffer pool.
	ChunkSize  bytesize.ByteSize `mapstructure:"chunk_size" yaml:"chunk_size"`
	ChunkCount int               `mapstructure:"chunk_count" validate:"gte=2" yaml:"chunk_count"`

	// MaxPoolBytes caps the buffer pool. Zero means no limit.
	MaxPoolBytes bytesize.ByteSize `mapstructure:"max_pool_bytes" yaml:"max_pool_bytes"`

	// PendingLimit bounds the keys a worker holds before fetching them.
	// UnboundedPending holds the whole listing. Default: 100000
	PendingLimit int `mapstructure:"pending_limit" validate:"gte=-1" yaml:"pending_limit"`

	// KeyFiles writes the listing lines of the dumped keys of each host to
	// <output_dir>/keys/final. Key files are kept local.
	KeyFiles bool `mapstructure:"key_files" yaml:"key_files"`

	// FetchRate caps fetch rounds per second and per host. Zero means no limit.
	FetchRate float64 `mapstructure:"fetch_rate" validate:"gte=0" yaml:"fetch_rate"`

	DialTimeout time.Duration `mapstructure:"dial_timeout" validate:"gt=0" yaml:"dial_timeout"`
	IOTimeout   time.Duration `mapstructure:"io_timeout" validate:"gt=0" yaml:"io_timeout"`

	// MaxConnsPerHost must leave a connection for fetch rounds while the
	// listing holds one.
	MaxConnsPerHost int32 `mapstructure:"max_conns_per_host" validate:"gte=2" yaml:"max_conns_per_host"`

	Breaker BreakerConfig `mapstructure:"breaker" yaml:"breaker"`

	// Compression of data files: none or zstd.
	Compression string `mapstructure:"compression" validate:"oneof=none zstd" yaml:"compression"`

	S3      S3Config      `mapstructure:"s3" yaml:"s3"`
	Kafka   KafkaConfig   `mapstructure:"kafka" yaml:"kafka"`
	SQS     SQSConfig     `mapstructure:"sqs" yaml:"sqs"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// MetricsAddr serves Prometheus metrics when set.
	MetricsAddr string `mapstructure:"metrics_addr" yaml:"metrics_addr,omitempty"`

	// Logger defaults to slog.Default().
	Logger *slog.Logger `mapstructure:"-" validate:"-" yaml:"-"`

	// Dialer opens server connections. Default: a net.Dialer with DialTimeout.
	Dialer Dialer `mapstructure:"-" validate:"-" yaml:"-"`

	// KeyFilter decides key ownership. Default: a JumpFilter.
	KeyFilter KeyFilter `mapstructure:"-" validate:"-" yaml:"-"`

	// Uploader ships finalized files. Default: S3 when s3.bucket is set,
	// files left in place otherwise.
	Uploader storage.Uploader `mapstructure:"-" validate:"-" yaml:"-"`

	// Notifier announces finalized files. Default: Kafka when kafka.brokers is
	// set, SQS when sqs.queue or sqs.queue_url is set, a log line otherwise.
	Notifier notify.Notifier `mapstructure:"-" validate:"-" yaml:"-"`
}

// Dialer is implemented by net.Dialer.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// BreakerConfig configures the per-host circuit breaker.
type BreakerConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// MaxRequests is the number of operations let through while half-open.
	// A listing nests fetch rounds, so it takes at least 2.
	MaxRequests uint32        `mapstructure:"max_requests" validate:"gte=2" yaml:"max_requests"`
	Interval    time.Duration `mapstructure:"interval" yaml:"interval"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// S3Config enables uploads of finalized data files when Bucket is set.
type S3Config struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	Prefix          string `mapstructure:"prefix" yaml:"prefix"`
	Region          string `mapstructure:"region" yaml:"region"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`
	UsePathStyle    bool   `mapstructure:"use_path_style" yaml:"use_path_style"`
}

// KafkaConfig enables completion messages when Brokers is set.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers" yaml:"brokers,omitempty"`
	Topic   string   `mapstructure:"topic" yaml:"topic,omitempty"`
}

// SQSConfig enables completion messages on an SQS queue when Queue or
// QueueURL is set.
type SQSConfig struct {
	Queue           string `mapstructure:"queue" yaml:"queue,omitempty"`
	QueueURL        string `mapstructure:"queue_url" yaml:"queue_url,omitempty"`
	CreateQueue     bool   `mapstructure:"create_queue" yaml:"create_queue,omitempty"`
	Region          string `mapstructure:"region" yaml:"region,omitempty"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`
}

func (c SQSConfig) enabled() bool {
	return c.Queue != "" || c.QueueURL != ""
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=DEBUG INFO WARN ERROR" yaml:"level"`
	Format string `mapstructure:"format" validate:"oneof=text json" yaml:"format"`
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	config := &Config{OutputDir: "./dump"}
	config.ApplyDefaults()
	return config
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	if c.RequestID == "" {
		c.RequestID = uuid.NewString()
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxDataFileSize == 0 {
		c.MaxDataFileSize = 64 * bytesize.MiB
	}
	if c.FilterBuckets == 0 {
		c.FilterBuckets = 160
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = 2 * bytesize.MiB
	}
	if c.ChunkCount == 0 {
		c.ChunkCount = 64
	}
	if c.PendingLimit == 0 {
		c.PendingLimit = 100_000
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.IOTimeout == 0 {
		c.IOTimeout = 30 * time.Second
	}
	if c.MaxConnsPerHost == 0 {
		c.MaxConnsPerHost = 2
	}
	if c.Breaker.MaxRequests == 0 {
		c.Breaker.MaxRequests = 2
	}
	if c.Breaker.Interval == 0 {
		c.Breaker.Interval = time.Minute
	}
	if c.Breaker.Timeout == 0 {
		c.Breaker.Timeout = 30 * time.Second
	}
	if c.Compression == "" {
		c.Compression = "none"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "INFO"
	}
	c.Logging.Level = strings.ToUpper(c.Logging.Level)
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// ResolveHosts reads the host files and defaults AllHosts to Hosts.
func (c *Config) ResolveHosts() error {
	if c.HostsFile != "" {
		hosts, err := ReadHostsFile(c.HostsFile)
		if err != nil {
			return err
		}
		c.Hosts = append(c.Hosts, hosts...)
	}
	if c.AllHostsFile != "" {
		hosts, err := ReadHostsFile(c.AllHostsFile)
		if err != nil {
			return err
		}
		c.AllHosts = append(c.AllHosts, hosts...)
	}
	if len(c.AllHosts) == 0 {
		c.AllHosts = c.Hosts
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration once defaults and host files are applied.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("mcdump: invalid config: %w", err)
	}
	if len(c.Hosts) == 0 {
		return fmt.Errorf("mcdump: invalid config: no host to dump")
	}
	if c.ChunkSize < MinChunkSize {
		return fmt.Errorf("mcdump: invalid config: chunk_size %s is below %s", c.ChunkSize, MinChunkSize)
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("mcdump: invalid config: kafka.topic is required with kafka.brokers")
	}
	if len(c.Kafka.Brokers) > 0 && c.SQS.enabled() {
		return fmt.Errorf("mcdump: invalid config: kafka and sqs are exclusive")
	}
	if c.MaxPoolBytes > 0 && c.ChunkSize.Int64()*int64(c.ChunkCount) > c.MaxPoolBytes.Int64() {
		return fmt.Errorf("mcdump: invalid config: %d chunks of %s exceed max_pool_bytes %s", c.ChunkCount, c.ChunkSize, c.MaxPoolBytes)
	}
	return nil
}

func (c *Config) dialer() Dialer {
	if c.Dialer != nil {
		return c.Dialer
	}
	return &net.Dialer{Timeout: c.DialTimeout}
}

func (c *Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// ReadHostsFile reads one ip:port per line, ignoring blank lines and lines
// starting with '#'.
func ReadHostsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mcdump: read hosts file: %w", err)
	}
	defer f.Close()

	var hosts []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		hosts = append(hosts, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("mcdump: read hosts file %s: %w", path, err)
	}
	return hosts, nil
}
