package mcdump

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/pior/mcdump/datafile"
	"github.com/pior/mcdump/notify"
	"github.com/pior/mcdump/storage"
)

// PublishedFile is a finalized data file with the URI it was uploaded to.
type PublishedFile struct {
	datafile.File
	URI string
}

// Summary is the outcome of a dump.
type Summary struct {
	RequestID string
	Stats     DumpStats
	Hosts     map[string]DumpStats
	Files     []PublishedFile
}

// Dumper dumps every destination host of a configuration.
type Dumper struct {
	config       *Config
	logger       *slog.Logger
	pool         *BufferPool
	orchestrator *Orchestrator
	uploader     storage.Uploader
	notifier     notify.Notifier

	servers    []*ServerPool
	workers    []*Worker
	writers    []*datafile.Writer
	keyWriters []*datafile.Writer // nil entries without key files

	stats *dumpStatsCollector
	mu    sync.Mutex
	files []PublishedFile
}

// NewDumper preallocates the buffer pool and prepares one worker per host.
// The config must be validated.
func NewDumper(ctx context.Context, config *Config) (*Dumper, error) {
	d := &Dumper{
		config: config,
		logger: config.logger(),
		stats:  newDumpStatsCollector(),
	}

	pool, err := NewBufferPool(BufferPoolConfig{
		ChunkSize: config.ChunkSize.Int(),
		Count:     config.ChunkCount,
		MaxBytes:  config.MaxPoolBytes.Int64(),
	})
	if err != nil {
		return nil, err
	}
	d.pool = pool

	filter := config.KeyFilter
	if filter == nil {
		filter = NewJumpFilter()
	}
	d.orchestrator = NewOrchestrator(config, filter)
	if err := d.orchestrator.InitFilter(config.FilterBuckets, config.Hosts, config.AllHosts); err != nil {
		return nil, err
	}

	if d.uploader, err = newUploader(ctx, config); err != nil {
		return nil, err
	}
	if d.notifier, err = newNotifier(ctx, config); err != nil {
		return nil, err
	}

	for _, host := range config.Hosts {
		server, err := NewServerPool(host, config)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.servers = append(d.servers, server)

		writer, err := datafile.NewWriter(datafile.Config{
			Dir:         config.OutputDir,
			Prefix:      filePrefix(config.RequestID, host),
			Host:        host,
			MaxFileSize: config.MaxDataFileSize.Int64(),
			Compression: config.Compression,
			OnFinalize: func(f datafile.File) error {
				return d.publish(ctx, f)
			},
		})
		if err != nil {
			d.Close()
			return nil, err
		}
		d.writers = append(d.writers, writer)

		worker := NewWorker(config, pool, server, d.orchestrator, writer)
		var keyWriter *datafile.Writer
		if config.KeyFiles {
			keyWriter, err = datafile.NewWriter(datafile.Config{
				Dir:       filepath.Join(config.OutputDir, KeyFilesDir),
				Prefix:    filePrefix(config.RequestID, host),
				Host:      host,
				Extension: KeyFileExtension,
			})
			if err != nil {
				d.Close()
				return nil, err
			}
			worker.SetKeyWriter(keyWriter)
		}
		d.keyWriters = append(d.keyWriters, keyWriter)
		d.workers = append(d.workers, worker)
	}
	return d, nil
}

func newUploader(ctx context.Context, config *Config) (storage.Uploader, error) {
	if config.Uploader != nil {
		return config.Uploader, nil
	}
	if config.S3.Bucket == "" {
		return storage.LocalUploader{}, nil
	}
	return storage.NewS3Uploader(ctx, storage.S3Config{
		Bucket:          config.S3.Bucket,
		Prefix:          config.S3.Prefix,
		Region:          config.S3.Region,
		Endpoint:        config.S3.Endpoint,
		AccessKeyID:     config.S3.AccessKeyID,
		SecretAccessKey: config.S3.SecretAccessKey,
		UsePathStyle:    config.S3.UsePathStyle,
	}, config.RequestID)
}

func newNotifier(ctx context.Context, config *Config) (notify.Notifier, error) {
	switch {
	case config.Notifier != nil:
		return config.Notifier, nil
	case len(config.Kafka.Brokers) > 0:
		return notify.NewKafkaNotifier(config.Kafka.Brokers, config.Kafka.Topic)
	case config.SQS.enabled():
		return notify.NewSQSNotifier(ctx, notify.SQSConfig{
			Queue:           config.SQS.Queue,
			QueueURL:        config.SQS.QueueURL,
			CreateQueue:     config.SQS.CreateQueue,
			Region:          config.SQS.Region,
			Endpoint:        config.SQS.Endpoint,
			AccessKeyID:     config.SQS.AccessKeyID,
			SecretAccessKey: config.SQS.SecretAccessKey,
		})
	default:
		return notify.LogNotifier{Logger: config.logger()}, nil
	}
}

// Key files hold the listing lines of the keys a host dump kept, under
// <output_dir>/keys/final. They are not uploaded.
const (
	KeyFilesDir      = "keys"
	KeyFileExtension = ".keys"
)

// filePrefix names the data files of a host, e.g. "req_10.0.0.1_11211".
func filePrefix(requestID, host string) string {
	return requestID + "_" + strings.NewReplacer(":", "_", "/", "_", "[", "", "]", "").Replace(host)
}

// Run dumps every host. A failing host does not stop the others: the
// returned error joins the failure of every host.
//
// At most half as many hosts as pooled buffers run at once, since a worker
// holds a listing buffer and a fetch buffer.
func (d *Dumper) Run(ctx context.Context) (Summary, error) {
	d.logger.Info("dump started", "request_id", d.config.RequestID, "hosts", len(d.workers))

	var g errgroup.Group
	g.SetLimit(max(1, d.config.ChunkCount/2))

	errs := make([]error, len(d.workers))
	for i, w := range d.workers {
		g.Go(func() error {
			errs[i] = d.runWorker(ctx, w, d.writers[i], d.keyWriters[i])
			return nil
		})
	}
	_ = g.Wait()

	err := errors.Join(errs...)
	summary := d.Summary()
	d.logger.Info("dump finished",
		"request_id", d.config.RequestID,
		"keys_dumped", summary.Stats.KeysDumped,
		"files", len(summary.Files),
		"error", err)
	return summary, err
}

func (d *Dumper) runWorker(ctx context.Context, w *Worker, writer, keyWriter *datafile.Writer) error {
	if err := w.Run(ctx); err != nil {
		d.logger.Error("dump failed", "host", w.Host(), "error", err)
		for _, wr := range []*datafile.Writer{writer, keyWriter} {
			if wr == nil {
				continue
			}
			if abortErr := wr.Abort(); abortErr != nil {
				d.logger.Warn("failed to remove staging file", "host", w.Host(), "error", abortErr)
			}
		}
		return err
	}
	if err := writer.Close(); err != nil {
		return &HostError{Host: w.Host(), Op: "finalize", Err: err}
	}
	if keyWriter != nil {
		if err := keyWriter.Close(); err != nil {
			return &HostError{Host: w.Host(), Op: "finalize", Err: err}
		}
	}
	return nil
}

// publish uploads a finalized file and announces it.
func (d *Dumper) publish(ctx context.Context, f datafile.File) error {
	uri, err := d.uploader.Upload(ctx, f.Path)
	if err != nil {
		return err
	}

	err = d.notifier.Notify(ctx, notify.Completion{
		RequestID:  d.config.RequestID,
		Host:       f.Host,
		URI:        uri,
		KeysCount:  f.Records,
		DumpFormat: notify.DumpFormat,
	})
	if err != nil {
		return fmt.Errorf("announce %s: %w", f.Name, err)
	}

	d.stats.recordFile()
	d.mu.Lock()
	d.files = append(d.files, PublishedFile{File: f, URI: uri})
	d.mu.Unlock()
	return nil
}

// Stats returns the progress of the dump so far.
func (d *Dumper) Stats() DumpStats {
	total := d.stats.snapshot()
	for _, w := range d.workers {
		total = total.Add(w.Stats())
	}
	return total
}

// Summary returns the progress of every host and the files published so far.
func (d *Dumper) Summary() Summary {
	s := Summary{
		RequestID: d.config.RequestID,
		Stats:     d.Stats(),
		Hosts:     make(map[string]DumpStats, len(d.workers)),
	}
	for _, w := range d.workers {
		s.Hosts[w.Host()] = w.Stats()
	}

	d.mu.Lock()
	s.Files = append([]PublishedFile(nil), d.files...)
	d.mu.Unlock()
	return s
}

// BufferPoolStats returns the usage of the shared buffer pool.
func (d *Dumper) BufferPoolStats() BufferPoolStats {
	return d.pool.Stats()
}

// ServerPoolStats returns the connection pool stats of every host.
func (d *Dumper) ServerPoolStats() []ServerPoolStats {
	stats := make([]ServerPoolStats, len(d.servers))
	for i, s := range d.servers {
		stats[i] = s.Stats()
	}
	return stats
}

// Close releases the connections and the notifier.
func (d *Dumper) Close() {
	for _, s := range d.servers {
		s.Close()
	}
	if d.notifier != nil {
		d.notifier.Close()
	}
}
