// Package notify announces finalized data files to their consumers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
)

// DumpFormat identifies the record layout of data files.
const DumpFormat = "BINARY"

// Completion announces one data file ready for consumption.
type Completion struct {
	RequestID  string `json:"reqId"`
	Host       string `json:"host"`
	URI        string `json:"uri"`
	KeysCount  int    `json:"keysCount"`
	DumpFormat string `json:"dumpFormat"`
}

// Notifier delivers completion messages.
type Notifier interface {
	Notify(ctx context.Context, c Completion) error
	Close()
}

// LogNotifier logs completions. It is used when no message broker is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(ctx context.Context, c Completion) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "data file ready",
		"request_id", c.RequestID, "host", c.Host, "uri", c.URI, "keys", c.KeysCount)
	return nil
}

func (LogNotifier) Close() {}

// producer is the part of *kgo.Client used to send completions.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// KafkaNotifier produces completions as JSON records keyed by host.
type KafkaNotifier struct {
	client producer
	topic  string
}

// NewKafkaNotifier creates a notifier producing to topic. The client connects
// lazily, on the first completion.
func NewKafkaNotifier(brokers []string, topic string, opts ...kgo.Opt) (*KafkaNotifier, error) {
	base := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
	}
	client, err := kgo.NewClient(append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("notify: kafka client: %w", err)
	}
	return &KafkaNotifier{client: client, topic: topic}, nil
}

func (n *KafkaNotifier) Notify(ctx context.Context, c Completion) error {
	if c.DumpFormat == "" {
		c.DumpFormat = DumpFormat
	}
	value, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("notify: encode completion: %w", err)
	}

	record := &kgo.Record{
		Topic: n.topic,
		Key:   []byte(c.Host),
		Value: value,
	}
	if err := n.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("notify: produce to %s: %w", n.topic, err)
	}
	return nil
}

func (n *KafkaNotifier) Close() {
	n.client.Close()
}
