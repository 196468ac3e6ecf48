package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSConfig configures an SQSNotifier.
type SQSConfig struct {
	// Queue is the queue name. QueueURL skips the name lookup when set.
	Queue    string
	QueueURL string

	// CreateQueue creates the queue when it does not exist.
	CreateQueue bool

	// Region defaults to us-east-1.
	Region string

	// Endpoint overrides the SQS endpoint (e.g., "http://localhost:4566").
	Endpoint string

	// AccessKeyID and SecretAccessKey are static credentials.
	// If empty, uses the default credential chain.
	AccessKeyID     string
	SecretAccessKey string
}

// sqsAPI is the part of *sqs.Client used to send completions.
type sqsAPI interface {
	GetQueueUrl(ctx context.Context, in *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	CreateQueue(ctx context.Context, in *sqs.CreateQueueInput, optFns ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error)
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSNotifier sends completions as JSON message bodies to an SQS queue.
type SQSNotifier struct {
	client   sqsAPI
	queueURL string
}

// NewSQSNotifier resolves the queue URL, creating the queue if allowed.
func NewSQSNotifier(ctx context.Context, cfg SQSConfig) (*SQSNotifier, error) {
	if cfg.Queue == "" && cfg.QueueURL == "" {
		return nil, errors.New("notify: sqs queue name or url is required")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("notify: failed to load AWS config: %w", err)
	}

	var sqsOpts []func(*sqs.Options)
	if cfg.Endpoint != "" {
		sqsOpts = append(sqsOpts, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	return newSQSNotifier(ctx, sqs.NewFromConfig(awsCfg, sqsOpts...), cfg)
}

func newSQSNotifier(ctx context.Context, client sqsAPI, cfg SQSConfig) (*SQSNotifier, error) {
	n := &SQSNotifier{client: client, queueURL: cfg.QueueURL}
	if n.queueURL != "" {
		return n, nil
	}

	out, err := client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(cfg.Queue)})
	if err == nil {
		n.queueURL = aws.ToString(out.QueueUrl)
		return n, nil
	}

	var missing *types.QueueDoesNotExist
	if !errors.As(err, &missing) || !cfg.CreateQueue {
		return nil, fmt.Errorf("notify: get url of queue %s: %w", cfg.Queue, err)
	}

	created, err := client.CreateQueue(ctx, &sqs.CreateQueueInput{QueueName: aws.String(cfg.Queue)})
	if err != nil {
		return nil, fmt.Errorf("notify: create queue %s: %w", cfg.Queue, err)
	}
	n.queueURL = aws.ToString(created.QueueUrl)
	return n, nil
}

// QueueURL returns the resolved queue URL.
func (n *SQSNotifier) QueueURL() string {
	return n.queueURL
}

func (n *SQSNotifier) Notify(ctx context.Context, c Completion) error {
	if c.DumpFormat == "" {
		c.DumpFormat = DumpFormat
	}
	body, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("notify: encode completion: %w", err)
	}

	_, err = n.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(n.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("notify: send to %s: %w", n.queueURL, err)
	}
	return nil
}

func (n *SQSNotifier) Close() {}
