package ingress

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/pilot-net/alert-relay/internal/metrics"
	"github.com/pilot-net/alert-relay/internal/normalize"
)

const (
	waitTimeSeconds      = 20
	maxMessagesPerPoll   = 10
	visibilityTimeoutSec = 60
)

// QueuePoller long-polls an SQS-compatible queue of SNS-wrapped alert
// envelopes, normalizing and processing each one in turn on the poller's
// own goroutine; a message is deleted only after its processing returns.
// The pool passed to NewQueuePoller is stored but not used.
type QueuePoller struct {
	client         *sqs.Client
	queueURL       string
	pool           *Pool
	processor      AlertProcessor
	rules          normalize.RuleLookup
	defaultChannel string
	metrics        *metrics.Metrics
	logger         *slog.Logger
}

// NewQueuePoller builds a poller against queueURL. region is used
// verbatim if non-empty; otherwise it is auto-detected from the queue
// URL's host (e.g. sqs.us-east-1.amazonaws.com).
func NewQueuePoller(ctx context.Context, queueURL, region string, pool *Pool, processor AlertProcessor, rules normalize.RuleLookup, defaultChannel string, m *metrics.Metrics, logger *slog.Logger) (*QueuePoller, error) {
	if region == "" {
		region = regionFromQueueURL(queueURL)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("ingress: load aws config: %w", err)
	}

	return &QueuePoller{
		client:         sqs.NewFromConfig(awsCfg),
		queueURL:       queueURL,
		pool:           pool,
		processor:      processor,
		rules:          rules,
		defaultChannel: defaultChannel,
		metrics:        m,
		logger:         logger.With("component", "ingress_queue"),
	}, nil
}

// regionFromQueueURL extracts the region segment from a standard SQS
// queue URL host, e.g. https://sqs.us-east-1.amazonaws.com/123/name.
func regionFromQueueURL(queueURL string) string {
	u, err := url.Parse(queueURL)
	if err != nil {
		return ""
	}
	parts := strings.Split(u.Host, ".")
	if len(parts) >= 2 && parts[0] == "sqs" {
		return parts[1]
	}
	return ""
}

// Run long-polls until ctx is cancelled.
func (p *QueuePoller) Run(ctx context.Context) {
	p.logger.Info("queue poller started", "queue_url", p.queueURL)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("queue poller stopping")
			return
		default:
		}
		p.pollOnce(ctx)
	}
}

func (p *QueuePoller) pollOnce(ctx context.Context) {
	out, err := p.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            &p.queueURL,
		MaxNumberOfMessages: maxMessagesPerPoll,
		WaitTimeSeconds:     waitTimeSeconds,
		VisibilityTimeout:   visibilityTimeoutSec,
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.logger.Error("receive message failed", "error", err)
		time.Sleep(time.Second)
		return
	}

	for _, msg := range out.Messages {
		p.handleMessage(ctx, msg)
	}
}

func (p *QueuePoller) handleMessage(ctx context.Context, msg sqstypes.Message) {
	body := ""
	if msg.Body != nil {
		body = *msg.Body
	}

	alert, err := normalize.Queue([]byte(body), p.rules, p.defaultChannel)
	if err != nil {
		// A malformed envelope is a ParseError: log, drop, and delete so
		// a poison message doesn't loop forever on its visibility timeout.
		p.logger.Warn("dropping malformed queue message", "error", err)
		p.deleteMessage(msg)
		return
	}

	processCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := p.processor.Process(processCtx, alert); err != nil {
		// A downstream processing failure is left undeleted: it
		// reappears after the visibility timeout for a fresh attempt.
		p.logger.Error("process queue alert failed", "alert_id", alert.AlertID, "error", err)
		return
	}

	if p.metrics != nil {
		p.metrics.QueueProcessed.Inc()
	}
	p.deleteMessage(msg)
}

func (p *QueuePoller) deleteMessage(msg sqstypes.Message) {
	if msg.ReceiptHandle == nil {
		return
	}
	deleteCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := p.client.DeleteMessage(deleteCtx, &sqs.DeleteMessageInput{
		QueueUrl:      &p.queueURL,
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		p.logger.Warn("delete message failed", "error", err)
	}
}
