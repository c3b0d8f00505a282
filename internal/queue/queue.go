// Package queue wraps kafka-go with the delivery semantics the pipeline
// relies on: at-least-once processing, one in-flight message per
// consumer, delayed redelivery up to a retry ceiling, and a dead-letter
// topic for messages that exhaust it.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// RetryHeader counts how many times a message has been redelivered.
const RetryHeader = "retries"

// DLQSuffix is appended to a topic name to form its dead-letter topic.
const DLQSuffix = "_dlq"

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks a handler error as not worth retrying: the message is
// logged and acknowledged instead of redelivered.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err (or anything it wraps) was marked by
// Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Publisher writes messages to a single topic, fire-and-forget.
type Publisher struct {
	writer *kafka.Writer
}

// NewPublisher creates a publisher for topic.
func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: kafka.NewWriter(kafka.WriterConfig{
			Brokers:      brokers,
			Topic:        topic,
			MaxAttempts:  3,
			BatchTimeout: 50 * time.Millisecond,
		}),
	}
}

// Publish sends one payload. Failure means broker unavailability; the
// caller logs it and moves on.
func (p *Publisher) Publish(ctx context.Context, key string, payload []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: payload})
}

// Close releases the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// Handler processes a single message. Returning nil acknowledges it; a
// Permanent error acknowledges without retry; any other error triggers
// the retry/DLQ policy.
type Handler func(ctx context.Context, msg kafka.Message) error

// fetchCommitter is the consuming side of a topic; satisfied by
// kafka.Reader and stubbed in tests.
type fetchCommitter interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// messageWriter is the producing side; satisfied by kafka.Writer.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ConsumerConfig describes one queue consumer.
type ConsumerConfig struct {
	Brokers    []string
	Topic      string
	GroupID    string
	MaxRetries int
	RetryDelay time.Duration
}

// Consumer runs a fetch/handle/commit loop over one topic. Messages are
// processed strictly one at a time; auto-commit is disabled so a message
// is only acknowledged after its state mutations completed.
type Consumer struct {
	cfg    ConsumerConfig
	log    *slog.Logger
	reader fetchCommitter
	retry  messageWriter
	dlq    messageWriter
}

// NewConsumer builds a consumer plus its retry and DLQ writers.
func NewConsumer(cfg ConsumerConfig, log *slog.Logger) *Consumer {
	return &Consumer{
		cfg: cfg,
		log: log,
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        cfg.Brokers,
			Topic:          cfg.Topic,
			GroupID:        cfg.GroupID,
			QueueCapacity:  1,
			MinBytes:       1,
			MaxBytes:       10e6,
			CommitInterval: 0, // Disable auto-commit; manual commit only
		}),
		retry: kafka.NewWriter(kafka.WriterConfig{
			Brokers:     cfg.Brokers,
			Topic:       cfg.Topic,
			MaxAttempts: 3,
		}),
		dlq: kafka.NewWriter(kafka.WriterConfig{
			Brokers:     cfg.Brokers,
			Topic:       cfg.Topic + DLQSuffix,
			MaxAttempts: 3,
		}),
	}
}

// Close releases the reader and writers.
func (c *Consumer) Close() error {
	err := c.reader.Close()
	if werr := c.retry.Close(); err == nil {
		err = werr
	}
	if werr := c.dlq.Close(); err == nil {
		err = werr
	}
	return err
}

// Run consumes until ctx is canceled.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				c.log.Info("context canceled, stopping", slog.String("topic", c.cfg.Topic))
				return nil
			}
			c.log.Error("fetch message", slog.Any("err", err), slog.String("topic", c.cfg.Topic))
			continue
		}

		err = handler(ctx, msg)
		if err == nil {
			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				c.log.Error("commit message", slog.Any("err", err))
			}
			continue
		}

		if IsPermanent(err) {
			c.log.Warn("permanent failure, not retrying",
				slog.Any("err", err),
				slog.String("topic", c.cfg.Topic),
				slog.Int64("offset", msg.Offset),
			)
			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				c.log.Error("commit failed message", slog.Any("err", err))
			}
			continue
		}

		retries := retryCount(msg.Headers)
		if retries < c.cfg.MaxRetries {
			if !c.requeue(ctx, msg, retries, err) {
				// Not committed: the broker redelivers on restart.
				continue
			}
		} else if !c.deadLetter(ctx, msg, err) {
			continue
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.log.Error("commit message", slog.Any("err", err))
		}
	}
}

// requeue republishes the message to its own topic with an incremented
// retry header, after the configured delay. Returns true when the
// republish succeeded and the original may be committed.
func (c *Consumer) requeue(ctx context.Context, msg kafka.Message, retries int, cause error) bool {
	c.log.Warn("process message failed, scheduling retry",
		slog.Any("err", cause),
		slog.String("topic", c.cfg.Topic),
		slog.Int("retries", retries),
		slog.Duration("delay", c.cfg.RetryDelay),
	)

	select {
	case <-time.After(c.cfg.RetryDelay):
	case <-ctx.Done():
		c.log.Info("context canceled during retry delay")
		return false
	}

	retryMsg := kafka.Message{
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: withRetryCount(msg.Headers, retries+1),
	}
	if err := c.retry.WriteMessages(ctx, retryMsg); err != nil {
		c.log.Error("requeue failed, message will be redelivered",
			slog.Any("err", err),
			slog.Int64("offset", msg.Offset),
		)
		return false
	}
	return true
}

// deadLetter routes an exhausted message to the DLQ with error context,
// retrying the write with exponential backoff. Returns true when the
// write succeeded and the original may be committed.
func (c *Consumer) deadLetter(ctx context.Context, msg kafka.Message, cause error) bool {
	c.log.Warn("retry ceiling reached, sending to DLQ",
		slog.Any("err", cause),
		slog.Int("partition", msg.Partition),
		slog.Int64("offset", msg.Offset),
	)

	dlqMsg := kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: append(msg.Headers,
			kafka.Header{Key: "original_partition", Value: []byte(fmt.Sprintf("%d", msg.Partition))},
			kafka.Header{Key: "original_offset", Value: []byte(fmt.Sprintf("%d", msg.Offset))},
			kafka.Header{Key: "error", Value: []byte(cause.Error())},
			kafka.Header{Key: "timestamp", Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		),
	}

	for attempt := 0; attempt < 5; attempt++ {
		if err := c.dlq.WriteMessages(ctx, dlqMsg); err == nil {
			c.log.Info("message sent to DLQ",
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.Int("attempt", attempt+1),
			)
			return true
		} else {
			backoff := time.Duration(1<<uint(attempt)) * time.Second
			c.log.Warn("DLQ write failed, retrying",
				slog.Any("err", err),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				c.log.Info("context canceled during DLQ retry")
				return false
			}
		}
	}

	c.log.Error("DLQ write exhausted retries, message will be redelivered",
		slog.Int("partition", msg.Partition),
		slog.Int64("offset", msg.Offset),
	)
	return false
}

func retryCount(headers []kafka.Header) int {
	for _, h := range headers {
		if h.Key == RetryHeader {
			if n, err := strconv.Atoi(string(h.Value)); err == nil {
				return n
			}
		}
	}
	return 0
}

func withRetryCount(headers []kafka.Header, n int) []kafka.Header {
	out := make([]kafka.Header, 0, len(headers)+1)
	for _, h := range headers {
		if h.Key != RetryHeader {
			out = append(out, h)
		}
	}
	return append(out, kafka.Header{Key: RetryHeader, Value: []byte(strconv.Itoa(n))})
}
