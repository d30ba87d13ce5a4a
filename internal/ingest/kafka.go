package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"whatsrelay/internal/constants"
	"whatsrelay/internal/metrics"
	"whatsrelay/internal/models"
	"whatsrelay/internal/tracing"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// SourceKafka labels metrics and logs for messages read from Kafka
const SourceKafka = "kafka"

// Ingest statuses besides the engine outcomes
const (
	StatusInvalid  = "invalid"
	StatusFiltered = "filtered"
)

// Engine is the part of the forwarding engine the consumer needs
type Engine interface {
	Submit(ctx context.Context, msg models.Message) models.SubmitOutcome
	GetConfig() models.ForwardingConfig
}

// MessageReader is satisfied by *kafka.Reader
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaReader builds a consumer-group reader for the ingest topic
func NewKafkaReader(cfg models.KafkaIngestConfig, logger *logrus.Logger) *kafka.Reader {
	topic := cfg.Topic
	if topic == "" {
		topic = constants.DefaultKafkaTopic
	}
	groupID := cfg.GroupID
	if groupID == "" {
		groupID = constants.DefaultKafkaGroupID
	}

	entry := logger.WithField("kafka_component", "consumer")
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
		ErrorLogger:    kafka.LoggerFunc(entry.Errorf),
	})
}

// Consumer reads channel messages from Kafka and submits them to the engine.
// Offsets are committed once the engine has taken the message, whatever the
// outcome. Undecodable records are committed and skipped.
type Consumer struct {
	reader     MessageReader
	engine     Engine
	collectors *metrics.Collectors
	logger     *logrus.Logger
	now        func() time.Time
	retryDelay time.Duration
}

func NewConsumer(reader MessageReader, engine Engine, collectors *metrics.Collectors, logger *logrus.Logger) *Consumer {
	return &Consumer{
		reader:     reader,
		engine:     engine,
		collectors: collectors,
		logger:     logger,
		now:        time.Now,
		retryDelay: time.Second,
	}
}

// Run consumes until ctx is done. Fetch errors are logged and retried.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("Kafka consumer started")
	defer func() {
		if err := c.reader.Close(); err != nil {
			c.logger.WithError(err).Warn("Failed to close Kafka consumer")
		}
		c.logger.Info("Kafka consumer closed")
	}()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("kafka reader closed: %w", err)
			}
			c.logger.WithError(err).Error("Error fetching message from Kafka")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.retryDelay):
			}
			continue
		}

		c.Handle(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.WithError(err).WithFields(recordFields(msg)).Error("Failed to commit offset for message")
		}
	}
}

// Handle decodes one record and submits it. It returns the ingest status:
// invalid, filtered or the engine outcome.
func (c *Consumer) Handle(ctx context.Context, record kafka.Message) string {
	ctx, span := tracing.StartSpan(ctx, "kafka.consume",
		attribute.String("messaging.destination.name", record.Topic),
		attribute.Int("messaging.kafka.partition", record.Partition),
		attribute.Int64("messaging.kafka.offset", record.Offset),
	)
	defer span.End()

	status := c.handle(ctx, record)
	c.collectors.ObserveIngest(SourceKafka, status)
	tracing.AddSpanAttributes(ctx, attribute.String("whatsrelay.ingest.status", status))
	return status
}

func (c *Consumer) handle(ctx context.Context, record kafka.Message) string {
	fields := recordFields(record)

	var in models.InboundMessage
	if err := json.Unmarshal(record.Value, &in); err != nil {
		c.logger.WithError(err).WithFields(fields).Warn("Skipping Kafka record: invalid JSON")
		return StatusInvalid
	}
	if in.MessageID == "" && len(record.Key) > 0 {
		in.MessageID = string(record.Key)
	}

	cfg := c.engine.GetConfig()
	if !cfg.AcceptsChannel(in.ChannelName, in.ChannelID) {
		c.logger.WithFields(fields).WithField("channel", in.ChannelName).Debug("Skipping Kafka record: channel not monitored")
		return StatusFiltered
	}

	msg, err := models.NewMessage(in, c.now())
	if err != nil {
		c.logger.WithError(err).WithFields(fields).Warn("Skipping Kafka record: invalid message")
		return StatusInvalid
	}

	outcome := c.engine.Submit(ctx, msg)
	c.logger.WithFields(fields).WithFields(logrus.Fields{
		"message_id": msg.ID,
		"outcome":    outcome.Kind,
	}).Debug("Kafka record submitted")
	return string(outcome.Kind)
}

func recordFields(m kafka.Message) logrus.Fields {
	return logrus.Fields{
		"topic":     m.Topic,
		"partition": m.Partition,
		"offset":    m.Offset,
	}
}
