package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"

	"github.com/correlator-io/openlineage-playground/internal/config"
	"github.com/correlator-io/openlineage-playground/internal/lineage"
)

const (
	// DefaultKafkaTopic is used when the config names no topic.
	DefaultKafkaTopic = "openlineage.events"
	kafkaBatchTimeout = 10 * time.Millisecond
)

var (
	// ErrMissingBrokers is returned when a kafka transport has no brokers.
	ErrMissingBrokers = errors.New("kafka transport requires at least one broker")

	kafkaPublishedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "openlineage_kafka_events_published_total",
		Help: "OpenLineage events published to kafka",
	})
)

// messageWriter is the subset of *kafka.Writer the transport uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures KafkaTransport.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// KafkaTransport publishes events to a topic. Messages are keyed by the root
// run of the event's hierarchy (the parent facet's root, else its parent, else
// the run itself), so every event of a flow tree lands on the same partition
// and keeps its order.
type KafkaTransport struct {
	writer messageWriter
	topic  string
}

// NewKafka builds a hash-balanced writer for cfg. Writes wait for the leader's
// acknowledgement.
func NewKafka(cfg KafkaConfig, logger *slog.Logger) (*KafkaTransport, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrMissingBrokers
	}

	if logger == nil {
		logger = config.DiscardLogger()
	}

	topic := cfg.Topic
	if topic == "" {
		topic = DefaultKafkaTopic
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  topic,
		AllowAutoTopicCreation: true,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           kafkaBatchTimeout,
		Logger:                 kafkaLogger(logger, slog.LevelDebug),
		ErrorLogger:            kafkaLogger(logger, slog.LevelError),
	}

	return newKafkaWithWriter(writer, topic), nil
}

func newKafkaWithWriter(w messageWriter, topic string) *KafkaTransport {
	return &KafkaTransport{writer: w, topic: topic}
}

// Topic returns the destination topic.
func (t *KafkaTransport) Topic() string {
	return t.topic
}

// Emit publishes the event synchronously.
func (t *KafkaTransport) Emit(ctx context.Context, event *lineage.RunEvent) error {
	value, err := encode(event, false)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(messageKey(event)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(event.EventType)},
		},
	}

	if err := t.writer.WriteMessages(ctx, msg); err != nil {
		return newError(TypeKafka, ctx.Err() == nil && kafkaRetriable(err), err)
	}

	kafkaPublishedCounter.Inc()

	return nil
}

// Close flushes pending writes.
func (t *KafkaTransport) Close() error {
	return t.writer.Close()
}

func messageKey(event *lineage.RunEvent) string {
	if rootID, ok := event.RootRunID(); ok {
		return rootID
	}

	return event.Run.ID
}

// kafkaRetriable treats protocol errors by their Temporary flag and anything
// else (dial failures, timeouts) as transient.
func kafkaRetriable(err error) bool {
	var kerr kafka.Error
	if errors.As(err, &kerr) {
		return kerr.Temporary()
	}

	var writeErrs kafka.WriteErrors
	if errors.As(err, &writeErrs) {
		for _, e := range writeErrs {
			if e != nil && !kafkaRetriable(e) {
				return false
			}
		}
	}

	return true
}

func kafkaLogger(logger *slog.Logger, level slog.Level) kafka.LoggerFunc {
	return func(msg string, args ...any) {
		logger.Log(context.Background(), level, strings.TrimSpace(fmt.Sprintf(msg, args...)),
			slog.String("component", "kafka"))
	}
}
