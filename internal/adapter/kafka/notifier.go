// Package kafka publishes per-day ingestion outcomes, letting downstream
// consumers refresh caches or trigger reprocessing without polling the
// archive directory.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/atmogrid/raster-ingest/internal/domain"
)

// Notifier produces DateResult events to a Kafka topic.
// It implements pipeline.Notifier.
type Notifier struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewNotifier creates a Kafka producer for the ingest-events topic.
func NewNotifier(brokers []string, topic string, logger *slog.Logger) *Notifier {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Notifier{writer: w, logger: logger}
}

// Notify serializes and publishes one day's outcome.
func (n *Notifier) Notify(ctx context.Context, res domain.DateResult) error {
	msg, err := serializeToMessage(res)
	if err != nil {
		return err
	}
	return n.writer.WriteMessages(ctx, msg)
}

func (n *Notifier) Close() error {
	return n.writer.Close()
}

// serializeToMessage marshals a DateResult into a Kafka message keyed by
// source and day, so a compacted topic keeps only the latest outcome per
// day.
func serializeToMessage(res domain.DateResult) (kafkago.Message, error) {
	data, err := json.Marshal(res)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize date result: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(fmt.Sprintf("%s/%s", res.Source, domain.DayKey(res.Day))),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "status", Value: []byte(res.Status)},
			{Key: "published_at", Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		},
	}, nil
}
