package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/osvaldoandrade/captionq/internal/tracing"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafka.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaPublisher struct {
	w messageWriter
}

// NewKafkaPublisher writes events to topic, keyed by session id so a
// session's events stay ordered within a partition.
func NewKafkaPublisher(brokers []string, topic string) Publisher {
	return &kafkaPublisher{w: kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	})}
}

func (p *kafkaPublisher) Publish(ctx context.Context, ev CaptionEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	headers := []kafka.Header{{Key: "type", Value: []byte(ev.Type)}}
	if tp, ts := tracing.TraceContextStrings(ctx); tp != "" {
		headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(tp)})
		if ts != "" {
			headers = append(headers, kafka.Header{Key: "tracestate", Value: []byte(ts)})
		}
	}
	err = p.w.WriteMessages(ctx, kafka.Message{
		Key:     []byte(ev.SessionID),
		Value:   b,
		Headers: headers,
	})
	if err != nil {
		return fmt.Errorf("kafka write %s: %w", ev.Type, err)
	}
	return nil
}

func (p *kafkaPublisher) Close() error { return p.w.Close() }

// SplitBrokers parses a comma separated broker list.
func SplitBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
