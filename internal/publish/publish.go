// Package publish writes readings and reports to Kafka topics.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/kjstillabower/aqi-watch/internal/aqi"
	"github.com/kjstillabower/aqi-watch/internal/models"
	"github.com/kjstillabower/aqi-watch/internal/observability"
)

// messageWriter is the subset of *kafkago.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Config names the brokers and topics.
type Config struct {
	Brokers       []string
	ReadingsTopic string
	ReportsTopic  string
}

// KafkaPublisher produces reading and report events.
type KafkaPublisher struct {
	writer        messageWriter
	readingsTopic string
	reportsTopic  string
	clock         clockwork.Clock
}

// ReadingEvent is the payload of one city reading.
type ReadingEvent struct {
	City        string                   `json:"city"`
	State       string                   `json:"state,omitempty"`
	Source      models.Source            `json:"source"`
	Category    string                   `json:"category"`
	Record      models.MeasurementRecord `json:"record"`
	PublishedAt time.Time                `json:"publishedAt"`
}

// NewKafkaPublisher creates a producer for cfg. The writer has no default
// topic; each message names its own.
func NewKafkaPublisher(cfg Config, clock clockwork.Clock) *KafkaPublisher {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.Brokers...),
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return newKafkaPublisher(w, cfg, clock)
}

func newKafkaPublisher(w messageWriter, cfg Config, clock clockwork.Clock) *KafkaPublisher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.ReadingsTopic == "" {
		cfg.ReadingsTopic = "aqi.readings"
	}
	if cfg.ReportsTopic == "" {
		cfg.ReportsTopic = "aqi.reports"
	}
	return &KafkaPublisher{
		writer:        w,
		readingsTopic: cfg.ReadingsTopic,
		reportsTopic:  cfg.ReportsTopic,
		clock:         clock,
	}
}

// PublishReadings writes one message per city in a single batch, keyed by
// city so a city's readings stay ordered within a partition.
func (p *KafkaPublisher) PublishReadings(ctx context.Context, results []models.CityResult) error {
	if len(results) == 0 {
		return nil
	}
	now := p.clock.Now().UTC()
	msgs := make([]kafkago.Message, len(results))
	for i, r := range results {
		msg, err := readingMessage(p.readingsTopic, r, now)
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	return p.write(ctx, p.readingsTopic, msgs)
}

// PublishReport writes r to the reports topic keyed by report ID.
func (p *KafkaPublisher) PublishReport(ctx context.Context, r models.Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("serialize report: %w", err)
	}
	msg := kafkago.Message{
		Topic: p.reportsTopic,
		Key:   []byte(r.ID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte("report")},
			{Key: "submitted_at", Value: []byte(r.Timestamp.UTC().Format(time.RFC3339))},
		},
	}
	return p.write(ctx, p.reportsTopic, []kafkago.Message{msg})
}

func (p *KafkaPublisher) write(ctx context.Context, topic string, msgs []kafkago.Message) error {
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		observability.PublishedEventsTotal.WithLabelValues(topic, "error").Add(float64(len(msgs)))
		return fmt.Errorf("write %d messages to %s: %w", len(msgs), topic, err)
	}
	observability.PublishedEventsTotal.WithLabelValues(topic, "success").Add(float64(len(msgs)))
	return nil
}

// Close flushes and closes the producer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func readingMessage(topic string, r models.CityResult, now time.Time) (kafkago.Message, error) {
	data, err := json.Marshal(ReadingEvent{
		City:        r.Name,
		State:       r.State,
		Source:      r.Source,
		Category:    aqi.Classify(r.Record.AQI).Label,
		Record:      r.Record,
		PublishedAt: now,
	})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize reading for %s: %w", r.Name, err)
	}
	return kafkago.Message{
		Topic: topic,
		Key:   []byte(r.Name),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte("reading")},
			{Key: "source", Value: []byte(r.Source)},
			{Key: "published_at", Value: []byte(now.Format(time.RFC3339))},
		},
	}, nil
}
