package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

// DefaultTopic is the Kafka topic alerts are published to unless overridden.
const DefaultTopic = "casewatch.case-alerts"

// KafkaDispatcher publishes alerts as JSON records keyed by the tracked-case
// id, so per-case ordering is preserved across partitions.
type KafkaDispatcher struct {
	client *kgo.Client
	topic  string
}

// NewKafkaDispatcher connects to the brokers and ensures the topic exists.
func NewKafkaDispatcher(brokers []string, topic string) (*KafkaDispatcher, error) {
	if topic == "" {
		topic = DefaultTopic
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerLinger(50*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("connect kafka: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	admin := kadm.NewClient(client)
	if _, err := admin.CreateTopic(ctx, 1, 1, nil, topic); err != nil {
		// An existing topic is fine; anything else is a wiring problem worth
		// failing startup over.
		if exists, checkErr := topicExists(ctx, admin, topic); checkErr != nil || !exists {
			client.Close()
			return nil, fmt.Errorf("ensure topic %s: %w", topic, err)
		}
	}
	return &KafkaDispatcher{client: client, topic: topic}, nil
}

func topicExists(ctx context.Context, admin *kadm.Client, topic string) (bool, error) {
	details, err := admin.ListTopics(ctx, topic)
	if err != nil {
		return false, err
	}
	return details.Has(topic), nil
}

// Dispatch publishes one alert and waits for the broker ack.
func (d *KafkaDispatcher) Dispatch(ctx context.Context, a Alert) error {
	value, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	record := &kgo.Record{
		Topic: d.topic,
		Key:   []byte(a.TrackedCaseID.String()),
		Value: value,
	}
	if err := d.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce alert: %w", err)
	}
	return nil
}

// Close flushes and releases the Kafka client.
func (d *KafkaDispatcher) Close() {
	d.client.Close()
}

// LogDispatcher writes alerts to the process log. Used when no brokers are
// configured.
type LogDispatcher struct {
	logger *log.Logger
}

// NewLogDispatcher builds the logging fallback dispatcher.
func NewLogDispatcher(logger *log.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) Dispatch(ctx context.Context, a Alert) error {
	d.logger.Printf("alert: case %s %s: %q -> %q",
		a.Identity.Key(), a.ChangeKind, a.OldValue, a.NewValue)
	return nil
}
