package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/covid-state-etl/internal/domain"
)

// EventTypeStateRefreshed is the event_type header on every notification.
const EventTypeStateRefreshed = "state_refreshed"

// StateRefreshed announces that a state's series changed in a new snapshot.
type StateRefreshed struct {
	SnapshotID  string    `json:"snapshot_id"`
	State       string    `json:"state"`
	Name        string    `json:"name,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Days        int       `json:"days"`
	Metrics     []string  `json:"metrics"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

// Notifier publishes one StateRefreshed message per state after each commit.
type Notifier struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewNotifier creates a Kafka producer for the refresh topic.
func NewNotifier(brokers []string, topic string, logger *slog.Logger) *Notifier {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Notifier{writer: w, logger: logger}
}

func (n *Notifier) Name() string { return "kafka" }

// Write publishes the snapshot's states in a single WriteMessages call. Messages
// are keyed by state code so each state's events stay on one partition.
func (n *Notifier) Write(ctx context.Context, snap *domain.Snapshot) error {
	events := Events(snap)
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(events))
	for i := range events {
		msg, err := serializeToMessage(events[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := n.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish refresh events: %w", err)
	}
	n.logger.Debug("refresh events published", "count", len(msgs), "snapshot_id", snap.ID)
	return nil
}

func (n *Notifier) Close() error {
	return n.writer.Close()
}

// Events builds one event per state in code order.
func Events(snap *domain.Snapshot) []StateRefreshed {
	codes := snap.StateCodes()
	events := make([]StateRefreshed, 0, len(codes))
	for _, code := range codes {
		ts := snap.States[code]
		ev := StateRefreshed{
			SnapshotID:  snap.ID,
			State:       code,
			Start:       ts.Start(),
			End:         ts.End(),
			Days:        ts.Len(),
			Metrics:     make([]string, len(ts.Metrics)),
			RefreshedAt: snap.BuiltAt,
		}
		for i, m := range ts.Metrics {
			ev.Metrics[i] = string(m)
		}
		if snap.Reference != nil {
			if name, err := snap.Reference.Name(code); err == nil {
				ev.Name = name
			}
		}
		events = append(events, ev)
	}
	return events
}

// serializeToMessage marshals a StateRefreshed into a Kafka message.
func serializeToMessage(event StateRefreshed) (kafkago.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize refresh event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(event.State),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(EventTypeStateRefreshed)},
			{Key: "refreshed_at", Value: []byte(event.RefreshedAt.Format(time.RFC3339))},
		},
	}, nil
}
