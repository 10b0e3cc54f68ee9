package nats

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/h3nryswan/video-transcoder-2/internal/core"
)

// PubSubBroker implements core.EventPublisher using NATS core pub/sub and
// lets operators tail the resulting stream of events.
type PubSubBroker struct {
	nc   *nats.Conn
	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewPubSubBroker creates a new PubSubBroker using the given NATS connection.
func NewPubSubBroker(nc *nats.Conn) *PubSubBroker {
	return &PubSubBroker{nc: nc}
}

// PublishJobEvent publishes a job event to the job subject and the global subject.
func (b *PubSubBroker) PublishJobEvent(event *core.JobEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := b.nc.Publish(EventJobSubject(event.JobID), data); err != nil {
		slog.Error("failed to publish job event", "error", err, "job_id", event.JobID)
		return fmt.Errorf("publish event: %w", err)
	}

	if err := b.nc.Publish(eventAllSubject, data); err != nil {
		slog.Error("failed to publish global event", "error", err)
	}

	return nil
}

// SubscribeJob subscribes to events for a specific job.
func (b *PubSubBroker) SubscribeJob(jobID string) (<-chan *core.JobEvent, func(), error) {
	return b.subscribe(EventJobSubject(jobID))
}

// SubscribeAll subscribes to all events.
func (b *PubSubBroker) SubscribeAll() (<-chan *core.JobEvent, func(), error) {
	return b.subscribe(eventAllSubject)
}

func (b *PubSubBroker) subscribe(subject string) (<-chan *core.JobEvent, func(), error) {
	ch := make(chan *core.JobEvent, 64)

	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		var event core.JobEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			slog.Error("failed to unmarshal event", "error", err)
			return
		}
		select {
		case ch <- &event:
		default:
			slog.Warn("dropping event, subscriber channel full", "subject", subject)
		}
	})
	if err != nil {
		close(ch)
		return nil, nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			_ = sub.Unsubscribe()
			close(ch)
		})
	}

	return ch, unsubscribe, nil
}

// Close unsubscribes all subscriptions.
func (b *PubSubBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = nil
	return nil
}
