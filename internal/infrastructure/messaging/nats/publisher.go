package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/agentkernel/agentkernel/internal/domain/execution"
)

// Publisher pushes outbox envelopes and bridged ExecutionEvents onto
// JetStream subjects. The in-process bounded queue stays the primary
// event path (§4.4); this is the optional out-of-process bridge.
type Publisher struct {
	publisher *nats.Publisher
	logger    watermill.LoggerAdapter
}

// NewPublisher connects to NATS, ensures the platform's streams exist,
// and returns a publisher over them.
func NewPublisher(natsURL string, logger watermill.LoggerAdapter) (*Publisher, error) {
	nc, err := natsgo.Connect(natsURL)
	if err != nil {
		return nil, err
	}

	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}

	pub, err := nats.NewPublisher(
		nats.PublisherConfig{
			URL:       natsURL,
			Marshaler: nats.GobMarshaler{},
		},
		logger,
	)
	if err != nil {
		return nil, err
	}

	if err := ensureStreams(js); err != nil {
		return nil, fmt.Errorf("ensure jetstream streams: %w", err)
	}

	return &Publisher{publisher: pub, logger: logger}, nil
}

// Publish publishes a JSON-encoded payload to a subject.
func (p *Publisher) Publish(ctx context.Context, topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.publisher.Publish(topic, message.NewMessage(watermill.NewUUID(), data))
}

// PublishExecutionEvent republishes one client_safe ExecutionEvent on the
// run's own subject, so external consumers can tail a run without holding
// an SSE connection to this process.
func (p *Publisher) PublishExecutionEvent(ctx context.Context, event execution.ExecutionEvent) error {
	if event.Visibility != execution.VisibilityClientSafe {
		return nil
	}
	return p.Publish(ctx, RunSubject(event.RunID), event)
}

// RunSubject is the subject a run's bridged events land on.
func RunSubject(runID string) string {
	return "agentkernel.executions." + runID
}

// Close closes the publisher
func (p *Publisher) Close() error {
	return p.publisher.Close()
}

// ensureStreams creates the JetStream streams the subject taxonomy needs:
// one per outbox category plus the per-run execution feed.
func ensureStreams(js natsgo.JetStreamContext) error {
	streams := []struct {
		name     string
		subjects []string
	}{
		{name: "agentkernel-events", subjects: []string{"agentkernel.events.>"}},
		{name: "agentkernel-executions", subjects: []string{"agentkernel.executions.>"}},
		{name: "agentkernel-runs", subjects: []string{"agentkernel.runs.>"}},
		{name: "agentkernel-interrupts", subjects: []string{"agentkernel.interrupts.>"}},
		{name: "agentkernel-groups", subjects: []string{"agentkernel.groups.>"}},
	}

	for _, stream := range streams {
		if _, err := js.StreamInfo(stream.name); err == nil {
			continue
		}
		_, err := js.AddStream(&natsgo.StreamConfig{
			Name:     stream.name,
			Subjects: stream.subjects,
			Storage:  natsgo.FileStorage,
			Replicas: 1,
		})
		if err != nil {
			return err
		}
	}
	return nil
}
