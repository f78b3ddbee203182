package connector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/edgeinfer/orchestrator/internal/message"
)

// PubSubConfig configures a connector that subscribes to a Google Cloud
// Pub/Sub subscription, the durable-ingestion counterpart to the MQTT/camera
// transports. Grounded on internal/events/pubsub_bus.go's client and topic
// construction, applied here to the receive side.
type PubSubConfig struct {
	ProjectID      string
	SubscriptionID string
	SensorID       string
	Encoding       message.Encoding
	Pipeline       string
}

// PubSubConnector receives messages from a subscription and acks each one
// once it has been handed to the scheduler.
type PubSubConnector struct {
	id  string
	cfg PubSubConfig
	on  OnMessage

	mu     sync.Mutex
	client *pubsub.Client
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPubSubConnector(id string, cfg PubSubConfig, on OnMessage) *PubSubConnector {
	return &PubSubConnector{id: id, cfg: cfg, on: on}
}

func (c *PubSubConnector) ID() string { return c.id }

func (c *PubSubConnector) Start(ctx context.Context) error {
	client, err := pubsub.NewClient(ctx, c.cfg.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub connector %q: new client: %w", c.id, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.client = client
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.run(runCtx)
	return nil
}

func (c *PubSubConnector) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel := c.cancel
	client := c.client
	done := c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if client != nil {
		return client.Close()
	}
	return nil
}

func (c *PubSubConnector) run(ctx context.Context) {
	defer close(c.done)

	sensorID := c.cfg.SensorID
	if sensorID == "" {
		sensorID = c.cfg.SubscriptionID
	}
	encoding := c.cfg.Encoding
	if encoding == "" {
		encoding = message.EncodingJSON
	}

	sub := c.client.Subscription(c.cfg.SubscriptionID)

	for ctx.Err() == nil {
		err := sub.Receive(ctx, func(_ context.Context, m *pubsub.Message) {
			msg := message.New(sensorID, m.Data, encoding)
			if c.cfg.Pipeline != "" {
				msg = msg.WithPipeline(c.cfg.Pipeline)
			}
			c.on(msg)
			m.Ack()
		})
		if err != nil && ctx.Err() == nil {
			slog.Error("pubsub connector receive failed; retrying", "connector", c.id, "error", err)
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
			}
		}
	}
}
