package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/edgeinfer/orchestrator/internal/action"
)

// PubSubConfig configures a Cloud Pub/Sub dispatcher.
type PubSubConfig struct {
	ProjectID string
	TopicID   string
}

// PubSubDispatcher publishes each action as a Pub/Sub message, for durable
// cross-service fan-out of agent decisions. Grounded on
// internal/events.PubSubEventBus's topic-exists-or-create startup and
// attribute-carrying publish, simplified to a dispatcher with no in-memory
// fan-out side channel.
type PubSubDispatcher struct {
	name   string
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPubSubDispatcher connects to the given project and topic, creating the
// topic if it doesn't already exist.
func NewPubSubDispatcher(ctx context.Context, name string, cfg PubSubConfig) (*PubSubDispatcher, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub dispatcher %q: new client: %w", name, err)
	}

	topic := client.Topic(cfg.TopicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("pubsub dispatcher %q: topic.Exists: %w", name, err)
	}
	if !exists {
		topic, err = client.CreateTopic(ctx, cfg.TopicID)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("pubsub dispatcher %q: create topic: %w", name, err)
		}
	}

	return &PubSubDispatcher{name: name, client: client, topic: topic}, nil
}

func (d *PubSubDispatcher) Name() string { return d.name }

func (d *PubSubDispatcher) Dispatch(ctx context.Context, act action.Action, agentName, pipelineID string) error {
	body := map[string]any{"agent": agentName, "pipeline": pipelineID}
	for k, v := range act.Payload {
		body[k] = v
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("pubsub dispatcher %q: marshal payload: %w", d.name, err)
	}

	result := d.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"agent":    agentName,
			"pipeline": pipelineID,
		},
	})
	_, err = result.Get(ctx)
	if err != nil {
		return fmt.Errorf("pubsub dispatcher %q: publish: %w", d.name, err)
	}
	return nil
}

func (d *PubSubDispatcher) Close(_ context.Context) error {
	d.topic.Stop()
	return d.client.Close()
}
