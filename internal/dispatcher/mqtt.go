package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/edgeinfer/orchestrator/internal/action"
)

// MQTTConfig configures an MQTT actuator-command dispatcher.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
	Retain   bool
}

// MQTTDispatcher publishes each action's payload to an MQTT topic, for driving
// actuators from agent decisions.
type MQTTDispatcher struct {
	name   string
	cfg    MQTTConfig
	client mqtt.Client
}

// NewMQTTDispatcher connects to cfg.Broker and returns a ready dispatcher.
func NewMQTTDispatcher(name string, cfg MQTTConfig) (*MQTTDispatcher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetConnectTimeout(5 * time.Second).
		SetAutoReconnect(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt dispatcher %q: connect to %s: %w", name, cfg.Broker, token.Error())
	}

	return &MQTTDispatcher{name: name, cfg: cfg, client: client}, nil
}

func (d *MQTTDispatcher) Name() string { return d.name }

func (d *MQTTDispatcher) Dispatch(_ context.Context, act action.Action, agentName, pipelineID string) error {
	topic := act.Target
	if topic == "" {
		topic = d.cfg.Topic
	}
	if topic == "" {
		return fmt.Errorf("mqtt dispatcher %q: no target topic", d.name)
	}

	body := map[string]any{"agent": agentName, "pipeline": pipelineID}
	for k, v := range act.Payload {
		body[k] = v
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("mqtt dispatcher %q: marshal payload: %w", d.name, err)
	}

	token := d.client.Publish(topic, d.cfg.QoS, d.cfg.Retain, data)
	token.Wait()
	return token.Error()
}

func (d *MQTTDispatcher) Close(_ context.Context) error {
	d.client.Disconnect(250)
	return nil
}
