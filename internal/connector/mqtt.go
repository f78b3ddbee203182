package connector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/edgeinfer/orchestrator/internal/message"
)

// MQTTConfig configures an MQTT ingress connector.
type MQTTConfig struct {
	Broker            string
	ClientID          string
	Username          string
	Password          string
	Routes            []TopicRoute
	ReconnectInterval time.Duration
}

// MQTTConnector subscribes to a set of topic filters and routes each
// inbound message to the TopicRoute it matches, dropping anything that
// matches none. Ported from orchestrator/connectors/mqtt.py.
type MQTTConnector struct {
	id  string
	cfg MQTTConfig
	on  OnMessage

	mu     sync.Mutex
	client mqtt.Client
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMQTTConnector returns a connector that dials lazily on Start.
func NewMQTTConnector(id string, cfg MQTTConfig, on OnMessage) *MQTTConnector {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 5 * time.Second
	}
	return &MQTTConnector{id: id, cfg: cfg, on: on}
}

func (c *MQTTConnector) ID() string { return c.id }

// Start connects and subscribes in a background goroutine, reconnecting on
// transport loss until Stop is called.
func (c *MQTTConnector) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.run(runCtx)
	return nil
}

func (c *MQTTConnector) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel := c.cancel
	client := c.client
	done := c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if client != nil && client.IsConnected() {
		client.Disconnect(250)
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (c *MQTTConnector) run(ctx context.Context) {
	defer close(c.done)

	for {
		if ctx.Err() != nil {
			return
		}

		lostCh := make(chan struct{}, 1)

		opts := mqtt.NewClientOptions().
			AddBroker(c.cfg.Broker).
			SetClientID(c.cfg.ClientID).
			SetConnectTimeout(5 * time.Second).
			SetAutoReconnect(false).
			SetConnectionLostHandler(func(_ mqtt.Client, err error) {
				slog.Warn("mqtt connector lost connection", "connector", c.id, "error", err)
				select {
				case lostCh <- struct{}{}:
				default:
				}
			})
		if c.cfg.Username != "" {
			opts.SetUsername(c.cfg.Username)
			opts.SetPassword(c.cfg.Password)
		}
		opts.SetDefaultPublishHandler(c.handleMessage)

		client := mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			slog.Error("mqtt connector connect failed", "connector", c.id, "error", token.Error())
			c.sleep(ctx)
			continue
		}

		c.mu.Lock()
		c.client = client
		c.mu.Unlock()

		filters := make(map[string]byte, len(c.cfg.Routes))
		for _, r := range c.cfg.Routes {
			filters[r.Filter] = 0
		}
		if token := client.SubscribeMultiple(filters, nil); token.Wait() && token.Error() != nil {
			slog.Error("mqtt connector subscribe failed", "connector", c.id, "error", token.Error())
			client.Disconnect(0)
			c.sleep(ctx)
			continue
		}

		slog.Info("mqtt connector subscribed", "connector", c.id, "topics", len(filters))

		select {
		case <-ctx.Done():
			client.Disconnect(250)
			return
		case <-lostCh:
			c.sleep(ctx)
			continue
		}
	}
}

func (c *MQTTConnector) sleep(ctx context.Context) {
	select {
	case <-time.After(c.cfg.ReconnectInterval):
	case <-ctx.Done():
	}
}

func (c *MQTTConnector) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	route, ok := MatchRoute(c.cfg.Routes, msg.Topic())
	if !ok {
		return
	}

	sensorID := route.SensorID
	if sensorID == "" {
		sensorID = msg.Topic()
	}
	encoding := route.Encoding
	if encoding == "" {
		encoding = message.EncodingJSON
	}

	m := message.New(sensorID, msg.Payload(), encoding)
	m.Metadata.Topic = msg.Topic()
	if route.Pipeline != "" {
		m = m.WithPipeline(route.Pipeline)
	}
	c.on(m)
}
