package connector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/edgeinfer/orchestrator/internal/message"
)

// CameraConfig configures a connector that dials a remote camera's frame
// stream over a websocket, substituting for the Python original's direct
// OpenCV VideoCapture since no CV library lives anywhere in this module's
// dependency surface.
type CameraConfig struct {
	URL               string
	SensorID          string
	Encoding          message.Encoding
	Pipeline          string
	ReconnectInterval time.Duration
}

// CameraConnector reads one binary frame per websocket message and forwards
// it as a Message, reconnecting on any read/dial error.
type CameraConnector struct {
	id     string
	cfg    CameraConfig
	on     OnMessage
	dialer websocket.Dialer

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

func NewCameraConnector(id string, cfg CameraConfig, on OnMessage) *CameraConnector {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 2 * time.Second
	}
	return &CameraConnector{id: id, cfg: cfg, on: on, dialer: websocket.Dialer{HandshakeTimeout: 5 * time.Second}}
}

func (c *CameraConnector) ID() string { return c.id }

func (c *CameraConnector) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.run(runCtx)
	return nil
}

func (c *CameraConnector) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel := c.cancel
	conn := c.conn
	done := c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
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

func (c *CameraConnector) run(ctx context.Context) {
	defer close(c.done)

	sensorID := c.cfg.SensorID
	if sensorID == "" {
		sensorID = fmt.Sprintf("camera:%s", c.cfg.URL)
	}
	encoding := c.cfg.Encoding
	if encoding == "" {
		encoding = message.EncodingBGR
	}

	for ctx.Err() == nil {
		conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
		if err != nil {
			slog.Warn("camera connector dial failed", "connector", c.id, "error", err)
			c.sleep(ctx)
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()

		slog.Info("camera connector connected", "connector", c.id, "url", c.cfg.URL)

		for {
			msgType, payload, err := conn.ReadMessage()
			if err != nil {
				slog.Warn("camera connector read failed; reconnecting", "connector", c.id, "error", err)
				break
			}
			if msgType != websocket.BinaryMessage {
				continue
			}

			m := message.New(sensorID, payload, encoding)
			if c.cfg.Pipeline != "" {
				m = m.WithPipeline(c.cfg.Pipeline)
			}
			c.on(m)
		}

		conn.Close()
		if ctx.Err() != nil {
			return
		}
		c.sleep(ctx)
	}
}

func (c *CameraConnector) sleep(ctx context.Context) {
	select {
	case <-time.After(c.cfg.ReconnectInterval):
	case <-ctx.Done():
	}
}
