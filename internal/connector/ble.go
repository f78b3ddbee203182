package connector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/edgeinfer/orchestrator/internal/message"
)

// BLEConfig configures a Bluetooth Low Energy polling connector, for boards
// like the Arduino Nano 33 BLE Sense that expose sensor readings over GATT.
// Ported from orchestrator/connectors/ble.py.
type BLEConfig struct {
	DeviceName          string
	ServiceUUID         bluetooth.UUID
	CharacteristicUUID  bluetooth.UUID
	SensorID            string
	Encoding            message.Encoding
	Pipeline            string
	PollInterval        time.Duration
}

// BLEConnector polls a single GATT characteristic on a fixed interval,
// rescanning for the device whenever it's lost.
type BLEConnector struct {
	id  string
	cfg BLEConfig
	on  OnMessage

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewBLEConnector(id string, cfg BLEConfig, on OnMessage) (*BLEConnector, error) {
	if cfg.ServiceUUID == (bluetooth.UUID{}) || cfg.CharacteristicUUID == (bluetooth.UUID{}) {
		return nil, fmt.Errorf("ble connector %q: service_uuid and characteristic_uuid are required", id)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &BLEConnector{id: id, cfg: cfg, on: on}, nil
}

func (c *BLEConnector) ID() string { return c.id }

func (c *BLEConnector) Start(ctx context.Context) error {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return fmt.Errorf("ble connector %q: enable adapter: %w", c.id, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.run(runCtx, adapter)
	return nil
}

func (c *BLEConnector) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel := c.cancel
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
	return nil
}

func (c *BLEConnector) run(ctx context.Context, adapter *bluetooth.Adapter) {
	defer close(c.done)

	for ctx.Err() == nil {
		device, err := c.findAndConnect(ctx, adapter)
		if err != nil {
			slog.Warn("ble connector device not found", "connector", c.id, "name", c.cfg.DeviceName, "error", err)
			c.sleep(ctx)
			continue
		}

		if err := c.poll(ctx, device); err != nil {
			slog.Error("ble connector lost connection; reconnecting", "connector", c.id, "error", err)
		}
		device.Disconnect()
	}
}

func (c *BLEConnector) findAndConnect(ctx context.Context, adapter *bluetooth.Adapter) (bluetooth.Device, error) {
	found := make(chan bluetooth.ScanResult, 1)

	go func() {
		_ = adapter.Scan(func(a *bluetooth.Adapter, result bluetooth.ScanResult) {
			if c.cfg.DeviceName != "" && result.LocalName() != c.cfg.DeviceName {
				return
			}
			a.StopScan()
			select {
			case found <- result:
			default:
			}
		})
	}()

	select {
	case result := <-found:
		return adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	case <-ctx.Done():
		adapter.StopScan()
		return bluetooth.Device{}, ctx.Err()
	case <-time.After(c.cfg.PollInterval):
		adapter.StopScan()
		return bluetooth.Device{}, fmt.Errorf("scan timed out")
	}
}

func (c *BLEConnector) poll(ctx context.Context, device bluetooth.Device) error {
	services, err := device.DiscoverServices([]bluetooth.UUID{c.cfg.ServiceUUID})
	if err != nil || len(services) == 0 {
		return fmt.Errorf("discover service: %w", err)
	}
	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{c.cfg.CharacteristicUUID})
	if err != nil || len(chars) == 0 {
		return fmt.Errorf("discover characteristic: %w", err)
	}
	char := chars[0]

	buf := make([]byte, 512)
	sensorID := c.cfg.SensorID
	if sensorID == "" {
		sensorID = device.Address.String()
	}
	encoding := c.cfg.Encoding
	if encoding == "" {
		encoding = message.EncodingJSON
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := char.Read(buf)
		if err != nil {
			return fmt.Errorf("read characteristic: %w", err)
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])
		m := message.New(sensorID, payload, encoding)
		if c.cfg.Pipeline != "" {
			m = m.WithPipeline(c.cfg.Pipeline)
		}
		c.on(m)

		c.sleep(ctx)
	}
}

func (c *BLEConnector) sleep(ctx context.Context) {
	select {
	case <-time.After(c.cfg.PollInterval):
	case <-ctx.Done():
	}
}
