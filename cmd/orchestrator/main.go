package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"tinygo.org/x/bluetooth"

	"github.com/edgeinfer/orchestrator/internal/agent"
	"github.com/edgeinfer/orchestrator/internal/circuitbreaker"
	"github.com/edgeinfer/orchestrator/internal/config"
	"github.com/edgeinfer/orchestrator/internal/connector"
	"github.com/edgeinfer/orchestrator/internal/dispatcher"
	"github.com/edgeinfer/orchestrator/internal/gatewaypool"
	"github.com/edgeinfer/orchestrator/internal/message"
	"github.com/edgeinfer/orchestrator/internal/metrics"
	"github.com/edgeinfer/orchestrator/internal/pipeline"
	"github.com/edgeinfer/orchestrator/internal/plugins"
	"github.com/edgeinfer/orchestrator/internal/scheduler"
)

func main() {
	configPath := flag.String("config", "", "path to the orchestrator's YAML configuration file")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "orchestrator: --config PATH is required")
		os.Exit(2)
	}

	if err := run(*configPath); err != nil {
		slog.Error("orchestrator exited with error", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	promReg := prometheus.NewRegistry()
	metricsRegistry := metrics.NewRegistry(promReg)
	metricsServer := metrics.NewServer(cfg.MetricsPort, promReg)
	metricsErrCh := make(chan error, 1)
	if metricsServer != nil {
		metricsServer.Start(metricsErrCh)
		slog.Info("metrics endpoint listening", "port", cfg.MetricsPort)
	}

	breakers := circuitbreaker.NewManager(nil)
	gateway := gatewaypool.New(gatewaypool.Config{
		Addr:        cfg.Gateway.Addr(),
		Capacity:    cfg.Gateway.PoolSize,
		DialTimeout: time.Duration(cfg.Gateway.TimeoutS * float64(time.Second)),
	}, breakers)

	dispatchers, err := buildDispatchers(cfg)
	if err != nil {
		return fmt.Errorf("build dispatchers: %w", err)
	}

	agents, err := buildAgents(cfg)
	if err != nil {
		return fmt.Errorf("build agents: %w", err)
	}

	plugs := plugins.NewDefaultRegistry()

	pipelines, err := buildPipelines(cfg, plugs, agents, dispatchers, gateway)
	if err != nil {
		return fmt.Errorf("build pipelines: %w", err)
	}

	sched := scheduler.New(pipelines, metricsRegistry)

	connectors, err := buildConnectors(cfg, sched.Enqueue)
	if err != nil {
		return fmt.Errorf("build connectors: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched.Start(ctx)

	for _, c := range connectors {
		if err := c.Start(ctx); err != nil {
			slog.Error("connector failed to start", "connector", c.ID(), "error", err)
		}
	}
	slog.Info("orchestrator started", "pipelines", len(pipelines), "connectors", len(connectors))

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining")
	case err := <-metricsErrCh:
		slog.Error("metrics server failed", "error", err)
	}

	shutdown(connectors, sched, agents, dispatchers, gateway, metricsServer)
	return nil
}

// shutdown drains the orchestrator in a fixed order: stop every connector so
// no new message is admitted, drain the scheduler's in-flight workers, stop
// every agent, then close the dispatcher registry, gateway pool, and metrics
// exposition server.
func shutdown(connectors []connector.Connector, sched *scheduler.Scheduler, agents *agent.Registry, dispatchers *dispatcher.Registry, gateway *gatewaypool.Pool, metricsServer *metrics.Server) {
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, c := range connectors {
		if err := c.Stop(stopCtx); err != nil {
			slog.Warn("connector stop failed", "connector", c.ID(), "error", err)
		}
	}

	sched.Stop()

	for _, a := range agents.All() {
		if err := a.Stop(stopCtx); err != nil {
			slog.Warn("agent stop failed", "agent", a.Name(), "error", err)
		}
	}

	if err := dispatchers.CloseAll(stopCtx); err != nil {
		slog.Warn("dispatcher close failed", "error", err)
	}

	if err := gateway.Close(); err != nil {
		slog.Warn("gateway pool close failed", "error", err)
	}

	if metricsServer != nil {
		if err := metricsServer.Stop(stopCtx); err != nil {
			slog.Warn("metrics server stop failed", "error", err)
		}
	}

	slog.Info("orchestrator stopped")
}

func buildAgents(cfg *config.Config) (*agent.Registry, error) {
	reg := agent.NewRegistry()
	for name, ac := range cfg.Agents {
		var a agent.Agent
		switch ac.Type {
		case "threshold":
			a = agent.NewThresholdAgent(name, agent.ThresholdConfig{
				Metric:     optString(ac.Options, "metric", ""),
				Threshold:  optFloat(ac.Options, "threshold", 0.5),
				Dispatcher: optString(ac.Options, "dispatcher", ""),
				Target:     optString(ac.Options, "target", ""),
			})
		case "person_in_zone":
			zone, hasZone := optZone(ac.Options, "zone")
			a = agent.NewPersonInZoneAgent(name, agent.PersonInZoneConfig{
				PersonLabel: optInt(ac.Options, "person_label", 0),
				Zone:        zone,
				HasZone:     hasZone,
				Dispatcher:  optString(ac.Options, "dispatcher", ""),
				Target:      optString(ac.Options, "target", ""),
			})
		case "snapshot_archive":
			a = agent.NewSnapshotArchiveAgent(name, agent.SnapshotArchiveConfig{
				Dispatcher: optString(ac.Options, "dispatcher", ""),
				Target:     optString(ac.Options, "target", ""),
			})
		default:
			return nil, fmt.Errorf("agent %q: unknown type %q", name, ac.Type)
		}
		if err := reg.Register(a); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func buildDispatchers(cfg *config.Config) (*dispatcher.Registry, error) {
	reg := dispatcher.NewRegistry()
	for name, ac := range cfg.Actions {
		var d dispatcher.Dispatcher
		switch ac.Type {
		case "log":
			d = dispatcher.NewLogDispatcher(name)
		case "mqtt":
			var err error
			d, err = dispatcher.NewMQTTDispatcher(name, dispatcher.MQTTConfig{
				Broker:   optString(ac.Options, "broker", ""),
				ClientID: optString(ac.Options, "client_id", name),
				Username: optString(ac.Options, "username", ""),
				Password: optString(ac.Options, "password", ""),
				Topic:    optString(ac.Options, "topic", ""),
				QoS:      byte(optInt(ac.Options, "qos", 0)),
				Retain:   optBool(ac.Options, "retain", false),
			})
			if err != nil {
				return nil, err
			}
		case "webhook":
			d = dispatcher.NewWebhookDispatcher(name, dispatcher.WebhookConfig{
				URL:     optString(ac.Options, "url", ""),
				Method:  optString(ac.Options, "method", ""),
				Secret:  optString(ac.Options, "secret", ""),
				Timeout: optDuration(ac.Options, "timeout", 0),
				Workers: optInt(ac.Options, "workers", 0),
			})
		case "pubsub":
			var err error
			d, err = dispatcher.NewPubSubDispatcher(context.Background(), name, dispatcher.PubSubConfig{
				ProjectID: optString(ac.Options, "project_id", ""),
				TopicID:   optString(ac.Options, "topic_id", ""),
			})
			if err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("action %q: unknown type %q", name, ac.Type)
		}
		if err := reg.Register(d); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func buildPipelines(cfg *config.Config, plugs *plugins.Registry, agents *agent.Registry, dispatchers *dispatcher.Registry, gateway *gatewaypool.Pool) (map[string]*pipeline.Pipeline, error) {
	pipelines := make(map[string]*pipeline.Pipeline, len(cfg.Pipelines))
	for _, pc := range cfg.Pipelines {
		p, err := pipeline.Build(pipeline.Config{
			ID:          pc.ID,
			Preprocess:  pc.Preprocess,
			Model:       pc.Model,
			Postprocess: pc.Postprocess,
			AgentNames:  pc.Agents,
			DeadlineMS:  pc.DeadlineMS,
			MaxParallel: pc.MaxParallel,
		}, plugs, agents, dispatchers, gateway)
		if err != nil {
			return nil, err
		}
		pipelines[pc.ID] = p
	}
	return pipelines, nil
}

func buildConnectors(cfg *config.Config, onMessage connector.OnMessage) ([]connector.Connector, error) {
	conns := make([]connector.Connector, 0, len(cfg.Connectors))
	for _, cc := range cfg.Connectors {
		switch cc.Type {
		case "mqtt":
			routes := make([]connector.TopicRoute, 0, len(cc.Topics))
			for _, t := range cc.Topics {
				routes = append(routes, connector.TopicRoute{
					Filter:   t.Filter,
					Pipeline: t.Pipeline,
					SensorID: t.SensorID,
					Encoding: message.Encoding(t.Serializer),
				})
			}
			conns = append(conns, connector.NewMQTTConnector(cc.ID, connector.MQTTConfig{
				Broker:   optString(cc.Options, "broker", ""),
				ClientID: optString(cc.Options, "client_id", cc.ID),
				Username: optString(cc.Options, "username", ""),
				Password: optString(cc.Options, "password", ""),
				Routes:   routes,
			}, onMessage))
		case "ble":
			svc, err := bluetooth.ParseUUID(optString(cc.Options, "service_uuid", ""))
			if err != nil {
				return nil, fmt.Errorf("connector %q: service_uuid: %w", cc.ID, err)
			}
			char, err := bluetooth.ParseUUID(optString(cc.Options, "characteristic_uuid", ""))
			if err != nil {
				return nil, fmt.Errorf("connector %q: characteristic_uuid: %w", cc.ID, err)
			}
			route := firstRoute(cc)
			c, err := connector.NewBLEConnector(cc.ID, connector.BLEConfig{
				DeviceName:         optString(cc.Options, "device_name", ""),
				ServiceUUID:        svc,
				CharacteristicUUID: char,
				SensorID:           route.SensorID,
				Encoding:           message.Encoding(route.Serializer),
				Pipeline:           route.Pipeline,
				PollInterval:       optDuration(cc.Options, "poll_interval_s", 5*time.Second),
			}, onMessage)
			if err != nil {
				return nil, fmt.Errorf("connector %q: %w", cc.ID, err)
			}
			conns = append(conns, c)
		case "camera":
			route := firstRoute(cc)
			conns = append(conns, connector.NewCameraConnector(cc.ID, connector.CameraConfig{
				URL:      optString(cc.Options, "url", ""),
				SensorID: route.SensorID,
				Encoding: message.Encoding(route.Serializer),
				Pipeline: route.Pipeline,
			}, onMessage))
		case "pubsub":
			route := firstRoute(cc)
			conns = append(conns, connector.NewPubSubConnector(cc.ID, connector.PubSubConfig{
				ProjectID:      optString(cc.Options, "project_id", ""),
				SubscriptionID: optString(cc.Options, "subscription_id", ""),
				SensorID:       route.SensorID,
				Encoding:       message.Encoding(route.Serializer),
				Pipeline:       route.Pipeline,
			}, onMessage))
		default:
			return nil, fmt.Errorf("connector %q: unknown type %q", cc.ID, cc.Type)
		}
	}
	return conns, nil
}

// firstRoute returns a connector's first declared topic route, the common
// case for single-sensor transports (BLE, camera, pubsub) that carry at most
// one route rather than MQTT's full filter set.
func firstRoute(cc config.ConnectorConfig) config.TopicRouteConfig {
	if len(cc.Topics) == 0 {
		return config.TopicRouteConfig{}
	}
	return cc.Topics[0]
}

func optString(opts map[string]interface{}, key, def string) string {
	if v, ok := opts[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

func optFloat(opts map[string]interface{}, key string, def float64) float64 {
	if v, ok := opts[key]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		}
	}
	return def
}

func optInt(opts map[string]interface{}, key string, def int) int {
	if v, ok := opts[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return def
}

func optBool(opts map[string]interface{}, key string, def bool) bool {
	if v, ok := opts[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

func optDuration(opts map[string]interface{}, key string, def time.Duration) time.Duration {
	if v, ok := opts[key]; ok {
		switch n := v.(type) {
		case float64:
			return time.Duration(n * float64(time.Second))
		case int:
			return time.Duration(n) * time.Second
		}
	}
	return def
}

func optZone(opts map[string]interface{}, key string) ([4]float64, bool) {
	v, ok := opts[key]
	if !ok {
		return [4]float64{}, false
	}
	raw, ok := v.([]interface{})
	if !ok || len(raw) != 4 {
		return [4]float64{}, false
	}
	var zone [4]float64
	for i, item := range raw {
		switch n := item.(type) {
		case float64:
			zone[i] = n
		case int:
			zone[i] = float64(n)
		default:
			return [4]float64{}, false
		}
	}
	return zone, true
}
