// Package config parses the orchestrator's YAML configuration document into
// typed structs, applies environment-variable overrides and defaults, and
// validates cross-references between pipelines, agents, and dispatchers
// before anything is built from it.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v2"
)

// Config is the orchestrator's full configuration surface.
type Config struct {
	Version     int                     `yaml:"version"`
	Gateway     GatewayConfig           `yaml:"gateway"`
	Connectors  []ConnectorConfig       `yaml:"connectors"`
	Pipelines   []PipelineConfig        `yaml:"pipelines"`
	Actions     map[string]ActionConfig `yaml:"actions"`
	Agents      map[string]AgentConfig  `yaml:"agents"`
	MetricsPort int                     `yaml:"metrics_port"`
}

// GatewayConfig configures the remote inference gateway connection pool.
type GatewayConfig struct {
	Host     string  `yaml:"host"`
	Port     int     `yaml:"port"`
	PoolSize int     `yaml:"pool_size"`
	TimeoutS float64 `yaml:"timeout_s"`
}

// Addr returns the gateway's dial address as host:port.
func (g GatewayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

// TopicRouteConfig maps one subscribed topic filter to a pipeline and
// payload encoding.
type TopicRouteConfig struct {
	Filter     string `yaml:"filter"`
	Pipeline   string `yaml:"pipeline"`
	Serializer string `yaml:"serializer"`
	SensorID   string `yaml:"sensor_id"`
}

// ConnectorConfig configures one ingress connector instance.
type ConnectorConfig struct {
	ID      string                 `yaml:"id"`
	Type    string                 `yaml:"type"`
	Options map[string]interface{} `yaml:"options"`
	Topics  []TopicRouteConfig     `yaml:"topics"`
}

// PipelineConfig configures one named processing pipeline.
type PipelineConfig struct {
	ID          string   `yaml:"id"`
	Preprocess  string   `yaml:"preprocess"`
	Model       string   `yaml:"model"`
	Postprocess string   `yaml:"postprocess"`
	Agents      []string `yaml:"agents"`
	DeadlineMS  int64    `yaml:"deadline_ms"`
	MaxParallel int      `yaml:"max_parallel"`
}

// ActionConfig configures one named dispatcher instance.
type ActionConfig struct {
	Type    string                 `yaml:"type"`
	Options map[string]interface{} `yaml:"options"`
}

// AgentConfig configures one named agent instance.
type AgentConfig struct {
	Type    string                 `yaml:"type"`
	Options map[string]interface{} `yaml:"options"`
}

// Load reads and parses the YAML document at path, applies environment
// overrides and defaults, and validates cross-references. Unlike a
// singleton loaded from an implicit CONFIG_PATH, this orchestrator always
// takes its configuration path explicitly from the --config flag, so
// callers own the single Config value instead of reaching for a package
// global.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Gateway.Host = getEnv("ORCHESTRATOR_GATEWAY_HOST", c.Gateway.Host)
	if v := getEnvInt("ORCHESTRATOR_GATEWAY_PORT", 0); v > 0 {
		c.Gateway.Port = v
	}
	if v := getEnvInt("ORCHESTRATOR_GATEWAY_POOL_SIZE", 0); v > 0 {
		c.Gateway.PoolSize = v
	}
	if v := getEnvInt("ORCHESTRATOR_METRICS_PORT", -1); v >= 0 {
		c.MetricsPort = v
	}
}

func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Gateway.Host == "" {
		c.Gateway.Host = "127.0.0.1"
	}
	if c.Gateway.Port == 0 {
		c.Gateway.Port = 8008
	}
	if c.Gateway.PoolSize == 0 {
		c.Gateway.PoolSize = 4
	}
	if c.Gateway.TimeoutS == 0 {
		c.Gateway.TimeoutS = 2.0
	}
	// MaxParallel == 0 means unbounded; no default to apply.
}

// Validate checks that every pipeline's agent references and every agent's
// dispatcher option name something this document actually defines, and that
// every connector route
// names a defined pipeline. It also requires a non-empty preprocess ref,
// the one pipeline field that isn't optional. Beyond that, unknown
// preprocess/postprocess refs are left to the plugin registry to reject at
// pipeline-build time, since those names resolve against a compile-time
// table this package knows nothing about.
func (c *Config) Validate() error {
	pipelineIDs := make(map[string]bool, len(c.Pipelines))
	for _, p := range c.Pipelines {
		if p.ID == "" {
			return fmt.Errorf("pipeline with empty id")
		}
		if pipelineIDs[p.ID] {
			return fmt.Errorf("duplicate pipeline id %q", p.ID)
		}
		pipelineIDs[p.ID] = true

		if p.Preprocess == "" {
			return fmt.Errorf("pipeline %q: preprocess is required", p.ID)
		}

		for _, agentName := range p.Agents {
			if _, ok := c.Agents[agentName]; !ok {
				return fmt.Errorf("pipeline %q references unknown agent %q", p.ID, agentName)
			}
		}
	}

	for name, a := range c.Agents {
		dispatcherName, ok := a.Options["dispatcher"].(string)
		if !ok || dispatcherName == "" {
			continue
		}
		if _, ok := c.Actions[dispatcherName]; !ok {
			return fmt.Errorf("agent %q references unknown dispatcher %q", name, dispatcherName)
		}
	}

	for _, conn := range c.Connectors {
		if conn.ID == "" {
			return fmt.Errorf("connector with empty id")
		}
		for _, route := range conn.Topics {
			if route.Pipeline != "" && !pipelineIDs[route.Pipeline] {
				return fmt.Errorf("connector %q routes to unknown pipeline %q", conn.ID, route.Pipeline)
			}
		}
	}

	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

