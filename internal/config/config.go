// Package config provides configuration types for the ACP conductor.
//
// The conductor is intentionally minimal: it has no authentication, no
// policy engine, and no persistence across restarts (those are explicit
// non-goals). Configuration covers only what the conductor itself needs to
// start: the pipeline's component connectors, the MCP HTTP bridge's bind
// policy, the log level, and the metrics listener address.
package config

import "github.com/spf13/viper"

// Config is the top-level configuration for the ACP conductor.
type Config struct {
	// Server configures process-wide concerns (logging).
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Pipeline configures the chain of components the conductor sits
	// between: zero or more proxies, then the agent.
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`

	// Bridge configures the MCP-over-HTTP bridge (§4.3).
	Bridge BridgeConfig `yaml:"bridge" mapstructure:"bridge"`

	// Metrics configures the Prometheus /metrics listener.
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`

	// DevMode enables verbose logging and other development conveniences.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures process-wide logging.
type ServerConfig struct {
	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info". DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
}

// PipelineConfig configures the ordered chain of pipeline components
// between the client (always index 0, always the conductor's stdio peer)
// and the agent (always the last component).
type PipelineConfig struct {
	// Proxies are the interior successor-wrapping components, in the order
	// the client-to-agent hop chain visits them. May be empty.
	Proxies []ComponentConfig `yaml:"proxies" mapstructure:"proxies" validate:"omitempty,dive"`

	// Agent is the terminal component every chain ends at.
	Agent ComponentConfig `yaml:"agent" mapstructure:"agent" validate:"required"`
}

// ComponentConfig configures one pipeline component's connector.
type ComponentConfig struct {
	// Name identifies this component in logs and metrics.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`

	// Kind selects the connector adapter: "stdio" spawns Command as a
	// subprocess; "inprocess" is only valid in tests driven by this process
	// itself and has no on-disk representation.
	Kind string `yaml:"kind" mapstructure:"kind" validate:"required,component_kind"`

	// Command is the executable to spawn. Required when Kind is "stdio".
	Command string `yaml:"command" mapstructure:"command"`

	// Args are the arguments passed to Command.
	Args []string `yaml:"args" mapstructure:"args"`
}

// BridgeConfig configures the MCP-over-HTTP bridge.
type BridgeConfig struct {
	// Enabled controls whether the bridge listens at all. When false,
	// mcp/connect is still served over the control channel, but no HTTP
	// listener is started for any acp: tool server.
	// Default: true.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// BindAddr is the host the bridge's per-session HTTP listeners bind to.
	// Every listener binds an ephemeral port on this host; the port is not
	// configurable.
	BindAddr string `yaml:"bind_addr" mapstructure:"bind_addr" validate:"omitempty,hostname|ip"`
}

// MetricsConfig configures the Prometheus /metrics HTTP listener.
type MetricsConfig struct {
	// Enabled controls whether the /metrics listener starts.
	// Default: false (opt-in, since it binds a network listener).
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Addr is the address the metrics listener binds to (e.g. "127.0.0.1:9090").
	Addr string `yaml:"addr" mapstructure:"addr" validate:"omitempty,hostname_port"`
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.DevMode {
		c.Server.LogLevel = "debug"
	}

	for i := range c.Pipeline.Proxies {
		if c.Pipeline.Proxies[i].Kind == "" {
			c.Pipeline.Proxies[i].Kind = "stdio"
		}
	}
	if c.Pipeline.Agent.Kind == "" {
		c.Pipeline.Agent.Kind = "stdio"
	}

	// Only apply the default when the user hasn't explicitly set it in
	// YAML/env, so an explicit "false" survives SetDefaults.
	if !viper.IsSet("bridge.enabled") {
		c.Bridge.Enabled = true
	}
	if c.Bridge.BindAddr == "" {
		c.Bridge.BindAddr = "127.0.0.1"
	}

	if c.Metrics.Addr == "" {
		c.Metrics.Addr = "127.0.0.1:9090"
	}
}
