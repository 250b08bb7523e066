// Package config loads server/client configuration from flags, an optional
// YAML file, and environment-variable defaults, per SPEC_FULL.md §4.13's
// configuration section. Field-doc-comment style follows
// _examples/zalo-moonparty/internal/server/config.go.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// ServerConfig holds everything cmd/xiaoserver needs to start.
type ServerConfig struct {
	// ListenAddr is the TCP control-plane listen address (e.g. ":7890").
	ListenAddr string `yaml:"listen_addr"`

	// DiscoveryPort is the UDP discovery responder port (spec.md §4.2 default 5354).
	DiscoveryPort int `yaml:"discovery_port"`

	// ServerAuth is the auth string clients must present (XIAO_SERVER_AUTH env default).
	ServerAuth string `yaml:"server_auth"`

	// ClientAuth is the auth string this server expects to present back in ServerHello.
	ClientAuth string `yaml:"client_auth"`

	// Version is compared against the peer's Version field during handshake.
	Version string `yaml:"version"`

	// RecordingsDir is where finished recordings (and their zstd archives) are written.
	RecordingsDir string `yaml:"recordings_dir"`

	// MetricsAddr, if non-empty, serves Prometheus metrics on this address.
	MetricsAddr string `yaml:"metrics_addr"`

	// MQTTBroker, if non-empty, enables the event bus's MQTT bridge.
	MQTTBroker string `yaml:"mqtt_broker"`

	// LogLevel is one of debug/info/warn/error.
	LogLevel string `yaml:"log_level"`
}

// ClientConfig holds everything cmd/xiaoclient needs to start.
type ClientConfig struct {
	// ServerAuth is the auth string this client presents in ClientHello; it
	// must match the target server's own ServerAuth (XIAO_SERVER_AUTH env
	// default).
	ServerAuth string `yaml:"server_auth"`

	// ClientAuth is the auth string this client expects the server to
	// present back in ServerHello; it must match the target server's own
	// ClientAuth (XIAO_CLIENT_AUTH env default).
	ClientAuth string `yaml:"client_auth"`

	// Version is compared against the server's Version field during handshake.
	Version string `yaml:"version"`

	// DiscoveryPort is the UDP discovery broadcast port.
	DiscoveryPort int `yaml:"discovery_port"`

	// Device selects the capture/playback device name (empty = null device:
	// silent capture, discarded playback).
	Device string `yaml:"device"`

	// LogLevel is one of debug/info/warn/error.
	LogLevel string `yaml:"log_level"`
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ListenAddr:    ":7890",
		DiscoveryPort: 5354,
		Version:       "1",
		RecordingsDir: "./recordings",
		LogLevel:      "info",
	}
}

// DefaultClientConfig returns a ClientConfig with sensible defaults.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Version:       "1",
		DiscoveryPort: 5354,
		LogLevel:      "info",
	}
}

// applyEnvDefaults fills auth fields from the environment when the flag/
// YAML value was left empty, per SPEC_FULL.md §4.13.
func applyEnvDefaults(serverAuth, clientAuth *string) {
	if *serverAuth == "" {
		*serverAuth = os.Getenv("XIAO_SERVER_AUTH")
	}
	if *clientAuth == "" {
		*clientAuth = os.Getenv("XIAO_CLIENT_AUTH")
	}
}

func loadYAML(path string, out interface{}) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// LoadServer parses args (typically os.Args[1:]) into a ServerConfig,
// merging flags over an optional --config YAML file over defaults, then
// filling auth fields from the environment if still empty.
func LoadServer(args []string) (*ServerConfig, error) {
	cfg := DefaultServerConfig()

	fs := pflag.NewFlagSet("xiaoserver", pflag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML config file")
	fs.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "TCP control-plane listen address")
	fs.IntVar(&cfg.DiscoveryPort, "discovery-port", cfg.DiscoveryPort, "UDP discovery port")
	fs.StringVar(&cfg.ServerAuth, "server-auth", cfg.ServerAuth, "auth string clients must present")
	fs.StringVar(&cfg.ClientAuth, "client-auth", cfg.ClientAuth, "auth string presented to clients in ServerHello")
	fs.StringVar(&cfg.Version, "version-tag", cfg.Version, "handshake version tag")
	fs.StringVar(&cfg.RecordingsDir, "recordings-dir", cfg.RecordingsDir, "directory for recorded WAV files")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "optional Prometheus metrics listen address")
	fs.StringVar(&cfg.MQTTBroker, "mqtt-broker", cfg.MQTTBroker, "optional MQTT broker URL for event publishing")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn, or error")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := loadYAML(*configPath, cfg); err != nil {
		return nil, err
	}
	if err := fs.Parse(args); err != nil { // flags take precedence over the YAML file
		return nil, err
	}

	applyEnvDefaults(&cfg.ServerAuth, &cfg.ClientAuth)
	return cfg, nil
}

// LoadClient parses args into a ClientConfig, same precedence order as
// LoadServer.
func LoadClient(args []string) (*ClientConfig, error) {
	cfg := DefaultClientConfig()

	fs := pflag.NewFlagSet("xiaoclient", pflag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML config file")
	fs.StringVar(&cfg.ServerAuth, "server-auth", cfg.ServerAuth, "auth string presented to the server in ClientHello")
	fs.StringVar(&cfg.ClientAuth, "client-auth", cfg.ClientAuth, "auth string expected back from the server in ServerHello")
	fs.StringVar(&cfg.Version, "version-tag", cfg.Version, "handshake version tag")
	fs.IntVar(&cfg.DiscoveryPort, "discovery-port", cfg.DiscoveryPort, "UDP discovery port")
	fs.StringVar(&cfg.Device, "device", cfg.Device, "capture/playback device name")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn, or error")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := loadYAML(*configPath, cfg); err != nil {
		return nil, err
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	applyEnvDefaults(&cfg.ServerAuth, &cfg.ClientAuth)
	return cfg, nil
}
