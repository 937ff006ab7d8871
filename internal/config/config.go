// Package config loads and validates the gateway's JSON configuration
// file (spec §6). The teacher's internal/config/config.go loads YAML in
// three layers (defaults -> file -> env -> validate); this keeps that
// layering but switches to encoding/json because spec §6 names a JSON
// config file as an external interface, not a free implementation choice.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/tributary-ai/agent-gateway/internal/types"
)

type ModelConfig struct {
	Primary   string   `json:"primary"`
	Fallbacks []string `json:"fallbacks"`
}

type AgentDefaults struct {
	Model      ModelConfig `json:"model"`
	ImageModel ModelConfig `json:"imageModel"`
}

type AgentsConfig struct {
	Defaults AgentDefaults `json:"defaults"`
}

type GatewayConfig struct {
	Port      int    `json:"port"`
	Bind      string `json:"bind"` // lan | loopback | explicit IP
	Mode      string `json:"mode"`
	AuthToken string `json:"authToken"`
	Strategy  string `json:"strategy"` // routing.Strategy value, defaults to health_aware

	// BridgeBinary, when set, is the path to the messaging-transport
	// helper process spawned over stdin/stdout JSON-RPC (spec §6). Left
	// empty, the gateway runs with the Chat API only.
	BridgeBinary string   `json:"bridgeBinary"`
	BridgeArgs   []string `json:"bridgeArgs"`
	PrintQR      bool     `json:"printQr"`
}

// EndpointConfig is the JSON shape of one pool.Endpoint catalog entry.
type EndpointConfig struct {
	ID              string   `json:"id"`
	DisplayName     string   `json:"displayName"`
	Provider        string   `json:"provider"`
	BaseURL         string   `json:"baseUrl"`
	Dialect         string   `json:"dialect"`
	Tier            int      `json:"tier"`
	ContextWindow   int      `json:"contextWindow"`
	MaxOutputTokens int      `json:"maxOutputTokens"`
	Streaming       bool     `json:"streaming"`
	FunctionCalling bool     `json:"functionCalling"`
	Vision          bool     `json:"vision"`
	RequestsPerMin  int      `json:"requestsPerMinute"`
	TokensPerMin    int      `json:"tokensPerMinute"`
}

type EnvConfig struct {
	NvidiaAPIKey string `json:"NVIDIA_API_KEY"`
}

// Config is the full parsed JSON config file shape (spec §6).
type Config struct {
	Env           EnvConfig           `json:"env"`
	Agents        AgentsConfig        `json:"agents"`
	Gateway       GatewayConfig       `json:"gateway"`
	WhatsApp      types.ChannelConfig `json:"whatsapp"`
	MaxConcurrent int                 `json:"maxConcurrent"`
	Endpoints     []EndpointConfig    `json:"endpoints"`

	// AuthDir is validated for readability at startup; it is not itself
	// an external-interface key named in §6's table, but the bridge init
	// call requires it, so it is carried alongside whatsapp.*.
	AuthDir string `json:"authDir"`
}

func defaults() Config {
	return Config{
		Gateway: GatewayConfig{
			Port: 18789,
			Bind: "loopback",
			Mode: "standard",
		},
		WhatsApp: types.ChannelConfig{
			DMPolicy:    "pairing",
			GroupPolicy: "disabled",
			MediaMaxMB:  16,
			DebounceMS:  0,
		},
		MaxConcurrent: 4,
	}
}

// Load reads the JSON config file at path, layering it over defaults,
// then validates the result. A missing mandatory API key, bad port, or
// other validation failure is returned as an error; the caller (cmd/gateway)
// is responsible for logging it (without secrets) and exiting 1.
func Load(path string) (*Config, error) {
	cfg := defaults()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if env := os.Getenv("NVIDIA_API_KEY"); env != "" {
		cfg.Env.NvidiaAPIKey = env
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validDMPolicies = map[string]bool{"disabled": true, "allowlist": true, "pairing": true, "open": true}
var validGroupPolicies = map[string]bool{"disabled": true, "allowlist": true, "open": true}
var validBinds = map[string]bool{"lan": true, "loopback": true}

func validate(cfg *Config) error {
	if cfg.Gateway.Port < 1 || cfg.Gateway.Port > 65535 {
		return fmt.Errorf("config: gateway.port %d out of range 1..65535", cfg.Gateway.Port)
	}
	if cfg.Env.NvidiaAPIKey == "" {
		return fmt.Errorf("config: missing required API key (env.NVIDIA_API_KEY or $NVIDIA_API_KEY)")
	}
	if cfg.Agents.Defaults.Model.Primary == "" {
		return fmt.Errorf("config: agents.defaults.model.primary is required")
	}
	if len(cfg.Endpoints) == 0 {
		return fmt.Errorf("config: endpoints must declare at least one upstream")
	}
	if !validBinds[cfg.Gateway.Bind] {
		if net.ParseIP(cfg.Gateway.Bind) == nil {
			return fmt.Errorf("config: gateway.bind %q is not lan, loopback, or a valid IP", cfg.Gateway.Bind)
		}
	}
	if !validDMPolicies[cfg.WhatsApp.DMPolicy] {
		return fmt.Errorf("config: unknown whatsapp.dm_policy %q", cfg.WhatsApp.DMPolicy)
	}
	if !validGroupPolicies[cfg.WhatsApp.GroupPolicy] {
		return fmt.Errorf("config: unknown whatsapp.group_policy %q", cfg.WhatsApp.GroupPolicy)
	}
	if cfg.WhatsApp.MediaMaxMB < 0 {
		return fmt.Errorf("config: whatsapp.media_max_mb must be non-negative")
	}
	if cfg.WhatsApp.DebounceMS < 0 {
		return fmt.Errorf("config: whatsapp.debounce_ms must be non-negative")
	}
	if cfg.MaxConcurrent < 0 {
		return fmt.Errorf("config: maxConcurrent must be non-negative")
	}
	if cfg.AuthDir != "" {
		if info, err := os.Stat(cfg.AuthDir); err != nil || !info.IsDir() {
			return fmt.Errorf("config: authDir %q is not a readable directory", cfg.AuthDir)
		}
	}
	return nil
}

// EffectivePort returns the configured port as a string for net.Listen.
func (c *Config) EffectivePort() string {
	return strconv.Itoa(c.Gateway.Port)
}
