package agenthub

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// EnvConfig carries the environment-level overrides. Everything else lives
// in <root>/system/config.json.
type EnvConfig struct {
	Root            string `envconfig:"AGENTHUB_ROOT"`
	MaxPayloadBytes int64  `envconfig:"AGENTHUB_MAX_PAYLOAD_BYTES"`
	ClientID        string `envconfig:"AGENTHUB_CLIENT_ID"`
	LogLevel        string `envconfig:"AGENTHUB_LOG_LEVEL" default:"info"`
	ListenAddr      string `envconfig:"AGENTHUB_ADDR" default:":8321"`
}

func LoadEnvConfig() (EnvConfig, error) {
	var cfg EnvConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return EnvConfig{}, err
	}
	return cfg, nil
}

// SystemConfig holds the engine tunables persisted in system/config.json.
type SystemConfig struct {
	MessageTTLSeconds    int   `json:"messageTtlSeconds"`
	LockStaleSeconds     int   `json:"lockStaleSeconds"`
	LockTimeoutSeconds   int   `json:"lockTimeoutSeconds"`
	LockRetryMillis      int   `json:"lockRetryMillis"`
	PollIntervalMillis   int   `json:"pollIntervalMillis"`
	MaxWaitSeconds       int   `json:"maxWaitSeconds"`
	MaxConcurrentWaiters int   `json:"maxConcurrentWaiters"`
	MaxResourceBytes     int64 `json:"maxResourceBytes"`
	MaxInlineBytes       int64 `json:"maxInlineBytes"`
	MaxJSONDepth         int   `json:"maxJsonDepth"`
}

func defaultSystemConfig() SystemConfig {
	return SystemConfig{
		MessageTTLSeconds:    86400,
		LockStaleSeconds:     30,
		LockTimeoutSeconds:   10,
		LockRetryMillis:      100,
		PollIntervalMillis:   500,
		MaxWaitSeconds:       60,
		MaxConcurrentWaiters: 5,
		MaxResourceBytes:     10 << 20,
		MaxInlineBytes:       256 << 10,
		MaxJSONDepth:         20,
	}
}

func (c SystemConfig) messageTTL() time.Duration {
	return time.Duration(c.MessageTTLSeconds) * time.Second
}

func (c SystemConfig) lockStale() time.Duration {
	return time.Duration(c.LockStaleSeconds) * time.Second
}

func (c SystemConfig) lockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutSeconds) * time.Second
}

func (c SystemConfig) lockRetry() time.Duration {
	return time.Duration(c.LockRetryMillis) * time.Millisecond
}

func (c SystemConfig) pollInterval() time.Duration {
	return time.Duration(c.PollIntervalMillis) * time.Millisecond
}

func (c SystemConfig) maxWait() time.Duration {
	return time.Duration(c.MaxWaitSeconds) * time.Second
}

const systemConfigSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "messageTtlSeconds": {"type": "integer", "minimum": 1},
    "lockStaleSeconds": {"type": "integer", "minimum": 1},
    "lockTimeoutSeconds": {"type": "integer", "minimum": 1},
    "lockRetryMillis": {"type": "integer", "minimum": 1},
    "pollIntervalMillis": {"type": "integer", "minimum": 10},
    "maxWaitSeconds": {"type": "integer", "minimum": 1},
    "maxConcurrentWaiters": {"type": "integer", "minimum": 1},
    "maxResourceBytes": {"type": "integer", "minimum": 1},
    "maxInlineBytes": {"type": "integer", "minimum": 1},
    "maxJsonDepth": {"type": "integer", "minimum": 1}
  },
  "required": [
    "messageTtlSeconds", "lockStaleSeconds", "lockTimeoutSeconds",
    "lockRetryMillis", "pollIntervalMillis", "maxWaitSeconds",
    "maxConcurrentWaiters", "maxResourceBytes", "maxInlineBytes",
    "maxJsonDepth"
  ],
  "additionalProperties": false
}`

func compileConfigSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(systemConfigSchema))
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("config.schema.json", doc); err != nil {
		return nil, err
	}
	return compiler.Compile("config.schema.json")
}

// loadSystemConfig reads system/config.json, writing defaults first if the
// file does not exist yet. The file is validated against the embedded schema
// so a hand-edited config fails loudly at startup instead of misbehaving
// at runtime.
func loadSystemConfig(path string) (SystemConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := defaultSystemConfig()
		if err := atomicWriteJSON(path, cfg); err != nil {
			return SystemConfig{}, fmt.Errorf("write default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return SystemConfig{}, err
	}
	schema, err := compileConfigSchema()
	if err != nil {
		return SystemConfig{}, err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return SystemConfig{}, fmt.Errorf("parse %s: %w", configFileName, err)
	}
	if err := schema.Validate(inst); err != nil {
		return SystemConfig{}, fmt.Errorf("invalid %s: %w", configFileName, err)
	}
	var cfg SystemConfig
	if err := readJSON(path, &cfg); err != nil {
		return SystemConfig{}, err
	}
	return cfg, nil
}
