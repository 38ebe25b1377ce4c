package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type (
	// config is the process configuration. Empty backend sections select the
	// in-memory implementation of the matching store.
	config struct {
		HTTPAddr    string        `yaml:"http_addr"`
		Debug       bool          `yaml:"debug"`
		WaitTimeout time.Duration `yaml:"wait_timeout"`

		Mongo    mongoConfig    `yaml:"mongo"`
		Redis    redisConfig    `yaml:"redis"`
		Temporal temporalConfig `yaml:"temporal"`
		Model    modelConfig    `yaml:"model"`
		Broker   brokerConfig   `yaml:"broker"`
		Share    shareConfig    `yaml:"share"`
		Streams  streamsConfig  `yaml:"streams"`
	}

	mongoConfig struct {
		URI      string `yaml:"uri"`
		Database string `yaml:"database"`
	}

	redisConfig struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		// Cluster names the replicated maps shared by the nodes of one
		// deployment.
		Cluster string `yaml:"cluster"`
	}

	temporalConfig struct {
		HostPort  string `yaml:"host_port"`
		Namespace string `yaml:"namespace"`
		TaskQueue string `yaml:"task_queue"`
	}

	modelConfig struct {
		// Provider is one of anthropic, openai or bedrock. Empty disables
		// the model proxy.
		Provider string  `yaml:"provider"`
		APIKey   string  `yaml:"api_key"`
		BaseURL  string  `yaml:"base_url"`
		Model    string  `yaml:"model"`
		Region   string  `yaml:"region"`
		TPM      float64 `yaml:"tpm"`
		MaxTPM   float64 `yaml:"max_tpm"`
	}

	brokerConfig struct {
		// Listen serves in-process fitables over gRPC when set.
		Listen string `yaml:"listen"`
		// Remote is the address of the broker invoked for custom memory.
		Remote string `yaml:"remote"`
	}

	shareConfig struct {
		URL string `yaml:"url"`
	}

	streamsConfig struct {
		// Relay routes session messages through Pulse streams. Requires
		// Redis.
		Relay  bool `yaml:"relay"`
		MaxLen int  `yaml:"max_len"`
	}
)

func defaultConfig() config {
	return config{
		HTTPAddr:    ":8080",
		WaitTimeout: 10 * time.Minute,
		Mongo:       mongoConfig{Database: "aipp"},
		Redis:       redisConfig{Cluster: "aipp"},
		Temporal:    temporalConfig{Namespace: "default", TaskQueue: "aipp-flows"},
		Model:       modelConfig{TPM: 60000},
	}
}

// loadConfig reads the optional YAML file at path over the defaults and
// applies environment overrides.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.HTTPAddr = envOr("AIPP_HTTP_ADDR", cfg.HTTPAddr)
	cfg.Debug = envBoolOr("AIPP_DEBUG", cfg.Debug)
	cfg.WaitTimeout = envDurationOr("AIPP_WAIT_TIMEOUT", cfg.WaitTimeout)
	cfg.Mongo.URI = envOr("MONGO_URI", cfg.Mongo.URI)
	cfg.Mongo.Database = envOr("MONGO_DATABASE", cfg.Mongo.Database)
	cfg.Redis.Addr = envOr("REDIS_URL", cfg.Redis.Addr)
	cfg.Redis.Password = envOr("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.Cluster = envOr("AIPP_CLUSTER", cfg.Redis.Cluster)
	cfg.Temporal.HostPort = envOr("TEMPORAL_HOST_PORT", cfg.Temporal.HostPort)
	cfg.Temporal.Namespace = envOr("TEMPORAL_NAMESPACE", cfg.Temporal.Namespace)
	cfg.Temporal.TaskQueue = envOr("TEMPORAL_TASK_QUEUE", cfg.Temporal.TaskQueue)
	cfg.Model.Provider = envOr("AIPP_MODEL_PROVIDER", cfg.Model.Provider)
	cfg.Model.APIKey = envOr("AIPP_MODEL_API_KEY", cfg.Model.APIKey)
	cfg.Model.BaseURL = envOr("AIPP_MODEL_BASE_URL", cfg.Model.BaseURL)
	cfg.Model.Model = envOr("AIPP_MODEL", cfg.Model.Model)
	cfg.Model.Region = envOr("AWS_REGION", cfg.Model.Region)
	cfg.Model.TPM = envFloatOr("AIPP_MODEL_TPM", cfg.Model.TPM)
	cfg.Model.MaxTPM = envFloatOr("AIPP_MODEL_MAX_TPM", cfg.Model.MaxTPM)
	cfg.Broker.Listen = envOr("AIPP_BROKER_LISTEN", cfg.Broker.Listen)
	cfg.Broker.Remote = envOr("AIPP_BROKER_REMOTE", cfg.Broker.Remote)
	cfg.Share.URL = envOr("AIPP_SHARE_URL", cfg.Share.URL)
	cfg.Streams.Relay = envBoolOr("AIPP_STREAM_RELAY", cfg.Streams.Relay)
	return cfg, cfg.validate()
}

func (c config) validate() error {
	if c.HTTPAddr == "" {
		return errors.New("http address is required")
	}
	if c.Streams.Relay && c.Redis.Addr == "" {
		return errors.New("stream relay requires redis")
	}
	if c.Temporal.HostPort != "" && c.Redis.Addr == "" {
		return errors.New("temporal flows require redis for flow definitions")
	}
	switch c.Model.Provider {
	case "", "anthropic", "openai":
	case "bedrock":
		if c.Model.Model == "" {
			return errors.New("bedrock requires a model identifier")
		}
	default:
		return fmt.Errorf("unknown model provider %q", c.Model.Provider)
	}
	return nil
}

// envOr returns the environment variable value or a default.
func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envBoolOr(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envFloatOr(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

// envDurationOr returns the environment variable as duration or a default.
func envDurationOr(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
