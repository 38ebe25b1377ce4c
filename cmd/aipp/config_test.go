package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, 10*time.Minute, cfg.WaitTimeout)
	require.Equal(t, "aipp", cfg.Mongo.Database)
	require.Equal(t, "aipp-flows", cfg.Temporal.TaskQueue)
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aipp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http_addr: ":9000"
wait_timeout: 30s
mongo:
  uri: mongodb://db:27017
redis:
  addr: redis:6379
model:
  provider: openai
  model: gpt-4o
  tpm: 1000
`), 0o600))
	t.Setenv("MONGO_DATABASE", "other")
	t.Setenv("AIPP_MODEL_TPM", "2000")

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.HTTPAddr)
	require.Equal(t, 30*time.Second, cfg.WaitTimeout)
	require.Equal(t, "mongodb://db:27017", cfg.Mongo.URI)
	require.Equal(t, "other", cfg.Mongo.Database)
	require.Equal(t, "redis:6379", cfg.Redis.Addr)
	require.Equal(t, "openai", cfg.Model.Provider)
	require.Equal(t, 2000.0, cfg.Model.TPM)
}

func TestLoadConfigValidates(t *testing.T) {
	cases := map[string]string{
		"relay_without_redis":    "streams:\n  relay: true\n",
		"temporal_without_redis": "temporal:\n  host_port: t:7233\n",
		"unknown_provider":       "model:\n  provider: mystery\n",
		"bedrock_without_model":  "model:\n  provider: bedrock\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "aipp.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
			_, err := loadConfig(path)
			require.Error(t, err)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestEnvHelpersIgnoreMalformedValues(t *testing.T) {
	t.Setenv("AIPP_TEST_DURATION", "soon")
	t.Setenv("AIPP_TEST_BOOL", "maybe")
	require.Equal(t, time.Second, envDurationOr("AIPP_TEST_DURATION", time.Second))
	require.True(t, envBoolOr("AIPP_TEST_BOOL", true))
}
