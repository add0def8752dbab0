// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AltitudeWarning/pkg/logging"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0600))
	return p
}

// clearEnv blanks every variable Load reads so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"ORCHESTRATOR_HOST", "ORCHESTRATOR_PORT", "LOG_LEVEL", "LOG_DIR", "LOG_EXPORT",
		"LLM_BACKEND_TYPE", "OPENAI_MODEL", "OPENAI_EMBEDDING_MODEL", "OPENAI_BASE_URL",
		"WEAVIATE_SERVICE_URL", "POLICY_TOP_K", "ALTITUDE_TRACE_DIR", "ALTITUDE_DECISION_DB",
		"ALTITUDE_RETENTION_DAYS", "ALTITUDE_RETENTION_SCHEDULE", "INFLUXDB_URL", "INFLUXDB_ORG",
		"INFLUXDB_BUCKET", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_TRACES_EXPORTER",
		"OTEL_METRICS_EXPORTER", "ALTITUDE_SECRETS_DIR",
		"OPENAI_API_KEY", "WEAVIATE_API_KEY", "INFLUXDB_TOKEN", "ALTITUDE_REVIEW_TOKEN",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 12210, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:12210", cfg.Server.Addr())
	assert.Equal(t, BackendRules, cfg.LLM.Backend)
	assert.Equal(t, 0.7, cfg.Thresholds.HITLRisk)
	assert.Equal(t, 0.6, cfg.Thresholds.HITLConfidence)
	assert.Equal(t, 3, cfg.Policy.TopK)
	assert.Equal(t, 24*time.Hour, cfg.Storage.TraceTTL)
	assert.False(t, cfg.Influx.Enabled())
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, t.TempDir(), "orchestrator.yaml", `
server:
  port: 8080
  event_timeout: 5s
llm:
  backend: openai
  model: gpt-4o
thresholds:
  hitl_risk: 0.65
  hitl_confidence: 0.55
  alert_risk: 0.8
  auto_notify_confidence: 0.75
  horizon_seconds: 10
influx:
  url: http://influx:8086
  org: ops
  bucket: altitude
`)
	t.Setenv("ORCHESTRATOR_PORT", "9999")
	t.Setenv("OPENAI_MODEL", `"gpt-4o-mini"`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port, "env beats file")
	assert.Equal(t, 5*time.Second, cfg.Server.EventTimeout)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model, "quotes are trimmed")
	assert.Equal(t, 0.65, cfg.Thresholds.HITLRisk)
	assert.Equal(t, 10, cfg.Thresholds.HorizonSeconds)
	assert.True(t, cfg.Influx.Enabled())
	assert.Equal(t, time.Duration(10*time.Second), cfg.Server.ShutdownTimeout, "unset keys keep defaults")
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		yaml string
		env  map[string]string
	}{
		{name: "unknown key", yaml: "server:\n  prot: 1\n"},
		{name: "bad backend", yaml: "llm:\n  backend: gemini\n"},
		{name: "threshold range", yaml: "thresholds:\n  hitl_risk: 1.5\n  hitl_confidence: 0.6\n  alert_risk: 0.8\n  auto_notify_confidence: 0.75\n  horizon_seconds: 8\n"},
		{name: "influx without org", yaml: "influx:\n  url: http://influx:8086\n  bucket: b\n"},
		{name: "bad level", yaml: "logging:\n  level: chatty\n"},
		{name: "port env not int", env: map[string]string{"ORCHESTRATOR_PORT": "http"}},
		{name: "port out of range", env: map[string]string{"ORCHESTRATOR_PORT": "70000"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.yaml != "" {
				path = writeFile(t, dir, "c.yaml", tt.yaml)
			}
			_, err := Load(path)
			assert.Error(t, err)
		})
	}

	clearEnv(t)
	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate_WrapsSentinel(t *testing.T) {
	cfg := Default()
	cfg.Policy.TopK = 0
	err := cfg.Validate()
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "TopK")
}

func TestLoggerConfig(t *testing.T) {
	lc, err := LoggingConfig{Level: "debug", Dir: "/tmp/logs", JSON: true}.LoggerConfig(logging.ServiceOrchestrator)
	require.NoError(t, err)
	assert.Equal(t, logging.LevelDebug, lc.Level)
	assert.Equal(t, "/tmp/logs", lc.LogDir)
	assert.Equal(t, logging.ServiceOrchestrator, lc.Service)
	assert.Nil(t, lc.Exporter)
}

func TestLoggerConfig_Export(t *testing.T) {
	lc, err := LoggingConfig{Level: "info", Export: "stdout"}.LoggerConfig(logging.ServiceCLI)
	require.NoError(t, err)
	assert.IsType(t, &logging.JSONExporter{}, lc.Exporter)

	path := filepath.Join(t.TempDir(), "altitude.jsonl")
	lc, err = LoggingConfig{Level: "info", Export: path}.LoggerConfig(logging.ServiceOrchestrator)
	require.NoError(t, err)
	logger := logging.New(lc)
	logger.Slog().Info("event decided")
	require.NoError(t, logger.Close())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"event decided"`)

	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))
	_, err = LoggingConfig{Export: filepath.Join(blocker, "x.jsonl")}.LoggerConfig(logging.ServiceCLI)
	assert.ErrorContains(t, err, "logging.export")
}

func TestLoad_LogExportEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOG_EXPORT", "stderr")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "stderr", cfg.Logging.Export)
}

func TestSecret(t *testing.T) {
	var unset Secret
	assert.False(t, unset.IsSet())
	_, err := unset.Reveal()
	assert.ErrorIs(t, err, ErrSecretNotSet)
	assert.Equal(t, "[unset]", unset.String())

	s := NewSecret([]byte("  sk-test \n"))
	require.True(t, s.IsSet())
	v, err := s.Reveal()
	require.NoError(t, err)
	assert.Equal(t, "sk-test", v)
	assert.Equal(t, "[REDACTED]", s.String())

	assert.False(t, NewSecret([]byte("   ")).IsSet())
}

func TestLoadSecrets(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeFile(t, dir, "influxdb_token", "file-token\n")
	writeFile(t, dir, "altitude_review_token", "review-token")
	t.Setenv("OPENAI_API_KEY", "env-key")

	cfg := Default()
	cfg.SecretsDir = dir
	require.NoError(t, cfg.LoadSecrets())

	key, err := cfg.Secrets.OpenAIKey.Reveal()
	require.NoError(t, err)
	assert.Equal(t, "env-key", key)

	token, err := cfg.Secrets.InfluxToken.Reveal()
	require.NoError(t, err)
	assert.Equal(t, "file-token", token)
	assert.False(t, cfg.Secrets.WeaviateKey.IsSet())
	assert.True(t, cfg.Secrets.ReviewToken.IsSet())
}

func TestRequireSecrets(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.RequireSecrets(), "rules backend needs nothing")

	cfg.LLM.Backend = BackendOpenAI
	cfg.Influx = InfluxConfig{URL: "http://influx:8086", Org: "o", Bucket: "b"}
	err := cfg.RequireSecrets()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")
	assert.Contains(t, err.Error(), "INFLUXDB_TOKEN")

	cfg.Secrets.OpenAIKey = NewSecret([]byte("k"))
	cfg.Secrets.InfluxToken = NewSecret([]byte("t"))
	assert.NoError(t, cfg.RequireSecrets())
}
