// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


// Package config loads the orchestrator configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// environment variables. The result is validated before use. API keys are
// never read from YAML; see LoadSecrets.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AltitudeWarning/pkg/logging"
	"github.com/AleutianAI/AltitudeWarning/pkg/telemetry"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/datatypes"
)

// Backend names for LLMConfig.Backend.
const (
	BackendOpenAI = "openai"
	BackendRules  = "rules"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete orchestrator configuration.
type Config struct {
	Server     ServerConfig         `yaml:"server"`
	Logging    LoggingConfig        `yaml:"logging"`
	LLM        LLMConfig            `yaml:"llm"`
	Thresholds datatypes.Thresholds `yaml:"thresholds"`
	Policy     PolicyConfig         `yaml:"policy"`
	Storage    StorageConfig        `yaml:"storage"`
	Influx     InfluxConfig         `yaml:"influx"`
	Telemetry  telemetry.Config     `yaml:"telemetry"`

	// SecretsDir holds one file per secret, named after the secret.
	SecretsDir string `yaml:"secrets_dir"`

	Secrets Secrets `yaml:"-"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port" validate:"min=1,max=65535"`
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
	// EventTimeout bounds one Process call.
	EventTimeout time.Duration `yaml:"event_timeout" validate:"gt=0"`
}

// Addr returns host:port for http.Server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
	// Export names the log exporter: "none", "stdout", "stderr" or a
	// file path. Exported entries are JSON lines.
	Export string `yaml:"export"`
}

// LoggerConfig converts to a logging.Config for service, opening the
// configured exporter.
func (l LoggingConfig) LoggerConfig(service string) (logging.Config, error) {
	level, _ := logging.ParseLevel(l.Level)
	exporter, err := logging.NewExporter(l.Export)
	if err != nil {
		return logging.Config{}, fmt.Errorf("logging.export: %w", err)
	}
	return logging.Config{Level: level, LogDir: l.Dir, JSON: l.JSON, Service: service, Exporter: exporter}, nil
}

type LLMConfig struct {
	Backend           string  `yaml:"backend" validate:"oneof=openai rules"`
	Model             string  `yaml:"model"`
	EmbeddingModel    string  `yaml:"embedding_model"`
	BaseURL           string  `yaml:"base_url" validate:"omitempty,url"`
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`
	Burst             int     `yaml:"burst" validate:"gte=0"`
}

type PolicyConfig struct {
	// WeaviateURL empty disables retrieval; events are decided without
	// policy context.
	WeaviateURL string `yaml:"weaviate_url"`
	TopK        int    `yaml:"top_k" validate:"min=1,max=20"`
	// Rerank enables the LLM re-ranking pass after keyword ranking.
	Rerank             bool `yaml:"rerank"`
	AllowStartDegraded bool `yaml:"allow_start_degraded"`
}

type StorageConfig struct {
	// TraceDir is the badger directory. Empty keeps traces in memory.
	TraceDir string        `yaml:"trace_dir"`
	TraceTTL time.Duration `yaml:"trace_ttl" validate:"gte=0"`
	// DecisionDB is the sqlite audit log path. Empty disables the log.
	DecisionDB        string `yaml:"decision_db"`
	RetentionDays     int    `yaml:"retention_days" validate:"gte=1"`
	RetentionSchedule string `yaml:"retention_schedule"`
}

type InfluxConfig struct {
	// URL empty disables the time-series sink.
	URL    string `yaml:"url" validate:"omitempty,url"`
	Org    string `yaml:"org" validate:"required_with=URL"`
	Bucket string `yaml:"bucket" validate:"required_with=URL"`
}

// Enabled reports whether decisions are written to InfluxDB.
func (c InfluxConfig) Enabled() bool { return c.URL != "" }

// Default returns the built-in configuration.
func Default() Config {
	tc := telemetry.DefaultConfig()
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            12210,
			ShutdownTimeout: 10 * time.Second,
			EventTimeout:    30 * time.Second,
		},
		Logging:    LoggingConfig{Level: "info"},
		LLM:        LLMConfig{Backend: BackendRules, Burst: 1},
		Thresholds: datatypes.DefaultThresholds(),
		Policy:     PolicyConfig{TopK: 3, AllowStartDegraded: true},
		Storage: StorageConfig{
			TraceTTL:          24 * time.Hour,
			RetentionDays:     30,
			RetentionSchedule: "0 3 * * *",
		},
		Telemetry:  tc,
		SecretsDir: "/run/secrets",
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnv overlays environment variables onto c.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.Trim(v, "\"' ")
		}
	}
	str("ORCHESTRATOR_HOST", &c.Server.Host)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_DIR", &c.Logging.Dir)
	str("LOG_EXPORT", &c.Logging.Export)
	str("LLM_BACKEND_TYPE", &c.LLM.Backend)
	str("OPENAI_MODEL", &c.LLM.Model)
	str("OPENAI_EMBEDDING_MODEL", &c.LLM.EmbeddingModel)
	str("OPENAI_BASE_URL", &c.LLM.BaseURL)
	str("WEAVIATE_SERVICE_URL", &c.Policy.WeaviateURL)
	str("ALTITUDE_TRACE_DIR", &c.Storage.TraceDir)
	str("ALTITUDE_DECISION_DB", &c.Storage.DecisionDB)
	str("ALTITUDE_RETENTION_SCHEDULE", &c.Storage.RetentionSchedule)
	str("INFLUXDB_URL", &c.Influx.URL)
	str("INFLUXDB_ORG", &c.Influx.Org)
	str("INFLUXDB_BUCKET", &c.Influx.Bucket)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Telemetry.OTLPEndpoint)
	str("OTEL_TRACES_EXPORTER", &c.Telemetry.TraceExporter)
	str("OTEL_METRICS_EXPORTER", &c.Telemetry.MetricExporter)
	str("ALTITUDE_SECRETS_DIR", &c.SecretsDir)

	ints := []struct {
		key string
		dst *int
	}{
		{"ORCHESTRATOR_PORT", &c.Server.Port},
		{"POLICY_TOP_K", &c.Policy.TopK},
		{"ALTITUDE_RETENTION_DAYS", &c.Storage.RetentionDays},
	}
	for _, e := range ints {
		v, ok := lookup(e.key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidConfig, e.key, v)
		}
		*e.dst = n
	}
	return nil
}

var validate = validator.New()

// Validate checks every section, reporting the first failing field.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %q", ErrInvalidConfig, fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%w: logging.level: %v", ErrInvalidConfig, err)
	}
	return nil
}
