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
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/awnumar/memguard"
)

// ErrSecretNotSet is returned by Reveal on an empty Secret.
var ErrSecretNotSet = errors.New("secret not set")

// Secret holds a credential encrypted in memory. The zero value is an
// unset secret.
type Secret struct {
	enclave *memguard.Enclave
}

// NewSecret seals value into an enclave. value is wiped.
func NewSecret(value []byte) Secret {
	value = bytes.TrimSpace(value)
	if len(value) == 0 {
		return Secret{}
	}
	return Secret{enclave: memguard.NewEnclave(value)}
}

// IsSet reports whether the secret holds a value.
func (s Secret) IsSet() bool {
	return s.enclave != nil
}

// Reveal decrypts the secret into a string. The caller owns the copy.
func (s Secret) Reveal() (string, error) {
	if s.enclave == nil {
		return "", ErrSecretNotSet
	}
	buf, err := s.enclave.Open()
	if err != nil {
		return "", fmt.Errorf("open secret: %w", err)
	}
	defer buf.Destroy()
	return string(buf.Bytes()), nil
}

// String never prints the value.
func (s Secret) String() string {
	if s.IsSet() {
		return "[REDACTED]"
	}
	return "[unset]"
}

// Secrets are the credentials the orchestrator may need.
type Secrets struct {
	OpenAIKey   Secret
	WeaviateKey Secret
	InfluxToken Secret
	// ReviewToken guards the review endpoints when set.
	ReviewToken Secret
}

// LoadSecrets reads each secret from its environment variable, falling
// back to a file of the same lower-case name in c.SecretsDir. Missing
// secrets are left unset; whether that is an error is up to the caller.
func (c *Config) LoadSecrets() error {
	entries := []struct {
		env  string
		file string
		dst  *Secret
	}{
		{"OPENAI_API_KEY", "openai_api_key", &c.Secrets.OpenAIKey},
		{"WEAVIATE_API_KEY", "weaviate_api_key", &c.Secrets.WeaviateKey},
		{"INFLUXDB_TOKEN", "influxdb_token", &c.Secrets.InfluxToken},
		{"ALTITUDE_REVIEW_TOKEN", "altitude_review_token", &c.Secrets.ReviewToken},
	}
	for _, e := range entries {
		if v := os.Getenv(e.env); v != "" {
			*e.dst = NewSecret([]byte(v))
			continue
		}
		if c.SecretsDir == "" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(c.SecretsDir, e.file))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read secret %s: %w", e.file, err)
		}
		*e.dst = NewSecret(data)
	}
	return nil
}

// RequireSecrets reports the secrets the configured backends need but
// that are unset.
func (c *Config) RequireSecrets() error {
	var missing []error
	if c.LLM.Backend == BackendOpenAI && !c.Secrets.OpenAIKey.IsSet() {
		missing = append(missing, errors.New("OPENAI_API_KEY is required for the openai backend"))
	}
	if c.Policy.WeaviateURL != "" && !c.Secrets.OpenAIKey.IsSet() {
		missing = append(missing, errors.New("OPENAI_API_KEY is required for policy embeddings"))
	}
	if c.Influx.Enabled() && !c.Secrets.InfluxToken.IsSet() {
		missing = append(missing, errors.New("INFLUXDB_TOKEN is required when influx.url is set"))
	}
	return errors.Join(missing...)
}
