// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package policy

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, threshold int, cooldown time.Duration) (*Store, *Tracker) {
	t.Helper()
	cfg := DefaultStoreConfig()
	cfg.URL = "localhost:8080"
	cfg.RetryAttempts = 0
	cfg.CircuitThreshold = threshold
	cfg.CircuitCooldown = cooldown
	cfg.Logger = quietLogger()
	cfg.applyDefaults()
	require.NoError(t, cfg.Validate())

	s := newStore(nil, cfg)
	tr := NewTracker("policy_retrieval", quietLogger())
	s.RegisterHandler(tr)
	return s, tr
}

func TestStoreConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*StoreConfig)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *StoreConfig) {}},
		{name: "missing url", mutate: func(c *StoreConfig) { c.URL = "" }, wantErr: true},
		{name: "negative retries", mutate: func(c *StoreConfig) { c.RetryAttempts = -1 }, wantErr: true},
		{name: "zero threshold", mutate: func(c *StoreConfig) { c.CircuitThreshold = 0 }, wantErr: true},
		{name: "zero window", mutate: func(c *StoreConfig) { c.CircuitWindow = 0 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultStoreConfig()
			cfg.URL = "localhost:8080"
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStore_CircuitOpensAndRecovers(t *testing.T) {
	s, tr := testStore(t, 2, 20*time.Millisecond)
	boom := errors.New("boom")
	ctx := context.Background()

	err := s.Execute(ctx, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateDegraded, s.State())
	assert.Equal(t, ModeDegraded, tr.Mode())

	err = s.Execute(ctx, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateCircuitOpen, s.State())
	assert.True(t, tr.ShouldSkip())

	called := false
	err = s.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	time.Sleep(30 * time.Millisecond)
	err = s.Execute(ctx, func(context.Context) error { called = true; return nil })
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, StateConnected, s.State())
	assert.Equal(t, ModeNormal, tr.Mode())
}

func TestStore_FailedProbeReopens(t *testing.T) {
	s, tr := testStore(t, 1, 10*time.Millisecond)
	ctx := context.Background()

	_ = s.Execute(ctx, func(context.Context) error { return errors.New("boom") })
	require.Equal(t, StateCircuitOpen, s.State())

	time.Sleep(20 * time.Millisecond)
	_ = s.Execute(ctx, func(context.Context) error { return errors.New("still down") })
	assert.Equal(t, StateCircuitOpen, s.State())
	assert.Equal(t, ModeDisabled, tr.Mode())
}

func TestStore_RetriesNetworkErrors(t *testing.T) {
	cfg := DefaultStoreConfig()
	cfg.URL = "localhost:8080"
	cfg.RetryAttempts = 2
	cfg.RetryBackoff = time.Millisecond
	cfg.MaxRetryBackoff = 2 * time.Millisecond
	cfg.Logger = quietLogger()
	cfg.applyDefaults()
	s := newStore(nil, cfg)

	attempts := 0
	err := s.Execute(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return &net.OpError{Op: "dial", Err: errors.New("connection refused")}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestStore_Closed(t *testing.T) {
	s, _ := testStore(t, 2, time.Second)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Execute(context.Background(), func(context.Context) error { return nil }), ErrStoreClosed)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, isRetryable(nil))
	assert.False(t, isRetryable(context.Canceled))
	assert.True(t, isRetryable(context.DeadlineExceeded))
	assert.True(t, isRetryable(&net.OpError{Op: "read", Err: errors.New("reset")}))
	assert.False(t, isRetryable(errors.New("422 unprocessable")))
}

func TestConnectionState_String(t *testing.T) {
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "circuit_open", StateCircuitOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
	assert.Equal(t, "unknown", ConnectionState(42).String())
}
