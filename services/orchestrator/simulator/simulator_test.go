// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package simulator

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "scenario.json")
	require.NoError(t, os.WriteFile(p, []byte(body), 0600))
	return p
}

func TestDefaultEvents(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	events := eventsAt(now)
	require.Len(t, events, 2)

	assert.Equal(t, "D-1001", events[0].DroneID)
	assert.Equal(t, 280.0, events[0].AltitudeFt)
	assert.Equal(t, 3.5, events[0].VerticalSpeedFps)
	assert.Equal(t, 288.0, events[1].AltitudeFt)
	assert.Equal(t, 3.0, events[1].VerticalSpeedFps)
	for _, e := range events {
		assert.NoError(t, e.Validate())
		assert.True(t, e.Timestamp().Equal(now))
	}
	assert.Len(t, DefaultEvents(), 2)
}

func TestLoadScenario(t *testing.T) {
	p := writeScenario(t, `{"events":[{"drone_id":"D-1","lat":1,"lon":2,"altitude_ft":100,"vertical_speed_fps":1,"timestamp_iso":"2025-06-01T12:00:00Z","visibility_km":3}]}`)
	events, err := LoadScenario(p)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].VisibilityKm)
	assert.Equal(t, 3.0, *events[0].VisibilityKm)

	events, err = LoadScenario(writeScenario(t, `{"name":"empty"}`))
	require.NoError(t, err)
	assert.NotNil(t, events)
	assert.Empty(t, events)
}

func TestLoadScenario_Errors(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = LoadScenario(writeScenario(t, `{"events": [`))
	assert.Error(t, err)

	_, err = LoadScenario(writeScenario(t, `{"events":[{"drone_id":"","lat":1,"lon":2,"timestamp_iso":"2025-06-01T12:00:00Z"}]}`))
	assert.ErrorIs(t, err, ErrInvalidEvent)

	_, err = LoadScenario(writeScenario(t, `{"events":[{"drone_id":"D","lat":91,"lon":2,"timestamp_iso":"yesterday"}]}`))
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestResolve(t *testing.T) {
	t.Chdir(t.TempDir())

	events, err := Resolve("")
	require.NoError(t, err)
	assert.Len(t, events, 2, "built-in events when no default file exists")

	_, err = Resolve("missing.json")
	assert.Error(t, err, "an explicit path must exist")

	require.NoError(t, os.MkdirAll(filepath.Dir(DefaultScenarioPath), 0750))
	require.NoError(t, os.WriteFile(DefaultScenarioPath,
		[]byte(`{"events":[{"drone_id":"D-9","lat":0,"lon":0,"timestamp_iso":"2025-06-01T12:00:00Z"}]}`), 0600))
	events, err = Resolve("")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "D-9", events[0].DroneID)
}

func TestRepositoryScenario(t *testing.T) {
	events, err := LoadScenario(filepath.Join("..", "..", "..", DefaultScenarioPath))
	require.NoError(t, err)
	assert.Len(t, events, 3)
}
