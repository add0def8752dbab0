// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/datatypes"
)

// ErrTraceNotFound is returned by TraceStore.Get for unknown or expired ids.
var ErrTraceNotFound = errors.New("trace not found")

// DefaultTraceTTL is how long a stored trace stays readable.
const DefaultTraceTTL = 24 * time.Hour

const traceKeyPrefix = "trace/"

// StoredTrace is the persisted form of one event's trace.
type StoredTrace struct {
	TraceID    string                `json:"trace_id"`
	DroneID    string                `json:"drone_id"`
	Status     datatypes.AlertStatus `json:"status"`
	RecordedAt time.Time             `json:"recorded_at"`
	Steps      []datatypes.TraceStep `json:"trace"`
}

// TraceStore keeps recorded traces in badger, keyed by trace id. Entries
// expire after the configured TTL.
//
// Thread Safety: Safe for concurrent use.
type TraceStore struct {
	db  *BadgerDB
	ttl time.Duration
}

// NewTraceStore wraps db. A non-positive ttl uses DefaultTraceTTL.
func NewTraceStore(db *BadgerDB, ttl time.Duration) *TraceStore {
	if ttl <= 0 {
		ttl = DefaultTraceTTL
	}
	return &TraceStore{db: db, ttl: ttl}
}

func traceKey(traceID string) []byte {
	return []byte(traceKeyPrefix + traceID)
}

// Put stores t under its trace id, replacing any earlier value.
func (s *TraceStore) Put(ctx context.Context, t StoredTrace) error {
	if t.TraceID == "" {
		return errors.New("trace id is required")
	}
	val, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode trace %s: %w", t.TraceID, err)
	}
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(traceKey(t.TraceID), val).WithTTL(s.ttl))
	})
}

// Get returns the trace stored under traceID.
func (s *TraceStore) Get(ctx context.Context, traceID string) (StoredTrace, error) {
	var out StoredTrace
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(traceKey(traceID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrTraceNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})
	if err != nil {
		return StoredTrace{}, err
	}
	return out, nil
}

// Record implements Sink. Records without trace steps are skipped.
func (s *TraceStore) Record(ctx context.Context, rec Record) error {
	if len(rec.Trace) == 0 {
		return nil
	}
	return s.Put(ctx, StoredTrace{
		TraceID:    rec.TraceID,
		DroneID:    rec.Decision.DroneID,
		Status:     rec.Decision.Status,
		RecordedAt: rec.RecordedAt,
		Steps:      rec.Trace,
	})
}

var _ Sink = (*TraceStore)(nil)
