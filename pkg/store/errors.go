// Copyright 2025 Certen Protocol
//
// Sentinel errors for typed-store operations. Grounded on the
// teacher's pkg/ledger/errors.go — explicit errors instead of
// silent (nil, nil) returns on a missing record.
package store

import "errors"

var (
	// ErrNotFound is returned when a scalar or keyed record is absent.
	ErrNotFound = errors.New("store: record not found")

	// ErrDecode is returned when a stored value fails to unmarshal,
	// i.e. a schema mismatch per spec §6 ("Fatal: ... undecodable
	// persisted record").
	ErrDecode = errors.New("store: undecodable record")
)
