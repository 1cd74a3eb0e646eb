// Copyright 2025 Certen Protocol
//
// KV adapter over CometBFT's embedded database.
//
// The connector never reasons about the storage engine beyond
// Get/Set/Delete/Close — everything else (compaction, write batching,
// the on-disk format) belongs to the engine, not the connector.

package kvdb

import (
	"fmt"

	dbm "github.com/cometbft/cometbft-db"
)

// KV is the narrow byte-level interface the typed store is built on.
type KV interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	Close() error
}

// CometAdapter wraps a CometBFT dbm.DB and exposes KV.
type CometAdapter struct {
	db dbm.DB
}

// Open opens (or creates) a goleveldb-backed database at dir/name.
func Open(name, dir string) (*CometAdapter, error) {
	db, err := dbm.NewGoLevelDB(name, dir)
	if err != nil {
		return nil, fmt.Errorf("opening goleveldb %s in %s: %w", name, dir, err)
	}
	return &CometAdapter{db: db}, nil
}

// NewCometAdapter wraps an already-open dbm.DB.
func NewCometAdapter(db dbm.DB) *CometAdapter {
	return &CometAdapter{db: db}
}

func (a *CometAdapter) Get(key []byte) ([]byte, error) {
	v, err := a.db.Get(key)
	if err != nil {
		return nil, fmt.Errorf("kv get: %w", err)
	}
	return v, nil
}

// Set performs a durable write. CometBFT's SetSync forces the write to
// stable storage before returning, matching the "every write
// individually durable" requirement on the typed store.
func (a *CometAdapter) Set(key, value []byte) error {
	if err := a.db.SetSync(key, value); err != nil {
		return fmt.Errorf("kv set: %w", err)
	}
	return nil
}

func (a *CometAdapter) Delete(key []byte) error {
	if err := a.db.DeleteSync(key); err != nil {
		return fmt.Errorf("kv delete: %w", err)
	}
	return nil
}

func (a *CometAdapter) Close() error {
	return a.db.Close()
}
