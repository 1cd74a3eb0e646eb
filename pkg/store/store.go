// Copyright 2025 Certen Protocol
//
// Typed store: exposes one get/put/delete operation per entity of
// spec §3 over a narrow byte KV. Grounded on pkg/ledger/store.go's
// LedgerStore — same "read meta, mutate, write meta back" shape, same
// single-writer concurrency contract (spec §5: the store is owned
// exclusively by the connector and driven by one FIFO worker).
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/certen/chainconnector/pkg/chaintypes"
)

// KV is the narrow byte-level interface the store is built on.
type KV interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	Close() error
}

// Store is the typed store described in spec §4.7.
type Store struct {
	kv KV
}

// Open wraps an already-open KV. Grounded on the teacher's
// NewLedgerStore — the store never opens the KV itself; the plugin
// owns that lifecycle (spec §9: "no back-pointer" / "no cyclic
// references between a store and its owning plugin").
func Open(kv KV) *Store {
	return &Store{kv: kv}
}

// Close releases the underlying KV. Safe to call once, at unload.
func (s *Store) Close() error {
	return s.kv.Close()
}

func (s *Store) loadMeta() (*meta, error) {
	b, err := s.kv.Get(metaKey())
	if err != nil {
		return nil, fmt.Errorf("loading store meta: %w", err)
	}
	if len(b) == 0 {
		return &meta{}, nil
	}
	var m meta
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("%w: store meta: %v", ErrDecode, err)
	}
	return &m, nil
}

func (s *Store) saveMeta(m *meta) error {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshaling store meta: %w", err)
	}
	return s.kv.Set(metaKey(), b)
}

// ===== BlockHeader =====

// PutHeader upserts H by height (spec §4.1 step 1: a reorg at the tip
// overwrites the existing slot).
func (s *Store) PutHeader(h chaintypes.BlockHeader) error {
	b, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("marshaling header: %w", err)
	}
	if err := s.kv.Set(headerKey(h.Height), b); err != nil {
		return fmt.Errorf("writing header %d: %w", h.Height, err)
	}

	m, err := s.loadMeta()
	if err != nil {
		return err
	}
	if !m.HasHeaders {
		m.HasHeaders = true
		m.OldestHeight = h.Height
		m.TipHeight = h.Height
	} else {
		if h.Height > m.TipHeight {
			m.TipHeight = h.Height
		}
		if h.Height < m.OldestHeight {
			m.OldestHeight = h.Height
		}
	}
	return s.saveMeta(m)
}

// GetHeader returns the header at height, or ErrNotFound.
func (s *Store) GetHeader(height uint32) (*chaintypes.BlockHeader, error) {
	b, err := s.kv.Get(headerKey(height))
	if err != nil {
		return nil, fmt.Errorf("reading header %d: %w", height, err)
	}
	if len(b) == 0 {
		return nil, ErrNotFound
	}
	var h chaintypes.BlockHeader
	if err := json.Unmarshal(b, &h); err != nil {
		return nil, fmt.Errorf("%w: header %d: %v", ErrDecode, height, err)
	}
	return &h, nil
}

// DeleteHeader removes H at height strictly, per spec §4.1 onDeleteBlock.
func (s *Store) DeleteHeader(height uint32) error {
	if err := s.kv.Delete(headerKey(height)); err != nil {
		return fmt.Errorf("deleting header %d: %w", height, err)
	}
	m, err := s.loadMeta()
	if err != nil {
		return err
	}
	if m.HasHeaders && height == m.TipHeight && height > m.OldestHeight {
		m.TipHeight = height - 1
	}
	return s.saveMeta(m)
}

// TipHeight returns the highest retained header height, and whether
// any header has ever been observed.
func (s *Store) TipHeight() (uint32, bool, error) {
	m, err := s.loadMeta()
	if err != nil {
		return 0, false, err
	}
	return m.TipHeight, m.HasHeaders, nil
}

// OldestHeight returns the lowest retained header height.
func (s *Store) OldestHeight() (uint32, bool, error) {
	m, err := s.loadMeta()
	if err != nil {
		return 0, false, err
	}
	return m.OldestHeight, m.HasHeaders, nil
}

// ===== AggregateCommit =====

func (s *Store) PutAggregateCommit(ac chaintypes.AggregateCommit) error {
	b, err := json.Marshal(ac)
	if err != nil {
		return fmt.Errorf("marshaling aggregate commit: %w", err)
	}
	if err := s.kv.Set(aggregateCommitKey(ac.Height), b); err != nil {
		return fmt.Errorf("writing aggregate commit %d: %w", ac.Height, err)
	}
	return nil
}

func (s *Store) GetAggregateCommit(height uint32) (*chaintypes.AggregateCommit, error) {
	b, err := s.kv.Get(aggregateCommitKey(height))
	if err != nil {
		return nil, fmt.Errorf("reading aggregate commit %d: %w", height, err)
	}
	if len(b) == 0 {
		return nil, ErrNotFound
	}
	var ac chaintypes.AggregateCommit
	if err := json.Unmarshal(b, &ac); err != nil {
		return nil, fmt.Errorf("%w: aggregate commit %d: %v", ErrDecode, height, err)
	}
	return &ac, nil
}

func (s *Store) DeleteAggregateCommit(height uint32) error {
	if err := s.kv.Delete(aggregateCommitKey(height)); err != nil {
		return fmt.Errorf("deleting aggregate commit %d: %w", height, err)
	}
	return nil
}

// ===== ValidatorsData =====

func (s *Store) PutValidators(v chaintypes.ValidatorsData) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling validators data: %w", err)
	}
	if err := s.kv.Set(validatorsKey(v.ValidatorsHash), b); err != nil {
		return fmt.Errorf("writing validators %x: %w", v.ValidatorsHash, err)
	}
	m, err := s.loadMeta()
	if err != nil {
		return err
	}
	m.addValidatorsHash(v.ValidatorsHash)
	return s.saveMeta(m)
}

func (s *Store) GetValidators(validatorsHash chaintypes.HexBytes) (*chaintypes.ValidatorsData, error) {
	b, err := s.kv.Get(validatorsKey(validatorsHash))
	if err != nil {
		return nil, fmt.Errorf("reading validators %x: %w", validatorsHash, err)
	}
	if len(b) == 0 {
		return nil, ErrNotFound
	}
	var v chaintypes.ValidatorsData
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("%w: validators %x: %v", ErrDecode, validatorsHash, err)
	}
	return &v, nil
}

func (s *Store) DeleteValidators(validatorsHash chaintypes.HexBytes) error {
	if err := s.kv.Delete(validatorsKey(validatorsHash)); err != nil {
		return fmt.Errorf("deleting validators %x: %w", validatorsHash, err)
	}
	m, err := s.loadMeta()
	if err != nil {
		return err
	}
	m.removeValidatorsHash(validatorsHash)
	return s.saveMeta(m)
}

// KnownValidatorsHashes lists every ValidatorsData currently retained.
func (s *Store) KnownValidatorsHashes() ([]chaintypes.HexBytes, error) {
	m, err := s.loadMeta()
	if err != nil {
		return nil, err
	}
	return m.ValidatorsSet, nil
}

// ===== CCMsAtHeight =====

func (s *Store) PutCCMsAtHeight(rec chaintypes.CCMsAtHeight) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling ccms at height: %w", err)
	}
	if err := s.kv.Set(ccmKey(rec.Height), b); err != nil {
		return fmt.Errorf("writing ccms at height %d: %w", rec.Height, err)
	}
	return nil
}

func (s *Store) GetCCMsAtHeight(height uint32) (*chaintypes.CCMsAtHeight, error) {
	b, err := s.kv.Get(ccmKey(height))
	if err != nil {
		return nil, fmt.Errorf("reading ccms at height %d: %w", height, err)
	}
	if len(b) == 0 {
		return nil, ErrNotFound
	}
	var rec chaintypes.CCMsAtHeight
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("%w: ccms at height %d: %v", ErrDecode, height, err)
	}
	return &rec, nil
}

func (s *Store) DeleteCCMsAtHeight(height uint32) error {
	if err := s.kv.Delete(ccmKey(height)); err != nil {
		return fmt.Errorf("deleting ccms at height %d: %w", height, err)
	}
	return nil
}

// ===== LastSentCCM =====

func (s *Store) GetLastSentCCM() (*chaintypes.LastSentCCM, error) {
	b, err := s.kv.Get(lastSentCCMKey())
	if err != nil {
		return nil, fmt.Errorf("reading last sent ccm: %w", err)
	}
	if len(b) == 0 {
		return nil, ErrNotFound
	}
	var l chaintypes.LastSentCCM
	if err := json.Unmarshal(b, &l); err != nil {
		return nil, fmt.Errorf("%w: last sent ccm: %v", ErrDecode, err)
	}
	return &l, nil
}

func (s *Store) SetLastSentCCM(l chaintypes.LastSentCCM) error {
	b, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("marshaling last sent ccm: %w", err)
	}
	if err := s.kv.Set(lastSentCCMKey(), b); err != nil {
		return fmt.Errorf("writing last sent ccm: %w", err)
	}
	return nil
}

// ===== LastCertificate (C*) =====

func (s *Store) GetLastCertificate() (*chaintypes.LastCertificate, error) {
	b, err := s.kv.Get(lastCertificateKey())
	if err != nil {
		return nil, fmt.Errorf("reading last certificate: %w", err)
	}
	if len(b) == 0 {
		return nil, ErrNotFound
	}
	var c chaintypes.LastCertificate
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("%w: last certificate: %v", ErrDecode, err)
	}
	return &c, nil
}

func (s *Store) SetLastCertificate(c chaintypes.LastCertificate) error {
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling last certificate: %w", err)
	}
	if err := s.kv.Set(lastCertificateKey(), b); err != nil {
		return fmt.Errorf("writing last certificate: %w", err)
	}
	return nil
}

// ===== SentCCU (observability log) =====

func (s *Store) AppendSentCCU(rec chaintypes.SentCCU) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling sent ccu: %w", err)
	}
	if err := s.kv.Set(ccuKey(rec.Nonce), b); err != nil {
		return fmt.Errorf("writing sent ccu %d: %w", rec.Nonce, err)
	}
	m, err := s.loadMeta()
	if err != nil {
		return err
	}
	m.addCCUNonce(rec.Nonce)
	return s.saveMeta(m)
}

// ListSentCCUs returns every recorded SentCCU, ordered by nonce
// descending per spec §3.
func (s *Store) ListSentCCUs() ([]chaintypes.SentCCU, error) {
	m, err := s.loadMeta()
	if err != nil {
		return nil, err
	}
	nonces := append([]uint64(nil), m.CCUNonces...)
	sort.Slice(nonces, func(i, j int) bool { return nonces[i] > nonces[j] })

	out := make([]chaintypes.SentCCU, 0, len(nonces))
	for _, n := range nonces {
		b, err := s.kv.Get(ccuKey(n))
		if err != nil {
			return nil, fmt.Errorf("reading sent ccu %d: %w", n, err)
		}
		if len(b) == 0 {
			continue
		}
		var rec chaintypes.SentCCU
		if err := json.Unmarshal(b, &rec); err != nil {
			return nil, fmt.Errorf("%w: sent ccu %d: %v", ErrDecode, n, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// ===== Cleanup =====

// Cleanup retains only H, AC, M with height >= newOldest, and drops
// any ValidatorsData no longer referenced by a retained header or by
// lastCert, per spec §3's post-cleanup invariant and §9's corrected
// retention rule (replacing the original's threshold-vs-height
// comparison). It does nothing, ValidatorsData pruning included, when
// no header has been stored or newOldest is not above the oldest
// retained header height.
func (s *Store) Cleanup(newOldest uint32, lastCert chaintypes.LastCertificate) error {
	m, err := s.loadMeta()
	if err != nil {
		return err
	}
	if !m.HasHeaders || newOldest <= m.OldestHeight {
		return nil
	}

	for h := m.OldestHeight; h < newOldest; h++ {
		if err := s.kv.Delete(headerKey(h)); err != nil {
			return fmt.Errorf("cleanup: deleting header %d: %w", h, err)
		}
		if err := s.kv.Delete(aggregateCommitKey(h)); err != nil {
			return fmt.Errorf("cleanup: deleting aggregate commit %d: %w", h, err)
		}
		if err := s.kv.Delete(ccmKey(h)); err != nil {
			return fmt.Errorf("cleanup: deleting ccms at height %d: %w", h, err)
		}
	}
	m.OldestHeight = newOldest
	if m.TipHeight < m.OldestHeight {
		m.TipHeight = m.OldestHeight
	}
	if err := s.saveMeta(m); err != nil {
		return err
	}

	return s.pruneUnreferencedValidators(lastCert)
}

func (s *Store) pruneUnreferencedValidators(lastCert chaintypes.LastCertificate) error {
	m, err := s.loadMeta()
	if err != nil {
		return err
	}

	referenced := make(map[string]bool, len(m.ValidatorsSet))
	if len(lastCert.ValidatorsHash) > 0 {
		referenced[lastCert.ValidatorsHash.String()] = true
	}
	if m.HasHeaders {
		for h := m.OldestHeight; h <= m.TipHeight; h++ {
			hdr, err := s.GetHeader(h)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					continue
				}
				return fmt.Errorf("cleanup: reading header %d: %w", h, err)
			}
			referenced[hdr.ValidatorsHash.String()] = true
		}
	}

	for _, vh := range m.ValidatorsSet {
		if !referenced[vh.String()] {
			if err := s.DeleteValidators(vh); err != nil {
				return fmt.Errorf("cleanup: pruning validators %x: %w", vh, err)
			}
		}
	}
	return nil
}
