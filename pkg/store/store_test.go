// Copyright 2025 Certen Protocol

package store

import (
	"errors"
	"testing"

	"github.com/certen/chainconnector/pkg/chaintypes"
	"github.com/certen/chainconnector/pkg/kvdb"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return Open(kvdb.NewMemKV())
}

func TestHeaderRoundTrip(t *testing.T) {
	s := newTestStore(t)
	h := chaintypes.BlockHeader{ID: []byte{1}, Height: 10, ValidatorsHash: []byte{0xaa}}
	if err := s.PutHeader(h); err != nil {
		t.Fatalf("put header: %v", err)
	}

	got, err := s.GetHeader(10)
	if err != nil {
		t.Fatalf("get header: %v", err)
	}
	if got.Height != 10 || !got.ValidatorsHash.Equal(h.ValidatorsHash) {
		t.Fatalf("unexpected header: %+v", got)
	}

	tip, has, err := s.TipHeight()
	if err != nil || !has || tip != 10 {
		t.Fatalf("unexpected tip: %d %v %v", tip, has, err)
	}

	if err := s.DeleteHeader(10); err != nil {
		t.Fatalf("delete header: %v", err)
	}
	if _, err := s.GetHeader(10); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetHeaderNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetHeader(5); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestValidatorsTrackedInMeta(t *testing.T) {
	s := newTestStore(t)
	v := chaintypes.ValidatorsData{ValidatorsHash: []byte{1, 2, 3}, CertificateThreshold: 5}
	if err := s.PutValidators(v); err != nil {
		t.Fatalf("put validators: %v", err)
	}

	hashes, err := s.KnownValidatorsHashes()
	if err != nil {
		t.Fatalf("known validators hashes: %v", err)
	}
	if len(hashes) != 1 || !hashes[0].Equal(v.ValidatorsHash) {
		t.Fatalf("unexpected known hashes: %+v", hashes)
	}

	if err := s.DeleteValidators(v.ValidatorsHash); err != nil {
		t.Fatalf("delete validators: %v", err)
	}
	hashes, err = s.KnownValidatorsHashes()
	if err != nil {
		t.Fatalf("known validators hashes after delete: %v", err)
	}
	if len(hashes) != 0 {
		t.Fatalf("expected no known hashes after delete, got %+v", hashes)
	}
}

func TestSentCCUListedDescending(t *testing.T) {
	s := newTestStore(t)
	for _, n := range []uint64{1, 3, 2} {
		if err := s.AppendSentCCU(chaintypes.SentCCU{Nonce: n, Height: uint32(n)}); err != nil {
			t.Fatalf("append sent ccu %d: %v", n, err)
		}
	}
	list, err := s.ListSentCCUs()
	if err != nil {
		t.Fatalf("list sent ccus: %v", err)
	}
	if len(list) != 3 || list[0].Nonce != 3 || list[1].Nonce != 2 || list[2].Nonce != 1 {
		t.Fatalf("expected descending nonce order, got %+v", list)
	}
}

func TestCleanupRetainsReferencedValidatorsOnly(t *testing.T) {
	s := newTestStore(t)

	vOld := chaintypes.ValidatorsData{ValidatorsHash: []byte{0x01}}
	vKept := chaintypes.ValidatorsData{ValidatorsHash: []byte{0x02}}
	if err := s.PutValidators(vOld); err != nil {
		t.Fatalf("put vOld: %v", err)
	}
	if err := s.PutValidators(vKept); err != nil {
		t.Fatalf("put vKept: %v", err)
	}

	for h := uint32(1); h <= 3; h++ {
		hdr := chaintypes.BlockHeader{Height: h, ValidatorsHash: vOld.ValidatorsHash}
		if h == 3 {
			hdr.ValidatorsHash = vKept.ValidatorsHash
		}
		if err := s.PutHeader(hdr); err != nil {
			t.Fatalf("put header %d: %v", h, err)
		}
		if err := s.PutAggregateCommit(chaintypes.AggregateCommit{Height: h}); err != nil {
			t.Fatalf("put aggregate commit %d: %v", h, err)
		}
	}

	if err := s.Cleanup(3, chaintypes.LastCertificate{ValidatorsHash: vKept.ValidatorsHash}); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	if _, err := s.GetHeader(1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected header 1 pruned, got %v", err)
	}
	if _, err := s.GetHeader(3); err != nil {
		t.Fatalf("expected header 3 retained: %v", err)
	}
	if _, err := s.GetValidators(vOld.ValidatorsHash); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected unreferenced validators pruned, got %v", err)
	}
	if _, err := s.GetValidators(vKept.ValidatorsHash); err != nil {
		t.Fatalf("expected referenced validators retained: %v", err)
	}
}

func TestLastCertificateAndLastSentCCMRoundTrip(t *testing.T) {
	s := newTestStore(t)
	cert := chaintypes.LastCertificate{Height: 42, ValidatorsHash: []byte{9}}
	if err := s.SetLastCertificate(cert); err != nil {
		t.Fatalf("set last certificate: %v", err)
	}
	got, err := s.GetLastCertificate()
	if err != nil || got.Height != 42 {
		t.Fatalf("unexpected last certificate: %+v %v", got, err)
	}

	last := chaintypes.LastSentCCM{Height: 7, Nonce: 3}
	if err := s.SetLastSentCCM(last); err != nil {
		t.Fatalf("set last sent ccm: %v", err)
	}
	gotLast, err := s.GetLastSentCCM()
	if err != nil || *gotLast != last {
		t.Fatalf("unexpected last sent ccm: %+v %v", gotLast, err)
	}
}
