// Copyright 2025 Certen Protocol

package orchestrator

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/certen/chainconnector/pkg/ccu"
	"github.com/certen/chainconnector/pkg/certificate"
	"github.com/certen/chainconnector/pkg/chaintypes"
	"github.com/certen/chainconnector/pkg/keymaterial"
	"github.com/certen/chainconnector/pkg/kvdb"
	"github.com/certen/chainconnector/pkg/store"
)

type fakeObserver struct {
	newBlockCalls    []uint32
	deleteBlockCalls []uint32
	newBlockErr      error
}

func (f *fakeObserver) OnNewBlock(ctx context.Context, header chaintypes.BlockHeader) error {
	f.newBlockCalls = append(f.newBlockCalls, header.Height)
	return f.newBlockErr
}

func (f *fakeObserver) OnDeleteBlock(ctx context.Context, header chaintypes.BlockHeader) error {
	f.deleteBlockCalls = append(f.deleteBlockCalls, header.Height)
	return nil
}

type fakeReceivingChain struct {
	account    *chaintypes.LastCertificate
	accountErr error
	nonce      uint64
	postTxID   string
}

func (f *fakeReceivingChain) GetChainAccount(ctx context.Context, chainID uint32) (*chaintypes.LastCertificate, error) {
	return f.account, f.accountErr
}

func (f *fakeReceivingChain) GetAuthNonce(ctx context.Context, address []byte) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeReceivingChain) PostTransaction(ctx context.Context, encoded []byte) (string, error) {
	return f.postTxID, nil
}

func newTestRig(t *testing.T, observer *fakeObserver, receiving *fakeReceivingChain) *Orchestrator {
	t.Helper()
	st := store.Open(kvdb.NewMemKV())
	selector := certificate.New(st)

	passphrase := []byte("test-passphrase")
	seed := make([]byte, 32)
	box, err := keymaterial.EncryptScryptBox(passphrase, seed)
	if err != nil {
		t.Fatalf("encrypt scrypt box: %v", err)
	}
	path := t.TempDir() + "/relayer.key"
	if err := os.WriteFile(path, box, 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}
	key, err := keymaterial.LoadRelayerKey(path, keymaterial.NewScryptDecryptor(passphrase))
	if err != nil {
		t.Fatalf("load relayer key: %v", err)
	}
	assembler := ccu.New(receiving, key)

	return New(Config{
		SendingChainID:   1,
		ReceivingChainID: 2,
		OwnChainID:       1,
		CCUFrequency:     10,
		MaxCCUSize:       1 << 20,
		SaveCCM:          true,
	}, st, observer, selector, assembler, receiving)
}

func TestCadenceGateSkipsBuildBelowFrequency(t *testing.T) {
	obs := &fakeObserver{}
	recv := &fakeReceivingChain{}
	orch := newTestRig(t, obs, recv)

	orch.Load(context.Background())
	orch.EnqueueNewBlock(chaintypes.BlockHeader{Height: 5})
	orch.Unload()

	if len(obs.newBlockCalls) != 1 {
		t.Fatalf("expected OnNewBlock called once, got %d", len(obs.newBlockCalls))
	}
	list, err := orch.store.ListSentCCUs()
	if err != nil {
		t.Fatalf("list sent ccus: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected no ccu submitted below cadence threshold, got %+v", list)
	}
	if orch.State() != StateReady {
		t.Fatalf("expected final state READY, got %s", orch.State())
	}
}

func TestBuildNoOpWhenNothingToCertifyOrRelay(t *testing.T) {
	obs := &fakeObserver{}
	recv := &fakeReceivingChain{}
	orch := newTestRig(t, obs, recv)

	orch.Load(context.Background())
	// Height 10 clears the cadence gate (lastCert.Height=0, frequency=10)
	// but there are no aggregate commits and no CCMs recorded.
	orch.EnqueueNewBlock(chaintypes.BlockHeader{Height: 10})
	orch.Unload()

	list, err := orch.store.ListSentCCUs()
	if err != nil {
		t.Fatalf("list sent ccus: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected no ccu submitted with nothing to certify or relay, got %+v", list)
	}
}

func TestDeleteBlockRollsBackAndReturnsToReady(t *testing.T) {
	obs := &fakeObserver{}
	recv := &fakeReceivingChain{}
	orch := newTestRig(t, obs, recv)

	orch.Load(context.Background())
	orch.EnqueueDeleteBlock(chaintypes.BlockHeader{Height: 7})
	orch.Unload()

	if len(obs.deleteBlockCalls) != 1 || obs.deleteBlockCalls[0] != 7 {
		t.Fatalf("expected OnDeleteBlock(7) called once, got %+v", obs.deleteBlockCalls)
	}
	if orch.State() != StateReady {
		t.Fatalf("expected final state READY after rollback, got %s", orch.State())
	}
}

// TestCCUSubmissionRelaysWithoutACertifiableHeight covers the "no
// verifiable certificate, but CCMs are pending" branch: build() must
// still submit a CCU carrying only an inbox update when cert is nil
// but there are CCMs to relay (spec's partial-inbox-without-
// certificate scenario).
func TestCCUSubmissionRelaysWithoutACertifiableHeight(t *testing.T) {
	obs := &fakeObserver{}
	recv := &fakeReceivingChain{account: &chaintypes.LastCertificate{Height: 10}}
	orch := newTestRig(t, obs, recv)

	if err := orch.store.PutCCMsAtHeight(chaintypes.CCMsAtHeight{
		Height: 4,
		CCMs:   []chaintypes.CCM{{Nonce: 1, Module: "token"}},
	}); err != nil {
		t.Fatalf("put ccms at height: %v", err)
	}

	orch.Load(context.Background())
	orch.EnqueueNewBlock(chaintypes.BlockHeader{Height: 10})
	orch.Unload()

	list, err := orch.store.ListSentCCUs()
	if err != nil {
		t.Fatalf("list sent ccus: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected one ccu submitted, got %d", len(list))
	}

	refreshed, err := orch.store.GetLastCertificate()
	if err != nil {
		t.Fatalf("get last certificate: %v", err)
	}
	if refreshed.Height != 10 {
		t.Fatalf("expected last certificate refreshed to height 10, got %d", refreshed.Height)
	}

	lastSent, err := orch.store.GetLastSentCCM()
	if err != nil {
		t.Fatalf("get last sent ccm: %v", err)
	}
	if lastSent.Height != 4 || lastSent.Nonce != 1 {
		t.Fatalf("expected last sent ccm advanced to (4,1), got %+v", lastSent)
	}
}

func TestUnloadDrainsQueuedEventsBeforeStopping(t *testing.T) {
	obs := &fakeObserver{}
	recv := &fakeReceivingChain{}
	orch := newTestRig(t, obs, recv)

	orch.Load(context.Background())
	for h := uint32(1); h <= 5; h++ {
		orch.EnqueueNewBlock(chaintypes.BlockHeader{Height: h})
	}
	orch.Unload()

	if len(obs.newBlockCalls) != 5 {
		t.Fatalf("expected all 5 queued events drained, got %d", len(obs.newBlockCalls))
	}
}

func TestContextCancellationStopsWorkerWithoutUnload(t *testing.T) {
	obs := &fakeObserver{}
	recv := &fakeReceivingChain{}
	orch := newTestRig(t, obs, recv)

	ctx, cancel := context.WithCancel(context.Background())
	orch.Load(ctx)
	cancel()
	select {
	case <-orch.done:
	case <-time.After(time.Second):
		t.Fatalf("expected run loop to stop after context cancellation")
	}
}
