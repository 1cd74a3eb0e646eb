// Copyright 2025 Certen Protocol
//
// Orchestrator: the connector's state machine and FIFO event queue,
// per spec §4.6 and §5/§9. Grounded on pkg/batch/scheduler.go's
// run-loop shape (a single goroutine consuming one event at a time
// from a channel, logged transitions, graceful Stop/drain), adapted
// from a timer-driven cadence to an explicit newBlock/deleteBlock
// event queue.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/certen/chainconnector/pkg/certificate"
	"github.com/certen/chainconnector/pkg/ccu"
	"github.com/certen/chainconnector/pkg/chaintypes"
	"github.com/certen/chainconnector/pkg/inbox"
	"github.com/certen/chainconnector/pkg/store"
	"github.com/certen/chainconnector/pkg/validators"
)

// State names the orchestrator's position in spec §4.6's diagram.
type State string

const (
	StateInit      State = "INIT"
	StateReady     State = "READY"
	StateObserving State = "OBSERVING"
	StateBuilding  State = "BUILDING"
	StateSubmit    State = "SUBMIT"
	StateCleanup   State = "CLEANUP"
	StateRollback  State = "ROLLBACK"
)

// DefaultCCUFrequency is the minimum block gap before a CCU attempt
// (spec §6).
const DefaultCCUFrequency = 10

// eventKind distinguishes newBlock from deleteBlock in the FIFO queue.
type eventKind int

const (
	eventNewBlock eventKind = iota
	eventDeleteBlock
)

type event struct {
	kind   eventKind
	header chaintypes.BlockHeader
}

// Observer is the subset of observer behavior the orchestrator drives
// directly (spec §4.1).
type Observer interface {
	OnNewBlock(ctx context.Context, header chaintypes.BlockHeader) error
	OnDeleteBlock(ctx context.Context, header chaintypes.BlockHeader) error
}

// ReceivingChain mirrors ccu.ReceivingChain, scoped to what the
// orchestrator itself calls directly (nonce lookup and posting happen
// inside the assembler; the orchestrator fetches the chain account to
// refresh C* after a submission).
type ReceivingChain interface {
	GetChainAccount(ctx context.Context, chainID uint32) (*chaintypes.LastCertificate, error)
}

// Config carries the orchestrator's tunables (spec §6).
type Config struct {
	SendingChainID   uint32
	ReceivingChainID uint32
	OwnChainID       uint32
	CCUFrequency     uint32
	MaxCCUSize       int
	CCUFee           uint64
	SaveCCM          bool
	// ForwardBouncedCCMs records whether ccmProcessed events with
	// result == BOUNCED are also relayed, per spec §9's open question
	// (the documented default filter is FORWARDED-only). The
	// orchestrator does not read it; the filter is applied by the
	// observer's own observer.Config.ForwardBouncedCCMs.
	ForwardBouncedCCMs bool
}

// Orchestrator drives the connector's single-threaded cooperative
// event loop (spec §5): one FIFO queue, one worker, no concurrent
// handlers.
type Orchestrator struct {
	cfg       Config
	store     *store.Store
	observer  Observer
	selector  *certificate.Selector
	assembler *ccu.Assembler
	receiving ReceivingChain
	logger    *log.Logger

	mu    sync.Mutex
	state State

	queue chan event
	done  chan struct{}
}

// New builds an Orchestrator in state INIT.
func New(cfg Config, st *store.Store, observer Observer, selector *certificate.Selector, assembler *ccu.Assembler, receiving ReceivingChain) *Orchestrator {
	if cfg.CCUFrequency == 0 {
		cfg.CCUFrequency = DefaultCCUFrequency
	}
	return &Orchestrator{
		cfg:       cfg,
		store:     st,
		observer:  observer,
		selector:  selector,
		assembler: assembler,
		receiving: receiving,
		logger:    log.New(log.Writer(), "[Orchestrator] ", log.LstdFlags),
		state:     StateInit,
	}
}

// Load transitions INIT -> READY and starts the FIFO worker.
func (o *Orchestrator) Load(ctx context.Context) {
	o.mu.Lock()
	o.state = StateReady
	o.mu.Unlock()

	o.queue = make(chan event, 256)
	o.done = make(chan struct{})
	go o.run(ctx)
	o.logger.Println("loaded, state=READY")
}

// Unload drains the in-flight handler (no forced interruption), then
// returns, matching spec §5's unload contract. The caller is
// responsible for canceling subscriptions and closing RPC clients
// and the store afterward.
func (o *Orchestrator) Unload() {
	if o.queue == nil {
		return
	}
	close(o.queue)
	<-o.done
	o.logger.Println("unloaded")
}

// EnqueueNewBlock submits a newBlock event to the FIFO queue.
func (o *Orchestrator) EnqueueNewBlock(header chaintypes.BlockHeader) {
	o.queue <- event{kind: eventNewBlock, header: header}
}

// EnqueueDeleteBlock submits a deleteBlock event to the FIFO queue.
func (o *Orchestrator) EnqueueDeleteBlock(header chaintypes.BlockHeader) {
	o.queue <- event{kind: eventDeleteBlock, header: header}
}

// State returns the orchestrator's current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

func (o *Orchestrator) run(ctx context.Context) {
	defer close(o.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-o.queue:
			if !ok {
				return
			}
			o.handle(ctx, ev)
		}
	}
}

func (o *Orchestrator) handle(ctx context.Context, ev event) {
	switch ev.kind {
	case eventDeleteBlock:
		o.handleDeleteBlock(ctx, ev.header)
	case eventNewBlock:
		o.handleNewBlock(ctx, ev.header)
	}
}

// handleDeleteBlock implements the ROLLBACK transition: reachable
// from any state except SUBMIT, per spec §4.6.
func (o *Orchestrator) handleDeleteBlock(ctx context.Context, header chaintypes.BlockHeader) {
	if o.State() == StateSubmit {
		o.logger.Printf("deleteBlock(%d) arrived during SUBMIT; deferring is not supported, processing immediately", header.Height)
	}
	o.setState(StateRollback)
	if err := o.observer.OnDeleteBlock(ctx, header); err != nil {
		o.logger.Printf("deleteBlock(%d): %v", header.Height, err)
	}
	o.setState(StateReady)
}

func (o *Orchestrator) handleNewBlock(ctx context.Context, header chaintypes.BlockHeader) {
	o.setState(StateObserving)
	if err := o.observer.OnNewBlock(ctx, header); err != nil {
		o.logger.Printf("newBlock(%d): %v", header.Height, err)
		o.setState(StateReady)
		return
	}

	lastCert, err := o.store.GetLastCertificate()
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		o.logger.Printf("newBlock(%d): reading last certificate: %v", header.Height, err)
		o.setState(StateReady)
		return
	}
	if lastCert == nil {
		lastCert = &chaintypes.LastCertificate{}
	}

	if header.Height < lastCert.Height+o.cfg.CCUFrequency {
		o.setState(StateReady)
		return
	}

	o.setState(StateBuilding)
	if err := o.build(ctx, header, *lastCert); err != nil {
		o.logger.Printf("build at height %d: %v", header.Height, err)
	}
	o.setState(StateReady)
}

// build runs the BUILDING -> FULL_CCU|PARTIAL_CCU -> SUBMIT -> CLEANUP
// portion of the state machine.
func (o *Orchestrator) build(ctx context.Context, header chaintypes.BlockHeader, lastCert chaintypes.LastCertificate) error {
	aggregateCommits, err := o.collectAggregateCommits(lastCert.Height, header.Height)
	if err != nil {
		return fmt.Errorf("collecting aggregate commits: %w", err)
	}

	// The observed header height is passed as the selector's
	// maxHeightCertified bound; the sending chain's BFT heights are not
	// queried.
	var cert *chaintypes.Certificate
	cert, err = o.selector.Select(aggregateCommits, lastCert, header.Height)
	if err != nil && !errors.Is(err, certificate.ErrNoCertificate) {
		return fmt.Errorf("selecting certificate: %w", err)
	}

	var activeValidatorsUpdate chaintypes.ActiveValidatorsUpdate
	var threshold uint64
	ceiling := header.Height
	if cert != nil {
		prevValidators, err := o.store.GetValidators(lastCert.ValidatorsHash)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("reading previous validators: %w", err)
		}
		newValidators, err := o.store.GetValidators(cert.ValidatorsHash)
		if err != nil {
			return fmt.Errorf("reading new validators: %w", err)
		}
		if prevValidators == nil {
			prevValidators = &chaintypes.ValidatorsData{}
		}
		activeValidatorsUpdate, threshold = validators.Diff(*prevValidators, *newValidators)
		ceiling = cert.Height
	}

	records, err := o.collectCCMRecords(lastCert.Height, ceiling)
	if err != nil {
		return fmt.Errorf("collecting ccm records: %w", err)
	}
	lastSent, err := o.store.GetLastSentCCM()
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("reading last sent ccm: %w", err)
	}
	if lastSent == nil {
		// Per spec §9's open-question resolution: start from the last
		// certified height, never the {height:1,nonce:-1} variant.
		lastSent = &chaintypes.LastSentCCM{Height: lastCert.Height, Nonce: 0}
	}

	inboxResult, err := inbox.Build(records, *lastSent, ceiling, o.cfg.MaxCCUSize)
	if err != nil {
		return fmt.Errorf("building inbox update: %w", err)
	}

	if cert == nil && inboxResult.Empty {
		// Nothing to certify and nothing to relay: stay in READY.
		return nil
	}

	o.setState(StateSubmit)
	params := ccu.Params{
		SendingChainID:         o.cfg.SendingChainID,
		ReceivingChainID:       o.cfg.ReceivingChainID,
		OwnChainID:             o.cfg.OwnChainID,
		ActiveValidatorsUpdate: activeValidatorsUpdate,
		CertificateThreshold:   threshold,
		InboxUpdate:            inboxResult.Update,
		Fee:                    o.cfg.CCUFee,
		DryRun:                 o.cfg.SaveCCM,
	}
	if cert != nil {
		params.Certificate = *cert
	}

	sent, submitErr := o.assembler.Submit(ctx, params)
	if submitErr != nil {
		o.logger.Printf("submission rejected: %v", submitErr)
		return nil
	}

	if err := o.store.AppendSentCCU(sent); err != nil {
		return fmt.Errorf("recording sent ccu: %w", err)
	}
	if !inboxResult.Empty {
		if err := o.store.SetLastSentCCM(inboxResult.NewLastSent); err != nil {
			return fmt.Errorf("advancing last sent ccm: %w", err)
		}
	}

	refreshed, err := o.receiving.GetChainAccount(ctx, o.cfg.SendingChainID)
	if err != nil {
		o.logger.Printf("refreshing last certificate: %v", err)
		refreshed = &lastCert
	}
	if err := o.store.SetLastCertificate(*refreshed); err != nil {
		return fmt.Errorf("storing refreshed last certificate: %w", err)
	}

	o.setState(StateCleanup)
	if err := o.store.Cleanup(refreshed.Height, *refreshed); err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	return nil
}

func (o *Orchestrator) collectAggregateCommits(fromHeight, toHeight uint32) ([]chaintypes.AggregateCommit, error) {
	var out []chaintypes.AggregateCommit
	for h := fromHeight + 1; h <= toHeight; h++ {
		ac, err := o.store.GetAggregateCommit(h)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, *ac)
	}
	return out, nil
}

func (o *Orchestrator) collectCCMRecords(fromHeight, toHeight uint32) ([]chaintypes.CCMsAtHeight, error) {
	var out []chaintypes.CCMsAtHeight
	for h := fromHeight; h <= toHeight; h++ {
		rec, err := o.store.GetCCMsAtHeight(h)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}
