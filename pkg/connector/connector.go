// Copyright 2025 Certen Protocol
//
// Plugin lifecycle: wires the typed store, RPC clients, key material,
// and the observer/selector/assembler/orchestrator pipeline into one
// load/unload unit, per SPEC_FULL.md §10. Grounded on the teacher's
// main.go wiring order (config -> storage -> downstream services ->
// background goroutines -> signal-driven shutdown), condensed into a
// reusable type instead of being inlined in main().
package connector

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/certen/chainconnector/pkg/ccu"
	"github.com/certen/chainconnector/pkg/certificate"
	"github.com/certen/chainconnector/pkg/chaintypes"
	"github.com/certen/chainconnector/pkg/config"
	"github.com/certen/chainconnector/pkg/keymaterial"
	"github.com/certen/chainconnector/pkg/kvdb"
	"github.com/certen/chainconnector/pkg/metrics"
	"github.com/certen/chainconnector/pkg/observer"
	"github.com/certen/chainconnector/pkg/orchestrator"
	"github.com/certen/chainconnector/pkg/rpcclient"
	"github.com/certen/chainconnector/pkg/store"
)

// Plugin is one sending-chain/receiving-chain connector instance.
type Plugin struct {
	cfg    *config.Config
	logger *log.Logger

	kv         *kvdb.CometAdapter
	st         *store.Store
	sending    *rpcclient.SendingChainClient
	receiving  *rpcclient.ReceivingChainClient
	key        *keymaterial.RelayerKey
	orch       *orchestrator.Orchestrator
	registry   *prometheus.Registry
	metricsSrv *metrics.Server

	newBlockCh    chan chaintypes.BlockHeader
	deleteBlockCh chan chaintypes.BlockHeader
}

// Load opens every resource and starts the background pipeline. The
// returned Plugin must be Unloaded exactly once.
func Load(ctx context.Context, cfg *config.Config) (*Plugin, error) {
	logger := log.New(log.Writer(), "[Connector] ", log.LstdFlags)

	kv, err := kvdb.Open("chainconnector", cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening kv store: %w", err)
	}
	st := store.Open(kv)

	sendingDialed, err := rpcclient.Dial(ctx, cfg.Chain.SendingRPCURL)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("dialing sending chain: %w", err)
	}
	sending := rpcclient.NewSendingChainClient(sendingDialed)

	receivingDialed, err := rpcclient.Dial(ctx, cfg.Chain.ReceivingRPCURL)
	if err != nil {
		sending.Close()
		st.Close()
		return nil, fmt.Errorf("dialing receiving chain: %w", err)
	}
	receiving := rpcclient.NewReceivingChainClient(receivingDialed)

	passphrase := []byte(envOrEmpty(cfg.Relayer.PassphraseEnv))
	relayerKey, err := keymaterial.LoadRelayerKey(cfg.Relayer.KeyPath, keymaterial.NewScryptDecryptor(passphrase))
	if err != nil {
		receiving.Close()
		sending.Close()
		st.Close()
		return nil, fmt.Errorf("loading relayer key: %w", err)
	}

	registry := prometheus.NewRegistry()
	metrics.New(registry)
	var metricsSrv *metrics.Server
	if cfg.Monitoring.Metrics.Enabled {
		addr := fmt.Sprintf(":%d", cfg.Monitoring.Metrics.Port)
		metricsSrv = metrics.NewServer(addr, cfg.Monitoring.Metrics.Path, registry)
	}

	obs := observer.New(observer.Config{
		OwnChainID:         cfg.Chain.OwnChainID,
		ForwardBouncedCCMs: cfg.CCU.ForwardBouncedCCMs,
	}, sending, st)

	selector := certificate.New(st)
	assembler := ccu.New(receiving, relayerKey)

	orch := orchestrator.New(orchestrator.Config{
		SendingChainID:     cfg.Chain.SendingChainID,
		ReceivingChainID:   cfg.Chain.ReceivingChainID,
		OwnChainID:         cfg.Chain.OwnChainID,
		CCUFrequency:       cfg.CCU.Frequency,
		MaxCCUSize:         cfg.CCU.MaxSize,
		CCUFee:             cfg.CCU.Fee,
		SaveCCM:            cfg.CCU.SaveCCM,
		ForwardBouncedCCMs: cfg.CCU.ForwardBouncedCCMs,
	}, st, obs, selector, assembler, receiving)

	p := &Plugin{
		cfg:           cfg,
		logger:        logger,
		kv:            kv,
		st:            st,
		sending:       sending,
		receiving:     receiving,
		key:           relayerKey,
		orch:          orch,
		registry:      registry,
		metricsSrv:    metricsSrv,
		newBlockCh:    make(chan chaintypes.BlockHeader, 64),
		deleteBlockCh: make(chan chaintypes.BlockHeader, 64),
	}

	orch.Load(ctx)

	if _, err := sending.SubscribeNewBlock(ctx, p.newBlockCh); err != nil {
		p.Unload()
		return nil, fmt.Errorf("subscribing to new blocks: %w", err)
	}
	if _, err := sending.SubscribeDeleteBlock(ctx, p.deleteBlockCh); err != nil {
		p.Unload()
		return nil, fmt.Errorf("subscribing to delete blocks: %w", err)
	}

	go p.pumpEvents(ctx)
	if metricsSrv != nil {
		go func() {
			if err := metricsSrv.Serve(ctx); err != nil {
				logger.Printf("metrics server: %v", err)
			}
		}()
	}

	logger.Printf("loaded: sendingChain=%d receivingChain=%d", cfg.Chain.SendingChainID, cfg.Chain.ReceivingChainID)
	return p, nil
}

// pumpEvents forwards subscription deliveries into the orchestrator's
// FIFO queue, preserving arrival order.
func (p *Plugin) pumpEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case h, ok := <-p.deleteBlockCh:
			if !ok {
				return
			}
			p.orch.EnqueueDeleteBlock(h)
		case h, ok := <-p.newBlockCh:
			if !ok {
				return
			}
			p.orch.EnqueueNewBlock(h)
		}
	}
}

// Unload stops the orchestrator, closes RPC connections, and closes
// the store. Safe to call once after a failed or successful Load.
func (p *Plugin) Unload() {
	if p.orch != nil {
		p.orch.Unload()
	}
	if p.sending != nil {
		p.sending.Close()
	}
	if p.receiving != nil {
		p.receiving.Close()
	}
	if p.st != nil {
		p.st.Close()
	}
	p.logger.Println("unloaded")
}

func envOrEmpty(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}
