package runtimeIndexer

import (
	"context"
	"time"

	"github.com/Layr-Labs/runtime-indexer/internal/version"
	"go.uber.org/zap"
)

type Status struct {
	Chain               string
	Version             string
	Commit              string
	Running             bool
	LastIndexedBlock    *uint64
	LastIndexedHash     string
	LastOutcomeRoot     string
	NodeTip             uint64
	NodeTipError        string
	RegistrySource      string
	RegistrySpecVersion uint32
	RegistryLoadedAt    time.Time
	RegistryKinds       int
	RegistryVariants    int
	FailureTotal        int
	FailuresByReason    map[string]int
	LaggingSpecVersions []uint32
}

// Status reports where indexing is and what the live registry and failure report hold.
// An unreachable node is reported in NodeTipError rather than failing the call.
func (ri *RuntimeIndexer) Status(ctx context.Context) (*Status, error) {
	s := &Status{
		Chain:            ri.GlobalConfig.Chain.String(),
		Version:          version.GetVersion(),
		Commit:           version.GetCommit(),
		Running:          ri.IsRunning(),
		FailuresByReason: make(map[string]int),
	}

	latest, err := ri.Storage.GetLatestBlock(ctx)
	if err != nil {
		return nil, err
	}
	if latest != nil {
		n := latest.Number
		s.LastIndexedBlock = &n
		s.LastIndexedHash = latest.Hash
		s.LastOutcomeRoot = latest.OutcomeRoot
	}

	tip, err := ri.Pipeline.Fetcher.GetLatestBlockNumber(ctx)
	if err != nil {
		ri.Logger.Sugar().Warnw("Failed to get node tip for status", zap.Error(err))
		s.NodeTipError = err.Error()
	} else {
		s.NodeTip = tip
	}

	if reg := ri.Dispatcher.Registry(); reg != nil {
		info := reg.Info()
		s.RegistrySource = info.Source
		s.RegistrySpecVersion = info.LatestSpecVersion()
		s.RegistryLoadedAt = info.LoadedAt
		s.RegistryKinds = reg.Len()
		s.RegistryVariants = reg.VariantCount()
	}

	s.FailureTotal = ri.FailureReport.Total()
	for reason, count := range ri.FailureReport.CountsByReason() {
		s.FailuresByReason[reason.String()] = count
	}
	s.LaggingSpecVersions = ri.FailureReport.LaggingSpecVersions()
	return s, nil
}
