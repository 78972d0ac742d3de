package runtimeIndexer

import (
	"context"
	"errors"
	"fmt"

	"github.com/Layr-Labs/runtime-indexer/pkg/eventBus/eventBusTypes"
	"github.com/Layr-Labs/runtime-indexer/pkg/metrics/metricsTypes"
	"github.com/Layr-Labs/runtime-indexer/pkg/schemaRegistry"
	"github.com/Layr-Labs/runtime-indexer/pkg/schemaRegistry/snapshotSource"
	"go.uber.org/zap"
)

var ErrNoSnapshotSource = errors.New("no registry snapshot source configured")

// RefreshRegistry reloads the registry snapshot and swaps it into the dispatcher. Blocks
// already being dispatched finish against the registry they started with. A snapshot
// that fails the integrity checks is rejected and the current registry stays in place.
func (ri *RuntimeIndexer) RefreshRegistry(ctx context.Context) (*eventBusTypes.RegistryRefreshedData, error) {
	ri.refreshMu.Lock()
	defer ri.refreshMu.Unlock()

	if ri.SnapshotSource == nil {
		return nil, ErrNoSnapshotSource
	}

	reg, err := snapshotSource.LoadRegistry(ctx, ri.SnapshotSource)
	if err != nil {
		ri.Logger.Sugar().Errorw("Rejected registry snapshot", zap.Error(err))
		return nil, fmt.Errorf("registry refresh rejected: %w", err)
	}

	previous := ri.Dispatcher.SwapRegistry(reg)
	data := &eventBusTypes.RegistryRefreshedData{
		Current:  reg.Info(),
		Kinds:    reg.Len(),
		Variants: reg.VariantCount(),
	}
	if previous != nil {
		data.Previous = previous.Info()
	}

	ri.Logger.Sugar().Infow("Registry refreshed",
		zap.String("source", data.Current.Source),
		zap.Uint32("latestSpecVersion", data.Current.LatestSpecVersion()),
		zap.Uint32("previousSpecVersion", data.Previous.LatestSpecVersion()),
		zap.Int("kinds", data.Kinds),
		zap.Int("variants", data.Variants),
	)
	ri.PublishRegistryGauges(reg)
	if ri.metricsSink != nil {
		_ = ri.metricsSink.Incr(metricsTypes.Metric_Incr_RegistryRefreshed, []metricsTypes.MetricsLabel{
			{Name: "source", Value: data.Current.Source},
		}, 1)
	}
	if ri.eventBus != nil {
		ri.eventBus.Publish(&eventBusTypes.Event{
			Name: eventBusTypes.Event_RegistryRefreshed,
			Data: data,
		})
	}
	return data, nil
}

func (ri *RuntimeIndexer) PublishRegistryGauges(reg *schemaRegistry.SchemaRegistry) {
	if ri.metricsSink == nil || reg == nil {
		return
	}
	_ = ri.metricsSink.Gauge(metricsTypes.Metric_Gauge_RegistryVariants, float64(reg.VariantCount()), nil)
}
