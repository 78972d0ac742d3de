// Package failureReport accumulates per-item dispatch failures so operators can see
// which kinds the registry cannot decode and when it has fallen behind an upgrade.
package failureReport

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"strconv"
	"sync"

	"github.com/Layr-Labs/runtime-indexer/pkg/callDispatcher"
	"github.com/Layr-Labs/runtime-indexer/pkg/metrics"
	"github.com/Layr-Labs/runtime-indexer/pkg/metrics/metricsTypes"
	"github.com/Layr-Labs/runtime-indexer/pkg/schemaRegistry"
	"github.com/gocarina/gocsv"
	"go.uber.org/zap"
)

const defaultSpikeThreshold = 10

type Entry struct {
	BlockHeight uint64 `csv:"block_height" json:"blockHeight"`
	SpecVersion uint32 `csv:"spec_version" json:"specVersion"`
	ItemIndex   uint32 `csv:"item_index" json:"itemIndex"`
	ItemType    string `csv:"item_type" json:"itemType"`
	Kind        string `csv:"kind" json:"kind"`
	Hash        string `csv:"hash" json:"hash"`
	Reason      string `csv:"reason" json:"reason"`
	Message     string `csv:"message" json:"message"`
}

type Count struct {
	Reason string `csv:"reason" json:"reason"`
	Kind   string `csv:"kind" json:"kind"`
	Count  int    `csv:"count" json:"count"`
}

type Filter struct {
	Reason    callDispatcher.OutcomeKind
	Kind      string
	FromBlock uint64
}

func (f *Filter) matches(e *Entry) bool {
	if f == nil {
		return true
	}
	if f.Reason != "" && e.Reason != f.Reason.String() {
		return false
	}
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	return e.BlockHeight >= f.FromBlock
}

// RegistryProvider exposes the registry currently used for dispatch.
type RegistryProvider interface {
	Registry() *schemaRegistry.SchemaRegistry
}

type FailureReportConfig struct {
	// SpikeThreshold is how many no-variant failures at one unseen spec version trigger
	// the upgrade lag signal
	SpikeThreshold int
	// MaxEntries bounds retained entries; counts are kept for everything. 0 keeps all.
	MaxEntries int
}

type countKey struct {
	reason string
	kind   string
}

type FailureReport struct {
	config      *FailureReportConfig
	registry    RegistryProvider
	metricsSink *metrics.MetricsSink
	logger      *zap.Logger

	mu       sync.Mutex
	entries  []*Entry
	counts   map[countKey]int
	byReason map[callDispatcher.OutcomeKind]int
	total    int

	// no-variant failures per spec version newer than the registry snapshot
	unseenVersions map[uint32]int
	lagSignalled   map[uint32]bool
}

func NewFailureReport(cfg *FailureReportConfig, registry RegistryProvider, ms *metrics.MetricsSink, l *zap.Logger) *FailureReport {
	if cfg == nil {
		cfg = &FailureReportConfig{}
	}
	if cfg.SpikeThreshold <= 0 {
		cfg.SpikeThreshold = defaultSpikeThreshold
	}
	if ms == nil {
		ms, _ = metrics.NewMetricsSink(&metrics.MetricsSinkConfig{}, nil)
	}
	return &FailureReport{
		config:         cfg,
		registry:       registry,
		metricsSink:    ms,
		logger:         l,
		entries:        make([]*Entry, 0),
		counts:         make(map[countKey]int),
		byReason:       make(map[callDispatcher.OutcomeKind]int),
		unseenVersions: make(map[uint32]int),
		lagSignalled:   make(map[uint32]bool),
	}
}

func entryFromOutcome(o *callDispatcher.DispatchOutcome) *Entry {
	return &Entry{
		BlockHeight: o.BlockHeight,
		SpecVersion: o.SpecVersion,
		ItemIndex:   o.Envelope.Index,
		ItemType:    o.Envelope.Type.String(),
		Kind:        o.Envelope.Name,
		Hash:        o.Hash.String(),
		Reason:      o.Kind.String(),
		Message:     o.Message(),
	}
}

// Record appends a failed outcome. Decoded outcomes are ignored and nil is returned.
func (fr *FailureReport) Record(o *callDispatcher.DispatchOutcome) *Entry {
	if o == nil || o.Succeeded() {
		return nil
	}
	entry := entryFromOutcome(o)

	fr.mu.Lock()
	fr.entries = append(fr.entries, entry)
	if fr.config.MaxEntries > 0 && len(fr.entries) > fr.config.MaxEntries {
		fr.entries = slices.Delete(fr.entries, 0, len(fr.entries)-fr.config.MaxEntries)
	}
	fr.counts[countKey{reason: entry.Reason, kind: entry.Kind}]++
	fr.byReason[o.Kind]++
	fr.total++
	lagged := fr.trackUpgradeLag(o)
	fr.mu.Unlock()

	_ = fr.metricsSink.Incr(metricsTypes.Metric_Incr_DispatchOutcome, []metricsTypes.MetricsLabel{
		{Name: "outcome", Value: o.Kind.String()},
		{Name: "item_type", Value: entry.ItemType},
		{Name: "pallet", Value: o.ItemKind().Pallet()},
	}, 1)

	if lagged {
		fr.logger.Sugar().Warnw("Registry snapshot is behind the chain runtime; regenerate it from fresh metadata",
			zap.Uint32("specVersion", o.SpecVersion),
			zap.Uint32("latestRegistrySpecVersion", fr.latestRegistryVersion()),
			zap.Int("threshold", fr.config.SpikeThreshold),
			zap.Uint64("blockNumber", o.BlockHeight),
		)
		_ = fr.metricsSink.Incr(metricsTypes.Metric_Incr_UpgradeLagDetected, []metricsTypes.MetricsLabel{
			{Name: "spec_version", Value: strconv.FormatUint(uint64(o.SpecVersion), 10)},
		}, 1)
	}
	return entry
}

func (fr *FailureReport) latestRegistryVersion() uint32 {
	if fr.registry == nil || fr.registry.Registry() == nil {
		return 0
	}
	return fr.registry.Registry().Info().LatestSpecVersion()
}

// trackUpgradeLag reports true exactly once per spec version, when that version's
// no-variant count reaches the threshold. Callers hold fr.mu.
func (fr *FailureReport) trackUpgradeLag(o *callDispatcher.DispatchOutcome) bool {
	if o.Kind != callDispatcher.OutcomeKind_NoVariantForVersion {
		return false
	}
	if o.SpecVersion <= fr.latestRegistryVersion() {
		return false
	}
	fr.unseenVersions[o.SpecVersion]++
	if fr.lagSignalled[o.SpecVersion] || fr.unseenVersions[o.SpecVersion] < fr.config.SpikeThreshold {
		return false
	}
	fr.lagSignalled[o.SpecVersion] = true
	return true
}

// Counts returns failure counts grouped by reason and kind, largest first.
func (fr *FailureReport) Counts() []*Count {
	fr.mu.Lock()
	counts := make([]*Count, 0, len(fr.counts))
	for k, c := range fr.counts {
		counts = append(counts, &Count{Reason: k.reason, Kind: k.kind, Count: c})
	}
	fr.mu.Unlock()

	slices.SortFunc(counts, func(a, b *Count) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Reason, b.Reason); c != 0 {
			return c
		}
		return cmp.Compare(a.Kind, b.Kind)
	})
	return counts
}

func (fr *FailureReport) CountsByReason() map[callDispatcher.OutcomeKind]int {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	out := make(map[callDispatcher.OutcomeKind]int, len(fr.byReason))
	for k, v := range fr.byReason {
		out[k] = v
	}
	return out
}

func (fr *FailureReport) Total() int {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	return fr.total
}

// Entries returns the retained entries matching filter in the order they were recorded.
func (fr *FailureReport) Entries(filter *Filter) []*Entry {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	out := make([]*Entry, 0)
	for _, e := range fr.entries {
		if filter.matches(e) {
			out = append(out, e)
		}
	}
	return out
}

// LaggingSpecVersions lists the spec versions that triggered the upgrade lag signal.
func (fr *FailureReport) LaggingSpecVersions() []uint32 {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	versions := make([]uint32, 0, len(fr.lagSignalled))
	for v := range fr.lagSignalled {
		versions = append(versions, v)
	}
	slices.Sort(versions)
	return versions
}

// PublishTotals writes the per-reason totals as gauges.
func (fr *FailureReport) PublishTotals() {
	for reason, count := range fr.CountsByReason() {
		_ = fr.metricsSink.Gauge(metricsTypes.Metric_Gauge_FailureTotal, float64(count), []metricsTypes.MetricsLabel{
			{Name: "reason", Value: reason.String()},
		})
	}
}

func (fr *FailureReport) WriteCSV(w io.Writer, filter *Filter) error {
	entries := fr.Entries(filter)
	if err := gocsv.Marshal(entries, w); err != nil {
		return fmt.Errorf("failed to write failure entries as csv: %w", err)
	}
	return nil
}

func (fr *FailureReport) WriteCountsCSV(w io.Writer) error {
	if err := gocsv.Marshal(fr.Counts(), w); err != nil {
		return fmt.Errorf("failed to write failure counts as csv: %w", err)
	}
	return nil
}
