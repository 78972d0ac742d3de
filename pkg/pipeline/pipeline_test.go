package pipeline

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Layr-Labs/runtime-indexer/internal/config"
	"github.com/Layr-Labs/runtime-indexer/pkg/callDispatcher"
	"github.com/Layr-Labs/runtime-indexer/pkg/chain"
	"github.com/Layr-Labs/runtime-indexer/pkg/eventBus"
	"github.com/Layr-Labs/runtime-indexer/pkg/eventBus/eventBusTypes"
	"github.com/Layr-Labs/runtime-indexer/pkg/failureReport"
	"github.com/Layr-Labs/runtime-indexer/pkg/fetcher"
	"github.com/Layr-Labs/runtime-indexer/pkg/hashResolver"
	"github.com/Layr-Labs/runtime-indexer/pkg/logger"
	"github.com/Layr-Labs/runtime-indexer/pkg/metrics"
	"github.com/Layr-Labs/runtime-indexer/pkg/scaleCodec"
	"github.com/Layr-Labs/runtime-indexer/pkg/schemaRegistry"
	"github.com/Layr-Labs/runtime-indexer/pkg/storage"
	"github.com/stretchr/testify/assert"
)

const (
	transferHash = schemaRegistry.ContentHash("af839aed")
	eventHash    = schemaRegistry.ContentHash("e1e1e1e1")
	aliceHex     = "d43593c715fdd31c61141abd04a99fd6822c8558854ccde39a5684e7a56da27d"
)

type fakeNode struct {
	tip         atomic.Uint64
	failHeights map[uint64]bool
	shuffle     bool
}

func (n *fakeNode) GetLatestBlockNumber(ctx context.Context) (uint64, error) {
	return n.tip.Load(), nil
}

func transferPayload() []byte {
	b, _ := hex.DecodeString(aliceHex)
	return append(b, 0xa1, 0x0f)
}

func (n *fakeNode) GetBlock(ctx context.Context, number uint64) (*chain.Block, error) {
	if n.failHeights[number] {
		return nil, errors.New("node unavailable")
	}
	if number > n.tip.Load() {
		return nil, fmt.Errorf("block %d not produced yet", number)
	}
	zero := uint32(0)
	items := []*chain.RawEnvelope{
		{Index: 0, Type: schemaRegistry.ItemType_Call, Name: "Balances.transfer", Payload: transferPayload()},
		{Index: 1, Type: schemaRegistry.ItemType_Call, Name: "NewPallet.newCall", Payload: []byte{1, 2}},
		{Index: 2, Type: schemaRegistry.ItemType_Event, Name: "Balances.Transfer", ExtrinsicIndex: &zero, Payload: []byte{7, 0, 0, 0}},
		{Index: 3, Type: schemaRegistry.ItemType_Call, Name: "Balances.transfer", Payload: []byte{1}},
	}
	if n.shuffle {
		items = []*chain.RawEnvelope{items[3], items[1], items[0], items[2]}
	}
	return &chain.Block{
		Number:      number,
		Hash:        fmt.Sprintf("0x%064x", number),
		ParentHash:  fmt.Sprintf("0x%064x", number-1),
		SpecVersion: 950,
		Items:       items,
		CallHashes:  map[string]schemaRegistry.ContentHash{"Balances.transfer": transferHash},
		EventHashes: map[string]schemaRegistry.ContentHash{"Balances.Transfer": eventHash},
	}, nil
}

type memorySink struct {
	mu      sync.Mutex
	blocks  []*storage.BlockData
	failAt  uint64
	ctxErrs []error
}

func (s *memorySink) InsertBlock(ctx context.Context, data *storage.BlockData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	if s.failAt != 0 && data.Block.Number == s.failAt {
		return errors.New("disk full")
	}
	s.blocks = append(s.blocks, data)
	return nil
}

func (s *memorySink) heights() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint64, 0, len(s.blocks))
	for _, b := range s.blocks {
		out = append(out, b.Block.Number)
	}
	return out
}

type testPipeline struct {
	pipeline *Pipeline
	node     *fakeNode
	sink     *memorySink
	report   *failureReport.FailureReport
	resolver *hashResolver.HashResolver
	bus      *eventBus.EventBus
}

func setup(t *testing.T, tip uint64) *testPipeline {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	assert.Nil(t, err)

	cfg := &config.Config{
		PipelineConfig: config.PipelineConfig{
			Workers:         4,
			ItemConcurrency: 3,
			PollInterval:    5 * time.Millisecond,
		},
	}

	reg, err := schemaRegistry.NewSchemaRegistry(schemaRegistry.SnapshotInfo{Source: "test", SpecVersions: []uint32{900}}, []*schemaRegistry.SchemaVariant{
		{
			Kind:     schemaRegistry.NewCallKind("Balances.transfer"),
			Hash:     transferHash,
			Fields:   []schemaRegistry.Field{{Name: "dest", Type: "AccountId32"}, {Name: "value", Type: "Compact<u128>"}},
			Versions: []schemaRegistry.VersionRange{schemaRegistry.NewOpenVersionRange(900)},
		},
		{
			Kind:     schemaRegistry.NewEventKind("Balances.Transfer"),
			Hash:     eventHash,
			Fields:   []schemaRegistry.Field{{Name: "amount", Type: "u32"}},
			Versions: []schemaRegistry.VersionRange{schemaRegistry.NewOpenVersionRange(900)},
		},
	})
	assert.Nil(t, err)

	sink, _ := metrics.NewMetricsSink(&metrics.MetricsSinkConfig{}, nil)
	node := &fakeNode{failHeights: map[uint64]bool{}}
	node.tip.Store(tip)

	f := fetcher.NewFetcher(node, &fetcher.FetcherConfig{Backoff: []time.Duration{time.Millisecond, time.Millisecond}}, sink, l).
		WithSleepFunc(func(ctx context.Context, d time.Duration) error { return nil })
	resolver := hashResolver.NewHashResolver(nil, l)
	cd := callDispatcher.NewCallDispatcher(reg, resolver, nil, l)
	report := failureReport.NewFailureReport(&failureReport.FailureReportConfig{SpikeThreshold: 100}, cd, sink, l)
	bus := eventBus.NewEventBus(l)
	memSink := &memorySink{}

	p := NewPipeline(f, cd, resolver, report, memSink, scaleCodec.NewCodec(nil), cfg, sink, bus, l)
	return &testPipeline{pipeline: p, node: node, sink: memSink, report: report, resolver: resolver, bus: bus}
}

func collect(ch <-chan *IngestResult) []*IngestResult {
	results := make([]*IngestResult, 0)
	for r := range ch {
		results = append(results, r)
	}
	return results
}

func Test_ProcessFetchedBlock(t *testing.T) {
	t.Run("Outcomes follow in-block order and failures do not fail the block", func(t *testing.T) {
		tp := setup(t, 10)
		tp.node.shuffle = true

		fetched, err := tp.pipeline.Fetcher.FetchBlock(context.Background(), 5)
		assert.Nil(t, err)

		pb, err := tp.pipeline.ProcessFetchedBlock(context.Background(), fetched)
		assert.Nil(t, err)
		assert.Equal(t, BlockState_Dispatched, pb.State)
		assert.Len(t, pb.Outcomes, 4)
		for i, o := range pb.Outcomes {
			assert.Equal(t, uint32(i), o.Envelope.Index)
		}
		assert.Equal(t, callDispatcher.OutcomeKind_Decoded, pb.Outcomes[0].Kind)
		assert.Equal(t, callDispatcher.OutcomeKind_UnknownCallKind, pb.Outcomes[1].Kind)
		assert.Equal(t, callDispatcher.OutcomeKind_Decoded, pb.Outcomes[2].Kind)
		assert.Equal(t, callDispatcher.OutcomeKind_DecodeError, pb.Outcomes[3].Kind)

		decoded, failed := pb.Counts()
		assert.Equal(t, 2, decoded)
		assert.Equal(t, 2, failed)
		// nothing is reported until the block is emitted
		assert.Equal(t, 0, tp.report.Total())
	})

	t.Run("Outcome root is independent of delivery order", func(t *testing.T) {
		ordered := setup(t, 10)
		shuffled := setup(t, 10)
		shuffled.node.shuffle = true

		roots := make([]string, 0)
		for _, tp := range []*testPipeline{ordered, shuffled} {
			fetched, err := tp.pipeline.Fetcher.FetchBlock(context.Background(), 3)
			assert.Nil(t, err)
			pb, err := tp.pipeline.ProcessFetchedBlock(context.Background(), fetched)
			assert.Nil(t, err)
			roots = append(roots, pb.OutcomeRoot)
		}
		assert.Equal(t, roots[0], roots[1])
		assert.Len(t, roots[0], 66)
	})

	t.Run("Empty blocks still get a root", func(t *testing.T) {
		tp := setup(t, 10)
		pb, err := tp.pipeline.ProcessFetchedBlock(context.Background(), &fetcher.FetchedBlock{Block: &chain.Block{Number: 4, Hash: "0x04"}})
		assert.Nil(t, err)
		assert.Empty(t, pb.Outcomes)
		assert.NotEmpty(t, pb.OutcomeRoot)
	})

	t.Run("Rows carry ordered fields and raw failure payloads", func(t *testing.T) {
		tp := setup(t, 10)
		fetched, _ := tp.pipeline.Fetcher.FetchBlock(context.Background(), 2)
		pb, err := tp.pipeline.ProcessFetchedBlock(context.Background(), fetched)
		assert.Nil(t, err)

		data, err := pb.toBlockData()
		assert.Nil(t, err)
		assert.Equal(t, 4, data.Block.ItemCount)
		assert.Len(t, data.Records, 2)
		assert.Equal(t, `{"dest":"0x`+aliceHex+`","value":"1000"}`, data.Records[0].Fields)
		assert.Equal(t, uint32(0), *data.Records[1].ExtrinsicIndex)
		assert.Len(t, data.Failures, 2)
		assert.Equal(t, "decode_error", data.Failures[1].Reason)
		assert.Equal(t, "0x01", data.Failures[1].Payload)
	})
}

func Test_Emit(t *testing.T) {
	t.Run("Emission completes under a cancelled context", func(t *testing.T) {
		tp := setup(t, 10)
		consumer := eventBusTypes.NewConsumer(context.Background(), 1)
		tp.bus.Subscribe(consumer)

		fetched, _ := tp.pipeline.Fetcher.FetchBlock(context.Background(), 6)
		pb, err := tp.pipeline.ProcessFetchedBlock(context.Background(), fetched)
		assert.Nil(t, err)
		assert.Equal(t, 1, tp.resolver.MemoizedBlocks())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.Nil(t, tp.pipeline.Emit(ctx, pb))

		assert.Equal(t, BlockState_Emitted, pb.State)
		assert.Equal(t, []error{nil}, tp.sink.ctxErrs)
		assert.Equal(t, uint64(6), tp.pipeline.LastEmitted().Number)
		assert.Equal(t, 0, tp.resolver.MemoizedBlocks())

		event := <-consumer.Channel
		assert.Equal(t, eventBusTypes.Event_BlockIngested, event.Name)
		data := event.Data.(*eventBusTypes.BlockIngestedData)
		assert.Equal(t, 2, data.DecodedCount)
		assert.Equal(t, 2, data.FailureCount)
	})

	t.Run("Failures are reported only for blocks the sink accepted", func(t *testing.T) {
		tp := setup(t, 10)
		tp.sink.failAt = 3

		fetched, _ := tp.pipeline.Fetcher.FetchBlock(context.Background(), 3)
		rejected, err := tp.pipeline.ProcessFetchedBlock(context.Background(), fetched)
		assert.Nil(t, err)
		assert.NotNil(t, tp.pipeline.Emit(context.Background(), rejected))
		assert.Equal(t, BlockState_Failed, rejected.State)
		assert.Equal(t, 0, tp.report.Total())

		fetched, _ = tp.pipeline.Fetcher.FetchBlock(context.Background(), 4)
		accepted, err := tp.pipeline.ProcessFetchedBlock(context.Background(), fetched)
		assert.Nil(t, err)
		assert.Equal(t, 0, tp.report.Total())
		assert.Nil(t, tp.pipeline.Emit(context.Background(), accepted))
		assert.Equal(t, 2, tp.report.Total())
	})

	t.Run("A block cannot be emitted twice", func(t *testing.T) {
		tp := setup(t, 10)
		pb, err := tp.pipeline.RunForBlock(context.Background(), 1)
		assert.Nil(t, err)
		assert.NotNil(t, tp.pipeline.Emit(context.Background(), pb))
		assert.Len(t, tp.sink.heights(), 1)
	})
}

func Test_Ingest(t *testing.T) {
	t.Run("Bounded ranges yield every block in height order", func(t *testing.T) {
		tp := setup(t, 100)

		results := collect(tp.pipeline.Ingest(context.Background(), NewBoundedRange(1, 40)))
		assert.Len(t, results, 40)
		for i, r := range results {
			assert.Nil(t, r.Err)
			assert.Equal(t, uint64(i+1), r.BlockHeight)
			assert.Equal(t, BlockState_Emitted, r.Block.State)
			assert.Len(t, r.Outcomes(), 4)
		}

		heights := tp.sink.heights()
		assert.Len(t, heights, 40)
		for i, h := range heights {
			assert.Equal(t, uint64(i+1), h)
		}
		assert.Equal(t, uint64(40), tp.pipeline.LastEmitted().Number)
		assert.Equal(t, 80, tp.report.Total())
	})

	t.Run("A single-block range", func(t *testing.T) {
		tp := setup(t, 100)
		results := collect(tp.pipeline.Ingest(context.Background(), NewBoundedRange(7, 7)))
		assert.Len(t, results, 1)
		assert.Equal(t, uint64(7), results[0].BlockHeight)
	})

	t.Run("An inverted range yields nothing", func(t *testing.T) {
		tp := setup(t, 100)
		assert.Empty(t, collect(tp.pipeline.Ingest(context.Background(), NewBoundedRange(9, 3))))
	})

	t.Run("A fetch failure stops the stream without skipping", func(t *testing.T) {
		tp := setup(t, 100)
		tp.node.failHeights[7] = true

		results := collect(tp.pipeline.Ingest(context.Background(), NewBoundedRange(1, 30)))
		assert.Len(t, results, 7)
		for i := 0; i < 6; i++ {
			assert.Nil(t, results[i].Err)
			assert.Equal(t, uint64(i+1), results[i].BlockHeight)
		}

		last := results[6]
		assert.Equal(t, uint64(7), last.BlockHeight)
		var failure *fetcher.BlockFetchFailure
		assert.True(t, errors.As(last.Err, &failure))
		assert.Equal(t, 3, failure.Attempts)

		assert.Equal(t, []uint64{1, 2, 3, 4, 5, 6}, tp.sink.heights())
	})

	t.Run("A sink failure stops the stream", func(t *testing.T) {
		tp := setup(t, 100)
		tp.sink.failAt = 4

		results := collect(tp.pipeline.Ingest(context.Background(), NewBoundedRange(1, 10)))
		assert.Len(t, results, 4)
		assert.ErrorContains(t, results[3].Err, "disk full")
		assert.Equal(t, BlockState_Failed, results[3].Block.State)
		assert.Equal(t, uint64(3), tp.pipeline.LastEmitted().Number)
	})

	t.Run("Open ranges follow the tip until cancelled", func(t *testing.T) {
		tp := setup(t, 3)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		ch := tp.pipeline.Ingest(ctx, NewOpenRange(1))
		seen := make([]uint64, 0)
		for r := range ch {
			assert.Nil(t, r.Err)
			seen = append(seen, r.BlockHeight)
			if r.BlockHeight == 3 {
				// the chain advances while we are polling
				tp.node.tip.Store(6)
			}
			if r.BlockHeight == 6 {
				cancel()
			}
		}
		assert.Equal(t, []uint64{1, 2, 3, 4, 5, 6}, seen)
	})
}
