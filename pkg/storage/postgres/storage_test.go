package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/Layr-Labs/runtime-indexer/internal/config"
	"github.com/Layr-Labs/runtime-indexer/internal/tests"
	"github.com/Layr-Labs/runtime-indexer/pkg/logger"
	"github.com/Layr-Labs/runtime-indexer/pkg/postgres"
	"github.com/Layr-Labs/runtime-indexer/pkg/storage"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setup(t *testing.T) (
	string,
	*gorm.DB,
	*zap.Logger,
	*config.Config,
) {
	if !tests.DatabaseTestsEnabled() {
		t.Skip("Skipping postgres integration test")
	}
	cfg := config.NewConfig()
	cfg.Debug = os.Getenv(config.Debug) == "true"
	cfg.DatabaseConfig = *tests.GetDbConfigFromEnv()

	l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Debug})

	dbname, _, grm, err := postgres.GetTestPostgresDatabase(cfg.DatabaseConfig, cfg, l)
	if err != nil {
		t.Fatalf("Failed to setup: %v", err)
	}
	return dbname, grm, l, cfg
}

func blockData(number uint64, hash string, parentHash string) *storage.BlockData {
	extrinsic := uint32(0)
	return &storage.BlockData{
		Block: &storage.Block{
			Number:       number,
			Hash:         hash,
			ParentHash:   parentHash,
			SpecVersion:  950,
			OutcomeRoot:  "0xroot",
			ItemCount:    2,
			DecodedCount: 1,
			FailureCount: 1,
		},
		Records: []*storage.DecodedRecord{
			{
				BlockNumber:    number,
				ItemIndex:      0,
				ItemType:       "call",
				Kind:           "Balances.transfer",
				Hash:           "af839aed",
				SpecVersion:    950,
				ExtrinsicIndex: &extrinsic,
				Fields:         `{"dest":"0x01","value":"1000"}`,
			},
		},
		Failures: []*storage.DispatchFailure{
			{
				BlockNumber: number,
				ItemIndex:   1,
				ItemType:    "call",
				Kind:        "NewPallet.newCall",
				SpecVersion: 950,
				Reason:      "unknown_call_kind",
				Message:     "unknown call kind",
				Payload:     "0x01",
			},
		},
	}
}

func Test_PostgresBlockStore(t *testing.T) {
	dbname, db, l, cfg := setup(t)
	defer postgres.TeardownTestDatabase(dbname, cfg, db, l)

	ctx := context.Background()
	blockStore := NewPostgresBlockStore(db, l, cfg)

	t.Run("GetLatestBlock on an empty database", func(t *testing.T) {
		block, err := blockStore.GetLatestBlock(ctx)
		assert.Nil(t, err)
		assert.Nil(t, block)
	})

	t.Run("InsertBlock writes the block, records and failures", func(t *testing.T) {
		assert.Nil(t, blockStore.InsertBlock(ctx, blockData(100, "0x100", "0x99")))
		assert.Nil(t, blockStore.InsertBlock(ctx, blockData(101, "0x101", "0x100")))

		latest, err := blockStore.GetLatestBlock(ctx)
		assert.Nil(t, err)
		assert.Equal(t, uint64(101), latest.Number)
		assert.Equal(t, "0x101", latest.Hash)

		records, err := blockStore.GetRecordsForBlock(ctx, 100)
		assert.Nil(t, err)
		assert.Len(t, records, 1)
		assert.Equal(t, "Balances.transfer", records[0].Kind)
		assert.JSONEq(t, `{"dest":"0x01","value":"1000"}`, records[0].Fields)
		assert.Equal(t, uint32(0), *records[0].ExtrinsicIndex)
	})

	t.Run("InsertBlock is idempotent for the same height", func(t *testing.T) {
		assert.Nil(t, blockStore.InsertBlock(ctx, blockData(101, "0x101", "0x100")))

		failures, err := blockStore.ListFailures(ctx, &storage.FailureFilter{FromBlock: 101})
		assert.Nil(t, err)
		assert.Len(t, failures, 1)
	})

	t.Run("InsertBlock rolls back on failure", func(t *testing.T) {
		data := blockData(102, "0x102", "0x101")
		// duplicate primary key inside the same block
		data.Failures = append(data.Failures, data.Failures[0])
		assert.NotNil(t, blockStore.InsertBlock(ctx, data))

		block, err := blockStore.GetBlockByNumber(ctx, 102)
		assert.Nil(t, err)
		assert.Nil(t, block)
	})

	t.Run("GetFailureCounts groups by reason and kind", func(t *testing.T) {
		counts, err := blockStore.GetFailureCounts(ctx)
		assert.Nil(t, err)
		assert.Len(t, counts, 1)
		assert.Equal(t, "unknown_call_kind", counts[0].Reason)
		assert.Equal(t, "NewPallet.newCall", counts[0].Kind)
		assert.Equal(t, int64(2), counts[0].Count)
	})

	t.Run("ListFailures filters", func(t *testing.T) {
		failures, err := blockStore.ListFailures(ctx, &storage.FailureFilter{Reason: "decode_error"})
		assert.Nil(t, err)
		assert.Len(t, failures, 0)

		failures, err = blockStore.ListFailures(ctx, &storage.FailureFilter{Kind: "NewPallet.newCall", Limit: 1})
		assert.Nil(t, err)
		assert.Len(t, failures, 1)
		assert.Equal(t, uint64(100), failures[0].BlockNumber)
	})

	t.Run("DeleteCorruptedState", func(t *testing.T) {
		assert.NotNil(t, blockStore.DeleteCorruptedState(ctx, 101, 100))

		assert.Nil(t, blockStore.DeleteCorruptedState(ctx, 101, 0))

		latest, err := blockStore.GetLatestBlock(ctx)
		assert.Nil(t, err)
		assert.Equal(t, uint64(100), latest.Number)

		records, err := blockStore.GetRecordsForBlock(ctx, 101)
		assert.Nil(t, err)
		assert.Len(t, records, 0)
	})
}
