package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Layr-Labs/runtime-indexer/internal/config"
	"github.com/Layr-Labs/runtime-indexer/pkg/postgres/helpers"
	"github.com/Layr-Labs/runtime-indexer/pkg/storage"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const insertBatchSize = 1000

type PostgresBlockStore struct {
	Db           *gorm.DB
	Logger       *zap.Logger
	GlobalConfig *config.Config
}

func NewPostgresBlockStore(db *gorm.DB, l *zap.Logger, cfg *config.Config) *PostgresBlockStore {
	return &PostgresBlockStore{
		Db:           db,
		Logger:       l,
		GlobalConfig: cfg,
	}
}

func (s *PostgresBlockStore) logPostgresError(err error, blockNumber uint64) {
	var pgError *pgconn.PgError
	if errors.As(err, &pgError) {
		s.Logger.Sugar().Errorw("Postgres error",
			zap.Uint64("blockNumber", blockNumber),
			zap.String("code", pgError.Code),
			zap.String("detail", pgError.Detail),
			zap.String("message", pgError.Message),
		)
	}
}

// InsertBlock writes the block row together with its records and failures in one
// transaction. Re-inserting an already stored block replaces it, which keeps a restart
// from the last checkpoint idempotent.
func (s *PostgresBlockStore) InsertBlock(ctx context.Context, data *storage.BlockData) error {
	if data == nil || data.Block == nil {
		return fmt.Errorf("block data is required")
	}
	blockNumber := data.Block.Number

	_, err := helpers.WrapTxAndCommit(func(tx *gorm.DB) (any, error) {
		for _, table := range []string{"decoded_records", "dispatch_failures"} {
			res := tx.Exec(fmt.Sprintf(`delete from %s where block_number = @blockNumber`, table), sql.Named("blockNumber", blockNumber))
			if res.Error != nil {
				return nil, fmt.Errorf("failed to clear '%s' for block '%d': %w", table, blockNumber, res.Error)
			}
		}

		res := tx.Model(&storage.Block{}).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "number"}},
			UpdateAll: true,
		}).Create(data.Block)
		if res.Error != nil {
			return nil, fmt.Errorf("failed to insert block with number '%d': %w", blockNumber, res.Error)
		}

		if len(data.Records) > 0 {
			res = tx.Model(&storage.DecodedRecord{}).CreateInBatches(data.Records, insertBatchSize)
			if res.Error != nil {
				return nil, fmt.Errorf("failed to insert decoded records for block '%d': %w", blockNumber, res.Error)
			}
		}
		if len(data.Failures) > 0 {
			res = tx.Model(&storage.DispatchFailure{}).CreateInBatches(data.Failures, insertBatchSize)
			if res.Error != nil {
				return nil, fmt.Errorf("failed to insert dispatch failures for block '%d': %w", blockNumber, res.Error)
			}
		}
		return nil, nil
	}, s.Db.WithContext(ctx), nil)

	if err != nil {
		s.Logger.Sugar().Errorw("Failed to insert block", zap.Uint64("blockNumber", blockNumber), zap.Error(err))
		s.logPostgresError(err, blockNumber)
		return err
	}
	return nil
}

// GetLatestBlock returns the highest stored block, or nil when nothing has been indexed.
func (s *PostgresBlockStore) GetLatestBlock(ctx context.Context) (*storage.Block, error) {
	block := &storage.Block{}
	res := s.Db.WithContext(ctx).Model(&storage.Block{}).Order("number desc").First(block)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest block: %w", res.Error)
	}
	return block, nil
}

func (s *PostgresBlockStore) GetBlockByNumber(ctx context.Context, number uint64) (*storage.Block, error) {
	block := &storage.Block{}
	res := s.Db.WithContext(ctx).Model(block).Where("number = ?", number).First(block)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, res.Error
	}
	return block, nil
}

func (s *PostgresBlockStore) GetRecordsForBlock(ctx context.Context, number uint64) ([]*storage.DecodedRecord, error) {
	records := make([]*storage.DecodedRecord, 0)
	res := s.Db.WithContext(ctx).
		Model(&storage.DecodedRecord{}).
		Where("block_number = ?", number).
		Order("item_index asc").
		Find(&records)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to get records for block '%d': %w", number, res.Error)
	}
	return records, nil
}

func (s *PostgresBlockStore) GetFailureCounts(ctx context.Context) ([]*storage.FailureCount, error) {
	counts := make([]*storage.FailureCount, 0)
	query := `
		select
			reason,
			kind,
			count(*) as count
		from dispatch_failures
		group by reason, kind
		order by count desc, reason asc, kind asc
	`
	res := s.Db.WithContext(ctx).Raw(query).Scan(&counts)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to get failure counts: %w", res.Error)
	}
	return counts, nil
}

func (s *PostgresBlockStore) ListFailures(ctx context.Context, filter *storage.FailureFilter) ([]*storage.DispatchFailure, error) {
	failures := make([]*storage.DispatchFailure, 0)
	query := s.Db.WithContext(ctx).Model(&storage.DispatchFailure{})
	if filter != nil {
		if filter.Reason != "" {
			query = query.Where("reason = ?", filter.Reason)
		}
		if filter.Kind != "" {
			query = query.Where("kind = ?", filter.Kind)
		}
		if filter.FromBlock > 0 {
			query = query.Where("block_number >= ?", filter.FromBlock)
		}
		if filter.Limit > 0 {
			query = query.Limit(filter.Limit)
		}
	}
	res := query.Order("block_number asc, item_index asc").Find(&failures)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to list failures: %w", res.Error)
	}
	return failures, nil
}

// DeleteCorruptedState removes every block at or above startBlockNumber (and at or below
// endBlockNumber when non-zero) along with its records and failures.
func (s *PostgresBlockStore) DeleteCorruptedState(ctx context.Context, startBlockNumber uint64, endBlockNumber uint64) error {
	s.Logger.Sugar().Infow("Deleting corrupted state",
		zap.Uint64("startBlockNumber", startBlockNumber),
		zap.Uint64("endBlockNumber", endBlockNumber),
	)
	if endBlockNumber != 0 && endBlockNumber < startBlockNumber {
		s.Logger.Sugar().Errorw("Invalid block range",
			zap.Uint64("startBlockNumber", startBlockNumber),
			zap.Uint64("endBlockNumber", endBlockNumber),
		)
		return fmt.Errorf("invalid block range; endBlockNumber must be greater than or equal to startBlockNumber")
	}

	_, err := helpers.WrapTxAndCommit(func(tx *gorm.DB) (any, error) {
		tables := map[string]string{
			"decoded_records":   "block_number",
			"dispatch_failures": "block_number",
			"blocks":            "number",
		}
		// children first, blocks last
		for _, tableName := range []string{"decoded_records", "dispatch_failures", "blocks"} {
			column := tables[tableName]
			query := fmt.Sprintf(`delete from %s where %s >= @startBlockNumber`, tableName, column)
			if endBlockNumber > 0 {
				query += fmt.Sprintf(" and %s <= @endBlockNumber", column)
			}
			res := tx.Exec(query,
				sql.Named("startBlockNumber", startBlockNumber),
				sql.Named("endBlockNumber", endBlockNumber),
			)
			if res.Error != nil {
				return nil, fmt.Errorf("failed to delete corrupted state from table '%s': %w", tableName, res.Error)
			}
			s.Logger.Sugar().Infow(fmt.Sprintf("Deleted records from %s", tableName),
				zap.Uint64("startBlockNumber", startBlockNumber),
				zap.Uint64("endBlockNumber", endBlockNumber),
				zap.Int64("rowsAffected", res.RowsAffected),
			)
		}
		return nil, nil
	}, s.Db.WithContext(ctx), nil)
	return err
}
