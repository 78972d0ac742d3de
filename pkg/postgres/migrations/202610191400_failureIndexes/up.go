package _202610191400_failureIndexes

import (
	"database/sql"

	"github.com/Layr-Labs/runtime-indexer/internal/config"
	"gorm.io/gorm"
)

type Migration struct {
}

// Up indexes the columns the failure report groups and filters by.
func (m *Migration) Up(db *sql.DB, grm *gorm.DB, cfg *config.Config) error {
	query := `create index if not exists idx_dispatch_failures_reason_kind on dispatch_failures(reason, kind)`

	res := grm.Exec(query)
	if res.Error != nil {
		return res.Error
	}
	return nil
}

func (m *Migration) GetName() string {
	return "202610191400_failureIndexes"
}
