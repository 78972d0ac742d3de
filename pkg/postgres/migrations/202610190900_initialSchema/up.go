package _202610190900_initialSchema

import (
	"database/sql"

	"github.com/Layr-Labs/runtime-indexer/internal/config"
	"gorm.io/gorm"
)

type Migration struct {
}

func (m *Migration) Up(db *sql.DB, grm *gorm.DB, cfg *config.Config) error {
	queries := []string{
		`create table if not exists blocks (
			number bigint primary key,
			hash varchar not null,
			parent_hash varchar not null,
			spec_version integer not null,
			outcome_root varchar not null default '',
			item_count integer not null default 0,
			decoded_count integer not null default 0,
			failure_count integer not null default 0,
			created_at timestamp with time zone default current_timestamp,
			unique(hash)
		)`,
		`create table if not exists decoded_records (
			block_number bigint not null references blocks(number) on delete cascade,
			item_index integer not null,
			item_type varchar not null,
			kind varchar not null,
			hash varchar not null,
			spec_version integer not null,
			extrinsic_index integer,
			fields jsonb not null,
			created_at timestamp with time zone default current_timestamp,
			primary key (block_number, item_index)
		)`,
		`create table if not exists dispatch_failures (
			block_number bigint not null references blocks(number) on delete cascade,
			item_index integer not null,
			item_type varchar not null,
			kind varchar not null,
			hash varchar not null default '',
			spec_version integer not null,
			extrinsic_index integer,
			reason varchar not null,
			message text not null default '',
			payload text not null default '',
			created_at timestamp with time zone default current_timestamp,
			primary key (block_number, item_index)
		)`,
		`create index if not exists idx_decoded_records_kind on decoded_records(kind, block_number)`,
	}

	for _, query := range queries {
		res := grm.Exec(query)
		if res.Error != nil {
			return res.Error
		}
	}
	return nil
}

func (m *Migration) GetName() string {
	return "202610190900_initialSchema"
}
