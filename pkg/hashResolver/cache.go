package hashResolver

import (
	"errors"

	"github.com/Layr-Labs/runtime-indexer/pkg/schemaRegistry"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// HashCache persists resolved hashes so that a block re-processed after a restart
// resolves to the same hashes it did the first time.
type HashCache interface {
	Get(key string) (schemaRegistry.ContentHash, bool, error)
	Put(key string, hash schemaRegistry.ContentHash) error
	DeleteBlock(blockHash string) error
	Close() error
}

type LevelDbHashCache struct {
	db *leveldb.DB
}

func NewLevelDbHashCache(path string) (*LevelDbHashCache, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDbHashCache{db: db}, nil
}

// NewInMemoryLevelDbHashCache is backed by leveldb's memory storage.
func NewInMemoryLevelDbHashCache() (*LevelDbHashCache, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &LevelDbHashCache{db: db}, nil
}

func (c *LevelDbHashCache) Get(key string) (schemaRegistry.ContentHash, bool, error) {
	v, err := c.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return schemaRegistry.ContentHash(v), true, nil
}

func (c *LevelDbHashCache) Put(key string, hash schemaRegistry.ContentHash) error {
	return c.db.Put([]byte(key), []byte(hash), nil)
}

// DeleteBlock drops every entry recorded for blockHash.
func (c *LevelDbHashCache) DeleteBlock(blockHash string) error {
	batch := new(leveldb.Batch)
	iter := c.db.NewIterator(util.BytesPrefix([]byte(blockHash+"/")), nil)
	for iter.Next() {
		batch.Delete(append([]byte{}, iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return err
	}
	return c.db.Write(batch, nil)
}

func (c *LevelDbHashCache) Close() error {
	return c.db.Close()
}
