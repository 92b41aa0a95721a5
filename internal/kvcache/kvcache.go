// Package kvcache is a local, non-encrypted key-value cache for non-secret
// state: the last known CID, sizes and timestamps. Key material never goes
// in here; the metadata store stays the sole source of truth for what is
// recoverable.
package kvcache

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

var log *logrus.Logger

type StoreConfig struct {
	// Path is the cache directory.
	Path string
	// MinimumFreeSpace in GB; opening fails below this threshold.
	MinimumFreeSpace int
	Logger           *logrus.Logger
}

type Cache struct {
	config   StoreConfig
	badgerDB *badger.DB
}

func NewCache(config StoreConfig) (*Cache, error) {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}
	log = config.Logger

	if err := config.checkConfig(); err != nil {
		return nil, fmt.Errorf("error checking config for Cache: %w", err)
	}

	opts := badger.DefaultOptions(config.Path)
	opts.Logger = nil
	opts.SyncWrites = false

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("error opening cache at %s: %w", config.Path, err)
	}

	if err := displayDiskUsage(config.Path); err != nil {
		log.Warnf("could not read disk usage: %v", err)
	}

	return &Cache{
		config:   config,
		badgerDB: db,
	}, nil
}

// Save stores value under key, overwriting any previous value.
func (c *Cache) Save(key string, value []byte) error {
	err := c.badgerDB.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("error writing cache key %s: %w", key, err)
	}
	return nil
}

// Load returns the value for key, or (nil, nil) when the key is absent.
func (c *Cache) Load(key string) ([]byte, error) {
	var value []byte
	err := c.badgerDB.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading cache key %s: %w", key, err)
	}
	return value, nil
}

// Clear removes the value for key. Clearing an absent key is not an error.
func (c *Cache) Clear(key string) error {
	err := c.badgerDB.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("error clearing cache key %s: %w", key, err)
	}
	return nil
}

func (c *Cache) Close() error {
	return c.badgerDB.Close()
}
