package database

import (
	"errors"

	"github.com/syndtr/goleveldb/leveldb"
	ldb_errors "github.com/syndtr/goleveldb/leveldb/errors" // Alias untuk menghindari konflik
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ErrNotFound diekspor untuk digunakan oleh package lain.
var ErrNotFound = ldb_errors.ErrNotFound

// Database is the key/value surface the chain store needs.
type Database interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Put(key []byte, value []byte) error
	Delete(key []byte) error
	Write(batch *leveldb.Batch) error
	ForEach(prefix []byte, fn func(key, value []byte) error) error
	DeleteRange(start, limit []byte) error
	Close() error
}

type LevelDB struct {
	db *leveldb.DB
}

// Options tunes the LevelDB handle. Zero values keep goleveldb defaults.
type Options struct {
	CacheMB int
	Handles int
}

func NewLevelDB(path string, o Options) (*LevelDB, error) {
	opts := &opt.Options{
		Filter: filter.NewBloomFilter(10),
	}
	if o.CacheMB > 0 {
		opts.BlockCacheCapacity = o.CacheMB * opt.MiB
	}
	if o.Handles > 0 {
		opts.OpenFilesCacheCapacity = o.Handles
	}
	db, err := leveldb.OpenFile(path, opts)
	if err != nil {
		if ldb_errors.IsCorrupted(err) {
			db, err = leveldb.RecoverFile(path, nil)
		}
		if err != nil {
			return nil, err
		}
	}
	return &LevelDB{db: db}, nil
}

// NewMemoryDB opens a LevelDB backed by memory, for tests and dry runs.
func NewMemoryDB() (*LevelDB, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

// Get mengembalikan nil, nil jika key tidak ada.
func (ldb *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := ldb.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	return value, err
}

func (ldb *LevelDB) Has(key []byte) (bool, error) {
	return ldb.db.Has(key, nil)
}

func (ldb *LevelDB) Put(key []byte, value []byte) error {
	return ldb.db.Put(key, value, nil)
}

func (ldb *LevelDB) Delete(key []byte) error {
	return ldb.db.Delete(key, nil)
}

// Write applies batch atomically.
func (ldb *LevelDB) Write(batch *leveldb.Batch) error {
	return ldb.db.Write(batch, nil)
}

// ForEach visits every key with prefix in key order. Key and value are
// copies and may be retained.
func (ldb *LevelDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	iter := ldb.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	for iter.Next() {
		// buffer iterator dipakai ulang, jadi salin dulu
		key := append([]byte(nil), iter.Key()...)
		value := append([]byte(nil), iter.Value()...)
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return iter.Error()
}

// DeleteRange removes [start, limit). A nil limit means no upper bound.
// LevelDB tidak punya DeleteRange native, jadi lewat iterator + batch.
func (ldb *LevelDB) DeleteRange(start, limit []byte) error {
	iter := ldb.db.NewIterator(&util.Range{Start: start, Limit: limit}, nil)
	defer iter.Release()
	batch := new(leveldb.Batch)
	for iter.Next() {
		key := make([]byte, len(iter.Key()))
		copy(key, iter.Key())
		batch.Delete(key)
	}
	if err := iter.Error(); err != nil {
		return err
	}
	return ldb.db.Write(batch, nil)
}

func (ldb *LevelDB) Close() error {
	return ldb.db.Close()
}
