package cache

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDBCache implements Backend on a single LevelDB database.
// Entries live under "e:<partition>/<key>", partition markers under "m:<partition>".
type LevelDBCache struct {
	path string
	db   *leveldb.DB
}

// NewLevelDB creates a LevelDB backend stored in path. Init opens the database.
func NewLevelDB(path string) *LevelDBCache {
	return &LevelDBCache{path: path}
}

func (l *LevelDBCache) Init() error {
	if l.db != nil {
		return nil
	}
	db, err := leveldb.OpenFile(l.path, nil)
	if err != nil {
		return fmt.Errorf("open leveldb %s: %w", l.path, err)
	}
	l.db = db
	return nil
}

func markerKey(partition string) []byte {
	return []byte("m:" + partition)
}

func entryPrefix(partition string) []byte {
	return []byte("e:" + partition + "/")
}

func entryKey(partition, key string) []byte {
	return append(entryPrefix(partition), key...)
}

func (l *LevelDBCache) Open(partition string) error {
	if err := validatePartition(partition); err != nil {
		return err
	}
	return l.db.Put(markerKey(partition), nil, nil)
}

func (l *LevelDBCache) Get(partition, key string) ([]byte, error) {
	b, err := l.db.Get(entryKey(partition, key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (l *LevelDBCache) Set(partition, key string, value []byte) error {
	if err := validatePartition(partition); err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	batch.Put(markerKey(partition), nil)
	batch.Put(entryKey(partition, key), value)
	return l.db.Write(batch, nil)
}

func (l *LevelDBCache) Delete(partition, key string) error {
	return l.db.Delete(entryKey(partition, key), nil)
}

func (l *LevelDBCache) Partitions() ([]string, error) {
	it := l.db.NewIterator(util.BytesPrefix([]byte("m:")), nil)
	defer it.Release()

	var names []string
	for it.Next() {
		names = append(names, string(bytes.TrimPrefix(it.Key(), []byte("m:"))))
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (l *LevelDBCache) DeletePartition(partition string) error {
	if err := validatePartition(partition); err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	it := l.db.NewIterator(util.BytesPrefix(entryPrefix(partition)), nil)
	for it.Next() {
		// iterator keys are only valid until the next call
		k := make([]byte, len(it.Key()))
		copy(k, it.Key())
		batch.Delete(k)
	}
	it.Release()
	if err := it.Error(); err != nil {
		return err
	}
	batch.Delete(markerKey(partition))
	return l.db.Write(batch, nil)
}

func (l *LevelDBCache) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}
