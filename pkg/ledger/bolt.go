package ledger

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/fortiblox/X1-Strata/internal/types"
)

// Bucket names for BoltDB.
var (
	// bucketBlocks stores compressed blocks keyed by height.
	bucketBlocks = []byte("blocks")

	// bucketTxByID indexes transactions by id.
	bucketTxByID = []byte("tx_by_id")

	// bucketMetadata stores store metadata.
	bucketMetadata = []byte("metadata")
)

// Metadata keys.
var (
	keyHeadHeight = []byte("head_height")
	keyHeadHash   = []byte("head_hash")
)

// BoltConfig holds block store configuration options.
type BoltConfig struct {
	// Path is the database file path.
	Path string `yaml:"path"`

	// NoSync disables fsync after each write (faster but less durable).
	NoSync bool `yaml:"no_sync"`

	// ReadOnly opens the database in read-only mode.
	ReadOnly bool `yaml:"read_only"`

	// Timeout bounds waiting for the file lock.
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultBoltConfig returns the default block store configuration.
func DefaultBoltConfig(path string) BoltConfig {
	return BoltConfig{
		Path:    path,
		Timeout: 5 * time.Second,
	}
}

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db     *bolt.DB
	config BoltConfig

	mu     sync.RWMutex
	head   uint32
	hash   types.Hash
	closed bool
}

// OpenBolt creates or opens a block store.
func OpenBolt(config BoltConfig) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	db, err := bolt.Open(config.Path, 0600, &bolt.Options{
		Timeout:  config.Timeout,
		NoSync:   config.NoSync,
		ReadOnly: config.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &BoltStore{db: db, config: config}
	if !config.ReadOnly {
		if err := s.initBuckets(); err != nil {
			db.Close()
			return nil, fmt.Errorf("init buckets: %w", err)
		}
	}
	if err := s.loadHead(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load head: %w", err)
	}
	return s, nil
}

func (s *BoltStore) initBuckets() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketBlocks, bucketTxByID, bucketMetadata} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

func (s *BoltStore) loadHead() error {
	return s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMetadata)
		if meta == nil {
			return nil // Empty database.
		}
		if v := meta.Get(keyHeadHeight); len(v) == 4 {
			s.head = binary.BigEndian.Uint32(v)
		}
		if v := meta.Get(keyHeadHash); v != nil {
			h, err := types.HashFromBytes(v)
			if err != nil {
				return fmt.Errorf("%w: head hash: %v", ErrCorrupted, err)
			}
			s.hash = h
		}
		return nil
	})
}

func (s *BoltStore) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// PutBlock implements Store. The block, its index entries and the head move
// in one bolt transaction.
func (s *BoltStore) PutBlock(b *Block) error {
	if s.isClosed() {
		return ErrClosed
	}
	data, err := encodeBlock(b)
	if err != nil {
		return err
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketBlocks).Put(heightKey(b.Height), data); err != nil {
			return err
		}
		index := tx.Bucket(bucketTxByID)
		for i := range b.Transactions {
			loc := location{height: b.Height, index: uint32(i)}
			if err := index.Put(b.Transactions[i].Transaction.ID.Bytes(), loc.encode()); err != nil {
				return err
			}
		}
		for _, id := range b.Aborted {
			loc := location{height: b.Height, index: abortedIndex}
			if err := index.Put(id.Bytes(), loc.encode()); err != nil {
				return err
			}
		}

		s.mu.RLock()
		advance := b.Height >= s.head
		s.mu.RUnlock()
		if !advance {
			return nil
		}
		meta := tx.Bucket(bucketMetadata)
		if err := meta.Put(keyHeadHeight, heightKey(b.Height)); err != nil {
			return err
		}
		return meta.Put(keyHeadHash, b.Hash.Bytes())
	})
	if err != nil {
		return fmt.Errorf("put block %d: %w", b.Height, err)
	}

	s.mu.Lock()
	if b.Height >= s.head {
		s.head, s.hash = b.Height, b.Hash
	}
	s.mu.Unlock()
	return nil
}

// GetBlock implements Store.
func (s *BoltStore) GetBlock(height uint32) (*Block, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlocks)
		if b == nil {
			return nil
		}
		if v := b.Get(heightKey(height)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("%w: height %d", ErrBlockNotFound, height)
	}
	return decodeBlock(data)
}

func (s *BoltStore) location(id types.Hash) (location, bool, error) {
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTxByID)
		if b == nil {
			return nil
		}
		if v := b.Get(id.Bytes()); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil || raw == nil {
		return location{}, false, err
	}
	loc, err := decodeLocation(raw)
	return loc, err == nil, err
}

// GetTransaction implements Store.
func (s *BoltStore) GetTransaction(id types.Hash) (*ConfirmedTransaction, uint32, error) {
	if s.isClosed() {
		return nil, 0, ErrClosed
	}
	loc, ok, err := s.location(id)
	if err != nil {
		return nil, 0, err
	}
	if !ok || loc.index == abortedIndex {
		return nil, 0, fmt.Errorf("%w: %s", ErrTransactionNotFound, id)
	}
	b, err := s.GetBlock(loc.height)
	if err != nil {
		return nil, 0, err
	}
	return confirmedAt(b, loc)
}

// HasTransaction implements Store.
func (s *BoltStore) HasTransaction(id types.Hash) bool {
	if s.isClosed() {
		return false
	}
	_, ok, _ := s.location(id)
	return ok
}

// Head implements Store.
func (s *BoltStore) Head() (uint32, types.Hash) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.head, s.hash
}

// Sync forces a sync of the database to disk.
func (s *BoltStore) Sync() error {
	if s.isClosed() {
		return ErrClosed
	}
	return s.db.Sync()
}

// Close implements Store.
func (s *BoltStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	return s.db.Close()
}
