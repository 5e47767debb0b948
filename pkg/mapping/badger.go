package mapping

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/fortiblox/X1-Strata/pkg/value"
)

// metaHeight is the key of the committed block height.
var metaHeight = []byte{prefixMeta, 'h', 'e', 'i', 'g', 'h', 't'}

// BadgerConfig contains configuration for BadgerStore.
type BadgerConfig struct {
	// Path is the directory path for the database.
	Path string `yaml:"path"`

	// InMemory runs the database in memory (for testing).
	InMemory bool `yaml:"in_memory"`

	// SyncWrites ensures writes are synced to disk.
	SyncWrites bool `yaml:"sync_writes"`

	// NumCompactors is the number of compaction workers.
	NumCompactors int `yaml:"num_compactors"`

	// NumMemtables is the number of memtables.
	NumMemtables int `yaml:"num_memtables"`

	// ValueLogFileSize is the size of each value log file.
	ValueLogFileSize int64 `yaml:"value_log_file_size"`

	// CacheSize is the number of entries kept in the read cache. Zero
	// disables the cache.
	CacheSize int `yaml:"cache_size"`

	// Logger receives badger's own log output.
	Logger zerolog.Logger `yaml:"-"`
}

// DefaultBadgerConfig returns default configuration.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:             path,
		SyncWrites:       true,
		NumCompactors:    2,
		NumMemtables:     5,
		ValueLogFileSize: 64 << 20,
		CacheSize:        16384,
		Logger:           zerolog.Nop(),
	}
}

// cached is a read-cache entry; absent keys are cached too.
type cached struct {
	raw []byte
	ok  bool
}

// BadgerStore is a badger-backed Store.
//
// Entries live under prefix 0x01 keyed by program, mapping and encoded key;
// metadata lives under 0x02. Apply writes a whole block through one
// WriteBatch together with the height, so a crash never leaves half a block.
type BadgerStore struct {
	db     *badger.DB
	cache  *lru.Cache[string, cached]
	height atomic.Uint32
	closed atomic.Bool

	// mu serializes Apply with cache fills. epoch counts applied batches so a
	// read that overlapped an Apply does not cache what it saw.
	mu    sync.Mutex
	epoch uint64
}

// OpenBadger opens or creates a BadgerStore.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumCompactors(cfg.NumCompactors).
		WithNumMemtables(cfg.NumMemtables).
		WithValueLogFileSize(cfg.ValueLogFileSize).
		WithLogger(badgerLogger{cfg.Logger.With().Str("component", "badger").Logger()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	s := &BadgerStore{db: db}
	if cfg.CacheSize > 0 {
		s.cache, err = lru.New[string, cached](cfg.CacheSize)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("create cache: %w", err)
		}
	}
	if err := s.loadMetadata(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load metadata: %w", err)
	}
	return s, nil
}

func (s *BadgerStore) loadMetadata() error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaHeight)
		if errors.Is(err, badger.ErrKeyNotFound) {
			s.height.Store(0)
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) >= 4 {
				s.height.Store(binary.LittleEndian.Uint32(val))
			}
			return nil
		})
	})
}

// Get implements Store.
func (s *BadgerStore) Get(program, mapping string, key value.Plaintext) (value.Plaintext, bool, error) {
	if s.closed.Load() {
		return value.Plaintext{}, false, ErrClosed
	}
	k := entryKey(program, mapping, key)
	raw, ok, err := s.read(k)
	if err != nil || !ok {
		return value.Plaintext{}, false, err
	}
	v, err := value.DecodePlaintext(raw)
	if err != nil {
		return value.Plaintext{}, false, fmt.Errorf("%w: %s/%s: %v", ErrInvalidEntry, program, mapping, err)
	}
	return v, true, nil
}

func (s *BadgerStore) read(k []byte) ([]byte, bool, error) {
	if s.cache != nil {
		if c, ok := s.cache.Get(string(k)); ok {
			return c.raw, c.ok, nil
		}
	}
	epoch := s.cacheEpoch()
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		s.fill(k, cached{}, epoch)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	s.fill(k, cached{raw: raw, ok: true}, epoch)
	return raw, true, nil
}

func (s *BadgerStore) cacheEpoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// fill caches c unless an Apply completed since epoch was read.
func (s *BadgerStore) fill(k []byte, c cached, epoch uint64) {
	if s.cache == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch == epoch {
		s.cache.Add(string(k), c)
	}
}

// Iterate implements Store.
func (s *BadgerStore) Iterate(program, mapping string, fn func(key, val value.Plaintext) error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	prefix := mappingPrefix(program, mapping)
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key, err := value.DecodePlaintext(bytes.TrimPrefix(item.Key(), prefix))
			if err != nil {
				return fmt.Errorf("%w: key: %v", ErrInvalidEntry, err)
			}
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			val, err := value.DecodePlaintext(raw)
			if err != nil {
				return fmt.Errorf("%w: value: %v", ErrInvalidEntry, err)
			}
			if err := fn(key, val); err != nil {
				return err
			}
		}
		return nil
	})
}

// Apply implements Store.
func (s *BadgerStore) Apply(height uint32, writes []Write) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, w := range writes {
		k := entryKey(w.Program, w.Mapping, w.Key)
		var err error
		if w.Delete {
			err = wb.Delete(k)
		} else {
			err = wb.Set(k, value.EncodePlaintext(w.Value))
		}
		if err != nil {
			return fmt.Errorf("batch %s/%s: %w", w.Program, w.Mapping, err)
		}
	}
	var hb [4]byte
	binary.LittleEndian.PutUint32(hb[:], height)
	if err := wb.Set(metaHeight, hb[:]); err != nil {
		return fmt.Errorf("batch height: %w", err)
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush batch: %w", err)
	}

	if s.cache != nil {
		for _, w := range writes {
			k := string(entryKey(w.Program, w.Mapping, w.Key))
			if w.Delete {
				s.cache.Add(k, cached{})
			} else {
				s.cache.Add(k, cached{raw: value.EncodePlaintext(w.Value), ok: true})
			}
		}
	}
	s.epoch++
	s.height.Store(height)
	return nil
}

// Height implements Store.
func (s *BadgerStore) Height() uint32 {
	return s.height.Load()
}

// RunGC rewrites at most one value log file that is at least half stale.
// Having nothing to rewrite is not an error.
func (s *BadgerStore) RunGC() error {
	if s.closed.Load() {
		return ErrClosed
	}
	err := s.db.RunValueLogGC(0.5)
	if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
		return nil
	}
	return err
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	if s.closed.Swap(true) {
		return ErrClosed
	}
	return s.db.Close()
}

var _ Store = (*BadgerStore)(nil)

// badgerLogger routes badger's logging through zerolog.
type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msgf(format, args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn().Msgf(format, args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Info().Msgf(format, args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug().Msgf(format, args...)
}
