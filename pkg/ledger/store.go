// Package ledger provides the chain of confirmed blocks: transactions built
// from executions, blocks sealing their finalize outcomes, and persistent
// block storage.
package ledger

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/fortiblox/X1-Strata/internal/types"
)

var (
	// ErrBlockNotFound is returned when a block doesn't exist.
	ErrBlockNotFound = errors.New("block not found")

	// ErrTransactionNotFound is returned when a transaction doesn't exist.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("ledger store closed")

	// ErrInvalidBlock is returned for a block that does not extend the chain.
	ErrInvalidBlock = errors.New("invalid block")

	// ErrCorrupted is returned when stored data cannot be decoded.
	ErrCorrupted = errors.New("corrupted ledger data")
)

// Store persists blocks.
type Store interface {
	// PutBlock stores a block and indexes its transactions.
	PutBlock(b *Block) error

	// GetBlock returns the block at height.
	GetBlock(height uint32) (*Block, error)

	// GetTransaction returns a confirmed transaction and its block height.
	GetTransaction(id types.Hash) (*ConfirmedTransaction, uint32, error)

	// HasTransaction reports whether id was confirmed or aborted.
	HasTransaction(id types.Hash) bool

	// Head returns the height and hash of the latest block; zero values when
	// the store is empty.
	Head() (uint32, types.Hash)

	Close() error
}

// location is the tx_by_id index value: block height and position. Aborted
// transactions have index abortedIndex.
type location struct {
	height uint32
	index  uint32
}

const abortedIndex = ^uint32(0)

func (l location) encode() []byte {
	var b [8]byte
	binary.BigEndian.PutUint32(b[:4], l.height)
	binary.BigEndian.PutUint32(b[4:], l.index)
	return b[:]
}

func decodeLocation(b []byte) (location, error) {
	if len(b) != 8 {
		return location{}, fmt.Errorf("%w: location of %d bytes", ErrCorrupted, len(b))
	}
	return location{height: binary.BigEndian.Uint32(b[:4]), index: binary.BigEndian.Uint32(b[4:])}, nil
}

// heightKey encodes a height so keys sort in chain order.
func heightKey(h uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], h)
	return b[:]
}

var (
	encoderOnce sync.Once
	encoder     *zstd.Encoder
	decoder     *zstd.Decoder
	codecErr    error
)

func codec() (*zstd.Encoder, *zstd.Decoder, error) {
	encoderOnce.Do(func() {
		encoder, codecErr = zstd.NewWriter(nil)
		if codecErr != nil {
			return
		}
		decoder, codecErr = zstd.NewReader(nil)
	})
	return encoder, decoder, codecErr
}

// encodeBlock gob-encodes b and compresses it with zstd.
func encodeBlock(b *Block) ([]byte, error) {
	enc, _, err := codec()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(b); err != nil {
		return nil, fmt.Errorf("encode block: %w", err)
	}
	return enc.EncodeAll(buf.Bytes(), nil), nil
}

func decodeBlock(data []byte) (*Block, error) {
	_, dec, err := codec()
	if err != nil {
		return nil, err
	}
	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress block: %v", ErrCorrupted, err)
	}
	var b Block
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&b); err != nil {
		return nil, fmt.Errorf("%w: decode block: %v", ErrCorrupted, err)
	}
	return &b, nil
}

// MemoryStore is an in-memory Store. Blocks are kept encoded, so reads
// return independent copies just as BoltStore does.
type MemoryStore struct {
	mu     sync.RWMutex
	blocks map[uint32][]byte
	txs    map[types.Hash]location
	head   uint32
	hash   types.Hash
	closed bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blocks: make(map[uint32][]byte),
		txs:    make(map[types.Hash]location),
	}
}

// PutBlock implements Store.
func (s *MemoryStore) PutBlock(b *Block) error {
	data, err := encodeBlock(b)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.blocks[b.Height] = data
	for i := range b.Transactions {
		s.txs[b.Transactions[i].Transaction.ID] = location{height: b.Height, index: uint32(i)}
	}
	for _, id := range b.Aborted {
		s.txs[id] = location{height: b.Height, index: abortedIndex}
	}
	if b.Height >= s.head {
		s.head, s.hash = b.Height, b.Hash
	}
	return nil
}

// GetBlock implements Store.
func (s *MemoryStore) GetBlock(height uint32) (*Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	data, ok := s.blocks[height]
	if !ok {
		return nil, fmt.Errorf("%w: height %d", ErrBlockNotFound, height)
	}
	return decodeBlock(data)
}

// GetTransaction implements Store.
func (s *MemoryStore) GetTransaction(id types.Hash) (*ConfirmedTransaction, uint32, error) {
	s.mu.RLock()
	loc, ok := s.txs[id]
	s.mu.RUnlock()
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
func (s *MemoryStore) HasTransaction(id types.Hash) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.txs[id]
	return ok
}

// Head implements Store.
func (s *MemoryStore) Head() (uint32, types.Hash) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.head, s.hash
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	return nil
}

func confirmedAt(b *Block, loc location) (*ConfirmedTransaction, uint32, error) {
	if int(loc.index) >= len(b.Transactions) {
		return nil, 0, fmt.Errorf("%w: index %d past %d transactions at height %d", ErrCorrupted, loc.index, len(b.Transactions), loc.height)
	}
	return &b.Transactions[loc.index], loc.height, nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*BoltStore)(nil)
)
