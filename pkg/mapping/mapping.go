// Package mapping implements program mapping state: the durable stores and
// the copy-on-write overlay that speculation runs against.
//
// Entries are addressed by (program, mapping, key) where key is a plaintext.
// Keys and values are stored in their canonical encoding, so two equal
// plaintexts always address the same entry.
package mapping

import (
	"bytes"
	"errors"
	"sort"
	"sync"

	"github.com/fortiblox/X1-Strata/pkg/value"
)

// Errors.
var (
	ErrClosed       = errors.New("mapping store closed")
	ErrInvalidEntry = errors.New("invalid mapping entry")
)

// Write is one pending mutation. A Delete write removes the entry.
type Write struct {
	Program string
	Mapping string
	Key     value.Plaintext
	Value   value.Plaintext
	Delete  bool
}

// Store is durable mapping state.
type Store interface {
	// Get returns the value at key, and whether it exists.
	Get(program, mapping string, key value.Plaintext) (value.Plaintext, bool, error)

	// Iterate calls fn for every entry of program/mapping in key order.
	Iterate(program, mapping string, fn func(key, val value.Plaintext) error) error

	// Apply atomically applies writes and records height as the committed
	// block height.
	Apply(height uint32, writes []Write) error

	// Height returns the height of the last applied batch.
	Height() uint32

	// Close releases the store.
	Close() error
}

// entryKey returns the storage key of an entry:
// prefix | program | 0x00 | mapping | 0x00 | encoded key.
// Identifiers cannot contain 0x00, so the layout is unambiguous.
func entryKey(program, mapping string, key value.Plaintext) []byte {
	enc := value.EncodePlaintext(key)
	k := make([]byte, 0, 1+len(program)+1+len(mapping)+1+len(enc))
	k = append(k, prefixEntry)
	k = append(k, program...)
	k = append(k, 0x00)
	k = append(k, mapping...)
	k = append(k, 0x00)
	return append(k, enc...)
}

// mappingPrefix returns the key prefix shared by every entry of a mapping.
func mappingPrefix(program, mapping string) []byte {
	k := make([]byte, 0, 1+len(program)+1+len(mapping)+1)
	k = append(k, prefixEntry)
	k = append(k, program...)
	k = append(k, 0x00)
	k = append(k, mapping...)
	return append(k, 0x00)
}

const (
	prefixEntry = byte(0x01)
	prefixMeta  = byte(0x02)
)

// MemoryStore is an in-memory Store for tests and ephemeral runs.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]byte
	height  uint32
	closed  bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]byte)}
}

// Get implements Store.
func (m *MemoryStore) Get(program, mapping string, key value.Plaintext) (value.Plaintext, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return value.Plaintext{}, false, ErrClosed
	}
	raw, ok := m.entries[string(entryKey(program, mapping, key))]
	if !ok {
		return value.Plaintext{}, false, nil
	}
	v, err := value.DecodePlaintext(raw)
	if err != nil {
		return value.Plaintext{}, false, err
	}
	return v, true, nil
}

// Iterate implements Store.
func (m *MemoryStore) Iterate(program, mapping string, fn func(key, val value.Plaintext) error) error {
	m.mu.RLock()
	prefix := mappingPrefix(program, mapping)
	var keys []string
	for k := range m.entries {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	raws := make([][]byte, len(keys))
	for i, k := range keys {
		raws[i] = m.entries[k]
	}
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	for i, k := range keys {
		key, err := value.DecodePlaintext([]byte(k)[len(prefix):])
		if err != nil {
			return err
		}
		val, err := value.DecodePlaintext(raws[i])
		if err != nil {
			return err
		}
		if err := fn(key, val); err != nil {
			return err
		}
	}
	return nil
}

// Apply implements Store.
func (m *MemoryStore) Apply(height uint32, writes []Write) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for _, w := range writes {
		k := string(entryKey(w.Program, w.Mapping, w.Key))
		if w.Delete {
			delete(m.entries, k)
			continue
		}
		m.entries[k] = value.EncodePlaintext(w.Value)
	}
	m.height = height
	return nil
}

// Height implements Store.
func (m *MemoryStore) Height() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.height
}

// Len returns the number of entries.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.closed = true
	return nil
}

var _ Store = (*MemoryStore)(nil)
