package mapping

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/fortiblox/X1-Strata/internal/types"
	"github.com/fortiblox/X1-Strata/pkg/value"
	"github.com/fortiblox/X1-Strata/pkg/vmerr"
)

// Overlay is a copy-on-write view over a Store. Writes stay in the overlay
// until Commit; reads see the overlay first and fall through to the store.
//
// Every write is journaled with the state it replaced, so Revert can undo
// everything after a Snapshot. An Overlay has a single writer.
type Overlay struct {
	store   Store
	pending map[string]*Write
	journal []undo
}

// undo restores the overlay state of one key.
type undo struct {
	key  string
	prev *Write // nil when the key had no pending write
}

// NewOverlay creates an empty overlay over store.
func NewOverlay(store Store) *Overlay {
	return &Overlay{store: store, pending: make(map[string]*Write)}
}

// Get returns the value at key. A failing store read is fatal to the block
// and wraps vmerr.ErrStore.
func (o *Overlay) Get(program, mapping string, key value.Plaintext) (value.Plaintext, bool, error) {
	if w, ok := o.pending[string(entryKey(program, mapping, key))]; ok {
		if w.Delete {
			return value.Plaintext{}, false, nil
		}
		return w.Value, true, nil
	}
	v, ok, err := o.store.Get(program, mapping, key)
	if err != nil {
		return value.Plaintext{}, false, fmt.Errorf("%w: read %s/%s: %v", vmerr.ErrStore, program, mapping, err)
	}
	return v, ok, nil
}

// GetOrUse returns the value at key, or def when the key is absent.
func (o *Overlay) GetOrUse(program, mapping string, key, def value.Plaintext) (value.Plaintext, error) {
	v, ok, err := o.Get(program, mapping, key)
	if err != nil {
		return value.Plaintext{}, err
	}
	if !ok {
		return def, nil
	}
	return v, nil
}

// Contains reports whether key is present.
func (o *Overlay) Contains(program, mapping string, key value.Plaintext) (bool, error) {
	_, ok, err := o.Get(program, mapping, key)
	return ok, err
}

// Set upserts key.
func (o *Overlay) Set(program, mapping string, key, val value.Plaintext) {
	o.put(&Write{Program: program, Mapping: mapping, Key: key, Value: val})
}

// Remove deletes key. Removing an absent key is a no-op.
func (o *Overlay) Remove(program, mapping string, key value.Plaintext) error {
	ok, err := o.Contains(program, mapping, key)
	if err != nil || !ok {
		return err
	}
	o.put(&Write{Program: program, Mapping: mapping, Key: key, Delete: true})
	return nil
}

func (o *Overlay) put(w *Write) {
	k := string(entryKey(w.Program, w.Mapping, w.Key))
	o.journal = append(o.journal, undo{key: k, prev: o.pending[k]})
	o.pending[k] = w
}

// Snapshot returns a marker for Revert.
func (o *Overlay) Snapshot() int {
	return len(o.journal)
}

// Revert undoes every write made after snapshot was taken. A marker that
// does not belong to the current journal means the snapshot discipline was
// broken and is fatal.
func (o *Overlay) Revert(snapshot int) error {
	if snapshot < 0 || snapshot > len(o.journal) {
		return fmt.Errorf("%w: revert to %d with %d journaled writes", vmerr.ErrOverlayCorrupted, snapshot, len(o.journal))
	}
	for i := len(o.journal) - 1; i >= snapshot; i-- {
		u := o.journal[i]
		if u.prev == nil {
			delete(o.pending, u.key)
		} else {
			o.pending[u.key] = u.prev
		}
	}
	o.journal = o.journal[:snapshot]
	return nil
}

// Writes returns the net pending writes in key order.
func (o *Overlay) Writes() []Write {
	keys := make([]string, 0, len(o.pending))
	for k := range o.pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Write, len(keys))
	for i, k := range keys {
		out[i] = *o.pending[k]
	}
	return out
}

// Len returns the number of keys with pending writes.
func (o *Overlay) Len() int {
	return len(o.pending)
}

// Digest commits to the pending writes: blake3 over each write's key, a
// delete flag and the encoded value, length-prefixed and in key order.
func (o *Overlay) Digest() types.Hash {
	keys := make([]string, 0, len(o.pending))
	for k := range o.pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([][]byte, 0, 3*len(keys))
	for _, k := range keys {
		w := o.pending[k]
		var hdr [9]byte
		binary.LittleEndian.PutUint32(hdr[:4], uint32(len(k)))
		var body []byte
		if w.Delete {
			hdr[4] = 1
		} else {
			body = value.EncodePlaintext(w.Value)
		}
		binary.LittleEndian.PutUint32(hdr[5:], uint32(len(body)))
		parts = append(parts, hdr[:], []byte(k), body)
	}
	return types.HashWithDomain(types.DomainState, parts...)
}

// Commit applies the pending writes to the store at height and clears the
// overlay.
func (o *Overlay) Commit(height uint32) error {
	if err := o.store.Apply(height, o.Writes()); err != nil {
		return fmt.Errorf("%w: commit overlay at %d: %w", vmerr.ErrStore, height, err)
	}
	o.pending = make(map[string]*Write)
	o.journal = nil
	return nil
}
