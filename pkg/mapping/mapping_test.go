package mapping

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Strata/pkg/value"
	"github.com/fortiblox/X1-Strata/pkg/vmerr"
)

func pt(s string) value.Plaintext {
	return value.MustParsePlaintext(s)
}

// stores returns every Store implementation, fresh.
func stores(t *testing.T) map[string]Store {
	t.Helper()
	cfg := DefaultBadgerConfig(t.TempDir())
	cfg.SyncWrites = false
	b, err := OpenBadger(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"badger": b,
	}
}

func TestStoreApplyAndGet(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Apply(1, []Write{
				{Program: "a.aleo", Mapping: "m", Key: pt("1u8"), Value: pt("10u64")},
				{Program: "a.aleo", Mapping: "m", Key: pt("2u8"), Value: pt("20u64")},
				{Program: "a.aleo", Mapping: "other", Key: pt("1u8"), Value: pt("true")},
			}))
			assert.Equal(t, uint32(1), s.Height())

			v, ok, err := s.Get("a.aleo", "m", pt("2u8"))
			require.NoError(t, err)
			require.True(t, ok)
			assert.True(t, v.Equal(pt("20u64")))

			// Same number, different type: a different key.
			_, ok, err = s.Get("a.aleo", "m", pt("2u16"))
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Apply(2, []Write{
				{Program: "a.aleo", Mapping: "m", Key: pt("1u8"), Delete: true},
			}))
			_, ok, err = s.Get("a.aleo", "m", pt("1u8"))
			require.NoError(t, err)
			assert.False(t, ok)

			var keys []string
			require.NoError(t, s.Iterate("a.aleo", "m", func(k, v value.Plaintext) error {
				keys = append(keys, k.String()+"="+v.String())
				return nil
			}))
			assert.Equal(t, []string{"2u8=20u64"}, keys)
		})
	}
}

func TestBadgerPersistsAcrossReopen(t *testing.T) {
	cfg := DefaultBadgerConfig(t.TempDir())
	s, err := OpenBadger(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Apply(7, []Write{
		{Program: "a.aleo", Mapping: "m", Key: pt("{ x: 1u8 }"), Value: pt("5u32")},
	}))
	require.NoError(t, s.Close())

	s, err = OpenBadger(cfg)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, uint32(7), s.Height())
	v, ok, err := s.Get("a.aleo", "m", pt("{ x: 1u8 }"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, v.Equal(pt("5u32")))
}

func TestOverlaySnapshotRevert(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Apply(0, []Write{
		{Program: "a.aleo", Mapping: "m", Key: pt("1u8"), Value: pt("1u64")},
	}))
	o := NewOverlay(store)

	snap := o.Snapshot()
	o.Set("a.aleo", "m", pt("1u8"), pt("2u64"))
	o.Set("a.aleo", "m", pt("2u8"), pt("3u64"))
	require.NoError(t, o.Remove("a.aleo", "m", pt("1u8")))

	ok, err := o.Contains("a.aleo", "m", pt("1u8"))
	require.NoError(t, err)
	assert.False(t, ok)

	v, err := o.GetOrUse("a.aleo", "m", pt("1u8"), pt("0u64"))
	require.NoError(t, err)
	assert.True(t, v.Equal(pt("0u64")))

	require.NoError(t, o.Revert(snap))
	assert.Equal(t, 0, o.Len())
	v, ok, err = o.Get("a.aleo", "m", pt("1u8"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, v.Equal(pt("1u64")))

	// The store was never touched.
	assert.Equal(t, 1, store.Len())
}

func TestOverlayNestedRevert(t *testing.T) {
	o := NewOverlay(NewMemoryStore())
	o.Set("a.aleo", "m", pt("1u8"), pt("1u64"))
	mid := o.Snapshot()
	o.Set("a.aleo", "m", pt("1u8"), pt("2u64"))
	o.Set("a.aleo", "m", pt("3u8"), pt("3u64"))

	require.NoError(t, o.Revert(mid))
	writes := o.Writes()
	require.Len(t, writes, 1)
	assert.True(t, writes[0].Value.Equal(pt("1u64")))

	err := o.Revert(mid + 5)
	assert.True(t, vmerr.IsFatal(err))
}

func TestOverlayRemoveAbsentIsNoop(t *testing.T) {
	o := NewOverlay(NewMemoryStore())
	require.NoError(t, o.Remove("a.aleo", "m", pt("9u8")))
	assert.Equal(t, 0, o.Snapshot())
	assert.Equal(t, 0, o.Len())
}

func TestOverlayDigestAndCommit(t *testing.T) {
	build := func(order []string) *Overlay {
		o := NewOverlay(NewMemoryStore())
		for _, k := range order {
			o.Set("a.aleo", "m", pt(k), pt("1u64"))
		}
		return o
	}
	a := build([]string{"1u8", "2u8", "3u8"})
	b := build([]string{"3u8", "1u8", "2u8"})
	assert.Equal(t, a.Digest(), b.Digest())

	c := build([]string{"1u8", "2u8"})
	assert.NotEqual(t, a.Digest(), c.Digest())

	empty := NewOverlay(NewMemoryStore())
	assert.NotEqual(t, empty.Digest(), c.Digest())

	store := NewMemoryStore()
	o := NewOverlay(store)
	o.Set("a.aleo", "m", pt("1u8"), pt("1u64"))
	require.NoError(t, o.Commit(3))
	assert.Equal(t, 0, o.Len())
	assert.Equal(t, uint32(3), store.Height())
	v, ok, err := o.Get("a.aleo", "m", pt("1u8"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, v.Equal(pt("1u64")))
}

type brokenStore struct {
	*MemoryStore
}

func (brokenStore) Get(string, string, value.Plaintext) (value.Plaintext, bool, error) {
	return value.Plaintext{}, false, errors.New("disk read error")
}

func (brokenStore) Apply(uint32, []Write) error {
	return errors.New("disk full")
}

func TestOverlayStoreFailuresAreFatal(t *testing.T) {
	o := NewOverlay(brokenStore{NewMemoryStore()})

	_, _, err := o.Get("a.aleo", "m", pt("1u8"))
	require.ErrorIs(t, err, vmerr.ErrStore)
	assert.True(t, vmerr.IsFatal(err))
	_, err = o.GetOrUse("a.aleo", "m", pt("1u8"), pt("0u64"))
	assert.ErrorIs(t, err, vmerr.ErrStore)

	// Pending writes are served without touching the store.
	o.Set("a.aleo", "m", pt("1u8"), pt("5u64"))
	_, ok, err := o.Get("a.aleo", "m", pt("1u8"))
	require.NoError(t, err)
	assert.True(t, ok)

	err = o.Commit(1)
	assert.ErrorIs(t, err, vmerr.ErrStore)
	assert.Equal(t, 1, o.Len())
}

func TestBadgerCacheSkipsReadsOverlappingApply(t *testing.T) {
	cfg := DefaultBadgerConfig("")
	cfg.InMemory = true
	s, err := OpenBadger(cfg)
	require.NoError(t, err)
	defer s.Close()

	k := entryKey("a.aleo", "m", pt("1u8"))
	require.NoError(t, s.Apply(1, []Write{{Program: "a.aleo", Mapping: "m", Key: pt("1u8"), Value: pt("1u64")}}))

	// A reader saw 1u64, then a block landed before it filled the cache.
	epoch := s.cacheEpoch()
	s.cache.Remove(string(k))
	require.NoError(t, s.Apply(2, []Write{{Program: "a.aleo", Mapping: "m", Key: pt("1u8"), Value: pt("2u64")}}))
	s.fill(k, cached{raw: value.EncodePlaintext(pt("1u64")), ok: true}, epoch)

	v, ok, err := s.Get("a.aleo", "m", pt("1u8"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, v.Equal(pt("2u64")))

	// A fill from the current epoch is kept.
	s.cache.Purge()
	_, _, err = s.Get("a.aleo", "m", pt("1u8"))
	require.NoError(t, err)
	assert.True(t, s.cache.Contains(string(k)))

	assert.NoError(t, s.RunGC())
}
