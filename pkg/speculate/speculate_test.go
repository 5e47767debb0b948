package speculate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Strata/internal/types"
	"github.com/fortiblox/X1-Strata/pkg/finalize"
	"github.com/fortiblox/X1-Strata/pkg/mapping"
	"github.com/fortiblox/X1-Strata/pkg/meter"
	"github.com/fortiblox/X1-Strata/pkg/program"
	"github.com/fortiblox/X1-Strata/pkg/value"
	"github.com/fortiblox/X1-Strata/pkg/vmerr"
)

const bankYAML = `
program: bank.aleo
mappings:
  - {name: balance, key: u8, value: u64}
functions:
  - name: deposit
    inputs: [{register: r0, type: u8}, {register: r1, type: u64}]
    instructions:
      - {op: async, operands: [deposit, r0, r1], into: [r2]}
    finalize:
      inputs: [{register: r0, type: u8}, {register: r1, type: u64}]
      instructions:
        - {op: get.or_use, operands: [balance, r0, 0u64], into: [r2]}
        - {op: add, operands: [r2, r1], into: [r3]}
        - {op: set, operands: [r3, balance, r0]}
  - name: withdraw
    inputs: [{register: r0, type: u8}, {register: r1, type: u64}]
    instructions:
      - {op: async, operands: [withdraw, r0, r1], into: [r2]}
    finalize:
      inputs: [{register: r0, type: u8}, {register: r1, type: u64}]
      instructions:
        - {op: set, operands: [0u64, balance, 255u8]}
        - {op: get, operands: [balance, r0], into: [r2]}
        - {op: sub, operands: [r2, r1], into: [r3]}
        - {op: set, operands: [r3, balance, r0]}
`

func setup(t *testing.T) (*Processor, *mapping.MemoryStore) {
	t.Helper()
	programs, err := program.Parse([]byte(bankYAML))
	require.NoError(t, err)
	reg := program.NewRegistry()
	require.NoError(t, reg.Add(programs[0]))

	store := mapping.NewMemoryStore()
	exec := finalize.New(reg, finalize.DefaultConfig())
	return New(exec, store, DefaultConfig()), store
}

func fut(t *testing.T, fn string, args ...string) *value.Future {
	t.Helper()
	vals := make([]value.Value, len(args))
	for i, a := range args {
		vals[i] = value.Lit(value.MustParseLiteral(a))
	}
	f, err := value.NewFuture("bank.aleo", fn, vals...)
	require.NoError(t, err)
	return f
}

func tx(t *testing.T, id string, main, fee *value.Future) Candidate {
	return Candidate{
		ID:        types.HashWithDomain("test", []byte(id)),
		Future:    main,
		Budget:    meter.DefaultCeiling,
		Fee:       fee,
		FeeBudget: meter.DefaultCeiling,
	}
}

func balance(t *testing.T, s mapping.Store, who string) (uint64, bool) {
	t.Helper()
	v, ok, err := s.Get("bank.aleo", "balance", value.MustParsePlaintext(who))
	require.NoError(t, err)
	if !ok {
		return 0, false
	}
	l, _ := v.Literal()
	return l.Uint64(), true
}

func block(t *testing.T) []Candidate {
	return []Candidate{
		tx(t, "a", fut(t, "deposit", "1u8", "10u64"), nil),
		tx(t, "b", fut(t, "withdraw", "1u8", "25u64"), nil), // underflow
		tx(t, "c", fut(t, "withdraw", "1u8", "4u64"), nil),
		tx(t, "d", fut(t, "withdraw", "2u8", "1u64"), nil), // absent key
	}
}

func statuses(s *Speculation) []Status {
	out := make([]Status, len(s.Outcomes))
	for i, o := range s.Outcomes {
		out[i] = o.Status
	}
	return out
}

func TestSpeculateInOrder(t *testing.T) {
	p, store := setup(t)
	s, err := p.Speculate(context.Background(), 1, block(t))
	require.NoError(t, err)

	assert.Equal(t, []Status{Accepted, Rejected, Accepted, Rejected}, statuses(s))
	assert.Equal(t, vmerr.KindTypeOrRange, s.Outcomes[1].Kind)
	assert.Equal(t, vmerr.KindUnresolvedTarget, s.Outcomes[3].Kind)

	// Nothing is visible before commit.
	_, ok := balance(t, store, "1u8")
	assert.False(t, ok)

	require.NoError(t, s.Commit())
	assert.Equal(t, uint32(1), store.Height())
	got, ok := balance(t, store, "1u8")
	require.True(t, ok)
	assert.Equal(t, uint64(6), got)

	assert.ErrorIs(t, s.Commit(), ErrAlreadyCommitted)
}

func TestRejectedTransactionLeavesNoWrites(t *testing.T) {
	p, _ := setup(t)
	withRejects, err := p.Speculate(context.Background(), 1, block(t))
	require.NoError(t, err)

	// The same block without the rejected transactions' finalize effects.
	txs := block(t)
	txs[1].Future, txs[3].Future = nil, nil
	without, err := p.Speculate(context.Background(), 1, txs)
	require.NoError(t, err)

	assert.Equal(t, without.Digest(), withRejects.Digest())
	assert.Equal(t, without.Writes(), withRejects.Writes())
}

func TestSpeculationIsDeterministic(t *testing.T) {
	p, _ := setup(t)
	first, err := p.Speculate(context.Background(), 1, block(t))
	require.NoError(t, err)
	second, err := p.Speculate(context.Background(), 1, block(t))
	require.NoError(t, err)

	assert.Equal(t, statuses(first), statuses(second))
	assert.Equal(t, first.Digest(), second.Digest())
}

func TestFeeIsIndependentOfMain(t *testing.T) {
	p, store := setup(t)
	require.NoError(t, store.Apply(0, []mapping.Write{{
		Program: "bank.aleo", Mapping: "balance",
		Key: value.MustParsePlaintext("9u8"), Value: value.MustParsePlaintext("100u64"),
	}}))
	fee := fut(t, "withdraw", "9u8", "1u64")
	txs := []Candidate{
		// Main rejects; the fee still applies.
		tx(t, "rejected", fut(t, "withdraw", "1u8", "5u64"), fee),
		// Fee fails: the transaction is dropped along with its main effects.
		tx(t, "aborted", fut(t, "deposit", "1u8", "5u64"), fut(t, "withdraw", "3u8", "1u64")),
		tx(t, "accepted", fut(t, "deposit", "2u8", "5u64"), fee),
	}
	s, err := p.Speculate(context.Background(), 1, txs)
	require.NoError(t, err)
	assert.Equal(t, []Status{Rejected, Aborted, Accepted}, statuses(s))
	require.NoError(t, s.Commit())

	got, _ := balance(t, store, "9u8")
	assert.Equal(t, uint64(98), got)
	_, ok := balance(t, store, "1u8")
	assert.False(t, ok)
	got, _ = balance(t, store, "2u8")
	assert.Equal(t, uint64(5), got)
}

func TestMalformedBlockRejectedWhole(t *testing.T) {
	p, store := setup(t)
	txs := block(t)
	txs = append(txs,
		tx(t, "bad-arity", fut(t, "deposit", "1u8"), nil),
		tx(t, "bad-type", fut(t, "deposit", "1u8", "1u32"), nil),
	)
	txs = append(txs, txs[0])

	_, err := p.Speculate(context.Background(), 1, txs)
	require.ErrorIs(t, err, ErrMalformedBlock)
	assert.Contains(t, err.Error(), "3 errors occurred")
	assert.Equal(t, 0, store.Len())
}

func TestHeightMustFollowCommitted(t *testing.T) {
	p, _ := setup(t)
	_, err := p.Speculate(context.Background(), 2, block(t))
	assert.ErrorIs(t, err, ErrHeightMismatch)

	s, err := p.Speculate(context.Background(), 1, block(t))
	require.NoError(t, err)
	stale, err := p.Speculate(context.Background(), 1, block(t))
	require.NoError(t, err)
	require.NoError(t, s.Commit())
	assert.ErrorIs(t, stale.Commit(), ErrHeightMismatch)
}

func TestBudgetExhaustionRejects(t *testing.T) {
	p, _ := setup(t)
	c := tx(t, "poor", fut(t, "deposit", "1u8", "10u64"), nil)
	c.Budget = 20
	s, err := p.Speculate(context.Background(), 1, []Candidate{c})
	require.NoError(t, err)
	assert.Equal(t, Rejected, s.Outcomes[0].Status)
	assert.Equal(t, vmerr.KindGasExceeded, s.Outcomes[0].Kind)
	assert.Equal(t, uint64(20), s.Outcomes[0].GasUsed)
}

// failingStore serves reads from a memory store until broken is set.
type failingStore struct {
	*mapping.MemoryStore
	broken bool
	panics bool
}

func (s *failingStore) Get(program, name string, key value.Plaintext) (value.Plaintext, bool, error) {
	if s.panics {
		panic("corrupt page")
	}
	if s.broken {
		return value.Plaintext{}, false, errors.New("disk read error")
	}
	return s.MemoryStore.Get(program, name, key)
}

func TestStoreFailureAbortsBlock(t *testing.T) {
	for name, store := range map[string]*failingStore{
		"read error": {MemoryStore: mapping.NewMemoryStore(), broken: true},
		"panic":      {MemoryStore: mapping.NewMemoryStore(), panics: true},
	} {
		t.Run(name, func(t *testing.T) {
			programs, err := program.Parse([]byte(bankYAML))
			require.NoError(t, err)
			reg := program.NewRegistry()
			require.NoError(t, reg.Add(programs[0]))
			p := New(finalize.New(reg, finalize.DefaultConfig()), store, DefaultConfig())

			s, err := p.Speculate(context.Background(), 1, []Candidate{
				tx(t, "a", fut(t, "deposit", "1u8", "10u64"), nil),
			})
			require.ErrorIs(t, err, ErrBlockAborted)
			assert.True(t, vmerr.IsFatal(err))
			assert.Nil(t, s)
			assert.Equal(t, uint32(0), store.Height())
			assert.Equal(t, 0, store.Len())
		})
	}
}
