package finalize

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Strata/internal/types"
	"github.com/fortiblox/X1-Strata/pkg/mapping"
	"github.com/fortiblox/X1-Strata/pkg/meter"
	"github.com/fortiblox/X1-Strata/pkg/program"
	"github.com/fortiblox/X1-Strata/pkg/value"
	"github.com/fortiblox/X1-Strata/pkg/vmerr"
)

const childYAML = `
program: child.aleo
mappings:
  - {name: counter, key: address, value: u64}
functions:
  - name: bump
    inputs: [{register: r0, type: u64}]
    instructions:
      - {op: async, operands: [bump, self.caller, r0], into: [r1]}
    finalize:
      inputs: [{register: r0, type: address}, {register: r1, type: u64}]
      instructions:
        - {op: get.or_use, operands: [counter, r0, 0u64], into: [r2]}
        - {op: add, operands: [r2, r1], into: [r3]}
        - {op: set, operands: [r3, counter, r0]}
  - name: read
    inputs: [{register: r0, type: address}]
    instructions:
      - {op: async, operands: [read, r0], into: [r1]}
    finalize:
      inputs: [{register: r0, type: address}]
      instructions:
        - {op: get, operands: [counter, r0], into: [r1]}
  - name: drop
    inputs: [{register: r0, type: address}]
    instructions:
      - {op: async, operands: [drop, r0], into: [r1]}
    finalize:
      inputs: [{register: r0, type: address}]
      instructions:
        - {op: contains, operands: [counter, r0], into: [r1]}
        - {op: assert.eq, operands: [r1, "true"]}
        - {op: remove, operands: [counter, r0]}
        - {op: remove, operands: [counter, r0]}
`

const parentYAML = `
program: parent.aleo
imports: [child.aleo]
mappings:
  - {name: seen, key: address, value: u64}
functions:
  - name: relay
    inputs: [{register: r0, type: u64}]
    finalize:
      inputs: [{register: r0, type: child.aleo/bump.future}, {register: r1, type: address}]
      instructions:
        - {op: await, operands: [r0]}
        - {op: get, operands: [child.aleo/counter, r1], into: [r2]}
        - {op: set, operands: [r2, seen, r1]}
    instructions:
      - {op: call, operands: [child.aleo/bump, r0], into: [r1]}
      - {op: async, operands: [relay, r1, self.signer], into: [r2]}
  - name: maybe
    inputs: [{register: r0, type: u64}, {register: r1, type: boolean}]
    instructions:
      - {op: call, operands: [child.aleo/bump, r0], into: [r2]}
      - {op: async, operands: [maybe, r2, r1], into: [r3]}
    finalize:
      inputs: [{register: r0, type: child.aleo/bump.future}, {register: r1, type: boolean}]
      instructions:
        - {op: branch.eq, operands: [r1, "false", skip]}
        - {op: await, operands: [r0]}
        - {op: position, operands: [skip]}
  - name: twice
    inputs: [{register: r0, type: u64}]
    instructions:
      - {op: call, operands: [child.aleo/bump, r0], into: [r1]}
      - {op: async, operands: [twice, r1], into: [r2]}
    finalize:
      inputs: [{register: r0, type: child.aleo/bump.future}]
      instructions:
        - {op: await, operands: [r0]}
        - {op: await, operands: [r0]}
  - name: height
    instructions:
      - {op: async, operands: [height], into: [r0]}
    finalize:
      instructions:
        - {op: assert.neq, operands: [block.height, 0u32]}
`

type fixture struct {
	exec  *Executor
	state *mapping.Overlay
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := program.NewRegistry()
	for _, src := range []string{childYAML, parentYAML} {
		programs, err := program.Parse([]byte(src))
		require.NoError(t, err)
		require.NoError(t, reg.Add(programs[0]))
	}
	return &fixture{
		exec:  New(reg, DefaultConfig()),
		state: mapping.NewOverlay(mapping.NewMemoryStore()),
	}
}

func (f *fixture) run(fut *value.Future) error {
	return f.exec.Run(context.Background(), fut, f.state, meter.New(meter.DefaultConfig()), 1)
}

func future(t *testing.T, loc string, args ...value.Value) *value.Future {
	t.Helper()
	l, err := types.ParseLocator(loc)
	require.NoError(t, err)
	fut, err := value.NewFuture(l.Program, l.Resource, args...)
	require.NoError(t, err)
	return fut
}

func lit(s string) value.Value {
	return value.Lit(value.MustParseLiteral(s))
}

var alice = value.Lit(value.AddressFromSeed(7))

func (f *fixture) counter(t *testing.T, prog, name string, who value.Value) (value.Plaintext, bool) {
	t.Helper()
	v, ok, err := f.state.Get(prog, name, who.(value.Plaintext))
	require.NoError(t, err)
	return v, ok
}

func TestGetOrUseVersusGet(t *testing.T) {
	f := newFixture(t)

	// get on an absent key rejects.
	err := f.run(future(t, "child.aleo/read", alice))
	assert.Equal(t, vmerr.KindUnresolvedTarget, vmerr.Classify(err))

	// get.or_use on the same absent key falls back to the default.
	require.NoError(t, f.run(future(t, "child.aleo/bump", alice, lit("5u64"))))
	v, ok := f.counter(t, "child.aleo", "counter", alice)
	require.True(t, ok)
	assert.True(t, v.Equal(lit("5u64")))

	require.NoError(t, f.run(future(t, "child.aleo/bump", alice, lit("2u64"))))
	require.NoError(t, f.run(future(t, "child.aleo/read", alice)))
	v, _ = f.counter(t, "child.aleo", "counter", alice)
	assert.True(t, v.Equal(lit("7u64")))
}

func TestContainsAndRemove(t *testing.T) {
	f := newFixture(t)
	err := f.run(future(t, "child.aleo/drop", alice))
	assert.Equal(t, vmerr.KindAssertionFailed, vmerr.Classify(err))

	require.NoError(t, f.run(future(t, "child.aleo/bump", alice, lit("1u64"))))
	require.NoError(t, f.run(future(t, "child.aleo/drop", alice)))
	_, ok := f.counter(t, "child.aleo", "counter", alice)
	assert.False(t, ok)
}

func TestAwaitRunsNestedFirst(t *testing.T) {
	f := newFixture(t)
	inner := future(t, "child.aleo/bump", alice, lit("9u64"))
	require.NoError(t, f.run(future(t, "parent.aleo/relay", inner, alice)))

	// relay read the counter after awaiting the bump.
	seen, ok := f.counter(t, "parent.aleo", "seen", alice)
	require.True(t, ok)
	assert.True(t, seen.Equal(lit("9u64")))
}

func TestBranchMaySkipAwait(t *testing.T) {
	f := newFixture(t)
	inner := future(t, "child.aleo/bump", alice, lit("3u64"))

	require.NoError(t, f.run(future(t, "parent.aleo/maybe", inner, lit("false"))))
	_, ok := f.counter(t, "child.aleo", "counter", alice)
	assert.False(t, ok)

	require.NoError(t, f.run(future(t, "parent.aleo/maybe", inner, lit("true"))))
	v, ok := f.counter(t, "child.aleo", "counter", alice)
	require.True(t, ok)
	assert.True(t, v.Equal(lit("3u64")))
}

func TestSkippedFutureMustStillTypeCheck(t *testing.T) {
	f := newFixture(t)

	// The skipped future targets the wrong finalize block.
	wrong := future(t, "child.aleo/read", alice)
	err := f.run(future(t, "parent.aleo/maybe", wrong, lit("false")))
	assert.Equal(t, vmerr.KindMalformedFutureWiring, vmerr.Classify(err))

	// The skipped future's own arguments are checked too.
	bad := future(t, "child.aleo/bump", alice, lit("3u32"))
	err = f.run(future(t, "parent.aleo/maybe", bad, lit("false")))
	assert.Equal(t, vmerr.KindTypeOrRange, vmerr.Classify(err))
}

func TestRepeatedAwait(t *testing.T) {
	f := newFixture(t)
	inner := future(t, "child.aleo/bump", alice, lit("1u64"))
	err := f.run(future(t, "parent.aleo/twice", inner))
	assert.Equal(t, vmerr.KindMalformedFutureWiring, vmerr.Classify(err))
}

func TestAwaitNonFuture(t *testing.T) {
	f := newFixture(t)
	err := f.run(future(t, "parent.aleo/relay", lit("1u64"), alice))
	assert.Equal(t, vmerr.KindMalformedFutureWiring, vmerr.Classify(err))
}

func TestKeyTypeChecked(t *testing.T) {
	f := newFixture(t)
	err := f.run(future(t, "child.aleo/bump", lit("1u8"), lit("1u64")))
	assert.Equal(t, vmerr.KindTypeOrRange, vmerr.Classify(err))
}

func TestBlockHeightOperand(t *testing.T) {
	f := newFixture(t)
	fut := future(t, "parent.aleo/height")
	require.NoError(t, f.exec.Run(context.Background(), fut, f.state, meter.New(meter.DefaultConfig()), 10))
	err := f.exec.Run(context.Background(), fut, f.state, meter.New(meter.DefaultConfig()), 0)
	assert.Equal(t, vmerr.KindAssertionFailed, vmerr.Classify(err))
}

func TestFinalizeGas(t *testing.T) {
	f := newFixture(t)
	m := meter.New(meter.Config{Ceiling: 50, PerByte: 1})
	err := f.exec.Run(context.Background(), future(t, "child.aleo/bump", alice, lit("1u64")), f.state, m, 1)
	assert.Equal(t, vmerr.KindGasExceeded, vmerr.Classify(err))
}
