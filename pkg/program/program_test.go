package program

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Strata/pkg/value"
	"github.com/fortiblox/X1-Strata/pkg/vmerr"
)

const childYAML = `
program: child.aleo
mappings:
  - {name: counter, key: address, value: u64}
functions:
  - name: bump
    inputs: [{register: r0, type: u64, visibility: public}]
    instructions:
      - {op: add, operands: [r0, 1u64], into: [r1]}
      - {op: async, operands: [bump, self.caller, r1], into: [r2]}
    outputs: [{register: r1, type: u64, visibility: public}]
    finalize:
      inputs: [{register: r0, type: address}, {register: r1, type: u64}]
      instructions:
        - {op: get.or_use, operands: [counter, r0, 0u64], into: [r2]}
        - {op: add, operands: [r2, r1], into: [r3]}
        - {op: set, operands: [r3, counter, r0]}
`

const parentYAML = `
program: parent.aleo
imports: [child.aleo]
structs:
  - name: pair
    members: [{name: a, type: u8}, {name: b, type: u8}]
functions:
  - name: main
    inputs: [{register: r0, type: u64}]
    instructions:
      - {op: call, operands: [child.aleo/bump, r0], into: [r1, r2]}
      - {op: async, operands: [main, r2], into: [r3]}
    outputs: [{register: r1, type: u64}]
    finalize:
      inputs: [{register: r0, type: child.aleo/bump.future}]
      instructions:
        - {op: await, operands: [r0]}
  - name: loop
    inputs: [{register: r0, type: u8}]
    instructions:
      - {op: position, operands: [top]}
      - {op: add, operands: [r0, 1u8], into: [r1]}
      - {op: branch.neq, operands: [r1, 3u8, top]}
      - {op: cast, operands: [r0, r1], into: [r2], as: pair}
    outputs: [{register: r2, type: pair}]
`

func mustParse(t *testing.T, src string) *Program {
	t.Helper()
	programs, err := Parse([]byte(src))
	require.NoError(t, err)
	require.Len(t, programs, 1)
	return programs[0]
}

func TestBuildResolvesRegistersAndLabels(t *testing.T) {
	child := mustParse(t, childYAML)
	bump, ok := child.Function("bump")
	require.True(t, ok)
	assert.Equal(t, 3, bump.NumRegisters)
	assert.Equal(t, 2, bump.NumOutputs())
	require.NotNil(t, bump.Finalize)
	assert.Equal(t, 4, bump.Finalize.NumRegisters)

	set := bump.Finalize.Instructions[2]
	assert.Equal(t, OpSet, set.Op)
	assert.Equal(t, "child.aleo/counter", set.Target.String())
	require.Len(t, set.Operands, 2)
	assert.Equal(t, "r3", set.Operands[0].String())
	assert.Equal(t, "r0", set.Operands[1].String())

	async := bump.Instructions[1]
	assert.Equal(t, OperandCaller, async.Operands[0].Kind)

	parent := mustParse(t, parentYAML)
	loop, ok := parent.Function("loop")
	require.True(t, ok)
	branch := loop.Instructions[2]
	assert.Equal(t, OpBranchNeq, branch.Op)
	assert.Equal(t, 0, branch.Jump)
	cast := loop.Instructions[3]
	assert.Equal(t, "pair", cast.CastType.String())
}

func TestBuildRejects(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"register assigned twice", `
program: bad.aleo
functions:
  - name: f
    inputs: [{register: r0, type: u8}]
    instructions:
      - {op: add, operands: [r0, r0], into: [r1]}
      - {op: add, operands: [r0, r0], into: [r1]}
`},
		{"read before assignment", `
program: bad.aleo
functions:
  - name: f
    inputs: [{register: r0, type: u8}]
    instructions:
      - {op: add, operands: [r0, r5], into: [r1]}
`},
		{"unknown label", `
program: bad.aleo
functions:
  - name: f
    inputs: [{register: r0, type: u8}]
    instructions:
      - {op: branch.eq, operands: [r0, 0u8, nowhere]}
`},
		{"finalize without async", `
program: bad.aleo
mappings: [{name: m, key: u8, value: u8}]
functions:
  - name: f
    inputs: [{register: r0, type: u8}]
    finalize:
      inputs: [{register: r0, type: u8}]
`},
		{"async argument count", `
program: bad.aleo
functions:
  - name: f
    inputs: [{register: r0, type: u8}]
    instructions:
      - {op: async, operands: [f, r0, r0], into: [r1]}
    finalize:
      inputs: [{register: r0, type: u8}]
`},
		{"mapping op in function", `
program: bad.aleo
mappings: [{name: m, key: u8, value: u8}]
functions:
  - name: f
    inputs: [{register: r0, type: u8}]
    instructions:
      - {op: contains, operands: [m, r0], into: [r1]}
`},
		{"write to another program", `
program: bad.aleo
imports: [child.aleo]
functions:
  - name: f
    inputs: [{register: r0, type: u8}]
    instructions:
      - {op: async, operands: [f, r0], into: [r1]}
    finalize:
      inputs: [{register: r0, type: u8}]
      instructions:
        - {op: remove, operands: [child.aleo/counter, r0]}
`},
		{"call without import", `
program: bad.aleo
functions:
  - name: f
    inputs: [{register: r0, type: u64}]
    instructions:
      - {op: call, operands: [child.aleo/bump, r0], into: [r1, r2]}
`},
		{"inputs out of order", `
program: bad.aleo
functions:
  - name: f
    inputs: [{register: r1, type: u8}]
`},
		{"lossy cast to struct", `
program: bad.aleo
structs: [{name: s, members: [{name: a, type: u8}]}]
functions:
  - name: f
    inputs: [{register: r0, type: u8}]
    instructions:
      - {op: cast.lossy, operands: [r0], into: [r1], as: s}
`},
		{"block height in function", `
program: bad.aleo
functions:
  - name: f
    instructions:
      - {op: add, operands: [block.height, 1u32], into: [r0]}
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src))
			assert.Error(t, err)
		})
	}
}

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(mustParse(t, childYAML)))
	require.NoError(t, r.Add(mustParse(t, parentYAML)))

	f, err := r.Resolve("parent.aleo", "main")
	require.NoError(t, err)
	assert.Equal(t, "parent.aleo/main", f.Locator().String())

	_, err = r.Resolve("parent.aleo", "missing")
	assert.Equal(t, vmerr.KindUnresolvedTarget, vmerr.Classify(err))

	_, err = r.Program("nobody.aleo")
	assert.Equal(t, vmerr.KindUnresolvedTarget, vmerr.Classify(err))

	m, err := r.ResolveMapping("child.aleo", "counter")
	require.NoError(t, err)
	assert.Equal(t, value.TypeU64, m.Value.Literal)

	stack, err := r.Stack("parent.aleo")
	require.NoError(t, err)
	require.Len(t, stack, 2)
	assert.Equal(t, "parent.aleo", stack[0].ID)
	assert.Equal(t, "child.aleo", stack[1].ID)

	assert.ErrorIs(t, r.Add(mustParse(t, childYAML)), ErrDuplicateProgram)
}

func TestRegistryRequiresImportsFirst(t *testing.T) {
	r := NewRegistry()
	err := r.Add(mustParse(t, parentYAML))
	assert.Equal(t, vmerr.KindUnresolvedTarget, vmerr.Classify(err))
}

func TestRegistryChecksCallArity(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(mustParse(t, childYAML)))

	// bump has a finalize block, so a call yields its output and a future.
	err := r.Add(mustParse(t, `
program: caller.aleo
imports: [child.aleo]
functions:
  - name: f
    inputs: [{register: r0, type: u64}]
    instructions:
      - {op: call, operands: [child.aleo/bump, r0], into: [r1]}
`))
	assert.ErrorIs(t, err, ErrInvalidInstruction)
}

func TestStackFailsClosedOnCycle(t *testing.T) {
	a := &Program{ID: "a.aleo", Imports: []string{"b.aleo"}}
	b := &Program{ID: "b.aleo", Imports: []string{"a.aleo"}}
	a.index()
	b.index()
	r := NewRegistry()
	r.programs[a.ID] = a
	r.programs[b.ID] = b

	_, err := r.Stack("a.aleo")
	assert.ErrorIs(t, err, vmerr.ErrUnresolvedTarget)

	c := &Program{ID: "c.aleo", Imports: []string{"ghost.aleo"}}
	c.index()
	r.programs[c.ID] = c
	_, err = r.Stack("c.aleo")
	assert.ErrorIs(t, err, vmerr.ErrUnresolvedTarget)
}

func TestCheckValue(t *testing.T) {
	p := mustParse(t, parentYAML)
	pair, err := value.NewStruct(
		value.Member{Name: "a", Value: value.MustParsePlaintext("1u8")},
		value.Member{Name: "b", Value: value.MustParsePlaintext("2u8")},
	)
	require.NoError(t, err)
	assert.NoError(t, p.CheckValue(pair, value.PlaintextTypeOf(value.StructOf("pair"))))

	swapped, err := value.NewStruct(
		value.Member{Name: "b", Value: value.MustParsePlaintext("1u8")},
		value.Member{Name: "a", Value: value.MustParsePlaintext("2u8")},
	)
	require.NoError(t, err)
	assert.Error(t, p.CheckValue(swapped, value.PlaintextTypeOf(value.StructOf("pair"))))

	fut, err := value.NewFuture("child.aleo", "bump")
	require.NoError(t, err)
	ft, err := value.ParseType("child.aleo/bump.future")
	require.NoError(t, err)
	assert.NoError(t, p.CheckValue(fut, ft))
	other, err := value.ParseType("child.aleo/other.future")
	require.NoError(t, err)
	assert.Error(t, p.CheckValue(fut, other))
}
