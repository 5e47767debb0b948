package report

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/fortiblox/X1-Strata/pkg/ledger"
	"github.com/fortiblox/X1-Strata/pkg/mapping"
	"github.com/fortiblox/X1-Strata/pkg/value"
)

const fixtureYAML = `
programs:
  - program: counter.aleo
    mappings:
      - {name: total, key: address, value: u64}
    functions:
      - name: inc
        inputs: [{register: r0, type: u64, visibility: public}]
        instructions:
          - {op: async, operands: [inc, self.signer, r0], into: [r1]}
        outputs: [{register: r0, type: u64, visibility: public}]
        finalize:
          inputs: [{register: r0, type: address}, {register: r1, type: u64}]
          instructions:
            - {op: get.or_use, operands: [total, r0, 0u64], into: [r2]}
            - {op: add, operands: [r2, r1], into: [r3]}
            - {op: assert.neq, operands: [r3, 13u64]}
            - {op: set, operands: [r3, total, r0]}
      - name: secret
        inputs: [{register: r0, type: u64}]
        instructions:
          - {op: assert.neq, operands: [r0, 0u64]}
        outputs: [{register: r0, type: u64}]
cases:
  - {program: counter.aleo, function: inc, inputs: [5u64]}
  - {program: counter.aleo, function: inc, inputs: [8u64]}
  - {program: counter.aleo, function: secret, inputs: [0u64]}
  - {program: counter.aleo, function: secret, inputs: [7u64]}
  - {program: counter.aleo, function: inc, inputs: [not-a-value]}
`

func run(t *testing.T, fixture string) (*Report, *Runner) {
	t.Helper()
	f, err := ParseFixture([]byte(fixture))
	require.NoError(t, err)
	r, err := NewRunner(f, mapping.NewMemoryStore(), ledger.NewMemoryStore(), DefaultConfig())
	require.NoError(t, err)
	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	return rep, r
}

func TestRunFixture(t *testing.T) {
	rep, r := run(t, fixtureYAML)
	require.Len(t, rep.Cases, 5)

	accepted := rep.Cases[0]
	assert.True(t, accepted.Verified)
	assert.Equal(t, Accepted, accepted.Speculate)
	assert.Equal(t, Succeeded, accepted.AddNextBlock)
	require.Len(t, accepted.Execute, 1)
	assert.Equal(t, "counter.aleo/inc", accepted.Execute[0].Function)
	outs := accepted.Execute[0].Outputs
	require.Len(t, outs, 2)
	assert.Equal(t, "public", outs[0].Type)
	assert.Equal(t, "5u64", outs[0].Value)
	assert.Equal(t, "future", outs[1].Type)
	require.Len(t, accepted.Fee, 1)
	assert.Equal(t, "credits.aleo/fee_public", accepted.Fee[0].Function)

	rejected := rep.Cases[1]
	assert.Equal(t, Rejected, rejected.Speculate)
	assert.Equal(t, Succeeded, rejected.AddNextBlock)
	assert.Contains(t, rejected.Error, "assertion")

	failed := rep.Cases[2]
	assert.False(t, failed.Verified)
	assert.Empty(t, failed.Execute)
	assert.Empty(t, failed.Speculate)
	assert.Contains(t, failed.Error, "assertion")

	private := rep.Cases[3].Execute[0].Outputs[0]
	assert.Equal(t, "private", private.Type)
	assert.NotEmpty(t, private.ID)
	assert.Empty(t, private.Value)

	assert.Contains(t, rep.Cases[4].Error, "input 0")

	head, _ := r.VM().Ledger().Head()
	assert.Equal(t, uint32(3), head)

	// Cases share an execution head but never a transaction id.
	ids := make(map[string]bool)
	for h := uint32(1); h <= head; h++ {
		b, err := r.VM().Ledger().Block(h)
		require.NoError(t, err)
		require.Len(t, b.Transactions, 1)
		ids[b.Transactions[0].Transaction.ID.String()] = true
	}
	assert.Len(t, ids, 3)
	v, ok, err := r.VM().State().Get("counter.aleo", "total", value.LiteralPlaintext(DefaultSigner))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "5u64", v.String())
}

func TestRunIsDeterministic(t *testing.T) {
	first, _ := run(t, fixtureYAML)
	second, _ := run(t, fixtureYAML)
	a, err := first.Marshal()
	require.NoError(t, err)
	b, err := second.Marshal()
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestFeesDisabledByFixture(t *testing.T) {
	rep, r := run(t, "fees: false\n"+fixtureYAML)
	assert.Empty(t, rep.Cases[0].Fee)
	assert.Equal(t, Accepted, rep.Cases[0].Speculate)

	_, ok, err := r.VM().State().Get("credits.aleo", "account", value.LiteralPlaintext(DefaultSigner))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCallsMarshalAsOrderedMapping(t *testing.T) {
	calls := Calls{
		{Function: "child.aleo/bump", Outputs: []Output{{Type: "public", ID: "a", Value: "1u8"}}},
		{Function: "child.aleo/bump", Outputs: []Output{{Type: "public", ID: "b", Value: "2u8"}}},
		{Function: "parent.aleo/relay"},
	}
	out, err := yaml.Marshal(calls)
	require.NoError(t, err)

	var node yaml.Node
	require.NoError(t, yaml.Unmarshal(out, &node))
	m := node.Content[0]
	require.Equal(t, yaml.MappingNode, m.Kind)
	keys := []string{m.Content[0].Value, m.Content[2].Value, m.Content[4].Value}
	assert.Equal(t, []string{"child.aleo/bump", "child.aleo/bump#2", "parent.aleo/relay"}, keys)

	var back Calls
	require.NoError(t, yaml.Unmarshal(out, &back))
	require.Len(t, back, 3)
	assert.Equal(t, "2u8", back[1].Outputs[0].Value)
}

func TestParseFixtureRejectsUnknownFields(t *testing.T) {
	_, err := ParseFixture([]byte("cases: []\nbogus: 1\n"))
	assert.Error(t, err)
	_, err = ParseFixture([]byte("programs: []\n"))
	assert.Error(t, err)
}
