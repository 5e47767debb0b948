package meter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Strata/pkg/program"
	"github.com/fortiblox/X1-Strata/pkg/value"
	"github.com/fortiblox/X1-Strata/pkg/vmerr"
)

func TestChargeAndExhaustion(t *testing.T) {
	m := New(Config{Ceiling: 10, PerByte: 1})

	require.NoError(t, m.Charge(4))
	require.NoError(t, m.Charge(6))
	assert.Equal(t, uint64(0), m.Remaining())
	assert.Equal(t, uint64(10), m.Consumed())

	err := m.Charge(1)
	assert.ErrorIs(t, err, vmerr.ErrGasExceeded)
	assert.True(t, m.Exhausted())

	// Exhaustion is sticky even for free charges.
	assert.ErrorIs(t, m.Charge(0), vmerr.ErrGasExceeded)
}

func TestOverchargeDrainsBudget(t *testing.T) {
	m := New(Config{Ceiling: 100, PerByte: 1})
	require.NoError(t, m.Charge(30))
	assert.Equal(t, vmerr.KindGasExceeded, vmerr.Classify(m.Charge(80)))
	assert.Equal(t, uint64(0), m.Remaining())
	assert.Equal(t, uint64(100), m.Consumed())
}

func TestChargeValueScalesWithSize(t *testing.T) {
	small := value.Lit(value.NewU8(1))
	large := value.Lit(value.MustParseLiteral("1u128"))

	a := New(DefaultConfig())
	require.NoError(t, a.ChargeValue(small))
	b := New(DefaultConfig())
	require.NoError(t, b.ChargeValue(large))

	assert.Equal(t, CostRegister+uint64(Size(small)), a.Consumed())
	assert.Greater(t, b.Consumed(), a.Consumed())
}

func TestFinalizeInheritsRemaining(t *testing.T) {
	m := New(Config{Ceiling: 500, PerByte: 1})
	require.NoError(t, m.ChargeInstruction(program.OpCall))
	require.NoError(t, m.ChargeInstruction(program.OpSet))

	f := m.Finalize()
	assert.Equal(t, uint64(500-CostCall-CostSet), f.Limit())
	assert.ErrorIs(t, f.Charge(f.Limit()+1), vmerr.ErrGasExceeded)
}

func TestDisabledNeverFails(t *testing.T) {
	m := NewDisabled()
	for i := 0; i < 10; i++ {
		require.NoError(t, m.Charge(DefaultCeiling))
	}
	assert.Equal(t, 10*DefaultCeiling, m.Consumed())
	assert.False(t, m.Finalize().Exhausted())
}

func TestInstructionCostTable(t *testing.T) {
	tests := []struct {
		op   program.Opcode
		want uint64
	}{
		{program.OpAdd, CostAdd},
		{program.OpMulW, CostMul},
		{program.OpMod, CostDiv},
		{program.OpInv, CostField},
		{program.OpIsEq, CostALU},
		{program.OpGetOrUse, CostGet},
		{program.OpRemove, CostSet},
		{program.OpCall, CostCall},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, InstructionCost(tt.op), tt.op.String())
	}
}
