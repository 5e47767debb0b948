// Package meter implements the per-transaction cost meter.
//
// Every executed instruction charges a fixed base cost from the opcode table,
// and every value written to a register additionally charges in proportion to
// its canonical size. Nested calls share their caller's meter, so the full
// reach of a call tree is paid for by one budget. Finalize runs on a meter
// derived from the execute-phase meter, holding whatever budget is left.
package meter

import (
	"fmt"

	"github.com/fortiblox/X1-Strata/pkg/program"
	"github.com/fortiblox/X1-Strata/pkg/value"
	"github.com/fortiblox/X1-Strata/pkg/vmerr"
)

// Instruction base costs.
const (
	CostALU      = uint64(1)   // bitwise, comparison, ternary
	CostAdd      = uint64(2)   // add, sub, neg, abs, double
	CostMul      = uint64(4)   // mul, square, shifts
	CostDiv      = uint64(12)  // div, rem, mod
	CostPow      = uint64(20)  // pow
	CostField    = uint64(40)  // inv, sqrt
	CostCast     = uint64(4)   // cast, cast.lossy
	CostAssert   = uint64(2)   // assert.eq, assert.neq
	CostJump     = uint64(1)   // position, branch
	CostCall     = uint64(50)  // call, before the callee's own instructions
	CostAsync    = uint64(20)  // async
	CostAwait    = uint64(20)  // await, before the awaited block's instructions
	CostGet      = uint64(100) // get, get.or_use, contains
	CostSet      = uint64(200) // set, remove
	CostRegister = uint64(1)   // per register write
	CostPerByte  = uint64(1)   // per canonical byte of a register value
)

// DefaultCeiling is the default per-transaction budget.
const DefaultCeiling = uint64(1_000_000)

// Config holds the meter configuration.
type Config struct {
	// Ceiling is the cumulative budget of one transaction, execute and
	// finalize combined.
	Ceiling uint64 `yaml:"ceiling"`

	// PerByte is the charge per canonical byte of a register value.
	PerByte uint64 `yaml:"per_byte"`
}

// DefaultConfig returns the default meter configuration.
func DefaultConfig() Config {
	return Config{
		Ceiling: DefaultCeiling,
		PerByte: CostPerByte,
	}
}

// InstructionCost returns the base cost of op.
func InstructionCost(op program.Opcode) uint64 {
	switch op {
	case program.OpAdd, program.OpAddW, program.OpSub, program.OpSubW,
		program.OpNeg, program.OpAbs, program.OpAbsW, program.OpDouble:
		return CostAdd
	case program.OpMul, program.OpMulW, program.OpSquare,
		program.OpShl, program.OpShlW, program.OpShr, program.OpShrW:
		return CostMul
	case program.OpDiv, program.OpDivW, program.OpRem, program.OpRemW, program.OpMod:
		return CostDiv
	case program.OpPow, program.OpPowW:
		return CostPow
	case program.OpInv, program.OpSqrt:
		return CostField
	case program.OpCast, program.OpCastLossy:
		return CostCast
	case program.OpAssertEq, program.OpAssertNeq:
		return CostAssert
	case program.OpPosition, program.OpBranchEq, program.OpBranchNeq:
		return CostJump
	case program.OpCall:
		return CostCall
	case program.OpAsync:
		return CostAsync
	case program.OpAwait:
		return CostAwait
	case program.OpGet, program.OpGetOrUse, program.OpContains:
		return CostGet
	case program.OpSet, program.OpRemove:
		return CostSet
	default:
		return CostALU
	}
}

// Meter tracks consumption against a ceiling. Once a charge fails the meter
// stays exhausted and every later charge fails too.
//
// A Meter is used by one transaction at a time and is not safe for
// concurrent use.
type Meter struct {
	limit     uint64
	remaining uint64
	consumed  uint64
	perByte   uint64
	exhausted bool
	disabled  bool
}

// New creates a meter from cfg.
func New(cfg Config) *Meter {
	return &Meter{
		limit:     cfg.Ceiling,
		remaining: cfg.Ceiling,
		perByte:   cfg.PerByte,
	}
}

// NewDisabled creates a meter that counts consumption but never fails.
func NewDisabled() *Meter {
	return &Meter{perByte: CostPerByte, disabled: true}
}

// Charge consumes units.
func (m *Meter) Charge(units uint64) error {
	if m.disabled {
		m.consumed += units
		return nil
	}
	if m.exhausted || m.remaining < units {
		m.exhausted = true
		m.consumed += m.remaining
		m.remaining = 0
		return fmt.Errorf("%w: limit %d", vmerr.ErrGasExceeded, m.limit)
	}
	m.remaining -= units
	m.consumed += units
	return nil
}

// ChargeInstruction charges the base cost of op.
func (m *Meter) ChargeInstruction(op program.Opcode) error {
	return m.Charge(InstructionCost(op))
}

// ChargeValue charges for materializing v in a register.
func (m *Meter) ChargeValue(v value.Value) error {
	return m.Charge(CostRegister + m.perByte*uint64(Size(v)))
}

// Size returns the canonical encoded size of v in bytes.
func Size(v value.Value) int {
	return len(value.Encode(v))
}

// Remaining returns the units left.
func (m *Meter) Remaining() uint64 {
	return m.remaining
}

// Consumed returns the units charged so far.
func (m *Meter) Consumed() uint64 {
	return m.consumed
}

// Limit returns the ceiling the meter was created with.
func (m *Meter) Limit() uint64 {
	return m.limit
}

// Exhausted reports whether a charge has failed.
func (m *Meter) Exhausted() bool {
	return m.exhausted
}

// Finalize returns a fresh meter for the finalize phase of the same
// transaction. Its ceiling is what this meter has left.
func (m *Meter) Finalize() *Meter {
	if m.disabled {
		return NewDisabled()
	}
	return &Meter{
		limit:     m.remaining,
		remaining: m.remaining,
		perByte:   m.perByte,
		exhausted: m.exhausted,
	}
}
