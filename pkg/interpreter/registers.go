package interpreter

import (
	"fmt"

	"github.com/fortiblox/X1-Strata/pkg/program"
	"github.com/fortiblox/X1-Strata/pkg/value"
	"github.com/fortiblox/X1-Strata/pkg/vmerr"
)

// Env supplies the non-register operands.
type Env struct {
	Caller      value.Literal
	Signer      value.Literal
	BlockHeight uint32
}

// Registers is the register file of one invocation. Registers start empty;
// reading one that no executed instruction assigned is a type error, which is
// what happens when a branch skips the assignment.
type Registers struct {
	vals []value.Value
}

// NewRegisters returns an empty register file with n registers.
func NewRegisters(n int) *Registers {
	return &Registers{vals: make([]value.Value, n)}
}

// Store writes v to register reg.
func (r *Registers) Store(reg int, v value.Value) error {
	if reg < 0 || reg >= len(r.vals) {
		return fmt.Errorf("%w: register r%d out of range", vmerr.ErrTypeOrRange, reg)
	}
	r.vals[reg] = v
	return nil
}

// Load evaluates operand o.
func (r *Registers) Load(o program.Operand, env *Env) (value.Value, error) {
	switch o.Kind {
	case program.OperandLiteral:
		return value.Lit(o.Literal), nil
	case program.OperandCaller:
		return value.Lit(env.Caller), nil
	case program.OperandSigner:
		return value.Lit(env.Signer), nil
	case program.OperandBlockHeight:
		return value.Lit(value.NewU32(env.BlockHeight)), nil
	}
	if o.Register < 0 || o.Register >= len(r.vals) {
		return nil, fmt.Errorf("%w: register r%d out of range", vmerr.ErrTypeOrRange, o.Register)
	}
	v := r.vals[o.Register]
	if v == nil {
		return nil, fmt.Errorf("%w: r%d is not assigned", vmerr.ErrTypeOrRange, o.Register)
	}
	for _, name := range o.Path {
		next, err := member(v, name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", o, err)
		}
		v = next
	}
	return v, nil
}

// LoadAll evaluates every operand of an instruction.
func (r *Registers) LoadAll(ops []program.Operand, env *Env) ([]value.Value, error) {
	out := make([]value.Value, len(ops))
	for i, o := range ops {
		v, err := r.Load(o, env)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func member(v value.Value, name string) (value.Value, error) {
	switch t := v.(type) {
	case value.Plaintext:
		if m, ok := t.Member(name); ok {
			return m, nil
		}
	case *value.Record:
		if e, ok := t.Entry(name); ok {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%w: %s has no member %s", vmerr.ErrTypeOrRange, v.Kind(), name)
}
