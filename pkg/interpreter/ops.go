package interpreter

import (
	"fmt"

	"github.com/fortiblox/X1-Strata/pkg/program"
	"github.com/fortiblox/X1-Strata/pkg/value"
	"github.com/fortiblox/X1-Strata/pkg/vmerr"
)

type binaryFn func(a, b value.Literal) (value.Literal, error)

type unaryFn func(a value.Literal) (value.Literal, error)

var binaryOps = map[program.Opcode]binaryFn{
	program.OpAdd:  value.Add,
	program.OpAddW: value.AddWrapped,
	program.OpSub:  value.Sub,
	program.OpSubW: value.SubWrapped,
	program.OpMul:  value.Mul,
	program.OpMulW: value.MulWrapped,
	program.OpDiv:  value.Div,
	program.OpDivW: value.DivWrapped,
	program.OpRem:  value.Rem,
	program.OpRemW: value.RemWrapped,
	program.OpMod:  value.Mod,
	program.OpPow:  value.Pow,
	program.OpPowW: value.PowWrapped,
	program.OpShl:  value.Shl,
	program.OpShlW: value.ShlWrapped,
	program.OpShr:  value.Shr,
	program.OpShrW: value.ShrWrapped,
	program.OpAnd:  value.And,
	program.OpOr:   value.Or,
	program.OpXor:  value.Xor,
	program.OpNand: value.Nand,
	program.OpNor:  value.Nor,
	program.OpGt:   value.GreaterThan,
	program.OpGte:  value.GreaterThanOrEqual,
	program.OpLt:   value.LessThan,
	program.OpLte:  value.LessThanOrEqual,
}

var unaryOps = map[program.Opcode]unaryFn{
	program.OpAbs:    value.Abs,
	program.OpAbsW:   value.AbsWrapped,
	program.OpNeg:    value.Neg,
	program.OpNot:    value.Not,
	program.OpDouble: value.Double,
	program.OpSquare: value.Square,
	program.OpInv:    value.Inv,
	program.OpSqrt:   value.Sqrt,
}

// Apply evaluates a pure instruction over its operand values and returns the
// value for its destination, or nil for instructions without one (asserts).
// Record casts, calls, async and mapping operations are not pure and are
// rejected here; the function interpreter and the finalize executor handle
// them.
func Apply(p *program.Program, in *program.Instruction, args []value.Value) (value.Value, error) {
	if fn, ok := binaryOps[in.Op]; ok {
		a, b, err := twoLiterals(args)
		if err != nil {
			return nil, err
		}
		out, err := fn(a, b)
		if err != nil {
			return nil, err
		}
		return value.Lit(out), nil
	}
	if fn, ok := unaryOps[in.Op]; ok {
		a, err := value.AsLiteral(args[0])
		if err != nil {
			return nil, err
		}
		out, err := fn(a)
		if err != nil {
			return nil, err
		}
		return value.Lit(out), nil
	}

	switch in.Op {
	case program.OpIsEq:
		return value.Lit(value.IsEq(args[0], args[1])), nil
	case program.OpIsNeq:
		return value.Lit(value.IsNeq(args[0], args[1])), nil
	case program.OpTernary:
		cond, err := value.AsLiteral(args[0])
		if err != nil {
			return nil, err
		}
		return value.Ternary(cond, args[1], args[2])
	case program.OpAssertEq:
		if !args[0].Equal(args[1]) {
			return nil, fmt.Errorf("%w: %s != %s", vmerr.ErrAssertionFailed, args[0], args[1])
		}
		return nil, nil
	case program.OpAssertNeq:
		if args[0].Equal(args[1]) {
			return nil, fmt.Errorf("%w: %s == %s", vmerr.ErrAssertionFailed, args[0], args[1])
		}
		return nil, nil
	case program.OpCast, program.OpCastLossy:
		return cast(p, in, args)
	}
	return nil, fmt.Errorf("%w: %s is not a pure instruction", program.ErrInvalidInstruction, in.Op)
}

// Branch reports whether a branch instruction jumps given its two operands.
func Branch(in *program.Instruction, a, b value.Value) bool {
	return a.Equal(b) == (in.Op == program.OpBranchEq)
}

func twoLiterals(args []value.Value) (value.Literal, value.Literal, error) {
	a, err := value.AsLiteral(args[0])
	if err != nil {
		return a, a, err
	}
	b, err := value.AsLiteral(args[1])
	if err != nil {
		return a, b, err
	}
	return a, b, nil
}

func cast(p *program.Program, in *program.Instruction, args []value.Value) (value.Value, error) {
	t := in.CastType
	if t.Kind != value.KindPlaintext {
		return nil, fmt.Errorf("%w: cannot cast to %s here", program.ErrInvalidInstruction, t)
	}
	if !t.Plaintext.IsStruct() {
		l, err := value.AsLiteral(args[0])
		if err != nil {
			return nil, err
		}
		var out value.Literal
		if in.Op == program.OpCastLossy {
			out, err = value.CastLossy(l, t.Plaintext.Literal)
		} else {
			out, err = value.Cast(l, t.Plaintext.Literal)
		}
		if err != nil {
			return nil, err
		}
		return value.Lit(out), nil
	}

	def, ok := p.Struct(t.Plaintext.Struct)
	if !ok {
		return nil, fmt.Errorf("%w: unknown struct %s", vmerr.ErrUnresolvedTarget, t.Plaintext.Struct)
	}
	if len(args) != len(def.Members) {
		return nil, fmt.Errorf("%w: struct %s takes %d members, got %d", vmerr.ErrTypeOrRange, def.Name, len(def.Members), len(args))
	}
	members := make([]value.Member, len(args))
	for i, f := range def.Members {
		pt, ok := args[i].(value.Plaintext)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s: expected plaintext, got %s", vmerr.ErrTypeOrRange, def.Name, f.Name, args[i].Kind())
		}
		if err := p.CheckPlaintext(pt, f.Type); err != nil {
			return nil, fmt.Errorf("%w: %v", vmerr.ErrTypeOrRange, err)
		}
		members[i] = value.Member{Name: f.Name, Value: pt}
	}
	s, err := value.NewStruct(members...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vmerr.ErrTypeOrRange, err)
	}
	return s, nil
}
