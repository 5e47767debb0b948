package program

import "fmt"

// Opcode identifies an instruction.
type Opcode uint8

// Arithmetic and logic.
const (
	OpInvalid Opcode = iota
	OpAdd
	OpAddW
	OpSub
	OpSubW
	OpMul
	OpMulW
	OpDiv
	OpDivW
	OpRem
	OpRemW
	OpMod
	OpPow
	OpPowW
	OpShl
	OpShlW
	OpShr
	OpShrW
	OpAnd
	OpOr
	OpXor
	OpNand
	OpNor
	OpGt
	OpGte
	OpLt
	OpLte
	OpIsEq
	OpIsNeq
	OpAbs
	OpAbsW
	OpNeg
	OpNot
	OpDouble
	OpSquare
	OpInv
	OpSqrt
	OpTernary
	OpCast
	OpCastLossy
	OpAssertEq
	OpAssertNeq

	// Control flow.
	OpPosition
	OpBranchEq
	OpBranchNeq

	// Function only.
	OpCall
	OpAsync

	// Finalize only.
	OpAwait
	OpGet
	OpGetOrUse
	OpSet
	OpContains
	OpRemove

	numOpcodes
)

var opcodeNames = [numOpcodes]string{
	OpInvalid:   "invalid",
	OpAdd:       "add",
	OpAddW:      "add.w",
	OpSub:       "sub",
	OpSubW:      "sub.w",
	OpMul:       "mul",
	OpMulW:      "mul.w",
	OpDiv:       "div",
	OpDivW:      "div.w",
	OpRem:       "rem",
	OpRemW:      "rem.w",
	OpMod:       "mod",
	OpPow:       "pow",
	OpPowW:      "pow.w",
	OpShl:       "shl",
	OpShlW:      "shl.w",
	OpShr:       "shr",
	OpShrW:      "shr.w",
	OpAnd:       "and",
	OpOr:        "or",
	OpXor:       "xor",
	OpNand:      "nand",
	OpNor:       "nor",
	OpGt:        "gt",
	OpGte:       "gte",
	OpLt:        "lt",
	OpLte:       "lte",
	OpIsEq:      "is.eq",
	OpIsNeq:     "is.neq",
	OpAbs:       "abs",
	OpAbsW:      "abs.w",
	OpNeg:       "neg",
	OpNot:       "not",
	OpDouble:    "double",
	OpSquare:    "square",
	OpInv:       "inv",
	OpSqrt:      "sqrt",
	OpTernary:   "ternary",
	OpCast:      "cast",
	OpCastLossy: "cast.lossy",
	OpAssertEq:  "assert.eq",
	OpAssertNeq: "assert.neq",
	OpPosition:  "position",
	OpBranchEq:  "branch.eq",
	OpBranchNeq: "branch.neq",
	OpCall:      "call",
	OpAsync:     "async",
	OpAwait:     "await",
	OpGet:       "get",
	OpGetOrUse:  "get.or_use",
	OpSet:       "set",
	OpContains:  "contains",
	OpRemove:    "remove",
}

func (op Opcode) String() string {
	if op >= numOpcodes {
		return fmt.Sprintf("opcode(%d)", uint8(op))
	}
	return opcodeNames[op]
}

// ParseOpcode parses an instruction mnemonic.
func ParseOpcode(s string) (Opcode, bool) {
	for i, name := range opcodeNames {
		if name == s && Opcode(i) != OpInvalid {
			return Opcode(i), true
		}
	}
	return OpInvalid, false
}

// Context says where an instruction may appear.
type Context uint8

const (
	InFunction Context = 1 << iota
	InFinalize

	InBoth = InFunction | InFinalize
)

// shape describes the fixed arity of an opcode. operands < 0 means variadic
// with at least -operands-1 operands.
type shape struct {
	operands int
	dests    int
	context  Context
}

var shapes = [numOpcodes]shape{
	OpAdd: {2, 1, InBoth}, OpAddW: {2, 1, InBoth},
	OpSub: {2, 1, InBoth}, OpSubW: {2, 1, InBoth},
	OpMul: {2, 1, InBoth}, OpMulW: {2, 1, InBoth},
	OpDiv: {2, 1, InBoth}, OpDivW: {2, 1, InBoth},
	OpRem: {2, 1, InBoth}, OpRemW: {2, 1, InBoth},
	OpMod: {2, 1, InBoth},
	OpPow: {2, 1, InBoth}, OpPowW: {2, 1, InBoth},
	OpShl: {2, 1, InBoth}, OpShlW: {2, 1, InBoth},
	OpShr: {2, 1, InBoth}, OpShrW: {2, 1, InBoth},
	OpAnd: {2, 1, InBoth}, OpOr: {2, 1, InBoth}, OpXor: {2, 1, InBoth},
	OpNand: {2, 1, InBoth}, OpNor: {2, 1, InBoth},
	OpGt: {2, 1, InBoth}, OpGte: {2, 1, InBoth},
	OpLt: {2, 1, InBoth}, OpLte: {2, 1, InBoth},
	OpIsEq: {2, 1, InBoth}, OpIsNeq: {2, 1, InBoth},
	OpAbs: {1, 1, InBoth}, OpAbsW: {1, 1, InBoth},
	OpNeg: {1, 1, InBoth}, OpNot: {1, 1, InBoth},
	OpDouble: {1, 1, InBoth}, OpSquare: {1, 1, InBoth},
	OpInv: {1, 1, InBoth}, OpSqrt: {1, 1, InBoth},
	OpTernary:   {3, 1, InBoth},
	OpCast:      {-2, 1, InBoth},
	OpCastLossy: {1, 1, InBoth},
	OpAssertEq:  {2, 0, InBoth},
	OpAssertNeq: {2, 0, InBoth},
	OpPosition:  {0, 0, InBoth},
	OpBranchEq:  {2, 0, InBoth},
	OpBranchNeq: {2, 0, InBoth},
	OpCall:      {-1, -1, InFunction},
	OpAsync:     {-1, 1, InFunction},
	OpAwait:     {1, 0, InFinalize},
	OpGet:       {1, 1, InFinalize},
	OpGetOrUse:  {2, 1, InFinalize},
	OpSet:       {2, 0, InFinalize},
	OpContains:  {1, 1, InFinalize},
	OpRemove:    {1, 0, InFinalize},
}

// Allowed reports whether op may appear in ctx.
func (op Opcode) Allowed(ctx Context) bool {
	return op < numOpcodes && shapes[op].context&ctx != 0
}

// IsMapping reports whether op addresses a mapping.
func (op Opcode) IsMapping() bool {
	switch op {
	case OpGet, OpGetOrUse, OpSet, OpContains, OpRemove:
		return true
	}
	return false
}

// IsBranch reports whether op is a conditional jump.
func (op Opcode) IsBranch() bool {
	return op == OpBranchEq || op == OpBranchNeq
}
