package value

import (
	"math/big"

	"github.com/holiman/uint256"
)

var (
	bigOne = big.NewInt(1)
)

// intModulus returns 2^width.
func intModulus(t LiteralType) *big.Int {
	return new(big.Int).Lsh(bigOne, t.Width())
}

// intMin returns the smallest value of t.
func intMin(t LiteralType) *big.Int {
	if !t.IsSigned() {
		return new(big.Int)
	}
	return new(big.Int).Neg(new(big.Int).Lsh(bigOne, t.Width()-1))
}

// intMax returns the largest value of t.
func intMax(t LiteralType) *big.Int {
	if t.IsSigned() {
		return new(big.Int).Sub(new(big.Int).Lsh(bigOne, t.Width()-1), bigOne)
	}
	return new(big.Int).Sub(intModulus(t), bigOne)
}

// intFits reports whether v is representable in t.
func intFits(t LiteralType, v *big.Int) bool {
	return v.Cmp(intMin(t)) >= 0 && v.Cmp(intMax(t)) <= 0
}

// intWrap reduces v modulo 2^width and stores the two's-complement pattern.
func intWrap(t LiteralType, v *big.Int) Literal {
	m := new(big.Int).Mod(v, intModulus(t))
	var bits uint256.Int
	bits.SetFromBig(m)
	return Literal{typ: t, bits: bits}
}

// intValue interprets a stored bit pattern as a value of t.
func intValue(t LiteralType, bits *uint256.Int) *big.Int {
	v := bits.ToBig()
	if t.IsSigned() && v.Bit(int(t.Width()-1)) == 1 {
		v.Sub(v, intModulus(t))
	}
	return v
}

// intMask returns 2^width - 1 as a 256-bit word.
func intMask(t LiteralType) *uint256.Int {
	m := new(uint256.Int).Lsh(uint256.NewInt(1), t.Width())
	return m.SubUint64(m, 1)
}

// intChecked returns v as a literal of t or a range error.
func intChecked(t LiteralType, v *big.Int, op string) (Literal, error) {
	if !intFits(t, v) {
		return Literal{}, rangeErr("%s overflows %s", op, t)
	}
	return intWrap(t, v), nil
}

// truncQuo and truncRem divide with truncation toward zero.
func truncQuo(a, b *big.Int) *big.Int {
	return new(big.Int).Quo(a, b)
}

func truncRem(a, b *big.Int) *big.Int {
	return new(big.Int).Rem(a, b)
}
