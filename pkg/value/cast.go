package value

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/twistededwards"
	"github.com/holiman/uint256"

	"github.com/fortiblox/X1-Strata/pkg/vmerr"
)

// Casts move along the hierarchy
//
//	address/group <-> field <-> scalar <-> integer <-> boolean
//
// Cast is checked and fails when the value is not representable in the
// destination. CastLossy is total: integers keep the low-order bits, booleans
// test for nonzero, scalars keep the bits below the order's top bit, and
// groups embed a field abscissa or fall back to x*G.

// Cast converts l to the destination type, failing with ErrTypeOrRange when
// the value does not fit.
func Cast(l Literal, to LiteralType) (Literal, error) {
	if !to.Valid() {
		return Literal{}, fmt.Errorf("%w: unknown cast destination %d", vmerr.ErrTypeOrRange, to)
	}
	if l.typ == to {
		return l, nil
	}
	if l.typ == TypeString || to == TypeString {
		return Literal{}, castErr(l, to)
	}
	switch {
	case to == TypeBoolean:
		v := l.Big()
		switch {
		case v.Sign() == 0:
			return NewBoolean(false), nil
		case v.Cmp(bigOne) == 0:
			return NewBoolean(true), nil
		}
		return Literal{}, castErr(l, to)
	case to.IsInteger():
		v := l.Big()
		if !intFits(to, v) {
			return Literal{}, castErr(l, to)
		}
		return intWrap(to, v), nil
	case to == TypeField:
		v := l.Big()
		if v.Sign() < 0 || v.Cmp(FieldModulus()) >= 0 {
			return Literal{}, castErr(l, to)
		}
		return NewField(fieldFromBig(v)), nil
	case to == TypeScalar:
		v := l.Big()
		if v.Sign() < 0 || v.Cmp(scalarOrderRef()) >= 0 {
			return Literal{}, castErr(l, to)
		}
		var bits uint256.Int
		bits.SetFromBig(v)
		return Literal{typ: TypeScalar, bits: bits}, nil
	case to == TypeGroup || to == TypeAddress:
		if l.typ == TypeGroup || l.typ == TypeAddress {
			return Literal{typ: to, point: l.point}, nil
		}
		x, err := Cast(l, TypeField)
		if err != nil {
			return Literal{}, castErr(l, to)
		}
		p, ok := pointFromX(&x.field)
		if !ok {
			return Literal{}, castErr(l, to)
		}
		return Literal{typ: to, point: p}, nil
	}
	return Literal{}, castErr(l, to)
}

// CastLossy converts l to the destination type without range checks. It
// fails only for casts that have no meaning at all (to or from string).
func CastLossy(l Literal, to LiteralType) (Literal, error) {
	if !to.Valid() {
		return Literal{}, fmt.Errorf("%w: unknown cast destination %d", vmerr.ErrTypeOrRange, to)
	}
	if l.typ == to {
		return l, nil
	}
	if l.typ == TypeString || to == TypeString {
		return Literal{}, castErr(l, to)
	}
	v := lossyValue(l)
	switch {
	case to == TypeBoolean:
		return NewBoolean(v.Sign() != 0), nil
	case to.IsInteger():
		return intWrap(to, v), nil
	case to == TypeField:
		return NewFieldFromBig(v), nil
	case to == TypeScalar:
		return scalarTruncate(v), nil
	case to == TypeGroup || to == TypeAddress:
		if l.typ == TypeGroup || l.typ == TypeAddress {
			return Literal{typ: to, point: l.point}, nil
		}
		x := NewFieldFromBig(v)
		return Literal{typ: to, point: embedField(&x.field)}, nil
	}
	return Literal{}, castErr(l, to)
}

// lossyValue returns the non-negative number a lossy cast starts from:
// the bit pattern for integers, the abscissa for points.
func lossyValue(l Literal) *big.Int {
	if l.typ.IsInteger() {
		return l.bits.ToBig()
	}
	return l.Big()
}

// scalarTruncate keeps the bits strictly below the order's top bit, which
// always yields a value smaller than the order.
func scalarTruncate(v *big.Int) Literal {
	n := scalarOrderRef().BitLen() - 1
	mask := new(big.Int).Sub(new(big.Int).Lsh(bigOne, uint(n)), bigOne)
	t := new(big.Int).And(v, mask)
	var bits uint256.Int
	bits.SetFromBig(t)
	return Literal{typ: TypeScalar, bits: bits}
}

// embedField maps x to the subgroup point with abscissa x when one exists and
// to x*G otherwise.
func embedField(x *fr.Element) twistededwards.PointAffine {
	if p, ok := pointFromX(x); ok {
		return p
	}
	return scalarMulGenerator(fieldToBig(x))
}

func castErr(l Literal, to LiteralType) error {
	return fmt.Errorf("%w: cannot cast %s to %s", vmerr.ErrTypeOrRange, l, to)
}
