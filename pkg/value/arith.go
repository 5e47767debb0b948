package value

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/twistededwards"
	"github.com/holiman/uint256"

	"github.com/fortiblox/X1-Strata/pkg/vmerr"
)

func rangeErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", vmerr.ErrTypeOrRange, fmt.Sprintf(format, args...))
}

func operandErr(op string, ls ...Literal) error {
	names := make([]string, len(ls))
	for i, l := range ls {
		names[i] = l.typ.String()
	}
	return fmt.Errorf("%w: %s is not defined for %v", vmerr.ErrTypeOrRange, op, names)
}

func sameInt(a, b Literal) bool {
	return a.typ == b.typ && a.typ.IsInteger()
}

// Add returns a+b, failing on integer overflow.
func Add(a, b Literal) (Literal, error) {
	return add(a, b, false)
}

// AddWrapped returns a+b modulo 2^width.
func AddWrapped(a, b Literal) (Literal, error) {
	if !sameInt(a, b) {
		return Literal{}, operandErr("add.w", a, b)
	}
	return add(a, b, true)
}

func add(a, b Literal, wrapped bool) (Literal, error) {
	switch {
	case sameInt(a, b):
		sum := new(big.Int).Add(a.Big(), b.Big())
		if wrapped {
			return intWrap(a.typ, sum), nil
		}
		return intChecked(a.typ, sum, "add")
	case a.typ == TypeField && b.typ == TypeField:
		var e fr.Element
		e.Add(&a.field, &b.field)
		return NewField(e), nil
	case a.typ == TypeGroup && b.typ == TypeGroup:
		var p twistededwards.PointAffine
		p.Add(&a.point, &b.point)
		return Literal{typ: TypeGroup, point: p}, nil
	case a.typ == TypeScalar && b.typ == TypeScalar:
		return scalarMod(new(big.Int).Add(a.bits.ToBig(), b.bits.ToBig())), nil
	}
	return Literal{}, operandErr("add", a, b)
}

// Sub returns a-b, failing on integer overflow.
func Sub(a, b Literal) (Literal, error) {
	return sub(a, b, false)
}

// SubWrapped returns a-b modulo 2^width.
func SubWrapped(a, b Literal) (Literal, error) {
	if !sameInt(a, b) {
		return Literal{}, operandErr("sub.w", a, b)
	}
	return sub(a, b, true)
}

func sub(a, b Literal, wrapped bool) (Literal, error) {
	switch {
	case sameInt(a, b):
		diff := new(big.Int).Sub(a.Big(), b.Big())
		if wrapped {
			return intWrap(a.typ, diff), nil
		}
		return intChecked(a.typ, diff, "sub")
	case a.typ == TypeField && b.typ == TypeField:
		var e fr.Element
		e.Sub(&a.field, &b.field)
		return NewField(e), nil
	case a.typ == TypeGroup && b.typ == TypeGroup:
		var neg, p twistededwards.PointAffine
		neg.Neg(&b.point)
		p.Add(&a.point, &neg)
		return Literal{typ: TypeGroup, point: p}, nil
	case a.typ == TypeScalar && b.typ == TypeScalar:
		return scalarMod(new(big.Int).Sub(a.bits.ToBig(), b.bits.ToBig())), nil
	}
	return Literal{}, operandErr("sub", a, b)
}

// Mul returns a*b. group*scalar and scalar*group are scalar multiplication.
func Mul(a, b Literal) (Literal, error) {
	return mul(a, b, false)
}

// MulWrapped returns a*b modulo 2^width.
func MulWrapped(a, b Literal) (Literal, error) {
	if !sameInt(a, b) {
		return Literal{}, operandErr("mul.w", a, b)
	}
	return mul(a, b, true)
}

func mul(a, b Literal, wrapped bool) (Literal, error) {
	switch {
	case sameInt(a, b):
		prod := new(big.Int).Mul(a.Big(), b.Big())
		if wrapped {
			return intWrap(a.typ, prod), nil
		}
		return intChecked(a.typ, prod, "mul")
	case a.typ == TypeField && b.typ == TypeField:
		var e fr.Element
		e.Mul(&a.field, &b.field)
		return NewField(e), nil
	case a.typ == TypeGroup && b.typ == TypeScalar:
		var p twistededwards.PointAffine
		p.ScalarMultiplication(&a.point, b.bits.ToBig())
		return Literal{typ: TypeGroup, point: p}, nil
	case a.typ == TypeScalar && b.typ == TypeGroup:
		return mul(b, a, wrapped)
	case a.typ == TypeScalar && b.typ == TypeScalar:
		return scalarMod(new(big.Int).Mul(a.bits.ToBig(), b.bits.ToBig())), nil
	}
	return Literal{}, operandErr("mul", a, b)
}

// Div returns a/b. Integer division truncates toward zero; field division
// multiplies by the inverse. Division by zero always fails.
func Div(a, b Literal) (Literal, error) {
	switch {
	case sameInt(a, b):
		d := b.Big()
		if d.Sign() == 0 {
			return Literal{}, rangeErr("division by zero")
		}
		return intChecked(a.typ, truncQuo(a.Big(), d), "div")
	case a.typ == TypeField && b.typ == TypeField:
		if b.field.IsZero() {
			return Literal{}, rangeErr("field division by zero")
		}
		var inv, e fr.Element
		inv.Inverse(&b.field)
		e.Mul(&a.field, &inv)
		return NewField(e), nil
	}
	return Literal{}, operandErr("div", a, b)
}

// DivWrapped returns a/b, wrapping MIN/-1 to MIN.
func DivWrapped(a, b Literal) (Literal, error) {
	if !sameInt(a, b) {
		return Literal{}, operandErr("div.w", a, b)
	}
	d := b.Big()
	if d.Sign() == 0 {
		return Literal{}, rangeErr("division by zero")
	}
	return intWrap(a.typ, truncQuo(a.Big(), d)), nil
}

// Rem returns the remainder of truncated division.
func Rem(a, b Literal) (Literal, error) {
	if !sameInt(a, b) {
		return Literal{}, operandErr("rem", a, b)
	}
	d := b.Big()
	if d.Sign() == 0 {
		return Literal{}, rangeErr("remainder by zero")
	}
	if a.typ.IsSigned() && d.Cmp(big.NewInt(-1)) == 0 && a.Big().Cmp(intMin(a.typ)) == 0 {
		return Literal{}, rangeErr("rem overflows %s", a.typ)
	}
	return intWrap(a.typ, truncRem(a.Big(), d)), nil
}

// RemWrapped returns the remainder, mapping MIN % -1 to 0.
func RemWrapped(a, b Literal) (Literal, error) {
	if !sameInt(a, b) {
		return Literal{}, operandErr("rem.w", a, b)
	}
	d := b.Big()
	if d.Sign() == 0 {
		return Literal{}, rangeErr("remainder by zero")
	}
	return intWrap(a.typ, truncRem(a.Big(), d)), nil
}

// Mod returns the Euclidean remainder of two unsigned integers.
func Mod(a, b Literal) (Literal, error) {
	if !sameInt(a, b) || a.typ.IsSigned() {
		return Literal{}, operandErr("mod", a, b)
	}
	d := b.Big()
	if d.Sign() == 0 {
		return Literal{}, rangeErr("modulo by zero")
	}
	return intWrap(a.typ, new(big.Int).Mod(a.Big(), d)), nil
}

func isExponentType(t LiteralType) bool {
	return t == TypeU8 || t == TypeU16 || t == TypeU32
}

// Pow returns a^b. Integer exponents are u8, u16 or u32; field exponents are fields.
func Pow(a, b Literal) (Literal, error) {
	switch {
	case a.typ.IsInteger() && isExponentType(b.typ):
		base, exp := a.Big(), b.Big()
		switch {
		case exp.Sign() == 0:
			return intChecked(a.typ, big.NewInt(1), "pow")
		case base.Sign() == 0 || base.Cmp(bigOne) == 0:
			return intWrap(a.typ, base), nil
		case base.Cmp(big.NewInt(-1)) == 0:
			if exp.Bit(0) == 0 {
				return intWrap(a.typ, bigOne), nil
			}
			return intWrap(a.typ, base), nil
		case exp.Cmp(big.NewInt(int64(a.typ.Width()))) > 0:
			// |base| >= 2 so |base|^exp >= 2^exp exceeds every width.
			return Literal{}, rangeErr("pow overflows %s", a.typ)
		}
		return intChecked(a.typ, new(big.Int).Exp(base, exp, nil), "pow")
	case a.typ == TypeField && b.typ == TypeField:
		var e fr.Element
		e.Exp(a.field, fieldToBig(&b.field))
		return NewField(e), nil
	}
	return Literal{}, operandErr("pow", a, b)
}

// PowWrapped returns a^b modulo 2^width.
func PowWrapped(a, b Literal) (Literal, error) {
	if !a.typ.IsInteger() || !isExponentType(b.typ) {
		return Literal{}, operandErr("pow.w", a, b)
	}
	m := intModulus(a.typ)
	base := new(big.Int).Mod(a.Big(), m)
	return intWrap(a.typ, new(big.Int).Exp(base, b.Big(), m)), nil
}

// Shl shifts left, failing when the shift amount reaches the width.
func Shl(a, b Literal) (Literal, error) {
	if !a.typ.IsInteger() || !isExponentType(b.typ) {
		return Literal{}, operandErr("shl", a, b)
	}
	n := b.Big()
	if n.Cmp(big.NewInt(int64(a.typ.Width()))) >= 0 {
		return Literal{}, rangeErr("shl by %s overflows %s", n, a.typ)
	}
	return shiftLeft(a, uint(n.Uint64())), nil
}

// ShlWrapped shifts left by the amount modulo the width.
func ShlWrapped(a, b Literal) (Literal, error) {
	if !a.typ.IsInteger() || !isExponentType(b.typ) {
		return Literal{}, operandErr("shl.w", a, b)
	}
	return shiftLeft(a, uint(b.Uint64())%a.typ.Width()), nil
}

func shiftLeft(a Literal, n uint) Literal {
	var bits uint256.Int
	bits.Lsh(&a.bits, n)
	bits.And(&bits, intMask(a.typ))
	return Literal{typ: a.typ, bits: bits}
}

// Shr shifts right (arithmetic for signed types), failing when the shift
// amount reaches the width.
func Shr(a, b Literal) (Literal, error) {
	if !a.typ.IsInteger() || !isExponentType(b.typ) {
		return Literal{}, operandErr("shr", a, b)
	}
	n := b.Big()
	if n.Cmp(big.NewInt(int64(a.typ.Width()))) >= 0 {
		return Literal{}, rangeErr("shr by %s overflows %s", n, a.typ)
	}
	return shiftRight(a, uint(n.Uint64())), nil
}

// ShrWrapped shifts right by the amount modulo the width.
func ShrWrapped(a, b Literal) (Literal, error) {
	if !a.typ.IsInteger() || !isExponentType(b.typ) {
		return Literal{}, operandErr("shr.w", a, b)
	}
	return shiftRight(a, uint(b.Uint64())%a.typ.Width()), nil
}

func shiftRight(a Literal, n uint) Literal {
	v := a.Big()
	return intWrap(a.typ, v.Rsh(v, n))
}

func bitwise(op string, a, b Literal, boolFn func(x, y bool) bool, intFn func(z, x, y *uint256.Int) *uint256.Int) (Literal, error) {
	switch {
	case a.typ == TypeBoolean && b.typ == TypeBoolean:
		return NewBoolean(boolFn(a.b, b.b)), nil
	case sameInt(a, b) && intFn != nil:
		var bits uint256.Int
		intFn(&bits, &a.bits, &b.bits)
		bits.And(&bits, intMask(a.typ))
		return Literal{typ: a.typ, bits: bits}, nil
	}
	return Literal{}, operandErr(op, a, b)
}

// And returns the boolean or bitwise conjunction.
func And(a, b Literal) (Literal, error) {
	return bitwise("and", a, b, func(x, y bool) bool { return x && y }, (*uint256.Int).And)
}

// Or returns the boolean or bitwise disjunction.
func Or(a, b Literal) (Literal, error) {
	return bitwise("or", a, b, func(x, y bool) bool { return x || y }, (*uint256.Int).Or)
}

// Xor returns the boolean or bitwise exclusive or.
func Xor(a, b Literal) (Literal, error) {
	return bitwise("xor", a, b, func(x, y bool) bool { return x != y }, (*uint256.Int).Xor)
}

// Nand returns !(a && b) for booleans.
func Nand(a, b Literal) (Literal, error) {
	return bitwise("nand", a, b, func(x, y bool) bool { return !(x && y) }, nil)
}

// Nor returns !(a || b) for booleans.
func Nor(a, b Literal) (Literal, error) {
	return bitwise("nor", a, b, func(x, y bool) bool { return !(x || y) }, nil)
}

// Not returns the boolean or bitwise negation.
func Not(a Literal) (Literal, error) {
	switch {
	case a.typ == TypeBoolean:
		return NewBoolean(!a.b), nil
	case a.typ.IsInteger():
		var bits uint256.Int
		bits.Not(&a.bits)
		bits.And(&bits, intMask(a.typ))
		return Literal{typ: a.typ, bits: bits}, nil
	}
	return Literal{}, operandErr("not", a)
}

// Neg returns -a for fields, groups, scalars and signed integers.
func Neg(a Literal) (Literal, error) {
	switch {
	case a.typ.IsSigned():
		return intChecked(a.typ, new(big.Int).Neg(a.Big()), "neg")
	case a.typ == TypeField:
		var e fr.Element
		e.Neg(&a.field)
		return NewField(e), nil
	case a.typ == TypeGroup:
		var p twistededwards.PointAffine
		p.Neg(&a.point)
		return Literal{typ: TypeGroup, point: p}, nil
	case a.typ == TypeScalar:
		return scalarMod(new(big.Int).Neg(a.bits.ToBig())), nil
	}
	return Literal{}, operandErr("neg", a)
}

// Abs returns |a| for signed integers, failing for MIN.
func Abs(a Literal) (Literal, error) {
	if !a.typ.IsSigned() {
		return Literal{}, operandErr("abs", a)
	}
	return intChecked(a.typ, new(big.Int).Abs(a.Big()), "abs")
}

// AbsWrapped returns |a| with MIN mapping to MIN.
func AbsWrapped(a Literal) (Literal, error) {
	if !a.typ.IsSigned() {
		return Literal{}, operandErr("abs.w", a)
	}
	return intWrap(a.typ, new(big.Int).Abs(a.Big())), nil
}

// Double returns a+a for fields and groups.
func Double(a Literal) (Literal, error) {
	switch a.typ {
	case TypeField:
		var e fr.Element
		e.Double(&a.field)
		return NewField(e), nil
	case TypeGroup:
		var p twistededwards.PointAffine
		p.Double(&a.point)
		return Literal{typ: TypeGroup, point: p}, nil
	}
	return Literal{}, operandErr("double", a)
}

// Square returns a*a for fields.
func Square(a Literal) (Literal, error) {
	if a.typ != TypeField {
		return Literal{}, operandErr("square", a)
	}
	var e fr.Element
	e.Square(&a.field)
	return NewField(e), nil
}

// Inv returns the multiplicative inverse of a field element.
func Inv(a Literal) (Literal, error) {
	if a.typ != TypeField {
		return Literal{}, operandErr("inv", a)
	}
	if a.field.IsZero() {
		return Literal{}, rangeErr("inverse of zero")
	}
	var e fr.Element
	e.Inverse(&a.field)
	return NewField(e), nil
}

// Sqrt returns the smaller square root of a field element.
func Sqrt(a Literal) (Literal, error) {
	if a.typ != TypeField {
		return Literal{}, operandErr("sqrt", a)
	}
	var e fr.Element
	if e.Sqrt(&a.field) == nil {
		return Literal{}, rangeErr("field element has no square root")
	}
	var neg fr.Element
	neg.Neg(&e)
	if neg.Cmp(&e) < 0 {
		e = neg
	}
	return NewField(e), nil
}

func orderable(a, b Literal) bool {
	if a.typ != b.typ {
		return false
	}
	return a.typ.IsInteger() || a.typ == TypeField || a.typ == TypeScalar
}

func compare(op string, a, b Literal, accept func(int) bool) (Literal, error) {
	if !orderable(a, b) {
		return Literal{}, operandErr(op, a, b)
	}
	return NewBoolean(accept(a.Big().Cmp(b.Big()))), nil
}

// GreaterThan returns a > b.
func GreaterThan(a, b Literal) (Literal, error) {
	return compare("gt", a, b, func(c int) bool { return c > 0 })
}

// GreaterThanOrEqual returns a >= b.
func GreaterThanOrEqual(a, b Literal) (Literal, error) {
	return compare("gte", a, b, func(c int) bool { return c >= 0 })
}

// LessThan returns a < b.
func LessThan(a, b Literal) (Literal, error) {
	return compare("lt", a, b, func(c int) bool { return c < 0 })
}

// LessThanOrEqual returns a <= b.
func LessThanOrEqual(a, b Literal) (Literal, error) {
	return compare("lte", a, b, func(c int) bool { return c <= 0 })
}

func scalarMod(v *big.Int) Literal {
	v.Mod(v, scalarOrderRef())
	var bits uint256.Int
	bits.SetFromBig(v)
	return Literal{typ: TypeScalar, bits: bits}
}
