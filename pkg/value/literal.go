package value

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/twistededwards"
	"github.com/holiman/uint256"
	"github.com/mr-tron/base58"

	"github.com/fortiblox/X1-Strata/pkg/vmerr"
)

// AddressPrefix prefixes the text form of addresses.
const AddressPrefix = "aleo1"

// ErrInvalidLiteral is returned for unparseable literal text.
var ErrInvalidLiteral = errors.New("invalid literal")

// Literal is a typed scalar plaintext. The zero value is the boolean false.
//
// Integers are stored as their two's-complement bit pattern masked to the
// type's width. Addresses and groups are subgroup points.
type Literal struct {
	typ   LiteralType
	b     bool
	bits  uint256.Int
	field fr.Element
	point twistededwards.PointAffine
	str   string
}

// NewBoolean returns a boolean literal.
func NewBoolean(b bool) Literal {
	return Literal{typ: TypeBoolean, b: b}
}

// NewField returns a field literal.
func NewField(e fr.Element) Literal {
	return Literal{typ: TypeField, field: e}
}

// NewFieldFromUint64 returns the field literal v.
func NewFieldFromUint64(v uint64) Literal {
	var e fr.Element
	e.SetUint64(v)
	return NewField(e)
}

// NewFieldFromBig returns v reduced into the field.
func NewFieldFromBig(v *big.Int) Literal {
	m := new(big.Int).Mod(v, FieldModulus())
	return NewField(fieldFromBig(m))
}

// NewScalar returns the scalar literal v, which must be in [0, order).
func NewScalar(v *big.Int) (Literal, error) {
	if v.Sign() < 0 || v.Cmp(scalarOrderRef()) >= 0 {
		return Literal{}, fmt.Errorf("%w: scalar %s out of range", vmerr.ErrTypeOrRange, v)
	}
	var bits uint256.Int
	bits.SetFromBig(v)
	return Literal{typ: TypeScalar, bits: bits}, nil
}

// NewGroup returns a group literal. p must be a subgroup point.
func NewGroup(p twistededwards.PointAffine) (Literal, error) {
	if !inSubgroup(&p) {
		return Literal{}, fmt.Errorf("%w: point is not in the subgroup", vmerr.ErrTypeOrRange)
	}
	return Literal{typ: TypeGroup, point: p}, nil
}

// NewAddress returns an address literal for the subgroup point p.
func NewAddress(p twistededwards.PointAffine) (Literal, error) {
	g, err := NewGroup(p)
	if err != nil {
		return Literal{}, err
	}
	g.typ = TypeAddress
	return g, nil
}

// AddressFromSeed derives a deterministic address as seed*G. Used for
// test accounts and genesis configuration.
func AddressFromSeed(seed uint64) Literal {
	k := new(big.Int).SetUint64(seed)
	k.Mod(k, scalarOrderRef())
	if k.Sign() == 0 {
		k.SetUint64(1)
	}
	return Literal{typ: TypeAddress, point: scalarMulGenerator(k)}
}

// NewString returns a string literal.
func NewString(s string) (Literal, error) {
	if len(s) > MaxStringBytes {
		return Literal{}, fmt.Errorf("%w: string of %d bytes exceeds %d", vmerr.ErrTypeOrRange, len(s), MaxStringBytes)
	}
	return Literal{typ: TypeString, str: s}, nil
}

// NewInteger returns the integer literal v of type t, failing if v does not fit.
func NewInteger(t LiteralType, v *big.Int) (Literal, error) {
	if !t.IsInteger() {
		return Literal{}, fmt.Errorf("%w: %s is not an integer type", vmerr.ErrTypeOrRange, t)
	}
	if !intFits(t, v) {
		return Literal{}, fmt.Errorf("%w: %s does not fit in %s", vmerr.ErrTypeOrRange, v, t)
	}
	return intWrap(t, v), nil
}

// NewU64 is a convenience constructor for u64 literals.
func NewU64(v uint64) Literal {
	l, _ := NewInteger(TypeU64, new(big.Int).SetUint64(v))
	return l
}

// NewU8 is a convenience constructor for u8 literals.
func NewU8(v uint8) Literal {
	l, _ := NewInteger(TypeU8, big.NewInt(int64(v)))
	return l
}

// NewU32 is a convenience constructor for u32 literals.
func NewU32(v uint32) Literal {
	l, _ := NewInteger(TypeU32, big.NewInt(int64(v)))
	return l
}

// Type returns the literal type.
func (l Literal) Type() LiteralType {
	return l.typ
}

// Bool returns the boolean payload.
func (l Literal) Bool() bool {
	return l.b
}

// FieldElement returns the field payload.
func (l Literal) FieldElement() fr.Element {
	return l.field
}

// Point returns the group or address point.
func (l Literal) Point() twistededwards.PointAffine {
	return l.point
}

// Str returns the string payload.
func (l Literal) Str() string {
	return l.str
}

// Big returns the numeric value of an integer (signed interpretation), scalar
// or field literal. Booleans map to 0/1.
func (l Literal) Big() *big.Int {
	switch {
	case l.typ.IsInteger():
		return intValue(l.typ, &l.bits)
	case l.typ == TypeScalar:
		return l.bits.ToBig()
	case l.typ == TypeField:
		return fieldToBig(&l.field)
	case l.typ == TypeBoolean:
		if l.b {
			return big.NewInt(1)
		}
		return big.NewInt(0)
	case l.typ == TypeGroup || l.typ == TypeAddress:
		return fieldToBig(&l.point.X)
	default:
		return new(big.Int)
	}
}

// Uint64 returns the low 64 bits of an integer literal's bit pattern.
func (l Literal) Uint64() uint64 {
	return l.bits.Uint64()
}

// Equal reports structural equality.
func (l Literal) Equal(o Literal) bool {
	if l.typ != o.typ {
		return false
	}
	switch {
	case l.typ == TypeBoolean:
		return l.b == o.b
	case l.typ.IsInteger() || l.typ == TypeScalar:
		return l.bits.Eq(&o.bits)
	case l.typ == TypeField:
		return l.field.Equal(&o.field)
	case l.typ == TypeGroup || l.typ == TypeAddress:
		return l.point.X.Equal(&o.point.X) && l.point.Y.Equal(&o.point.Y)
	case l.typ == TypeString:
		return l.str == o.str
	default:
		return false
	}
}

// String renders the literal in its canonical text form.
func (l Literal) String() string {
	switch {
	case l.typ == TypeBoolean:
		return strconv.FormatBool(l.b)
	case l.typ.IsInteger():
		return l.Big().String() + l.typ.String()
	case l.typ == TypeField:
		return fieldToBig(&l.field).String() + "field"
	case l.typ == TypeScalar:
		return l.bits.ToBig().String() + "scalar"
	case l.typ == TypeGroup:
		return fieldToBig(&l.point.X).String() + "group"
	case l.typ == TypeAddress:
		b := l.point.Bytes()
		return AddressPrefix + base58.Encode(b[:])
	case l.typ == TypeString:
		return strconv.Quote(l.str)
	default:
		return "<invalid>"
	}
}

// integer suffixes, longest first so "u128" wins over "u16" style prefixes.
var integerSuffixes = []LiteralType{TypeI128, TypeU128, TypeI16, TypeI32, TypeI64, TypeU16, TypeU32, TypeU64, TypeI8, TypeU8}

// ParseLiteral parses the canonical text form of a literal.
func ParseLiteral(s string) (Literal, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "true":
		return NewBoolean(true), nil
	case s == "false":
		return NewBoolean(false), nil
	case strings.HasPrefix(s, AddressPrefix):
		return parseAddress(s)
	case strings.HasPrefix(s, `"`):
		str, err := strconv.Unquote(s)
		if err != nil {
			return Literal{}, fmt.Errorf("%w: %q: %v", ErrInvalidLiteral, s, err)
		}
		return NewString(str)
	case strings.HasSuffix(s, "field"):
		v, err := parseDecimal(strings.TrimSuffix(s, "field"))
		if err != nil {
			return Literal{}, fmt.Errorf("%w: %q", ErrInvalidLiteral, s)
		}
		if v.Sign() >= 0 && v.Cmp(FieldModulus()) >= 0 {
			return Literal{}, fmt.Errorf("%w: field literal %q exceeds modulus", vmerr.ErrTypeOrRange, s)
		}
		return NewFieldFromBig(v), nil
	case strings.HasSuffix(s, "scalar"):
		v, err := parseDecimal(strings.TrimSuffix(s, "scalar"))
		if err != nil {
			return Literal{}, fmt.Errorf("%w: %q", ErrInvalidLiteral, s)
		}
		return NewScalar(v)
	case strings.HasSuffix(s, "group"):
		v, err := parseDecimal(strings.TrimSuffix(s, "group"))
		if err != nil {
			return Literal{}, fmt.Errorf("%w: %q", ErrInvalidLiteral, s)
		}
		x := NewFieldFromBig(v)
		return Cast(x, TypeGroup)
	}
	for _, t := range integerSuffixes {
		suffix := t.String()
		if !strings.HasSuffix(s, suffix) {
			continue
		}
		v, err := parseDecimal(strings.TrimSuffix(s, suffix))
		if err != nil {
			return Literal{}, fmt.Errorf("%w: %q", ErrInvalidLiteral, s)
		}
		return NewInteger(t, v)
	}
	return Literal{}, fmt.Errorf("%w: %q", ErrInvalidLiteral, s)
}

// MustParseLiteral is ParseLiteral for fixtures and tests; it panics on error.
func MustParseLiteral(s string) Literal {
	l, err := ParseLiteral(s)
	if err != nil {
		panic(err)
	}
	return l
}

func parseDecimal(s string) (*big.Int, error) {
	s = strings.ReplaceAll(s, "_", "")
	if s == "" || s == "-" {
		return nil, ErrInvalidLiteral
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, ErrInvalidLiteral
	}
	return v, nil
}

func parseAddress(s string) (Literal, error) {
	raw, err := base58.Decode(strings.TrimPrefix(s, AddressPrefix))
	if err != nil {
		return Literal{}, fmt.Errorf("%w: address %q: %v", ErrInvalidLiteral, s, err)
	}
	var p twistededwards.PointAffine
	if _, err := p.SetBytes(raw); err != nil {
		return Literal{}, fmt.Errorf("%w: address %q: %v", ErrInvalidLiteral, s, err)
	}
	return NewAddress(p)
}
