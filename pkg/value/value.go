package value

import (
	"fmt"

	"github.com/fortiblox/X1-Strata/internal/types"
	"github.com/fortiblox/X1-Strata/pkg/vmerr"
)

// Value is a runtime value: Plaintext, *Record or *Future.
type Value interface {
	Kind() Kind
	Equal(Value) bool
	String() string

	appendBody(buf []byte) []byte
}

var (
	_ Value = Plaintext{}
	_ Value = (*Record)(nil)
	_ Value = (*Future)(nil)
)

func kindOf(v Value) string {
	if v == nil {
		return "nil"
	}
	return v.Kind().String()
}

func domainOf(k Kind) string {
	switch k {
	case KindRecord:
		return types.DomainRecord
	case KindFuture:
		return types.DomainFuture
	default:
		return types.DomainPlaintext
	}
}

// ID returns the content identifier of v: the domain-separated hash of its
// canonical encoding. The domain depends on the variant.
func ID(v Value) types.Hash {
	return types.HashWithDomain(domainOf(v.Kind()), Encode(v))
}

// OutputID returns the identifier of the index-th output of a transition.
// Unlike ID it binds the value to its position in the transition.
func OutputID(transition types.Hash, index int, v Value) types.Hash {
	return types.HashWithDomain(types.DomainOutput, transition.Bytes(), u16le(index), Encode(v))
}

// InputID returns the identifier of the index-th input of a call, bound to
// the call site seed.
func InputID(seed types.Hash, index int, v Value) types.Hash {
	return types.HashWithDomain(types.DomainInput, seed.Bytes(), u16le(index), Encode(v))
}

func u16le(i int) []byte {
	return []byte{byte(i), byte(i >> 8)}
}

// AsLiteral unwraps a literal plaintext.
func AsLiteral(v Value) (Literal, error) {
	p, ok := v.(Plaintext)
	if !ok {
		return Literal{}, fmt.Errorf("%w: expected a literal, got %s", vmerr.ErrTypeOrRange, kindOf(v))
	}
	l, ok := p.Literal()
	if !ok {
		return Literal{}, fmt.Errorf("%w: expected a literal, got a struct", vmerr.ErrTypeOrRange)
	}
	return l, nil
}

// Lit wraps a literal as a Value.
func Lit(l Literal) Value {
	return LiteralPlaintext(l)
}

// Ternary returns a when cond is true and b otherwise. Both branches must be
// of the same variant.
func Ternary(cond Literal, a, b Value) (Value, error) {
	if cond.Type() != TypeBoolean {
		return nil, fmt.Errorf("%w: ternary condition must be boolean, got %s", vmerr.ErrTypeOrRange, cond.Type())
	}
	if a.Kind() != b.Kind() {
		return nil, fmt.Errorf("%w: ternary branches differ: %s and %s", vmerr.ErrTypeOrRange, a.Kind(), b.Kind())
	}
	if cond.Bool() {
		return a, nil
	}
	return b, nil
}

// IsEq returns the boolean literal a == b under structural equality.
func IsEq(a, b Value) Literal {
	return NewBoolean(a.Equal(b))
}

// IsNeq returns the boolean literal a != b under structural equality.
func IsNeq(a, b Value) Literal {
	return NewBoolean(!a.Equal(b))
}
