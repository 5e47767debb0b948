// Package value implements the typed runtime values of the VM.
//
// A Value is one of three variants:
//   - Plaintext: a literal (field, group, scalar, address, boolean, integer,
//     string) or a struct of named plaintext members;
//   - Record: an owned private structured value carrying a content checksum;
//   - Future: a deferred finalize continuation with its bound arguments.
//
// Values are immutable. Equality is structural and serialization is canonical
// (fixed field order, little-endian lengths), so content-derived identifiers
// are reproducible across implementations.
package value

import (
	"fmt"
	"strings"

	"github.com/fortiblox/X1-Strata/internal/types"
)

// LiteralType enumerates the scalar plaintext types.
type LiteralType uint8

const (
	TypeAddress LiteralType = iota
	TypeBoolean
	TypeField
	TypeGroup
	TypeI8
	TypeI16
	TypeI32
	TypeI64
	TypeI128
	TypeU8
	TypeU16
	TypeU32
	TypeU64
	TypeU128
	TypeScalar
	TypeString

	numLiteralTypes
)

var literalTypeNames = [numLiteralTypes]string{
	TypeAddress: "address",
	TypeBoolean: "boolean",
	TypeField:   "field",
	TypeGroup:   "group",
	TypeI8:      "i8",
	TypeI16:     "i16",
	TypeI32:     "i32",
	TypeI64:     "i64",
	TypeI128:    "i128",
	TypeU8:      "u8",
	TypeU16:     "u16",
	TypeU32:     "u32",
	TypeU64:     "u64",
	TypeU128:    "u128",
	TypeScalar:  "scalar",
	TypeString:  "string",
}

// MaxStringBytes bounds string literals.
const MaxStringBytes = 255

// String returns the type keyword.
func (t LiteralType) String() string {
	if t >= numLiteralTypes {
		return fmt.Sprintf("literal(%d)", uint8(t))
	}
	return literalTypeNames[t]
}

// Valid reports whether t is a known literal type.
func (t LiteralType) Valid() bool {
	return t < numLiteralTypes
}

// ParseLiteralType parses a type keyword such as "u8" or "field".
func ParseLiteralType(s string) (LiteralType, bool) {
	for i, name := range literalTypeNames {
		if name == s {
			return LiteralType(i), true
		}
	}
	return 0, false
}

// IsInteger reports whether t is one of the fixed-width integer types.
func (t LiteralType) IsInteger() bool {
	return t >= TypeI8 && t <= TypeU128
}

// IsSigned reports whether t is a signed integer type.
func (t LiteralType) IsSigned() bool {
	return t >= TypeI8 && t <= TypeI128
}

// Width returns the bit width of an integer type, and 0 for other types.
func (t LiteralType) Width() uint {
	switch t {
	case TypeI8, TypeU8:
		return 8
	case TypeI16, TypeU16:
		return 16
	case TypeI32, TypeU32:
		return 32
	case TypeI64, TypeU64:
		return 64
	case TypeI128, TypeU128:
		return 128
	default:
		return 0
	}
}

// Visibility is the declared visibility of an input, output or record entry.
type Visibility uint8

const (
	Private Visibility = iota
	Public
	Constant
)

// String returns the visibility keyword.
func (v Visibility) String() string {
	switch v {
	case Public:
		return "public"
	case Constant:
		return "constant"
	default:
		return "private"
	}
}

// ParseVisibility parses "private", "public" or "constant". The empty string is private.
func ParseVisibility(s string) (Visibility, error) {
	switch s {
	case "", "private":
		return Private, nil
	case "public":
		return Public, nil
	case "constant":
		return Constant, nil
	default:
		return 0, fmt.Errorf("unknown visibility %q", s)
	}
}

// PlaintextType is either a literal type or a named struct.
type PlaintextType struct {
	Literal LiteralType
	Struct  string
}

// LiteralOf returns the plaintext type of a literal.
func LiteralOf(t LiteralType) PlaintextType {
	return PlaintextType{Literal: t}
}

// StructOf returns the plaintext type of a named struct.
func StructOf(name string) PlaintextType {
	return PlaintextType{Struct: name}
}

// IsStruct reports whether the type names a struct.
func (t PlaintextType) IsStruct() bool {
	return t.Struct != ""
}

func (t PlaintextType) String() string {
	if t.IsStruct() {
		return t.Struct
	}
	return t.Literal.String()
}

// Kind distinguishes the Value variants.
type Kind uint8

const (
	KindPlaintext Kind = iota
	KindRecord
	KindFuture
)

func (k Kind) String() string {
	switch k {
	case KindPlaintext:
		return "plaintext"
	case KindRecord:
		return "record"
	case KindFuture:
		return "future"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Type is the static type of a register: a plaintext type, a record name, or
// a future bound to a finalize block.
type Type struct {
	Kind      Kind
	Plaintext PlaintextType
	Record    string
	Future    types.Locator
}

// PlaintextTypeOf wraps a plaintext type.
func PlaintextTypeOf(t PlaintextType) Type {
	return Type{Kind: KindPlaintext, Plaintext: t}
}

// RecordType returns the type of a record named name.
func RecordType(name string) Type {
	return Type{Kind: KindRecord, Record: name}
}

// FutureType returns the type of a future bound to program/function.
func FutureType(program, function string) Type {
	return Type{Kind: KindFuture, Future: types.Locator{Program: program, Resource: function}}
}

func (t Type) String() string {
	switch t.Kind {
	case KindRecord:
		return t.Record + ".record"
	case KindFuture:
		return t.Future.String() + ".future"
	default:
		return t.Plaintext.String()
	}
}

// ParseType parses a type string. Accepted forms:
//
//	u8, field, ...            literal
//	point                     struct
//	token.record              record
//	child.aleo/foo.future     future
func ParseType(s string) (Type, error) {
	s = strings.TrimSpace(s)
	if name, ok := strings.CutSuffix(s, ".future"); ok {
		loc, err := types.ParseLocator(name)
		if err != nil {
			return Type{}, fmt.Errorf("future type %q: %w", s, err)
		}
		return Type{Kind: KindFuture, Future: loc}, nil
	}
	if name, ok := strings.CutSuffix(s, ".record"); ok {
		if err := types.ValidateIdentifier(name); err != nil {
			return Type{}, fmt.Errorf("record type %q: %w", s, err)
		}
		return RecordType(name), nil
	}
	pt, err := ParsePlaintextType(s)
	if err != nil {
		return Type{}, err
	}
	return PlaintextTypeOf(pt), nil
}

// ParsePlaintextType parses a literal keyword or a struct name.
func ParsePlaintextType(s string) (PlaintextType, error) {
	if lt, ok := ParseLiteralType(s); ok {
		return LiteralOf(lt), nil
	}
	if err := types.ValidateIdentifier(s); err != nil {
		return PlaintextType{}, fmt.Errorf("plaintext type %q: %w", s, err)
	}
	return StructOf(s), nil
}
