package value

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bls12-377/twistededwards"
	"github.com/holiman/uint256"
)

// Canonical encoding.
//
//	value     = kind:u8 body
//	plaintext = 0x00 literal | 0x01 count:u8 (name plaintext)*
//	literal   = type:u8 payload
//	record    = program name owner_vis:u8 owner:32 count:u8 (name vis:u8 plaintext)* nonce:32
//	future    = program function count:u8 value*
//	name      = len:u8 bytes
//
// Integers are width/8 little-endian bytes of the two's-complement pattern;
// field and scalar are 32 little-endian bytes; group and address are the
// 32-byte compressed point; strings are len:u16 followed by the bytes.

const (
	plaintextLiteral byte = 0
	plaintextStruct  byte = 1

	// maxMembers bounds struct members, record entries and future arguments.
	maxMembers = 32
)

// ErrMalformedEncoding is returned when decoding non-canonical bytes.
var ErrMalformedEncoding = errors.New("malformed value encoding")

// Encode returns the canonical encoding of v.
func Encode(v Value) []byte {
	buf := []byte{byte(v.Kind())}
	return v.appendBody(buf)
}

// EncodePlaintext returns the canonical encoding of a plaintext without the
// kind byte. Mapping keys and values use this form.
func EncodePlaintext(p Plaintext) []byte {
	return p.appendBody(nil)
}

func (p Plaintext) appendBody(buf []byte) []byte {
	if !p.isStruct {
		buf = append(buf, plaintextLiteral)
		return p.lit.appendTo(buf)
	}
	buf = append(buf, plaintextStruct, byte(len(p.members)))
	for _, m := range p.members {
		buf = appendName(buf, m.Name)
		buf = m.Value.appendBody(buf)
	}
	return buf
}

func (r *Record) appendBody(buf []byte) []byte {
	buf = appendName(buf, r.program)
	buf = appendName(buf, r.name)
	buf = append(buf, byte(r.ownerVis))
	buf = appendPoint(buf, r.owner.point)
	buf = append(buf, byte(len(r.entries)))
	for _, e := range r.entries {
		buf = appendName(buf, e.Name)
		buf = append(buf, byte(e.Visibility))
		buf = e.Value.appendBody(buf)
	}
	return appendPoint(buf, r.nonce.point)
}

func (f *Future) appendBody(buf []byte) []byte {
	buf = appendName(buf, f.program)
	buf = appendName(buf, f.function)
	buf = append(buf, byte(len(f.args)))
	for _, a := range f.args {
		buf = append(buf, byte(a.Kind()))
		buf = a.appendBody(buf)
	}
	return buf
}

func (l Literal) appendTo(buf []byte) []byte {
	buf = append(buf, byte(l.typ))
	switch {
	case l.typ == TypeBoolean:
		if l.b {
			return append(buf, 1)
		}
		return append(buf, 0)
	case l.typ.IsInteger():
		be := l.bits.Bytes32()
		n := int(l.typ.Width() / 8)
		for i := 0; i < n; i++ {
			buf = append(buf, be[31-i])
		}
		return buf
	case l.typ == TypeField:
		le := fieldLE(&l.field)
		return append(buf, le[:]...)
	case l.typ == TypeScalar:
		be := l.bits.Bytes32()
		for i := 31; i >= 0; i-- {
			buf = append(buf, be[i])
		}
		return buf
	case l.typ == TypeGroup || l.typ == TypeAddress:
		return appendPoint(buf, l.point)
	case l.typ == TypeString:
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(l.str)))
		return append(buf, l.str...)
	}
	return buf
}

func appendName(buf []byte, s string) []byte {
	buf = append(buf, byte(len(s)))
	return append(buf, s...)
}

func appendPoint(buf []byte, p twistededwards.PointAffine) []byte {
	b := p.Bytes()
	return append(buf, b[:]...)
}

// Decode parses a canonical encoding produced by Encode. Trailing bytes are
// rejected.
func Decode(b []byte) (Value, error) {
	d := &decoder{buf: b}
	v, err := d.value(0)
	if err != nil {
		return nil, err
	}
	if d.pos != len(d.buf) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedEncoding, len(d.buf)-d.pos)
	}
	return v, nil
}

// DecodePlaintext parses the output of EncodePlaintext.
func DecodePlaintext(b []byte) (Plaintext, error) {
	d := &decoder{buf: b}
	p, err := d.plaintext(0)
	if err != nil {
		return Plaintext{}, err
	}
	if d.pos != len(d.buf) {
		return Plaintext{}, fmt.Errorf("%w: %d trailing bytes", ErrMalformedEncoding, len(d.buf)-d.pos)
	}
	return p, nil
}

// maxDepth bounds nesting while decoding untrusted input.
const maxDepth = 32

type decoder struct {
	buf []byte
	pos int
}

func (d *decoder) take(n int) ([]byte, error) {
	if n < 0 || d.pos+n > len(d.buf) {
		return nil, fmt.Errorf("%w: unexpected end of input", ErrMalformedEncoding)
	}
	out := d.buf[d.pos : d.pos+n]
	d.pos += n
	return out, nil
}

func (d *decoder) u8() (byte, error) {
	b, err := d.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *decoder) name() (string, error) {
	n, err := d.u8()
	if err != nil {
		return "", err
	}
	b, err := d.take(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *decoder) visibility() (Visibility, error) {
	b, err := d.u8()
	if err != nil {
		return 0, err
	}
	if Visibility(b) > Constant {
		return 0, fmt.Errorf("%w: visibility %d", ErrMalformedEncoding, b)
	}
	return Visibility(b), nil
}

func (d *decoder) value(depth int) (Value, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: nesting too deep", ErrMalformedEncoding)
	}
	k, err := d.u8()
	if err != nil {
		return nil, err
	}
	switch Kind(k) {
	case KindPlaintext:
		return d.plaintext(depth)
	case KindRecord:
		return d.record()
	case KindFuture:
		return d.future(depth)
	}
	return nil, fmt.Errorf("%w: unknown value kind %d", ErrMalformedEncoding, k)
}

func (d *decoder) plaintext(depth int) (Plaintext, error) {
	if depth > maxDepth {
		return Plaintext{}, fmt.Errorf("%w: nesting too deep", ErrMalformedEncoding)
	}
	tag, err := d.u8()
	if err != nil {
		return Plaintext{}, err
	}
	switch tag {
	case plaintextLiteral:
		l, err := d.literal()
		if err != nil {
			return Plaintext{}, err
		}
		return LiteralPlaintext(l), nil
	case plaintextStruct:
		n, err := d.u8()
		if err != nil {
			return Plaintext{}, err
		}
		members := make([]Member, 0, n)
		for i := 0; i < int(n); i++ {
			name, err := d.name()
			if err != nil {
				return Plaintext{}, err
			}
			v, err := d.plaintext(depth + 1)
			if err != nil {
				return Plaintext{}, err
			}
			members = append(members, Member{Name: name, Value: v})
		}
		p, err := NewStruct(members...)
		if err != nil {
			return Plaintext{}, fmt.Errorf("%w: %v", ErrMalformedEncoding, err)
		}
		return p, nil
	}
	return Plaintext{}, fmt.Errorf("%w: unknown plaintext tag %d", ErrMalformedEncoding, tag)
}

func (d *decoder) literal() (Literal, error) {
	tb, err := d.u8()
	if err != nil {
		return Literal{}, err
	}
	t := LiteralType(tb)
	switch {
	case t == TypeBoolean:
		b, err := d.u8()
		if err != nil {
			return Literal{}, err
		}
		if b > 1 {
			return Literal{}, fmt.Errorf("%w: boolean byte %d", ErrMalformedEncoding, b)
		}
		return NewBoolean(b == 1), nil
	case t.IsInteger():
		n := int(t.Width() / 8)
		le, err := d.take(n)
		if err != nil {
			return Literal{}, err
		}
		var bits uint256.Int
		bits.SetBytes(reverse(le))
		return Literal{typ: t, bits: bits}, nil
	case t == TypeField:
		le, err := d.take(32)
		if err != nil {
			return Literal{}, err
		}
		e, ok := fieldFromLE(le)
		if !ok {
			return Literal{}, fmt.Errorf("%w: non-canonical field element", ErrMalformedEncoding)
		}
		return NewField(e), nil
	case t == TypeScalar:
		le, err := d.take(32)
		if err != nil {
			return Literal{}, err
		}
		l, err := NewScalar(new(big.Int).SetBytes(reverse(le)))
		if err != nil {
			return Literal{}, fmt.Errorf("%w: %v", ErrMalformedEncoding, err)
		}
		return l, nil
	case t == TypeGroup || t == TypeAddress:
		p, err := d.point()
		if err != nil {
			return Literal{}, err
		}
		return Literal{typ: t, point: p}, nil
	case t == TypeString:
		nb, err := d.take(2)
		if err != nil {
			return Literal{}, err
		}
		s, err := d.take(int(binary.LittleEndian.Uint16(nb)))
		if err != nil {
			return Literal{}, err
		}
		l, err := NewString(string(s))
		if err != nil {
			return Literal{}, fmt.Errorf("%w: %v", ErrMalformedEncoding, err)
		}
		return l, nil
	}
	return Literal{}, fmt.Errorf("%w: unknown literal type %d", ErrMalformedEncoding, tb)
}

func (d *decoder) point() (twistededwards.PointAffine, error) {
	var p twistededwards.PointAffine
	b, err := d.take(32)
	if err != nil {
		return p, err
	}
	if _, err := p.SetBytes(b); err != nil {
		return p, fmt.Errorf("%w: %v", ErrMalformedEncoding, err)
	}
	if !inSubgroup(&p) {
		return p, fmt.Errorf("%w: point not in subgroup", ErrMalformedEncoding)
	}
	return p, nil
}

func (d *decoder) record() (*Record, error) {
	program, err := d.name()
	if err != nil {
		return nil, err
	}
	name, err := d.name()
	if err != nil {
		return nil, err
	}
	vis, err := d.visibility()
	if err != nil {
		return nil, err
	}
	owner, err := d.point()
	if err != nil {
		return nil, err
	}
	n, err := d.u8()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, n)
	for i := 0; i < int(n); i++ {
		en, err := d.name()
		if err != nil {
			return nil, err
		}
		ev, err := d.visibility()
		if err != nil {
			return nil, err
		}
		pv, err := d.plaintext(1)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Name: en, Visibility: ev, Value: pv})
	}
	nonce, err := d.point()
	if err != nil {
		return nil, err
	}
	r, err := NewRecord(program, name,
		Literal{typ: TypeAddress, point: owner}, vis,
		entries, Literal{typ: TypeGroup, point: nonce})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEncoding, err)
	}
	return r, nil
}

func (d *decoder) future(depth int) (*Future, error) {
	program, err := d.name()
	if err != nil {
		return nil, err
	}
	function, err := d.name()
	if err != nil {
		return nil, err
	}
	n, err := d.u8()
	if err != nil {
		return nil, err
	}
	args := make([]Value, 0, n)
	for i := 0; i < int(n); i++ {
		v, err := d.value(depth + 1)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	f, err := NewFuture(program, function, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEncoding, err)
	}
	return f, nil
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[i] = b[len(b)-1-i]
	}
	return out
}
