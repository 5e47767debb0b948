package value

import (
	"fmt"
	"strings"

	"github.com/fortiblox/X1-Strata/internal/types"
)

// Member is one named field of a struct plaintext.
type Member struct {
	Name  string
	Value Plaintext
}

// Plaintext is a public typed value: either a literal or an ordered struct of
// named plaintext members.
type Plaintext struct {
	lit      Literal
	members  []Member
	isStruct bool
}

// LiteralPlaintext wraps a literal.
func LiteralPlaintext(l Literal) Plaintext {
	return Plaintext{lit: l}
}

// NewStruct builds a struct plaintext from ordered members. Member names must
// be unique identifiers.
func NewStruct(members ...Member) (Plaintext, error) {
	if len(members) == 0 {
		return Plaintext{}, fmt.Errorf("struct must have at least one member")
	}
	if len(members) > maxMembers {
		return Plaintext{}, fmt.Errorf("struct has %d members, limit is %d", len(members), maxMembers)
	}
	seen := make(map[string]bool, len(members))
	out := make([]Member, len(members))
	for i, m := range members {
		if err := types.ValidateIdentifier(m.Name); err != nil {
			return Plaintext{}, err
		}
		if seen[m.Name] {
			return Plaintext{}, fmt.Errorf("duplicate struct member %q", m.Name)
		}
		seen[m.Name] = true
		out[i] = m
	}
	return Plaintext{members: out, isStruct: true}, nil
}

// Kind implements Value.
func (p Plaintext) Kind() Kind { return KindPlaintext }

// IsStruct reports whether p is a struct.
func (p Plaintext) IsStruct() bool { return p.isStruct }

// Literal returns the literal payload and false when p is a struct.
func (p Plaintext) Literal() (Literal, bool) {
	return p.lit, !p.isStruct
}

// Members returns a copy of the struct members.
func (p Plaintext) Members() []Member {
	out := make([]Member, len(p.members))
	copy(out, p.members)
	return out
}

// Member returns the member named name.
func (p Plaintext) Member(name string) (Plaintext, bool) {
	for _, m := range p.members {
		if m.Name == name {
			return m.Value, true
		}
	}
	return Plaintext{}, false
}

// Equal implements Value.
func (p Plaintext) Equal(v Value) bool {
	o, ok := v.(Plaintext)
	if !ok || p.isStruct != o.isStruct {
		return false
	}
	if !p.isStruct {
		return p.lit.Equal(o.lit)
	}
	if len(p.members) != len(o.members) {
		return false
	}
	for i := range p.members {
		if p.members[i].Name != o.members[i].Name || !p.members[i].Value.Equal(o.members[i].Value) {
			return false
		}
	}
	return true
}

// String renders literals in their text form and structs as "{ a: 1u8, b: true }".
func (p Plaintext) String() string {
	if !p.isStruct {
		return p.lit.String()
	}
	var sb strings.Builder
	sb.WriteString("{ ")
	for i, m := range p.members {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(m.Name)
		sb.WriteString(": ")
		sb.WriteString(m.Value.String())
	}
	sb.WriteString(" }")
	return sb.String()
}

// ParsePlaintext parses a literal or a struct in the form produced by String.
func ParsePlaintext(s string) (Plaintext, error) {
	p := &plaintextParser{src: s}
	v, err := p.parse()
	if err != nil {
		return Plaintext{}, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return Plaintext{}, fmt.Errorf("%w: trailing input in %q", ErrInvalidLiteral, s)
	}
	return v, nil
}

// MustParsePlaintext is ParsePlaintext for fixtures and tests; it panics on error.
func MustParsePlaintext(s string) Plaintext {
	p, err := ParsePlaintext(s)
	if err != nil {
		panic(err)
	}
	return p
}

type plaintextParser struct {
	src string
	pos int
}

func (p *plaintextParser) skipSpace() {
	for p.pos < len(p.src) && strings.ContainsRune(" \t\r\n", rune(p.src[p.pos])) {
		p.pos++
	}
}

func (p *plaintextParser) parse() (Plaintext, error) {
	p.skipSpace()
	if p.pos < len(p.src) && p.src[p.pos] == '{' {
		return p.parseStruct()
	}
	start := p.pos
	if p.pos < len(p.src) && p.src[p.pos] == '"' {
		p.pos++
		for p.pos < len(p.src) && p.src[p.pos] != '"' {
			if p.src[p.pos] == '\\' {
				p.pos++
			}
			p.pos++
		}
		p.pos++
	} else {
		for p.pos < len(p.src) && !strings.ContainsRune(",} \t\r\n", rune(p.src[p.pos])) {
			p.pos++
		}
	}
	if p.pos > len(p.src) {
		return Plaintext{}, fmt.Errorf("%w: unterminated string in %q", ErrInvalidLiteral, p.src)
	}
	l, err := ParseLiteral(p.src[start:p.pos])
	if err != nil {
		return Plaintext{}, err
	}
	return LiteralPlaintext(l), nil
}

func (p *plaintextParser) parseStruct() (Plaintext, error) {
	p.pos++ // '{'
	var members []Member
	for {
		p.skipSpace()
		start := p.pos
		for p.pos < len(p.src) && p.src[p.pos] != ':' && p.src[p.pos] != '}' {
			p.pos++
		}
		if p.pos >= len(p.src) || p.src[p.pos] != ':' {
			return Plaintext{}, fmt.Errorf("%w: expected member name in %q", ErrInvalidLiteral, p.src)
		}
		name := strings.TrimSpace(p.src[start:p.pos])
		p.pos++
		v, err := p.parse()
		if err != nil {
			return Plaintext{}, err
		}
		members = append(members, Member{Name: name, Value: v})
		p.skipSpace()
		if p.pos >= len(p.src) {
			return Plaintext{}, fmt.Errorf("%w: unterminated struct in %q", ErrInvalidLiteral, p.src)
		}
		switch p.src[p.pos] {
		case ',':
			p.pos++
		case '}':
			p.pos++
			return NewStruct(members...)
		default:
			return Plaintext{}, fmt.Errorf("%w: unexpected %q in %q", ErrInvalidLiteral, p.src[p.pos], p.src)
		}
	}
}
