// Package program holds the loaded, validated representation of programs:
// functions, their finalize blocks, mappings, struct and record definitions,
// and the registry that resolves program-qualified names.
//
// Programs arrive already structured (see manifest.go). Loading resolves
// everything that can be resolved once: register names become indexes,
// position labels become instruction offsets, and call targets and mapping
// references are checked against the import graph. The interpreter and the
// finalize executor then treat a body as an immutable instruction vector.
package program

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fortiblox/X1-Strata/internal/types"
	"github.com/fortiblox/X1-Strata/pkg/value"
)

// OperandKind distinguishes operand sources.
type OperandKind uint8

const (
	OperandRegister OperandKind = iota
	OperandLiteral
	OperandCaller
	OperandSigner
	OperandBlockHeight
)

// Operand is an instruction input.
type Operand struct {
	Kind     OperandKind
	Register int
	Path     []string // member access, e.g. r0.amount
	Literal  value.Literal
}

func (o Operand) String() string {
	switch o.Kind {
	case OperandLiteral:
		return o.Literal.String()
	case OperandCaller:
		return "self.caller"
	case OperandSigner:
		return "self.signer"
	case OperandBlockHeight:
		return "block.height"
	}
	s := "r" + strconv.Itoa(o.Register)
	if len(o.Path) > 0 {
		s += "." + strings.Join(o.Path, ".")
	}
	return s
}

// Instruction is one loaded instruction.
type Instruction struct {
	Op       Opcode
	Operands []Operand
	Dests    []int

	// CastType is the destination type of cast and cast.lossy.
	CastType value.Type

	// Target is the callee of call, or the mapping of a mapping operation.
	// An empty Program means the current program.
	Target types.Locator

	// Label names a position, or the position a branch jumps to.
	Label string

	// Jump is the resolved instruction offset of Label for branches.
	Jump int
}

func (in Instruction) String() string {
	var sb strings.Builder
	sb.WriteString(in.Op.String())
	if in.Op == OpPosition {
		sb.WriteString(" " + in.Label)
		return sb.String()
	}
	if in.Op == OpCall || in.Op.IsMapping() {
		sb.WriteString(" " + in.Target.String())
	}
	for _, o := range in.Operands {
		sb.WriteString(" " + o.String())
	}
	if in.Op.IsBranch() {
		sb.WriteString(" to " + in.Label)
	}
	if len(in.Dests) > 0 {
		sb.WriteString(" into")
		for _, d := range in.Dests {
			sb.WriteString(" r" + strconv.Itoa(d))
		}
	}
	if in.Op == OpCast || in.Op == OpCastLossy {
		sb.WriteString(" as " + in.CastType.String())
	}
	return sb.String()
}

// Input is a declared function or finalize input bound to a register.
type Input struct {
	Register   int
	Type       value.Type
	Visibility value.Visibility
}

// Output is a declared function output.
type Output struct {
	Operand    Operand
	Type       value.Type
	Visibility value.Visibility
}

// Body is an instruction sequence with its register layout.
type Body struct {
	Inputs       []Input
	Instructions []Instruction
	NumRegisters int
}

// Finalize is the on-chain block paired with a function.
type Finalize struct {
	Body
}

// Function is a program function.
type Function struct {
	Program string
	Name    string
	Body
	Outputs  []Output
	Finalize *Finalize
}

// Locator returns program/name.
func (f *Function) Locator() types.Locator {
	return types.Locator{Program: f.Program, Resource: f.Name}
}

// NumOutputs returns the number of call destinations: the declared outputs
// plus one future when the function has a finalize block.
func (f *Function) NumOutputs() int {
	if f.Finalize != nil {
		return len(f.Outputs) + 1
	}
	return len(f.Outputs)
}

// Mapping is a program's persistent key-value store declaration.
type Mapping struct {
	Name  string
	Key   value.PlaintextType
	Value value.PlaintextType
}

// Field is a named, typed member of a struct or record definition.
type Field struct {
	Name       string
	Type       value.PlaintextType
	Visibility value.Visibility
}

// StructDef declares a struct type.
type StructDef struct {
	Name    string
	Members []Field
}

// RecordDef declares a record type. The owner entry is implicit.
type RecordDef struct {
	Name    string
	Entries []Field
}

// Program is a loaded program.
type Program struct {
	ID        string
	Imports   []string
	Mappings  []Mapping
	Structs   []StructDef
	Records   []RecordDef
	Functions []*Function

	functions map[string]*Function
	mappings  map[string]*Mapping
	structs   map[string]*StructDef
	records   map[string]*RecordDef
}

func (p *Program) index() {
	p.functions = make(map[string]*Function, len(p.Functions))
	for _, f := range p.Functions {
		p.functions[f.Name] = f
	}
	p.mappings = make(map[string]*Mapping, len(p.Mappings))
	for i := range p.Mappings {
		p.mappings[p.Mappings[i].Name] = &p.Mappings[i]
	}
	p.structs = make(map[string]*StructDef, len(p.Structs))
	for i := range p.Structs {
		p.structs[p.Structs[i].Name] = &p.Structs[i]
	}
	p.records = make(map[string]*RecordDef, len(p.Records))
	for i := range p.Records {
		p.records[p.Records[i].Name] = &p.Records[i]
	}
}

// Function returns the named function.
func (p *Program) Function(name string) (*Function, bool) {
	f, ok := p.functions[name]
	return f, ok
}

// Mapping returns the named mapping declaration.
func (p *Program) Mapping(name string) (*Mapping, bool) {
	m, ok := p.mappings[name]
	return m, ok
}

// Struct returns the named struct definition.
func (p *Program) Struct(name string) (*StructDef, bool) {
	s, ok := p.structs[name]
	return s, ok
}

// Record returns the named record definition.
func (p *Program) Record(name string) (*RecordDef, bool) {
	r, ok := p.records[name]
	return r, ok
}

// ImportsProgram reports whether p imports id.
func (p *Program) ImportsProgram(id string) bool {
	for _, imp := range p.Imports {
		if imp == id {
			return true
		}
	}
	return false
}

// CheckPlaintext verifies that v has plaintext type t, resolving struct names
// against p's definitions.
func (p *Program) CheckPlaintext(v value.Plaintext, t value.PlaintextType) error {
	if !t.IsStruct() {
		l, ok := v.Literal()
		if !ok {
			return fmt.Errorf("expected %s, got a struct", t)
		}
		if l.Type() != t.Literal {
			return fmt.Errorf("expected %s, got %s", t, l.Type())
		}
		return nil
	}
	def, ok := p.Struct(t.Struct)
	if !ok {
		return fmt.Errorf("unknown struct %s in %s", t.Struct, p.ID)
	}
	if !v.IsStruct() {
		return fmt.Errorf("expected struct %s, got a literal", t.Struct)
	}
	members := v.Members()
	if len(members) != len(def.Members) {
		return fmt.Errorf("struct %s has %d members, got %d", t.Struct, len(def.Members), len(members))
	}
	for i, m := range def.Members {
		if members[i].Name != m.Name {
			return fmt.Errorf("struct %s member %d is %s, got %s", t.Struct, i, m.Name, members[i].Name)
		}
		if err := p.CheckPlaintext(members[i].Value, m.Type); err != nil {
			return fmt.Errorf("%s.%s: %w", t.Struct, m.Name, err)
		}
	}
	return nil
}

// CheckValue verifies that v has type t.
func (p *Program) CheckValue(v value.Value, t value.Type) error {
	switch t.Kind {
	case value.KindPlaintext:
		pt, ok := v.(value.Plaintext)
		if !ok {
			return fmt.Errorf("expected %s, got a %s", t, v.Kind())
		}
		return p.CheckPlaintext(pt, t.Plaintext)
	case value.KindRecord:
		r, ok := v.(*value.Record)
		if !ok {
			return fmt.Errorf("expected %s, got a %s", t, v.Kind())
		}
		if r.Program() != p.ID || r.Name() != t.Record {
			return fmt.Errorf("expected %s, got %s/%s", t, r.Program(), r.Name())
		}
		def, ok := p.Record(t.Record)
		if !ok {
			return fmt.Errorf("unknown record %s in %s", t.Record, p.ID)
		}
		entries := r.Entries()
		if len(entries) != len(def.Entries) {
			return fmt.Errorf("record %s has %d entries, got %d", t.Record, len(def.Entries), len(entries))
		}
		for i, e := range def.Entries {
			if entries[i].Name != e.Name {
				return fmt.Errorf("record %s entry %d is %s, got %s", t.Record, i, e.Name, entries[i].Name)
			}
			if err := p.CheckPlaintext(entries[i].Value, e.Type); err != nil {
				return fmt.Errorf("%s.%s: %w", t.Record, e.Name, err)
			}
		}
		return nil
	case value.KindFuture:
		f, ok := v.(*value.Future)
		if !ok {
			return fmt.Errorf("expected %s, got a %s", t, v.Kind())
		}
		if f.Locator() != t.Future {
			return fmt.Errorf("expected %s, got a future of %s", t, f.Locator())
		}
		return nil
	}
	return fmt.Errorf("unknown type kind %s", t.Kind)
}
