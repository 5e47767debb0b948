package program

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/fortiblox/X1-Strata/internal/types"
	"github.com/fortiblox/X1-Strata/pkg/value"
)

// Load errors. A program that fails to load never reaches the interpreter.
var (
	ErrInvalidProgram     = errors.New("invalid program")
	ErrInvalidInstruction = errors.New("invalid instruction")
	ErrInvalidRegister    = errors.New("invalid register")
	ErrUnknownLabel       = errors.New("unknown position label")
)

// Program limits.
const (
	MaxFunctions    = 31
	MaxMappings     = 31
	MaxInstructions = 2048
	MaxRegisters    = 4096
	MaxImports      = 64
)

// Build validates the manifest and returns the loaded program. Checks that
// need other programs (call arity, external mappings) run when the program is
// added to a Registry.
func (m *Manifest) Build() (*Program, error) {
	if err := types.ValidateProgramID(m.Program); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProgram, err)
	}
	p := &Program{ID: m.Program}

	if len(m.Imports) > MaxImports {
		return nil, fmt.Errorf("%w: %s has %d imports", ErrInvalidProgram, m.Program, len(m.Imports))
	}
	seen := make(map[string]bool)
	for _, imp := range m.Imports {
		if err := types.ValidateProgramID(imp); err != nil {
			return nil, fmt.Errorf("%w: import: %v", ErrInvalidProgram, err)
		}
		if imp == m.Program || seen[imp] {
			return nil, fmt.Errorf("%w: %s imports %s twice or itself", ErrInvalidProgram, m.Program, imp)
		}
		seen[imp] = true
		p.Imports = append(p.Imports, imp)
	}

	names := make(map[string]string)
	declare := func(kind, name string) error {
		if err := types.ValidateIdentifier(name); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidProgram, kind, err)
		}
		if prev, ok := names[name]; ok {
			return fmt.Errorf("%w: %s %q already declared as %s", ErrInvalidProgram, kind, name, prev)
		}
		names[name] = kind
		return nil
	}

	if len(m.Mappings) > MaxMappings {
		return nil, fmt.Errorf("%w: %s has %d mappings", ErrInvalidProgram, m.Program, len(m.Mappings))
	}
	for _, mm := range m.Mappings {
		if err := declare("mapping", mm.Name); err != nil {
			return nil, err
		}
		key, err := value.ParsePlaintextType(mm.Key)
		if err != nil {
			return nil, fmt.Errorf("%w: mapping %s key: %v", ErrInvalidProgram, mm.Name, err)
		}
		val, err := value.ParsePlaintextType(mm.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: mapping %s value: %v", ErrInvalidProgram, mm.Name, err)
		}
		p.Mappings = append(p.Mappings, Mapping{Name: mm.Name, Key: key, Value: val})
	}

	for _, sm := range m.Structs {
		if err := declare("struct", sm.Name); err != nil {
			return nil, err
		}
		fields, err := buildFields(sm)
		if err != nil {
			return nil, err
		}
		if len(fields) == 0 {
			return nil, fmt.Errorf("%w: struct %s has no members", ErrInvalidProgram, sm.Name)
		}
		p.Structs = append(p.Structs, StructDef{Name: sm.Name, Members: fields})
	}
	for _, rm := range m.Records {
		if err := declare("record", rm.Name); err != nil {
			return nil, err
		}
		fields, err := buildFields(rm)
		if err != nil {
			return nil, err
		}
		p.Records = append(p.Records, RecordDef{Name: rm.Name, Entries: fields})
	}
	p.index()

	// Struct members may only name structs declared earlier, which rules out
	// recursive types.
	for i, s := range p.Structs {
		for _, f := range s.Members {
			if f.Type.IsStruct() && !declaredBefore(p.Structs[:i], f.Type.Struct) {
				return nil, fmt.Errorf("%w: struct %s member %s uses undeclared struct %s", ErrInvalidProgram, s.Name, f.Name, f.Type.Struct)
			}
		}
	}
	for _, r := range p.Records {
		for _, f := range r.Entries {
			if f.Type.IsStruct() {
				if _, ok := p.Struct(f.Type.Struct); !ok {
					return nil, fmt.Errorf("%w: record %s entry %s uses undeclared struct %s", ErrInvalidProgram, r.Name, f.Name, f.Type.Struct)
				}
			}
		}
	}
	for _, mp := range p.Mappings {
		for _, t := range []value.PlaintextType{mp.Key, mp.Value} {
			if t.IsStruct() {
				if _, ok := p.Struct(t.Struct); !ok {
					return nil, fmt.Errorf("%w: mapping %s uses undeclared struct %s", ErrInvalidProgram, mp.Name, t.Struct)
				}
			}
		}
	}

	if len(m.Functions) == 0 || len(m.Functions) > MaxFunctions {
		return nil, fmt.Errorf("%w: %s must declare between 1 and %d functions", ErrInvalidProgram, m.Program, MaxFunctions)
	}
	for _, fm := range m.Functions {
		if err := declare("function", fm.Name); err != nil {
			return nil, err
		}
	}
	for i := range m.Functions {
		f, err := buildFunction(p, &m.Functions[i])
		if err != nil {
			return nil, fmt.Errorf("%s/%s: %w", m.Program, m.Functions[i].Name, err)
		}
		p.Functions = append(p.Functions, f)
	}
	p.index()
	return p, nil
}

func declaredBefore(structs []StructDef, name string) bool {
	for _, s := range structs {
		if s.Name == name {
			return true
		}
	}
	return false
}

func buildFields(sm StructManifest) ([]Field, error) {
	seen := make(map[string]bool)
	fields := make([]Field, 0, len(sm.Members))
	for _, fm := range sm.Members {
		if err := types.ValidateIdentifier(fm.Name); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidProgram, sm.Name, err)
		}
		if seen[fm.Name] || fm.Name == "owner" {
			return nil, fmt.Errorf("%w: %s: duplicate or reserved member %s", ErrInvalidProgram, sm.Name, fm.Name)
		}
		seen[fm.Name] = true
		t, err := value.ParsePlaintextType(fm.Type)
		if err != nil {
			return nil, fmt.Errorf("%w: %s.%s: %v", ErrInvalidProgram, sm.Name, fm.Name, err)
		}
		vis, err := value.ParseVisibility(fm.Visibility)
		if err != nil {
			return nil, fmt.Errorf("%w: %s.%s: %v", ErrInvalidProgram, sm.Name, fm.Name, err)
		}
		fields = append(fields, Field{Name: fm.Name, Type: t, Visibility: vis})
	}
	return fields, nil
}

func buildFunction(p *Program, fm *FunctionManifest) (*Function, error) {
	f := &Function{Program: p.ID, Name: fm.Name}

	b := newBodyBuilder(p, fm.Name, InFunction)
	body, err := b.build(fm.Inputs, fm.Instructions)
	if err != nil {
		return nil, err
	}
	f.Body = body

	for i, om := range fm.Outputs {
		op, err := b.operand(om.Register)
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
		t, err := value.ParseType(om.Type)
		if err != nil {
			return nil, fmt.Errorf("%w: output %d: %v", ErrInvalidProgram, i, err)
		}
		if t.Kind == value.KindFuture {
			return nil, fmt.Errorf("%w: output %d: the future of an async function is returned implicitly", ErrInvalidProgram, i)
		}
		if err := checkTypeDeclared(p, t); err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
		vis, err := value.ParseVisibility(om.Visibility)
		if err != nil {
			return nil, fmt.Errorf("%w: output %d: %v", ErrInvalidProgram, i, err)
		}
		f.Outputs = append(f.Outputs, Output{Operand: op, Type: t, Visibility: vis})
	}

	asyncs := 0
	for _, in := range f.Instructions {
		if in.Op == OpAsync {
			asyncs++
		}
	}
	if fm.Finalize == nil {
		if asyncs > 0 {
			return nil, fmt.Errorf("%w: async in a function without finalize", ErrInvalidInstruction)
		}
		return f, nil
	}
	if asyncs != 1 {
		return nil, fmt.Errorf("%w: a function with finalize must contain exactly one async, found %d", ErrInvalidInstruction, asyncs)
	}

	fb := newBodyBuilder(p, fm.Name, InFinalize)
	fbody, err := fb.build(fm.Finalize.Inputs, fm.Finalize.Instructions)
	if err != nil {
		return nil, fmt.Errorf("finalize: %w", err)
	}
	for _, in := range fbody.Inputs {
		if in.Type.Kind == value.KindRecord {
			return nil, fmt.Errorf("%w: finalize input r%d cannot be a record", ErrInvalidProgram, in.Register)
		}
	}
	f.Finalize = &Finalize{Body: fbody}

	for _, in := range f.Instructions {
		if in.Op == OpAsync && len(in.Operands) != len(fbody.Inputs) {
			return nil, fmt.Errorf("%w: async passes %d arguments, finalize declares %d inputs",
				ErrInvalidInstruction, len(in.Operands), len(fbody.Inputs))
		}
	}
	return f, nil
}

func checkTypeDeclared(p *Program, t value.Type) error {
	switch t.Kind {
	case value.KindPlaintext:
		if t.Plaintext.IsStruct() {
			if _, ok := p.Struct(t.Plaintext.Struct); !ok {
				return fmt.Errorf("%w: unknown struct %s", ErrInvalidProgram, t.Plaintext.Struct)
			}
		}
	case value.KindRecord:
		if _, ok := p.Record(t.Record); !ok {
			return fmt.Errorf("%w: unknown record %s", ErrInvalidProgram, t.Record)
		}
	}
	return nil
}

// bodyBuilder resolves registers and labels for one instruction sequence.
type bodyBuilder struct {
	program  *Program
	function string
	ctx      Context
	defined  map[int]bool
	maxReg   int
}

func newBodyBuilder(p *Program, function string, ctx Context) *bodyBuilder {
	return &bodyBuilder{program: p, function: function, ctx: ctx, defined: make(map[int]bool), maxReg: -1}
}

func (b *bodyBuilder) build(inputs []RegisterManifest, instrs []InstructionManifest) (Body, error) {
	var body Body
	if len(instrs) > MaxInstructions {
		return body, fmt.Errorf("%w: %d instructions exceeds %d", ErrInvalidProgram, len(instrs), MaxInstructions)
	}
	for i, im := range inputs {
		reg, err := parseRegister(im.Register)
		if err != nil {
			return body, fmt.Errorf("input %d: %w", i, err)
		}
		if reg != i {
			return body, fmt.Errorf("%w: input %d must be r%d, got %s", ErrInvalidRegister, i, i, im.Register)
		}
		t, err := value.ParseType(im.Type)
		if err != nil {
			return body, fmt.Errorf("%w: input %d: %v", ErrInvalidProgram, i, err)
		}
		if t.Kind == value.KindFuture && b.ctx != InFinalize {
			return body, fmt.Errorf("%w: input %d: only finalize inputs may be futures", ErrInvalidProgram, i)
		}
		if err := checkTypeDeclared(b.program, t); err != nil {
			return body, fmt.Errorf("input %d: %w", i, err)
		}
		vis, err := value.ParseVisibility(im.Visibility)
		if err != nil {
			return body, fmt.Errorf("%w: input %d: %v", ErrInvalidProgram, i, err)
		}
		b.define(reg)
		body.Inputs = append(body.Inputs, Input{Register: reg, Type: t, Visibility: vis})
	}

	labels := make(map[string]int)
	for i, im := range instrs {
		if im.Op != OpPosition.String() {
			continue
		}
		if len(im.Operands) != 1 {
			return body, fmt.Errorf("%w: position at %d needs one label", ErrInvalidInstruction, i)
		}
		label := im.Operands[0]
		if err := types.ValidateIdentifier(label); err != nil {
			return body, fmt.Errorf("%w: position at %d: %v", ErrInvalidInstruction, i, err)
		}
		if _, dup := labels[label]; dup {
			return body, fmt.Errorf("%w: duplicate position %s", ErrInvalidInstruction, label)
		}
		labels[label] = i
	}

	for i, im := range instrs {
		in, err := b.instruction(im, labels)
		if err != nil {
			return body, fmt.Errorf("instruction %d (%s): %w", i, im.Op, err)
		}
		body.Instructions = append(body.Instructions, in)
	}
	body.NumRegisters = b.maxReg + 1
	if body.NumRegisters > MaxRegisters {
		return body, fmt.Errorf("%w: %d registers exceeds %d", ErrInvalidRegister, body.NumRegisters, MaxRegisters)
	}
	return body, nil
}

func (b *bodyBuilder) define(reg int) {
	b.defined[reg] = true
	if reg > b.maxReg {
		b.maxReg = reg
	}
}

func (b *bodyBuilder) instruction(im InstructionManifest, labels map[string]int) (Instruction, error) {
	op, ok := ParseOpcode(im.Op)
	if !ok {
		return Instruction{}, fmt.Errorf("%w: unknown op %q", ErrInvalidInstruction, im.Op)
	}
	if !op.Allowed(b.ctx) {
		return Instruction{}, fmt.Errorf("%w: %s is not allowed here", ErrInvalidInstruction, op)
	}
	in := Instruction{Op: op}
	operands := im.Operands

	// Peel off the non-register parts of the operand list.
	switch {
	case op == OpPosition:
		in.Label = operands[0]
		operands = nil
	case op.IsBranch():
		if len(operands) != 3 {
			return in, fmt.Errorf("%w: %s needs two operands and a label", ErrInvalidInstruction, op)
		}
		in.Label = operands[2]
		target, ok := labels[in.Label]
		if !ok {
			return in, fmt.Errorf("%w: %s", ErrUnknownLabel, in.Label)
		}
		in.Jump = target
		operands = operands[:2]
	case op == OpCall:
		if len(operands) == 0 {
			return in, fmt.Errorf("%w: call needs a target", ErrInvalidInstruction)
		}
		target, err := b.locator(operands[0])
		if err != nil {
			return in, err
		}
		in.Target = target
		operands = operands[1:]
	case op == OpAsync:
		if len(operands) == 0 || operands[0] != b.function {
			return in, fmt.Errorf("%w: async must name the enclosing function %s", ErrInvalidInstruction, b.function)
		}
		in.Target = types.Locator{Program: b.program.ID, Resource: b.function}
		operands = operands[1:]
	case op == OpSet:
		if len(operands) != 3 {
			return in, fmt.Errorf("%w: set needs value, mapping and key", ErrInvalidInstruction)
		}
		target, err := b.mapping(op, operands[1])
		if err != nil {
			return in, err
		}
		in.Target = target
		operands = []string{operands[0], operands[2]}
	case op.IsMapping():
		if len(operands) == 0 {
			return in, fmt.Errorf("%w: %s needs a mapping", ErrInvalidInstruction, op)
		}
		target, err := b.mapping(op, operands[0])
		if err != nil {
			return in, err
		}
		in.Target = target
		operands = operands[1:]
	}

	sh := shapes[op]
	switch {
	case sh.operands >= 0 && len(operands) != sh.operands:
		return in, fmt.Errorf("%w: %s takes %d operands, got %d", ErrInvalidInstruction, op, sh.operands, len(operands))
	case sh.operands < 0 && len(operands) < -sh.operands-1:
		return in, fmt.Errorf("%w: %s takes at least %d operands, got %d", ErrInvalidInstruction, op, -sh.operands-1, len(operands))
	case sh.dests >= 0 && len(im.Into) != sh.dests:
		return in, fmt.Errorf("%w: %s writes %d registers, got %d", ErrInvalidInstruction, op, sh.dests, len(im.Into))
	}

	for _, s := range operands {
		o, err := b.operand(s)
		if err != nil {
			return in, err
		}
		in.Operands = append(in.Operands, o)
	}

	if op == OpCast || op == OpCastLossy {
		if err := b.castType(&in, im.As); err != nil {
			return in, err
		}
	} else if im.As != "" {
		return in, fmt.Errorf("%w: %s does not take a type", ErrInvalidInstruction, op)
	}

	for _, s := range im.Into {
		reg, err := parseRegister(s)
		if err != nil {
			return in, err
		}
		if b.defined[reg] {
			return in, fmt.Errorf("%w: r%d is assigned more than once", ErrInvalidRegister, reg)
		}
		b.define(reg)
		in.Dests = append(in.Dests, reg)
	}
	return in, nil
}

func (b *bodyBuilder) castType(in *Instruction, as string) error {
	t, err := value.ParseType(as)
	if err != nil {
		return fmt.Errorf("%w: cast type: %v", ErrInvalidInstruction, err)
	}
	in.CastType = t
	switch {
	case t.Kind == value.KindFuture:
		return fmt.Errorf("%w: cannot cast to a future", ErrInvalidInstruction)
	case in.Op == OpCastLossy && (t.Kind != value.KindPlaintext || t.Plaintext.IsStruct()):
		return fmt.Errorf("%w: cast.lossy destination must be a literal type", ErrInvalidInstruction)
	case t.Kind == value.KindRecord:
		def, ok := b.program.Record(t.Record)
		if !ok {
			return fmt.Errorf("%w: unknown record %s", ErrInvalidInstruction, t.Record)
		}
		if b.ctx != InFunction {
			return fmt.Errorf("%w: records can only be created in functions", ErrInvalidInstruction)
		}
		if len(in.Operands) != len(def.Entries)+1 {
			return fmt.Errorf("%w: record %s takes an owner and %d entries", ErrInvalidInstruction, t.Record, len(def.Entries))
		}
	case t.Plaintext.IsStruct():
		def, ok := b.program.Struct(t.Plaintext.Struct)
		if !ok {
			return fmt.Errorf("%w: unknown struct %s", ErrInvalidInstruction, t.Plaintext.Struct)
		}
		if len(in.Operands) != len(def.Members) {
			return fmt.Errorf("%w: struct %s takes %d members", ErrInvalidInstruction, t.Plaintext.Struct, len(def.Members))
		}
	default:
		if len(in.Operands) != 1 {
			return fmt.Errorf("%w: cast to %s takes one operand", ErrInvalidInstruction, t)
		}
	}
	return nil
}

// locator resolves a call target: "name" in the current program or
// "prog.aleo/name" in an imported one.
func (b *bodyBuilder) locator(s string) (types.Locator, error) {
	if !strings.Contains(s, "/") {
		if err := types.ValidateIdentifier(s); err != nil {
			return types.Locator{}, fmt.Errorf("%w: call target: %v", ErrInvalidInstruction, err)
		}
		return types.Locator{Program: b.program.ID, Resource: s}, nil
	}
	loc, err := types.ParseLocator(s)
	if err != nil {
		return types.Locator{}, fmt.Errorf("%w: call target: %v", ErrInvalidInstruction, err)
	}
	if loc.Program != b.program.ID && !b.program.ImportsProgram(loc.Program) {
		return types.Locator{}, fmt.Errorf("%w: %s calls %s which it does not import", ErrInvalidInstruction, b.program.ID, loc.Program)
	}
	return loc, nil
}

// mapping resolves a mapping reference. set and remove may only target the
// current program's mappings; reads may target imported programs.
func (b *bodyBuilder) mapping(op Opcode, s string) (types.Locator, error) {
	loc := types.Locator{Program: b.program.ID, Resource: s}
	if strings.Contains(s, "/") {
		var err error
		if loc, err = types.ParseLocator(s); err != nil {
			return loc, fmt.Errorf("%w: mapping: %v", ErrInvalidInstruction, err)
		}
	}
	if loc.Program == b.program.ID {
		if _, ok := b.program.Mapping(loc.Resource); !ok {
			return loc, fmt.Errorf("%w: unknown mapping %s", ErrInvalidInstruction, loc.Resource)
		}
		return loc, nil
	}
	if op == OpSet || op == OpRemove {
		return loc, fmt.Errorf("%w: %s cannot write mapping %s of another program", ErrInvalidInstruction, op, loc)
	}
	if !b.program.ImportsProgram(loc.Program) {
		return loc, fmt.Errorf("%w: %s reads %s which it does not import", ErrInvalidInstruction, b.program.ID, loc)
	}
	return loc, nil
}

func (b *bodyBuilder) operand(s string) (Operand, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "self.caller", "self.signer":
		if b.ctx != InFunction {
			return Operand{}, fmt.Errorf("%w: %s is only available in functions", ErrInvalidInstruction, s)
		}
		if s == "self.caller" {
			return Operand{Kind: OperandCaller}, nil
		}
		return Operand{Kind: OperandSigner}, nil
	case "block.height":
		if b.ctx != InFinalize {
			return Operand{}, fmt.Errorf("%w: block.height is only available in finalize", ErrInvalidInstruction)
		}
		return Operand{Kind: OperandBlockHeight}, nil
	}
	if isRegisterRef(s) {
		head, rest, _ := strings.Cut(s, ".")
		reg, err := parseRegister(head)
		if err != nil {
			return Operand{}, err
		}
		if !b.defined[reg] {
			return Operand{}, fmt.Errorf("%w: r%d is read before it is assigned", ErrInvalidRegister, reg)
		}
		o := Operand{Kind: OperandRegister, Register: reg}
		if rest != "" {
			o.Path = strings.Split(rest, ".")
			for _, seg := range o.Path {
				if err := types.ValidateIdentifier(seg); err != nil {
					return Operand{}, fmt.Errorf("%w: %s: %v", ErrInvalidRegister, s, err)
				}
			}
		}
		return o, nil
	}
	l, err := value.ParseLiteral(s)
	if err != nil {
		return Operand{}, fmt.Errorf("%w: operand %q: %v", ErrInvalidInstruction, s, err)
	}
	return Operand{Kind: OperandLiteral, Literal: l}, nil
}

func isRegisterRef(s string) bool {
	return len(s) >= 2 && s[0] == 'r' && s[1] >= '0' && s[1] <= '9'
}

func parseRegister(s string) (int, error) {
	if !isRegisterRef(s) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRegister, s)
	}
	n, err := strconv.Atoi(s[1:])
	if err != nil || n < 0 || n >= MaxRegisters {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRegister, s)
	}
	return n, nil
}
