// Package interpreter executes the function bodies of programs: the execute
// phase of a transaction.
//
// An invocation owns a fresh register file and runs its instructions in
// program order, except where branch.eq / branch.neq jump to a position.
// call recurses into another function on the same cost meter; async builds
// the Future of the current function's finalize block. Every completed
// invocation appends a Transition, so a top-level call yields its transitions
// in post-order with the root last.
//
// Execution is atomic: any failure discards the whole call tree. Nothing here
// touches mapping state.
package interpreter

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/fortiblox/X1-Strata/internal/types"
	"github.com/fortiblox/X1-Strata/pkg/meter"
	"github.com/fortiblox/X1-Strata/pkg/program"
	"github.com/fortiblox/X1-Strata/pkg/value"
	"github.com/fortiblox/X1-Strata/pkg/vmerr"
)

// ErrInvalidRequest is returned for a request the interpreter cannot start.
var ErrInvalidRequest = errors.New("invalid execution request")

// DefaultMaxCallDepth bounds call nesting.
const DefaultMaxCallDepth = 32

// Config holds interpreter configuration.
type Config struct {
	// MaxCallDepth bounds call nesting. Exceeding it is charged as gas
	// exhaustion, since recursion is otherwise only bounded by the meter.
	MaxCallDepth int

	// Logger receives per-call debug output.
	Logger zerolog.Logger
}

// DefaultConfig returns the default interpreter configuration.
func DefaultConfig() Config {
	return Config{
		MaxCallDepth: DefaultMaxCallDepth,
		Logger:       zerolog.Nop(),
	}
}

// Interpreter runs functions resolved through a registry.
type Interpreter struct {
	registry *program.Registry
	cfg      Config
	log      zerolog.Logger
}

// New creates an interpreter.
func New(registry *program.Registry, cfg Config) *Interpreter {
	if cfg.MaxCallDepth <= 0 {
		cfg.MaxCallDepth = DefaultMaxCallDepth
	}
	return &Interpreter{
		registry: registry,
		cfg:      cfg,
		log:      cfg.Logger.With().Str("component", "interpreter").Logger(),
	}
}

// Request is a top-level call.
type Request struct {
	Program  string
	Function string
	Inputs   []value.Value

	// Signer is the address that authorized the call. It is self.signer
	// everywhere in the call tree and self.caller of the root.
	Signer value.Literal

	// Seed makes the transition ids and record nonces of this call unique.
	Seed types.Hash
}

// Transition is the record of one completed invocation.
type Transition struct {
	ID       types.Hash
	Program  string
	Function string

	Inputs   []value.Value
	InputIDs []types.Hash

	// Outputs are the declared outputs followed by the future, if the
	// function has a finalize block.
	Outputs          []value.Value
	OutputIDs        []types.Hash
	OutputVisibility []value.Visibility

	Future *value.Future
}

// Locator returns program/function.
func (t *Transition) Locator() types.Locator {
	return types.Locator{Program: t.Program, Resource: t.Function}
}

// Step is one register write, the unit of the witness trace.
type Step struct {
	Function types.Locator
	Register int
	Value    value.Value
}

// Result is the outcome of a successful top-level call.
type Result struct {
	Outputs []value.Value
	Future  *value.Future

	// Transitions in post-order; the root call is last.
	Transitions []*Transition

	// Trace is every register write in execution order.
	Trace []Step
}

// Execute runs req, charging m. On failure no partial result is returned.
func (ip *Interpreter) Execute(ctx context.Context, req Request, m *meter.Meter) (res *Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			res, err = nil, fmt.Errorf("%w: interpreter panic: %v", vmerr.ErrInternal, rec)
		}
	}()

	if req.Signer.Type() != value.TypeAddress {
		return nil, fmt.Errorf("%w: signer must be an address", ErrInvalidRequest)
	}
	f, err := ip.registry.Resolve(req.Program, req.Function)
	if err != nil {
		return nil, err
	}

	x := &execution{
		ip:     ip,
		meter:  m,
		signer: req.Signer,
		seed:   req.Seed,
	}
	outputs, fut, err := x.call(ctx, f, req.Inputs, req.Signer, 0)
	if err != nil {
		ip.log.Debug().Err(err).Str("function", f.Locator().String()).Str("kind", vmerr.Classify(err).String()).Msg("execution failed")
		return nil, err
	}
	return &Result{
		Outputs:     outputs,
		Future:      fut,
		Transitions: x.transitions,
		Trace:       x.trace,
	}, nil
}

// execution is the state of one top-level call tree.
type execution struct {
	ip          *Interpreter
	meter       *meter.Meter
	signer      value.Literal
	seed        types.Hash
	calls       uint32
	transitions []*Transition
	trace       []Step
}

// frame is the state of one invocation.
type frame struct {
	fn       *program.Function
	prog     *program.Program
	regs     *Registers
	env      Env
	seed     types.Hash
	records  uint16
	produced []*produced
	future   *value.Future
}

// produced is a future returned by a call in the current frame.
type produced struct {
	future   *value.Future
	callee   types.Locator
	consumed bool
}

func (x *execution) call(ctx context.Context, f *program.Function, inputs []value.Value, caller value.Literal, depth int) ([]value.Value, *value.Future, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	loc := f.Locator()
	if depth > x.ip.cfg.MaxCallDepth {
		return nil, nil, fmt.Errorf("%w: call depth exceeds %d at %s", vmerr.ErrGasExceeded, x.ip.cfg.MaxCallDepth, loc)
	}
	p, err := x.ip.registry.Program(f.Program)
	if err != nil {
		return nil, nil, err
	}
	if len(inputs) != len(f.Inputs) {
		return nil, nil, fmt.Errorf("%w: %s takes %d inputs, got %d", vmerr.ErrTypeOrRange, loc, len(f.Inputs), len(inputs))
	}

	index := x.calls
	x.calls++
	var idx [4]byte
	binary.LittleEndian.PutUint32(idx[:], index)
	fr := &frame{
		fn:   f,
		prog: p,
		regs: NewRegisters(f.NumRegisters),
		env:  Env{Caller: caller, Signer: x.signer},
		seed: types.HashWithDomain(types.DomainSeed, x.seed.Bytes(), idx[:], []byte(loc.String())),
	}
	x.ip.log.Debug().Str("function", loc.String()).Int("depth", depth).Uint32("index", index).Msg("call")

	for i, in := range f.Inputs {
		if err := p.CheckValue(inputs[i], in.Type); err != nil {
			return nil, nil, fmt.Errorf("%w: %s input %d: %v", vmerr.ErrTypeOrRange, loc, i, err)
		}
		if err := x.store(fr, in.Register, inputs[i]); err != nil {
			return nil, nil, err
		}
	}

	for pc := 0; pc < len(f.Instructions); {
		in := &f.Instructions[pc]
		if err := x.meter.ChargeInstruction(in.Op); err != nil {
			return nil, nil, err
		}
		next, err := x.step(ctx, fr, in, pc, depth)
		if err != nil {
			return nil, nil, fmt.Errorf("%s instruction %d (%s): %w", loc, pc, in.Op, err)
		}
		pc = next
	}

	for _, pf := range fr.produced {
		if !pf.consumed {
			return nil, nil, fmt.Errorf("%w: %s does not pass the future of %s to async", vmerr.ErrUnconsumedFuture, loc, pf.callee)
		}
	}
	if f.Finalize != nil && fr.future == nil {
		return nil, nil, fmt.Errorf("%w: %s finished without reaching async", vmerr.ErrMalformedFutureWiring, loc)
	}

	outputs := make([]value.Value, 0, f.NumOutputs())
	vis := make([]value.Visibility, 0, f.NumOutputs())
	for i, o := range f.Outputs {
		v, err := fr.regs.Load(o.Operand, &fr.env)
		if err != nil {
			return nil, nil, fmt.Errorf("%s output %d: %w", loc, i, err)
		}
		if err := p.CheckValue(v, o.Type); err != nil {
			return nil, nil, fmt.Errorf("%w: %s output %d: %v", vmerr.ErrTypeOrRange, loc, i, err)
		}
		outputs = append(outputs, v)
		vis = append(vis, o.Visibility)
	}

	t := &Transition{
		Program:  f.Program,
		Function: f.Name,
		Inputs:   inputs,
		Future:   fr.future,
	}
	t.InputIDs = make([]types.Hash, len(inputs))
	parts := [][]byte{fr.seed.Bytes()}
	for i, v := range inputs {
		t.InputIDs[i] = value.InputID(fr.seed, i, v)
		parts = append(parts, t.InputIDs[i].Bytes())
	}
	t.ID = types.HashWithDomain(types.DomainTransition, parts...)
	t.Outputs = outputs
	t.OutputVisibility = vis
	if fr.future != nil {
		t.Outputs = append(t.Outputs, fr.future)
		t.OutputVisibility = append(t.OutputVisibility, value.Public)
	}
	t.OutputIDs = make([]types.Hash, len(t.Outputs))
	for i, v := range t.Outputs {
		t.OutputIDs[i] = value.OutputID(t.ID, i, v)
	}
	x.transitions = append(x.transitions, t)

	return outputs, fr.future, nil
}

// store writes a register and charges for it.
func (x *execution) store(fr *frame, reg int, v value.Value) error {
	if err := x.meter.ChargeValue(v); err != nil {
		return err
	}
	if err := fr.regs.Store(reg, v); err != nil {
		return err
	}
	x.trace = append(x.trace, Step{Function: fr.fn.Locator(), Register: reg, Value: v})
	return nil
}

// step executes one instruction and returns the next program counter.
func (x *execution) step(ctx context.Context, fr *frame, in *program.Instruction, pc, depth int) (int, error) {
	switch in.Op {
	case program.OpPosition:
		return pc + 1, nil

	case program.OpBranchEq, program.OpBranchNeq:
		args, err := fr.regs.LoadAll(in.Operands, &fr.env)
		if err != nil {
			return 0, err
		}
		if Branch(in, args[0], args[1]) {
			return in.Jump, nil
		}
		return pc + 1, nil

	case program.OpCall:
		return pc + 1, x.stepCall(ctx, fr, in, depth)

	case program.OpAsync:
		return pc + 1, x.stepAsync(fr, in)
	}

	args, err := fr.regs.LoadAll(in.Operands, &fr.env)
	if err != nil {
		return 0, err
	}
	var out value.Value
	if in.Op == program.OpCast && in.CastType.Kind == value.KindRecord {
		out, err = x.castRecord(fr, in, args)
	} else {
		out, err = Apply(fr.prog, in, args)
	}
	if err != nil {
		return 0, err
	}
	if out != nil {
		if err := x.store(fr, in.Dests[0], out); err != nil {
			return 0, err
		}
	}
	return pc + 1, nil
}

func (x *execution) stepCall(ctx context.Context, fr *frame, in *program.Instruction, depth int) error {
	callee, err := x.ip.registry.ResolveLocator(in.Target)
	if err != nil {
		return err
	}
	if len(in.Dests) != callee.NumOutputs() {
		return fmt.Errorf("%w: %s yields %d values, %d destinations", vmerr.ErrTypeOrRange, in.Target, callee.NumOutputs(), len(in.Dests))
	}
	args, err := fr.regs.LoadAll(in.Operands, &fr.env)
	if err != nil {
		return err
	}
	caller := value.ProgramAddress(fr.fn.Program)
	outputs, fut, err := x.call(ctx, callee, args, caller, depth+1)
	if err != nil {
		return err
	}
	for i, v := range outputs {
		if err := x.store(fr, in.Dests[i], v); err != nil {
			return err
		}
	}
	if fut != nil {
		if err := x.store(fr, in.Dests[len(outputs)], fut); err != nil {
			return err
		}
		fr.produced = append(fr.produced, &produced{future: fut, callee: in.Target})
	}
	return nil
}

// stepAsync builds the current function's future. Every future produced by a
// call so far must be among the arguments exactly once.
func (x *execution) stepAsync(fr *frame, in *program.Instruction) error {
	if fr.future != nil {
		return fmt.Errorf("%w: async executed twice", vmerr.ErrMalformedFutureWiring)
	}
	args, err := fr.regs.LoadAll(in.Operands, &fr.env)
	if err != nil {
		return err
	}
	for i, a := range args {
		f, ok := a.(*value.Future)
		if !ok {
			continue
		}
		pf := fr.lookup(f)
		if pf == nil {
			return fmt.Errorf("%w: argument %d is not a future produced by a call in %s", vmerr.ErrMalformedFutureWiring, i, fr.fn.Locator())
		}
		if pf.consumed {
			return fmt.Errorf("%w: future of %s passed to async twice", vmerr.ErrMalformedFutureWiring, pf.callee)
		}
		pf.consumed = true
	}
	for _, pf := range fr.produced {
		if !pf.consumed {
			return fmt.Errorf("%w: future of %s is missing from async", vmerr.ErrUnconsumedFuture, pf.callee)
		}
	}

	fin := fr.fn.Finalize
	if fin == nil || len(args) != len(fin.Inputs) {
		return fmt.Errorf("%w: async does not match the finalize inputs of %s", vmerr.ErrMalformedFutureWiring, fr.fn.Locator())
	}
	for i, a := range args {
		if err := fr.prog.CheckValue(a, fin.Inputs[i].Type); err != nil {
			if fin.Inputs[i].Type.Kind == value.KindFuture || a.Kind() == value.KindFuture {
				return fmt.Errorf("%w: finalize input %d: %v", vmerr.ErrMalformedFutureWiring, i, err)
			}
			return fmt.Errorf("%w: finalize input %d: %v", vmerr.ErrTypeOrRange, i, err)
		}
	}
	fut, err := value.NewFuture(fr.fn.Program, fr.fn.Name, args...)
	if err != nil {
		return fmt.Errorf("%w: %v", vmerr.ErrTypeOrRange, err)
	}
	fr.future = fut
	return x.store(fr, in.Dests[0], fut)
}

func (fr *frame) lookup(f *value.Future) *produced {
	for _, pf := range fr.produced {
		if pf.future == f {
			return pf
		}
	}
	return nil
}

// castRecord builds a record owned by the first operand. The nonce is derived
// from the invocation seed and the number of records created so far.
func (x *execution) castRecord(fr *frame, in *program.Instruction, args []value.Value) (value.Value, error) {
	name := in.CastType.Record
	def, ok := fr.prog.Record(name)
	if !ok {
		return nil, fmt.Errorf("%w: unknown record %s", vmerr.ErrUnresolvedTarget, name)
	}
	if len(args) != len(def.Entries)+1 {
		return nil, fmt.Errorf("%w: record %s takes an owner and %d entries", vmerr.ErrTypeOrRange, name, len(def.Entries))
	}
	owner, err := value.AsLiteral(args[0])
	if err != nil {
		return nil, err
	}
	entries := make([]value.Entry, len(def.Entries))
	for i, e := range def.Entries {
		pt, ok := args[i+1].(value.Plaintext)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s: expected plaintext, got %s", vmerr.ErrTypeOrRange, name, e.Name, args[i+1].Kind())
		}
		if err := fr.prog.CheckPlaintext(pt, e.Type); err != nil {
			return nil, fmt.Errorf("%w: %v", vmerr.ErrTypeOrRange, err)
		}
		entries[i] = value.Entry{Name: e.Name, Visibility: e.Visibility, Value: pt}
	}
	nonce := value.RecordNonce(fr.seed, fr.records)
	fr.records++
	r, err := value.NewRecord(fr.prog.ID, name, owner, value.Private, entries, nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vmerr.ErrTypeOrRange, err)
	}
	return r, nil
}
