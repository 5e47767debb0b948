// Package finalize executes finalize blocks: the on-chain continuation of a
// transaction, run against mapping state.
//
// A Future names the finalize block of program/function and carries its
// arguments. Running it binds the arguments to the block's inputs, then
// executes the block in program order. await runs a nested future to
// completion, synchronously and against the same state, before continuing;
// a branch may skip an await entirely. Futures supplied as inputs must still
// be resolvable and well-typed whether or not they are awaited.
package finalize

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/fortiblox/X1-Strata/pkg/interpreter"
	"github.com/fortiblox/X1-Strata/pkg/meter"
	"github.com/fortiblox/X1-Strata/pkg/program"
	"github.com/fortiblox/X1-Strata/pkg/value"
	"github.com/fortiblox/X1-Strata/pkg/vmerr"
)

// DefaultMaxAwaitDepth bounds nested awaits.
const DefaultMaxAwaitDepth = 32

// Config holds executor configuration.
type Config struct {
	// MaxAwaitDepth bounds await nesting; exceeding it is gas exhaustion.
	MaxAwaitDepth int

	Logger zerolog.Logger
}

// DefaultConfig returns the default executor configuration.
func DefaultConfig() Config {
	return Config{
		MaxAwaitDepth: DefaultMaxAwaitDepth,
		Logger:        zerolog.Nop(),
	}
}

// State is the mapping capability finalize blocks run against.
// *mapping.Overlay implements it.
type State interface {
	Get(program, mapping string, key value.Plaintext) (value.Plaintext, bool, error)
	GetOrUse(program, mapping string, key, def value.Plaintext) (value.Plaintext, error)
	Contains(program, mapping string, key value.Plaintext) (bool, error)
	Set(program, mapping string, key, val value.Plaintext)
	Remove(program, mapping string, key value.Plaintext) error
}

// Executor runs futures resolved through a registry.
type Executor struct {
	registry *program.Registry
	cfg      Config
	log      zerolog.Logger
}

// New creates an executor.
func New(registry *program.Registry, cfg Config) *Executor {
	if cfg.MaxAwaitDepth <= 0 {
		cfg.MaxAwaitDepth = DefaultMaxAwaitDepth
	}
	return &Executor{
		registry: registry,
		cfg:      cfg,
		log:      cfg.Logger.With().Str("component", "finalize").Logger(),
	}
}

// Run executes fut against state at the given block height. On failure the
// state may hold partial writes; the caller reverts to its snapshot.
func (e *Executor) Run(ctx context.Context, fut *value.Future, state State, m *meter.Meter, height uint32) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: finalize panic: %v", vmerr.ErrInternal, rec)
		}
	}()
	if err := e.Check(fut); err != nil {
		return err
	}
	r := &run{e: e, state: state, meter: m, height: height}
	return r.await(ctx, fut, 0)
}

// Check verifies that fut and every future nested in its arguments target a
// finalize block and match its declared inputs.
func (e *Executor) Check(fut *value.Future) error {
	return e.check(fut, 0)
}

func (e *Executor) check(fut *value.Future, depth int) error {
	if depth > e.cfg.MaxAwaitDepth {
		return fmt.Errorf("%w: futures nested deeper than %d", vmerr.ErrGasExceeded, e.cfg.MaxAwaitDepth)
	}
	f, p, err := e.resolve(fut)
	if err != nil {
		return err
	}
	inputs := f.Finalize.Inputs
	if fut.NumArguments() != len(inputs) {
		return fmt.Errorf("%w: %s finalize takes %d inputs, future has %d", vmerr.ErrMalformedFutureWiring, fut.Locator(), len(inputs), fut.NumArguments())
	}
	for i, in := range inputs {
		arg := fut.Argument(i)
		if err := p.CheckValue(arg, in.Type); err != nil {
			if in.Type.Kind == value.KindFuture || arg.Kind() == value.KindFuture {
				return fmt.Errorf("%w: %s input %d: %v", vmerr.ErrMalformedFutureWiring, fut.Locator(), i, err)
			}
			return fmt.Errorf("%w: %s input %d: %v", vmerr.ErrTypeOrRange, fut.Locator(), i, err)
		}
		if nested, ok := arg.(*value.Future); ok {
			if err := e.check(nested, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Executor) resolve(fut *value.Future) (*program.Function, *program.Program, error) {
	f, err := e.registry.ResolveLocator(fut.Locator())
	if err != nil {
		return nil, nil, err
	}
	if f.Finalize == nil {
		return nil, nil, fmt.Errorf("%w: %s has no finalize block", vmerr.ErrMalformedFutureWiring, fut.Locator())
	}
	p, err := e.registry.Program(f.Program)
	if err != nil {
		return nil, nil, err
	}
	return f, p, nil
}

// run is the state of one root future's execution.
type run struct {
	e      *Executor
	state  State
	meter  *meter.Meter
	height uint32
}

// block is one executing finalize block.
type block struct {
	fn      *program.Function
	prog    *program.Program
	regs    *interpreter.Registers
	env     interpreter.Env
	awaited map[*value.Future]bool
}

func (r *run) await(ctx context.Context, fut *value.Future, depth int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if depth > r.e.cfg.MaxAwaitDepth {
		return fmt.Errorf("%w: await depth exceeds %d", vmerr.ErrGasExceeded, r.e.cfg.MaxAwaitDepth)
	}
	f, p, err := r.e.resolve(fut)
	if err != nil {
		return err
	}
	fin := f.Finalize
	b := &block{
		fn:      f,
		prog:    p,
		regs:    interpreter.NewRegisters(fin.NumRegisters),
		env:     interpreter.Env{BlockHeight: r.height},
		awaited: make(map[*value.Future]bool),
	}
	r.e.log.Debug().Str("finalize", fut.Locator().String()).Int("depth", depth).Msg("await")

	for i, in := range fin.Inputs {
		if err := r.store(b, in.Register, fut.Argument(i)); err != nil {
			return err
		}
	}
	for pc := 0; pc < len(fin.Instructions); {
		in := &fin.Instructions[pc]
		if err := r.meter.ChargeInstruction(in.Op); err != nil {
			return err
		}
		next, err := r.step(ctx, b, in, pc, depth)
		if err != nil {
			return fmt.Errorf("%s finalize instruction %d (%s): %w", fut.Locator(), pc, in.Op, err)
		}
		pc = next
	}
	return nil
}

func (r *run) store(b *block, reg int, v value.Value) error {
	if err := r.meter.ChargeValue(v); err != nil {
		return err
	}
	return b.regs.Store(reg, v)
}

func (r *run) step(ctx context.Context, b *block, in *program.Instruction, pc, depth int) (int, error) {
	args, err := b.regs.LoadAll(in.Operands, &b.env)
	if err != nil {
		return 0, err
	}

	switch in.Op {
	case program.OpPosition:
		return pc + 1, nil

	case program.OpBranchEq, program.OpBranchNeq:
		if interpreter.Branch(in, args[0], args[1]) {
			return in.Jump, nil
		}
		return pc + 1, nil

	case program.OpAwait:
		fut, ok := args[0].(*value.Future)
		if !ok {
			return 0, fmt.Errorf("%w: await of a %s", vmerr.ErrMalformedFutureWiring, args[0].Kind())
		}
		if b.awaited[fut] {
			r.e.log.Warn().Str("future", fut.Locator().String()).Str("finalize", b.fn.Locator().String()).Msg("future awaited twice")
			return 0, fmt.Errorf("%w: %s awaited twice", vmerr.ErrMalformedFutureWiring, fut.Locator())
		}
		b.awaited[fut] = true
		if err := r.await(ctx, fut, depth+1); err != nil {
			return 0, err
		}
		return pc + 1, nil

	case program.OpGet, program.OpGetOrUse, program.OpContains, program.OpSet, program.OpRemove:
		out, err := r.mappingOp(b, in, args)
		if err != nil {
			return 0, err
		}
		if out != nil {
			if err := r.store(b, in.Dests[0], out); err != nil {
				return 0, err
			}
		}
		return pc + 1, nil
	}

	out, err := interpreter.Apply(b.prog, in, args)
	if err != nil {
		return 0, err
	}
	if out != nil {
		if err := r.store(b, in.Dests[0], out); err != nil {
			return 0, err
		}
	}
	return pc + 1, nil
}

// mappingOp executes a mapping instruction. Keys and values are checked
// against the mapping declaration in the program that owns the mapping.
func (r *run) mappingOp(b *block, in *program.Instruction, args []value.Value) (value.Value, error) {
	target := in.Target
	owner, err := r.e.registry.Program(target.Program)
	if err != nil {
		return nil, err
	}
	decl, ok := owner.Mapping(target.Resource)
	if !ok {
		return nil, fmt.Errorf("%w: mapping %s", vmerr.ErrUnresolvedTarget, target)
	}
	if (in.Op == program.OpSet || in.Op == program.OpRemove) && target.Program != b.fn.Program {
		return nil, fmt.Errorf("%w: %s cannot write %s", vmerr.ErrUnresolvedTarget, b.fn.Program, target)
	}

	keyArg := args[0]
	if in.Op == program.OpSet {
		keyArg = args[1]
	}
	key, err := r.checked(owner, keyArg, decl.Key, "key")
	if err != nil {
		return nil, err
	}

	switch in.Op {
	case program.OpGet:
		v, ok, err := r.state.Get(target.Program, target.Resource, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: key %s not in %s", vmerr.ErrUnresolvedTarget, key, target)
		}
		return v, nil
	case program.OpGetOrUse:
		def, err := r.checked(owner, args[1], decl.Value, "default")
		if err != nil {
			return nil, err
		}
		return r.state.GetOrUse(target.Program, target.Resource, key, def)
	case program.OpContains:
		ok, err := r.state.Contains(target.Program, target.Resource, key)
		if err != nil {
			return nil, err
		}
		return value.Lit(value.NewBoolean(ok)), nil
	case program.OpSet:
		val, err := r.checked(owner, args[0], decl.Value, "value")
		if err != nil {
			return nil, err
		}
		if err := r.meter.ChargeValue(val); err != nil {
			return nil, err
		}
		r.state.Set(target.Program, target.Resource, key, val)
		return nil, nil
	default:
		return nil, r.state.Remove(target.Program, target.Resource, key)
	}
}

func (r *run) checked(p *program.Program, v value.Value, t value.PlaintextType, what string) (value.Plaintext, error) {
	pt, ok := v.(value.Plaintext)
	if !ok {
		return value.Plaintext{}, fmt.Errorf("%w: mapping %s must be plaintext, got %s", vmerr.ErrTypeOrRange, what, v.Kind())
	}
	if err := p.CheckPlaintext(pt, t); err != nil {
		return value.Plaintext{}, fmt.Errorf("%w: mapping %s: %v", vmerr.ErrTypeOrRange, what, err)
	}
	return pt, nil
}
