// Package vm ties the execution pipeline together.
//
// A call goes through four stages:
//   - Execute runs the function off-chain, producing transitions, a proof and
//     the root future; with fees enabled a credits.aleo/fee_public execution
//     is attached
//   - Verify checks the proof against the transition ids
//   - PrepareBlock speculates the finalize phase of a list of executions and
//     seals the resulting block
//   - AddNextBlock commits the block's state and appends it to the ledger
package vm

import (
	"context"
	_ "embed"
	"encoding/binary"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/fortiblox/X1-Strata/internal/types"
	"github.com/fortiblox/X1-Strata/pkg/finalize"
	"github.com/fortiblox/X1-Strata/pkg/interpreter"
	"github.com/fortiblox/X1-Strata/pkg/ledger"
	"github.com/fortiblox/X1-Strata/pkg/mapping"
	"github.com/fortiblox/X1-Strata/pkg/meter"
	"github.com/fortiblox/X1-Strata/pkg/program"
	"github.com/fortiblox/X1-Strata/pkg/speculate"
	"github.com/fortiblox/X1-Strata/pkg/value"
	"github.com/fortiblox/X1-Strata/pkg/vmerr"
)

//go:embed credits.yaml
var creditsManifest []byte

// Errors.
var (
	ErrStateMismatch = errors.New("mapping state and ledger disagree")
	ErrGenesis       = errors.New("genesis already applied")
	ErrNotVerified   = errors.New("execution proof does not verify")
)

// Config holds VM configuration.
type Config struct {
	// Meter is the per-transaction cost ceiling and per-byte charge.
	Meter meter.Config `yaml:"meter"`

	// MaxCallDepth bounds nested calls.
	MaxCallDepth int `yaml:"max_call_depth"`

	// MaxAwaitDepth bounds nested awaits.
	MaxAwaitDepth int `yaml:"max_await_depth"`

	// Fees attaches a fee execution to every transaction.
	Fees bool `yaml:"fees"`

	// BaseFee plus FeePerUnit times the execute-phase consumption is the fee.
	BaseFee    uint64 `yaml:"base_fee"`
	FeePerUnit uint64 `yaml:"fee_per_unit"`

	// Workers bounds parallel execute phases in ExecuteBatch.
	Workers int `yaml:"workers"`

	// MaxTransactions bounds the size of a block.
	MaxTransactions int `yaml:"max_transactions"`

	// Prover and Verifier default to DigestProver.
	Prover   Prover   `yaml:"-"`
	Verifier Verifier `yaml:"-"`

	Logger zerolog.Logger `yaml:"-"`
}

// DefaultConfig returns the default VM configuration.
func DefaultConfig() Config {
	return Config{
		Meter:           meter.DefaultConfig(),
		MaxCallDepth:    interpreter.DefaultMaxCallDepth,
		MaxAwaitDepth:   finalize.DefaultMaxAwaitDepth,
		Fees:            true,
		BaseFee:         1000,
		FeePerUnit:      1,
		Workers:         runtime.NumCPU(),
		MaxTransactions: 1024,
		Logger:          zerolog.Nop(),
	}
}

// VM executes programs and maintains the ledger.
type VM struct {
	// mu guards the registry: programs are added under the write lock and
	// executions read it under the read lock.
	mu sync.RWMutex

	registry  *program.Registry
	interp    *interpreter.Interpreter
	finalizer *finalize.Executor
	processor *speculate.Processor
	ledger    *ledger.Ledger
	state     mapping.Store

	config Config
	log    zerolog.Logger
}

// New creates a VM over committed mapping state and a block store. The two
// must be at the same height.
func New(state mapping.Store, blocks ledger.Store, config Config) (*VM, error) {
	if head, _ := blocks.Head(); head != state.Height() {
		return nil, fmt.Errorf("%w: state at height %d, ledger at %d", ErrStateMismatch, state.Height(), head)
	}
	if config.Prover == nil {
		config.Prover = DigestProver{}
	}
	if config.Verifier == nil {
		config.Verifier = DigestProver{}
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}

	registry := program.NewRegistry()
	credits, err := program.Parse(creditsManifest)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", types.CreditsProgram, err)
	}
	if err := registry.Add(credits[0]); err != nil {
		return nil, err
	}

	finalizer := finalize.New(registry, finalize.Config{
		MaxAwaitDepth: config.MaxAwaitDepth,
		Logger:        config.Logger,
	})
	return &VM{
		registry: registry,
		interp: interpreter.New(registry, interpreter.Config{
			MaxCallDepth: config.MaxCallDepth,
			Logger:       config.Logger,
		}),
		finalizer: finalizer,
		processor: speculate.New(finalizer, state, speculate.Config{
			Meter:           config.Meter,
			MaxTransactions: config.MaxTransactions,
			Logger:          config.Logger,
		}),
		ledger: ledger.New(blocks, ledger.Config{
			MaxTransactions: config.MaxTransactions,
			Logger:          config.Logger,
		}),
		state:  state,
		config: config,
		log:    config.Logger.With().Str("component", "vm").Logger(),
	}, nil
}

// AddProgram registers p. Its imports must already be registered.
func (vm *VM) AddProgram(p *program.Program) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if err := vm.registry.Add(p); err != nil {
		return err
	}
	vm.log.Info().Str("program", p.ID).Msg("program added")
	return nil
}

// Programs returns the registered program ids in registration order.
func (vm *VM) Programs() []string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.registry.Programs()
}

// Program returns the registered program id.
func (vm *VM) Program(id string) (*program.Program, error) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.registry.Program(id)
}

// Imports returns id followed by every program it transitively imports.
func (vm *VM) Imports(id string) ([]*program.Program, error) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.registry.Stack(id)
}

// Value reads a committed mapping entry. The key must have the mapping's
// declared key type.
func (vm *VM) Value(programID, name string, key value.Plaintext) (value.Plaintext, bool, error) {
	if err := vm.checkKey(programID, name, key); err != nil {
		return value.Plaintext{}, false, err
	}
	return vm.state.Get(programID, name, key)
}

// Entries calls fn for every committed entry of a mapping in key order.
func (vm *VM) Entries(programID, name string, fn func(key, val value.Plaintext) error) error {
	vm.mu.RLock()
	_, err := vm.registry.ResolveMapping(programID, name)
	vm.mu.RUnlock()
	if err != nil {
		return err
	}
	return vm.state.Iterate(programID, name, fn)
}

func (vm *VM) checkKey(programID, name string, key value.Plaintext) error {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	decl, err := vm.registry.ResolveMapping(programID, name)
	if err != nil {
		return err
	}
	p, err := vm.registry.Program(programID)
	if err != nil {
		return err
	}
	if err := p.CheckPlaintext(key, decl.Key); err != nil {
		return fmt.Errorf("%w: %s/%s key: %v", vmerr.ErrTypeOrRange, programID, name, err)
	}
	return nil
}

// Ledger returns the VM's ledger.
func (vm *VM) Ledger() *ledger.Ledger {
	return vm.ledger
}

// State returns the committed mapping store.
func (vm *VM) State() mapping.Store {
	return vm.state
}

// Genesis seeds mapping state before the first block.
func (vm *VM) Genesis(writes []mapping.Write) error {
	if head, _ := vm.ledger.Head(); head != 0 || vm.state.Height() != 0 {
		return ErrGenesis
	}
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	for i, w := range writes {
		decl, err := vm.registry.ResolveMapping(w.Program, w.Mapping)
		if err != nil {
			return fmt.Errorf("genesis write %d: %w", i, err)
		}
		p, err := vm.registry.Program(w.Program)
		if err != nil {
			return fmt.Errorf("genesis write %d: %w", i, err)
		}
		if err := p.CheckPlaintext(w.Key, decl.Key); err != nil {
			return fmt.Errorf("genesis write %d key: %w", i, err)
		}
		if !w.Delete {
			if err := p.CheckPlaintext(w.Value, decl.Value); err != nil {
				return fmt.Errorf("genesis write %d value: %w", i, err)
			}
		}
	}
	return vm.state.Apply(0, writes)
}

// Request is a top-level call.
type Request struct {
	Program  string
	Function string
	Inputs   []value.Value
	Signer   value.Literal

	// Nonce distinguishes otherwise identical requests.
	Nonce uint64
}

// Execution is a proved, not yet finalized call.
type Execution struct {
	Request Request
	Result  *interpreter.Result
	Proof   Proof

	// GasUsed is the execute-phase consumption; FinalizeBudget what is left
	// of the ceiling for the finalize phase.
	GasUsed        uint64
	FinalizeBudget uint64

	// Fee is the attached fee execution, nil when fees are disabled.
	Fee *Execution

	Transaction *ledger.Transaction
}

// TransitionIDs returns the public inputs of the execution's proof.
func (e *Execution) TransitionIDs() []types.Hash {
	ids := make([]types.Hash, len(e.Result.Transitions))
	for i, t := range e.Result.Transitions {
		ids[i] = t.ID
	}
	return ids
}

// seed derives the per-request seed from the chain head, so the same request
// yields different ids in different blocks.
func (vm *VM) seed(req Request, head types.Hash) types.Hash {
	var nonce [8]byte
	binary.LittleEndian.PutUint64(nonce[:], req.Nonce)
	return types.HashWithDomain(types.DomainRequest,
		head.Bytes(),
		value.Encode(value.Lit(req.Signer)),
		[]byte(req.Program), []byte{0},
		[]byte(req.Function), []byte{0},
		nonce[:],
	)
}

// Execute runs req off-chain. A failing call produces no transaction.
func (vm *VM) Execute(ctx context.Context, req Request) (*Execution, error) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()

	_, head := vm.ledger.Head()
	seed := vm.seed(req, head)

	exec, err := vm.run(ctx, req, seed)
	if err != nil {
		return nil, err
	}

	var feeExec *ledger.Execution
	if vm.config.Fees {
		amount := vm.config.BaseFee + vm.config.FeePerUnit*exec.GasUsed
		fee, err := vm.run(ctx, Request{
			Program:  types.CreditsProgram,
			Function: types.FeeFunction,
			Inputs:   []value.Value{value.Lit(value.NewU64(amount))},
			Signer:   req.Signer,
			Nonce:    req.Nonce,
		}, types.HashWithDomain(types.DomainRequest, seed.Bytes(), []byte(types.FeeFunction)))
		if err != nil {
			return nil, fmt.Errorf("fee: %w", err)
		}
		exec.Fee = fee
		e := ledger.NewExecution(fee.Result, fee.GasUsed)
		feeExec = &e
	}
	exec.Transaction = ledger.NewTransaction(ledger.NewExecution(exec.Result, exec.GasUsed), feeExec)

	vm.log.Debug().
		Str("function", req.Program+"/"+req.Function).
		Str("tx", exec.Transaction.ID.String()).
		Uint64("gas", exec.GasUsed).
		Msg("executed")
	return exec, nil
}

func (vm *VM) run(ctx context.Context, req Request, seed types.Hash) (*Execution, error) {
	m := meter.New(vm.config.Meter)
	res, err := vm.interp.Execute(ctx, interpreter.Request{
		Program:  req.Program,
		Function: req.Function,
		Inputs:   req.Inputs,
		Signer:   req.Signer,
		Seed:     seed,
	}, m)
	if err != nil {
		return nil, err
	}
	exec := &Execution{
		Request:        req,
		Result:         res,
		GasUsed:        m.Consumed(),
		FinalizeBudget: m.Finalize().Limit(),
	}
	exec.Proof, err = vm.config.Prover.Prove(Witness{Transitions: exec.TransitionIDs(), Trace: res.Trace})
	if err != nil {
		return nil, fmt.Errorf("prove %s/%s: %w", req.Program, req.Function, err)
	}
	return exec, nil
}

// ExecuteBatch runs independent requests in parallel. Results and errors are
// indexed like reqs; a failing request does not stop the others.
func (vm *VM) ExecuteBatch(ctx context.Context, reqs []Request) ([]*Execution, []error) {
	execs := make([]*Execution, len(reqs))
	errs := make([]error, len(reqs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(vm.config.Workers)
	for i := range reqs {
		i := i
		g.Go(func() error {
			execs[i], errs[i] = vm.Execute(ctx, reqs[i])
			return nil
		})
	}
	_ = g.Wait()
	return execs, errs
}

// Verify checks e's proofs, including the fee's.
func (vm *VM) Verify(e *Execution) bool {
	if !vm.config.Verifier.Verify(e.Proof, e.TransitionIDs()) {
		return false
	}
	if e.Fee != nil {
		return vm.Verify(e.Fee)
	}
	return true
}

// PendingBlock is a sealed block whose state is not yet committed.
type PendingBlock struct {
	Block       *ledger.Block
	Speculation *speculate.Speculation
}

// PrepareBlock verifies and speculates execs in order and seals the block
// they form. Nothing is committed.
func (vm *VM) PrepareBlock(ctx context.Context, execs []*Execution) (*PendingBlock, error) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()

	candidates := make([]speculate.Candidate, len(execs))
	for i, e := range execs {
		if !vm.Verify(e) {
			return nil, fmt.Errorf("%w: transaction %s", ErrNotVerified, e.Transaction.ID)
		}
		c := speculate.Candidate{
			ID:     e.Transaction.ID,
			Future: e.Result.Future,
			Budget: e.FinalizeBudget,
		}
		if e.Fee != nil {
			c.Fee, c.FeeBudget = e.Fee.Result.Future, e.Fee.FinalizeBudget
		}
		candidates[i] = c
	}

	b := vm.ledger.NextBlock()
	speculation, err := vm.processor.Speculate(ctx, b.Height, candidates)
	if err != nil {
		return nil, err
	}

	for i, o := range speculation.Outcomes {
		switch o.Status {
		case speculate.Aborted:
			b.Aborted = append(b.Aborted, o.ID)
		default:
			ct := ledger.ConfirmedTransaction{
				Index:       uint32(len(b.Transactions)),
				Status:      ledger.StatusAccepted,
				Transaction: *execs[i].Transaction,
			}
			if o.Status == speculate.Rejected {
				ct.Status, ct.Error = ledger.StatusRejected, o.Err.Error()
			}
			b.Transactions = append(b.Transactions, ct)
		}
	}
	b.StateDigest = speculation.Digest()
	b.Seal()
	return &PendingBlock{Block: b, Speculation: speculation}, nil
}

// AddNextBlock commits the pending block's state and appends it to the
// ledger. The block is checked before any state moves.
func (vm *VM) AddNextBlock(p *PendingBlock) error {
	if err := vm.ledger.CheckNextBlock(p.Block); err != nil {
		return err
	}
	if err := p.Speculation.Commit(); err != nil {
		return fmt.Errorf("commit state: %w", err)
	}
	if err := vm.ledger.AddNextBlock(p.Block); err != nil {
		return fmt.Errorf("%w: state committed at %d but block not stored: %v", ErrStateMismatch, p.Block.Height, err)
	}
	vm.log.Info().
		Uint32("height", p.Block.Height).
		Str("hash", p.Block.Hash.String()).
		Int("accepted", p.Speculation.Count(speculate.Accepted)).
		Int("rejected", p.Speculation.Count(speculate.Rejected)).
		Int("aborted", p.Speculation.Count(speculate.Aborted)).
		Msg("block added")
	return nil
}
