package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/fortiblox/X1-Strata/internal/types"
	"github.com/fortiblox/X1-Strata/pkg/ledger"
	"github.com/fortiblox/X1-Strata/pkg/mapping"
	"github.com/fortiblox/X1-Strata/pkg/program"
	"github.com/fortiblox/X1-Strata/pkg/value"
	"github.com/fortiblox/X1-Strata/pkg/vm"
	"github.com/fortiblox/X1-Strata/pkg/vmerr"
)

// DefaultSigner signs cases that name no signer.
var DefaultSigner = value.AddressFromSeed(1)

// Fixture is a set of programs, initial state and calls to run against them.
type Fixture struct {
	Programs []*program.Manifest `yaml:"programs"`
	Genesis  []GenesisEntry      `yaml:"genesis,omitempty"`

	// Fees overrides the VM's fee setting when present.
	Fees *bool `yaml:"fees,omitempty"`

	Cases []FixtureCase `yaml:"cases"`
}

// GenesisEntry seeds one mapping key.
type GenesisEntry struct {
	Program string `yaml:"program"`
	Mapping string `yaml:"mapping"`
	Key     string `yaml:"key"`
	Value   string `yaml:"value"`
}

// FixtureCase is one top-level call.
type FixtureCase struct {
	Program  string   `yaml:"program"`
	Function string   `yaml:"function"`
	Inputs   []string `yaml:"inputs,omitempty"`
	Signer   string   `yaml:"signer,omitempty"`
}

// ParseFixture decodes a fixture. Unknown fields are rejected.
func ParseFixture(data []byte) (*Fixture, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var f Fixture
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	if len(f.Cases) == 0 {
		return nil, errors.New("fixture has no cases")
	}
	return &f, nil
}

// LoadFixture reads and decodes a fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	f, err := ParseFixture(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Config holds runner configuration.
type Config struct {
	VM vm.Config `yaml:"vm"`

	// Funds is credited to every case signer at genesis when fees are on
	// and the fixture does not fund the signer itself.
	Funds uint64 `yaml:"funds"`

	Logger zerolog.Logger `yaml:"-"`
}

// DefaultConfig returns the default runner configuration.
func DefaultConfig() Config {
	return Config{
		VM:     vm.DefaultConfig(),
		Funds:  1_000_000_000,
		Logger: zerolog.Nop(),
	}
}

type call struct {
	req vm.Request
	err error
}

// Runner runs a fixture case by case, one block per case.
type Runner struct {
	vm    *vm.VM
	calls []call
	log   zerolog.Logger
}

// NewRunner builds a VM over the given stores, deploys the fixture's
// programs and, on an empty ledger, applies its genesis state.
func NewRunner(f *Fixture, state mapping.Store, blocks ledger.Store, config Config) (*Runner, error) {
	if f.Fees != nil {
		config.VM.Fees = *f.Fees
	}
	config.VM.Logger = config.Logger
	machine, err := vm.New(state, blocks, config.VM)
	if err != nil {
		return nil, err
	}
	for i, m := range f.Programs {
		p, err := m.Build()
		if err != nil {
			return nil, fmt.Errorf("program %d: %w", i, err)
		}
		if err := machine.AddProgram(p); err != nil {
			return nil, err
		}
	}

	r := &Runner{
		vm:    machine,
		calls: make([]call, len(f.Cases)),
		log:   config.Logger.With().Str("component", "report").Logger(),
	}
	for i, c := range f.Cases {
		r.calls[i] = parseCase(c, uint64(i))
	}

	if head, _ := machine.Ledger().Head(); head != 0 {
		r.log.Info().Uint32("height", head).Msg("ledger not empty, skipping genesis")
		return r, nil
	}
	writes, err := genesis(f.Genesis)
	if err != nil {
		return nil, err
	}
	if config.VM.Fees {
		writes = r.fund(writes, config.Funds)
	}
	if err := machine.Genesis(writes); err != nil {
		return nil, err
	}
	return r, nil
}

// VM returns the runner's VM.
func (r *Runner) VM() *vm.VM {
	return r.vm
}

func parseCase(c FixtureCase, nonce uint64) call {
	req := vm.Request{Program: c.Program, Function: c.Function, Signer: DefaultSigner, Nonce: nonce}
	if c.Signer != "" {
		l, err := value.ParseLiteral(c.Signer)
		if err != nil {
			return call{err: fmt.Errorf("signer: %w", err)}
		}
		if l.Type() != value.TypeAddress {
			return call{err: fmt.Errorf("signer %s is not an address", c.Signer)}
		}
		req.Signer = l
	}
	req.Inputs = make([]value.Value, len(c.Inputs))
	for i, s := range c.Inputs {
		pt, err := value.ParsePlaintext(s)
		if err != nil {
			return call{err: fmt.Errorf("input %d: %w", i, err)}
		}
		req.Inputs[i] = pt
	}
	return call{req: req}
}

func genesis(entries []GenesisEntry) ([]mapping.Write, error) {
	writes := make([]mapping.Write, len(entries))
	for i, e := range entries {
		k, err := value.ParsePlaintext(e.Key)
		if err != nil {
			return nil, fmt.Errorf("genesis entry %d key: %w", i, err)
		}
		v, err := value.ParsePlaintext(e.Value)
		if err != nil {
			return nil, fmt.Errorf("genesis entry %d value: %w", i, err)
		}
		writes[i] = mapping.Write{Program: e.Program, Mapping: e.Mapping, Key: k, Value: v}
	}
	return writes, nil
}

// fund credits every distinct case signer the fixture leaves unfunded.
func (r *Runner) fund(writes []mapping.Write, amount uint64) []mapping.Write {
	funded := make(map[string]bool)
	for _, w := range writes {
		if w.Program == types.CreditsProgram && w.Mapping == "account" {
			funded[w.Key.String()] = true
		}
	}
	for _, c := range r.calls {
		if c.err != nil {
			continue
		}
		key := value.LiteralPlaintext(c.req.Signer)
		if funded[key.String()] {
			continue
		}
		funded[key.String()] = true
		writes = append(writes, mapping.Write{
			Program: types.CreditsProgram,
			Mapping: "account",
			Key:     key,
			Value:   value.LiteralPlaintext(value.NewU64(amount)),
		})
	}
	return writes
}

// Run executes every case against the current head in parallel, then
// commits each as its own block in case order. Case failures are recorded in
// the report; the returned error is reserved for failures that leave the VM
// unusable.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	execs, errs := r.execute(ctx)
	rep := &Report{Cases: make([]Case, 0, len(r.calls))}
	for i := range r.calls {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		out, err := r.runCase(ctx, execs[i], errs[i])
		if err != nil {
			return rep, fmt.Errorf("case %d: %w", i, err)
		}
		r.log.Debug().Int("case", i).Str("speculate", out.Speculate).Str("add_next_block", out.AddNextBlock).Msg("case finished")
		rep.Cases = append(rep.Cases, out)
	}
	return rep, nil
}

// execute runs the well-formed cases through one batch. Malformed cases keep
// their parse error.
func (r *Runner) execute(ctx context.Context) ([]*vm.Execution, []error) {
	execs := make([]*vm.Execution, len(r.calls))
	errs := make([]error, len(r.calls))
	var (
		reqs []vm.Request
		idx  []int
	)
	for i, c := range r.calls {
		if c.err != nil {
			errs[i] = c.err
			continue
		}
		reqs = append(reqs, c.req)
		idx = append(idx, i)
	}
	batch, batchErrs := r.vm.ExecuteBatch(ctx, reqs)
	for j, i := range idx {
		execs[i] = batch[j]
		if batchErrs[j] != nil {
			errs[i] = fmt.Errorf("%s: %w", vmerr.Classify(batchErrs[j]), batchErrs[j])
		}
	}
	return execs, errs
}

func (r *Runner) runCase(ctx context.Context, exec *vm.Execution, err error) (Case, error) {
	if err != nil {
		return Case{Error: err.Error()}, nil
	}

	out := Case{Verified: r.vm.Verify(exec), Execute: FromResult(exec.Result)}
	if exec.Fee != nil {
		out.Fee = FromResult(exec.Fee.Result)
	}

	p, err := r.vm.PrepareBlock(ctx, []*vm.Execution{exec})
	if err != nil {
		out.AddNextBlock, out.Error = Failed, err.Error()
		return out, nil
	}
	o := p.Speculation.Outcomes[0]
	out.Speculate = o.Status.String()
	if o.Err != nil {
		out.Error = fmt.Sprintf("%s: %v", o.Kind, o.Err)
	}

	if err := r.vm.AddNextBlock(p); err != nil {
		if errors.Is(err, vm.ErrStateMismatch) {
			return out, err
		}
		out.AddNextBlock, out.Error = Failed, err.Error()
		return out, nil
	}
	out.AddNextBlock = Succeeded
	return out, nil
}
