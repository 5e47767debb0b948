// Package speculate implements the speculative transaction processor.
//
// The processor is responsible for:
//   - Validating the future wiring of a whole block before touching state
//   - Running each transaction's finalize futures in block order against a
//     copy-on-write overlay of committed mapping state
//   - Rolling back exactly the mutations of a failing transaction
//   - Committing the overlay once, after the whole block was speculated
//
// Transactions never observe each other's intermediate state: a later
// transaction sees the net effect of every earlier accepted one.
package speculate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/fortiblox/X1-Strata/internal/types"
	"github.com/fortiblox/X1-Strata/pkg/finalize"
	"github.com/fortiblox/X1-Strata/pkg/mapping"
	"github.com/fortiblox/X1-Strata/pkg/meter"
	"github.com/fortiblox/X1-Strata/pkg/value"
	"github.com/fortiblox/X1-Strata/pkg/vmerr"
)

// Errors.
var (
	ErrMalformedBlock   = errors.New("malformed block")
	ErrHeightMismatch   = errors.New("height mismatch")
	ErrAlreadyCommitted = errors.New("speculation already committed")
	ErrBlockAborted     = errors.New("block aborted")
)

// Config holds processor configuration.
type Config struct {
	// Meter supplies the per-byte register charge. Ceilings come from each
	// candidate's budget.
	Meter meter.Config `yaml:"meter"`

	// MaxTransactions bounds the size of a block. Zero means unbounded.
	MaxTransactions int `yaml:"max_transactions"`

	// OnTransactionComplete is called after each transaction is speculated.
	OnTransactionComplete func(o Outcome) `yaml:"-"`

	Logger zerolog.Logger `yaml:"-"`
}

// DefaultConfig returns the default processor configuration.
func DefaultConfig() Config {
	return Config{
		Meter:           meter.DefaultConfig(),
		MaxTransactions: 1024,
		Logger:          zerolog.Nop(),
	}
}

// Candidate is one transaction offered for speculation.
type Candidate struct {
	// ID identifies the transaction.
	ID types.Hash

	// Future is the root future of the main execution. Nil when the
	// executed function has no finalize block.
	Future *value.Future

	// Budget is the finalize budget left after the execute phase.
	Budget uint64

	// Fee is the fee finalize future. Nil when fees are disabled.
	Fee *value.Future

	// FeeBudget is the finalize budget of the fee execution.
	FeeBudget uint64
}

// Status is the speculation outcome of a transaction.
type Status uint8

const (
	// Accepted transactions keep their finalize mutations.
	Accepted Status = iota
	// Rejected transactions stay in the block with only the fee applied.
	Rejected
	// Aborted transactions failed their fee and are dropped from the block.
	Aborted
)

// String returns the status keyword.
func (s Status) String() string {
	switch s {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	default:
		return "aborted"
	}
}

// Outcome is the result of speculating one transaction.
type Outcome struct {
	ID     types.Hash
	Status Status

	// Err is the failure that rejected or aborted the transaction.
	Err  error
	Kind vmerr.Kind

	// GasUsed is what the main finalize consumed; FeeGasUsed the fee's.
	GasUsed    uint64
	FeeGasUsed uint64
}

// Processor speculates blocks over a committed mapping store.
type Processor struct {
	mu sync.Mutex

	exec   *finalize.Executor
	store  mapping.Store
	config Config
	log    zerolog.Logger
}

// New creates a processor.
func New(exec *finalize.Executor, store mapping.Store, config Config) *Processor {
	return &Processor{
		exec:   exec,
		store:  store,
		config: config,
		log:    config.Logger.With().Str("component", "speculate").Logger(),
	}
}

// Validate checks the future wiring of every candidate. All findings are
// returned together; any finding makes the block malformed.
func (p *Processor) Validate(txs []Candidate) error {
	var result *multierror.Error
	if p.config.MaxTransactions > 0 && len(txs) > p.config.MaxTransactions {
		result = multierror.Append(result, fmt.Errorf("%d transactions exceed the limit of %d", len(txs), p.config.MaxTransactions))
	}
	seen := make(map[types.Hash]int, len(txs))
	for i, tx := range txs {
		if j, ok := seen[tx.ID]; ok {
			result = multierror.Append(result, fmt.Errorf("transaction %d repeats %s from transaction %d", i, tx.ID, j))
		}
		seen[tx.ID] = i
		if tx.Future != nil {
			if err := p.exec.Check(tx.Future); err != nil {
				result = multierror.Append(result, fmt.Errorf("transaction %s: %w", tx.ID, err))
			}
		}
		if tx.Fee != nil {
			if err := p.exec.Check(tx.Fee); err != nil {
				result = multierror.Append(result, fmt.Errorf("transaction %s fee: %w", tx.ID, err))
			}
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedBlock, err)
	}
	return nil
}

// Speculate validates txs and runs them in order at height, which must
// follow the committed height. The returned Speculation holds the resulting
// overlay; nothing reaches the store until it is committed.
func (p *Processor) Speculate(ctx context.Context, height uint32, txs []Candidate) (*Speculation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if committed := p.store.Height(); height != committed+1 {
		return nil, fmt.Errorf("%w: committed=%d, requested=%d", ErrHeightMismatch, committed, height)
	}
	if err := p.Validate(txs); err != nil {
		return nil, err
	}

	s := &Speculation{
		height:   height,
		overlay:  mapping.NewOverlay(p.store),
		Outcomes: make([]Outcome, 0, len(txs)),
		p:        p,
	}
	for i := range txs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		o, err := p.speculateTransaction(ctx, s.overlay, height, &txs[i])
		if err != nil {
			p.log.Error().Err(err).Uint32("height", height).Str("tx", txs[i].ID.String()).Msg("block aborted")
			return nil, fmt.Errorf("%w: transaction %s: %w", ErrBlockAborted, txs[i].ID, err)
		}
		s.Outcomes = append(s.Outcomes, o)
		if p.config.OnTransactionComplete != nil {
			p.config.OnTransactionComplete(o)
		}
	}

	p.log.Debug().
		Uint32("height", height).
		Int("accepted", s.Count(Accepted)).
		Int("rejected", s.Count(Rejected)).
		Int("aborted", s.Count(Aborted)).
		Msg("block speculated")
	return s, nil
}

// speculateTransaction runs one transaction. The returned error is non-nil
// only for fatal failures.
func (p *Processor) speculateTransaction(ctx context.Context, overlay *mapping.Overlay, height uint32, tx *Candidate) (Outcome, error) {
	o := Outcome{ID: tx.ID, Status: Accepted}
	snap := overlay.Snapshot()

	if tx.Future != nil {
		m := p.meter(tx.Budget)
		err := p.exec.Run(ctx, tx.Future, overlay, m, height)
		o.GasUsed = m.Consumed()
		if err != nil {
			if vmerr.IsFatal(err) {
				return o, err
			}
			if err := overlay.Revert(snap); err != nil {
				return o, err
			}
			o.Status, o.Err, o.Kind = Rejected, err, vmerr.Classify(err)
			p.log.Info().Str("tx", tx.ID.String()).Str("kind", o.Kind.String()).Err(err).Msg("transaction rejected")
		}
	}

	if tx.Fee != nil {
		m := p.meter(tx.FeeBudget)
		err := p.exec.Run(ctx, tx.Fee, overlay, m, height)
		o.FeeGasUsed = m.Consumed()
		if err != nil {
			if vmerr.IsFatal(err) {
				return o, err
			}
			if err := overlay.Revert(snap); err != nil {
				return o, err
			}
			o.Status, o.Err, o.Kind = Aborted, err, vmerr.Classify(err)
			p.log.Info().Str("tx", tx.ID.String()).Str("kind", o.Kind.String()).Err(err).Msg("transaction aborted: fee failed")
		}
	}
	return o, nil
}

func (p *Processor) meter(budget uint64) *meter.Meter {
	cfg := p.config.Meter
	cfg.Ceiling = budget
	return meter.New(cfg)
}

// Speculation is a speculated block awaiting commit.
type Speculation struct {
	// Outcomes holds one entry per candidate, in block order.
	Outcomes []Outcome

	height    uint32
	overlay   *mapping.Overlay
	committed bool
	p         *Processor
}

// Height returns the block height speculated.
func (s *Speculation) Height() uint32 {
	return s.height
}

// Digest commits to the state changes the block would make.
func (s *Speculation) Digest() types.Hash {
	return s.overlay.Digest()
}

// Writes returns the net mapping writes in key order.
func (s *Speculation) Writes() []mapping.Write {
	return s.overlay.Writes()
}

// Count returns the number of outcomes with status st.
func (s *Speculation) Count(st Status) int {
	n := 0
	for _, o := range s.Outcomes {
		if o.Status == st {
			n++
		}
	}
	return n
}

// Commit atomically applies the block's net mutations to the store.
func (s *Speculation) Commit() error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()

	if s.committed {
		return ErrAlreadyCommitted
	}
	if committed := s.p.store.Height(); s.height != committed+1 {
		return fmt.Errorf("%w: committed=%d, speculated=%d", ErrHeightMismatch, committed, s.height)
	}
	if err := s.overlay.Commit(s.height); err != nil {
		return err
	}
	s.committed = true
	s.p.log.Debug().Uint32("height", s.height).Msg("block committed")
	return nil
}
