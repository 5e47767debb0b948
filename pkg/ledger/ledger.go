package ledger

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/fortiblox/X1-Strata/internal/types"
)

// Config holds ledger configuration.
type Config struct {
	// MaxTransactions bounds confirmed plus aborted transactions per block.
	// Zero means unbounded.
	MaxTransactions int `yaml:"max_transactions"`

	// OnBlockAdded is called after each block is stored.
	OnBlockAdded func(b *Block) `yaml:"-"`

	Logger zerolog.Logger `yaml:"-"`
}

// DefaultConfig returns the default ledger configuration.
func DefaultConfig() Config {
	return Config{
		MaxTransactions: 1024,
		Logger:          zerolog.Nop(),
	}
}

// Ledger appends blocks to a store, one height at a time.
type Ledger struct {
	mu     sync.Mutex
	store  Store
	config Config
	log    zerolog.Logger
}

// New creates a ledger over store.
func New(store Store, config Config) *Ledger {
	return &Ledger{
		store:  store,
		config: config,
		log:    config.Logger.With().Str("component", "ledger").Logger(),
	}
}

// Head returns the latest height and hash.
func (l *Ledger) Head() (uint32, types.Hash) {
	return l.store.Head()
}

// NextBlock starts a block extending the current head.
func (l *Ledger) NextBlock() *Block {
	h, hash := l.store.Head()
	return &Block{Height: h + 1, PreviousHash: hash}
}

// CheckNextBlock reports every reason b cannot extend the chain.
func (l *Ledger) CheckNextBlock(b *Block) error {
	var result *multierror.Error

	head, hash := l.store.Head()
	if b.Height != head+1 {
		result = multierror.Append(result, fmt.Errorf("height %d does not follow %d", b.Height, head))
	}
	if b.PreviousHash != hash {
		result = multierror.Append(result, fmt.Errorf("previous hash %s, head is %s", b.PreviousHash, hash))
	}
	if err := b.Verify(); err != nil {
		result = multierror.Append(result, err)
	}
	if n := len(b.Transactions) + len(b.Aborted); l.config.MaxTransactions > 0 && n > l.config.MaxTransactions {
		result = multierror.Append(result, fmt.Errorf("%d transactions exceed the limit of %d", n, l.config.MaxTransactions))
	}

	seen := make(map[types.Hash]bool, len(b.Transactions)+len(b.Aborted))
	check := func(id types.Hash) {
		if seen[id] {
			result = multierror.Append(result, fmt.Errorf("transaction %s appears twice", id))
		}
		seen[id] = true
		if l.store.HasTransaction(id) {
			result = multierror.Append(result, fmt.Errorf("transaction %s already in the ledger", id))
		}
	}
	for i := range b.Transactions {
		check(b.Transactions[i].Transaction.ID)
	}
	for _, id := range b.Aborted {
		check(id)
	}

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBlock, err)
	}
	return nil
}

// AddNextBlock checks b and stores it.
func (l *Ledger) AddNextBlock(b *Block) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.CheckNextBlock(b); err != nil {
		return err
	}
	if err := l.store.PutBlock(b); err != nil {
		return err
	}
	l.log.Debug().
		Uint32("height", b.Height).
		Str("hash", b.Hash.String()).
		Int("transactions", len(b.Transactions)).
		Int("aborted", len(b.Aborted)).
		Msg("block added")
	if l.config.OnBlockAdded != nil {
		l.config.OnBlockAdded(b)
	}
	return nil
}

// Block returns the block at height.
func (l *Ledger) Block(height uint32) (*Block, error) {
	return l.store.GetBlock(height)
}

// Transaction returns a confirmed transaction and its block height.
func (l *Ledger) Transaction(id types.Hash) (*ConfirmedTransaction, uint32, error) {
	return l.store.GetTransaction(id)
}
