package ledger

import (
	"encoding/binary"
	"fmt"

	"github.com/fortiblox/X1-Strata/internal/types"
	"github.com/fortiblox/X1-Strata/pkg/interpreter"
	"github.com/fortiblox/X1-Strata/pkg/value"
)

// Transition is the stored form of one completed invocation. Values are kept
// in their canonical encoding.
type Transition struct {
	ID       types.Hash
	Program  string
	Function string

	InputIDs []types.Hash

	// Outputs are canonical value encodings; the future, when present, is last.
	Outputs          [][]byte
	OutputIDs        []types.Hash
	OutputVisibility []value.Visibility
}

// NewTransition converts an interpreter transition.
func NewTransition(t *interpreter.Transition) Transition {
	out := Transition{
		ID:               t.ID,
		Program:          t.Program,
		Function:         t.Function,
		InputIDs:         append([]types.Hash(nil), t.InputIDs...),
		Outputs:          make([][]byte, len(t.Outputs)),
		OutputIDs:        append([]types.Hash(nil), t.OutputIDs...),
		OutputVisibility: append([]value.Visibility(nil), t.OutputVisibility...),
	}
	for i, v := range t.Outputs {
		out.Outputs[i] = value.Encode(v)
	}
	return out
}

// Locator returns program/function.
func (t *Transition) Locator() types.Locator {
	return types.Locator{Program: t.Program, Resource: t.Function}
}

// DecodeOutputs decodes the stored outputs.
func (t *Transition) DecodeOutputs() ([]value.Value, error) {
	out := make([]value.Value, len(t.Outputs))
	for i, raw := range t.Outputs {
		v, err := value.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s output %d: %v", ErrCorrupted, t.ID, i, err)
		}
		out[i] = v
	}
	return out, nil
}

// Execution is an ordered list of transitions produced by one top-level call,
// root last.
type Execution struct {
	Transitions []Transition

	// GasUsed is what the execute phase consumed.
	GasUsed uint64

	// Future is the encoded root future, or nil when the root function has
	// no finalize block.
	Future []byte
}

// NewExecution converts an interpreter result.
func NewExecution(res *interpreter.Result, gasUsed uint64) Execution {
	e := Execution{
		Transitions: make([]Transition, len(res.Transitions)),
		GasUsed:     gasUsed,
	}
	for i, t := range res.Transitions {
		e.Transitions[i] = NewTransition(t)
	}
	if res.Future != nil {
		e.Future = value.Encode(res.Future)
	}
	return e
}

// Root returns the root transition.
func (e *Execution) Root() *Transition {
	if len(e.Transitions) == 0 {
		return nil
	}
	return &e.Transitions[len(e.Transitions)-1]
}

// RootFuture decodes the root future. It returns nil, nil when there is none.
func (e *Execution) RootFuture() (*value.Future, error) {
	if e.Future == nil {
		return nil, nil
	}
	v, err := value.Decode(e.Future)
	if err != nil {
		return nil, fmt.Errorf("%w: root future: %v", ErrCorrupted, err)
	}
	f, ok := v.(*value.Future)
	if !ok {
		return nil, fmt.Errorf("%w: root future decodes to a %s", ErrCorrupted, v.Kind())
	}
	return f, nil
}

// Transaction is a main execution plus an optional fee execution.
type Transaction struct {
	ID        types.Hash
	Execution Execution
	Fee       *Execution
}

// NewTransaction assembles a transaction and derives its id.
func NewTransaction(exec Execution, fee *Execution) *Transaction {
	tx := &Transaction{Execution: exec, Fee: fee}
	tx.ID = tx.ComputeID()
	return tx
}

// ComputeID returns keccak-256 over the transition ids of the execution
// followed by those of the fee.
func (tx *Transaction) ComputeID() types.Hash {
	parts := make([][]byte, 0, len(tx.Execution.Transitions)+1)
	for i := range tx.Execution.Transitions {
		parts = append(parts, tx.Execution.Transitions[i].ID.Bytes())
	}
	if tx.Fee != nil {
		for i := range tx.Fee.Transitions {
			parts = append(parts, tx.Fee.Transitions[i].ID.Bytes())
		}
	}
	return types.Keccak(parts...)
}

// Status is the finalize outcome of a confirmed transaction.
type Status uint8

const (
	StatusAccepted Status = iota
	StatusRejected
)

// String returns the status keyword.
func (s Status) String() string {
	if s == StatusRejected {
		return "rejected"
	}
	return "accepted"
}

// ConfirmedTransaction is a transaction as included in a block.
type ConfirmedTransaction struct {
	Index       uint32
	Status      Status
	Transaction Transaction

	// Error is the rejection reason.
	Error string
}

// Block is a batch of confirmed transactions and the state they produce.
type Block struct {
	Height       uint32
	PreviousHash types.Hash

	// StateDigest commits to the net mapping writes of the block.
	StateDigest types.Hash

	Transactions []ConfirmedTransaction

	// Aborted lists transactions dropped because their fee failed.
	Aborted []types.Hash

	Hash types.Hash
}

// ComputeHash returns blake3 over the header, each confirmed transaction's
// id and status, and the aborted ids.
func (b *Block) ComputeHash() types.Hash {
	var hdr [12]byte
	binary.LittleEndian.PutUint32(hdr[0:4], b.Height)
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(b.Transactions)))
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(b.Aborted)))

	parts := make([][]byte, 0, 3+2*len(b.Transactions)+len(b.Aborted))
	parts = append(parts, hdr[:], b.PreviousHash.Bytes(), b.StateDigest.Bytes())
	for i := range b.Transactions {
		ct := &b.Transactions[i]
		parts = append(parts, ct.Transaction.ID.Bytes(), []byte{byte(ct.Status)})
	}
	for _, id := range b.Aborted {
		parts = append(parts, id.Bytes())
	}
	return types.HashWithDomain(types.DomainBlock, parts...)
}

// Seal sets the block hash.
func (b *Block) Seal() {
	b.Hash = b.ComputeHash()
}

// Verify checks the block's internal consistency.
func (b *Block) Verify() error {
	for i := range b.Transactions {
		ct := &b.Transactions[i]
		if ct.Index != uint32(i) {
			return fmt.Errorf("%w: transaction %d has index %d", ErrInvalidBlock, i, ct.Index)
		}
		if id := ct.Transaction.ComputeID(); id != ct.Transaction.ID {
			return fmt.Errorf("%w: transaction %d id %s, computed %s", ErrInvalidBlock, i, ct.Transaction.ID, id)
		}
	}
	if h := b.ComputeHash(); h != b.Hash {
		return fmt.Errorf("%w: hash %s, computed %s", ErrInvalidBlock, b.Hash, h)
	}
	return nil
}

// Transaction returns the confirmed transaction with the given id.
func (b *Block) Transaction(id types.Hash) (*ConfirmedTransaction, bool) {
	for i := range b.Transactions {
		if b.Transactions[i].Transaction.ID == id {
			return &b.Transactions[i], true
		}
	}
	return nil, false
}
