package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/fortiblox/X1-Strata/pkg/ledger"
	"github.com/fortiblox/X1-Strata/pkg/program"
	"github.com/fortiblox/X1-Strata/pkg/value"
)

// JSONRPCVersion is the only protocol version served.
const JSONRPCVersion = "2.0"

// Request is a JSON-RPC request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// BlockView is a block with hashes rendered as base58.
type BlockView struct {
	Height       uint32            `json:"height" yaml:"height"`
	Hash         string            `json:"hash" yaml:"hash"`
	PreviousHash string            `json:"previousHash" yaml:"previous_hash"`
	StateDigest  string            `json:"stateDigest" yaml:"state_digest"`
	Transactions []TransactionView `json:"transactions" yaml:"transactions"`
	Aborted      []string          `json:"aborted,omitempty" yaml:"aborted,omitempty"`
}

// TransactionView is a confirmed transaction.
type TransactionView struct {
	ID        string         `json:"id" yaml:"id"`
	Height    uint32         `json:"height" yaml:"height"`
	Index     uint32         `json:"index" yaml:"index"`
	Status    string         `json:"status" yaml:"status"`
	Error     string         `json:"error,omitempty" yaml:"error,omitempty"`
	Execution ExecutionView  `json:"execution" yaml:"execution"`
	Fee       *ExecutionView `json:"fee,omitempty" yaml:"fee,omitempty"`
}

// ExecutionView lists an execution's transitions, root last.
type ExecutionView struct {
	GasUsed     uint64           `json:"gasUsed" yaml:"gas_used"`
	Transitions []TransitionView `json:"transitions" yaml:"transitions"`
}

// TransitionView is one stored transition.
type TransitionView struct {
	ID       string       `json:"id" yaml:"id"`
	Function string       `json:"function" yaml:"function"`
	Inputs   []string     `json:"inputs" yaml:"inputs"`
	Outputs  []OutputView `json:"outputs" yaml:"outputs"`
}

// OutputView is one transition output. Private values are withheld.
type OutputView struct {
	ID       string `json:"id" yaml:"id"`
	Type     string `json:"type" yaml:"type"`
	Value    string `json:"value,omitempty" yaml:"value,omitempty"`
	Checksum string `json:"checksum,omitempty" yaml:"checksum,omitempty"`
}

// ProgramView renders a loaded program.
type ProgramView struct {
	ID        string         `json:"id" yaml:"id"`
	Imports   []string       `json:"imports,omitempty" yaml:"imports,omitempty"`
	Stack     []string       `json:"stack,omitempty" yaml:"stack,omitempty"`
	Mappings  []MappingView  `json:"mappings,omitempty" yaml:"mappings,omitempty"`
	Structs   []string       `json:"structs,omitempty" yaml:"structs,omitempty"`
	Records   []string       `json:"records,omitempty" yaml:"records,omitempty"`
	Functions []FunctionView `json:"functions" yaml:"functions"`
}

// MappingView is a mapping declaration.
type MappingView struct {
	Name  string `json:"name" yaml:"name"`
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// FunctionView is a function with its finalize block.
type FunctionView struct {
	Name         string    `json:"name" yaml:"name"`
	Inputs       []string  `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Instructions []string  `json:"instructions,omitempty" yaml:"instructions,omitempty"`
	Outputs      []string  `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	Finalize     *BodyView `json:"finalize,omitempty" yaml:"finalize,omitempty"`
}

// BodyView is a finalize block.
type BodyView struct {
	Inputs       []string `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Instructions []string `json:"instructions,omitempty" yaml:"instructions,omitempty"`
}

// EntryView is one mapping entry.
type EntryView struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// NewBlockView renders b.
func NewBlockView(b *ledger.Block) BlockView {
	v := BlockView{
		Height:       b.Height,
		Hash:         b.Hash.String(),
		PreviousHash: b.PreviousHash.String(),
		StateDigest:  b.StateDigest.String(),
		Transactions: make([]TransactionView, len(b.Transactions)),
	}
	for i := range b.Transactions {
		v.Transactions[i] = NewTransactionView(&b.Transactions[i], b.Height)
	}
	for _, id := range b.Aborted {
		v.Aborted = append(v.Aborted, id.String())
	}
	return v
}

// NewTransactionView renders ct confirmed at height.
func NewTransactionView(ct *ledger.ConfirmedTransaction, height uint32) TransactionView {
	v := TransactionView{
		ID:        ct.Transaction.ID.String(),
		Height:    height,
		Index:     ct.Index,
		Status:    ct.Status.String(),
		Error:     ct.Error,
		Execution: newExecutionView(&ct.Transaction.Execution),
	}
	if ct.Transaction.Fee != nil {
		fee := newExecutionView(ct.Transaction.Fee)
		v.Fee = &fee
	}
	return v
}

func newExecutionView(e *ledger.Execution) ExecutionView {
	v := ExecutionView{GasUsed: e.GasUsed, Transitions: make([]TransitionView, len(e.Transitions))}
	for i := range e.Transitions {
		v.Transitions[i] = newTransitionView(&e.Transitions[i])
	}
	return v
}

func newTransitionView(t *ledger.Transition) TransitionView {
	v := TransitionView{
		ID:       t.ID.String(),
		Function: t.Locator().String(),
		Inputs:   make([]string, len(t.InputIDs)),
		Outputs:  make([]OutputView, len(t.Outputs)),
	}
	for i, id := range t.InputIDs {
		v.Inputs[i] = id.String()
	}
	for i, raw := range t.Outputs {
		o := OutputView{ID: t.OutputIDs[i].String()}
		val, err := value.Decode(raw)
		if err != nil {
			o.Type = "invalid"
			v.Outputs[i] = o
			continue
		}
		switch val := val.(type) {
		case *value.Record:
			o.Type = "record"
			o.Checksum = val.Checksum().String()
		case *value.Future:
			o.Type = "future"
			o.Value = val.String()
		default:
			o.Type = t.OutputVisibility[i].String()
			if t.OutputVisibility[i] != value.Private {
				o.Value = val.String()
			}
		}
		v.Outputs[i] = o
	}
	return v
}

// NewProgramView renders p. stack is p followed by its transitive imports.
func NewProgramView(p *program.Program, stack []*program.Program) ProgramView {
	v := ProgramView{
		ID:        p.ID,
		Imports:   p.Imports,
		Functions: make([]FunctionView, len(p.Functions)),
	}
	for _, dep := range stack {
		if dep.ID != p.ID {
			v.Stack = append(v.Stack, dep.ID)
		}
	}
	for _, m := range p.Mappings {
		v.Mappings = append(v.Mappings, MappingView{Name: m.Name, Key: m.Key.String(), Value: m.Value.String()})
	}
	for _, s := range p.Structs {
		v.Structs = append(v.Structs, s.Name)
	}
	for _, r := range p.Records {
		v.Records = append(v.Records, r.Name)
	}
	for i, f := range p.Functions {
		fv := FunctionView{
			Name:         f.Name,
			Inputs:       inputs(f.Inputs, true),
			Instructions: instructions(f.Instructions),
		}
		for _, o := range f.Outputs {
			fv.Outputs = append(fv.Outputs, fmt.Sprintf("%s as %s.%s", o.Operand, o.Type, o.Visibility))
		}
		if f.Finalize != nil {
			fv.Finalize = &BodyView{
				Inputs:       inputs(f.Finalize.Inputs, false),
				Instructions: instructions(f.Finalize.Instructions),
			}
		}
		v.Functions[i] = fv
	}
	return v
}

func inputs(in []program.Input, visibility bool) []string {
	out := make([]string, len(in))
	for i, x := range in {
		if visibility {
			out[i] = fmt.Sprintf("r%d as %s.%s", x.Register, x.Type, x.Visibility)
		} else {
			out[i] = fmt.Sprintf("r%d as %s", x.Register, x.Type)
		}
	}
	return out
}

func instructions(in []program.Instruction) []string {
	out := make([]string, len(in))
	for i := range in {
		out[i] = in[i].String()
	}
	return out
}
