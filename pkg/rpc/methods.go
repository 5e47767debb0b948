package rpc

import (
	"encoding/json"

	"github.com/fortiblox/X1-Strata/internal/types"
	"github.com/fortiblox/X1-Strata/pkg/value"
)

// null is the result of a lookup that found nothing.
var null = json.RawMessage("null")

// parseParams decodes positional params into dst. At least required params
// must be present.
func parseParams(params json.RawMessage, required int, dst ...interface{}) *RPCError {
	var args []json.RawMessage
	if len(params) > 0 {
		if err := json.Unmarshal(params, &args); err != nil {
			return InvalidParamsErrorf("params must be an array")
		}
	}
	if len(args) < required {
		return InvalidParamsErrorf("expected %d params, got %d", required, len(args))
	}
	for i := range dst {
		if i >= len(args) {
			break
		}
		if err := json.Unmarshal(args[i], dst[i]); err != nil {
			return InvalidParamsErrorf("param %d: %v", i, err)
		}
	}
	return nil
}

func (s *Server) getLatestHeight(params json.RawMessage) (interface{}, *RPCError) {
	height, _ := s.vm.Ledger().Head()
	return height, nil
}

func (s *Server) getLatestHash(params json.RawMessage) (interface{}, *RPCError) {
	_, hash := s.vm.Ledger().Head()
	return hash.String(), nil
}

func (s *Server) getLatestBlock(params json.RawMessage) (interface{}, *RPCError) {
	height, _ := s.vm.Ledger().Head()
	b, err := s.vm.Ledger().Block(height)
	if err != nil {
		return nil, fromError(err)
	}
	return NewBlockView(b), nil
}

func (s *Server) getBlock(params json.RawMessage) (interface{}, *RPCError) {
	var height uint32
	if rpcErr := parseParams(params, 1, &height); rpcErr != nil {
		return nil, rpcErr
	}
	b, err := s.vm.Ledger().Block(height)
	if err != nil {
		return nil, fromError(err)
	}
	return NewBlockView(b), nil
}

// getBlocks returns the blocks in [start, end).
func (s *Server) getBlocks(params json.RawMessage) (interface{}, *RPCError) {
	var start, end uint32
	if rpcErr := parseParams(params, 2, &start, &end); rpcErr != nil {
		return nil, rpcErr
	}
	if start > end {
		return nil, InvalidParamsErrorf("invalid block range %d..%d", start, end)
	}
	if end-start > MaxBlockRange {
		rpcErr := NewRPCError(RangeTooLarge, "too many blocks requested")
		rpcErr.Data = map[string]uint32{"max": MaxBlockRange, "requested": end - start}
		return nil, rpcErr
	}
	blocks := make([]BlockView, 0, end-start)
	for h := start; h < end; h++ {
		b, err := s.vm.Ledger().Block(h)
		if err != nil {
			return nil, fromError(err)
		}
		blocks = append(blocks, NewBlockView(b))
	}
	return blocks, nil
}

func (s *Server) getTransactions(params json.RawMessage) (interface{}, *RPCError) {
	var height uint32
	if rpcErr := parseParams(params, 1, &height); rpcErr != nil {
		return nil, rpcErr
	}
	b, err := s.vm.Ledger().Block(height)
	if err != nil {
		return nil, fromError(err)
	}
	return NewBlockView(b).Transactions, nil
}

func (s *Server) getTransaction(params json.RawMessage) (interface{}, *RPCError) {
	var raw string
	if rpcErr := parseParams(params, 1, &raw); rpcErr != nil {
		return nil, rpcErr
	}
	id, err := types.ParseHash(raw)
	if err != nil {
		return nil, InvalidParamsErrorf("invalid transaction id: %v", err)
	}
	ct, height, err := s.vm.Ledger().Transaction(id)
	if err != nil {
		return nil, fromError(err)
	}
	return NewTransactionView(ct, height), nil
}

func (s *Server) getProgram(params json.RawMessage) (interface{}, *RPCError) {
	var id string
	if rpcErr := parseParams(params, 1, &id); rpcErr != nil {
		return nil, rpcErr
	}
	p, err := s.vm.Program(id)
	if err != nil {
		return nil, fromError(err)
	}
	stack, err := s.vm.Imports(id)
	if err != nil {
		return nil, fromError(err)
	}
	return NewProgramView(p, stack), nil
}

func (s *Server) getPrograms(params json.RawMessage) (interface{}, *RPCError) {
	return s.vm.Programs(), nil
}

// getMappingValue returns the committed value at [program, mapping, key], or
// null when the key is absent.
func (s *Server) getMappingValue(params json.RawMessage) (interface{}, *RPCError) {
	var prog, name, rawKey string
	if rpcErr := parseParams(params, 3, &prog, &name, &rawKey); rpcErr != nil {
		return nil, rpcErr
	}
	key, err := value.ParsePlaintext(rawKey)
	if err != nil {
		return nil, InvalidParamsErrorf("invalid key: %v", err)
	}
	v, ok, err := s.vm.Value(prog, name, key)
	if err != nil {
		return nil, fromError(err)
	}
	if !ok {
		return null, nil
	}
	return v.String(), nil
}

func (s *Server) getMappingEntries(params json.RawMessage) (interface{}, *RPCError) {
	var prog, name string
	if rpcErr := parseParams(params, 2, &prog, &name); rpcErr != nil {
		return nil, rpcErr
	}
	entries := []EntryView{}
	err := s.vm.Entries(prog, name, func(k, v value.Plaintext) error {
		entries = append(entries, EntryView{Key: k.String(), Value: v.String()})
		return nil
	})
	if err != nil {
		return nil, fromError(err)
	}
	return entries, nil
}

func (s *Server) getHealth(params json.RawMessage) (interface{}, *RPCError) {
	return "ok", nil
}

func (s *Server) getVersion(params json.RawMessage) (interface{}, *RPCError) {
	return map[string]string{"strata": s.config.Version}, nil
}
