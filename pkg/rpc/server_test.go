package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Strata/pkg/ledger"
	"github.com/fortiblox/X1-Strata/pkg/mapping"
	"github.com/fortiblox/X1-Strata/pkg/report"
	"github.com/fortiblox/X1-Strata/pkg/value"
)

const fixtureYAML = `
programs:
  - program: counter.aleo
    mappings:
      - {name: total, key: address, value: u64}
    functions:
      - name: inc
        inputs: [{register: r0, type: u64, visibility: public}]
        instructions:
          - {op: async, operands: [inc, self.signer, r0], into: [r1]}
        outputs: [{register: r0, type: u64, visibility: public}]
        finalize:
          inputs: [{register: r0, type: address}, {register: r1, type: u64}]
          instructions:
            - {op: get.or_use, operands: [total, r0, 0u64], into: [r2]}
            - {op: add, operands: [r2, r1], into: [r3]}
            - {op: set, operands: [r3, total, r0]}
cases:
  - {program: counter.aleo, function: inc, inputs: [5u64]}
  - {program: counter.aleo, function: inc, inputs: [8u64]}
`

// rpcResponse mirrors Response with the result left undecoded.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	f, err := report.ParseFixture([]byte(fixtureYAML))
	require.NoError(t, err)
	r, err := report.NewRunner(f, mapping.NewMemoryStore(), ledger.NewMemoryStore(), report.DefaultConfig())
	require.NoError(t, err)
	_, err = r.Run(context.Background())
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Version = "test"
	return New(cfg, r.VM())
}

func post(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func call(t *testing.T, s *Server, method string, params ...interface{}) rpcResponse {
	t.Helper()
	if params == nil {
		params = []interface{}{}
	}
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0", "id": 1, "method": method, "params": params,
	})
	require.NoError(t, err)
	rec := post(t, s, string(body))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp rpcResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func result(t *testing.T, resp rpcResponse, dst interface{}) {
	t.Helper()
	require.Nil(t, resp.Error, "unexpected error: %v", resp.Error)
	require.NoError(t, json.Unmarshal(resp.Result, dst))
}

var signer = value.LiteralPlaintext(report.DefaultSigner).String()

func TestLatest(t *testing.T) {
	s := newTestServer(t)

	var height uint32
	result(t, call(t, s, "getLatestHeight"), &height)
	assert.Equal(t, uint32(2), height)

	var hash string
	result(t, call(t, s, "getLatestHash"), &hash)

	var b BlockView
	result(t, call(t, s, "getLatestBlock"), &b)
	assert.Equal(t, uint32(2), b.Height)
	assert.Equal(t, hash, b.Hash)
}

func TestBlocks(t *testing.T) {
	s := newTestServer(t)

	var b BlockView
	result(t, call(t, s, "getBlock", 1), &b)
	assert.Equal(t, uint32(1), b.Height)
	require.Len(t, b.Transactions, 1)
	tx := b.Transactions[0]
	assert.Equal(t, "accepted", tx.Status)
	require.NotNil(t, tx.Fee)
	root := tx.Execution.Transitions[len(tx.Execution.Transitions)-1]
	assert.Equal(t, "counter.aleo/inc", root.Function)
	require.Len(t, root.Outputs, 2)
	assert.Equal(t, "5u64", root.Outputs[0].Value)
	assert.Equal(t, "future", root.Outputs[1].Type)

	var blocks []BlockView
	result(t, call(t, s, "getBlocks", 1, 3), &blocks)
	require.Len(t, blocks, 2)
	assert.Equal(t, b.Hash, blocks[1].PreviousHash)

	var txs []TransactionView
	result(t, call(t, s, "getTransactions", 2), &txs)
	require.Len(t, txs, 1)
	assert.Equal(t, uint32(2), txs[0].Height)

	tests := []struct {
		name   string
		method string
		params []interface{}
		code   int
	}{
		{"missing block", "getBlock", []interface{}{9}, NotFound},
		{"no params", "getBlock", nil, InvalidParams},
		{"reversed range", "getBlocks", []interface{}{3, 1}, InvalidParams},
		{"wide range", "getBlocks", []interface{}{0, 100}, RangeTooLarge},
		{"range past head", "getBlocks", []interface{}{1, 5}, NotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := call(t, s, tt.method, tt.params...)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestTransaction(t *testing.T) {
	s := newTestServer(t)

	var b BlockView
	result(t, call(t, s, "getBlock", 2), &b)
	id := b.Transactions[0].ID

	var tx TransactionView
	result(t, call(t, s, "getTransaction", id), &tx)
	assert.Equal(t, id, tx.ID)
	assert.Equal(t, uint32(2), tx.Height)
	assert.Equal(t, b.Transactions[0].Execution, tx.Execution)

	resp := call(t, s, "getTransaction", b.Hash)
	require.NotNil(t, resp.Error)
	assert.Equal(t, NotFound, resp.Error.Code)

	resp = call(t, s, "getTransaction", "not-a-hash")
	require.NotNil(t, resp.Error)
	assert.Equal(t, InvalidParams, resp.Error.Code)
}

func TestProgram(t *testing.T) {
	s := newTestServer(t)

	var ids []string
	result(t, call(t, s, "getPrograms"), &ids)
	assert.Equal(t, []string{"credits.aleo", "counter.aleo"}, ids)

	var p ProgramView
	result(t, call(t, s, "getProgram", "counter.aleo"), &p)
	assert.Equal(t, "counter.aleo", p.ID)
	assert.Equal(t, []MappingView{{Name: "total", Key: "address", Value: "u64"}}, p.Mappings)
	require.Len(t, p.Functions, 1)
	inc := p.Functions[0]
	assert.Equal(t, "inc", inc.Name)
	require.NotNil(t, inc.Finalize)
	assert.Len(t, inc.Finalize.Instructions, 3)

	resp := call(t, s, "getProgram", "missing.aleo")
	require.NotNil(t, resp.Error)
	assert.Equal(t, NotFound, resp.Error.Code)
}

func TestMappingQueries(t *testing.T) {
	s := newTestServer(t)

	var v string
	result(t, call(t, s, "getMappingValue", "counter.aleo", "total", signer), &v)
	assert.Equal(t, "13u64", v)

	resp := call(t, s, "getMappingValue", "counter.aleo", "total", value.LiteralPlaintext(value.AddressFromSeed(99)).String())
	require.Nil(t, resp.Error)
	assert.Equal(t, "null", string(resp.Result))

	var entries []EntryView
	result(t, call(t, s, "getMappingEntries", "counter.aleo", "total"), &entries)
	assert.Equal(t, []EntryView{{Key: signer, Value: "13u64"}}, entries)

	tests := []struct {
		name   string
		method string
		params []interface{}
		code   int
	}{
		{"wrong key type", "getMappingValue", []interface{}{"counter.aleo", "total", "1u8"}, InvalidParams},
		{"bad key", "getMappingValue", []interface{}{"counter.aleo", "total", "???"}, InvalidParams},
		{"unknown mapping", "getMappingValue", []interface{}{"counter.aleo", "nope", signer}, NotFound},
		{"unknown program", "getMappingEntries", []interface{}{"missing.aleo", "total"}, NotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := call(t, s, tt.method, tt.params...)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestProtocol(t *testing.T) {
	s := newTestServer(t)

	resp := call(t, s, "sendTransaction")
	require.NotNil(t, resp.Error)
	assert.Equal(t, MethodNotFound, resp.Error.Code)

	var rpcResp rpcResponse
	rec := post(t, s, `{"jsonrpc":"1.0","id":7,"method":"getHealth"}`)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rpcResp))
	require.NotNil(t, rpcResp.Error)
	assert.Equal(t, InvalidRequest, rpcResp.Error.Code)

	rec = post(t, s, `{not json`)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rpcResp))
	assert.Equal(t, ParseError, rpcResp.Error.Code)

	var batch []rpcResponse
	rec = post(t, s, `[{"jsonrpc":"2.0","id":1,"method":"getHealth"},{"jsonrpc":"2.0","id":2,"method":"getVersion"}]`)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batch))
	require.Len(t, batch, 2)
	assert.Equal(t, `"ok"`, string(batch[0].Result))
	assert.JSONEq(t, `{"strata":"test"}`, string(batch[1].Result))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
