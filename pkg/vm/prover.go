package vm

import (
	"encoding/binary"

	"github.com/fortiblox/X1-Strata/internal/types"
	"github.com/fortiblox/X1-Strata/pkg/interpreter"
	"github.com/fortiblox/X1-Strata/pkg/value"
)

// Witness is the private input to proving: the register trace of an
// execution together with its public transition ids.
type Witness struct {
	Transitions []types.Hash
	Trace       []interpreter.Step
}

// Proof attests to an execution.
type Proof struct {
	// Statement binds the proof to the public inputs.
	Statement types.Hash

	// Commitment commits to the witness trace.
	Commitment types.Hash
}

// Prover produces proofs.
type Prover interface {
	Prove(w Witness) (Proof, error)
}

// Verifier checks proofs against public inputs.
type Verifier interface {
	Verify(p Proof, publicInputs []types.Hash) bool
}

// DigestProver is a transparent stand-in for a zero-knowledge backend. Its
// proofs are hashes: they bind the transition ids but prove nothing about
// the trace.
type DigestProver struct{}

// Prove implements Prover.
func (DigestProver) Prove(w Witness) (Proof, error) {
	return Proof{
		Statement:  statement(w.Transitions),
		Commitment: traceCommitment(w.Trace),
	}, nil
}

// Verify implements Verifier.
func (DigestProver) Verify(p Proof, publicInputs []types.Hash) bool {
	return len(publicInputs) > 0 && p.Statement == statement(publicInputs)
}

func statement(ids []types.Hash) types.Hash {
	parts := make([][]byte, len(ids))
	for i := range ids {
		parts[i] = ids[i].Bytes()
	}
	return types.HashWithDomain(types.DomainProof, parts...)
}

func traceCommitment(trace []interpreter.Step) types.Hash {
	parts := make([][]byte, 0, 3*len(trace))
	for _, s := range trace {
		fn := s.Function.String()
		var hdr [4]byte
		binary.LittleEndian.PutUint16(hdr[:2], uint16(len(fn)))
		binary.LittleEndian.PutUint16(hdr[2:], uint16(s.Register))
		parts = append(parts, hdr[:], []byte(fn), value.Encode(s.Value))
	}
	return types.HashWithDomain(types.DomainProof, parts...)
}

var (
	_ Prover   = DigestProver{}
	_ Verifier = DigestProver{}
)
