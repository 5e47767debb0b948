package value

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/fortiblox/X1-Strata/internal/types"
)

// Entry is one named field of a record.
type Entry struct {
	Name       string
	Visibility Visibility
	Value      Plaintext
}

// Record is an owned private structured value. Its checksum is the hash of
// its canonical encoding and is fixed at construction.
type Record struct {
	program  string
	name     string
	owner    Literal
	ownerVis Visibility
	entries  []Entry
	nonce    Literal
	checksum types.Hash
}

// NewRecord builds a record of type program/name owned by owner.
func NewRecord(program, name string, owner Literal, ownerVis Visibility, entries []Entry, nonce Literal) (*Record, error) {
	if err := types.ValidateProgramID(program); err != nil {
		return nil, err
	}
	if err := types.ValidateIdentifier(name); err != nil {
		return nil, err
	}
	if owner.Type() != TypeAddress {
		return nil, fmt.Errorf("record owner must be an address, got %s", owner.Type())
	}
	if nonce.Type() != TypeGroup {
		return nil, fmt.Errorf("record nonce must be a group, got %s", nonce.Type())
	}
	if len(entries) > maxMembers {
		return nil, fmt.Errorf("record has %d entries, limit is %d", len(entries), maxMembers)
	}
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if err := types.ValidateIdentifier(e.Name); err != nil {
			return nil, err
		}
		if e.Name == "owner" || seen[e.Name] {
			return nil, fmt.Errorf("duplicate record entry %q", e.Name)
		}
		seen[e.Name] = true
	}
	r := &Record{
		program:  program,
		name:     name,
		owner:    owner,
		ownerVis: ownerVis,
		entries:  append([]Entry(nil), entries...),
		nonce:    nonce,
	}
	r.checksum = types.HashWithDomain(types.DomainRecord, r.appendBody(nil))
	return r, nil
}

// RecordNonce derives the deterministic nonce for the index-th record output
// of a transition: H(seed, index) reduced to a scalar, times the generator.
func RecordNonce(seed types.Hash, index uint16) Literal {
	h := types.HashWithDomain(types.DomainRecord, []byte("nonce"), seed.Bytes(), []byte{byte(index), byte(index >> 8)})
	return Literal{typ: TypeGroup, point: scalarMulGenerator(hashToScalar(h))}
}

// ProgramAddress derives the address of a program from its id. It is the
// caller seen by functions invoked from that program.
func ProgramAddress(id string) Literal {
	h := types.HashWithDomain(types.DomainProgram, []byte(id))
	k := hashToScalar(h)
	if k.Sign() == 0 {
		k.SetUint64(1)
	}
	return Literal{typ: TypeAddress, point: scalarMulGenerator(k)}
}

// hashToScalar reads h as a little-endian integer reduced modulo the scalar
// order.
func hashToScalar(h types.Hash) *big.Int {
	le := h.Bytes()
	be := make([]byte, len(le))
	for i := range le {
		be[i] = le[len(le)-1-i]
	}
	k := new(big.Int).SetBytes(be)
	return k.Mod(k, scalarOrderRef())
}

// Kind implements Value.
func (r *Record) Kind() Kind { return KindRecord }

// Program returns the program that declares the record type.
func (r *Record) Program() string { return r.program }

// Name returns the record type name.
func (r *Record) Name() string { return r.name }

// Owner returns the owner address.
func (r *Record) Owner() Literal { return r.owner }

// OwnerVisibility returns the owner's declared visibility.
func (r *Record) OwnerVisibility() Visibility { return r.ownerVis }

// Nonce returns the record nonce.
func (r *Record) Nonce() Literal { return r.nonce }

// Checksum returns the content hash of the record.
func (r *Record) Checksum() types.Hash { return r.checksum }

// Entries returns a copy of the entries in declaration order.
func (r *Record) Entries() []Entry {
	return append([]Entry(nil), r.entries...)
}

// Entry returns the entry named name. "owner" yields the owner address.
func (r *Record) Entry(name string) (Plaintext, bool) {
	if name == "owner" {
		return LiteralPlaintext(r.owner), true
	}
	for _, e := range r.entries {
		if e.Name == name {
			return e.Value, true
		}
	}
	return Plaintext{}, false
}

// Equal implements Value.
func (r *Record) Equal(v Value) bool {
	o, ok := v.(*Record)
	if !ok || r == nil || o == nil {
		return ok && r == o
	}
	return r.checksum == o.checksum
}

func (r *Record) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s/%s { owner: %s.%s", r.program, r.name, r.owner, r.ownerVis)
	for _, e := range r.entries {
		fmt.Fprintf(&sb, ", %s: %s.%s", e.Name, e.Value, e.Visibility)
	}
	fmt.Fprintf(&sb, ", _nonce: %s }", r.nonce)
	return sb.String()
}
