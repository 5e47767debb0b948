package program

import (
	"errors"
	"fmt"
	"sync"

	"github.com/fortiblox/X1-Strata/internal/types"
	"github.com/fortiblox/X1-Strata/pkg/vmerr"
)

// ErrDuplicateProgram is returned when a program id is registered twice.
var ErrDuplicateProgram = errors.New("program already registered")

// Registry resolves program-qualified function and mapping names. Programs
// must be added after every program they import, so the import graph of a
// registry built through Add is acyclic. Stack still walks with a visited set
// and fails closed on anything inconsistent.
//
// A Registry is safe for concurrent readers.
type Registry struct {
	mu       sync.RWMutex
	programs map[string]*Program
	order    []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{programs: make(map[string]*Program)}
}

// Add registers p after checking its cross-program references: imports must
// already be registered, call targets must exist with a matching number of
// destinations, and external mapping reads must name declared mappings.
func (r *Registry) Add(p *Program) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.programs[p.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateProgram, p.ID)
	}
	for _, imp := range p.Imports {
		if _, ok := r.programs[imp]; !ok {
			return fmt.Errorf("%w: %s imports unknown program %s", vmerr.ErrUnresolvedTarget, p.ID, imp)
		}
	}
	lookup := func(id string) (*Program, bool) {
		if id == p.ID {
			return p, true
		}
		q, ok := r.programs[id]
		return q, ok
	}
	for _, f := range p.Functions {
		if err := checkLinks(f.Locator(), f.Instructions, lookup); err != nil {
			return fmt.Errorf("%s/%s: %w", p.ID, f.Name, err)
		}
		if f.Finalize != nil {
			if err := checkLinks(f.Locator(), f.Finalize.Instructions, lookup); err != nil {
				return fmt.Errorf("%s/%s finalize: %w", p.ID, f.Name, err)
			}
		}
	}
	r.programs[p.ID] = p
	r.order = append(r.order, p.ID)
	return nil
}

func checkLinks(self types.Locator, instrs []Instruction, lookup func(string) (*Program, bool)) error {
	for i, in := range instrs {
		switch {
		case in.Op == OpCall:
			q, ok := lookup(in.Target.Program)
			if !ok {
				return fmt.Errorf("%w: instruction %d: program %s", vmerr.ErrUnresolvedTarget, i, in.Target.Program)
			}
			callee, ok := q.Function(in.Target.Resource)
			if !ok {
				return fmt.Errorf("%w: instruction %d: function %s", vmerr.ErrUnresolvedTarget, i, in.Target)
			}
			if in.Target == self {
				return fmt.Errorf("%w: instruction %d: %s calls itself", ErrInvalidInstruction, i, in.Target)
			}
			if len(in.Operands) != len(callee.Inputs) {
				return fmt.Errorf("%w: instruction %d: %s takes %d inputs, got %d",
					ErrInvalidInstruction, i, in.Target, len(callee.Inputs), len(in.Operands))
			}
			if len(in.Dests) != callee.NumOutputs() {
				return fmt.Errorf("%w: instruction %d: %s yields %d values, got %d destinations",
					ErrInvalidInstruction, i, in.Target, callee.NumOutputs(), len(in.Dests))
			}
		case in.Op.IsMapping():
			q, ok := lookup(in.Target.Program)
			if !ok {
				return fmt.Errorf("%w: instruction %d: program %s", vmerr.ErrUnresolvedTarget, i, in.Target.Program)
			}
			if _, ok := q.Mapping(in.Target.Resource); !ok {
				return fmt.Errorf("%w: instruction %d: mapping %s", vmerr.ErrUnresolvedTarget, i, in.Target)
			}
		}
	}
	return nil
}

// Programs returns the registered program ids in registration order.
func (r *Registry) Programs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Program returns the registered program with id.
func (r *Registry) Program(id string) (*Program, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.programs[id]
	if !ok {
		return nil, fmt.Errorf("%w: program %s", vmerr.ErrUnresolvedTarget, id)
	}
	return p, nil
}

// Resolve returns the function programID/function.
func (r *Registry) Resolve(programID, function string) (*Function, error) {
	p, err := r.Program(programID)
	if err != nil {
		return nil, err
	}
	f, ok := p.Function(function)
	if !ok {
		return nil, fmt.Errorf("%w: function %s/%s", vmerr.ErrUnresolvedTarget, programID, function)
	}
	return f, nil
}

// ResolveLocator is Resolve for a locator.
func (r *Registry) ResolveLocator(loc types.Locator) (*Function, error) {
	return r.Resolve(loc.Program, loc.Resource)
}

// ResolveMapping returns the mapping declaration programID/name.
func (r *Registry) ResolveMapping(programID, name string) (*Mapping, error) {
	p, err := r.Program(programID)
	if err != nil {
		return nil, err
	}
	m, ok := p.Mapping(name)
	if !ok {
		return nil, fmt.Errorf("%w: mapping %s/%s", vmerr.ErrUnresolvedTarget, programID, name)
	}
	return m, nil
}

// Stack returns programID followed by every program it transitively imports,
// depth-first in import order, each listed once. An import that is missing or
// that leads back to a program still being visited fails with
// ErrUnresolvedTarget.
func (r *Registry) Stack(programID string) ([]*Program, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int)
	var out []*Program
	var walk func(id string, depth int) error
	walk = func(id string, depth int) error {
		switch state[id] {
		case visiting:
			return fmt.Errorf("%w: import cycle through %s", vmerr.ErrUnresolvedTarget, id)
		case done:
			return nil
		}
		if depth > len(r.programs) {
			return fmt.Errorf("%w: import graph deeper than the registry", vmerr.ErrUnresolvedTarget)
		}
		p, ok := r.programs[id]
		if !ok {
			return fmt.Errorf("%w: program %s", vmerr.ErrUnresolvedTarget, id)
		}
		state[id] = visiting
		out = append(out, p)
		for _, imp := range p.Imports {
			if err := walk(imp, depth+1); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}
	if err := walk(programID, 0); err != nil {
		return nil, err
	}
	return out, nil
}
