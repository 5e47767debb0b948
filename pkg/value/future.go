package value

import (
	"fmt"
	"strings"

	"github.com/fortiblox/X1-Strata/internal/types"
)

// Future is a deferred finalize continuation: the finalize block of
// program/function together with the arguments it will run on. A Future owns
// its arguments; arguments are plaintexts or nested futures.
type Future struct {
	program  string
	function string
	args     []Value
}

// NewFuture builds a future. The argument slice is copied.
func NewFuture(program, function string, args ...Value) (*Future, error) {
	if err := types.ValidateProgramID(program); err != nil {
		return nil, err
	}
	if err := types.ValidateIdentifier(function); err != nil {
		return nil, err
	}
	if len(args) > maxMembers {
		return nil, fmt.Errorf("future has %d arguments, limit is %d", len(args), maxMembers)
	}
	for i, a := range args {
		switch a.(type) {
		case Plaintext, *Future:
		default:
			return nil, fmt.Errorf("future argument %d: %s values cannot be passed to finalize", i, kindOf(a))
		}
	}
	return &Future{program: program, function: function, args: append([]Value(nil), args...)}, nil
}

// Kind implements Value.
func (f *Future) Kind() Kind { return KindFuture }

// Program returns the program whose finalize block the future targets.
func (f *Future) Program() string { return f.program }

// Function returns the function whose finalize block the future targets.
func (f *Future) Function() string { return f.function }

// Locator returns program/function.
func (f *Future) Locator() types.Locator {
	return types.Locator{Program: f.program, Resource: f.function}
}

// Arguments returns a copy of the bound arguments.
func (f *Future) Arguments() []Value {
	return append([]Value(nil), f.args...)
}

// NumArguments returns the number of bound arguments.
func (f *Future) NumArguments() int { return len(f.args) }

// Argument returns the i-th bound argument.
func (f *Future) Argument(i int) Value { return f.args[i] }

// Equal implements Value.
func (f *Future) Equal(v Value) bool {
	o, ok := v.(*Future)
	if !ok || f == nil || o == nil {
		return ok && f == o
	}
	if f.program != o.program || f.function != o.function || len(f.args) != len(o.args) {
		return false
	}
	for i := range f.args {
		if !f.args[i].Equal(o.args[i]) {
			return false
		}
	}
	return true
}

func (f *Future) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "{ program_id: %s, function_name: %s, arguments: [", f.program, f.function)
	for i, a := range f.args {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(" ")
		sb.WriteString(a.String())
	}
	sb.WriteString(" ] }")
	return sb.String()
}

// Walk visits f and every nested future depth-first in argument order.
func (f *Future) Walk(fn func(*Future)) {
	fn(f)
	for _, a := range f.args {
		if nested, ok := a.(*Future); ok {
			nested.Walk(fn)
		}
	}
}
