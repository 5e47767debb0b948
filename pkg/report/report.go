// Package report renders executions as the structured report fixtures are
// written against, and runs fixture files through a VM.
package report

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/fortiblox/X1-Strata/pkg/interpreter"
	"github.com/fortiblox/X1-Strata/pkg/value"
)

// Speculate outcomes.
const (
	Accepted = "accepted"
	Rejected = "rejected"
	Aborted  = "aborted"
)

// add_next_block outcomes.
const (
	Succeeded = "succeeded"
	Failed    = "failed"
)

// Report is the result of running a fixture.
type Report struct {
	Cases []Case `yaml:"cases"`
}

// Case reports one execution.
type Case struct {
	Verified     bool   `yaml:"verified"`
	Execute      Calls  `yaml:"execute"`
	Speculate    string `yaml:"speculate,omitempty"`
	AddNextBlock string `yaml:"add_next_block,omitempty"`

	// Fee is the attached fee execution.
	Fee Calls `yaml:"fee,omitempty"`

	Error string `yaml:"error,omitempty"`
}

// Output is one transition output. Private outputs show only their id.
type Output struct {
	Type     string `yaml:"type"`
	ID       string `yaml:"id"`
	Value    string `yaml:"value,omitempty"`
	Checksum string `yaml:"checksum,omitempty"`
}

// Call is the outputs of one transition.
type Call struct {
	Function string
	Outputs  []Output
}

// Calls lists transitions in post-order. It marshals as a YAML mapping from
// program/function to outputs; a function called more than once gets a
// "#n" suffix from its second occurrence on.
type Calls []Call

// MarshalYAML implements yaml.Marshaler.
func (c Calls) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	seen := make(map[string]int, len(c))
	for _, call := range c {
		key := call.Function
		seen[key]++
		if n := seen[key]; n > 1 {
			key = fmt.Sprintf("%s#%d", key, n)
		}
		var val yaml.Node
		if err := val.Encode(call.Outputs); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: key}, &val)
	}
	return node, nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (c *Calls) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: calls must be a mapping", node.Line)
	}
	out := make(Calls, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var outputs []Output
		if err := node.Content[i+1].Decode(&outputs); err != nil {
			return err
		}
		out = append(out, Call{Function: node.Content[i].Value, Outputs: outputs})
	}
	*c = out
	return nil
}

// FromResult renders every transition of res.
func FromResult(res *interpreter.Result) Calls {
	calls := make(Calls, len(res.Transitions))
	for i, t := range res.Transitions {
		calls[i] = Call{Function: t.Locator().String(), Outputs: outputs(t)}
	}
	return calls
}

func outputs(t *interpreter.Transition) []Output {
	out := make([]Output, len(t.Outputs))
	for i, v := range t.Outputs {
		o := Output{ID: t.OutputIDs[i].String()}
		switch v := v.(type) {
		case *value.Record:
			o.Type = "record"
			o.Checksum = v.Checksum().String()
		case *value.Future:
			o.Type = "future"
			o.Value = v.String()
		default:
			o.Type = t.OutputVisibility[i].String()
			if t.OutputVisibility[i] != value.Private {
				o.Value = v.String()
			}
		}
		out[i] = o
	}
	return out
}

// Marshal renders r as YAML.
func (r *Report) Marshal() ([]byte, error) {
	return yaml.Marshal(r)
}
