package program

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest is the structured, already-parsed form of a program as it is
// supplied to the VM. It is decoded from YAML:
//
//	program: child.aleo
//	imports: [util.aleo]
//	mappings:
//	  - {name: counter, key: address, value: u64}
//	functions:
//	  - name: bump
//	    inputs: [{register: r0, type: u64, visibility: public}]
//	    instructions:
//	      - {op: add, operands: [r0, 1u64], into: [r1]}
//	      - {op: async, operands: [bump, self.caller, r1], into: [r2]}
//	    outputs: [{register: r1, type: u64}]
//	    finalize:
//	      inputs: [{register: r0, type: address}, {register: r1, type: u64}]
//	      instructions:
//	        - {op: set, operands: [r1, counter, r0]}
//
// Operand conventions by op:
//
//	call        [target, args...]        target is "name" or "prog.aleo/name"
//	async       [function, args...]      function is the enclosing function
//	position    [label]
//	branch.*    [a, b, label]
//	get         [mapping, key]
//	get.or_use  [mapping, key, default]
//	contains    [mapping, key]
//	set         [value, mapping, key]
//	remove      [mapping, key]
//	cast*       [operands...] with "as: <type>"
type Manifest struct {
	Program   string             `yaml:"program"`
	Imports   []string           `yaml:"imports,omitempty"`
	Mappings  []MappingManifest  `yaml:"mappings,omitempty"`
	Structs   []StructManifest   `yaml:"structs,omitempty"`
	Records   []StructManifest   `yaml:"records,omitempty"`
	Functions []FunctionManifest `yaml:"functions"`
}

// MappingManifest declares a mapping.
type MappingManifest struct {
	Name  string `yaml:"name"`
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

// StructManifest declares a struct or record type.
type StructManifest struct {
	Name    string          `yaml:"name"`
	Members []FieldManifest `yaml:"members"`
}

// FieldManifest is a typed struct member or record entry.
type FieldManifest struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Visibility string `yaml:"visibility,omitempty"`
}

// FunctionManifest declares a function and its optional finalize block.
type FunctionManifest struct {
	Name         string                `yaml:"name"`
	Inputs       []RegisterManifest    `yaml:"inputs,omitempty"`
	Instructions []InstructionManifest `yaml:"instructions,omitempty"`
	Outputs      []RegisterManifest    `yaml:"outputs,omitempty"`
	Finalize     *FinalizeManifest     `yaml:"finalize,omitempty"`
}

// FinalizeManifest declares a finalize block.
type FinalizeManifest struct {
	Inputs       []RegisterManifest    `yaml:"inputs,omitempty"`
	Instructions []InstructionManifest `yaml:"instructions,omitempty"`
}

// RegisterManifest is a typed input or output register.
type RegisterManifest struct {
	Register   string `yaml:"register"`
	Type       string `yaml:"type"`
	Visibility string `yaml:"visibility,omitempty"`
}

// InstructionManifest is one instruction.
type InstructionManifest struct {
	Op       string   `yaml:"op"`
	Operands []string `yaml:"operands,omitempty"`
	Into     []string `yaml:"into,omitempty"`
	As       string   `yaml:"as,omitempty"`
}

// DecodeManifests decodes one or more YAML documents, each a program manifest.
func DecodeManifests(data []byte) ([]*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var out []*Manifest
	for {
		var m Manifest
		err := dec.Decode(&m)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode manifest: %w", err)
		}
		out = append(out, &m)
	}
	return out, nil
}

// LoadFile reads and builds every program in a manifest file.
func LoadFile(path string) ([]*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	programs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return programs, nil
}

// Parse decodes and builds every program in data.
func Parse(data []byte) ([]*Program, error) {
	manifests, err := DecodeManifests(data)
	if err != nil {
		return nil, err
	}
	programs := make([]*Program, 0, len(manifests))
	for _, m := range manifests {
		p, err := m.Build()
		if err != nil {
			return nil, err
		}
		programs = append(programs, p)
	}
	return programs, nil
}
