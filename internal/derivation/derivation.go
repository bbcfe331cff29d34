package derivation

import (
	"encoding/json"
	"fmt"
	"sort"
)

// DefaultOutput is the conventional name of a derivation's main output slot.
const DefaultOutput = "out"

// Derivation is a single node of the build graph.
type Derivation struct {
	// Key is the content-addressed identifier (the .drv store path).
	Key    string
	Name   string
	System string
	// Outputs maps output slot names to their resolved store paths.
	Outputs map[string]string
	// Dependencies holds the keys of the input derivations, sorted.
	Dependencies []string
	// Raw is the resolver output this node was parsed from, kept verbatim.
	Raw []byte
}

// PrimaryOutput returns the store path used for existence checks: the "out"
// slot when present, otherwise the alphabetically first slot.
func (d *Derivation) PrimaryOutput() string {
	if p, ok := d.Outputs[DefaultOutput]; ok {
		return p
	}
	slots := make([]string, 0, len(d.Outputs))
	for slot := range d.Outputs {
		slots = append(slots, slot)
	}
	sort.Strings(slots)
	if len(slots) == 0 {
		return ""
	}
	return d.Outputs[slots[0]]
}

// IsLeaf reports whether the derivation has no dependencies.
func (d *Derivation) IsLeaf() bool {
	return len(d.Dependencies) == 0
}

// record mirrors the subset of `nix derivation show` output we consume.
type record struct {
	Name      string              `json:"name"`
	System    string              `json:"system"`
	Outputs   map[string]output   `json:"outputs"`
	InputDrvs map[string]inputDrv `json:"inputDrvs"`
}

type output struct {
	Path string `json:"path"`
}

type inputDrv struct {
	Outputs        []string                   `json:"outputs"`
	DynamicOutputs map[string]json.RawMessage `json:"dynamicOutputs"`
}

// Parse decodes resolver output holding exactly one derivation record.
func Parse(raw []byte) (*Derivation, error) {
	var records map[string]record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("invalid derivation json: %w", err)
	}
	if len(records) != 1 {
		return nil, fmt.Errorf("expected exactly one derivation, got %d", len(records))
	}

	var key string
	var rec record
	for k, v := range records {
		key, rec = k, v
	}
	if key == "" {
		return nil, fmt.Errorf("derivation has an empty key")
	}
	if len(rec.Outputs) == 0 {
		return nil, fmt.Errorf("derivation %s declares no outputs", key)
	}

	outputs := make(map[string]string, len(rec.Outputs))
	for slot, o := range rec.Outputs {
		outputs[slot] = o.Path
	}
	deps := make([]string, 0, len(rec.InputDrvs))
	for dep := range rec.InputDrvs {
		deps = append(deps, dep)
	}
	sort.Strings(deps)

	return &Derivation{
		Key:          key,
		Name:         rec.Name,
		System:       rec.System,
		Outputs:      outputs,
		Dependencies: deps,
		Raw:          raw,
	}, nil
}

// Object is one derivation record inside a build payload, re-encoded on its
// own so it can be submitted to the store independently.
type Object struct {
	Key  string
	JSON []byte
}

// Split breaks a payload mapping of key to record into its constituent
// objects, ordered by key.
func Split(payload []byte) ([]Object, error) {
	var records map[string]json.RawMessage
	if err := json.Unmarshal(payload, &records); err != nil {
		return nil, fmt.Errorf("invalid build payload: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("build payload holds no derivations")
	}
	keys := make([]string, 0, len(records))
	for k := range records {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	objs := make([]Object, 0, len(keys))
	for _, k := range keys {
		objs = append(objs, Object{Key: k, JSON: []byte(records[k])})
	}
	return objs, nil
}
