package flow

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Data is the persisted shape of a flow.
type Data struct {
	ID          string       `json:"id,omitempty" yaml:"id,omitempty"`
	Name        string       `json:"name" yaml:"name"`
	Steps       []Step       `json:"steps" yaml:"steps"`
	Connections []Connection `json:"connections" yaml:"connections"`
}

// legacyOutputs maps output names written by older clients per step type.
var legacyOutputs = map[string]map[string]string{
	TypeTokenCountBranch: {"fail": OutputUnder, "pass": OutputOver},
}

// FromData builds a flow from its persisted shape. Step ids are kept;
// unknown step types and invalid connections are rejected.
func FromData(d Data, optFns ...func(o *Options)) (*Flow, error) {
	if d.ID != "" {
		optFns = append([]func(o *Options){func(o *Options) { o.ID = d.ID }}, optFns...)
	}
	f := New(d.Name, optFns...)

	for i := range d.Steps {
		s := d.Steps[i].clone()
		if _, ok := LookupKind(s.Type); !ok {
			return nil, fmt.Errorf("step %s: %w: %q", s.ID, ErrUnknownStepType, s.Type)
		}
		if s.ID == "" {
			s.ID = f.idFunc()
		}
		if f.stepLocked(s.ID) != nil {
			return nil, fmt.Errorf("duplicate step id %s", s.ID)
		}
		if s.Data == nil {
			s.Data = map[string]any{}
		}
		f.steps = append(f.steps, &s)
	}

	for _, c := range d.Connections {
		if src := f.stepLocked(c.From); src != nil {
			if alias, ok := legacyOutputs[src.Type][c.OutputName]; ok {
				c.OutputName = alias
			}
		}
		if err := f.validateLocked(c); err != nil {
			return nil, err
		}
		f.connections = append(f.connections, c)
	}
	return f, nil
}

// ToData returns the persisted shape of the flow.
func (f *Flow) ToData() Data {
	f.mu.RLock()
	defer f.mu.RUnlock()

	d := Data{
		ID:          f.id,
		Name:        f.name,
		Steps:       make([]Step, len(f.steps)),
		Connections: append([]Connection{}, f.connections...),
	}
	for i, s := range f.steps {
		d.Steps[i] = s.clone()
	}
	return d
}

// MarshalJSON encodes the flow in its persisted shape.
func (f *Flow) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.ToData())
}

// DecodeJSON parses a persisted flow.
func DecodeJSON(b []byte, optFns ...func(o *Options)) (*Flow, error) {
	var d Data
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("decode flow: %w", err)
	}
	return FromData(d, optFns...)
}

// EncodeYAML renders the flow as YAML using the same field names as JSON.
func EncodeYAML(f *Flow) ([]byte, error) {
	return yaml.Marshal(f.ToData())
}

// DecodeYAML parses a flow exported with EncodeYAML.
func DecodeYAML(b []byte, optFns ...func(o *Options)) (*Flow, error) {
	var d Data
	if err := yaml.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("decode flow yaml: %w", err)
	}
	return FromData(d, optFns...)
}
