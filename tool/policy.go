package tool

import "sort"

// Policy is an agent's tool configuration: either every available tool is
// allowed, or only an explicit set of names.
type Policy struct {
	AllowAll bool     `json:"allowAll" yaml:"allowAll" mapstructure:"allow_all"`
	Enabled  []string `json:"enabledTools,omitempty" yaml:"enabledTools,omitempty" mapstructure:"enabled"`
}

// AllowAllTools returns a policy enabling every tool.
func AllowAllTools() Policy { return Policy{AllowAll: true} }

// AllowOnly returns a policy enabling exactly the given names.
func AllowOnly(names ...string) Policy {
	return Policy{Enabled: append([]string(nil), names...)}
}

// Allows reports whether name is enabled. Matching is case-sensitive.
func (p Policy) Allows(name string) bool {
	if p.AllowAll {
		return true
	}
	for _, n := range p.Enabled {
		if n == name {
			return true
		}
	}
	return false
}

// Filter returns the subset of infos the policy enables, sorted by name.
func (p Policy) Filter(infos []Info) []Info {
	out := make([]Info, 0, len(infos))
	for _, info := range infos {
		if p.Allows(info.Name) {
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
