package models

// Labels is a flat string map persisted as a JSON column.
type Labels map[string]string

// Metadata holds free-form attributes persisted as a JSON column.
type Metadata map[string]interface{}

func (l Labels) Clone() Labels {
	if l == nil {
		return Labels{}
	}
	out := make(Labels, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}

const DefaultScope = "default"

// ScopeOr returns s, or the default namespace/cluster name when s is empty.
func ScopeOr(s string) string {
	if s == "" {
		return DefaultScope
	}
	return s
}
