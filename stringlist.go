package vigil

import "encoding/json"

// StringList decodes JSON fields that upstream sources emit inconsistently as
// a scalar string, an array of strings, or null. Malpedia's actor "country"
// and VulnCheck's "cve" are the usual offenders.
type StringList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *StringList) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*l = nil
		return nil
	}
	switch b[0] {
	case '[':
		var xs []string
		if err := json.Unmarshal(b, &xs); err != nil {
			return err
		}
		*l = xs
	default:
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*l = nil
			return nil
		}
		*l = []string{s}
	}
	return nil
}

// First returns the first element, or the empty string.
func (l StringList) First() string {
	if len(l) == 0 {
		return ""
	}
	return l[0]
}

// OrEmpty returns the list, substituting an allocated empty slice for nil.
// Array-valued columns are never written as null.
func (l StringList) OrEmpty() []string {
	if l == nil {
		return []string{}
	}
	return l
}

// NonNull returns xs, substituting an allocated empty slice for nil.
func NonNull(xs []string) []string {
	if xs == nil {
		return []string{}
	}
	return xs
}
