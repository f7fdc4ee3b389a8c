package taskcontext

import "encoding/json"

// decode remarshals a generic row (as returned by store.Store.Query)
// into a typed destination, returning false on any decode failure so
// callers can skip malformed rows rather than fail the whole query.
func decode(row map[string]any, dest any) bool {
	data, err := json.Marshal(row)
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dest) == nil
}
