package toolsurface

import "encoding/json"

func decode(row map[string]any, dest any) bool {
	data, err := json.Marshal(row)
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dest) == nil
}
