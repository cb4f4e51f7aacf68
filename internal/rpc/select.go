package rpc

import "encoding/json"

// Select is a recursive field-selection specifier. A key present
// (regardless of value) means "include this field"; a key
// whose value is itself a Select recurses into that field's object/array
// elements. Unknown keys are ignored. An empty or nil Select means "no
// projection, return everything."
type Select map[string]any

// Prune marshals v to its JSON shape and prunes it to the fields named by
// sel, returning a generic value (map[string]any, []any, or a primitive)
// ready for re-serialization. A nil/empty sel returns v unchanged (as its
// generic decode) so callers can always treat Prune's result uniformly.
func Prune(v any, sel Select) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	if len(sel) == 0 {
		return generic, nil
	}
	return prune(generic, sel), nil
}

func prune(v any, sel Select) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(sel))
		for key, sub := range sel {
			child, ok := val[key]
			if !ok {
				continue
			}
			if nested, ok := sub.(Select); ok && len(nested) > 0 {
				out[key] = prune(child, nested)
				continue
			}
			if nested, ok := sub.(map[string]any); ok && len(nested) > 0 {
				out[key] = prune(child, Select(nested))
				continue
			}
			out[key] = child
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = prune(item, sel)
		}
		return out
	default:
		return val
	}
}
