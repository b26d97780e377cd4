package debugdump

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Redacted replaces the value of every sensitive key.
const Redacted = "**REDACTED**"

const maxDepth = 10

// sensitiveKeys are redacted at any depth.
var sensitiveKeys = map[string]struct{}{
	"username":       {},
	"password":       {},
	"control_pin":    {},
	"vin":            {},
	"device_profile": {},
	"access_token":   {},
	"refresh_token":  {},
	"latitude":       {},
	"longitude":      {},
	"lat":            {},
	"lon":            {},
}

// IsSensitive reports whether values under key are redacted.
func IsSensitive(key string) bool {
	_, ok := sensitiveKeys[key]
	return ok
}

// Redact returns a JSON-shaped copy of v with sensitive keys replaced.
// Structs and typed collections are converted through their JSON form.
// Anything nested deeper than ten levels becomes "...".
func Redact(v any) any {
	return redact(v, 0)
}

func redact(v any, depth int) any {
	if depth > maxDepth {
		return "..."
	}
	switch t := v.(type) {
	case nil, string, bool, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return t
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if IsSensitive(k) {
				out[k] = Redacted
				continue
			}
			out[k] = redact(val, depth+1)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = redact(val, depth+1)
		}
		return out
	}

	generic, err := toGeneric(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return redact(generic, depth)
}

func toGeneric(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
