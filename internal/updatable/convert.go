package updatable

import (
	"fmt"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/google/uuid"

	"github.com/zmcp/odata-codec/internal/event"
	"github.com/zmcp/odata-codec/internal/metadata"
)

// MarshalValues encodes stored property values as a JSON object. Decimal
// literals are written as JSON numbers without rounding.
func MarshalValues(values map[string]any) ([]byte, error) {
	return json.Marshal(plain(values), json.Deterministic(true))
}

// plain rewrites stored values into types the JSON encoder renders the way
// they appear on the wire
func plain(value any) any {
	switch v := value.(type) {
	case event.Number:
		return jsontext.Value(v)
	case uuid.UUID:
		return v.String()
	case time.Time:
		return v.Format(time.RFC3339Nano)
	case *Record:
		return v.ID()
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = plain(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = plain(item)
		}
		return out
	}
	return value
}

// UnmarshalValues decodes a JSON object written by MarshalValues back into
// typed values for typeName
func UnmarshalValues(provider *metadata.Provider, typeName string, data []byte) (map[string]any, error) {
	var raw jsontext.Value
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode stored values: %w", err)
	}
	decoded, err := rawValue(raw)
	if err != nil {
		return nil, err
	}
	values, ok := decoded.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("stored values must be a JSON object")
	}
	t, ok := provider.ResolveType(typeName)
	if !ok {
		return nil, fmt.Errorf("stored type %s is not in the metadata", typeName)
	}
	return provider.ConvertValues(t, values)
}

// rawValue turns JSON text into wire values: event.Number for numbers
func rawValue(v jsontext.Value) (any, error) {
	switch v.Kind() {
	case '0':
		return event.Number(v), nil
	case '"':
		var s string
		err := json.Unmarshal(v, &s)
		return s, err
	case 't':
		return true, nil
	case 'f':
		return false, nil
	case 'n':
		return nil, nil
	case '[':
		var items []jsontext.Value
		if err := json.Unmarshal(v, &items); err != nil {
			return nil, err
		}
		out := make([]any, 0, len(items))
		for _, item := range items {
			decoded, err := rawValue(item)
			if err != nil {
				return nil, err
			}
			out = append(out, decoded)
		}
		return out, nil
	case '{':
		var members map[string]jsontext.Value
		if err := json.Unmarshal(v, &members); err != nil {
			return nil, err
		}
		out := make(map[string]any, len(members))
		for name, member := range members {
			decoded, err := rawValue(member)
			if err != nil {
				return nil, err
			}
			out[name] = decoded
		}
		return out, nil
	}
	return nil, fmt.Errorf("unexpected JSON value %q", v)
}
