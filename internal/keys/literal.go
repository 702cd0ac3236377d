package keys

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zmcp/odata-codec/internal/event"
	"github.com/zmcp/odata-codec/internal/models"
	"github.com/zmcp/odata-codec/internal/odataerr"
	"github.com/zmcp/odata-codec/internal/utils"
)

// Property is one key property name/value pair
type Property struct {
	Name  string
	Value any
}

// Key is an ordered set of key property values
type Key []Property

// Expression renders the key the way it appears in parentheses after the
// set name: "5" for a single key, "A=1,B='x'" for composite keys
func (k Key) Expression() (string, error) {
	if len(k) == 0 {
		return "", odataerr.BadRequest(odataerr.CodeKeyMissing, "", "entity has no key properties")
	}
	if len(k) == 1 {
		return FormatLiteral(k[0].Name, k[0].Value)
	}
	parts := make([]string, 0, len(k))
	for _, p := range k {
		literal, err := FormatLiteral(p.Name, p.Value)
		if err != nil {
			return "", err
		}
		parts = append(parts, p.Name+"="+literal)
	}
	return strings.Join(parts, ","), nil
}

// Values returns the key values in order
func (k Key) Values() []any {
	values := make([]any, len(k))
	for i, p := range k {
		values[i] = p.Value
	}
	return values
}

// FormatLiteral renders one key value as a URI literal. Strings are quoted
// with embedded quotes doubled; Guid, date and numeric values are bare.
func FormatLiteral(name string, value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", odataerr.BadRequest(odataerr.CodeNullKey, name, "null key values are not supported")
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'", nil
	case bool:
		if v {
			return "true", nil
		}
		return "false", nil
	case uuid.UUID:
		return v.String(), nil
	case time.Time:
		return v.Format(time.RFC3339Nano), nil
	case []byte:
		return "binary'" + base64.URLEncoding.EncodeToString(v) + "'", nil
	}
	if literal, ok := utils.NumericLiteral(value); ok {
		return literal, nil
	}
	return "", odataerr.Provider(odataerr.CodeUnsupportedValueType, name, "unsupported key value type %T", value)
}

// decodeLiteral turns URI literal text back into a wire value suitable for
// utils.ConvertPrimitive
func decodeLiteral(text string) (any, error) {
	switch {
	case len(text) >= 2 && strings.HasPrefix(text, "'") && strings.HasSuffix(text, "'"):
		return strings.ReplaceAll(text[1:len(text)-1], "''", "'"), nil
	case strings.HasPrefix(text, "guid'"), strings.HasPrefix(text, "datetime'"),
		strings.HasPrefix(text, "datetimeoffset'"), strings.HasPrefix(text, "binary'"):
		// v2 typed literal forms
		inner := text[strings.IndexByte(text, '\'')+1:]
		if !strings.HasSuffix(inner, "'") {
			return nil, fmt.Errorf("unterminated literal %q", text)
		}
		return inner[:len(inner)-1], nil
	case text == "true" || text == "false":
		return text, nil
	case text == "null":
		return nil, nil
	case text == "":
		return nil, fmt.Errorf("empty key literal")
	}
	if _, err := uuid.Parse(text); err == nil && len(text) == 36 {
		return text, nil
	}
	// Dates and times stay text; numbers only carry '-' as a sign or in an exponent
	if strings.ContainsAny(text, "T:") || (strings.IndexByte(text[1:], '-') >= 0 && !strings.ContainsAny(text, "eE")) {
		return text, nil
	}
	trimmed := strings.TrimRight(text, "LlMmDdFf")
	if trimmed != "" && (trimmed[0] == '-' || trimmed[0] == '.' || (trimmed[0] >= '0' && trimmed[0] <= '9')) {
		return event.Number(trimmed), nil
	}
	return nil, fmt.Errorf("invalid key literal %q", text)
}

// typedValue converts decoded literal text for a key property of the given type
func typedValue(prop *models.EntityProperty, raw any) (any, error) {
	return utils.ConvertPrimitive(prop.Type, raw)
}
