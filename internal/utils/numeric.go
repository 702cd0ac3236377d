package utils

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/zmcp/odata-codec/internal/event"
)

// NumericLiteral renders a Go numeric value without exponent notation.
// Non-numeric values are reported with ok=false.
func NumericLiteral(value any) (literal string, ok bool) {
	switch v := value.(type) {
	case int:
		return strconv.Itoa(v), true
	case int8:
		return strconv.FormatInt(int64(v), 10), true
	case int16:
		return strconv.FormatInt(int64(v), 10), true
	case int32:
		return strconv.FormatInt(int64(v), 10), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case uint:
		return strconv.FormatUint(uint64(v), 10), true
	case uint8:
		return strconv.FormatUint(uint64(v), 10), true
	case uint16:
		return strconv.FormatUint(uint64(v), 10), true
	case uint32:
		return strconv.FormatUint(uint64(v), 10), true
	case uint64:
		return strconv.FormatUint(v, 10), true
	case float32:
		// 'f' avoids scientific notation
		return strconv.FormatFloat(float64(v), 'f', -1, 32), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case event.Number:
		return string(v), true
	default:
		return "", false
	}
}

// numericText extracts the literal text of a JSON number or numeric string.
// v2 payloads carry Int64 and Decimal values as strings.
func numericText(raw any) (string, error) {
	switch v := raw.(type) {
	case event.Number:
		return string(v), nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return "", fmt.Errorf("empty string")
		}
		return s, nil
	}
	if literal, ok := NumericLiteral(raw); ok {
		return literal, nil
	}
	return "", fmt.Errorf("expected a number, got %T", raw)
}

// ParseInteger parses raw as a signed integer of the given bit size
func ParseInteger(raw any, bits int) (int64, error) {
	text, err := numericText(raw)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(text, 10, bits)
}

// ParseUnsigned parses raw as an unsigned integer of the given bit size
func ParseUnsigned(raw any, bits int) (uint64, error) {
	text, err := numericText(raw)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(text, 10, bits)
}

// ParseFloating parses raw as a float; INF, -INF and NaN strings are accepted
func ParseFloating(raw any, bits int) (float64, error) {
	text, err := numericText(raw)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(text, bits)
}

// ParseDecimal validates raw as a decimal and returns its canonical literal
// so precision survives the round trip
func ParseDecimal(raw any) (event.Number, error) {
	text, err := numericText(raw)
	if err != nil {
		return "", err
	}
	text = strings.TrimSuffix(strings.TrimSuffix(text, "m"), "M")
	if strings.ContainsAny(text, "/xX_") {
		return "", fmt.Errorf("invalid decimal %q", text)
	}
	d, ok := new(big.Rat).SetString(text)
	if !ok {
		return "", fmt.Errorf("invalid decimal %q", text)
	}
	if d.IsInt() {
		return event.Number(d.Num().String()), nil
	}
	return event.Number(strings.TrimRight(strings.TrimRight(d.FloatString(decimalScale(text)), "0"), ".")), nil
}

// decimalScale counts fraction digits, expanding exponents
func decimalScale(text string) int {
	mantissa, exp := text, 0
	if idx := strings.IndexAny(text, "eE"); idx >= 0 {
		mantissa = text[:idx]
		exp, _ = strconv.Atoi(text[idx+1:])
	}
	scale := 0
	if idx := strings.IndexByte(mantissa, '.'); idx >= 0 {
		scale = len(mantissa) - idx - 1
	}
	scale -= exp
	if scale < 0 {
		return 0
	}
	return scale
}
