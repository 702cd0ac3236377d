package utils

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zmcp/odata-codec/internal/constants"
	"github.com/zmcp/odata-codec/internal/event"
	"github.com/zmcp/odata-codec/internal/models"
)

// ConvertPrimitive converts a wire value to the Go value for edmType.
// Collection(X) converts every element. Unknown and enum types keep the
// wire value, with JSON numbers narrowed to int64 or float64.
func ConvertPrimitive(edmType string, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	if models.IsCollectionType(edmType) {
		items, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("expected an array for %s, got %T", edmType, raw)
		}
		element := models.CollectionElementType(edmType)
		converted := make([]any, 0, len(items))
		for i, item := range items {
			v, err := ConvertPrimitive(element, item)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			converted = append(converted, v)
		}
		return converted, nil
	}

	switch edmType {
	case constants.EdmString:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected a string for %s, got %T", edmType, raw)
		}
		return s, nil
	case constants.EdmBoolean:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			switch strings.ToLower(v) {
			case "true":
				return true, nil
			case "false":
				return false, nil
			}
		}
		return nil, fmt.Errorf("invalid %s value %v", edmType, raw)
	case constants.EdmByte:
		v, err := ParseUnsigned(raw, 8)
		return uint8(v), wrapConvert(edmType, raw, err)
	case constants.EdmSByte:
		v, err := ParseInteger(raw, 8)
		return int8(v), wrapConvert(edmType, raw, err)
	case constants.EdmInt16:
		v, err := ParseInteger(raw, 16)
		return int16(v), wrapConvert(edmType, raw, err)
	case constants.EdmInt32:
		v, err := ParseInteger(raw, 32)
		return int32(v), wrapConvert(edmType, raw, err)
	case constants.EdmInt64:
		v, err := ParseInteger(raw, 64)
		return v, wrapConvert(edmType, raw, err)
	case constants.EdmSingle:
		v, err := ParseFloating(raw, 32)
		return float32(v), wrapConvert(edmType, raw, err)
	case constants.EdmDouble:
		v, err := ParseFloating(raw, 64)
		return v, wrapConvert(edmType, raw, err)
	case constants.EdmDecimal:
		v, err := ParseDecimal(raw)
		return v, wrapConvert(edmType, raw, err)
	case constants.EdmGuid:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected a string for %s, got %T", edmType, raw)
		}
		v, err := uuid.Parse(s)
		return v, wrapConvert(edmType, raw, err)
	case constants.EdmDateTimeOffset, constants.EdmDateTime, constants.EdmDate:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected a string for %s, got %T", edmType, raw)
		}
		return ParseDateTime(edmType, s)
	case constants.EdmTimeOfDay:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected a string for %s, got %T", edmType, raw)
		}
		if _, err := time.Parse("15:04:05.999999999", s); err != nil {
			return nil, wrapConvert(edmType, raw, err)
		}
		return s, nil
	case constants.EdmBinary:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected a string for %s, got %T", edmType, raw)
		}
		v, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			v, err = base64.URLEncoding.DecodeString(s)
		}
		return v, wrapConvert(edmType, raw, err)
	}

	return nativeValue(raw), nil
}

func wrapConvert(edmType string, raw any, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("invalid %s value %v: %w", edmType, raw, err)
}

// nativeValue narrows JSON numbers inside untyped values
func nativeValue(raw any) any {
	switch v := raw.(type) {
	case event.Number:
		return v.Native()
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = nativeValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = nativeValue(item)
		}
		return out
	default:
		return raw
	}
}
