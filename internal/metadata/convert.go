package metadata

import (
	"fmt"

	"github.com/zmcp/odata-codec/internal/models"
	"github.com/zmcp/odata-codec/internal/utils"
)

// ConvertValues converts the wire members of a structured value of type t.
// Declared properties follow their Edm type; dynamic ones keep the wire
// value with JSON numbers narrowed.
func (p *Provider) ConvertValues(t *models.ResourceType, raw map[string]any) (map[string]any, error) {
	values := make(map[string]any, len(raw))
	for name, value := range raw {
		prop, declared := p.FindProperty(t, name)
		if !declared {
			converted, err := utils.ConvertPrimitive("", value)
			if err != nil {
				return nil, err
			}
			values[name] = converted
			continue
		}
		converted, err := p.ConvertProperty(prop, value)
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", name, err)
		}
		values[name] = converted
	}
	return values, nil
}

// ConvertProperty converts the wire value of one declared property
func (p *Provider) ConvertProperty(prop *models.EntityProperty, value any) (any, error) {
	if prop.Kind != models.PropertyKindComplex || value == nil {
		return utils.ConvertPrimitive(prop.Type, value)
	}
	complexType, ok := p.ResolveType(prop.ElementType())
	if !ok {
		return nil, fmt.Errorf("complex type %s is not in the metadata", prop.ElementType())
	}
	if !prop.IsCollection {
		members, ok := value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected an object, got %T", value)
		}
		return p.ConvertValues(complexType, members)
	}
	items, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("expected an array, got %T", value)
	}
	out := make([]any, 0, len(items))
	for _, item := range items {
		members, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected an object, got %T", item)
		}
		converted, err := p.ConvertValues(complexType, members)
		if err != nil {
			return nil, err
		}
		out = append(out, converted)
	}
	return out, nil
}
