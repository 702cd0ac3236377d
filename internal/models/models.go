package models

import (
	"sort"
	"strings"
	"time"
)

// PropertyKind classifies a structural property of a resource type
type PropertyKind int

const (
	PropertyKindPrimitive PropertyKind = iota
	PropertyKindComplex
	PropertyKindNavigation
	PropertyKindStream
)

// String returns a readable name for the kind
func (k PropertyKind) String() string {
	switch k {
	case PropertyKindPrimitive:
		return "primitive"
	case PropertyKindComplex:
		return "complex"
	case PropertyKindNavigation:
		return "navigation"
	case PropertyKindStream:
		return "stream"
	default:
		return "unknown"
	}
}

// ResourceTypeKind tells entity types apart from complex types
type ResourceTypeKind int

const (
	EntityTypeKind ResourceTypeKind = iota
	ComplexTypeKind
)

// EntityProperty represents a property of an OData entity or complex type
type EntityProperty struct {
	Name         string       `json:"name"`
	Type         string       `json:"type"` // OData type (e.g., "Edm.String", "NS.Address", "Collection(Edm.Int32)")
	Nullable     bool         `json:"nullable"`
	IsKey        bool         `json:"is_key"`
	Kind         PropertyKind `json:"kind"`
	IsCollection bool         `json:"is_collection,omitempty"`
	Description  *string      `json:"description,omitempty"`
}

// ElementType returns the property type with any Collection(...) wrapper removed
func (p *EntityProperty) ElementType() string {
	return CollectionElementType(p.Type)
}

// NavigationProperty represents a navigation property in an entity type
type NavigationProperty struct {
	Name           string `json:"name"`
	Relationship   string `json:"relationship,omitempty"` // v2 only
	ToRole         string `json:"to_role,omitempty"`      // v2 only
	FromRole       string `json:"from_role,omitempty"`    // v2 only
	Type           string `json:"type,omitempty"`         // target entity type, Collection(...) for to-many
	Partner        string `json:"partner,omitempty"`      // v4 only
	Nullable       bool   `json:"nullable"`
	ContainsTarget bool   `json:"contains_target,omitempty"`
}

// IsCollection reports whether the navigation property is to-many
func (n *NavigationProperty) IsCollection() bool {
	return IsCollectionType(n.Type)
}

// TargetType returns the qualified entity type the navigation property points at
func (n *NavigationProperty) TargetType() string {
	return CollectionElementType(n.Type)
}

// ResourceType represents an OData entity type or complex type definition
type ResourceType struct {
	Name            string                `json:"name"`
	Namespace       string                `json:"namespace,omitempty"`
	Kind            ResourceTypeKind      `json:"kind"`
	BaseType        string                `json:"base_type,omitempty"` // qualified name
	Abstract        bool                  `json:"abstract,omitempty"`
	OpenType        bool                  `json:"open_type,omitempty"`
	HasStream       bool                  `json:"has_stream,omitempty"`
	Properties      []*EntityProperty     `json:"properties"`
	KeyProperties   []string              `json:"key_properties"`
	NavigationProps []*NavigationProperty `json:"navigation_properties,omitempty"`
	Description     *string               `json:"description,omitempty"`
}

// FullName returns the namespace-qualified type name
func (t *ResourceType) FullName() string {
	if t.Namespace == "" {
		return t.Name
	}
	return t.Namespace + "." + t.Name
}

// IsEntity reports whether the type is an entity type
func (t *ResourceType) IsEntity() bool {
	return t.Kind == EntityTypeKind
}

// EntitySet represents an OData entity set
type EntitySet struct {
	Name               string            `json:"name"`
	EntityType         string            `json:"entity_type"` // qualified name
	NavigationBindings map[string]string `json:"navigation_bindings,omitempty"`
	Creatable          bool              `json:"creatable"`
	Updatable          bool              `json:"updatable"`
	Deletable          bool              `json:"deletable"`
	Description        *string           `json:"description,omitempty"`
}

// FunctionImport represents an OData function or action import
type FunctionImport struct {
	Name        string               `json:"name"`
	HTTPMethod  string               `json:"http_method"`
	ReturnType  string               `json:"return_type,omitempty"`
	Parameters  []*FunctionParameter `json:"parameters"`
	Description *string              `json:"description,omitempty"`
	IsBound     bool                 `json:"is_bound,omitempty"`  // v4 only
	IsAction    bool                 `json:"is_action,omitempty"` // v4 only (true for actions, false for functions)
}

// Action represents a bound operation that entries may advertise
type Action struct {
	Name        string               `json:"name"`
	Namespace   string               `json:"namespace,omitempty"`
	BindingType string               `json:"binding_type"` // qualified, Collection(...) when bound to a feed
	Parameters  []*FunctionParameter `json:"parameters"`
	ReturnType  string               `json:"return_type,omitempty"`
}

// FullName returns the namespace-qualified action name
func (a *Action) FullName() string {
	if a.Namespace == "" {
		return a.Name
	}
	return a.Namespace + "." + a.Name
}

// FunctionParameter represents a parameter for a function/action
type FunctionParameter struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Mode     string `json:"mode,omitempty"` // v2 only: In, Out, InOut
	Nullable bool   `json:"nullable"`
}

// ODataMetadata represents the complete OData service metadata
type ODataMetadata struct {
	ServiceRoot     string                     `json:"service_root"`
	Types           map[string]*ResourceType   `json:"types"` // keyed by qualified name
	EntitySets      map[string]*EntitySet      `json:"entity_sets"`
	FunctionImports map[string]*FunctionImport `json:"function_imports"`
	Actions         map[string]*Action         `json:"actions"` // bound actions keyed by qualified name
	SchemaNamespace string                     `json:"schema_namespace"`
	ContainerName   string                     `json:"container_name"`
	Version         string                     `json:"version"`
	ParsedAt        time.Time                  `json:"parsed_at"`
}

// Summary counts the parsed metadata items
func (m *ODataMetadata) Summary() MetadataSummary {
	summary := MetadataSummary{
		EntitySets:      len(m.EntitySets),
		FunctionImports: len(m.FunctionImports),
		Actions:         len(m.Actions),
	}
	for _, t := range m.Types {
		if t.IsEntity() {
			summary.EntityTypes++
		} else {
			summary.ComplexTypes++
		}
	}
	return summary
}

// OperationImports lists the function and action imports by name, sorted
func (m *ODataMetadata) OperationImports() []string {
	names := make([]string, 0, len(m.FunctionImports))
	for name, imp := range m.FunctionImports {
		if imp.IsAction {
			name += " (action)"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ODataError represents an OData error response
type ODataError struct {
	Code       string                 `json:"code,omitempty"`
	Message    string                 `json:"message"`
	Details    []ODataErrorDetail     `json:"details,omitempty"`
	InnerError map[string]interface{} `json:"innererror,omitempty"`
	Target     string                 `json:"target,omitempty"`
	Severity   string                 `json:"severity,omitempty"`
}

// ODataErrorDetail represents detailed error information
type ODataErrorDetail struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Target  string `json:"target,omitempty"`
}

// MetadataSummary represents a summary of parsed metadata
type MetadataSummary struct {
	EntityTypes     int `json:"entity_types"`
	ComplexTypes    int `json:"complex_types"`
	EntitySets      int `json:"entity_sets"`
	FunctionImports int `json:"function_imports"`
	Actions         int `json:"actions"`
}

// IsCollectionType reports whether typeName has the form Collection(X)
func IsCollectionType(typeName string) bool {
	return strings.HasPrefix(typeName, "Collection(") && strings.HasSuffix(typeName, ")")
}

// CollectionElementType unwraps Collection(X) to X; other names are returned unchanged
func CollectionElementType(typeName string) string {
	if IsCollectionType(typeName) {
		return typeName[len("Collection(") : len(typeName)-1]
	}
	return typeName
}
