package metadata

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/zmcp/odata-codec/internal/models"
)

// EDMXV4 represents the root EDMX document for OData v4
type EDMXV4 struct {
	XMLName      xml.Name       `xml:"Edmx"`
	Version      string         `xml:"Version,attr"`
	DataServices DataServicesV4 `xml:"DataServices"`
}

// DataServicesV4 contains the schema for OData v4
type DataServicesV4 struct {
	XMLName xml.Name   `xml:"DataServices"`
	Schemas []SchemaV4 `xml:"Schema"`
}

// SchemaV4 contains entity types, entity sets, and function imports for OData v4
type SchemaV4 struct {
	XMLName          xml.Name            `xml:"Schema"`
	Namespace        string              `xml:"Namespace,attr"`
	Alias            string              `xml:"Alias,attr"`
	EntityTypes      []EntityTypeV4      `xml:"EntityType"`
	ComplexTypes     []ComplexTypeV4     `xml:"ComplexType"`
	EnumTypes        []EnumTypeV4        `xml:"EnumType"`
	EntityContainers []EntityContainerV4 `xml:"EntityContainer"`
	Functions        []FunctionV4        `xml:"Function"`
	Actions          []ActionV4          `xml:"Action"`
}

// EntityTypeV4 represents an OData v4 entity type
type EntityTypeV4 struct {
	XMLName              xml.Name               `xml:"EntityType"`
	Name                 string                 `xml:"Name,attr"`
	BaseType             string                 `xml:"BaseType,attr"`
	Abstract             string                 `xml:"Abstract,attr"`
	OpenType             string                 `xml:"OpenType,attr"`
	HasStream            string                 `xml:"HasStream,attr"`
	Key                  KeyV4                  `xml:"Key"`
	Properties           []PropertyV4           `xml:"Property"`
	NavigationProperties []NavigationPropertyV4 `xml:"NavigationProperty"`
}

// ComplexTypeV4 represents an OData v4 complex type
type ComplexTypeV4 struct {
	XMLName    xml.Name     `xml:"ComplexType"`
	Name       string       `xml:"Name,attr"`
	BaseType   string       `xml:"BaseType,attr"`
	Abstract   string       `xml:"Abstract,attr"`
	OpenType   string       `xml:"OpenType,attr"`
	Properties []PropertyV4 `xml:"Property"`
}

// EnumTypeV4 represents an OData v4 enum type
type EnumTypeV4 struct {
	XMLName        xml.Name `xml:"EnumType"`
	Name           string   `xml:"Name,attr"`
	UnderlyingType string   `xml:"UnderlyingType,attr"`
}

// KeyV4 contains key properties for OData v4
type KeyV4 struct {
	XMLName      xml.Name        `xml:"Key"`
	PropertyRefs []PropertyRefV4 `xml:"PropertyRef"`
}

// PropertyRefV4 references a key property in OData v4
type PropertyRefV4 struct {
	XMLName xml.Name `xml:"PropertyRef"`
	Name    string   `xml:"Name,attr"`
}

// PropertyV4 represents an entity property in OData v4
type PropertyV4 struct {
	XMLName  xml.Name `xml:"Property"`
	Name     string   `xml:"Name,attr"`
	Type     string   `xml:"Type,attr"`
	Nullable string   `xml:"Nullable,attr"`
}

// NavigationPropertyV4 represents a navigation property in OData v4
type NavigationPropertyV4 struct {
	XMLName        xml.Name `xml:"NavigationProperty"`
	Name           string   `xml:"Name,attr"`
	Type           string   `xml:"Type,attr"`
	Nullable       string   `xml:"Nullable,attr"`
	Partner        string   `xml:"Partner,attr"`
	ContainsTarget string   `xml:"ContainsTarget,attr"`
}

// EntityContainerV4 contains entity sets and singletons for OData v4
type EntityContainerV4 struct {
	XMLName         xml.Name           `xml:"EntityContainer"`
	Name            string             `xml:"Name,attr"`
	EntitySets      []EntitySetV4      `xml:"EntitySet"`
	FunctionImports []FunctionImportV4 `xml:"FunctionImport"`
	ActionImports   []ActionImportV4   `xml:"ActionImport"`
}

// EntitySetV4 represents an OData v4 entity set
type EntitySetV4 struct {
	XMLName                    xml.Name                    `xml:"EntitySet"`
	Name                       string                      `xml:"Name,attr"`
	EntityType                 string                      `xml:"EntityType,attr"`
	NavigationPropertyBindings []NavigationPropertyBinding `xml:"NavigationPropertyBinding"`
}

// NavigationPropertyBinding represents a navigation property binding
type NavigationPropertyBinding struct {
	XMLName xml.Name `xml:"NavigationPropertyBinding"`
	Path    string   `xml:"Path,attr"`
	Target  string   `xml:"Target,attr"`
}

// FunctionImportV4 represents an OData v4 function import
type FunctionImportV4 struct {
	XMLName  xml.Name `xml:"FunctionImport"`
	Name     string   `xml:"Name,attr"`
	Function string   `xml:"Function,attr"`
}

// ActionImportV4 represents an OData v4 action import
type ActionImportV4 struct {
	XMLName xml.Name `xml:"ActionImport"`
	Name    string   `xml:"Name,attr"`
	Action  string   `xml:"Action,attr"`
}

// FunctionV4 represents an OData v4 function
type FunctionV4 struct {
	XMLName    xml.Name      `xml:"Function"`
	Name       string        `xml:"Name,attr"`
	IsBound    string        `xml:"IsBound,attr"`
	Parameters []ParameterV4 `xml:"Parameter"`
	ReturnType ReturnTypeV4  `xml:"ReturnType"`
}

// ActionV4 represents an OData v4 action
type ActionV4 struct {
	XMLName    xml.Name      `xml:"Action"`
	Name       string        `xml:"Name,attr"`
	IsBound    string        `xml:"IsBound,attr"`
	Parameters []ParameterV4 `xml:"Parameter"`
	ReturnType *ReturnTypeV4 `xml:"ReturnType"`
}

// ParameterV4 represents a function/action parameter in OData v4
type ParameterV4 struct {
	XMLName  xml.Name `xml:"Parameter"`
	Name     string   `xml:"Name,attr"`
	Type     string   `xml:"Type,attr"`
	Nullable string   `xml:"Nullable,attr"`
}

// ReturnTypeV4 represents a function/action return type in OData v4
type ReturnTypeV4 struct {
	XMLName xml.Name `xml:"ReturnType"`
	Type    string   `xml:"Type,attr"`
}

// ParseMetadataV4 parses OData v4 metadata XML and returns structured metadata
func ParseMetadataV4(data []byte, serviceRoot string) (*models.ODataMetadata, error) {
	var edmx EDMXV4
	if err := xml.Unmarshal(data, &edmx); err != nil {
		return nil, fmt.Errorf("failed to parse v4 metadata XML: %w", err)
	}

	if len(edmx.DataServices.Schemas) == 0 {
		return nil, fmt.Errorf("no schemas found in metadata")
	}

	// Find the main schema and container
	var mainSchema *SchemaV4
	var mainContainer *EntityContainerV4

	for i := range edmx.DataServices.Schemas {
		schema := &edmx.DataServices.Schemas[i]
		if len(schema.EntityContainers) > 0 {
			mainSchema = schema
			mainContainer = &schema.EntityContainers[0]
			break
		}
	}

	if mainSchema == nil || mainContainer == nil {
		return nil, fmt.Errorf("no entity container found in metadata")
	}

	metadata := newMetadata(serviceRoot, edmx.Version)
	metadata.SchemaNamespace = mainSchema.Namespace
	metadata.ContainerName = mainContainer.Name

	aliases := make(map[string]string)
	for _, schema := range edmx.DataServices.Schemas {
		if schema.Alias != "" {
			aliases[schema.Alias] = schema.Namespace
		}
	}
	qualify := func(name string) string { return resolveAlias(name, aliases) }

	enums := make(map[string]bool)
	for _, schema := range edmx.DataServices.Schemas {
		for _, enum := range schema.EnumTypes {
			enums[schema.Namespace+"."+enum.Name] = true
		}
	}

	// Parse entity and complex types from all schemas
	for _, schema := range edmx.DataServices.Schemas {
		for _, et := range schema.EntityTypes {
			entityType := parseEntityTypeV4(et, schema.Namespace, qualify)
			metadata.Types[entityType.FullName()] = entityType
		}
		for _, ct := range schema.ComplexTypes {
			complexType := parseComplexTypeV4(ct, schema.Namespace, qualify)
			metadata.Types[complexType.FullName()] = complexType
		}
	}
	classifyProperties(metadata, enums)

	// Parse entity sets
	for _, es := range mainContainer.EntitySets {
		entitySet := parseEntitySetV4(es, qualify)
		metadata.EntitySets[es.Name] = entitySet
	}

	// Bound actions are advertised on entries; unbound ones surface as imports
	for _, schema := range edmx.DataServices.Schemas {
		for _, action := range schema.Actions {
			if action.IsBound == "true" && len(action.Parameters) > 0 {
				bound := parseBoundActionV4(action, schema.Namespace, qualify)
				metadata.Actions[bound.FullName()] = bound
			}
		}
	}

	// Parse function imports
	for _, fi := range mainContainer.FunctionImports {
		functionImport := parseFunctionImportV4(fi, mainSchema.Functions, qualify)
		if functionImport != nil {
			metadata.FunctionImports[fi.Name] = functionImport
		}
	}

	// Parse action imports as function imports (for compatibility)
	for _, ai := range mainContainer.ActionImports {
		actionImport := parseActionImportV4(ai, mainSchema.Actions, qualify)
		if actionImport != nil {
			metadata.FunctionImports[ai.Name] = actionImport
		}
	}

	return metadata, nil
}

// parseEntityTypeV4 converts XML entity type to model for OData v4
func parseEntityTypeV4(et EntityTypeV4, namespace string, qualify func(string) string) *models.ResourceType {
	entityType := &models.ResourceType{
		Name:            et.Name,
		Namespace:       namespace,
		Kind:            models.EntityTypeKind,
		BaseType:        qualify(et.BaseType),
		Abstract:        et.Abstract == "true",
		OpenType:        et.OpenType == "true",
		HasStream:       et.HasStream == "true",
		Properties:      make([]*models.EntityProperty, 0),
		KeyProperties:   make([]string, 0),
		NavigationProps: make([]*models.NavigationProperty, 0),
	}

	// Parse key properties
	for _, keyRef := range et.Key.PropertyRefs {
		entityType.KeyProperties = append(entityType.KeyProperties, keyRef.Name)
	}

	// Parse properties
	for _, prop := range et.Properties {
		entityType.Properties = append(entityType.Properties, &models.EntityProperty{
			Name:     prop.Name,
			Type:     qualify(prop.Type),
			Nullable: prop.Nullable != "false",
			IsKey:    contains(entityType.KeyProperties, prop.Name),
		})
	}

	// Parse navigation properties
	for _, navProp := range et.NavigationProperties {
		entityType.NavigationProps = append(entityType.NavigationProps, &models.NavigationProperty{
			Name:           navProp.Name,
			Type:           qualify(navProp.Type),
			Partner:        navProp.Partner,
			Nullable:       navProp.Nullable != "false",
			ContainsTarget: navProp.ContainsTarget == "true",
		})
	}

	return entityType
}

// parseComplexTypeV4 converts XML complex type to model for OData v4
func parseComplexTypeV4(ct ComplexTypeV4, namespace string, qualify func(string) string) *models.ResourceType {
	complexType := &models.ResourceType{
		Name:          ct.Name,
		Namespace:     namespace,
		Kind:          models.ComplexTypeKind,
		BaseType:      qualify(ct.BaseType),
		Abstract:      ct.Abstract == "true",
		OpenType:      ct.OpenType == "true",
		Properties:    make([]*models.EntityProperty, 0),
		KeyProperties: make([]string, 0),
	}
	for _, prop := range ct.Properties {
		complexType.Properties = append(complexType.Properties, &models.EntityProperty{
			Name:     prop.Name,
			Type:     qualify(prop.Type),
			Nullable: prop.Nullable != "false",
		})
	}
	return complexType
}

// parseEntitySetV4 converts XML entity set to model for OData v4
func parseEntitySetV4(es EntitySetV4, qualify func(string) string) *models.EntitySet {
	entitySet := &models.EntitySet{
		Name:               es.Name,
		EntityType:         qualify(es.EntityType),
		NavigationBindings: make(map[string]string),
		// OData v4 doesn't have explicit CRUD capability attributes in metadata
		Creatable: true,
		Updatable: true,
		Deletable: true,
	}
	for _, binding := range es.NavigationPropertyBindings {
		entitySet.NavigationBindings[binding.Path] = binding.Target
	}
	return entitySet
}

// parseBoundActionV4 converts a bound XML action; the first parameter is the binding parameter
func parseBoundActionV4(action ActionV4, namespace string, qualify func(string) string) *models.Action {
	bound := &models.Action{
		Name:        action.Name,
		Namespace:   namespace,
		BindingType: qualify(action.Parameters[0].Type),
		Parameters:  make([]*models.FunctionParameter, 0, len(action.Parameters)-1),
	}
	if action.ReturnType != nil {
		bound.ReturnType = qualify(action.ReturnType.Type)
	}
	for _, param := range action.Parameters[1:] {
		bound.Parameters = append(bound.Parameters, &models.FunctionParameter{
			Name:     param.Name,
			Type:     qualify(param.Type),
			Nullable: param.Nullable != "false",
		})
	}
	return bound
}

// parseFunctionImportV4 converts XML function import to model for OData v4
func parseFunctionImportV4(fi FunctionImportV4, functions []FunctionV4, qualify func(string) string) *models.FunctionImport {
	functionName := localName(fi.Function)

	var function *FunctionV4
	for i := range functions {
		if functions[i].Name == functionName {
			function = &functions[i]
			break
		}
	}
	if function == nil {
		return nil
	}

	functionImport := &models.FunctionImport{
		Name:       fi.Name,
		HTTPMethod: "GET", // Functions are always GET in OData v4
		ReturnType: qualify(function.ReturnType.Type),
		Parameters: parseParametersV4(function.Parameters, qualify),
		IsBound:    function.IsBound == "true",
	}
	return functionImport
}

// parseActionImportV4 converts XML action import to model for OData v4
func parseActionImportV4(ai ActionImportV4, actions []ActionV4, qualify func(string) string) *models.FunctionImport {
	actionName := localName(ai.Action)

	var action *ActionV4
	for i := range actions {
		if actions[i].Name == actionName {
			action = &actions[i]
			break
		}
	}
	if action == nil {
		return nil
	}

	actionImport := &models.FunctionImport{
		Name:       ai.Name,
		HTTPMethod: "POST", // Actions are always POST in OData v4
		Parameters: parseParametersV4(action.Parameters, qualify),
		IsAction:   true,
	}
	if action.ReturnType != nil {
		actionImport.ReturnType = qualify(action.ReturnType.Type)
	}
	return actionImport
}

func parseParametersV4(params []ParameterV4, qualify func(string) string) []*models.FunctionParameter {
	result := make([]*models.FunctionParameter, 0, len(params))
	for _, param := range params {
		if param.Name == "bindingParameter" {
			continue // Skip binding parameters
		}
		result = append(result, &models.FunctionParameter{
			Name:     param.Name,
			Type:     qualify(param.Type),
			Nullable: param.Nullable != "false",
		})
	}
	return result
}

// resolveAlias replaces a schema alias prefix with the schema namespace, keeping Collection(...) wrappers
func resolveAlias(typeName string, aliases map[string]string) string {
	if typeName == "" {
		return ""
	}
	if models.IsCollectionType(typeName) {
		return "Collection(" + resolveAlias(models.CollectionElementType(typeName), aliases) + ")"
	}
	if strings.HasPrefix(typeName, "Edm.") {
		return typeName
	}
	idx := strings.LastIndex(typeName, ".")
	if idx < 0 {
		return typeName
	}
	if namespace, ok := aliases[typeName[:idx]]; ok {
		return namespace + "." + typeName[idx+1:]
	}
	return typeName
}

// IsODataV4 checks if the metadata is OData v4
func IsODataV4(data []byte) bool {
	var edmx EDMXV4
	if err := xml.Unmarshal(data, &edmx); err != nil {
		return false
	}
	return edmx.Version == "4.0" || edmx.Version == "4.01"
}

func newMetadata(serviceRoot, version string) *models.ODataMetadata {
	return &models.ODataMetadata{
		ServiceRoot:     serviceRoot,
		Types:           make(map[string]*models.ResourceType),
		EntitySets:      make(map[string]*models.EntitySet),
		FunctionImports: make(map[string]*models.FunctionImport),
		Actions:         make(map[string]*models.Action),
		Version:         version,
		ParsedAt:        time.Now(),
	}
}
