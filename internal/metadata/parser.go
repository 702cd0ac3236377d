package metadata

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/zmcp/odata-codec/internal/constants"
	"github.com/zmcp/odata-codec/internal/models"
)

// EDMX represents the root EDMX document
type EDMX struct {
	XMLName      xml.Name     `xml:"Edmx"`
	Version      string       `xml:"Version,attr"`
	DataServices DataServices `xml:"DataServices"`
}

// DataServices contains the schemas
type DataServices struct {
	XMLName xml.Name `xml:"DataServices"`
	Schemas []Schema `xml:"Schema"`
}

// Schema contains entity types, associations and the entity container
type Schema struct {
	XMLName          xml.Name          `xml:"Schema"`
	Namespace        string            `xml:"Namespace,attr"`
	EntityTypes      []EntityType      `xml:"EntityType"`
	ComplexTypes     []ComplexType     `xml:"ComplexType"`
	Associations     []Association     `xml:"Association"`
	EntityContainers []EntityContainer `xml:"EntityContainer"`
}

// EntityType represents an OData entity type
type EntityType struct {
	XMLName              xml.Name             `xml:"EntityType"`
	Name                 string               `xml:"Name,attr"`
	BaseType             string               `xml:"BaseType,attr"`
	Abstract             string               `xml:"Abstract,attr"`
	OpenType             string               `xml:"OpenType,attr"`
	HasStream            string               `xml:"http://schemas.microsoft.com/ado/2007/08/dataservices/metadata HasStream,attr"`
	Key                  Key                  `xml:"Key"`
	Properties           []Property           `xml:"Property"`
	NavigationProperties []NavigationProperty `xml:"NavigationProperty"`
}

// ComplexType represents an OData complex type
type ComplexType struct {
	XMLName    xml.Name   `xml:"ComplexType"`
	Name       string     `xml:"Name,attr"`
	BaseType   string     `xml:"BaseType,attr"`
	Properties []Property `xml:"Property"`
}

// Key contains key properties
type Key struct {
	XMLName      xml.Name      `xml:"Key"`
	PropertyRefs []PropertyRef `xml:"PropertyRef"`
}

// PropertyRef references a key property
type PropertyRef struct {
	XMLName xml.Name `xml:"PropertyRef"`
	Name    string   `xml:"Name,attr"`
}

// Property represents an entity property
type Property struct {
	XMLName  xml.Name `xml:"Property"`
	Name     string   `xml:"Name,attr"`
	Type     string   `xml:"Type,attr"`
	Nullable string   `xml:"Nullable,attr"`
}

// NavigationProperty represents a navigation property
type NavigationProperty struct {
	XMLName      xml.Name `xml:"NavigationProperty"`
	Name         string   `xml:"Name,attr"`
	Relationship string   `xml:"Relationship,attr"`
	ToRole       string   `xml:"ToRole,attr"`
	FromRole     string   `xml:"FromRole,attr"`
}

// Association describes both ends of a v2 relationship
type Association struct {
	XMLName xml.Name         `xml:"Association"`
	Name    string           `xml:"Name,attr"`
	Ends    []AssociationEnd `xml:"End"`
}

// AssociationEnd is one end of an association or association set
type AssociationEnd struct {
	Type         string `xml:"Type,attr"`
	Role         string `xml:"Role,attr"`
	Multiplicity string `xml:"Multiplicity,attr"`
	EntitySet    string `xml:"EntitySet,attr"`
}

// AssociationSet binds an association to entity sets
type AssociationSet struct {
	XMLName     xml.Name         `xml:"AssociationSet"`
	Name        string           `xml:"Name,attr"`
	Association string           `xml:"Association,attr"`
	Ends        []AssociationEnd `xml:"End"`
}

// EntityContainer contains entity sets and function imports
type EntityContainer struct {
	XMLName         xml.Name         `xml:"EntityContainer"`
	Name            string           `xml:"Name,attr"`
	EntitySets      []EntitySet      `xml:"EntitySet"`
	AssociationSets []AssociationSet `xml:"AssociationSet"`
	FunctionImports []FunctionImport `xml:"FunctionImport"`
}

// EntitySet represents an OData entity set
type EntitySet struct {
	XMLName    xml.Name `xml:"EntitySet"`
	Name       string   `xml:"Name,attr"`
	EntityType string   `xml:"EntityType,attr"`
	// SAP-specific attributes
	Creatable string `xml:"http://www.sap.com/Protocols/SAPData creatable,attr"`
	Updatable string `xml:"http://www.sap.com/Protocols/SAPData updatable,attr"`
	Deletable string `xml:"http://www.sap.com/Protocols/SAPData deletable,attr"`
}

// FunctionImport represents an OData function import
type FunctionImport struct {
	XMLName    xml.Name    `xml:"FunctionImport"`
	Name       string      `xml:"Name,attr"`
	ReturnType string      `xml:"ReturnType,attr"`
	HTTPMethod string      `xml:"http://schemas.microsoft.com/ado/2007/08/dataservices/metadata HttpMethod,attr"`
	Parameters []Parameter `xml:"Parameter"`
}

// Parameter represents a function parameter
type Parameter struct {
	XMLName  xml.Name `xml:"Parameter"`
	Name     string   `xml:"Name,attr"`
	Type     string   `xml:"Type,attr"`
	Mode     string   `xml:"Mode,attr"`
	Nullable string   `xml:"Nullable,attr"`
}

// ParseMetadata parses OData metadata XML and returns structured metadata
// It automatically detects whether the metadata is v2 or v4 and uses the appropriate parser
func ParseMetadata(data []byte, serviceRoot string) (*models.ODataMetadata, error) {
	if IsODataV4(data) {
		return ParseMetadataV4(data, serviceRoot)
	}

	var edmx EDMX
	if err := xml.Unmarshal(data, &edmx); err != nil {
		return nil, fmt.Errorf("failed to parse metadata XML: %w", err)
	}
	if len(edmx.DataServices.Schemas) == 0 {
		return nil, fmt.Errorf("no schemas found in metadata")
	}

	metadata := newMetadata(serviceRoot, edmx.Version)

	associations := make(map[string]Association)
	var container *EntityContainer
	for i := range edmx.DataServices.Schemas {
		schema := &edmx.DataServices.Schemas[i]
		for _, assoc := range schema.Associations {
			associations[schema.Namespace+"."+assoc.Name] = assoc
		}
		if container == nil && len(schema.EntityContainers) > 0 {
			container = &schema.EntityContainers[0]
			metadata.SchemaNamespace = schema.Namespace
			metadata.ContainerName = container.Name
		}
	}
	if container == nil {
		return nil, fmt.Errorf("no entity container found in metadata")
	}

	// Parse entity and complex types
	for _, schema := range edmx.DataServices.Schemas {
		for _, et := range schema.EntityTypes {
			entityType := parseEntityType(et, schema.Namespace, associations)
			metadata.Types[entityType.FullName()] = entityType
		}
		for _, ct := range schema.ComplexTypes {
			complexType := parseComplexType(ct, schema.Namespace)
			metadata.Types[complexType.FullName()] = complexType
		}
	}
	classifyProperties(metadata, nil)

	// Parse entity sets
	for _, es := range container.EntitySets {
		metadata.EntitySets[es.Name] = parseEntitySet(es)
	}
	bindAssociationSets(metadata, container.AssociationSets, associations)

	// Parse function imports
	for _, fi := range container.FunctionImports {
		metadata.FunctionImports[fi.Name] = parseFunctionImport(fi)
	}

	return metadata, nil
}

// parseEntityType converts XML entity type to model
func parseEntityType(et EntityType, namespace string, associations map[string]Association) *models.ResourceType {
	entityType := &models.ResourceType{
		Name:            et.Name,
		Namespace:       namespace,
		Kind:            models.EntityTypeKind,
		BaseType:        et.BaseType,
		Abstract:        et.Abstract == "true",
		OpenType:        et.OpenType == "true",
		HasStream:       et.HasStream == "true",
		Properties:      make([]*models.EntityProperty, 0),
		KeyProperties:   make([]string, 0),
		NavigationProps: make([]*models.NavigationProperty, 0),
	}

	for _, keyRef := range et.Key.PropertyRefs {
		entityType.KeyProperties = append(entityType.KeyProperties, keyRef.Name)
	}

	for _, prop := range et.Properties {
		entityType.Properties = append(entityType.Properties, &models.EntityProperty{
			Name:     prop.Name,
			Type:     prop.Type,
			Nullable: prop.Nullable != "false", // Default to true if not specified
			IsKey:    contains(entityType.KeyProperties, prop.Name),
		})
	}

	for _, navProp := range et.NavigationProperties {
		navigationProp := &models.NavigationProperty{
			Name:         navProp.Name,
			Relationship: navProp.Relationship,
			ToRole:       navProp.ToRole,
			FromRole:     navProp.FromRole,
			Nullable:     true,
		}
		// v2 navigation targets live on the association end named by ToRole
		if assoc, ok := associations[navProp.Relationship]; ok {
			for _, end := range assoc.Ends {
				if end.Role != navProp.ToRole {
					continue
				}
				navigationProp.Type = end.Type
				if end.Multiplicity == "*" {
					navigationProp.Type = "Collection(" + end.Type + ")"
				}
				navigationProp.Nullable = end.Multiplicity != "1"
			}
		}
		entityType.NavigationProps = append(entityType.NavigationProps, navigationProp)
	}

	return entityType
}

// parseComplexType converts XML complex type to model
func parseComplexType(ct ComplexType, namespace string) *models.ResourceType {
	complexType := &models.ResourceType{
		Name:          ct.Name,
		Namespace:     namespace,
		Kind:          models.ComplexTypeKind,
		BaseType:      ct.BaseType,
		Properties:    make([]*models.EntityProperty, 0),
		KeyProperties: make([]string, 0),
	}
	for _, prop := range ct.Properties {
		complexType.Properties = append(complexType.Properties, &models.EntityProperty{
			Name:     prop.Name,
			Type:     prop.Type,
			Nullable: prop.Nullable != "false",
		})
	}
	return complexType
}

// parseEntitySet converts XML entity set to model
func parseEntitySet(es EntitySet) *models.EntitySet {
	return &models.EntitySet{
		Name:               es.Name,
		EntityType:         es.EntityType,
		NavigationBindings: make(map[string]string),
		Creatable:          es.Creatable != "false", // Default to true
		Updatable:          es.Updatable != "false", // Default to true
		Deletable:          es.Deletable != "false", // Default to true
	}
}

// bindAssociationSets derives navigation bindings from v2 association sets
func bindAssociationSets(metadata *models.ODataMetadata, sets []AssociationSet, associations map[string]Association) {
	for _, set := range metadata.EntitySets {
		entityType, ok := metadata.Types[set.EntityType]
		if !ok {
			continue
		}
		for _, nav := range entityType.NavigationProps {
			for _, assocSet := range sets {
				if assocSet.Association != nav.Relationship {
					continue
				}
				var fromSet, toSet string
				for _, end := range assocSet.Ends {
					switch end.Role {
					case nav.FromRole:
						fromSet = end.EntitySet
					case nav.ToRole:
						toSet = end.EntitySet
					}
				}
				if fromSet == set.Name && toSet != "" {
					set.NavigationBindings[nav.Name] = toSet
				}
			}
		}
	}
}

// parseFunctionImport converts XML function import to model
func parseFunctionImport(fi FunctionImport) *models.FunctionImport {
	functionImport := &models.FunctionImport{
		Name:       fi.Name,
		HTTPMethod: fi.HTTPMethod,
		ReturnType: fi.ReturnType,
		Parameters: make([]*models.FunctionParameter, 0),
	}

	// Default HTTP method to GET if not specified
	if functionImport.HTTPMethod == "" {
		functionImport.HTTPMethod = constants.GET
	}

	for _, param := range fi.Parameters {
		parameter := &models.FunctionParameter{
			Name:     param.Name,
			Type:     param.Type,
			Mode:     param.Mode,
			Nullable: param.Nullable != "false", // Default to true
		}
		if parameter.Mode == "" {
			parameter.Mode = "In"
		}
		functionImport.Parameters = append(functionImport.Parameters, parameter)
	}

	return functionImport
}

// classifyProperties sets Kind and IsCollection once every type of the model is known
func classifyProperties(metadata *models.ODataMetadata, enums map[string]bool) {
	for _, t := range metadata.Types {
		for _, prop := range t.Properties {
			prop.IsCollection = models.IsCollectionType(prop.Type)
			element := prop.ElementType()
			switch {
			case element == constants.EdmStream:
				prop.Kind = models.PropertyKindStream
			case strings.HasPrefix(element, "Edm.") || enums[element]:
				prop.Kind = models.PropertyKindPrimitive
			default:
				if target, ok := metadata.Types[element]; ok && !target.IsEntity() {
					prop.Kind = models.PropertyKindComplex
				} else {
					prop.Kind = models.PropertyKindPrimitive
				}
			}
		}
	}
}

// localName strips the namespace qualifier from a name
func localName(name string) string {
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		return name[idx+1:]
	}
	return name
}

// contains checks if a slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
