package metadata

import (
	"sort"
	"strings"

	"github.com/zmcp/odata-codec/internal/event"
	"github.com/zmcp/odata-codec/internal/models"
)

// maxInheritanceDepth bounds base-type walks so a cyclic BaseType chain in a
// malformed document cannot loop forever
const maxInheritanceDepth = 64

// Provider answers type, property, set and inheritance questions against
// parsed service metadata
type Provider struct {
	meta       *models.ODataMetadata
	shortNames map[string][]string
	derived    map[string][]string
}

// NewProvider indexes meta for lookups
func NewProvider(meta *models.ODataMetadata) *Provider {
	p := &Provider{
		meta:       meta,
		shortNames: make(map[string][]string),
		derived:    make(map[string][]string),
	}
	for fullName, t := range meta.Types {
		p.shortNames[t.Name] = append(p.shortNames[t.Name], fullName)
		if t.BaseType != "" {
			p.derived[t.BaseType] = append(p.derived[t.BaseType], fullName)
		}
	}
	for _, names := range p.derived {
		sort.Strings(names)
	}
	return p
}

// Metadata returns the underlying parsed metadata
func (p *Provider) Metadata() *models.ODataMetadata {
	return p.meta
}

// ServiceRoot returns the service root URL the metadata was loaded for
func (p *Provider) ServiceRoot() string {
	return p.meta.ServiceRoot
}

// ResolveType finds a type by qualified name, or by unqualified name when it
// is unique. A leading '#' is tolerated. Matching is case-sensitive.
func (p *Provider) ResolveType(name string) (*models.ResourceType, bool) {
	name = strings.TrimPrefix(name, "#")
	if name == "" {
		return nil, false
	}
	if t, ok := p.meta.Types[name]; ok {
		return t, true
	}
	if candidates := p.shortNames[name]; len(candidates) == 1 {
		return p.meta.Types[candidates[0]], true
	}
	return nil, false
}

// BaseType returns the direct base type of t, if any
func (p *Provider) BaseType(t *models.ResourceType) *models.ResourceType {
	if t == nil || t.BaseType == "" {
		return nil
	}
	return p.meta.Types[t.BaseType]
}

// HasDerivedTypes reports whether any type derives from t
func (p *Provider) HasDerivedTypes(t *models.ResourceType) bool {
	return len(p.derived[t.FullName()]) > 0
}

// DerivedTypes returns the qualified names of the direct subtypes of t
func (p *Provider) DerivedTypes(t *models.ResourceType) []string {
	return p.derived[t.FullName()]
}

// IsAssignableFrom reports whether derived is base or inherits from it
func (p *Provider) IsAssignableFrom(base, derived *models.ResourceType) bool {
	for i, t := 0, derived; t != nil && i < maxInheritanceDepth; i, t = i+1, p.BaseType(t) {
		if t.FullName() == base.FullName() {
			return true
		}
	}
	return false
}

// hierarchy returns t and its ancestors, root first
func (p *Provider) hierarchy(t *models.ResourceType) []*models.ResourceType {
	var chain []*models.ResourceType
	for i := 0; t != nil && i < maxInheritanceDepth; i, t = i+1, p.BaseType(t) {
		chain = append(chain, t)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// Properties returns the structural properties of t, inherited ones first
func (p *Provider) Properties(t *models.ResourceType) []*models.EntityProperty {
	var props []*models.EntityProperty
	for _, level := range p.hierarchy(t) {
		props = append(props, level.Properties...)
	}
	return props
}

// NavigationProperties returns the navigation properties of t, inherited ones first
func (p *Provider) NavigationProperties(t *models.ResourceType) []*models.NavigationProperty {
	var navs []*models.NavigationProperty
	for _, level := range p.hierarchy(t) {
		navs = append(navs, level.NavigationProps...)
	}
	return navs
}

// KeyProperties returns the key properties of t in declared key order. The
// key is declared on the root of the hierarchy.
func (p *Provider) KeyProperties(t *models.ResourceType) []*models.EntityProperty {
	var names []string
	for _, level := range p.hierarchy(t) {
		if len(level.KeyProperties) > 0 {
			names = level.KeyProperties
			break
		}
	}
	keys := make([]*models.EntityProperty, 0, len(names))
	for _, name := range names {
		if prop, ok := p.FindProperty(t, name); ok {
			keys = append(keys, prop)
		}
	}
	return keys
}

// FindProperty looks up a structural property by exact name
func (p *Provider) FindProperty(t *models.ResourceType, name string) (*models.EntityProperty, bool) {
	for _, prop := range p.Properties(t) {
		if prop.Name == name {
			return prop, true
		}
	}
	return nil, false
}

// FindNavigationProperty looks up a navigation property by exact name
func (p *Provider) FindNavigationProperty(t *models.ResourceType, name string) (*models.NavigationProperty, bool) {
	for _, nav := range p.NavigationProperties(t) {
		if nav.Name == name {
			return nav, true
		}
	}
	return nil, false
}

// EntitySet looks up an entity set by name
func (p *Provider) EntitySet(name string) (*models.EntitySet, bool) {
	set, ok := p.meta.EntitySets[name]
	return set, ok
}

// EntitySetType returns the base entity type of set
func (p *Provider) EntitySetType(set *models.EntitySet) (*models.ResourceType, bool) {
	return p.ResolveType(set.EntityType)
}

// NavigationTarget returns the entity set reached from set through the
// navigation property nav. Explicit bindings win; otherwise the only set of
// the target type is used.
func (p *Provider) NavigationTarget(set *models.EntitySet, nav *models.NavigationProperty) (*models.EntitySet, bool) {
	if set != nil {
		if target, ok := set.NavigationBindings[nav.Name]; ok {
			return p.EntitySet(target)
		}
		for path, target := range set.NavigationBindings {
			if strings.HasSuffix(path, "/"+nav.Name) {
				return p.EntitySet(target)
			}
		}
	}

	targetType, ok := p.ResolveType(nav.TargetType())
	if !ok {
		return nil, false
	}
	var match *models.EntitySet
	for _, candidate := range p.meta.EntitySets {
		candidateType, ok := p.EntitySetType(candidate)
		if !ok || !p.IsAssignableFrom(candidateType, targetType) {
			continue
		}
		if match != nil {
			return nil, false
		}
		match = candidate
	}
	return match, match != nil
}

// BindableActions returns the actions bound to t or one of its ancestors,
// ordered by qualified name. Feed-bound actions are not included.
func (p *Provider) BindableActions(t *models.ResourceType) []*models.Action {
	var actions []*models.Action
	for _, action := range p.meta.Actions {
		if models.IsCollectionType(action.BindingType) {
			continue
		}
		bindingType, ok := p.ResolveType(action.BindingType)
		if ok && p.IsAssignableFrom(bindingType, t) {
			actions = append(actions, action)
		}
	}
	sort.Slice(actions, func(i, j int) bool {
		return actions[i].FullName() < actions[j].FullName()
	})
	return actions
}

// PropertyInfo classifies a property for the JSON event reader
func (p *Provider) PropertyInfo(typeName, property string) event.PropertyInfo {
	t, ok := p.ResolveType(typeName)
	if !ok {
		return event.PropertyInfo{}
	}
	if nav, ok := p.FindNavigationProperty(t, property); ok {
		return event.PropertyInfo{
			Shape:        event.ShapeNavigation,
			TypeName:     nav.TargetType(),
			IsCollection: nav.IsCollection(),
		}
	}
	prop, ok := p.FindProperty(t, property)
	if !ok {
		return event.PropertyInfo{}
	}
	info := event.PropertyInfo{
		Shape:        event.ShapePrimitive,
		TypeName:     prop.ElementType(),
		IsCollection: prop.IsCollection,
	}
	if prop.Kind == models.PropertyKindComplex {
		info.Shape = event.ShapeComplex
	}
	return info
}
