package reader

import (
	"go.uber.org/zap"

	"github.com/zmcp/odata-codec/internal/event"
	"github.com/zmcp/odata-codec/internal/keys"
	"github.com/zmcp/odata-codec/internal/metadata"
	"github.com/zmcp/odata-codec/internal/models"
	"github.com/zmcp/odata-codec/internal/odataerr"
	"github.com/zmcp/odata-codec/internal/updatable"
	"github.com/zmcp/odata-codec/internal/utils"
)

// typeNamer is implemented by backends that report the runtime type of a
// fetched resource
type typeNamer interface {
	TypeName(resource any) (string, error)
}

// materializer is phase two: it walks a captured tree against the backend.
// depth is counted here independently of the capture stack.
type materializer struct {
	provider    *metadata.Provider
	store       updatable.Updatable
	opts        Options
	serviceRoot string
	log         *zap.Logger

	tree    *tree
	depth   int
	objects int
}

// enter guards one level of recursion; release must run on every exit path
func (m *materializer) enter(target string) (release func(), err error) {
	if m.depth >= m.opts.MaxDepth {
		return nil, odataerr.BadRequest(odataerr.CodeRecursionLimit, target,
			"payload nesting exceeds the limit of %d", m.opts.MaxDepth)
	}
	m.depth++
	return func() { m.depth-- }, nil
}

// count accounts for one resource about to be created or fetched
func (m *materializer) count(target string) error {
	if m.objects >= m.opts.MaxObjects {
		return odataerr.New(odataerr.KindPayloadTooLarge, odataerr.CodeObjectCountLimit, target,
			"payload exceeds the limit of %d resources", m.opts.MaxObjects)
	}
	m.objects++
	return nil
}

// resolveType picks the runtime type of an entry: the annotated type when
// present, else the expected type when nothing derives from it
func (m *materializer) resolveType(res *event.Resource, expected *models.ResourceType) (*models.ResourceType, error) {
	if res.TypeName == "" {
		if expected == nil {
			return nil, odataerr.BadRequest(odataerr.CodeTypeNameRequired, "", "payload does not name its type")
		}
		if m.provider.HasDerivedTypes(expected) {
			return nil, odataerr.BadRequest(odataerr.CodeTypeNameRequired, expected.FullName(),
				"a type name is required because %s has derived types", expected.FullName())
		}
		return expected, nil
	}

	t, ok := m.provider.ResolveType(res.TypeName)
	if !ok {
		return nil, odataerr.BadRequest(odataerr.CodeTypeNotFound, res.TypeName, "type not found")
	}
	if expected == nil {
		return t, nil
	}
	if t.Kind != expected.Kind {
		return nil, odataerr.BadRequest(odataerr.CodeTypeKindMismatch, res.TypeName,
			"expected a %s value, got %s", kindName(expected), kindName(t))
	}
	if !m.provider.IsAssignableFrom(expected, t) {
		return nil, odataerr.BadRequest(odataerr.CodeTypeMismatch, res.TypeName,
			"%s is not assignable to %s", t.FullName(), expected.FullName())
	}
	return t, nil
}

func kindName(t *models.ResourceType) string {
	if t.IsEntity() {
		return "entity"
	}
	return "complex"
}

// openRoot creates or fetches the top-level entity as soon as it starts, so
// lookup failures surface before any property is applied
func (m *materializer) openRoot(res *event.Resource, set *models.EntitySet, expected *models.ResourceType, key keys.Key) (any, *models.ResourceType, error) {
	if res == nil {
		return nil, nil, odataerr.BadRequest(odataerr.CodeInvalidValue, set.Name, "top-level entry cannot be null")
	}
	if err := m.count(set.Name); err != nil {
		return nil, nil, err
	}

	if m.opts.Operation == OperationInsert {
		t, err := m.resolveType(res, expected)
		if err != nil {
			return nil, nil, err
		}
		handle, err := m.store.CreateResource(set.Name, t.FullName())
		return handle, t, err
	}

	if len(key) == 0 {
		return nil, nil, odataerr.BadRequest(odataerr.CodeKeyMissing, set.Name, "updates must address one entity by key")
	}

	var t *models.ResourceType
	typeName := ""
	if res.TypeName != "" || !m.provider.HasDerivedTypes(expected) {
		var err error
		if t, err = m.resolveType(res, expected); err != nil {
			return nil, nil, err
		}
		typeName = t.FullName()
	}

	handle, err := m.store.GetResource(set.Name, key, typeName)
	if err != nil {
		return nil, nil, err
	}

	if t == nil {
		// Untyped update of a set with derived types: ask the backend
		namer, ok := m.store.(typeNamer)
		if !ok {
			return nil, nil, odataerr.BadRequest(odataerr.CodeTypeNameRequired, expected.FullName(),
				"a type name is required because %s has derived types", expected.FullName())
		}
		name, err := namer.TypeName(handle)
		if err != nil {
			return nil, nil, err
		}
		var found bool
		if t, found = m.provider.ResolveType(name); !found {
			return nil, nil, odataerr.Provider(odataerr.CodeInconsistentType, name, "backend type is not in the metadata")
		}
	}

	if m.opts.Operation == OperationReplace {
		if err := m.checkETag(handle, set.Name); err != nil {
			return nil, nil, err
		}
		if handle, err = m.store.ResetResource(handle); err != nil {
			return nil, nil, err
		}
	}
	return handle, t, nil
}

func (m *materializer) checkETag(handle any, target string) error {
	if m.opts.IfMatch == "" || m.opts.IfMatch == "*" {
		return nil
	}
	etag, err := m.store.ETag(handle)
	if err != nil {
		return err
	}
	if etag != m.opts.IfMatch {
		return odataerr.New(odataerr.KindPreconditionFailed, odataerr.CodeETagMismatch, target,
			"If-Match %s does not match the current ETag", m.opts.IfMatch)
	}
	return nil
}

// applyEntry applies the captured content of an entity entry: scalars,
// then complex values, then navigation properties
func (m *materializer) applyEntry(idx int, handle any, t *models.ResourceType, set *models.EntitySet) error {
	n := m.tree.node(idx)
	release, err := m.enter(t.FullName())
	if err != nil {
		return err
	}
	defer release()

	if err := m.applyScalars(n.entry, handle, t); err != nil {
		return err
	}
	if err := m.applyComplex(n, handle, t); err != nil {
		return err
	}
	if err := m.applyNavigation(n, handle, t, set); err != nil {
		return err
	}

	m.log.Debug("materialized entry",
		zap.String("type", t.FullName()),
		zap.String("set", set.Name),
		zap.Int("depth", m.depth),
		zap.Int("objects", m.objects))
	return nil
}

func (m *materializer) applyScalars(res *event.Resource, handle any, t *models.ResourceType) error {
	isUpdate := m.opts.Operation != OperationInsert && t.IsEntity()
	var keyNames map[string]bool
	if isUpdate {
		keyNames = make(map[string]bool)
		for _, prop := range m.provider.KeyProperties(t) {
			keyNames[prop.Name] = true
		}
	}

	for _, p := range res.Properties {
		if keyNames[p.Name] {
			// Keys are addressed by the request, not changed by the body
			continue
		}
		value, err := m.convertProperty(t, p)
		if err != nil {
			return err
		}
		if err := m.store.SetValue(handle, p.Name, value); err != nil {
			return err
		}
	}
	return nil
}

func (m *materializer) convertProperty(t *models.ResourceType, p *event.Property) (any, error) {
	if _, isNav := m.provider.FindNavigationProperty(t, p.Name); isNav {
		return nil, odataerr.BadRequest(odataerr.CodeTypeKindMismatch, p.Name, "navigation property given as a primitive value")
	}
	prop, declared := m.provider.FindProperty(t, p.Name)
	if !declared {
		if !t.OpenType {
			return nil, odataerr.BadRequest(odataerr.CodePropertyNotFound, p.Name, "%s has no property %s", t.FullName(), p.Name)
		}
		value, err := utils.ConvertPrimitive(p.TypeName, p.Value)
		if err != nil {
			return nil, odataerr.BadRequest(odataerr.CodeInvalidValue, p.Name, "invalid value").WithCause(err)
		}
		return value, nil
	}
	if p.Value == nil && !prop.Nullable {
		return nil, odataerr.BadRequest(odataerr.CodeInvalidValue, p.Name, "property is not nullable")
	}
	value, err := m.provider.ConvertProperty(prop, p.Value)
	if err != nil {
		return nil, odataerr.BadRequest(odataerr.CodeInvalidValue, p.Name, "invalid %s value", prop.Type).WithCause(err)
	}
	return value, nil
}

func (m *materializer) applyComplex(n *node, handle any, t *models.ResourceType) error {
	for _, childIdx := range n.children {
		child := m.tree.node(childIdx)
		if !m.isComplex(t, child) {
			continue
		}
		prop, declared := m.provider.FindProperty(t, child.info.Name)
		if !declared || prop.Kind != models.PropertyKindComplex {
			if !declared && t.OpenType {
				return odataerr.BadRequest(odataerr.CodeTypeNameRequired, child.info.Name, "open complex values are not supported")
			}
			return odataerr.BadRequest(odataerr.CodePropertyNotFound, child.info.Name, "%s has no complex property %s", t.FullName(), child.info.Name)
		}
		complexType, ok := m.provider.ResolveType(prop.ElementType())
		if !ok {
			return odataerr.Provider(odataerr.CodeTypeNotFound, prop.ElementType(), "complex type is not in the metadata")
		}

		value, err := m.complexValue(child, prop, complexType)
		if err != nil {
			return err
		}
		if err := m.store.SetValue(handle, prop.Name, value); err != nil {
			return err
		}
	}
	return nil
}

// isComplex tells complex nested infos apart from navigation ones. The
// metadata wins over the reader's classification.
func (m *materializer) isComplex(t *models.ResourceType, child *node) bool {
	if child.kind != nodeNested {
		return false
	}
	if _, isNav := m.provider.FindNavigationProperty(t, child.info.Name); isNav {
		return false
	}
	if prop, ok := m.provider.FindProperty(t, child.info.Name); ok {
		return prop.Kind == models.PropertyKindComplex
	}
	return child.info.IsComplex
}

// complexValue materializes the content of a complex nested info: one value
// or, for collections, a feed of values
func (m *materializer) complexValue(n *node, prop *models.EntityProperty, t *models.ResourceType) (any, error) {
	if !prop.IsCollection {
		if len(n.children) == 0 {
			return nil, nil
		}
		entry := m.tree.node(n.children[0])
		if entry.kind != nodeEntry {
			return nil, odataerr.BadRequest(odataerr.CodeTypeKindMismatch, prop.Name, "expected a complex value")
		}
		if entry.entry == nil {
			if !prop.Nullable {
				return nil, odataerr.BadRequest(odataerr.CodeInvalidValue, prop.Name, "property is not nullable")
			}
			return nil, nil
		}
		return m.materializeComplex(n.children[0], t)
	}

	values := []any{}
	for _, feedIdx := range n.children {
		feed := m.tree.node(feedIdx)
		if feed.kind != nodeFeed {
			return nil, odataerr.BadRequest(odataerr.CodeTypeKindMismatch, prop.Name, "expected a collection of complex values")
		}
		for _, entryIdx := range feed.children {
			if m.tree.node(entryIdx).kind != nodeEntry || m.tree.node(entryIdx).entry == nil {
				return nil, odataerr.BadRequest(odataerr.CodeInvalidValue, prop.Name, "complex collections cannot hold nulls or links")
			}
			value, err := m.materializeComplex(entryIdx, t)
			if err != nil {
				return nil, err
			}
			values = append(values, value)
		}
	}
	return values, nil
}

// materializeComplex creates a complex value and applies its content.
// Complex values are always new, whatever the operation.
func (m *materializer) materializeComplex(idx int, expected *models.ResourceType) (any, error) {
	n := m.tree.node(idx)
	t, err := m.complexType(n.entry, expected)
	if err != nil {
		return nil, err
	}

	release, err := m.enter(t.FullName())
	if err != nil {
		return nil, err
	}
	defer release()

	if err := m.count(t.FullName()); err != nil {
		return nil, err
	}
	handle, err := m.store.CreateResource("", t.FullName())
	if err != nil {
		return nil, err
	}
	for _, p := range n.entry.Properties {
		value, err := m.convertProperty(t, p)
		if err != nil {
			return nil, err
		}
		if err := m.store.SetValue(handle, p.Name, value); err != nil {
			return nil, err
		}
	}
	for _, childIdx := range n.children {
		if !m.isComplex(t, m.tree.node(childIdx)) {
			return nil, odataerr.BadRequest(odataerr.CodeTypeKindMismatch, m.tree.node(childIdx).info.Name,
				"complex values cannot hold navigation properties")
		}
	}
	if err := m.applyComplex(n, handle, t); err != nil {
		return nil, err
	}
	return m.store.ResolveResource(handle)
}

// complexType resolves the type of a complex entry. Complex types may be
// named by the payload only when they derive from the declared type.
func (m *materializer) complexType(res *event.Resource, expected *models.ResourceType) (*models.ResourceType, error) {
	if res.TypeName == "" {
		return expected, nil
	}
	return m.resolveType(res, expected)
}

func (m *materializer) applyNavigation(n *node, handle any, t *models.ResourceType, set *models.EntitySet) error {
	for _, childIdx := range n.children {
		child := m.tree.node(childIdx)
		if m.isComplex(t, child) {
			continue
		}
		nav, ok := m.provider.FindNavigationProperty(t, child.info.Name)
		if !ok {
			return odataerr.BadRequest(odataerr.CodePropertyNotFound, child.info.Name, "%s has no navigation property %s", t.FullName(), child.info.Name)
		}
		if child.info.IsCollection != nav.IsCollection() && len(child.children) > 0 {
			return odataerr.BadRequest(odataerr.CodeTypeKindMismatch, nav.Name, "collection-valued mismatch for navigation property")
		}
		if err := m.applyNavigationContent(child, handle, set, nav); err != nil {
			return err
		}
	}
	return nil
}

func (m *materializer) applyNavigationContent(n *node, handle any, set *models.EntitySet, nav *models.NavigationProperty) error {
	targetType, ok := m.provider.ResolveType(nav.TargetType())
	if !ok {
		return odataerr.Provider(odataerr.CodeTypeNotFound, nav.TargetType(), "navigation target type is not in the metadata")
	}

	for _, childIdx := range n.children {
		child := m.tree.node(childIdx)
		switch child.kind {
		case nodeLink:
			if err := m.bindLink(handle, nav, child.link.URL, targetType); err != nil {
				return err
			}

		case nodeEntry:
			if child.entry == nil {
				if m.opts.Operation != OperationInsert {
					if err := m.store.SetReference(handle, nav.Name, nil); err != nil {
						return err
					}
				}
				continue
			}
			if m.opts.Operation != OperationInsert {
				return odataerr.BadRequest(odataerr.CodeDeepInsertOnUpdate, nav.Name, "nested entries are not allowed in updates")
			}
			related, err := m.deepInsert(childIdx, set, nav, targetType)
			if err != nil {
				return err
			}
			if err := m.store.SetReference(handle, nav.Name, related); err != nil {
				return err
			}

		case nodeFeed:
			if m.opts.Operation != OperationInsert {
				if len(child.children) > 0 {
					return odataerr.BadRequest(odataerr.CodeDeepFeedOnUpdate, nav.Name, "nested feeds are not allowed in updates")
				}
				// An explicitly empty feed leaves the collection alone
				continue
			}
			for _, entryIdx := range child.children {
				entry := m.tree.node(entryIdx)
				if entry.kind == nodeLink {
					if err := m.bindLink(handle, nav, entry.link.URL, targetType); err != nil {
						return err
					}
					continue
				}
				if entry.entry == nil {
					return odataerr.BadRequest(odataerr.CodeInvalidValue, nav.Name, "feeds cannot contain null entries")
				}
				related, err := m.deepInsert(entryIdx, set, nav, targetType)
				if err != nil {
					return err
				}
				if err := m.store.AddReferenceToCollection(handle, nav.Name, related); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// deepInsert creates a nested entry in the set the navigation property
// leads to
func (m *materializer) deepInsert(idx int, set *models.EntitySet, nav *models.NavigationProperty, expected *models.ResourceType) (any, error) {
	targetSet, ok := m.provider.NavigationTarget(set, nav)
	if !ok {
		return nil, odataerr.BadRequest(odataerr.CodeUnsupportedTarget, nav.Name, "no entity set is bound to navigation property %s", nav.Name)
	}
	n := m.tree.node(idx)
	t, err := m.resolveType(n.entry, expected)
	if err != nil {
		return nil, err
	}
	if err := m.count(targetSet.Name); err != nil {
		return nil, err
	}
	handle, err := m.store.CreateResource(targetSet.Name, t.FullName())
	if err != nil {
		return nil, err
	}
	if err := m.applyEntry(idx, handle, t, targetSet); err != nil {
		return nil, err
	}
	return handle, nil
}

// bindLink resolves a reference link to an existing entity and binds it.
// Binding does not count as materializing a resource.
func (m *materializer) bindLink(handle any, nav *models.NavigationProperty, url string, targetType *models.ResourceType) error {
	related, err := m.resolveLink(url, targetType)
	if err != nil {
		return err
	}
	if nav.IsCollection() {
		return m.store.AddReferenceToCollection(handle, nav.Name, related)
	}
	return m.store.SetReference(handle, nav.Name, related)
}

func (m *materializer) resolveLink(url string, targetType *models.ResourceType) (any, error) {
	link, err := keys.ParseLink(url, m.serviceRoot)
	if err != nil {
		return nil, err
	}
	linkSet, ok := m.provider.EntitySet(link.SetName)
	if !ok {
		return nil, odataerr.BadRequest(odataerr.CodeInvalidLink, url, "unknown entity set %s", link.SetName)
	}
	setType, ok := m.provider.EntitySetType(linkSet)
	if !ok {
		return nil, odataerr.Provider(odataerr.CodeTypeNotFound, linkSet.EntityType, "entity set type is not in the metadata")
	}
	key, err := link.Key(m.provider.KeyProperties(setType))
	if err != nil {
		return nil, err
	}
	typeName := targetType.FullName()
	if link.TypeCast != "" {
		cast, ok := m.provider.ResolveType(link.TypeCast)
		if !ok || !m.provider.IsAssignableFrom(targetType, cast) {
			return nil, odataerr.BadRequest(odataerr.CodeTypeMismatch, url, "type cast %s does not fit %s", link.TypeCast, typeName)
		}
		typeName = cast.FullName()
	}
	return m.store.GetResource(linkSet.Name, key, typeName)
}
