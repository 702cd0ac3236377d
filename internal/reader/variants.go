package reader

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/zmcp/odata-codec/internal/constants"
	"github.com/zmcp/odata-codec/internal/event"
	"github.com/zmcp/odata-codec/internal/models"
	"github.com/zmcp/odata-codec/internal/odataerr"
	"github.com/zmcp/odata-codec/internal/payload"
	"github.com/zmcp/odata-codec/internal/segment"
	"github.com/zmcp/odata-codec/internal/updatable"
	"github.com/zmcp/odata-codec/internal/utils"
)

// checkJSON rejects bodies that are not JSON. An empty content type is
// taken as JSON.
func checkJSON(contentType string) error {
	if contentType == "" {
		return nil
	}
	interp, err := payload.InterpreterFromContentType(contentType)
	if err != nil {
		return err
	}
	if interp.Format() != payload.FormatJSON {
		return odataerr.BadRequest(odataerr.CodeUnexpectedFormat, contentType, "only JSON request bodies are supported")
	}
	return nil
}

// EntityDeserializer reads one entity for insert, replace or merge
type EntityDeserializer struct {
	base
}

// Deserialize reads a JSON entity body
func (d *EntityDeserializer) Deserialize(ctx context.Context, body io.Reader, contentType string) (*Result, error) {
	if err := checkJSON(contentType); err != nil {
		return nil, err
	}
	r, err := d.jsonEvents(body, event.ReadResource, d.target.TargetType().FullName())
	if err != nil {
		return nil, err
	}
	return d.ReadFrom(ctx, r)
}

// ReadFrom captures the entity from r and applies it to the backend. The
// top-level resource is created or fetched as soon as it starts.
func (d *EntityDeserializer) ReadFrom(ctx context.Context, r event.Reader) (*Result, error) {
	return d.unwind(d.readFrom(ctx, r))
}

func (d *EntityDeserializer) readFrom(ctx context.Context, r event.Reader) (*Result, error) {
	m := d.materializer()
	set := d.target.TargetContainer()

	var handle any
	var t *models.ResourceType
	tr, err := capture(ctx, r, captureOptions{
		maxDepth: d.opts.MaxDepth,
		allowed:  topLevel{nodeEntry: true},
		onRoot: func(root *event.Resource) error {
			var err error
			handle, t, err = m.openRoot(root, set, d.target.TargetType(), d.target.Key())
			return err
		},
	})
	if err != nil {
		return nil, err
	}

	m.tree = tr
	if err := m.applyEntry(tr.root, handle, t, set); err != nil {
		return nil, err
	}
	m.log.Debug("deserialized entity",
		zap.String("operation", d.opts.Operation.String()),
		zap.String("set", set.Name),
		zap.Int("objects", m.objects))
	return &Result{Resource: handle, Objects: m.objects}, nil
}

// PropertyDeserializer reads the value of one primitive, complex or open
// property of an existing entity
type PropertyDeserializer struct {
	base
}

// Deserialize reads a JSON property body
func (d *PropertyDeserializer) Deserialize(ctx context.Context, body io.Reader, contentType string) (*Result, error) {
	if err := checkJSON(contentType); err != nil {
		return nil, err
	}
	expected := ""
	if prop := d.target.Property(); prop != nil {
		expected = prop.Type
		if prop.Kind == models.PropertyKindComplex {
			expected = prop.ElementType()
		}
	}
	r, err := d.jsonEvents(body, event.ReadValue, expected)
	if err != nil {
		return nil, err
	}
	return d.ReadFrom(ctx, r)
}

// ReadFrom captures the property value from r and sets it on the parent
func (d *PropertyDeserializer) ReadFrom(ctx context.Context, r event.Reader) (*Result, error) {
	return d.unwind(d.readFrom(ctx, r))
}

func (d *PropertyDeserializer) readFrom(ctx context.Context, r event.Reader) (*Result, error) {
	m := d.materializer()
	tr, err := capture(ctx, r, captureOptions{
		maxDepth: d.opts.MaxDepth,
		allowed:  topLevel{nodeValue: true, nodeEntry: true},
	})
	if err != nil {
		return nil, err
	}
	m.tree = tr

	parent, err := d.parent(m)
	if err != nil {
		return nil, err
	}
	name, value, err := d.value(m, parent)
	if err != nil {
		return nil, err
	}
	if err := d.store.SetValue(parent, name, value); err != nil {
		return nil, err
	}
	return &Result{Resource: parent, Value: value, Objects: m.objects}, nil
}

func (d *PropertyDeserializer) value(m *materializer, parent any) (string, any, error) {
	root := m.tree.node(m.tree.root)

	if d.target.TargetKind() == segment.TargetOpenProperty {
		t, err := d.parentType(parent)
		if err != nil {
			return "", nil, err
		}
		name := d.target.Identifier()
		if !t.OpenType {
			return "", nil, odataerr.BadRequest(odataerr.CodePropertyNotFound, name, "%s has no property %s", t.FullName(), name)
		}
		if root.kind != nodeValue {
			return "", nil, odataerr.BadRequest(odataerr.CodeTypeNameRequired, name, "open complex values are not supported")
		}
		value, err := utils.ConvertPrimitive(root.value.TypeName, root.value.Value)
		if err != nil {
			return "", nil, odataerr.BadRequest(odataerr.CodeInvalidValue, name, "invalid value").WithCause(err)
		}
		return name, value, nil
	}

	prop := d.target.Property()
	if prop == nil {
		return "", nil, odataerr.Defect(odataerr.CodeUnsupportedTarget, "property target without property")
	}

	if prop.Kind != models.PropertyKindComplex {
		if root.kind != nodeValue {
			return "", nil, odataerr.BadRequest(odataerr.CodeTypeKindMismatch, prop.Name, "expected a primitive value")
		}
		if root.value.Value == nil && !prop.Nullable {
			return "", nil, odataerr.BadRequest(odataerr.CodeInvalidValue, prop.Name, "property is not nullable")
		}
		value, err := d.provider.ConvertProperty(prop, root.value.Value)
		if err != nil {
			return "", nil, odataerr.BadRequest(odataerr.CodeInvalidValue, prop.Name, "invalid %s value", prop.Type).WithCause(err)
		}
		return prop.Name, value, nil
	}

	if root.kind == nodeValue {
		if root.value.Value != nil {
			return "", nil, odataerr.BadRequest(odataerr.CodeTypeKindMismatch, prop.Name, "expected a complex value")
		}
		if !prop.Nullable {
			return "", nil, odataerr.BadRequest(odataerr.CodeInvalidValue, prop.Name, "property is not nullable")
		}
		return prop.Name, nil, nil
	}
	complexType, ok := d.provider.ResolveType(prop.ElementType())
	if !ok {
		return "", nil, odataerr.Provider(odataerr.CodeTypeNotFound, prop.ElementType(), "complex type is not in the metadata")
	}
	value, err := m.materializeComplex(m.tree.root, complexType)
	if err != nil {
		return "", nil, err
	}
	return prop.Name, value, nil
}

// parentType returns the runtime type of a fetched parent entity
func (b *base) parentType(parent any) (*models.ResourceType, error) {
	if namer, ok := b.store.(typeNamer); ok {
		name, err := namer.TypeName(parent)
		if err != nil {
			return nil, err
		}
		if t, ok := b.provider.ResolveType(name); ok {
			return t, nil
		}
		return nil, odataerr.Provider(odataerr.CodeInconsistentType, name, "backend type is not in the metadata")
	}
	t, ok := b.provider.EntitySetType(b.target.TargetContainer())
	if !ok {
		return nil, odataerr.Provider(odataerr.CodeTypeNotFound, b.target.ContainerName(), "entity set type is not in the metadata")
	}
	return t, nil
}

// CollectionDeserializer reads a primitive or complex collection property
type CollectionDeserializer struct {
	base
}

// Deserialize reads a JSON collection body
func (d *CollectionDeserializer) Deserialize(ctx context.Context, body io.Reader, contentType string) (*Result, error) {
	if err := checkJSON(contentType); err != nil {
		return nil, err
	}
	prop := d.target.Property()
	if prop == nil {
		return nil, odataerr.Defect(odataerr.CodeUnsupportedTarget, "collection target without property")
	}
	r, err := d.jsonEvents(body, event.ReadValue, prop.Type)
	if err != nil {
		return nil, err
	}
	return d.ReadFrom(ctx, r)
}

// ReadFrom captures the collection from r and replaces the property value
func (d *CollectionDeserializer) ReadFrom(ctx context.Context, r event.Reader) (*Result, error) {
	return d.unwind(d.readFrom(ctx, r))
}

func (d *CollectionDeserializer) readFrom(ctx context.Context, r event.Reader) (*Result, error) {
	m := d.materializer()
	tr, err := capture(ctx, r, captureOptions{
		maxDepth: d.opts.MaxDepth,
		allowed:  topLevel{nodeValue: true},
	})
	if err != nil {
		return nil, err
	}
	prop := d.target.Property()
	items, ok := tr.node(tr.root).value.Value.([]any)
	if !ok {
		return nil, odataerr.BadRequest(odataerr.CodeInvalidCollectionType, prop.Name, "expected a JSON array")
	}

	parent, err := d.parent(m)
	if err != nil {
		return nil, err
	}
	if prop.Kind == models.PropertyKindComplex {
		for range items {
			if err := m.count(prop.Name); err != nil {
				return nil, err
			}
		}
	}
	value, err := d.provider.ConvertProperty(prop, items)
	if err != nil {
		return nil, odataerr.BadRequest(odataerr.CodeInvalidValue, prop.Name, "invalid %s value", prop.Type).WithCause(err)
	}
	if err := d.store.SetValue(parent, prop.Name, value); err != nil {
		return nil, err
	}
	return &Result{Resource: parent, Value: value, Objects: m.objects}, nil
}

// LinkDeserializer reads a $ref body and binds the referenced entities to
// a navigation property of the parent
type LinkDeserializer struct {
	base
}

// Deserialize reads a JSON entity reference body
func (d *LinkDeserializer) Deserialize(ctx context.Context, body io.Reader, contentType string) (*Result, error) {
	if err := checkJSON(contentType); err != nil {
		return nil, err
	}
	r, err := d.jsonEvents(body, event.ReadReferenceLinks, "")
	if err != nil {
		return nil, err
	}
	return d.ReadFrom(ctx, r)
}

// ReadFrom captures the links from r and binds them
func (d *LinkDeserializer) ReadFrom(ctx context.Context, r event.Reader) (*Result, error) {
	return d.unwind(d.readFrom(ctx, r))
}

func (d *LinkDeserializer) readFrom(ctx context.Context, r event.Reader) (*Result, error) {
	m := d.materializer()
	tr, err := capture(ctx, r, captureOptions{
		maxDepth: d.opts.MaxDepth,
		allowed:  topLevel{nodeLink: true, nodeFeed: true},
	})
	if err != nil {
		return nil, err
	}

	var urls []string
	root := tr.node(tr.root)
	switch root.kind {
	case nodeLink:
		urls = append(urls, root.link.URL)
	case nodeFeed:
		for _, idx := range root.children {
			child := tr.node(idx)
			if child.kind != nodeLink {
				return nil, odataerr.Defect(odataerr.CodeUnexpectedState, "%s inside a reference link payload", child.kind)
			}
			urls = append(urls, child.link.URL)
		}
	}

	nav := d.target.Navigation()
	if !nav.IsCollection() && len(urls) != 1 {
		return nil, odataerr.BadRequest(odataerr.CodeInvalidLink, nav.Name,
			"single-valued navigation property takes exactly one link, got %d", len(urls))
	}
	targetType, ok := d.provider.ResolveType(nav.TargetType())
	if !ok {
		return nil, odataerr.Provider(odataerr.CodeTypeNotFound, nav.TargetType(), "navigation target type is not in the metadata")
	}

	parent, err := d.parent(m)
	if err != nil {
		return nil, err
	}
	result := &Result{Resource: parent}
	for _, url := range urls {
		related, err := m.resolveLink(url, targetType)
		if err != nil {
			return nil, err
		}
		if nav.IsCollection() {
			err = d.store.AddReferenceToCollection(parent, nav.Name, related)
		} else {
			err = d.store.SetReference(parent, nav.Name, related)
		}
		if err != nil {
			return nil, err
		}
		result.Links = append(result.Links, related)
	}
	result.Objects = m.objects
	return result, nil
}

// RawValueDeserializer reads the $value of a primitive or open property
type RawValueDeserializer struct {
	base
}

// Deserialize reads the raw text of body. Binary properties take the
// bytes as they are.
func (d *RawValueDeserializer) Deserialize(ctx context.Context, body io.Reader, contentType string) (*Result, error) {
	return d.unwind(d.deserialize(ctx, body, contentType))
}

func (d *RawValueDeserializer) deserialize(ctx context.Context, body io.Reader, contentType string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}

	m := d.materializer()
	parent, err := d.parent(m)
	if err != nil {
		return nil, err
	}

	var name string
	var value any
	if prop := d.target.Property(); prop != nil {
		name = prop.Name
		if prop.Type == constants.EdmBinary {
			value = data
		} else if value, err = utils.ConvertPrimitive(prop.Type, string(data)); err != nil {
			return nil, odataerr.BadRequest(odataerr.CodeInvalidValue, name, "invalid %s value", prop.Type).WithCause(err)
		}
	} else {
		t, err := d.parentType(parent)
		if err != nil {
			return nil, err
		}
		name = d.target.Identifier()
		if !t.OpenType {
			return nil, odataerr.BadRequest(odataerr.CodePropertyNotFound, name, "%s has no property %s", t.FullName(), name)
		}
		value = string(data)
	}

	if err := d.store.SetValue(parent, name, value); err != nil {
		return nil, err
	}
	return &Result{Resource: parent, Value: value, Objects: m.objects}, nil
}

// MediaDeserializer stores the body as the media resource of an entity
type MediaDeserializer struct {
	base
	streams updatable.StreamUpdatable
}

// Deserialize passes body through to the backend unchanged
func (d *MediaDeserializer) Deserialize(ctx context.Context, body io.Reader, contentType string) (*Result, error) {
	return d.unwind(d.deserialize(ctx, body, contentType))
}

func (d *MediaDeserializer) deserialize(ctx context.Context, body io.Reader, contentType string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m := d.materializer()
	entity, err := d.parent(m)
	if err != nil {
		return nil, err
	}
	t, err := d.parentType(entity)
	if err != nil {
		return nil, err
	}
	if !t.HasStream {
		return nil, odataerr.BadRequest(odataerr.CodeUnsupportedTarget, t.FullName(), "%s is not a media entity type", t.FullName())
	}
	if err := d.streams.SetStream(entity, contentType, body); err != nil {
		return nil, err
	}
	m.log.Debug("stored media resource",
		zap.String("type", t.FullName()),
		zap.String("content_type", contentType))
	return &Result{Resource: entity, Objects: m.objects}, nil
}
