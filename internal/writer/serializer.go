// Package writer serializes entity graphs into structural events. The graph
// is walked directly against a Source while events are emitted, so expanded
// navigation properties are only enumerated when they are written.
package writer

import (
	"context"
	"fmt"
	"math/big"
	"reflect"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zmcp/odata-codec/internal/constants"
	"github.com/zmcp/odata-codec/internal/debug"
	"github.com/zmcp/odata-codec/internal/event"
	"github.com/zmcp/odata-codec/internal/keys"
	"github.com/zmcp/odata-codec/internal/metadata"
	"github.com/zmcp/odata-codec/internal/models"
	"github.com/zmcp/odata-codec/internal/odataerr"
	"github.com/zmcp/odata-codec/internal/payload"
	"github.com/zmcp/odata-codec/internal/segment"
	"github.com/zmcp/odata-codec/internal/utils"
)

// Options configures a Serializer
type Options struct {
	// Interpreter is the response metadata policy; nil means minimal JSON
	Interpreter *payload.Interpreter
	// MaxDepth bounds expansion and complex nesting; defaults to 100
	MaxDepth int
	Logger   *zap.Logger
	// Trace records every structural event written, when enabled
	Trace *debug.TraceLogger
}

// Serializer writes one response. It is not safe for concurrent use.
type Serializer struct {
	provider    *metadata.Provider
	source      Source
	out         event.Writer
	props       *payload.PropertyManager
	serviceRoot string
	maxDepth    int
	log         *zap.Logger

	depth int
}

// New creates a Serializer that reads instances from source and writes
// events to out
func New(provider *metadata.Provider, source Source, out event.Writer, opts Options) *Serializer {
	interp := opts.Interpreter
	if interp == nil {
		interp, _ = payload.NewInterpreter(payload.FormatJSON, "")
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = constants.DefaultMaxRecursionDepth
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Serializer{
		provider:    provider,
		source:      source,
		out:         event.TraceWriter(out, opts.Trace),
		props:       payload.NewPropertyManager(interp),
		serviceRoot: provider.ServiceRoot(),
		maxDepth:    opts.MaxDepth,
		log:         opts.Logger,
	}
}

// Interpreter returns the metadata policy in effect
func (s *Serializer) Interpreter() *payload.Interpreter {
	return s.props.Interpreter()
}

func (s *Serializer) enter(target string) (release func(), err error) {
	if s.depth >= s.maxDepth {
		return nil, odataerr.BadRequest(odataerr.CodeRecursionLimit, target,
			"expansion nesting exceeds the limit of %d", s.maxDepth)
	}
	s.depth++
	return func() { s.depth-- }, nil
}

// contextURL builds the @odata.context URL for fragment
func (s *Serializer) contextURL(fragment string) string {
	return keys.Absolute(s.serviceRoot, constants.MetadataEndpoint) + "#" + fragment
}

func setOf(target *segment.Descriptor) (*models.EntitySet, error) {
	if target == nil || target.TargetContainer() == nil || target.TargetType() == nil {
		return nil, odataerr.Defect(odataerr.CodeUnsupportedTarget, "entries and feeds need an entity set target")
	}
	return target.TargetContainer(), nil
}

// WriteEntry writes instance as the top-level entry of target
func (s *Serializer) WriteEntry(ctx context.Context, target *segment.Descriptor, instance any, expand *ExpandNode) error {
	set, err := setOf(target)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.writeEntry(ctx, instance, set, target.TargetType(), expand, s.contextURL(set.Name+constants.EntitySuffix)); err != nil {
		return err
	}
	return s.out.Flush()
}

// WriteFeed writes items as the top-level feed of target. A next link is
// written after the last entry when the enumerator reports more results.
func (s *Serializer) WriteFeed(ctx context.Context, target *segment.Descriptor, items Enumerator, expand *ExpandNode) error {
	set, err := setOf(target)
	if err != nil {
		return err
	}
	feed := &event.ResourceSet{}
	s.props.SetContextURL(feed, s.contextURL(set.Name))
	if err := s.props.SetFeedID(feed, payload.Fixed(keys.Absolute(s.serviceRoot, set.Name)), ""); err != nil {
		return err
	}
	if expand != nil && expand.Count {
		if counter, ok := items.(Counter); ok {
			if total, known := counter.Count(); known {
				feed.Count = &total
			}
		}
	}

	nextBase := target.RequestURI()
	if nextBase == "" {
		nextBase = keys.Absolute(s.serviceRoot, set.Name)
	}
	if err := s.writeFeed(ctx, feed, items, set, target.TargetType(), expand, nextBase); err != nil {
		return err
	}
	return s.out.Flush()
}

// WriteReferenceLinks writes the identities of related entities for a $ref
// request: one link for a single-valued target, a feed of links otherwise
func (s *Serializer) WriteReferenceLinks(ctx context.Context, target *segment.Descriptor, related any) error {
	if target == nil || target.Navigation() == nil {
		return odataerr.Defect(odataerr.CodeUnsupportedTarget, "reference links need a navigation target")
	}
	nav := target.Navigation()
	targetSet, targetType, err := s.navigationTarget(target.TargetContainer(), nav)
	if err != nil {
		return err
	}

	if !nav.IsCollection() {
		if related == nil {
			return odataerr.New(odataerr.KindNotFound, odataerr.CodeResourceNotFound, nav.Name, "no entity is bound")
		}
		if err := s.writeReference(related, targetSet, targetType); err != nil {
			return err
		}
		return s.out.Flush()
	}

	items, err := enumerator(related, nav.Name)
	if err != nil {
		return err
	}
	feed := &event.ResourceSet{}
	s.props.SetContextURL(feed, s.contextURL("Collection($ref)"))
	if err := s.out.WriteStart(feed); err != nil {
		return err
	}
	for items.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.writeReference(items.Current(), targetSet, targetType); err != nil {
			return err
		}
	}
	if err := items.Err(); err != nil {
		return err
	}
	if err := s.out.WriteEnd(feed); err != nil {
		return err
	}
	return s.out.Flush()
}

// WriteValue writes a top-level property value. Values of types the wire
// format cannot represent are rejected.
func (s *Serializer) WriteValue(ctx context.Context, target *segment.Descriptor, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkValue(target.Identifier(), value); err != nil {
		return err
	}
	item := &event.Value{Value: value}
	if prop := target.Property(); prop != nil {
		item.TypeName = prop.Type
	}
	s.props.SetContextURL(item, s.contextURL(target.ContainerName()+"/"+target.Identifier()))
	if err := s.out.WriteItem(item); err != nil {
		return err
	}
	return s.out.Flush()
}

// entryKey prepares the lazy key of an instance of t in set
func (s *Serializer) entryKey(instance any, set *models.EntitySet, setBase, t *models.ResourceType) *keys.SerializedEntityKey {
	keyProps := s.provider.KeyProperties(t)
	names := make([]string, 0, len(keyProps))
	for _, prop := range keyProps {
		names = append(names, prop.Name)
	}
	suffix := ""
	if t.FullName() != setBase.FullName() {
		suffix = t.FullName()
	}
	return keys.New(s.serviceRoot, set.Name, names, func(name string) (any, error) {
		return s.source.Value(instance, name)
	}, suffix)
}

// runtimeType resolves the type of an entity instance and checks it can
// live in a set of setBase
func (s *Serializer) runtimeType(instance any, setBase *models.ResourceType) (*models.ResourceType, error) {
	name, err := s.source.TypeName(instance)
	if err != nil {
		return nil, err
	}
	t, ok := s.provider.ResolveType(name)
	if !ok {
		return nil, odataerr.Provider(odataerr.CodeTypeNotFound, name, "runtime type is not in the metadata")
	}
	if !t.IsEntity() {
		return nil, odataerr.Provider(odataerr.CodeInconsistentType, name, "entries must be of an entity type")
	}
	if !s.provider.IsAssignableFrom(setBase, t) {
		return nil, odataerr.Provider(odataerr.CodeInconsistentType, name, "%s is not a %s", name, setBase.FullName())
	}
	return t, nil
}

func (s *Serializer) writeEntry(ctx context.Context, instance any, set *models.EntitySet, setBase *models.ResourceType, expand *ExpandNode, contextURL string) error {
	release, err := s.enter(set.Name)
	if err != nil {
		return err
	}
	defer release()

	t, err := s.runtimeType(instance, setBase)
	if err != nil {
		return err
	}
	key := s.entryKey(instance, set, setBase, t)

	entry := &event.Resource{}
	s.props.SetTypeName(entry, setBase.FullName(), t.FullName())
	s.props.SetContextURL(entry, contextURL)

	var idOverride, editOverride string
	if links, ok := s.source.(LinkSource); ok {
		if idOverride, editOverride, err = links.Links(instance); err != nil {
			return err
		}
	}
	if err := s.props.SetID(entry, key.Identity, idOverride); err != nil {
		return err
	}
	if err := s.props.SetEditLink(entry, key.RelativeEditLink, editOverride); err != nil {
		return err
	}
	editLink := func() (string, error) {
		if editOverride != "" {
			return editOverride, nil
		}
		return key.RelativeEditLink()
	}

	if etags, ok := s.source.(ETagSource); ok {
		etag, err := etags.ETag(instance)
		if err != nil {
			return err
		}
		s.props.SetETag(entry, etag)
	}

	if t.HasStream {
		if entry.MediaResource, err = s.mediaResource(instance, editLink); err != nil {
			return err
		}
	}
	if entry.Actions, err = s.actions(instance, t, editLink); err != nil {
		return err
	}

	var complexProps []*models.EntityProperty
	for _, prop := range s.provider.Properties(t) {
		if !expand.Selects(prop.Name) || prop.Kind == models.PropertyKindStream {
			continue
		}
		if prop.Kind == models.PropertyKindComplex {
			complexProps = append(complexProps, prop)
			continue
		}
		value, err := s.source.Value(instance, prop.Name)
		if err != nil {
			return err
		}
		entry.Properties = append(entry.Properties, &event.Property{Name: prop.Name, Value: s.wireValue(prop.Type, value), TypeName: prop.Type})
	}
	if err := s.openProperties(instance, t, expand, entry); err != nil {
		return err
	}

	if err := s.out.WriteStart(entry); err != nil {
		return err
	}
	for _, prop := range complexProps {
		value, err := s.source.Value(instance, prop.Name)
		if err != nil {
			return err
		}
		if err := s.writeComplexProperty(prop, value); err != nil {
			return err
		}
	}
	for _, nav := range s.provider.NavigationProperties(t) {
		if err := s.writeNavigation(ctx, instance, set, nav, expand, editLink); err != nil {
			return err
		}
	}
	if err := s.out.WriteEnd(entry); err != nil {
		return err
	}

	s.log.Debug("wrote entry",
		zap.String("set", set.Name),
		zap.String("type", t.FullName()),
		zap.Int("depth", s.depth))
	return nil
}

func (s *Serializer) mediaResource(instance any, editLink payload.Lazy) (*event.StreamInfo, error) {
	stream := &Stream{}
	if streams, ok := s.source.(StreamSource); ok {
		provided, found, err := streams.Stream(instance)
		if err != nil {
			return nil, err
		}
		if found && provided != nil {
			stream = provided
		}
	}

	info := &event.StreamInfo{}
	mediaLink := func() (string, error) {
		link, err := editLink()
		if err != nil {
			return "", err
		}
		return link + "/" + constants.ValueSegment, nil
	}
	if err := s.props.SetStreamEditLink(info, mediaLink, stream.EditLink); err != nil {
		return nil, err
	}
	s.props.SetStreamReadLink(info, stream.ReadLink)
	s.props.SetStreamContentType(info, stream.ContentType)
	s.props.SetStreamETag(info, stream.ETag)
	if *info == (event.StreamInfo{}) {
		return nil, nil
	}
	return info, nil
}

// actions decides the bound actions an entry advertises. Without an
// advertiser every bound action is taken as always available.
func (s *Serializer) actions(instance any, t *models.ResourceType, editLink payload.Lazy) ([]*event.Action, error) {
	advertiser, custom := s.source.(ActionAdvertiser)
	var out []*event.Action
	for _, action := range s.provider.BindableActions(t) {
		descriptor := &ActionDescriptor{}
		if custom {
			provided, ok, err := advertiser.AdvertiseAction(instance, action)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			if provided == nil {
				return nil, odataerr.Provider(odataerr.CodeInvalidActionDescriptor, action.FullName(),
					"action advertiser returned no descriptor")
			}
			descriptor = provided
		}
		if !s.props.Interpreter().ShouldAdvertiseOperation(!custom) {
			continue
		}

		item := &event.Action{Metadata: "#" + action.FullName()}
		if err := s.props.SetOperationTitle(item, payload.Fixed(action.Name), descriptor.Title); err != nil {
			return nil, err
		}
		target := func() (string, error) {
			link, err := editLink()
			if err != nil {
				return "", err
			}
			return keys.Absolute(s.serviceRoot, link) + "/" + action.FullName(), nil
		}
		if err := s.props.SetOperationTarget(item, target, descriptor.Target); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *Serializer) openProperties(instance any, t *models.ResourceType, expand *ExpandNode, entry *event.Resource) error {
	if !t.OpenType {
		return nil
	}
	open, ok := s.source.(OpenPropertySource)
	if !ok {
		return nil
	}
	names, err := open.OpenProperties(instance)
	if err != nil {
		return err
	}
	for _, name := range names {
		if !expand.Selects(name) {
			continue
		}
		value, err := s.source.Value(instance, name)
		if err != nil {
			return err
		}
		if err := checkValue(name, value); err != nil {
			return err
		}
		entry.Properties = append(entry.Properties, &event.Property{Name: name, Value: value})
	}
	return nil
}

// writeComplexProperty writes a complex property as nested content, never
// inline among the primitive properties
func (s *Serializer) writeComplexProperty(prop *models.EntityProperty, value any) error {
	t, ok := s.provider.ResolveType(prop.ElementType())
	if !ok {
		return odataerr.Provider(odataerr.CodeTypeNotFound, prop.ElementType(), "complex type is not in the metadata")
	}
	info := &event.NestedInfo{Name: prop.Name, IsComplex: true, IsCollection: prop.IsCollection}
	if err := s.out.WriteStart(info); err != nil {
		return err
	}

	if prop.IsCollection {
		items, err := complexItems(prop.Name, value)
		if err != nil {
			return err
		}
		set := &event.ResourceSet{}
		if err := s.out.WriteStart(set); err != nil {
			return err
		}
		for _, item := range items {
			if err := s.writeComplex(prop.Name, item, t); err != nil {
				return err
			}
		}
		if err := s.out.WriteEnd(set); err != nil {
			return err
		}
	} else if err := s.writeComplex(prop.Name, value, t); err != nil {
		return err
	}
	return s.out.WriteEnd(info)
}

func complexItems(name string, value any) ([]any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []any:
		return v, nil
	case []map[string]any:
		items := make([]any, len(v))
		for i := range v {
			items[i] = v[i]
		}
		return items, nil
	}
	return nil, odataerr.Provider(odataerr.CodeUnsupportedValueType, name, "complex collection of type %T", value)
}

func (s *Serializer) writeComplex(name string, value any, t *models.ResourceType) error {
	if value == nil {
		if err := s.out.WriteStart((*event.Resource)(nil)); err != nil {
			return err
		}
		return s.out.WriteEnd((*event.Resource)(nil))
	}
	values, ok := value.(map[string]any)
	if !ok {
		return odataerr.Provider(odataerr.CodeUnsupportedValueType, name, "complex value of type %T", value)
	}

	release, err := s.enter(t.FullName())
	if err != nil {
		return err
	}
	defer release()

	res := &event.Resource{TypeName: t.FullName()}
	var nested []*models.EntityProperty
	for _, prop := range s.provider.Properties(t) {
		if prop.Kind == models.PropertyKindComplex {
			nested = append(nested, prop)
			continue
		}
		if v, set := values[prop.Name]; set {
			res.Properties = append(res.Properties, &event.Property{Name: prop.Name, Value: s.wireValue(prop.Type, v), TypeName: prop.Type})
		}
	}
	if err := s.out.WriteStart(res); err != nil {
		return err
	}
	for _, prop := range nested {
		v, set := values[prop.Name]
		if !set {
			continue
		}
		if err := s.writeComplexProperty(prop, v); err != nil {
			return err
		}
	}
	return s.out.WriteEnd(res)
}

func (s *Serializer) navigationTarget(set *models.EntitySet, nav *models.NavigationProperty) (*models.EntitySet, *models.ResourceType, error) {
	targetSet, ok := s.provider.NavigationTarget(set, nav)
	if !ok {
		return nil, nil, odataerr.Provider(odataerr.CodeUnsupportedTarget, nav.Name, "no entity set is bound to navigation property %s", nav.Name)
	}
	targetType, ok := s.provider.ResolveType(nav.TargetType())
	if !ok {
		return nil, nil, odataerr.Provider(odataerr.CodeTypeNotFound, nav.TargetType(), "navigation target type is not in the metadata")
	}
	return targetSet, targetType, nil
}

func (s *Serializer) writeNavigation(ctx context.Context, instance any, set *models.EntitySet, nav *models.NavigationProperty, expand *ExpandNode, editLink payload.Lazy) error {
	child := expand.Child(nav.Name)
	if child == nil && !expand.Selects(nav.Name) {
		return nil
	}

	navURL := func() (string, error) {
		link, err := editLink()
		if err != nil {
			return "", err
		}
		return link + "/" + nav.Name, nil
	}
	info := &event.NestedInfo{Name: nav.Name, IsCollection: nav.IsCollection()}
	if err := s.props.SetNavigationURL(info, navURL, ""); err != nil {
		return err
	}
	refURL := func() (string, error) {
		link, err := navURL()
		if err != nil {
			return "", err
		}
		return link + "/" + constants.RefSegment, nil
	}
	if err := s.props.SetAssociationLinkURL(info, refURL, ""); err != nil {
		return err
	}

	if child == nil {
		// Nothing to say about an unexpanded link without URLs
		if info.URL == "" && info.AssociationLinkURL == "" {
			return nil
		}
		if err := s.out.WriteStart(info); err != nil {
			return err
		}
		return s.out.WriteEnd(info)
	}

	targetSet, targetType, err := s.navigationTarget(set, nav)
	if err != nil {
		return err
	}
	related, err := s.source.Related(instance, nav.Name)
	if err != nil {
		return err
	}
	if err := s.out.WriteStart(info); err != nil {
		return err
	}

	switch {
	case nav.IsCollection():
		items, err := enumerator(related, nav.Name)
		if err != nil {
			return err
		}
		if child.Ref {
			for items.Next() {
				if err := s.writeReference(items.Current(), targetSet, targetType); err != nil {
					return err
				}
			}
			if err := items.Err(); err != nil {
				return err
			}
			break
		}
		link, err := navURL()
		if err != nil {
			return err
		}
		if err := s.writeFeed(ctx, &event.ResourceSet{}, items, targetSet, targetType, child, keys.Absolute(s.serviceRoot, link)); err != nil {
			return err
		}
	case related == nil:
		if err := s.out.WriteStart((*event.Resource)(nil)); err != nil {
			return err
		}
		if err := s.out.WriteEnd((*event.Resource)(nil)); err != nil {
			return err
		}
	case child.Ref:
		if err := s.writeReference(related, targetSet, targetType); err != nil {
			return err
		}
	default:
		if err := s.writeEntry(ctx, related, targetSet, targetType, child, ""); err != nil {
			return err
		}
	}
	return s.out.WriteEnd(info)
}

func enumerator(related any, name string) (Enumerator, error) {
	switch v := related.(type) {
	case nil:
		return NewSliceEnumerator(nil, false), nil
	case Enumerator:
		return v, nil
	case []any:
		return NewSliceEnumerator(v, false), nil
	}
	return nil, odataerr.Provider(odataerr.CodeInconsistentType, name, "collection navigation value of type %T", related)
}

// writeReference writes the identity of an existing entity
func (s *Serializer) writeReference(instance any, set *models.EntitySet, setBase *models.ResourceType) error {
	t, err := s.runtimeType(instance, setBase)
	if err != nil {
		return err
	}
	id, err := s.entryKey(instance, set, setBase, t).Identity()
	if err != nil {
		return err
	}
	return s.out.WriteItem(&event.EntityReferenceLink{URL: id})
}

// writeFeed enumerates items into feed. The next link is built from the key
// of the last entry written.
func (s *Serializer) writeFeed(ctx context.Context, feed *event.ResourceSet, items Enumerator, set *models.EntitySet, setBase *models.ResourceType, expand *ExpandNode, nextBase string) error {
	release, err := s.enter(set.Name)
	if err != nil {
		return err
	}
	defer release()

	if err := s.out.WriteStart(feed); err != nil {
		return err
	}
	var last any
	written := 0
	for items.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		last = items.Current()
		if err := s.writeEntry(ctx, last, set, setBase, expand, ""); err != nil {
			return err
		}
		written++
	}
	if err := items.Err(); err != nil {
		return err
	}

	if items.HasMore() && last != nil {
		t, err := s.runtimeType(last, setBase)
		if err != nil {
			return err
		}
		key, err := s.entryKey(last, set, setBase, t).Key()
		if err != nil {
			return err
		}
		token, err := keys.SkipToken(key)
		if err != nil {
			return err
		}
		feed.NextLink = keys.NextLink(nextBase, token)
	}
	if err := s.out.WriteEnd(feed); err != nil {
		return err
	}

	s.log.Debug("wrote feed",
		zap.String("set", set.Name),
		zap.Int("entries", written),
		zap.Bool("next_link", feed.NextLink != ""))
	return nil
}

// checkValue rejects dynamic and top-level values of types the wire format
// has no representation for
func checkValue(name string, value any) error {
	switch v := value.(type) {
	case nil, string, bool, event.Number, []byte, time.Time, uuid.UUID,
		int, int8, int16, int32, int64, uint8, uint16, uint32, uint64, float32, float64:
		return nil
	case *big.Rat:
		return odataerr.Provider(odataerr.CodeUnsupportedValueType, name, "use event.Number for decimal values")
	case map[string]any:
		for k, item := range v {
			if err := checkValue(name+"/"+k, item); err != nil {
				return err
			}
		}
		return nil
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		for i := 0; i < rv.Len(); i++ {
			if err := checkValue(fmt.Sprintf("%s/%d", name, i), rv.Index(i).Interface()); err != nil {
				return err
			}
		}
		return nil
	}
	return odataerr.Provider(odataerr.CodeUnsupportedValueType, name, "values of type %T cannot be serialized", value)
}

// wireValue renders date and time values in the lexical form of their
// declared type. Verbose JSON uses the /Date(ms)/ form.
func (s *Serializer) wireValue(edmType string, value any) any {
	switch v := value.(type) {
	case time.Time:
		return utils.FormatDateForOData(v, edmType, s.Interpreter().Format() == payload.FormatVerboseJSON)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = s.wireValue(edmType, item)
		}
		return out
	}
	return value
}
