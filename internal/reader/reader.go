// Package reader materializes request bodies into an updatable backend.
//
// Structured payloads are read in two phases. The structural event stream
// is first captured into an arena tree so that wire order no longer
// matters; the tree is then walked to create or fetch resources and apply
// scalar, complex and navigation properties, in that order.
package reader

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/zmcp/odata-codec/internal/constants"
	"github.com/zmcp/odata-codec/internal/debug"
	"github.com/zmcp/odata-codec/internal/event"
	"github.com/zmcp/odata-codec/internal/metadata"
	"github.com/zmcp/odata-codec/internal/odataerr"
	"github.com/zmcp/odata-codec/internal/segment"
	"github.com/zmcp/odata-codec/internal/updatable"
)

// Operation selects how the target resource is obtained
type Operation int

const (
	// OperationInsert creates resources (POST)
	OperationInsert Operation = iota
	// OperationReplace fetches by key, checks If-Match and resets (PUT)
	OperationReplace
	// OperationMerge fetches by key and applies the given properties (PATCH)
	OperationMerge
)

func (o Operation) String() string {
	switch o {
	case OperationReplace:
		return "replace"
	case OperationMerge:
		return "merge"
	default:
		return "insert"
	}
}

// ParseOperation maps an HTTP method or operation name to an Operation
func ParseOperation(name string) (Operation, error) {
	switch name {
	case "", "insert", constants.POST:
		return OperationInsert, nil
	case "replace", constants.PUT:
		return OperationReplace, nil
	case "merge", "update", constants.PATCH, constants.MERGE:
		return OperationMerge, nil
	}
	return OperationInsert, odataerr.BadRequest(odataerr.CodeUnsupportedTarget, name, "unknown operation")
}

// Options configures a deserializer
type Options struct {
	Operation Operation
	// IfMatch is the request If-Match header, checked on replace
	IfMatch string
	// MaxDepth bounds payload nesting; defaults to 100
	MaxDepth int
	// MaxObjects bounds the resources created or fetched; defaults to 1000
	MaxObjects int
	Logger     *zap.Logger
	// Trace records every structural event read, when enabled
	Trace *debug.TraceLogger
}

func (o Options) withDefaults() Options {
	if o.MaxDepth <= 0 {
		o.MaxDepth = constants.DefaultMaxRecursionDepth
	}
	if o.MaxObjects <= 0 {
		o.MaxObjects = constants.DefaultMaxObjectCount
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Result is what a deserializer produced
type Result struct {
	// Resource is the top-level entity, or the parent entity for property,
	// link and media targets
	Resource any
	// Value is the value written to a property target
	Value any
	// Links are the resources bound by a $ref payload
	Links []any
	// Objects counts the resources created or fetched
	Objects int
}

// Deserializer reads one request body for one target. The concrete type is
// chosen once by New from the target kind.
type Deserializer interface {
	// Deserialize reads body, a JSON document or raw content depending on
	// the target
	Deserialize(ctx context.Context, body io.Reader, contentType string) (*Result, error)
	Target() *segment.Descriptor
	isDeserializer()
}

// StructuredDeserializer is a Deserializer over structural events
type StructuredDeserializer interface {
	Deserializer
	ReadFrom(ctx context.Context, r event.Reader) (*Result, error)
}

// base is the state every variant shares
type base struct {
	target   *segment.Descriptor
	provider *metadata.Provider
	store    updatable.Updatable
	opts     Options
}

func (b *base) Target() *segment.Descriptor { return b.target }
func (b *base) isDeserializer()              {}

// unwind drops the backend changes of a failed read
func (b *base) unwind(res *Result, err error) (*Result, error) {
	if err != nil {
		b.store.ClearChanges()
		b.opts.Logger.Debug("discarded changes of failed read", zap.Error(err))
		return nil, err
	}
	return res, nil
}

func (b *base) materializer() *materializer {
	return &materializer{
		provider:    b.provider,
		store:       b.store,
		opts:        b.opts,
		serviceRoot: b.provider.ServiceRoot(),
		log:         b.opts.Logger,
	}
}

// jsonEvents wraps body in a JSON event reader, traced when enabled
func (b *base) jsonEvents(body io.Reader, mode event.ReadMode, expectedType string) (event.Reader, error) {
	r, err := event.NewJSONReader(body, event.JSONReaderOptions{
		Mode:         mode,
		ExpectedType: expectedType,
		Schema:       b.provider,
	})
	if err != nil {
		return nil, odataerr.BadRequest(odataerr.CodeInvalidValue, "", "malformed JSON payload").WithCause(err)
	}
	return event.TraceReader(r, b.opts.Trace), nil
}

// parent fetches the entity a property, link or media target belongs to
func (b *base) parent(m *materializer) (any, error) {
	if !b.target.HasKey() || b.target.TargetContainer() == nil {
		return nil, odataerr.BadRequest(odataerr.CodeKeyMissing, b.target.Identifier(),
			"%s target must address one entity", b.target.TargetKind())
	}
	if err := m.count(b.target.ContainerName()); err != nil {
		return nil, err
	}
	return b.store.GetResource(b.target.ContainerName(), b.target.Key(), "")
}

// New picks the deserializer for the target's kind
func New(target *segment.Descriptor, provider *metadata.Provider, store updatable.Updatable, opts Options) (Deserializer, error) {
	b := base{target: target, provider: provider, store: store, opts: opts.withDefaults()}

	switch target.TargetKind() {
	case segment.TargetResource:
		if target.TargetContainer() == nil || target.TargetType() == nil {
			return nil, odataerr.Defect(odataerr.CodeUnsupportedTarget, "resource target without entity set")
		}
		if b.opts.Operation == OperationInsert {
			b.target = target.AsSingle()
		}
		return &EntityDeserializer{base: b}, nil
	case segment.TargetPrimitive, segment.TargetComplexObject, segment.TargetOpenProperty:
		return &PropertyDeserializer{base: b}, nil
	case segment.TargetCollection:
		return &CollectionDeserializer{base: b}, nil
	case segment.TargetLink:
		if target.Navigation() == nil {
			return nil, odataerr.Defect(odataerr.CodeUnsupportedTarget, "link target without navigation property")
		}
		return &LinkDeserializer{base: b}, nil
	case segment.TargetPrimitiveValue, segment.TargetOpenPropertyValue:
		return &RawValueDeserializer{base: b}, nil
	case segment.TargetMediaResource:
		stream, ok := store.(updatable.StreamUpdatable)
		if !ok {
			return nil, odataerr.Provider(odataerr.CodeUnsupportedTarget, target.Identifier(), "backend does not accept media content")
		}
		return &MediaDeserializer{base: b, streams: stream}, nil
	}
	return nil, odataerr.BadRequest(odataerr.CodeUnsupportedTarget, target.Identifier(),
		"%s targets do not accept a request body", target.TargetKind())
}
