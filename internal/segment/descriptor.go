// Package segment describes the location a request or response payload
// addresses: an entity set, a single entity, a property, a $value or $ref.
package segment

import (
	"strconv"

	"github.com/zmcp/odata-codec/internal/keys"
	"github.com/zmcp/odata-codec/internal/models"
)

// TargetKind is what a segment points at
type TargetKind int

const (
	TargetResource TargetKind = iota
	TargetComplexObject
	TargetPrimitive
	TargetPrimitiveValue
	TargetOpenProperty
	TargetOpenPropertyValue
	TargetCollection
	TargetLink
	TargetMediaResource
	TargetVoid
)

var targetKindNames = [...]string{
	"Resource",
	"ComplexObject",
	"Primitive",
	"PrimitiveValue",
	"OpenProperty",
	"OpenPropertyValue",
	"Collection",
	"Link",
	"MediaResource",
	"Void",
}

func (k TargetKind) String() string {
	if int(k) < len(targetKindNames) {
		return targetKindNames[k]
	}
	return "TargetKind(" + strconv.Itoa(int(k)) + ")"
}

// Descriptor is one addressed location. It is immutable once built; use
// AsSingle for a synthetic single-valued copy.
type Descriptor struct {
	kind       TargetKind
	targetType *models.ResourceType
	container  *models.EntitySet
	single     bool
	property   *models.EntityProperty
	navigation *models.NavigationProperty
	identifier string
	key        keys.Key
	requestURI string
}

// Options carries the optional parts of a Descriptor
type Options struct {
	// TargetType is the resource type for Resource and ComplexObject targets
	TargetType *models.ResourceType
	// Container is the entity set the target lives in
	Container *models.EntitySet
	// SingleResult is true when the segment addresses exactly one value
	SingleResult bool
	// Property is the structural property when navigating into a value
	Property *models.EntityProperty
	// Navigation is the navigation property when navigating from a parent
	Navigation *models.NavigationProperty
	// Identifier is the segment text: set, property or operation name
	Identifier string
	// Key holds key values when the segment addresses one entity
	Key        keys.Key
	RequestURI string
}

// New builds a descriptor
func New(kind TargetKind, opts Options) *Descriptor {
	d := &Descriptor{
		kind:       kind,
		targetType: opts.TargetType,
		container:  opts.Container,
		single:     opts.SingleResult,
		property:   opts.Property,
		navigation: opts.Navigation,
		identifier: opts.Identifier,
		requestURI: opts.RequestURI,
	}
	if len(opts.Key) > 0 {
		d.key = append(keys.Key(nil), opts.Key...)
		d.single = true
	}
	if d.identifier == "" && d.container != nil {
		d.identifier = d.container.Name
	}
	return d
}

// EntitySet addresses a whole entity set of base type t
func EntitySet(set *models.EntitySet, t *models.ResourceType, requestURI string) *Descriptor {
	return New(TargetResource, Options{TargetType: t, Container: set, RequestURI: requestURI})
}

// Entity addresses one entity of set by key
func Entity(set *models.EntitySet, t *models.ResourceType, key keys.Key, requestURI string) *Descriptor {
	return New(TargetResource, Options{TargetType: t, Container: set, Key: key, SingleResult: true, RequestURI: requestURI})
}

func (d *Descriptor) TargetKind() TargetKind                { return d.kind }
func (d *Descriptor) TargetType() *models.ResourceType      { return d.targetType }
func (d *Descriptor) TargetContainer() *models.EntitySet    { return d.container }
func (d *Descriptor) SingleResult() bool                    { return d.single }
func (d *Descriptor) Property() *models.EntityProperty      { return d.property }
func (d *Descriptor) Navigation() *models.NavigationProperty { return d.navigation }
func (d *Descriptor) Identifier() string                    { return d.identifier }
func (d *Descriptor) RequestURI() string                    { return d.requestURI }

// Key returns a copy of the key values, nil unless one entity is addressed
func (d *Descriptor) Key() keys.Key {
	if d.key == nil {
		return nil
	}
	return append(keys.Key(nil), d.key...)
}

// HasKey reports whether the segment addresses one entity by key
func (d *Descriptor) HasKey() bool {
	return len(d.key) > 0
}

// AsSingle returns d when it is already single-valued, otherwise a copy
// that addresses one value of the same target. Inserting into a set reads
// a single entry.
func (d *Descriptor) AsSingle() *Descriptor {
	if d.single {
		return d
	}
	c := *d
	c.single = true
	return &c
}

// ContainerName returns the entity set name, empty when there is none
func (d *Descriptor) ContainerName() string {
	if d.container == nil {
		return ""
	}
	return d.container.Name
}

func (d *Descriptor) String() string {
	s := d.kind.String() + " " + d.identifier
	if d.targetType != nil {
		s += " (" + d.targetType.FullName() + ")"
	}
	if d.single {
		s += " single"
	}
	return s
}
