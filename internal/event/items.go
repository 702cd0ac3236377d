// Package event defines the structural event stream that sits between the
// entity codec and the wire format: a push-style sequence of nested
// resource, nested-info and resource-set starts and ends.
package event

import (
	"strconv"
	"strings"
)

// State is the kind of structural event a Reader is positioned on
type State int

const (
	StateStart State = iota
	StateResourceStart
	StateResourceEnd
	StateNestedInfoStart
	StateNestedInfoEnd
	StateResourceSetStart
	StateResourceSetEnd
	StateEntityReferenceLink
	StateValue
	StateCompleted
)

var stateNames = [...]string{
	"Start",
	"ResourceStart",
	"ResourceEnd",
	"NestedInfoStart",
	"NestedInfoEnd",
	"ResourceSetStart",
	"ResourceSetEnd",
	"EntityReferenceLink",
	"Value",
	"Completed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// Format identifies the wire format underneath a Reader or Writer
type Format int

const (
	FormatJSON Format = iota
	FormatRawValue
)

// Item is the payload carried by a structural event
type Item interface {
	item()
}

// Property is a primitive (or primitive collection) property of a resource
type Property struct {
	Name  string
	Value any
	// TypeName is the declared or annotated Edm type, empty when unknown
	TypeName string
}

// StreamInfo describes the media resource of a media link entry
type StreamInfo struct {
	EditLink    string
	ReadLink    string
	ContentType string
	ETag        string
}

// Action is an operation advertised on an entry
type Action struct {
	Metadata string // "#Namespace.Name"
	Title    string
	Target   string
}

// Resource is one entry: an entity or complex value
type Resource struct {
	// TypeName is the runtime type; always populated by writers.
	TypeName string
	// TypeAnnotation is the visible type name written to the wire.
	TypeAnnotation string
	ContextURL     string
	ID             string
	EditLink       string
	ReadLink       string
	ETag           string
	MediaResource  *StreamInfo
	Actions        []*Action
	Properties     []*Property
}

// Property looks up a property by exact name
func (r *Resource) Property(name string) (*Property, bool) {
	for _, p := range r.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// NestedInfo wraps the content of a navigation or complex-valued property
type NestedInfo struct {
	Name               string
	IsCollection       bool
	IsComplex          bool
	URL                string
	AssociationLinkURL string
}

// ResourceSet is a feed of entries
type ResourceSet struct {
	ContextURL string
	ID         string
	Count      *int64
	NextLink   string
}

// EntityReferenceLink is a bare reference to an existing resource
type EntityReferenceLink struct {
	URL string
}

// Value is a top-level primitive or primitive collection value
type Value struct {
	ContextURL string
	Value      any
	TypeName   string
}

func (*Resource) item()            {}
func (*NestedInfo) item()          {}
func (*ResourceSet) item()         {}
func (*EntityReferenceLink) item() {}
func (*Value) item()               {}

// Number keeps the literal text of a JSON number so that Int64 and Decimal
// values survive without float rounding
type Number string

// Int64 parses the number as a signed integer
func (n Number) Int64() (int64, error) {
	return strconv.ParseInt(string(n), 10, 64)
}

// Float64 parses the number as a float
func (n Number) Float64() (float64, error) {
	return strconv.ParseFloat(string(n), 64)
}

// IsIntegral reports whether the literal has no fraction or exponent
func (n Number) IsIntegral() bool {
	return !strings.ContainsAny(string(n), ".eE")
}

// Native converts the literal to int64 when integral and in range, else float64
func (n Number) Native() any {
	if n.IsIntegral() {
		if v, err := n.Int64(); err == nil {
			return v
		}
	}
	if v, err := n.Float64(); err == nil {
		return v
	}
	return string(n)
}
