package writer

import (
	"github.com/zmcp/odata-codec/internal/models"
)

// Source exposes the object graph being serialized. Instances are opaque to
// the writer; complex values are map[string]any.
type Source interface {
	// TypeName returns the qualified runtime type of an entity instance
	TypeName(instance any) (string, error)
	// Value returns a structural property value, nil when unset
	Value(instance any, property string) (any, error)
	// Related returns a navigation property value: a single instance, nil,
	// or an Enumerator for to-many properties
	Related(instance any, navigation string) (any, error)
}

// OpenPropertySource lists the dynamic properties of open type instances
type OpenPropertySource interface {
	OpenProperties(instance any) ([]string, error)
}

// ETagSource supplies concurrency tokens
type ETagSource interface {
	ETag(instance any) (string, error)
}

// Stream describes the media resource of a media link entry. Empty fields
// fall back to conventions.
type Stream struct {
	EditLink    string
	ReadLink    string
	ContentType string
	ETag        string
}

// StreamSource supplies media resource details
type StreamSource interface {
	Stream(instance any) (*Stream, bool, error)
}

// LinkSource lets a provider override the conventional identity and edit
// link of an entry
type LinkSource interface {
	Links(instance any) (id, editLink string, err error)
}

// ActionDescriptor is a provider's answer for one advertised action. Empty
// fields fall back to conventions.
type ActionDescriptor struct {
	Title  string
	Target string
}

// ActionAdvertiser decides which bound actions an entry advertises. ok is
// false when the action does not apply to the instance.
type ActionAdvertiser interface {
	AdvertiseAction(instance any, action *models.Action) (descriptor *ActionDescriptor, ok bool, err error)
}

// Enumerator walks a feed
type Enumerator interface {
	Next() bool
	Current() any
	Err() error
	// HasMore reports whether results remain beyond the enumerated page
	HasMore() bool
}

// Counter is implemented by enumerators that know the size of the whole
// result, not just the page
type Counter interface {
	Count() (total int64, ok bool)
}

// SliceEnumerator enumerates an in-memory page
type SliceEnumerator struct {
	items []any
	pos   int
	more  bool
	total int64
}

// NewSliceEnumerator enumerates items; hasMore marks a truncated page
func NewSliceEnumerator(items []any, hasMore bool) *SliceEnumerator {
	total := int64(-1)
	if !hasMore {
		total = int64(len(items))
	}
	return &SliceEnumerator{items: items, pos: -1, more: hasMore, total: total}
}

// WithTotal records the size of the whole result
func (e *SliceEnumerator) WithTotal(total int64) *SliceEnumerator {
	e.total = total
	return e
}

// Count returns the size of the whole result when known
func (e *SliceEnumerator) Count() (int64, bool) {
	return e.total, e.total >= 0
}

func (e *SliceEnumerator) Next() bool {
	if e.pos+1 >= len(e.items) {
		e.pos = len(e.items)
		return false
	}
	e.pos++
	return true
}

func (e *SliceEnumerator) Current() any {
	if e.pos < 0 || e.pos >= len(e.items) {
		return nil
	}
	return e.items[e.pos]
}

func (e *SliceEnumerator) Err() error    { return nil }
func (e *SliceEnumerator) HasMore() bool { return e.more }

// Len returns the number of items on the page
func (e *SliceEnumerator) Len() int { return len(e.items) }

// ExpandNode is one level of a $select/$expand tree
type ExpandNode struct {
	// Select limits the written structural properties; nil writes all
	Select []string
	// Expand maps navigation property names to their expansion
	Expand map[string]*ExpandNode
	// Count requests @odata.count on a top-level feed
	Count bool
	// Ref writes reference links in place of the related entries
	Ref bool
}

// Child returns the expansion for navigation, or nil when not expanded
func (n *ExpandNode) Child(navigation string) *ExpandNode {
	if n == nil {
		return nil
	}
	return n.Expand[navigation]
}

// Selects reports whether property is part of the projection
func (n *ExpandNode) Selects(property string) bool {
	if n == nil || n.Select == nil {
		return true
	}
	for _, name := range n.Select {
		if name == property || name == "*" {
			return true
		}
	}
	return false
}
