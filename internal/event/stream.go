package event

import (
	"fmt"
)

// Reader is a pull reader over structural events. Read advances to the next
// event and reports false once the payload is exhausted.
type Reader interface {
	Read() (bool, error)
	State() State
	Item() Item
	Format() Format
}

// Writer is a push sink for structural events. Starts and ends must be
// strictly nested; WriteEnd receives the item passed to the matching
// WriteStart.
type Writer interface {
	WriteStart(item Item) error
	WriteEnd(item Item) error
	WriteItem(item Item) error
	Flush() error
}

// Shape classifies how a property's value is carried in the event stream
type Shape int

const (
	ShapeUnknown Shape = iota
	ShapePrimitive
	ShapeComplex
	ShapeNavigation
)

// PropertyInfo is what a Schema knows about one property
type PropertyInfo struct {
	Shape        Shape
	TypeName     string // element type for collections
	IsCollection bool
}

// Schema lets a wire reader tell structured properties apart from
// primitive ones. Unknown properties (open types) are classified by value.
type Schema interface {
	PropertyInfo(typeName, property string) PropertyInfo
}

// Event is one recorded structural event
type Event struct {
	State State
	Item  Item
}

func (e Event) String() string {
	switch item := e.Item.(type) {
	case *Resource:
		if item == nil {
			return e.State.String() + "(null)"
		}
		return fmt.Sprintf("%s(%s)", e.State, item.TypeName)
	case *NestedInfo:
		return fmt.Sprintf("%s(%s)", e.State, item.Name)
	case *EntityReferenceLink:
		return fmt.Sprintf("%s(%s)", e.State, item.URL)
	default:
		return e.State.String()
	}
}

// SliceReader replays a recorded event sequence
type SliceReader struct {
	events []Event
	pos    int
	format Format
}

// NewSliceReader returns a reader positioned before the first event
func NewSliceReader(events []Event) *SliceReader {
	return &SliceReader{events: events, pos: -1, format: FormatJSON}
}

// Read advances to the next event
func (r *SliceReader) Read() (bool, error) {
	if r.pos+1 >= len(r.events) {
		r.pos = len(r.events)
		return false, nil
	}
	r.pos++
	return true, nil
}

// State returns the current event state
func (r *SliceReader) State() State {
	switch {
	case r.pos < 0:
		return StateStart
	case r.pos >= len(r.events):
		return StateCompleted
	default:
		return r.events[r.pos].State
	}
}

// Item returns the current event item
func (r *SliceReader) Item() Item {
	if r.pos < 0 || r.pos >= len(r.events) {
		return nil
	}
	return r.events[r.pos].Item
}

// Format returns the wire format the events stand for
func (r *SliceReader) Format() Format {
	return r.format
}

// Recorder is a Writer that keeps every event in memory
type Recorder struct {
	Events []Event
	open   []Item
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

// WriteStart records a start event
func (r *Recorder) WriteStart(item Item) error {
	state, err := startState(item)
	if err != nil {
		return err
	}
	r.Events = append(r.Events, Event{State: state, Item: item})
	r.open = append(r.open, item)
	return nil
}

// WriteEnd records an end event, checking it closes the innermost start
func (r *Recorder) WriteEnd(item Item) error {
	if len(r.open) == 0 || r.open[len(r.open)-1] != item {
		return fmt.Errorf("event: end does not match the open start")
	}
	r.open = r.open[:len(r.open)-1]
	state, err := startState(item)
	if err != nil {
		return err
	}
	r.Events = append(r.Events, Event{State: state + 1, Item: item})
	return nil
}

// WriteItem records a leaf event
func (r *Recorder) WriteItem(item Item) error {
	switch item.(type) {
	case *EntityReferenceLink:
		r.Events = append(r.Events, Event{State: StateEntityReferenceLink, Item: item})
	case *Value:
		r.Events = append(r.Events, Event{State: StateValue, Item: item})
	default:
		return fmt.Errorf("event: %T cannot be written as a leaf", item)
	}
	return nil
}

// Flush is a no-op
func (r *Recorder) Flush() error {
	if len(r.open) != 0 {
		return fmt.Errorf("event: %d items left open", len(r.open))
	}
	return nil
}

// Reader replays the recorded events
func (r *Recorder) Reader() *SliceReader {
	return NewSliceReader(r.Events)
}

// startState maps an item to its start state; the end state is start+1
func startState(item Item) (State, error) {
	switch item.(type) {
	case *Resource:
		return StateResourceStart, nil
	case *NestedInfo:
		return StateNestedInfoStart, nil
	case *ResourceSet:
		return StateResourceSetStart, nil
	default:
		return 0, fmt.Errorf("event: %T cannot start a scope", item)
	}
}
