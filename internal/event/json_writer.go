package event

import (
	"encoding/base64"
	"fmt"
	"io"
	"reflect"
	"sort"
	"time"

	"github.com/go-json-experiment/json/jsontext"
	"github.com/google/uuid"

	"github.com/zmcp/odata-codec/internal/constants"
)

// JSONWriterOptions configures NewJSONWriter
type JSONWriterOptions struct {
	Indent bool
}

type writerFrame struct {
	item Item
	// wrote is set on a nested info once its property name has been emitted
	wrote bool
	links []string
}

// JSONWriter emits OData JSON for a structural event sequence
type JSONWriter struct {
	enc    *jsontext.Encoder
	frames []*writerFrame
}

// NewJSONWriter creates a writer that encodes to w
func NewJSONWriter(w io.Writer, opts JSONWriterOptions) *JSONWriter {
	var encOpts []jsontext.Options
	if opts.Indent {
		encOpts = append(encOpts, jsontext.WithIndent("  "))
	}
	return &JSONWriter{enc: jsontext.NewEncoder(w, encOpts...)}
}

func (w *JSONWriter) top() *writerFrame {
	if len(w.frames) == 0 {
		return nil
	}
	return w.frames[len(w.frames)-1]
}

// WriteStart opens a resource, nested info or resource set
func (w *JSONWriter) WriteStart(item Item) error {
	parent := w.top()
	switch it := item.(type) {
	case *Resource:
		if err := w.enterValue(parent); err != nil {
			return err
		}
		if it == nil {
			if err := w.enc.WriteToken(jsontext.Null); err != nil {
				return err
			}
		} else if err := w.beginResource(it, parent == nil); err != nil {
			return err
		}
	case *NestedInfo:
		if parent == nil {
			return fmt.Errorf("event: nested info %q written outside a resource", it.Name)
		}
		if _, ok := parent.item.(*Resource); !ok {
			return fmt.Errorf("event: nested info %q must be written inside a resource", it.Name)
		}
		if it.URL != "" {
			if err := w.annotation(it.Name+constants.ODataNavigationLink, it.URL); err != nil {
				return err
			}
		}
		if it.AssociationLinkURL != "" {
			if err := w.annotation(it.Name+constants.ODataAssociationLink, it.AssociationLinkURL); err != nil {
				return err
			}
		}
	case *ResourceSet:
		if parent == nil {
			if err := w.enc.WriteToken(jsontext.ObjectStart); err != nil {
				return err
			}
			if it.ContextURL != "" {
				if err := w.annotation(constants.ODataContext, it.ContextURL); err != nil {
					return err
				}
			}
			if it.ID != "" {
				if err := w.annotation(constants.ODataID, it.ID); err != nil {
					return err
				}
			}
			if it.Count != nil {
				if err := w.enc.WriteToken(jsontext.String(constants.ODataCount)); err != nil {
					return err
				}
				if err := w.enc.WriteToken(jsontext.Int(*it.Count)); err != nil {
					return err
				}
			}
			if err := w.enc.WriteToken(jsontext.String(constants.ODataValue)); err != nil {
				return err
			}
		} else if err := w.enterValue(parent); err != nil {
			return err
		}
		if err := w.enc.WriteToken(jsontext.ArrayStart); err != nil {
			return err
		}
	default:
		return fmt.Errorf("event: %T cannot start a scope", item)
	}
	w.frames = append(w.frames, &writerFrame{item: item})
	return nil
}

// enterValue writes the property name when a value starts inside a nested info
func (w *JSONWriter) enterValue(parent *writerFrame) error {
	if parent == nil {
		return nil
	}
	nested, ok := parent.item.(*NestedInfo)
	if !ok {
		return nil
	}
	if parent.wrote {
		return fmt.Errorf("event: nested info %q already has content", nested.Name)
	}
	parent.wrote = true
	return w.enc.WriteToken(jsontext.String(nested.Name))
}

func (w *JSONWriter) beginResource(r *Resource, topLevel bool) error {
	if err := w.enc.WriteToken(jsontext.ObjectStart); err != nil {
		return err
	}
	annotations := []struct{ name, value string }{
		{constants.ODataType, prefixed(r.TypeAnnotation)},
		{constants.ODataID, r.ID},
		{constants.ODataETag, r.ETag},
		{constants.ODataEditLink, r.EditLink},
		{constants.ODataReadLink, r.ReadLink},
	}
	if topLevel && r.ContextURL != "" {
		if err := w.annotation(constants.ODataContext, r.ContextURL); err != nil {
			return err
		}
	}
	for _, a := range annotations {
		if err := w.annotation(a.name, a.value); err != nil {
			return err
		}
	}
	if media := r.MediaResource; media != nil {
		for _, a := range []struct{ name, value string }{
			{constants.ODataMediaEditLink, media.EditLink},
			{constants.ODataMediaReadLink, media.ReadLink},
			{constants.ODataMediaContentType, media.ContentType},
			{constants.ODataMediaETag, media.ETag},
		} {
			if err := w.annotation(a.name, a.value); err != nil {
				return err
			}
		}
	}
	for _, action := range r.Actions {
		if err := w.writeAction(action); err != nil {
			return err
		}
	}
	for _, p := range r.Properties {
		if err := w.enc.WriteToken(jsontext.String(p.Name)); err != nil {
			return err
		}
		if err := w.writeValue(p.Value); err != nil {
			return fmt.Errorf("property %s: %w", p.Name, err)
		}
	}
	return nil
}

func (w *JSONWriter) writeAction(action *Action) error {
	if err := w.enc.WriteToken(jsontext.String(action.Metadata)); err != nil {
		return err
	}
	if err := w.enc.WriteToken(jsontext.ObjectStart); err != nil {
		return err
	}
	if err := w.annotation("title", action.Title); err != nil {
		return err
	}
	if err := w.annotation("target", action.Target); err != nil {
		return err
	}
	return w.enc.WriteToken(jsontext.ObjectEnd)
}

// annotation writes a string member, skipping empty values
func (w *JSONWriter) annotation(name, value string) error {
	if value == "" {
		return nil
	}
	if err := w.enc.WriteToken(jsontext.String(name)); err != nil {
		return err
	}
	return w.enc.WriteToken(jsontext.String(value))
}

// WriteEnd closes the innermost open scope
func (w *JSONWriter) WriteEnd(item Item) error {
	frame := w.top()
	if frame == nil || frame.item != item {
		return fmt.Errorf("event: end of %T does not match the open scope", item)
	}
	w.frames = w.frames[:len(w.frames)-1]
	parent := w.top()

	switch it := item.(type) {
	case *Resource:
		if it == nil {
			return nil
		}
		return w.enc.WriteToken(jsontext.ObjectEnd)
	case *NestedInfo:
		switch {
		case len(frame.links) == 0:
			return nil
		case it.IsCollection:
			if err := w.enc.WriteToken(jsontext.String(it.Name + constants.ODataBind)); err != nil {
				return err
			}
			if err := w.enc.WriteToken(jsontext.ArrayStart); err != nil {
				return err
			}
			for _, link := range frame.links {
				if err := w.enc.WriteToken(jsontext.String(link)); err != nil {
					return err
				}
			}
			return w.enc.WriteToken(jsontext.ArrayEnd)
		default:
			return w.annotation(it.Name+constants.ODataBind, frame.links[0])
		}
	case *ResourceSet:
		if err := w.enc.WriteToken(jsontext.ArrayEnd); err != nil {
			return err
		}
		if parent == nil {
			if err := w.annotation(constants.ODataNextLink, it.NextLink); err != nil {
				return err
			}
			return w.enc.WriteToken(jsontext.ObjectEnd)
		}
		if nested, ok := parent.item.(*NestedInfo); ok && it.NextLink != "" {
			return w.annotation(nested.Name+constants.ODataNextLink, it.NextLink)
		}
		return nil
	}
	return nil
}

// WriteItem writes a reference link or a top-level value
func (w *JSONWriter) WriteItem(item Item) error {
	parent := w.top()
	switch it := item.(type) {
	case *EntityReferenceLink:
		if parent == nil {
			if err := w.enc.WriteToken(jsontext.ObjectStart); err != nil {
				return err
			}
			if err := w.annotation(constants.ODataID, it.URL); err != nil {
				return err
			}
			return w.enc.WriteToken(jsontext.ObjectEnd)
		}
		switch p := parent.item.(type) {
		case *NestedInfo:
			if !p.IsCollection && len(parent.links) > 0 {
				return fmt.Errorf("event: single-valued nested info %q already has a link", p.Name)
			}
			parent.links = append(parent.links, it.URL)
			return nil
		case *ResourceSet:
			if err := w.enc.WriteToken(jsontext.ObjectStart); err != nil {
				return err
			}
			if err := w.annotation(constants.ODataID, it.URL); err != nil {
				return err
			}
			return w.enc.WriteToken(jsontext.ObjectEnd)
		}
		return fmt.Errorf("event: reference link cannot be written inside %T", parent.item)
	case *Value:
		if parent != nil {
			return fmt.Errorf("event: values are only written at the top level")
		}
		if err := w.enc.WriteToken(jsontext.ObjectStart); err != nil {
			return err
		}
		if err := w.annotation(constants.ODataContext, it.ContextURL); err != nil {
			return err
		}
		if err := w.enc.WriteToken(jsontext.String(constants.ODataValue)); err != nil {
			return err
		}
		if err := w.writeValue(it.Value); err != nil {
			return err
		}
		return w.enc.WriteToken(jsontext.ObjectEnd)
	default:
		return fmt.Errorf("event: %T cannot be written as a leaf", item)
	}
}

// Flush verifies every scope has been closed
func (w *JSONWriter) Flush() error {
	if len(w.frames) != 0 {
		return fmt.Errorf("event: %d scopes left open", len(w.frames))
	}
	return nil
}

// writeValue encodes a primitive Go value, a primitive collection or an
// open complex map
func (w *JSONWriter) writeValue(value any) error {
	switch v := value.(type) {
	case nil:
		return w.enc.WriteToken(jsontext.Null)
	case string:
		return w.enc.WriteToken(jsontext.String(v))
	case bool:
		return w.enc.WriteToken(jsontext.Bool(v))
	case Number:
		return w.enc.WriteValue(jsontext.Value(v))
	case int:
		return w.enc.WriteToken(jsontext.Int(int64(v)))
	case int8:
		return w.enc.WriteToken(jsontext.Int(int64(v)))
	case int16:
		return w.enc.WriteToken(jsontext.Int(int64(v)))
	case int32:
		return w.enc.WriteToken(jsontext.Int(int64(v)))
	case int64:
		return w.enc.WriteToken(jsontext.Int(v))
	case uint8:
		return w.enc.WriteToken(jsontext.Uint(uint64(v)))
	case uint16:
		return w.enc.WriteToken(jsontext.Uint(uint64(v)))
	case uint32:
		return w.enc.WriteToken(jsontext.Uint(uint64(v)))
	case uint64:
		return w.enc.WriteToken(jsontext.Uint(v))
	case float32:
		return w.enc.WriteToken(jsontext.Float(float64(v)))
	case float64:
		return w.enc.WriteToken(jsontext.Float(v))
	case time.Time:
		return w.enc.WriteToken(jsontext.String(v.Format(time.RFC3339Nano)))
	case uuid.UUID:
		return w.enc.WriteToken(jsontext.String(v.String()))
	case []byte:
		return w.enc.WriteToken(jsontext.String(base64.StdEncoding.EncodeToString(v)))
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if err := w.enc.WriteToken(jsontext.ObjectStart); err != nil {
			return err
		}
		for _, k := range keys {
			if err := w.enc.WriteToken(jsontext.String(k)); err != nil {
				return err
			}
			if err := w.writeValue(v[k]); err != nil {
				return err
			}
		}
		return w.enc.WriteToken(jsontext.ObjectEnd)
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		if err := w.enc.WriteToken(jsontext.ArrayStart); err != nil {
			return err
		}
		for i := 0; i < rv.Len(); i++ {
			if err := w.writeValue(rv.Index(i).Interface()); err != nil {
				return err
			}
		}
		return w.enc.WriteToken(jsontext.ArrayEnd)
	}
	if s, ok := value.(fmt.Stringer); ok {
		return w.enc.WriteToken(jsontext.String(s.String()))
	}
	return fmt.Errorf("unsupported value type %T", value)
}

func prefixed(typeName string) string {
	if typeName == "" {
		return ""
	}
	return "#" + typeName
}
