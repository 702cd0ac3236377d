package event

import (
	"github.com/zmcp/odata-codec/internal/debug"
)

// TracingReader logs every event pulled from the wrapped Reader
type TracingReader struct {
	Reader
	trace *debug.TraceLogger
}

// TraceReader wraps r; a nil or disabled logger returns r unchanged
func TraceReader(r Reader, trace *debug.TraceLogger) Reader {
	if !trace.Enabled() {
		return r
	}
	return &TracingReader{Reader: r, trace: trace}
}

// Read advances the wrapped reader and logs the new position
func (t *TracingReader) Read() (bool, error) {
	ok, err := t.Reader.Read()
	if err != nil {
		t.trace.LogError("read", err, nil)
		return ok, err
	}
	if ok {
		t.trace.LogEvent("read", t.Reader.State().String(), describe(t.Reader.Item()))
	}
	return ok, nil
}

// TracingWriter logs every event pushed into the wrapped Writer
type TracingWriter struct {
	Writer
	trace *debug.TraceLogger
}

// TraceWriter wraps w; a nil or disabled logger returns w unchanged
func TraceWriter(w Writer, trace *debug.TraceLogger) Writer {
	if !trace.Enabled() {
		return w
	}
	return &TracingWriter{Writer: w, trace: trace}
}

func (t *TracingWriter) WriteStart(item Item) error {
	state, _ := startState(item)
	t.trace.LogEvent("write", state.String(), describe(item))
	return t.logged(t.Writer.WriteStart(item))
}

func (t *TracingWriter) WriteEnd(item Item) error {
	state, _ := startState(item)
	t.trace.LogEvent("write", (state + 1).String(), describe(item))
	return t.logged(t.Writer.WriteEnd(item))
}

func (t *TracingWriter) WriteItem(item Item) error {
	state := StateValue
	if _, ok := item.(*EntityReferenceLink); ok {
		state = StateEntityReferenceLink
	}
	t.trace.LogEvent("write", state.String(), describe(item))
	return t.logged(t.Writer.WriteItem(item))
}

func (t *TracingWriter) logged(err error) error {
	if err != nil {
		t.trace.LogError("write", err, nil)
	}
	return err
}

func describe(item Item) map[string]any {
	switch it := item.(type) {
	case *Resource:
		if it == nil {
			return map[string]any{"null": true}
		}
		names := make([]string, 0, len(it.Properties))
		for _, p := range it.Properties {
			names = append(names, p.Name)
		}
		return map[string]any{"type": it.TypeName, "id": it.ID, "properties": names}
	case *NestedInfo:
		return map[string]any{"name": it.Name, "collection": it.IsCollection}
	case *ResourceSet:
		data := map[string]any{}
		if it.Count != nil {
			data["count"] = *it.Count
		}
		if it.NextLink != "" {
			data["nextLink"] = it.NextLink
		}
		return data
	case *EntityReferenceLink:
		return map[string]any{"url": it.URL}
	case *Value:
		return map[string]any{"type": it.TypeName}
	}
	return nil
}
