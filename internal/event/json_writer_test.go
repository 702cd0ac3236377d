package event

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zmcp/odata-codec/internal/debug"
)

func writeEntry(t *testing.T, w Writer) {
	t.Helper()
	product := &Resource{
		TypeName:       "NS.DiscountedProduct",
		TypeAnnotation: "NS.DiscountedProduct",
		ContextURL:     "$metadata#Products/$entity",
		ETag:           `W/"3"`,
		Actions:        []*Action{{Metadata: "#NS.Discount", Title: "Discount", Target: "Products(5)/NS.Discount"}},
		Properties: []*Property{
			{Name: "Id", Value: 5},
			{Name: "Name", Value: "Chai"},
			{Name: "Tags", Value: []string{"tea"}},
		},
	}
	category := &NestedInfo{Name: "Category", URL: "Products(5)/Category"}
	orders := &NestedInfo{Name: "Orders", IsCollection: true}
	supplier := &NestedInfo{Name: "Supplier"}
	set := &ResourceSet{NextLink: "Products(5)/Orders?$skiptoken=9"}

	require.NoError(t, w.WriteStart(product))
	require.NoError(t, w.WriteStart(category))
	require.NoError(t, w.WriteEnd(category))
	require.NoError(t, w.WriteStart(orders))
	require.NoError(t, w.WriteStart(set))
	order := &Resource{TypeName: "NS.Order", Properties: []*Property{{Name: "Id", Value: int64(9)}}}
	require.NoError(t, w.WriteStart(order))
	require.NoError(t, w.WriteEnd(order))
	require.NoError(t, w.WriteEnd(set))
	require.NoError(t, w.WriteEnd(orders))
	require.NoError(t, w.WriteStart(supplier))
	require.NoError(t, w.WriteItem(&EntityReferenceLink{URL: "Suppliers(2)"}))
	require.NoError(t, w.WriteEnd(supplier))
	require.NoError(t, w.WriteEnd(product))
	require.NoError(t, w.Flush())
}

func TestJSONWriter_Entry(t *testing.T) {
	var buf bytes.Buffer
	writeEntry(t, NewJSONWriter(&buf, JSONWriterOptions{}))

	assert.JSONEq(t, `{
		"@odata.context": "$metadata#Products/$entity",
		"@odata.type": "#NS.DiscountedProduct",
		"@odata.etag": "W/\"3\"",
		"#NS.Discount": {"title": "Discount", "target": "Products(5)/NS.Discount"},
		"Id": 5,
		"Name": "Chai",
		"Tags": ["tea"],
		"Category@odata.navigationLink": "Products(5)/Category",
		"Orders": [{"Id": 9}],
		"Orders@odata.nextLink": "Products(5)/Orders?$skiptoken=9",
		"Supplier@odata.bind": "Suppliers(2)"
	}`, buf.String())

	out := buf.String()
	assert.Less(t, strings.Index(out, "@odata.context"), strings.Index(out, "@odata.type"))
	assert.Less(t, strings.Index(out, `"Name"`), strings.Index(out, `"Orders"`))
}

func TestJSONWriter_Feed(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONWriter(&buf, JSONWriterOptions{Indent: true})
	count := int64(2)
	set := &ResourceSet{ContextURL: "$metadata#Products", Count: &count, NextLink: "Products?$skiptoken=2"}

	require.NoError(t, w.WriteStart(set))
	for _, id := range []int{1, 2} {
		res := &Resource{TypeName: "NS.Product", ContextURL: "ignored", Properties: []*Property{{Name: "Id", Value: id}}}
		require.NoError(t, w.WriteStart(res))
		require.NoError(t, w.WriteEnd(res))
	}
	require.NoError(t, w.WriteEnd(set))
	require.NoError(t, w.Flush())

	assert.JSONEq(t, `{
		"@odata.context": "$metadata#Products",
		"@odata.count": 2,
		"value": [{"Id": 1}, {"Id": 2}],
		"@odata.nextLink": "Products?$skiptoken=2"
	}`, buf.String())
	assert.Contains(t, buf.String(), "\n  ")
}

func TestJSONWriter_NullAndEmpty(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONWriter(&buf, JSONWriterOptions{})
	root := &Resource{TypeName: "NS.Product"}
	category := &NestedInfo{Name: "Category"}
	orders := &NestedInfo{Name: "Orders", IsCollection: true}
	empty := &ResourceSet{}
	var none *Resource

	require.NoError(t, w.WriteStart(root))
	require.NoError(t, w.WriteStart(category))
	require.NoError(t, w.WriteStart(none))
	require.NoError(t, w.WriteEnd(none))
	require.NoError(t, w.WriteEnd(category))
	require.NoError(t, w.WriteStart(orders))
	require.NoError(t, w.WriteStart(empty))
	require.NoError(t, w.WriteEnd(empty))
	require.NoError(t, w.WriteEnd(orders))
	require.NoError(t, w.WriteEnd(root))

	assert.JSONEq(t, `{"Category": null, "Orders": []}`, buf.String())
}

func TestJSONWriter_Values(t *testing.T) {
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	var buf bytes.Buffer
	w := NewJSONWriter(&buf, JSONWriterOptions{})
	res := &Resource{Properties: []*Property{
		{Name: "Guid", Value: id},
		{Name: "When", Value: ts},
		{Name: "Blob", Value: []byte("hi")},
		{Name: "Price", Value: Number("10.50")},
		{Name: "Open", Value: map[string]any{"b": true, "a": nil}},
	}}
	require.NoError(t, w.WriteStart(res))
	require.NoError(t, w.WriteEnd(res))

	assert.JSONEq(t, `{
		"Guid": "6ba7b810-9dad-11d1-80b4-00c04fd430c8",
		"When": "2024-05-01T12:00:00Z",
		"Blob": "aGk=",
		"Price": 10.50,
		"Open": {"a": null, "b": true}
	}`, buf.String())
	assert.Contains(t, buf.String(), "10.50")

	buf.Reset()
	w = NewJSONWriter(&buf, JSONWriterOptions{})
	require.NoError(t, w.WriteItem(&Value{ContextURL: "$metadata#Edm.Int32", Value: 3}))
	assert.JSONEq(t, `{"@odata.context":"$metadata#Edm.Int32","value":3}`, buf.String())
}

func TestJSONWriter_Errors(t *testing.T) {
	t.Run("unsupported value", func(t *testing.T) {
		w := NewJSONWriter(&bytes.Buffer{}, JSONWriterOptions{})
		err := w.WriteStart(&Resource{Properties: []*Property{{Name: "Ch", Value: make(chan int)}}})
		assert.ErrorContains(t, err, "unsupported value type")
	})
	t.Run("mismatched end", func(t *testing.T) {
		w := NewJSONWriter(&bytes.Buffer{}, JSONWriterOptions{})
		require.NoError(t, w.WriteStart(&Resource{}))
		assert.Error(t, w.WriteEnd(&Resource{}))
	})
	t.Run("nested info at top level", func(t *testing.T) {
		w := NewJSONWriter(&bytes.Buffer{}, JSONWriterOptions{})
		assert.Error(t, w.WriteStart(&NestedInfo{Name: "X"}))
	})
	t.Run("two links on single nested info", func(t *testing.T) {
		w := NewJSONWriter(&bytes.Buffer{}, JSONWriterOptions{})
		require.NoError(t, w.WriteStart(&Resource{}))
		require.NoError(t, w.WriteStart(&NestedInfo{Name: "X"}))
		require.NoError(t, w.WriteItem(&EntityReferenceLink{URL: "A(1)"}))
		assert.Error(t, w.WriteItem(&EntityReferenceLink{URL: "A(2)"}))
	})
	t.Run("unclosed scope", func(t *testing.T) {
		w := NewJSONWriter(&bytes.Buffer{}, JSONWriterOptions{})
		require.NoError(t, w.WriteStart(&Resource{}))
		assert.Error(t, w.Flush())
	})
}

func TestJSONWriter_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	writeEntry(t, NewJSONWriter(&buf, JSONWriterOptions{}))

	r, err := NewJSONReaderBytes(buf.Bytes(), JSONReaderOptions{Schema: testSchema})
	require.NoError(t, err)
	events := readAll(t, r)

	assert.Equal(t, []string{
		"ResourceStart(NS.DiscountedProduct)",
		"NestedInfoStart(Orders)",
		"ResourceSetStart",
		"ResourceStart()",
		"ResourceEnd()",
		"ResourceSetEnd",
		"NestedInfoEnd(Orders)",
		"NestedInfoStart(Supplier)",
		"EntityReferenceLink(Suppliers(2))",
		"NestedInfoEnd(Supplier)",
		"ResourceEnd(NS.DiscountedProduct)",
	}, eventNames(events))

	product := events[0].Item.(*Resource)
	assert.Equal(t, `W/"3"`, product.ETag)
	assert.Equal(t, "$metadata#Products/$entity", product.ContextURL)
	require.Len(t, product.Actions, 1)
	assert.Equal(t, "Products(5)/NS.Discount", product.Actions[0].Target)
	name, ok := product.Property("Name")
	require.True(t, ok)
	assert.Equal(t, "Chai", name.Value)
}

func TestRecorder(t *testing.T) {
	rec := NewRecorder()
	writeEntry(t, rec)

	r := rec.Reader()
	events := readAll(t, r)
	assert.Equal(t, rec.Events, events)
	assert.Equal(t, StateResourceStart, events[0].State)
	assert.Equal(t, StateResourceEnd, events[len(events)-1].State)

	assert.Error(t, rec.WriteEnd(&Resource{}))
	assert.Error(t, rec.WriteItem(&Resource{}))
}

func TestTrace(t *testing.T) {
	var buf bytes.Buffer
	trace := debug.NewTraceLoggerTo(&buf)

	rec := NewRecorder()
	writeEntry(t, TraceWriter(rec, trace))
	written := trace.Entries()
	assert.Equal(t, len(rec.Events), written)

	readAll(t, TraceReader(rec.Reader(), trace))
	assert.Equal(t, 2*written, trace.Entries())
	assert.Contains(t, buf.String(), `"message":"write ResourceStart"`)
	assert.Contains(t, buf.String(), `"message":"read EntityReferenceLink"`)

	var disabled *debug.TraceLogger
	assert.Same(t, rec, TraceWriter(rec, disabled))
}
