package reader

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zmcp/odata-codec/internal/event"
	"github.com/zmcp/odata-codec/internal/keys"
	"github.com/zmcp/odata-codec/internal/odataerr"
	"github.com/zmcp/odata-codec/internal/segment"
	"github.com/zmcp/odata-codec/internal/updatable"
)

func (f *fixture) target(t *testing.T, kind segment.TargetKind, setName string, key keys.Key, member string) *segment.Descriptor {
	t.Helper()
	set, typ := f.set(t, setName)
	opts := segment.Options{Container: set, Key: key, Identifier: member}
	if prop, ok := f.provider.FindProperty(typ, member); ok {
		opts.Property = prop
	}
	if nav, ok := f.provider.FindNavigationProperty(typ, member); ok {
		opts.Navigation = nav
	}
	return segment.New(kind, opts)
}

func (f *fixture) read(t *testing.T, target *segment.Descriptor, body, contentType string) (*Result, error) {
	t.Helper()
	d, err := New(target, f.provider, f.store, Options{Operation: OperationMerge})
	require.NoError(t, err)
	return d.Deserialize(context.Background(), strings.NewReader(body), contentType)
}

func TestPropertyDeserializer(t *testing.T) {
	tests := []struct {
		name   string
		kind   segment.TargetKind
		member string
		body   string
		want   any
		code   odataerr.Code
	}{
		{
			name:   "primitive",
			kind:   segment.TargetPrimitive,
			member: "Name",
			body:   `{"@odata.context": "http://host/service/$metadata#Products(7)/Name", "value": "Green tea"}`,
			want:   "Green tea",
		},
		{
			name:   "null for nullable primitive",
			kind:   segment.TargetPrimitive,
			member: "Name",
			body:   `{"value": null}`,
			want:   nil,
		},
		{
			name:   "decimal keeps its literal",
			kind:   segment.TargetPrimitive,
			member: "Price",
			body:   `{"value": 12.250}`,
			want:   event.Number("12.25"),
		},
		{
			name:   "null for non-nullable primitive",
			kind:   segment.TargetPrimitive,
			member: "Id",
			body:   `{"value": null}`,
			code:   odataerr.CodeInvalidValue,
		},
		{
			name:   "object for primitive",
			kind:   segment.TargetPrimitive,
			member: "Name",
			body:   `{"City": "Oslo"}`,
			code:   odataerr.CodeTypeKindMismatch,
		},
		{
			name:   "complex",
			kind:   segment.TargetComplexObject,
			member: "Address",
			body:   `{"City": "Bergen", "Location": {"Lat": 1, "Lon": 2.5}}`,
			want: map[string]any{
				"City":     "Bergen",
				"Location": map[string]any{"Lat": 1.0, "Lon": 2.5},
			},
		},
		{
			name:   "null complex",
			kind:   segment.TargetComplexObject,
			member: "Address",
			body:   `{"value": null}`,
			want:   nil,
		},
		{
			name:   "complex with unknown member",
			kind:   segment.TargetComplexObject,
			member: "Address",
			body:   `{"Zip": "0150"}`,
			code:   odataerr.CodePropertyNotFound,
		},
		{
			name:   "open property on closed type",
			kind:   segment.TargetOpenProperty,
			member: "Rating",
			body:   `{"value": 5}`,
			code:   odataerr.CodePropertyNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, product := f.seedCatalog(t)

			result, err := f.read(t, f.target(t, tt.kind, "Products", productKey(7), tt.member), tt.body, "application/json")
			if tt.code != "" {
				require.Error(t, err)
				assert.Equal(t, tt.code, odataerr.CodeOf(err), err.Error())
				return
			}
			require.NoError(t, err)
			assert.Same(t, product, result.Resource)
			assert.Equal(t, tt.want, result.Value)
			assert.Equal(t, tt.want, product.Value(tt.member))
		})
	}
}

func TestPropertyDeserializer_OpenProperty(t *testing.T) {
	f := newFixture(t)
	supplier := f.seed(t, "Suppliers", "Demo.Supplier", map[string]any{"Code": "S1"})
	key := keys.Key{{Name: "Code", Value: "S1"}}

	result, err := f.read(t, f.target(t, segment.TargetOpenProperty, "Suppliers", key, "Rating"), `{"value": 5}`, "")
	require.NoError(t, err)
	assert.Equal(t, int64(5), result.Value)
	assert.Equal(t, int64(5), supplier.Value("Rating"))

	_, err = f.read(t, f.target(t, segment.TargetOpenProperty, "Suppliers", key, "Origin"), `{"Country": "NO"}`, "")
	assert.Equal(t, odataerr.CodeTypeNameRequired, odataerr.CodeOf(err))
}

func TestPropertyDeserializer_MissingParent(t *testing.T) {
	f := newFixture(t)

	_, err := f.read(t, f.target(t, segment.TargetPrimitive, "Products", productKey(404), "Name"), `{"value": "x"}`, "")
	assert.Equal(t, odataerr.KindNotFound, odataerr.KindOf(err))

	_, err = f.read(t, f.target(t, segment.TargetPrimitive, "Products", nil, "Name"), `{"value": "x"}`, "")
	assert.Equal(t, odataerr.CodeKeyMissing, odataerr.CodeOf(err))
}

func TestCollectionDeserializer(t *testing.T) {
	f := newFixture(t)
	_, product := f.seedCatalog(t)
	target := f.target(t, segment.TargetCollection, "Products", productKey(7), "Tags")

	result, err := f.read(t, target, `{"value": ["green", "loose"]}`, "application/json;odata.metadata=minimal")
	require.NoError(t, err)
	assert.Equal(t, []any{"green", "loose"}, result.Value)
	assert.Equal(t, []any{"green", "loose"}, product.Value("Tags"))

	_, err = f.read(t, target, `{"value": "green"}`, "")
	assert.Equal(t, odataerr.CodeInvalidCollectionType, odataerr.CodeOf(err))

	_, err = f.read(t, target, `{"value": [1]}`, "")
	assert.Equal(t, odataerr.CodeInvalidValue, odataerr.CodeOf(err))
}

func TestLinkDeserializer(t *testing.T) {
	f := newFixture(t)
	_, product := f.seedCatalog(t)
	f.seed(t, "Categories", "Demo.Category", map[string]any{"Id": int32(11)})
	order := f.seed(t, "Orders", "Demo.Order", map[string]any{"OrderId": uuid.MustParse(orderGUID)})

	result, err := f.read(t, f.target(t, segment.TargetLink, "Products", productKey(7), "Orders"),
		`{"value": [{"@odata.id": "Orders(`+orderGUID+`)"}]}`, "")
	require.NoError(t, err)
	assert.Equal(t, []any{order}, result.Links)
	assert.Equal(t, []string{"Orders(" + orderGUID + ")"}, product.LinkIDs()["Orders"])

	category := f.target(t, segment.TargetLink, "Products", productKey(7), "Category")
	_, err = f.read(t, category, `{"@odata.id": "http://host/service/Categories(11)"}`, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"Categories(11)"}, product.LinkIDs()["Category"])

	_, err = f.read(t, category, `{"value": [{"@odata.id": "Categories(10)"}, {"@odata.id": "Categories(11)"}]}`, "")
	assert.Equal(t, odataerr.CodeInvalidLink, odataerr.CodeOf(err))

	_, err = f.read(t, category, `{"@odata.id": "Products(7)"}`, "")
	assert.Equal(t, odataerr.CodeTypeMismatch, odataerr.CodeOf(err))

	_, err = f.read(t, category, `{"url": "Categories(10)/Demo.Product"}`, "")
	assert.Equal(t, odataerr.CodeTypeMismatch, odataerr.CodeOf(err))
}

func TestRawValueDeserializer(t *testing.T) {
	f := newFixture(t)
	_, product := f.seedCatalog(t)

	result, err := f.read(t, f.target(t, segment.TargetPrimitiveValue, "Products", productKey(7), "Price"), "12.25", "text/plain")
	require.NoError(t, err)
	assert.Equal(t, event.Number("12.25"), result.Value)
	assert.Equal(t, event.Number("12.25"), product.Value("Price"))

	_, err = f.read(t, f.target(t, segment.TargetPrimitiveValue, "Products", productKey(7), "ReleaseDate"), "yesterday", "text/plain")
	assert.Equal(t, odataerr.CodeInvalidValue, odataerr.CodeOf(err))

	supplier := f.seed(t, "Suppliers", "Demo.Supplier", map[string]any{"Code": "S1"})
	_, err = f.read(t, f.target(t, segment.TargetOpenPropertyValue, "Suppliers", keys.Key{{Name: "Code", Value: "S1"}}, "Note"), "hello", "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "hello", supplier.Value("Note"))
}

func TestMediaDeserializer(t *testing.T) {
	f := newFixture(t)
	photo := f.seed(t, "Photos", "Demo.Photo", map[string]any{"Id": int64(1)})

	target := f.target(t, segment.TargetMediaResource, "Photos", keys.Key{{Name: "Id", Value: int64(1)}}, "")
	result, err := f.read(t, target, "\x89PNG", "image/png")
	require.NoError(t, err)
	assert.Same(t, photo, result.Resource)
	assert.Equal(t, &updatable.Media{ContentType: "image/png", Data: []byte("\x89PNG")}, photo.Media())

	f.seedCatalog(t)
	_, err = f.read(t, f.target(t, segment.TargetMediaResource, "Products", productKey(7), ""), "x", "image/png")
	assert.Equal(t, odataerr.CodeUnsupportedTarget, odataerr.CodeOf(err))
}
