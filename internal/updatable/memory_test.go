package updatable

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zmcp/odata-codec/internal/event"
	"github.com/zmcp/odata-codec/internal/keys"
	"github.com/zmcp/odata-codec/internal/metadata"
	"github.com/zmcp/odata-codec/internal/odataerr"
	"github.com/zmcp/odata-codec/internal/writer"
)

func testProvider(t *testing.T) *metadata.Provider {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "metadata", "testdata", "products_v4.xml"))
	require.NoError(t, err)
	meta, err := metadata.ParseMetadata(data, "http://host/service/")
	require.NoError(t, err)
	return metadata.NewProvider(meta)
}

func createProduct(t *testing.T, s *MemoryStore, typeName string, id int32, name string) *Record {
	t.Helper()
	res, err := s.CreateResource("Products", typeName)
	require.NoError(t, err)
	require.NoError(t, s.SetValue(res, "Id", id))
	require.NoError(t, s.SetValue(res, "Name", name))
	return res.(*Record)
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	s := NewMemoryStore(testProvider(t))
	ctx := context.Background()

	rec := createProduct(t, s, "Demo.DiscountedProduct", 5, "Chai")
	assert.Empty(t, rec.ID(), "not indexed before save")

	etag, err := s.ETag(rec)
	require.NoError(t, err)
	assert.Empty(t, etag)

	_, err = s.GetResource("Products", keys.Key{{Name: "Id", Value: int32(5)}}, "")
	assert.Equal(t, odataerr.KindNotFound, odataerr.KindOf(err))

	require.NoError(t, s.SaveChanges(ctx))
	assert.Equal(t, "Products(5)", rec.ID())

	got, err := s.GetResource("Products", keys.Key{{Name: "Id", Value: int32(5)}}, "Demo.Product")
	require.NoError(t, err)
	assert.Same(t, rec, got)

	etag, err = s.ETag(got)
	require.NoError(t, err)
	assert.Equal(t, `W/"1"`, etag)

	// Stored type must be assignable to the requested one
	createProduct(t, s, "Demo.Product", 7, "Tea")
	require.NoError(t, s.SaveChanges(ctx))
	_, err = s.GetResource("Products", keys.Key{{Name: "Id", Value: int32(7)}}, "Demo.DiscountedProduct")
	assert.True(t, odataerr.Is(err, odataerr.CodeTypeMismatch))
}

func TestMemoryStore_CreateErrors(t *testing.T) {
	s := NewMemoryStore(testProvider(t))

	tests := []struct {
		name     string
		set      string
		typeName string
		code     odataerr.Code
	}{
		{"unknown type", "Products", "Demo.Nope", odataerr.CodeTypeNotFound},
		{"unknown set", "Nope", "Demo.Product", odataerr.CodeResourceNotFound},
		{"wrong set", "Categories", "Demo.Product", odataerr.CodeTypeMismatch},
		{"entity without set", "", "Demo.Product", odataerr.CodeInconsistentType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.CreateResource(tt.set, tt.typeName)
			assert.True(t, odataerr.Is(err, tt.code), "got %v", err)
		})
	}
}

func TestMemoryStore_SaveValidation(t *testing.T) {
	ctx := context.Background()

	s := NewMemoryStore(testProvider(t))
	res, err := s.CreateResource("Products", "Demo.Product")
	require.NoError(t, err)
	require.NoError(t, s.SetValue(res, "Name", "no key"))
	err = s.SaveChanges(ctx)
	assert.True(t, odataerr.Is(err, odataerr.CodeNullKey))

	s = NewMemoryStore(testProvider(t))
	createProduct(t, s, "Demo.Product", 1, "a")
	createProduct(t, s, "Demo.Product", 1, "b")
	err = s.SaveChanges(ctx)
	assert.True(t, odataerr.Is(err, odataerr.CodeInvalidValue))
	assert.Empty(t, s.Records(), "nothing is applied on failure")
}

func TestMemoryStore_ResetAndReferences(t *testing.T) {
	s := NewMemoryStore(testProvider(t))
	ctx := context.Background()

	product := createProduct(t, s, "Demo.Product", 1, "Chai")
	category, err := s.CreateResource("Categories", "Demo.Category")
	require.NoError(t, err)
	require.NoError(t, s.SetValue(category, "Id", int32(10)))
	order, err := s.CreateResource("Orders", "Demo.Order")
	require.NoError(t, err)
	require.NoError(t, s.SetValue(order, "OrderId", uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")))

	require.NoError(t, s.SetReference(product, "Category", category))
	require.NoError(t, s.AddReferenceToCollection(product, "Orders", order))
	require.NoError(t, s.AddReferenceToCollection(product, "Orders", order))
	require.NoError(t, s.SaveChanges(ctx))

	assert.Equal(t, map[string][]string{
		"Category": {"Categories(10)"},
		"Orders":   {"Orders(6ba7b810-9dad-11d1-80b4-00c04fd430c8)"},
	}, product.LinkIDs())

	related, err := s.Related(product, "Category")
	require.NoError(t, err)
	assert.Same(t, category, related)

	related, err = s.Related(product, "Orders")
	require.NoError(t, err)
	orders := related.(*writer.SliceEnumerator)
	assert.Equal(t, 1, orders.Len())

	require.NoError(t, s.SetReference(product, "Category", nil))
	related, err = s.Related(product, "Category")
	require.NoError(t, err)
	assert.Nil(t, related)

	reset, err := s.ResetResource(product)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"Id": int32(1)}, reset.(*Record).Values())
	assert.Empty(t, product.LinkIDs())

	require.NoError(t, s.SaveChanges(ctx))
	assert.Equal(t, int64(2), product.Version())
}

func TestMemoryStore_ClearChanges(t *testing.T) {
	s := NewMemoryStore(testProvider(t))
	ctx := context.Background()

	tea := createProduct(t, s, "Demo.Product", 7, "Tea")
	cat, err := s.CreateResource("Categories", "Demo.Category")
	require.NoError(t, err)
	require.NoError(t, s.SetValue(cat, "Id", int32(10)))
	require.NoError(t, s.SetReference(tea, "Category", cat))
	require.NoError(t, s.SetStream(tea, "image/png", strings.NewReader("png")))
	require.NoError(t, s.SaveChanges(ctx))

	// Changes to saved records and a new record, then thrown away
	require.NoError(t, s.SetValue(tea, "Name", "Green tea"))
	require.NoError(t, s.SetReference(tea, "Category", nil))
	require.NoError(t, s.SetStream(tea, "image/jpeg", strings.NewReader("jpg")))
	_, err = s.ResetResource(cat)
	require.NoError(t, err)
	createProduct(t, s, "Demo.Product", 8, "Coffee")

	s.ClearChanges()

	assert.Equal(t, "Tea", tea.Value("Name"))
	assert.Equal(t, []string{"Categories(10)"}, tea.LinkIDs()["Category"])
	assert.Equal(t, "image/png", tea.Media().ContentType)
	assert.Equal(t, int32(10), cat.(*Record).Value("Id"))

	require.NoError(t, s.SaveChanges(ctx))
	_, ok := s.Lookup("Products(8)")
	assert.False(t, ok, "cleared records are never indexed")
	assert.EqualValues(t, 1, tea.Version(), "nothing was left to commit")
	assert.Len(t, s.Entities("Products"), 1)

	// Later changes snapshot again from the committed state
	require.NoError(t, s.SetValue(tea, "Name", "Oolong"))
	require.NoError(t, s.SaveChanges(ctx))
	require.NoError(t, s.SetValue(tea, "Name", "Sencha"))
	s.ClearChanges()
	assert.Equal(t, "Oolong", tea.Value("Name"))
}

func TestMemoryStore_ComplexValues(t *testing.T) {
	s := NewMemoryStore(testProvider(t))

	address, err := s.CreateResource("", "Demo.Address")
	require.NoError(t, err)
	require.NoError(t, s.SetValue(address, "City", "Oslo"))
	city, err := s.GetValue(address, "City")
	require.NoError(t, err)
	assert.Equal(t, "Oslo", city)

	resolved, err := s.ResolveResource(address)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"City": "Oslo"}, resolved)

	_, err = s.ETag(address)
	assert.Equal(t, odataerr.KindProvider, odataerr.KindOf(err))
}

func TestMemoryStore_SourceAndPaging(t *testing.T) {
	s := NewMemoryStore(testProvider(t))
	ctx := context.Background()
	for i := int32(1); i <= 5; i++ {
		createProduct(t, s, "Demo.Product", i, "p")
	}
	supplier, err := s.CreateResource("Suppliers", "Demo.Supplier")
	require.NoError(t, err)
	require.NoError(t, s.SetValue(supplier, "Code", "ACME"))
	require.NoError(t, s.SetValue(supplier, "Rating", int64(4)))
	require.NoError(t, s.SetValue(supplier, "Country", "NO"))
	require.NoError(t, s.SaveChanges(ctx))

	open, err := s.OpenProperties(supplier)
	require.NoError(t, err)
	assert.Equal(t, []string{"Country", "Rating"}, open)

	typeName, err := s.TypeName(supplier)
	require.NoError(t, err)
	assert.Equal(t, "Demo.Supplier", typeName)

	page, err := s.Page("Products", "", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Len())
	assert.True(t, page.HasMore())

	page, err = s.Page("Products", "2", 2)
	require.NoError(t, err)
	require.True(t, page.Next())
	assert.Equal(t, int32(3), page.Current().(*Record).Value("Id"))
	assert.True(t, page.HasMore())

	page, err = s.Page("Products", "4", 2)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Len())
	assert.False(t, page.HasMore())

	_, err = s.Page("Products", "99", 2)
	assert.True(t, odataerr.IsClientError(err))
}

func TestMemoryStore_Stream(t *testing.T) {
	s := NewMemoryStore(testProvider(t))
	photo, err := s.CreateResource("Photos", "Demo.Photo")
	require.NoError(t, err)
	require.NoError(t, s.SetValue(photo, "Id", int64(1)))

	_, ok, err := s.Stream(photo)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetStream(photo, "image/png", strings.NewReader("png-bytes")))
	require.NoError(t, s.SaveChanges(context.Background()))

	stream, ok, err := s.Stream(photo)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "image/png", stream.ContentType)
	assert.Equal(t, `"1"`, stream.ETag)
	assert.Equal(t, []byte("png-bytes"), photo.(*Record).Media().Data)
}

func TestMarshalValues(t *testing.T) {
	p := testProvider(t)
	values := map[string]any{
		"Id":      int32(5),
		"Price":   event.Number("10.50"),
		"Tags":    []any{"a", "b"},
		"Address": map[string]any{"City": "Oslo", "Location": map[string]any{"Lat": 59.9, "Lon": 10.7}},
	}
	data, err := MarshalValues(values)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Address":{"City":"Oslo","Location":{"Lat":59.9,"Lon":10.7}},"Id":5,"Price":10.50,"Tags":["a","b"]}`, string(data))

	decoded, err := UnmarshalValues(p, "Demo.Product", data)
	require.NoError(t, err)
	assert.Equal(t, int32(5), decoded["Id"])
	assert.Equal(t, event.Number("10.5"), decoded["Price"])
	assert.Equal(t, []any{"a", "b"}, decoded["Tags"])
	assert.Equal(t, map[string]any{"City": "Oslo", "Location": map[string]any{"Lat": 59.9, "Lon": 10.7}}, decoded["Address"])
}
