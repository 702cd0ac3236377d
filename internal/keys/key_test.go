package keys

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zmcp/odata-codec/internal/event"
	"github.com/zmcp/odata-codec/internal/models"
	"github.com/zmcp/odata-codec/internal/odataerr"
)

const root = "http://host/service/"

func values(m map[string]any) (ValueFunc, *int) {
	calls := 0
	return func(name string) (any, error) {
		calls++
		return m[name], nil
	}, &calls
}

func TestSerializedEntityKey(t *testing.T) {
	value, calls := values(map[string]any{"Id": int32(5)})
	k := New(root, "Products", []string{"Id"}, value, "Demo.DiscountedProduct")

	// Nothing is computed up front
	assert.Equal(t, 0, *calls)

	rel, err := k.RelativeEditLink()
	require.NoError(t, err)
	assert.Equal(t, "Products(5)/Demo.DiscountedProduct", rel)

	abs, err := k.AbsoluteEditLink()
	require.NoError(t, err)
	assert.Equal(t, "http://host/service/Products(5)/Demo.DiscountedProduct", abs)

	noSuffix, err := k.AbsoluteEditLinkWithoutSuffix()
	require.NoError(t, err)
	assert.Equal(t, "http://host/service/Products(5)", noSuffix)

	id, err := k.Identity()
	require.NoError(t, err)
	assert.Equal(t, "http://host/service/Products(5)", id)

	_, _ = k.RelativeEditLink()
	_, _ = k.Identity()
	assert.Equal(t, 1, *calls)
}

func TestSerializedEntityKey_CompositeAndEscaping(t *testing.T) {
	guid := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	value, _ := values(map[string]any{"OrderId": guid, "Name": "O'Neil / Co"})
	k := New("", "OrderDetails", []string{"OrderId", "Name"}, value, "")

	rel, err := k.RelativeEditLink()
	require.NoError(t, err)
	assert.Equal(t, "OrderDetails(OrderId=6ba7b810-9dad-11d1-80b4-00c04fd430c8,Name='O''Neil%20%2F%20Co')", rel)

	abs, err := k.AbsoluteEditLink()
	require.NoError(t, err)
	assert.Equal(t, rel, abs)
}

func TestSerializedEntityKey_NullKeyIsMemoizedError(t *testing.T) {
	value, calls := values(map[string]any{"Id": nil})
	k := New(root, "Products", []string{"Id"}, value, "")

	_, err := k.Identity()
	require.Error(t, err)
	assert.True(t, odataerr.Is(err, odataerr.CodeNullKey))
	assert.True(t, odataerr.IsClientError(err))

	_, err = k.RelativeEditLink()
	assert.True(t, odataerr.Is(err, odataerr.CodeNullKey))
	assert.Equal(t, 1, *calls)
}

func TestSerializedEntityKey_ValueError(t *testing.T) {
	boom := errors.New("store offline")
	k := New(root, "Products", []string{"Id"}, func(string) (any, error) { return nil, boom }, "")
	_, err := k.AbsoluteEditLink()
	assert.ErrorIs(t, err, boom)

	k = New(root, "Products", nil, func(string) (any, error) { return 1, nil }, "")
	_, err = k.Identity()
	assert.True(t, odataerr.Is(err, odataerr.CodeKeyMissing))
}

func TestFormatLiteral(t *testing.T) {
	tests := []struct {
		name     string
		value    any
		expected string
	}{
		{"int", int32(5), "5"},
		{"int64", int64(-12), "-12"},
		{"decimal", event.Number("10.5"), "10.5"},
		{"string", "Chai", "'Chai'"},
		{"quoted string", "it's", "'it''s'"},
		{"bool", true, "true"},
		{"guid", uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"), "6ba7b810-9dad-11d1-80b4-00c04fd430c8"},
		{"time", time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), "2024-05-01T12:00:00Z"},
		{"binary", []byte("hi"), "binary'aGk='"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FormatLiteral("K", tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}

	_, err := FormatLiteral("K", struct{}{})
	assert.Equal(t, odataerr.KindProvider, odataerr.KindOf(err))
}

func TestSkipTokenAndNextLink(t *testing.T) {
	token, err := SkipToken(Key{{"A", int32(1)}, {"B", "x y"}})
	require.NoError(t, err)
	assert.Equal(t, "1,'x y'", token)

	assert.Equal(t, "Products?$skiptoken=1%2C%27x+y%27", NextLink("Products", token))
	assert.Equal(t, "Products?$top=5&$skiptoken=7", NextLink("Products?$top=5", "7"))
}

func TestParseLink(t *testing.T) {
	intKey := []*models.EntityProperty{{Name: "Id", Type: "Edm.Int32"}}
	composite := []*models.EntityProperty{
		{Name: "OrderId", Type: "Edm.Guid"},
		{Name: "Name", Type: "Edm.String"},
	}

	tests := []struct {
		name     string
		link     string
		keyProps []*models.EntityProperty
		set      string
		cast     string
		key      Key
	}{
		{"relative", "Products(5)", intKey, "Products", "", Key{{"Id", int32(5)}}},
		{"absolute under root", "http://host/service/Products(7)", intKey, "Products", "", Key{{"Id", int32(7)}}},
		{"foreign host", "https://other/svc/Products(8)", intKey, "Products", "", Key{{"Id", int32(8)}}},
		{"named single key", "Products(Id=9)", intKey, "Products", "", Key{{"Id", int32(9)}}},
		{"type cast", "Products(5)/Demo.DiscountedProduct", intKey, "Products", "Demo.DiscountedProduct", Key{{"Id", int32(5)}}},
		{
			"composite reordered and escaped",
			"OrderDetails(Name='O''Neil%20Co',OrderId=6ba7b810-9dad-11d1-80b4-00c04fd430c8)",
			composite, "OrderDetails", "",
			Key{{"OrderId", uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")}, {"Name", "O'Neil Co"}},
		},
		{"v2 guid literal", "OrderDetails(OrderId=guid'6ba7b810-9dad-11d1-80b4-00c04fd430c8',Name='a,b')", composite, "OrderDetails", "",
			Key{{"OrderId", uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")}, {"Name", "a,b"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link, err := ParseLink(tt.link, root)
			require.NoError(t, err)
			assert.Equal(t, tt.set, link.SetName)
			assert.Equal(t, tt.cast, link.TypeCast)

			key, err := link.Key(tt.keyProps)
			require.NoError(t, err)
			assert.Equal(t, tt.key, key)
		})
	}
}

func TestParseLinkRoundTrip(t *testing.T) {
	value, _ := values(map[string]any{"Id": int32(42)})
	id, err := New(root, "Products", []string{"Id"}, value, "").Identity()
	require.NoError(t, err)

	link, err := ParseLink(id, root)
	require.NoError(t, err)
	key, err := link.Key([]*models.EntityProperty{{Name: "Id", Type: "Edm.Int32"}})
	require.NoError(t, err)
	expr, err := key.Expression()
	require.NoError(t, err)
	assert.Equal(t, "42", expr)
}

func TestParseLinkErrors(t *testing.T) {
	intKey := []*models.EntityProperty{{Name: "Id", Type: "Edm.Int32"}}
	tests := []struct {
		name string
		link string
	}{
		{"no key", "Products"},
		{"empty key", "Products()"},
		{"navigation after key", "Products(1)/Category"},
		{"unterminated", "Products(1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseLink(tt.link, root)
			assert.True(t, odataerr.Is(err, odataerr.CodeInvalidLink), "got %v", err)
		})
	}

	keyTests := []struct {
		name string
		link string
		code odataerr.Code
	}{
		{"wrong type", "Products('x')", odataerr.CodeInvalidLink},
		{"too many values", "Products(1,2)", odataerr.CodeInvalidLink},
		{"null", "Products(null)", odataerr.CodeNullKey},
		{"wrong name", "Products(Other=1)", odataerr.CodeInvalidLink},
	}
	for _, tt := range keyTests {
		t.Run(tt.name, func(t *testing.T) {
			link, err := ParseLink(tt.link, root)
			require.NoError(t, err)
			_, err = link.Key(intKey)
			assert.True(t, odataerr.Is(err, tt.code), "got %v", err)
		})
	}
}
