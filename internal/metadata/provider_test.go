package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zmcp/odata-codec/internal/event"
)

func TestProvider_ResolveType(t *testing.T) {
	p := NewProvider(loadFixture(t, "products_v4.xml"))

	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{"qualified", "Demo.Product", "Demo.Product", true},
		{"hash prefix", "#Demo.DiscountedProduct", "Demo.DiscountedProduct", true},
		{"unqualified unique", "Category", "Demo.Category", true},
		{"case sensitive", "demo.product", "", false},
		{"unknown", "Demo.Missing", "", false},
		{"empty", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := p.ResolveType(tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got.FullName())
			}
		})
	}
}

func TestProvider_Inheritance(t *testing.T) {
	p := NewProvider(loadFixture(t, "products_v4.xml"))
	product, _ := p.ResolveType("Demo.Product")
	discounted, _ := p.ResolveType("Demo.DiscountedProduct")
	category, _ := p.ResolveType("Demo.Category")

	assert.True(t, p.HasDerivedTypes(product))
	assert.False(t, p.HasDerivedTypes(discounted))
	assert.Equal(t, []string{"Demo.DiscountedProduct"}, p.DerivedTypes(product))

	assert.True(t, p.IsAssignableFrom(product, discounted))
	assert.True(t, p.IsAssignableFrom(product, product))
	assert.False(t, p.IsAssignableFrom(discounted, product))
	assert.False(t, p.IsAssignableFrom(product, category))

	// Inherited properties come first
	props := p.Properties(discounted)
	require.Len(t, props, 8)
	assert.Equal(t, "Id", props[0].Name)
	assert.Equal(t, "Discount", props[7].Name)

	keys := p.KeyProperties(discounted)
	require.Len(t, keys, 1)
	assert.Equal(t, "Id", keys[0].Name)

	nav, ok := p.FindNavigationProperty(discounted, "Orders")
	require.True(t, ok)
	assert.True(t, nav.IsCollection())

	_, ok = p.FindProperty(discounted, "discount")
	assert.False(t, ok)
}

func TestProvider_CompositeKey(t *testing.T) {
	p := NewProvider(loadFixture(t, "products_v4.xml"))
	detail, _ := p.ResolveType("Demo.OrderDetail")

	keys := p.KeyProperties(detail)
	require.Len(t, keys, 2)
	assert.Equal(t, "OrderId", keys[0].Name)
	assert.Equal(t, "ProductId", keys[1].Name)
}

func TestProvider_NavigationTarget(t *testing.T) {
	p := NewProvider(loadFixture(t, "products_v4.xml"))
	products, _ := p.EntitySet("Products")
	categories, _ := p.EntitySet("Categories")
	productType, _ := p.EntitySetType(products)
	categoryType, _ := p.EntitySetType(categories)

	nav, _ := p.FindNavigationProperty(productType, "Category")
	target, ok := p.NavigationTarget(products, nav)
	require.True(t, ok)
	assert.Equal(t, "Categories", target.Name)

	parent, _ := p.FindNavigationProperty(categoryType, "Parent")
	target, ok = p.NavigationTarget(categories, parent)
	require.True(t, ok)
	assert.Equal(t, "Categories", target.Name)

	// Without a binding the only set of the target type is used
	orders, _ := p.FindNavigationProperty(productType, "Orders")
	target, ok = p.NavigationTarget(nil, orders)
	require.True(t, ok)
	assert.Equal(t, "Orders", target.Name)
}

func TestProvider_BindableActions(t *testing.T) {
	p := NewProvider(loadFixture(t, "products_v4.xml"))
	product, _ := p.ResolveType("Demo.Product")
	discounted, _ := p.ResolveType("Demo.DiscountedProduct")
	category, _ := p.ResolveType("Demo.Category")

	actions := p.BindableActions(product)
	require.Len(t, actions, 1)
	assert.Equal(t, "Demo.Discount", actions[0].FullName())

	actions = p.BindableActions(discounted)
	require.Len(t, actions, 2)
	assert.Equal(t, "Demo.Approve", actions[0].FullName())
	assert.Equal(t, "Demo.Discount", actions[1].FullName())

	assert.Empty(t, p.BindableActions(category))
}

func TestProvider_PropertyInfo(t *testing.T) {
	p := NewProvider(loadFixture(t, "products_v4.xml"))

	tests := []struct {
		property string
		want     event.PropertyInfo
	}{
		{"Id", event.PropertyInfo{Shape: event.ShapePrimitive, TypeName: "Edm.Int32"}},
		{"Tags", event.PropertyInfo{Shape: event.ShapePrimitive, TypeName: "Edm.String", IsCollection: true}},
		{"Address", event.PropertyInfo{Shape: event.ShapeComplex, TypeName: "Demo.Address"}},
		{"Category", event.PropertyInfo{Shape: event.ShapeNavigation, TypeName: "Demo.Category"}},
		{"Orders", event.PropertyInfo{Shape: event.ShapeNavigation, TypeName: "Demo.Order", IsCollection: true}},
		{"Dynamic", event.PropertyInfo{}},
	}
	for _, tt := range tests {
		t.Run(tt.property, func(t *testing.T) {
			assert.Equal(t, tt.want, p.PropertyInfo("Demo.DiscountedProduct", tt.property))
		})
	}
	assert.Equal(t, event.PropertyInfo{}, p.PropertyInfo("Demo.Missing", "Id"))
}
