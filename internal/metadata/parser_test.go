package metadata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zmcp/odata-codec/internal/models"
)

func loadFixture(t *testing.T, name string) *models.ODataMetadata {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	meta, err := ParseMetadata(data, "http://host/service/")
	require.NoError(t, err)
	return meta
}

// TestParseMetadataV4 checks types, inheritance, bindings and bound actions
func TestParseMetadataV4(t *testing.T) {
	meta := loadFixture(t, "products_v4.xml")

	assert.Equal(t, "4.0", meta.Version)
	assert.Equal(t, "Demo", meta.SchemaNamespace)
	assert.Equal(t, "Container", meta.ContainerName)
	assert.Equal(t, "http://host/service/", meta.ServiceRoot)

	summary := meta.Summary()
	assert.Equal(t, 7, summary.EntityTypes)
	assert.Equal(t, 2, summary.ComplexTypes)
	assert.Equal(t, 6, summary.EntitySets)
	assert.Equal(t, 3, summary.Actions)

	// Alias references are resolved to the schema namespace
	discounted := meta.Types["Demo.DiscountedProduct"]
	require.NotNil(t, discounted)
	assert.Equal(t, "Demo.Product", discounted.BaseType)

	product := meta.Types["Demo.Product"]
	require.NotNil(t, product)
	assert.Equal(t, []string{"Id"}, product.KeyProperties)

	kinds := make(map[string]models.PropertyKind)
	for _, prop := range product.Properties {
		kinds[prop.Name] = prop.Kind
	}
	assert.Equal(t, models.PropertyKindPrimitive, kinds["Id"])
	assert.Equal(t, models.PropertyKindPrimitive, kinds["Color"])
	assert.Equal(t, models.PropertyKindComplex, kinds["Address"])
	assert.Equal(t, models.PropertyKindPrimitive, kinds["Tags"])

	tags := product.Properties[5]
	assert.Equal(t, "Tags", tags.Name)
	assert.True(t, tags.IsCollection)
	assert.Equal(t, "Edm.String", tags.ElementType())

	orders := product.NavigationProps[1]
	assert.Equal(t, "Orders", orders.Name)
	assert.True(t, orders.IsCollection())
	assert.Equal(t, "Demo.Order", orders.TargetType())

	assert.True(t, meta.Types["Demo.Photo"].HasStream)
	assert.True(t, meta.Types["Demo.Supplier"].OpenType)

	products := meta.EntitySets["Products"]
	require.NotNil(t, products)
	assert.Equal(t, "Demo.Product", products.EntityType)
	assert.Equal(t, "Categories", products.NavigationBindings["Category"])

	discount := meta.Actions["Demo.Discount"]
	require.NotNil(t, discount)
	assert.Equal(t, "Demo.Product", discount.BindingType)
	require.Len(t, discount.Parameters, 1)
	assert.Equal(t, "Percentage", discount.Parameters[0].Name)
	restock := meta.Actions["Demo.Restock"]
	require.NotNil(t, restock)
	assert.Equal(t, "Collection(Demo.Product)", restock.BindingType)

	top := meta.FunctionImports["TopProducts"]
	require.NotNil(t, top)
	assert.Equal(t, "Collection(Demo.Product)", top.ReturnType)
	assert.Equal(t, "GET", top.HTTPMethod)
	reset := meta.FunctionImports["ResetAll"]
	require.NotNil(t, reset)
	assert.True(t, reset.IsAction)
	assert.Equal(t, []string{"ResetAll (action)", "TopProducts"}, meta.OperationImports())
}

// TestParseMetadataV2 checks association-based navigation and m:HasStream
func TestParseMetadataV2(t *testing.T) {
	meta := loadFixture(t, "northwind_v2.xml")

	assert.Equal(t, "1.0", meta.Version)
	assert.Equal(t, "NorthwindEntities", meta.ContainerName)

	product := meta.Types["NorthwindModel.Product"]
	require.NotNil(t, product)
	assert.True(t, product.HasStream)
	require.Len(t, product.NavigationProps, 1)
	assert.Equal(t, "NorthwindModel.Category", product.NavigationProps[0].Type)
	assert.False(t, product.NavigationProps[0].IsCollection())

	category := meta.Types["NorthwindModel.Category"]
	require.NotNil(t, category)
	assert.Equal(t, "Collection(NorthwindModel.Product)", category.NavigationProps[0].Type)

	for _, prop := range product.Properties {
		if prop.Name == "Origin" {
			assert.Equal(t, models.PropertyKindComplex, prop.Kind)
		}
	}

	assert.Equal(t, "Categories", meta.EntitySets["Products"].NavigationBindings["Category"])
	assert.Equal(t, "Products", meta.EntitySets["Categories"].NavigationBindings["Products"])

	fn := meta.FunctionImports["ProductsByCategory"]
	require.NotNil(t, fn)
	assert.Equal(t, "GET", fn.HTTPMethod)
	require.Len(t, fn.Parameters, 1)
	assert.Equal(t, "In", fn.Parameters[0].Mode)
	assert.Equal(t, []string{"ProductsByCategory"}, meta.OperationImports())
}

func TestParseMetadataErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not xml", "not xml"},
		{"no schema", `<edmx:Edmx Version="1.0" xmlns:edmx="x"><edmx:DataServices/></edmx:Edmx>`},
		{"no container v4", `<edmx:Edmx Version="4.0" xmlns:edmx="x"><edmx:DataServices><Schema Namespace="A"/></edmx:DataServices></edmx:Edmx>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMetadata([]byte(tt.data), "")
			assert.Error(t, err)
		})
	}
}

func TestResolveAlias(t *testing.T) {
	aliases := map[string]string{"D": "Demo"}
	assert.Equal(t, "Demo.Product", resolveAlias("D.Product", aliases))
	assert.Equal(t, "Collection(Demo.Order)", resolveAlias("Collection(D.Order)", aliases))
	assert.Equal(t, "Edm.String", resolveAlias("Edm.String", aliases))
	assert.Equal(t, "Other.Type", resolveAlias("Other.Type", aliases))
	assert.Equal(t, "", resolveAlias("", aliases))
}
