package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zmcp/odata-codec/internal/keys"
	"github.com/zmcp/odata-codec/internal/models"
)

func TestDescriptor(t *testing.T) {
	set := &models.EntitySet{Name: "Products", EntityType: "Demo.Product"}
	product := &models.ResourceType{Name: "Product", Namespace: "Demo"}

	all := EntitySet(set, product, "http://host/service/Products")
	assert.Equal(t, TargetResource, all.TargetKind())
	assert.False(t, all.SingleResult())
	assert.False(t, all.HasKey())
	assert.Nil(t, all.Key())
	assert.Equal(t, "Products", all.Identifier())
	assert.Equal(t, "Products", all.ContainerName())
	assert.Same(t, product, all.TargetType())

	single := all.AsSingle()
	assert.NotSame(t, all, single)
	assert.True(t, single.SingleResult())
	assert.False(t, all.SingleResult(), "original must not change")
	assert.Same(t, single, single.AsSingle())
	assert.Equal(t, all.RequestURI(), single.RequestURI())

	one := Entity(set, product, keys.Key{{Name: "Id", Value: int32(5)}}, "")
	assert.True(t, one.SingleResult())
	assert.True(t, one.HasKey())

	key := one.Key()
	key[0].Value = int32(6)
	assert.Equal(t, int32(5), one.Key()[0].Value, "key is copied out")
}

func TestDescriptor_KeyImpliesSingle(t *testing.T) {
	d := New(TargetResource, Options{Key: keys.Key{{Name: "Id", Value: 1}}})
	assert.True(t, d.SingleResult())
	assert.Equal(t, "", d.ContainerName())
}

func TestTargetKindString(t *testing.T) {
	assert.Equal(t, "MediaResource", TargetMediaResource.String())
	assert.Equal(t, "OpenPropertyValue", TargetOpenPropertyValue.String())
	assert.Equal(t, "TargetKind(42)", TargetKind(42).String())
	assert.Equal(t, "Primitive Name single", New(TargetPrimitive, Options{Identifier: "Name", SingleResult: true}).String())
}
