package reader

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zmcp/odata-codec/internal/event"
)

func entryTree() topLevel {
	return topLevel{nodeEntry: true}
}

func TestCapture_NestedChildrenSurviveArenaGrowth(t *testing.T) {
	product := &event.Resource{TypeName: "Demo.Product"}
	category := &event.NestedInfo{Name: "Category"}
	orders := &event.NestedInfo{Name: "Orders", IsCollection: true}
	feed := &event.ResourceSet{}
	order := &event.Resource{TypeName: "Demo.Order"}
	address := &event.NestedInfo{Name: "Address", IsComplex: true}
	city := &event.Resource{TypeName: "Demo.Address"}

	events := []event.Event{
		{State: event.StateResourceStart, Item: product},
		{State: event.StateNestedInfoStart, Item: category},
		{State: event.StateEntityReferenceLink, Item: &event.EntityReferenceLink{URL: "Categories(1)"}},
		{State: event.StateNestedInfoEnd, Item: category},
		{State: event.StateNestedInfoStart, Item: orders},
		{State: event.StateResourceSetStart, Item: feed},
		{State: event.StateResourceStart, Item: order},
		{State: event.StateResourceEnd, Item: order},
		{State: event.StateResourceSetEnd, Item: feed},
		{State: event.StateNestedInfoEnd, Item: orders},
		{State: event.StateNestedInfoStart, Item: address},
		{State: event.StateResourceStart, Item: city},
		{State: event.StateResourceEnd, Item: city},
		{State: event.StateNestedInfoEnd, Item: address},
		{State: event.StateResourceEnd, Item: product},
	}

	tr, err := capture(context.Background(), event.NewSliceReader(events), captureOptions{maxDepth: 10, allowed: entryTree()})
	require.NoError(t, err)

	root := tr.node(tr.root)
	require.Len(t, root.children, 3)

	names := make([]string, 0, 3)
	for _, idx := range root.children {
		child := tr.node(idx)
		require.Equal(t, nodeNested, child.kind)
		require.Len(t, child.children, 1, "children of %s", child.info.Name)
		names = append(names, child.info.Name)
	}
	assert.Equal(t, []string{"Category", "Orders", "Address"}, names)

	link := tr.node(tr.node(root.children[0]).children[0])
	assert.Equal(t, nodeLink, link.kind)
	assert.Equal(t, "Categories(1)", link.link.URL)

	feedNode := tr.node(tr.node(root.children[1]).children[0])
	require.Equal(t, nodeFeed, feedNode.kind)
	require.Len(t, feedNode.children, 1)
	assert.Same(t, order, tr.node(feedNode.children[0]).entry)
}

func TestCapture_DepthLimit(t *testing.T) {
	product := &event.Resource{TypeName: "Demo.Product"}
	category := &event.NestedInfo{Name: "Category"}
	inner := &event.Resource{TypeName: "Demo.Category"}
	events := []event.Event{
		{State: event.StateResourceStart, Item: product},
		{State: event.StateNestedInfoStart, Item: category},
		{State: event.StateResourceStart, Item: inner},
		{State: event.StateResourceEnd, Item: inner},
		{State: event.StateNestedInfoEnd, Item: category},
		{State: event.StateResourceEnd, Item: product},
	}

	_, err := capture(context.Background(), event.NewSliceReader(events), captureOptions{maxDepth: 2, allowed: entryTree()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nesting exceeds")
}
