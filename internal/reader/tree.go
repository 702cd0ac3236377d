package reader

import (
	"context"

	"github.com/zmcp/odata-codec/internal/event"
	"github.com/zmcp/odata-codec/internal/odataerr"
)

type nodeKind int

const (
	nodeEntry nodeKind = iota
	nodeFeed
	nodeNested
	nodeLink
	nodeValue
)

func (k nodeKind) String() string {
	switch k {
	case nodeEntry:
		return "entry"
	case nodeFeed:
		return "feed"
	case nodeNested:
		return "nested info"
	case nodeLink:
		return "reference link"
	default:
		return "value"
	}
}

// node is one captured item. Children are arena indexes in wire order.
type node struct {
	kind     nodeKind
	entry    *event.Resource
	feed     *event.ResourceSet
	info     *event.NestedInfo
	link     *event.EntityReferenceLink
	value    *event.Value
	children []int
}

// tree is the arena built by phase one. Nodes refer to each other by index
// only; there are no parent pointers.
type tree struct {
	nodes []node
	root  int
}

func (t *tree) add(n node) int {
	t.nodes = append(t.nodes, n)
	return len(t.nodes) - 1
}

func (t *tree) node(idx int) *node {
	return &t.nodes[idx]
}

// topLevel lists which kinds a payload may start with
type topLevel map[nodeKind]bool

// captureOptions drives phase one
type captureOptions struct {
	maxDepth int
	allowed  topLevel
	// onRoot runs as soon as a top-level entry starts, before any nested
	// content is read
	onRoot func(root *event.Resource) error
}

// capture drives r to completion and records the nesting it describes
func capture(ctx context.Context, r event.Reader, opts captureOptions) (*tree, error) {
	t := &tree{root: -1}
	var stack []int

	push := func(idx int) error {
		if len(stack) >= opts.maxDepth {
			return odataerr.BadRequest(odataerr.CodeRecursionLimit, "",
				"payload nesting exceeds the limit of %d", opts.maxDepth)
		}
		stack = append(stack, idx)
		return nil
	}
	top := func() *node {
		if len(stack) == 0 {
			return nil
		}
		return t.node(stack[len(stack)-1])
	}
	pop := func(kind nodeKind, item event.Item) error {
		n := top()
		if n == nil || n.kind != kind || !sameItem(n, item) {
			return odataerr.Defect(odataerr.CodeNestingMismatch, "%s end does not match the open item", kind)
		}
		stack = stack[:len(stack)-1]
		return nil
	}
	// adopt appends idx to the open item. The parent is looked up by index
	// because add may move the arena.
	adopt := func(idx int) {
		parent := t.node(stack[len(stack)-1])
		parent.children = append(parent.children, idx)
	}
	attachTopLevel := func(idx int, kind nodeKind) error {
		if t.root >= 0 || !opts.allowed[kind] {
			return odataerr.Defect(odataerr.CodeUnexpectedState, "unexpected top-level %s", kind)
		}
		t.root = idx
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ok, err := r.Read()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}

		switch r.State() {
		case event.StateResourceStart:
			res, _ := r.Item().(*event.Resource)
			idx := t.add(node{kind: nodeEntry, entry: res})
			if parent := top(); parent == nil {
				if err := attachTopLevel(idx, nodeEntry); err != nil {
					return nil, err
				}
			} else {
				switch {
				case parent.kind == nodeFeed:
				case parent.kind == nodeNested && parent.info.IsCollection:
					return nil, odataerr.Defect(odataerr.CodeNestingMismatch,
						"entry directly inside collection nested info %s", parent.info.Name)
				case parent.kind == nodeNested:
					if len(parent.children) > 0 {
						return nil, odataerr.Defect(odataerr.CodeNestingMismatch,
							"single-valued nested info %s has more than one entry", parent.info.Name)
					}
				default:
					return nil, odataerr.Defect(odataerr.CodeNestingMismatch, "entry inside %s", parent.kind)
				}
				adopt(idx)
			}
			if err := push(idx); err != nil {
				return nil, err
			}
			if idx == t.root && opts.onRoot != nil {
				if err := opts.onRoot(res); err != nil {
					return nil, err
				}
			}

		case event.StateResourceEnd:
			if err := pop(nodeEntry, r.Item()); err != nil {
				return nil, err
			}

		case event.StateNestedInfoStart:
			info, ok := r.Item().(*event.NestedInfo)
			if parent := top(); !ok || parent == nil || parent.kind != nodeEntry || parent.entry == nil {
				return nil, odataerr.Defect(odataerr.CodeNestingMismatch, "nested info outside an entry")
			}
			idx := t.add(node{kind: nodeNested, info: info})
			adopt(idx)
			if err := push(idx); err != nil {
				return nil, err
			}

		case event.StateNestedInfoEnd:
			if err := pop(nodeNested, r.Item()); err != nil {
				return nil, err
			}

		case event.StateResourceSetStart:
			set, _ := r.Item().(*event.ResourceSet)
			idx := t.add(node{kind: nodeFeed, feed: set})
			if parent := top(); parent == nil {
				if err := attachTopLevel(idx, nodeFeed); err != nil {
					return nil, err
				}
			} else {
				if parent.kind != nodeNested || !parent.info.IsCollection {
					return nil, odataerr.Defect(odataerr.CodeNestingMismatch, "feed must be inside a collection nested info")
				}
				adopt(idx)
			}
			if err := push(idx); err != nil {
				return nil, err
			}

		case event.StateResourceSetEnd:
			if err := pop(nodeFeed, r.Item()); err != nil {
				return nil, err
			}

		case event.StateEntityReferenceLink:
			link, _ := r.Item().(*event.EntityReferenceLink)
			idx := t.add(node{kind: nodeLink, link: link})
			parent := top()
			switch {
			case parent == nil:
				if err := attachTopLevel(idx, nodeLink); err != nil {
					return nil, err
				}
			case parent.kind == nodeNested || (parent.kind == nodeFeed && len(stack) == 1):
				// Links never open a scope
				adopt(idx)
			default:
				return nil, odataerr.Defect(odataerr.CodeNestingMismatch, "reference link inside %s", parent.kind)
			}

		case event.StateValue:
			value, _ := r.Item().(*event.Value)
			idx := t.add(node{kind: nodeValue, value: value})
			if len(stack) != 0 {
				return nil, odataerr.Defect(odataerr.CodeUnexpectedState, "value inside a structured payload")
			}
			if err := attachTopLevel(idx, nodeValue); err != nil {
				return nil, err
			}

		default:
			return nil, odataerr.Defect(odataerr.CodeUnexpectedState, "unexpected reader state %s", r.State())
		}
	}

	if len(stack) != 0 {
		return nil, odataerr.Defect(odataerr.CodeNestingMismatch, "%d items left open", len(stack))
	}
	if t.root < 0 {
		return nil, odataerr.BadRequest(odataerr.CodeUnexpectedState, "", "empty payload")
	}
	if r.Format() != event.FormatJSON {
		return nil, odataerr.Defect(odataerr.CodeUnexpectedFormat, "reader format %d is not JSON", r.Format())
	}
	return t, nil
}

func sameItem(n *node, item event.Item) bool {
	switch it := item.(type) {
	case *event.Resource:
		return n.entry == it
	case *event.NestedInfo:
		return n.info == it
	case *event.ResourceSet:
		return n.feed == it
	}
	return item == nil && n.entry == nil
}
