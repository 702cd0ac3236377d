package event

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/go-json-experiment/json/jsontext"

	"github.com/zmcp/odata-codec/internal/constants"
)

// ReadMode selects which top-level payload shape a JSONReader expects
type ReadMode int

const (
	ReadResource ReadMode = iota
	ReadResourceSet
	ReadValue
	ReadReferenceLinks
)

// JSONReader reads one OData JSON payload and replays it as structural
// events. The payload is buffered with jsontext so member order is kept
// exactly as it appeared on the wire.
type JSONReader struct {
	SliceReader
}

// JSONReaderOptions configures NewJSONReader
type JSONReaderOptions struct {
	Mode ReadMode
	// ExpectedType is the qualified type of the top-level resource, used
	// when the payload carries no @odata.type annotation.
	ExpectedType string
	Schema       Schema
}

type jsonMember struct {
	name string
	node *jsonNode
}

type jsonNode struct {
	kind    jsontext.Kind
	value   any
	members []jsonMember
	items   []*jsonNode
}

// NewJSONReader decodes r and prepares the structural events it stands for
func NewJSONReader(r io.Reader, opts JSONReaderOptions) (*JSONReader, error) {
	dec := jsontext.NewDecoder(r)
	root, err := decodeNode(dec)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JSON payload: %w", err)
	}
	if _, err := dec.ReadToken(); err != io.EOF {
		return nil, fmt.Errorf("failed to parse JSON payload: unexpected data after top-level value")
	}

	g := &generator{schema: opts.Schema}
	switch opts.Mode {
	case ReadResource:
		if root.kind != '{' {
			return nil, fmt.Errorf("expected a JSON object for a resource payload")
		}
		if err := g.resource(root, opts.ExpectedType); err != nil {
			return nil, err
		}
	case ReadResourceSet:
		if err := g.topLevelSet(root, opts.ExpectedType); err != nil {
			return nil, err
		}
	case ReadValue:
		if err := g.topLevelValue(root, opts.ExpectedType); err != nil {
			return nil, err
		}
	case ReadReferenceLinks:
		if err := g.referenceLinks(root); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown read mode %d", opts.Mode)
	}

	return &JSONReader{SliceReader: *NewSliceReader(g.events)}, nil
}

// NewJSONReaderBytes is NewJSONReader over an in-memory payload
func NewJSONReaderBytes(data []byte, opts JSONReaderOptions) (*JSONReader, error) {
	return NewJSONReader(bytes.NewReader(data), opts)
}

func decodeNode(dec *jsontext.Decoder) (*jsonNode, error) {
	tok, err := dec.ReadToken()
	if err != nil {
		return nil, err
	}
	node := &jsonNode{kind: tok.Kind()}
	switch tok.Kind() {
	case '{':
		for dec.PeekKind() != '}' {
			tok, err := dec.ReadToken()
			if err != nil {
				return nil, err
			}
			// The token is voided by the next read
			name := tok.String()
			child, err := decodeNode(dec)
			if err != nil {
				return nil, err
			}
			node.members = append(node.members, jsonMember{name: name, node: child})
		}
		if _, err := dec.ReadToken(); err != nil {
			return nil, err
		}
	case '[':
		for dec.PeekKind() != ']' {
			child, err := decodeNode(dec)
			if err != nil {
				return nil, err
			}
			node.items = append(node.items, child)
		}
		if _, err := dec.ReadToken(); err != nil {
			return nil, err
		}
	case '"':
		node.value = tok.String()
	case '0':
		node.value = Number(tok.String())
	case 't', 'f':
		node.value = tok.Bool()
	case 'n':
		node.value = nil
	default:
		return nil, fmt.Errorf("unexpected JSON token %v", tok.Kind())
	}
	return node, nil
}

// primitive converts a scalar or array-of-scalars node to a Go value
func (n *jsonNode) primitive() any {
	switch n.kind {
	case '[':
		values := make([]any, 0, len(n.items))
		for _, item := range n.items {
			values = append(values, item.primitive())
		}
		return values
	case '{':
		values := make(map[string]any, len(n.members))
		for _, m := range n.members {
			values[m.name] = m.node.primitive()
		}
		return values
	default:
		return n.value
	}
}

func (n *jsonNode) member(name string) (*jsonNode, bool) {
	for _, m := range n.members {
		if m.name == name {
			return m.node, true
		}
	}
	return nil, false
}

type generator struct {
	schema Schema
	events []Event
}

func (g *generator) emit(state State, item Item) {
	g.events = append(g.events, Event{State: state, Item: item})
}

func (g *generator) info(typeName, property string) PropertyInfo {
	if g.schema == nil || typeName == "" {
		return PropertyInfo{}
	}
	return g.schema.PropertyInfo(typeName, property)
}

func (g *generator) resource(node *jsonNode, expectedType string) error {
	res := &Resource{}
	typeName := expectedType

	// Instance annotations first: the type name must be known at ResourceStart
	for _, m := range node.members {
		if strings.HasPrefix(m.name, "#") {
			res.Actions = append(res.Actions, readAction(m))
			continue
		}
		if !strings.HasPrefix(m.name, constants.ODataAnnotationPrefix) {
			continue
		}
		text, _ := m.node.value.(string)
		switch m.name {
		case constants.ODataContext:
			res.ContextURL = text
		case constants.ODataType:
			res.TypeName = strings.TrimPrefix(text, "#")
			typeName = res.TypeName
		case constants.ODataID:
			res.ID = text
		case constants.ODataETag:
			res.ETag = text
		case constants.ODataEditLink:
			res.EditLink = text
		case constants.ODataReadLink:
			res.ReadLink = text
		case constants.ODataMediaEditLink:
			g.stream(res).EditLink = text
		case constants.ODataMediaReadLink:
			g.stream(res).ReadLink = text
		case constants.ODataMediaContentType:
			g.stream(res).ContentType = text
		case constants.ODataMediaETag:
			g.stream(res).ETag = text
		}
	}
	g.emit(StateResourceStart, res)

	propertyTypes := make(map[string]string)
	for _, m := range node.members {
		if idx := strings.Index(m.name, "@"); idx > 0 {
			if m.name[idx:] == constants.ODataType {
				text, _ := m.node.value.(string)
				propertyTypes[m.name[:idx]] = strings.TrimPrefix(text, "#")
			}
		}
	}

	for _, m := range node.members {
		if strings.HasPrefix(m.name, constants.ODataAnnotationPrefix) || strings.HasPrefix(m.name, "#") {
			continue
		}
		if idx := strings.Index(m.name, "@"); idx > 0 {
			if m.name[idx:] == constants.ODataBind {
				if err := g.bind(m.name[:idx], m.node); err != nil {
					return err
				}
			}
			continue
		}

		info := g.info(typeName, m.name)
		switch {
		case m.node.kind == '{' && info.Shape != ShapePrimitive:
			nested := &NestedInfo{Name: m.name, IsComplex: info.Shape != ShapeNavigation}
			g.emit(StateNestedInfoStart, nested)
			if err := g.resource(m.node, info.TypeName); err != nil {
				return err
			}
			g.emit(StateNestedInfoEnd, nested)
		case m.node.kind == '[' && isStructuredArray(m.node, info):
			nested := &NestedInfo{Name: m.name, IsCollection: true, IsComplex: info.Shape == ShapeComplex}
			g.emit(StateNestedInfoStart, nested)
			set := &ResourceSet{}
			g.emit(StateResourceSetStart, set)
			for _, item := range m.node.items {
				switch item.kind {
				case '{':
					if err := g.resource(item, info.TypeName); err != nil {
						return err
					}
				case 'n':
					g.emit(StateResourceStart, (*Resource)(nil))
					g.emit(StateResourceEnd, (*Resource)(nil))
				default:
					return fmt.Errorf("property %s: collection items must be JSON objects or null", m.name)
				}
			}
			g.emit(StateResourceSetEnd, set)
			g.emit(StateNestedInfoEnd, nested)
		case m.node.kind == 'n' && (info.Shape == ShapeNavigation || info.Shape == ShapeComplex) && !info.IsCollection:
			nested := &NestedInfo{Name: m.name, IsComplex: info.Shape == ShapeComplex}
			g.emit(StateNestedInfoStart, nested)
			g.emit(StateResourceStart, (*Resource)(nil))
			g.emit(StateResourceEnd, (*Resource)(nil))
			g.emit(StateNestedInfoEnd, nested)
		default:
			typeName := propertyTypes[m.name]
			if typeName == "" {
				typeName = info.TypeName
				if info.IsCollection && typeName != "" {
					typeName = "Collection(" + typeName + ")"
				}
			}
			res.Properties = append(res.Properties, &Property{Name: m.name, Value: m.node.primitive(), TypeName: typeName})
		}
	}
	g.emit(StateResourceEnd, res)
	return nil
}

func readAction(m jsonMember) *Action {
	action := &Action{Metadata: m.name}
	if node, ok := m.node.member("title"); ok {
		action.Title, _ = node.value.(string)
	}
	if node, ok := m.node.member("target"); ok {
		action.Target, _ = node.value.(string)
	}
	return action
}

func (g *generator) bind(name string, node *jsonNode) error {
	var urls []string
	switch node.kind {
	case '[':
		for _, item := range node.items {
			if item.kind != '"' {
				return fmt.Errorf("%s%s: every item must be a URL string", name, constants.ODataBind)
			}
			urls = append(urls, item.value.(string))
		}
	case '"':
		urls = append(urls, node.value.(string))
	default:
		return fmt.Errorf("%s%s: expected a URL string or an array of them", name, constants.ODataBind)
	}

	nested := &NestedInfo{Name: name, IsCollection: node.kind == '['}
	g.emit(StateNestedInfoStart, nested)
	for _, url := range urls {
		g.emit(StateEntityReferenceLink, &EntityReferenceLink{URL: url})
	}
	g.emit(StateNestedInfoEnd, nested)
	return nil
}

func (g *generator) stream(res *Resource) *StreamInfo {
	if res.MediaResource == nil {
		res.MediaResource = &StreamInfo{}
	}
	return res.MediaResource
}

func (g *generator) topLevelSet(root *jsonNode, expectedType string) error {
	set := &ResourceSet{}
	items := root
	if root.kind == '{' {
		value, ok := root.member(constants.ODataValue)
		if !ok || value.kind != '[' {
			return fmt.Errorf("expected a \"value\" array for a resource set payload")
		}
		items = value
		if next, ok := root.member(constants.ODataNextLink); ok {
			set.NextLink, _ = next.value.(string)
		}
		if id, ok := root.member(constants.ODataID); ok {
			set.ID, _ = id.value.(string)
		}
		if count, ok := root.member(constants.ODataCount); ok {
			if n, ok := count.value.(Number); ok {
				if v, err := n.Int64(); err == nil {
					set.Count = &v
				}
			}
		}
	} else if root.kind != '[' {
		return fmt.Errorf("expected a JSON array or object for a resource set payload")
	}

	g.emit(StateResourceSetStart, set)
	for _, item := range items.items {
		if item.kind != '{' {
			return fmt.Errorf("resource set members must be JSON objects")
		}
		if err := g.resource(item, expectedType); err != nil {
			return err
		}
	}
	g.emit(StateResourceSetEnd, set)
	return nil
}

func (g *generator) topLevelValue(root *jsonNode, expectedType string) error {
	if root.kind != '{' {
		g.emit(StateValue, &Value{Value: root.primitive(), TypeName: expectedType})
		return nil
	}
	if value, ok := root.member(constants.ODataValue); ok && onlyAnnotationsBesides(root, constants.ODataValue) {
		if value.kind == '{' {
			return g.resource(value, expectedType)
		}
		g.emit(StateValue, &Value{Value: value.primitive(), TypeName: expectedType})
		return nil
	}
	return g.resource(root, expectedType)
}

func (g *generator) referenceLinks(root *jsonNode) error {
	if root.kind != '{' {
		return fmt.Errorf("expected a JSON object for an entity reference link payload")
	}
	if value, ok := root.member(constants.ODataValue); ok && value.kind == '[' {
		set := &ResourceSet{}
		g.emit(StateResourceSetStart, set)
		for _, item := range value.items {
			url, err := referenceURL(item)
			if err != nil {
				return err
			}
			g.emit(StateEntityReferenceLink, &EntityReferenceLink{URL: url})
		}
		g.emit(StateResourceSetEnd, set)
		return nil
	}
	url, err := referenceURL(root)
	if err != nil {
		return err
	}
	g.emit(StateEntityReferenceLink, &EntityReferenceLink{URL: url})
	return nil
}

func referenceURL(node *jsonNode) (string, error) {
	for _, name := range []string{constants.ODataID, "url", "uri"} {
		if value, ok := node.member(name); ok {
			if url, ok := value.value.(string); ok {
				return url, nil
			}
		}
	}
	return "", fmt.Errorf("entity reference link is missing %s", constants.ODataID)
}

func onlyAnnotationsBesides(node *jsonNode, name string) bool {
	for _, m := range node.members {
		if m.name != name && !strings.HasPrefix(m.name, constants.ODataAnnotationPrefix) {
			return false
		}
	}
	return true
}

// isStructuredArray decides whether an array carries entries rather than primitives
func isStructuredArray(node *jsonNode, info PropertyInfo) bool {
	switch info.Shape {
	case ShapeNavigation, ShapeComplex:
		return true
	case ShapePrimitive:
		return false
	}
	if len(node.items) == 0 {
		return false
	}
	for _, item := range node.items {
		if item.kind != '{' {
			return false
		}
	}
	return true
}
