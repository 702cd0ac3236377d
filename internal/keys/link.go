package keys

import (
	"net/url"
	"strings"

	"github.com/zmcp/odata-codec/internal/models"
	"github.com/zmcp/odata-codec/internal/odataerr"
)

type literalPart struct {
	name string
	text string
}

// Link is a parsed entity reference such as Products(5) or
// http://host/service/OrderDetails(OrderId=...,ProductId=1)/Demo.Special
type Link struct {
	SetName  string
	TypeCast string
	parts    []literalPart
}

// ParseLink parses an entity edit link or identity, relative to serviceRoot
// or absolute
func ParseLink(link, serviceRoot string) (*Link, error) {
	invalid := func(format string, args ...any) error {
		return odataerr.BadRequest(odataerr.CodeInvalidLink, link, format, args...)
	}

	rel := link
	root := strings.TrimSuffix(serviceRoot, "/")
	switch {
	case root != "" && strings.HasPrefix(link, root+"/"):
		rel = link[len(root)+1:]
	case strings.Contains(link, "://"):
		u, err := url.Parse(link)
		if err != nil {
			return nil, invalid("malformed URL")
		}
		rel = u.EscapedPath()
	}
	if idx := strings.IndexAny(rel, "?#"); idx >= 0 {
		rel = rel[:idx]
	}
	rel = strings.Trim(rel, "/")

	segments := strings.Split(rel, "/")
	keyed := -1
	for i := len(segments) - 1; i >= 0; i-- {
		if strings.Contains(segments[i], "(") {
			keyed = i
			break
		}
	}
	if keyed < 0 {
		return nil, invalid("link does not address a single entity")
	}

	parsed := &Link{}
	switch rest := segments[keyed+1:]; {
	case len(rest) == 1 && strings.Contains(rest[0], "."):
		parsed.TypeCast = rest[0]
	case len(rest) > 0:
		return nil, invalid("unsupported path after the entity key")
	}

	segment, err := url.PathUnescape(segments[keyed])
	if err != nil {
		return nil, invalid("malformed escape sequence")
	}
	open := strings.IndexByte(segment, '(')
	if open <= 0 || !strings.HasSuffix(segment, ")") {
		return nil, invalid("malformed key segment %q", segment)
	}
	parsed.SetName = segment[:open]

	for _, part := range splitOutsideQuotes(segment[open+1:len(segment)-1], ',') {
		var name string
		if eq := indexOutsideQuotes(part, '='); eq >= 0 {
			name, part = part[:eq], part[eq+1:]
		}
		parsed.parts = append(parsed.parts, literalPart{name: strings.TrimSpace(name), text: strings.TrimSpace(part)})
	}
	if len(parsed.parts) == 0 || (len(parsed.parts) == 1 && parsed.parts[0].text == "") {
		return nil, invalid("empty key")
	}
	return parsed, nil
}

// Key converts the link's key literals to typed values in declared key order
func (l *Link) Key(keyProps []*models.EntityProperty) (Key, error) {
	if len(l.parts) != len(keyProps) {
		return nil, odataerr.BadRequest(odataerr.CodeInvalidLink, l.SetName,
			"link has %d key values, %s expects %d", len(l.parts), l.SetName, len(keyProps))
	}

	byName := make(map[string]string, len(l.parts))
	for _, part := range l.parts {
		if part.name == "" {
			if len(keyProps) != 1 {
				return nil, odataerr.BadRequest(odataerr.CodeInvalidLink, l.SetName, "composite keys must name every property")
			}
			part.name = keyProps[0].Name
		}
		byName[part.name] = part.text
	}

	key := make(Key, 0, len(keyProps))
	for _, prop := range keyProps {
		text, ok := byName[prop.Name]
		if !ok {
			return nil, odataerr.BadRequest(odataerr.CodeInvalidLink, prop.Name, "link is missing key property")
		}
		raw, err := decodeLiteral(text)
		if err != nil {
			return nil, odataerr.BadRequest(odataerr.CodeInvalidLink, prop.Name, "invalid key literal").WithCause(err)
		}
		if raw == nil {
			return nil, odataerr.BadRequest(odataerr.CodeNullKey, prop.Name, "null key values are not supported")
		}
		value, err := typedValue(prop, raw)
		if err != nil {
			return nil, odataerr.BadRequest(odataerr.CodeInvalidLink, prop.Name, "key literal does not match %s", prop.Type).WithCause(err)
		}
		key = append(key, Property{Name: prop.Name, Value: value})
	}
	return key, nil
}

func splitOutsideQuotes(s string, sep byte) []string {
	var parts []string
	start, quoted := 0, false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\'':
			quoted = !quoted
		case sep:
			if !quoted {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}

func indexOutsideQuotes(s string, c byte) int {
	quoted := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\'':
			quoted = !quoted
		case c:
			if !quoted {
				return i
			}
		}
	}
	return -1
}
