// Package keys builds canonical edit links and identities from entity key
// values and parses them back.
package keys

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/zmcp/odata-codec/internal/constants"
	"github.com/zmcp/odata-codec/internal/odataerr"
)

// ValueFunc returns the current value of a key property
type ValueFunc func(property string) (any, error)

// SerializedEntityKey lazily computes the edit link and identity URIs of one
// entity. Every URI is computed at most once; a failure (such as a null key
// value) is memoized as well.
type SerializedEntityKey struct {
	RelativeEditLink              func() (string, error)
	AbsoluteEditLink              func() (string, error)
	AbsoluteEditLinkWithoutSuffix func() (string, error)
	Identity                      func() (string, error)

	key func() (Key, error)
}

// New prepares the lazy key of an entity in setName. keyNames is the declared
// key order. typeSuffix is the qualified runtime type when it is more derived
// than the set's base type, else empty.
func New(serviceRoot, setName string, keyNames []string, value ValueFunc, typeSuffix string) *SerializedEntityKey {
	k := &SerializedEntityKey{}

	k.key = sync.OnceValues(func() (Key, error) {
		if len(keyNames) == 0 {
			return nil, odataerr.BadRequest(odataerr.CodeKeyMissing, setName, "entity set has no key properties")
		}
		key := make(Key, 0, len(keyNames))
		for _, name := range keyNames {
			v, err := value(name)
			if err != nil {
				return nil, err
			}
			if v == nil {
				return nil, odataerr.BadRequest(odataerr.CodeNullKey, name, "null key values are not supported")
			}
			key = append(key, Property{Name: name, Value: v})
		}
		return key, nil
	})

	relativeIdentity := sync.OnceValues(func() (string, error) {
		key, err := k.key()
		if err != nil {
			return "", err
		}
		expr, err := key.Expression()
		if err != nil {
			return "", err
		}
		return setName + "(" + EscapeKeyExpression(expr) + ")", nil
	})

	k.RelativeEditLink = sync.OnceValues(func() (string, error) {
		rel, err := relativeIdentity()
		if err != nil || typeSuffix == "" {
			return rel, err
		}
		return rel + "/" + typeSuffix, nil
	})
	k.AbsoluteEditLink = sync.OnceValues(func() (string, error) {
		rel, err := k.RelativeEditLink()
		if err != nil {
			return "", err
		}
		return Absolute(serviceRoot, rel), nil
	})
	k.AbsoluteEditLinkWithoutSuffix = sync.OnceValues(func() (string, error) {
		rel, err := relativeIdentity()
		if err != nil {
			return "", err
		}
		return Absolute(serviceRoot, rel), nil
	})
	// The identity never carries the type segment
	k.Identity = k.AbsoluteEditLinkWithoutSuffix

	return k
}

// Key returns the resolved key values
func (k *SerializedEntityKey) Key() (Key, error) {
	return k.key()
}

// Absolute joins a relative URI onto the service root. Absolute URIs are
// returned unchanged.
func Absolute(serviceRoot, relative string) string {
	if serviceRoot == "" || strings.Contains(relative, "://") {
		return relative
	}
	return strings.TrimSuffix(serviceRoot, "/") + "/" + strings.TrimPrefix(relative, "/")
}

// EscapeKeyExpression percent-encodes the characters of a key expression
// that cannot appear in a path segment, leaving quotes, commas and '='
// readable
func EscapeKeyExpression(expr string) string {
	var b strings.Builder
	for i := 0; i < len(expr); i++ {
		c := expr[i]
		if keepInKey(c) {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

func keepInKey(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return strings.IndexByte("-._~'(),=:@!$*+;", c) >= 0
}

// SkipToken renders the key of the last entry of a page as a $skiptoken value
func SkipToken(key Key) (string, error) {
	parts := make([]string, 0, len(key))
	for _, p := range key {
		literal, err := FormatLiteral(p.Name, p.Value)
		if err != nil {
			return "", err
		}
		parts = append(parts, literal)
	}
	return strings.Join(parts, ","), nil
}

// NextLink appends a $skiptoken query option to base
func NextLink(base, token string) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + constants.QuerySkipToken + "=" + url.QueryEscape(token)
}
