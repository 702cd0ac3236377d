package payload

import (
	"github.com/zmcp/odata-codec/internal/event"
)

// Lazy yields a convention-computed value on demand, so that levels which
// never write it also never compute it
type Lazy func() (string, error)

// Fixed wraps an already known value
func Fixed(value string) Lazy {
	return func() (string, error) { return value, nil }
}

// PropertyManager applies an Interpreter to the metadata fields of
// structural items
type PropertyManager struct {
	interp *Interpreter
}

// NewPropertyManager binds a manager to interp
func NewPropertyManager(interp *Interpreter) *PropertyManager {
	return &PropertyManager{interp: interp}
}

// Interpreter returns the policy the manager applies
func (m *PropertyManager) Interpreter() *Interpreter {
	return m.interp
}

// conventional resolves a convention-derivable value: the override wins
// when set, the computed value is used otherwise
func (m *PropertyManager) conventional(computed Lazy, override string) (string, bool, error) {
	switch m.interp.level {
	case LevelNone:
		return "", false, nil
	case LevelFull:
		if override != "" {
			return override, true, nil
		}
		value, err := computed()
		return value, err == nil && value != "", err
	}
	if override == "" {
		return "", false, nil
	}
	value, err := computed()
	if err != nil {
		return "", false, err
	}
	if !m.interp.ShouldIncludeConventional(value, override) {
		return "", false, nil
	}
	return override, true, nil
}

// SetTypeName always records the runtime type on the entry and adds the
// visible annotation when the policy asks for it
func (m *PropertyManager) SetTypeName(entry *event.Resource, setBaseType, runtimeType string) {
	entry.TypeName = runtimeType
	entry.TypeAnnotation = ""
	if m.interp.ShouldIncludeTypeAnnotation(setBaseType, runtimeType) {
		entry.TypeAnnotation = runtimeType
	}
}

// SetID sets the entry identity
func (m *PropertyManager) SetID(entry *event.Resource, computed Lazy, override string) error {
	value, ok, err := m.conventional(computed, override)
	if ok {
		entry.ID = value
	}
	return err
}

// SetEditLink sets the entry edit link
func (m *PropertyManager) SetEditLink(entry *event.Resource, computed Lazy, override string) error {
	value, ok, err := m.conventional(computed, override)
	if ok {
		entry.EditLink = value
	}
	return err
}

// SetETag sets the entry ETag
func (m *PropertyManager) SetETag(entry *event.Resource, etag string) {
	if etag != "" && m.interp.ShouldIncludeETag() {
		entry.ETag = etag
	}
}

// SetContextURL sets the context URL of a top-level entry, feed or value
func (m *PropertyManager) SetContextURL(item event.Item, contextURL string) {
	if contextURL == "" || !m.interp.ShouldIncludeContextURL() {
		return
	}
	switch it := item.(type) {
	case *event.Resource:
		it.ContextURL = contextURL
	case *event.ResourceSet:
		it.ContextURL = contextURL
	case *event.Value:
		it.ContextURL = contextURL
	}
}

// SetFeedID sets the feed identity
func (m *PropertyManager) SetFeedID(feed *event.ResourceSet, computed Lazy, override string) error {
	value, ok, err := m.conventional(computed, override)
	if ok {
		feed.ID = value
	}
	return err
}

// SetNavigationURL sets the navigation link of a nested info
func (m *PropertyManager) SetNavigationURL(info *event.NestedInfo, computed Lazy, override string) error {
	value, ok, err := m.conventional(computed, override)
	if ok {
		info.URL = value
	}
	return err
}

// SetAssociationLinkURL sets the association ($ref) link of a nested info
func (m *PropertyManager) SetAssociationLinkURL(info *event.NestedInfo, computed Lazy, override string) error {
	value, ok, err := m.conventional(computed, override)
	if ok {
		info.AssociationLinkURL = value
	}
	return err
}

// SetStreamEditLink sets the media edit link
func (m *PropertyManager) SetStreamEditLink(stream *event.StreamInfo, computed Lazy, override string) error {
	value, ok, err := m.conventional(computed, override)
	if ok {
		stream.EditLink = value
	}
	return err
}

// SetStreamReadLink sets the media read link. It is provider determined.
func (m *PropertyManager) SetStreamReadLink(stream *event.StreamInfo, readLink string) {
	if m.interp.ShouldIncludeProviderValue() {
		stream.ReadLink = readLink
	}
}

// SetStreamContentType sets the media content type
func (m *PropertyManager) SetStreamContentType(stream *event.StreamInfo, contentType string) {
	if m.interp.ShouldIncludeProviderValue() {
		stream.ContentType = contentType
	}
}

// SetStreamETag sets the media ETag
func (m *PropertyManager) SetStreamETag(stream *event.StreamInfo, etag string) {
	if m.interp.ShouldIncludeProviderValue() {
		stream.ETag = etag
	}
}

// SetOperationTitle sets the title of an advertised action
func (m *PropertyManager) SetOperationTitle(action *event.Action, computed Lazy, override string) error {
	value, ok, err := m.conventional(computed, override)
	if ok {
		action.Title = value
	}
	return err
}

// SetOperationTarget sets the target URL of an advertised action
func (m *PropertyManager) SetOperationTarget(action *event.Action, computed Lazy, override string) error {
	value, ok, err := m.conventional(computed, override)
	if ok {
		action.Target = value
	}
	return err
}
