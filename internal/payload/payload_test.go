package payload

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zmcp/odata-codec/internal/event"
	"github.com/zmcp/odata-codec/internal/odataerr"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		token    string
		expected Level
	}{
		{"", LevelMinimal},
		{"minimal", LevelMinimal},
		{"FULL", LevelFull},
		{"none", LevelNone},
		{"nometadata", LevelNone},
		{"fullmetadata", LevelFull},
	}
	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			level, err := ParseLevel(tt.token)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, level)
		})
	}

	_, err := ParseLevel("verbose")
	assert.True(t, odataerr.Is(err, odataerr.CodeUnknownMetadataLevel))
	assert.True(t, odataerr.IsClientError(err))
}

func TestInterpreterFromContentType(t *testing.T) {
	tests := []struct {
		mediaType   string
		format      Format
		level       Level
		contentType string
	}{
		{"", FormatJSON, LevelMinimal, "application/json;odata.metadata=minimal"},
		{"application/json", FormatJSON, LevelMinimal, "application/json;odata.metadata=minimal"},
		{"application/json;odata.metadata=full", FormatJSON, LevelFull, "application/json;odata.metadata=full"},
		{"application/json; odata.metadata=none; charset=utf-8", FormatJSON, LevelNone, "application/json;odata.metadata=none"},
		{"application/json;odata=nometadata", FormatJSON, LevelNone, "application/json;odata.metadata=none"},
		{"application/json;odata=verbose", FormatVerboseJSON, LevelFull, "application/json;odata=verbose"},
		{"application/atom+xml", FormatAtom, LevelFull, "application/atom+xml"},
	}
	for _, tt := range tests {
		t.Run(tt.mediaType, func(t *testing.T) {
			interp, err := InterpreterFromContentType(tt.mediaType)
			require.NoError(t, err)
			assert.Equal(t, tt.format, interp.Format())
			assert.Equal(t, tt.level, interp.Level())
			assert.Equal(t, tt.contentType, interp.ContentType())
		})
	}

	_, err := InterpreterFromContentType("application/json;odata.metadata=extreme")
	assert.True(t, odataerr.Is(err, odataerr.CodeUnknownMetadataLevel))

	_, err = InterpreterFromContentType("text/csv")
	assert.True(t, odataerr.IsClientError(err))

	_, err = InterpreterFromContentType("application/json;;=")
	assert.True(t, odataerr.IsClientError(err))
}

func manager(t *testing.T, token string) *PropertyManager {
	t.Helper()
	interp, err := NewInterpreter(FormatJSON, token)
	require.NoError(t, err)
	return NewPropertyManager(interp)
}

// writeEntry applies every entry-level decision the way the writer does
func writeEntry(t *testing.T, m *PropertyManager, runtimeType string, id int) *event.Resource {
	t.Helper()
	entry := &event.Resource{}
	link := "http://host/service/Products(" + string(rune('0'+id)) + ")"
	m.SetTypeName(entry, "Demo.Product", runtimeType)
	require.NoError(t, m.SetID(entry, Fixed(link), ""))
	require.NoError(t, m.SetEditLink(entry, Fixed(link), ""))
	m.SetETag(entry, `W/"1"`)
	return entry
}

func TestEntryDecisionTable(t *testing.T) {
	tests := []struct {
		name       string
		token      string
		runtime    string
		id         int
		annotation string
		hasID      bool
		hasETag    bool
	}{
		{"none derived", "none", "Demo.DiscountedProduct", 5, "", false, false},
		{"full derived", "full", "Demo.DiscountedProduct", 5, "Demo.DiscountedProduct", true, true},
		{"full base", "full", "Demo.Product", 7, "Demo.Product", true, true},
		{"minimal derived", "minimal", "Demo.DiscountedProduct", 5, "Demo.DiscountedProduct", false, true},
		{"minimal base", "", "Demo.Product", 7, "", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := writeEntry(t, manager(t, tt.token), tt.runtime, tt.id)

			assert.Equal(t, tt.runtime, entry.TypeName, "type name is always set")
			assert.Equal(t, tt.annotation, entry.TypeAnnotation)
			assert.Equal(t, tt.hasID, entry.ID != "")
			assert.Equal(t, tt.hasID, entry.EditLink != "")
			assert.Equal(t, tt.hasETag, entry.ETag != "")
		})
	}
}

func TestConventionalOverride(t *testing.T) {
	computed := Fixed("http://host/service/Products(5)")

	minimal := manager(t, "minimal")
	entry := &event.Resource{}
	require.NoError(t, minimal.SetEditLink(entry, computed, "http://host/service/Products(5)"))
	assert.Empty(t, entry.EditLink, "override equal to convention is dropped")

	require.NoError(t, minimal.SetEditLink(entry, computed, "http://cdn/Products/5"))
	assert.Equal(t, "http://cdn/Products/5", entry.EditLink)

	full := manager(t, "full")
	entry = &event.Resource{}
	require.NoError(t, full.SetEditLink(entry, computed, "http://cdn/Products/5"))
	assert.Equal(t, "http://cdn/Products/5", entry.EditLink)
}

func TestLazyValuesAreNotComputedWhenSuppressed(t *testing.T) {
	boom := errors.New("null key")
	failing := func() (string, error) { return "", boom }

	for _, token := range []string{"none", "minimal"} {
		m := manager(t, token)
		entry := &event.Resource{}
		assert.NoError(t, m.SetID(entry, failing, ""), token)
	}

	err := manager(t, "full").SetID(&event.Resource{}, failing, "")
	assert.ErrorIs(t, err, boom)
}

func TestNavigationAndStreams(t *testing.T) {
	navURL := Fixed("http://host/service/Products(5)/Category")
	refURL := Fixed("http://host/service/Products(5)/Category/$ref")

	tests := []struct {
		token       string
		navigation  bool
		contentType bool
	}{
		{"full", true, true},
		{"minimal", false, true},
		{"none", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			m := manager(t, tt.token)

			info := &event.NestedInfo{Name: "Category"}
			require.NoError(t, m.SetNavigationURL(info, navURL, ""))
			require.NoError(t, m.SetAssociationLinkURL(info, refURL, ""))
			assert.Equal(t, tt.navigation, info.URL != "")
			assert.Equal(t, tt.navigation, info.AssociationLinkURL != "")

			stream := &event.StreamInfo{}
			require.NoError(t, m.SetStreamEditLink(stream, Fixed("Photos(1)/$value"), ""))
			m.SetStreamContentType(stream, "image/png")
			m.SetStreamReadLink(stream, "http://cdn/photo/1")
			m.SetStreamETag(stream, `"abc"`)
			assert.Equal(t, tt.navigation, stream.EditLink != "")
			assert.Equal(t, tt.contentType, stream.ContentType != "")
			assert.Equal(t, tt.contentType, stream.ReadLink != "")
			assert.Equal(t, tt.contentType, stream.ETag != "")

			feed := &event.ResourceSet{}
			require.NoError(t, m.SetFeedID(feed, Fixed("http://host/service/Products"), ""))
			assert.Equal(t, tt.navigation, feed.ID != "")

			action := &event.Action{Metadata: "#Demo.Discount"}
			require.NoError(t, m.SetOperationTitle(action, Fixed("Discount"), ""))
			require.NoError(t, m.SetOperationTarget(action, Fixed("http://host/service/Products(5)/Demo.Discount"), ""))
			assert.Equal(t, tt.navigation, action.Title != "")
			assert.Equal(t, tt.navigation, action.Target != "")

			value := &event.Value{}
			m.SetContextURL(value, "http://host/service/$metadata#Edm.String")
			assert.Equal(t, tt.contentType, value.ContextURL != "")
		})
	}
}

func TestOperationAdvertising(t *testing.T) {
	assert.True(t, manager(t, "full").Interpreter().ShouldAdvertiseOperation(true))
	assert.False(t, manager(t, "minimal").Interpreter().ShouldAdvertiseOperation(true))
	assert.True(t, manager(t, "minimal").Interpreter().ShouldAdvertiseOperation(false))
	assert.False(t, manager(t, "none").Interpreter().ShouldAdvertiseOperation(false))
}

func TestNonJSONFormats(t *testing.T) {
	interp, err := NewInterpreter(FormatAtom, "none")
	require.NoError(t, err)
	m := NewPropertyManager(interp)

	assert.Equal(t, LevelFull, interp.Level())
	entry := writeEntry(t, m, "Demo.Product", 7)
	assert.Empty(t, entry.TypeAnnotation, "type names stay minimal")
	assert.NotEmpty(t, entry.ID)

	entry = writeEntry(t, m, "Demo.DiscountedProduct", 5)
	assert.Equal(t, "Demo.DiscountedProduct", entry.TypeAnnotation)
	assert.False(t, interp.ShouldIncludeContextURL())
}
