// Package updatable is the create/update backend the entity reader writes
// into, plus an in-memory implementation that doubles as a writer.Source.
package updatable

import (
	"context"
	"io"

	"github.com/zmcp/odata-codec/internal/keys"
)

// Updatable is the backend contract used while materializing a request
// body. Resources are opaque handles owned by the implementation.
type Updatable interface {
	// CreateResource creates a new entity in setName, or a complex value
	// when setName is empty
	CreateResource(setName, typeName string) (any, error)
	// GetResource fetches an existing entity by key. typeName, when set,
	// must be assignable from the stored type.
	GetResource(setName string, key keys.Key, typeName string) (any, error)
	// ResetResource clears every non-key property and link of an entity
	ResetResource(resource any) (any, error)
	GetValue(resource any, property string) (any, error)
	SetValue(resource any, property string, value any) error
	// SetReference binds a to-one navigation property; nil unbinds
	SetReference(resource any, navigation string, target any) error
	AddReferenceToCollection(resource any, navigation string, target any) error
	// ResolveResource turns a handle into the value stored in a parent:
	// the entity itself, or a map for complex values
	ResolveResource(resource any) (any, error)
	ETag(resource any) (string, error)
	SaveChanges(ctx context.Context) error
	// ClearChanges drops every change since the last SaveChanges: created
	// resources are forgotten and modified ones get their saved state back
	ClearChanges()
}

// StreamUpdatable accepts media resource content
type StreamUpdatable interface {
	SetStream(resource any, contentType string, body io.Reader) error
}
