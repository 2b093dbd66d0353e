// Package store holds the shopping list Document and the backends it is
// persisted to.
package store

import (
	"errors"
	"fmt"
)

// Collection names one of the three collections of the Document.
type Collection string

const (
	Users Collection = "users"
	Lists Collection = "lists"
	Items Collection = "items"
)

// Collections lists every collection in Document order.
var Collections = []Collection{Users, Lists, Items}

// ParseCollection validates a collection name.
func ParseCollection(name string) (Collection, error) {
	c := Collection(name)
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCollection, name)
	}
	return c, nil
}

func (c Collection) Valid() bool {
	switch c {
	case Users, Lists, Items:
		return true
	}
	return false
}

// EntityName is the singular, capitalised name used in error messages.
func (c Collection) EntityName() string {
	switch c {
	case Users:
		return "User"
	case Lists:
		return "List"
	case Items:
		return "Item"
	}
	return "Entity"
}

// FilterField is the field List can filter the collection on.
func (c Collection) FilterField() string {
	switch c {
	case Users:
		return "email"
	case Lists:
		return "userId"
	case Items:
		return "listId"
	}
	return ""
}

// Backend is where the Document lives between operations. Load and Save
// always move the whole Document.
type Backend interface {
	// Load returns the persisted Document. A backend with nothing persisted
	// yet returns an empty Document and no error.
	Load() (*Document, error)

	// Save replaces the persisted Document. Either the whole Document is
	// written or the previous state is kept.
	Save(doc *Document) error

	// Close releases the backend's resources.
	Close() error
}

var (
	ErrNotFound          = errors.New("not found")
	ErrUnknownCollection = errors.New("unknown collection")
)

// NotFoundError reports a missing id. It matches ErrNotFound.
type NotFoundError struct {
	Collection Collection
	ID         string
}

func (e *NotFoundError) Error() string {
	return e.Collection.EntityName() + " not found"
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// PersistenceError reports a failed Save. The in-memory state is left as
// it was before the failed operation.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return "persist document: " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ValidationError reports an entity rejected by the configured Validator.
type ValidationError struct {
	Collection Collection
	Err        error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Collection.EntityName(), e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }
