package store

import (
	"errors"

	"psila-go/internal/security"
)

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface.
type Store interface {
	// Device identity: the association restored at boot.
	SaveIdentity(id *Identity) error
	GetIdentity() (*Identity, error)

	// Keys tried when unsecuring captured frames.
	SaveKey(name string, key security.Key) error
	DeleteKey(name string) error
	ListKeys() ([]security.NamedKey, error)

	// Capture sessions and the frames recorded in them.
	CreateSession(port string, channel uint8) (*Session, error)
	ListSessions() ([]*Session, error)
	AppendCapture(c *Capture) error
	ListCaptures(session string, limit int) ([]*Capture, error)
	PruneCaptures(session string, keep int) (int, error)

	// Outgoing frame counter reservation.
	security.CounterStore

	// Close the store
	Close() error
}
