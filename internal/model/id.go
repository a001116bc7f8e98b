package model

import (
	"strings"

	"github.com/google/uuid"
)

// TemporaryPrefix marks identifiers minted by the editor that have never been
// persisted.
const TemporaryPrefix = "temp_"

// ID identifies a page or a field. It is either Temporary (client generated,
// never stored as-is) or Persisted (server assigned and stable).
type ID string

// NewTemporaryID returns a fresh temporary identifier, unique per process.
func NewTemporaryID() ID {
	return ID(TemporaryPrefix + uuid.NewString())
}

// NewTemporaryPageID returns a fresh temporary page identifier.
func NewTemporaryPageID() ID {
	return ID(TemporaryPrefix + "page_" + uuid.NewString())
}

// NewPersistedID returns a new server side identifier.
func NewPersistedID() ID {
	return ID(uuid.NewString())
}

// Temporary reports whether id was minted client side.
func (id ID) Temporary() bool {
	return strings.HasPrefix(string(id), TemporaryPrefix)
}

// Persisted reports whether id was assigned by storage.
func (id ID) Persisted() bool {
	return id != "" && !id.Temporary()
}

func (id ID) String() string { return string(id) }

// IDMapping maps temporary identifiers to the persisted identifiers storage
// assigned to them.
type IDMapping map[ID]ID
