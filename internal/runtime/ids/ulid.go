// Package ids generates the identifiers haltalk stamps on messages and on the
// broker process itself.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// CreateULID returns a time-sortable ULID encoded as a 26-character string.
// Transport message IDs use it so logs sort by publish order.
func CreateULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return id.String()
}

// NewProcessUUID returns the random identity a broker instance carries in
// every envelope and service record. Clients compare it to notice restarts.
func NewProcessUUID() string {
	return uuid.NewString()
}
