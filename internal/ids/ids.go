package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a fresh 128-bit user identifier. ULIDs sort by creation
// time, which keeps index pages warm in the user store.
func New() ulid.ULID {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
}

// NewString returns the canonical 26-character form of a fresh identifier.
func NewString() string {
	return New().String()
}

// Parse decodes the canonical string form back into an identifier.
func Parse(s string) (ulid.ULID, error) {
	return ulid.ParseStrict(s)
}
