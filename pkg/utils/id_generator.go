package utils

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   io.Reader = ulid.Monotonic(rand.Reader, 0)
)

// GenerateULID returns a lexically sortable id. Ids generated within the
// same millisecond in this process are strictly increasing.
func GenerateULID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// GenerateTxID returns a ledger entry id: prefix_ULID.
func GenerateTxID(prefix string) string {
	return prefix + "_" + GenerateULID(time.Now())
}

// NewEntityID returns a random UUID for wallets, goals and groups.
func NewEntityID() string {
	return uuid.NewString()
}

// ValidUserID reports whether id is a well-formed UUID.
func ValidUserID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
