// Package id generates identifiers for log records and orders.
package id

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	mu   sync.Mutex
	mono io.Reader
)

func init() {
	var seed int64
	_ = binary.Read(cryptorand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	mono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// At returns a ULID stamped with t. IDs generated for the same
// millisecond stay lexicographically increasing, so fill and event IDs
// sort in log order.
func At(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	mu.Lock()
	defer mu.Unlock()

	v, err := ulid.New(ulid.Timestamp(t.UTC()), mono)
	if err != nil {
		// entropy overflow within one millisecond; fall back to a fresh source
		v = ulid.MustNew(ulid.Timestamp(t.UTC()), cryptorand.Reader)
	}
	return v.String()
}

// New returns a ULID for the current time.
func New() string { return At(time.Now()) }

// ClientOrderID returns a venue-safe client order id: prefix plus a
// dashless UUID, at most 36 characters.
func ClientOrderID(prefix string) string {
	s := prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
	if len(s) > 36 {
		s = s[:36]
	}
	return s
}
