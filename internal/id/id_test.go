package id

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtSortsByTime(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ids := []string{At(base.Add(2 * time.Second)), At(base), At(base.Add(time.Second))}
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	assert.Equal(t, []string{ids[1], ids[2], ids[0]}, sorted)
}

func TestAtMonotonicWithinMillisecond(t *testing.T) {
	now := time.Now()
	prev := At(now)
	for i := 0; i < 100; i++ {
		next := At(now)
		require.Greater(t, next, prev)
		prev = next
	}
}

func TestClientOrderID(t *testing.T) {
	a := ClientOrderID("qb-")
	b := ClientOrderID("qb-")
	assert.NotEqual(t, a, b)
	assert.True(t, len(a) <= 36)
	assert.Equal(t, "qb-", a[:3])
}
