package idgen

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounter_Sequential(t *testing.T) {
	c := NewCounter("evt")
	assert.Equal(t, "evt-1", c.NewID())
	assert.Equal(t, "evt-2", c.NewID())
	assert.Equal(t, "evt-3", c.NewID())
}

func TestCounter_ConcurrentUnique(t *testing.T) {
	c := NewCounter("x")
	const n = 200

	var mu sync.Mutex
	seen := make(map[string]bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := c.NewID()
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, n)
}

func TestUUID_Parses(t *testing.T) {
	id := UUID{}.NewID()
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.NotEqual(t, id, UUID{}.NewID())
}

func TestFunc(t *testing.T) {
	var g Generator = Func(func() string { return "fixed" })
	assert.Equal(t, "fixed", g.NewID())
}
