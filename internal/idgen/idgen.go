// Package idgen provides injectable identifier generators.
package idgen

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator produces unique identifiers.
type Generator interface {
	NewID() string
}

// UUID generates random version 4 UUIDs.
type UUID struct{}

// NewID returns a new UUID string.
func (UUID) NewID() string {
	return uuid.NewString()
}

// Counter generates monotonically increasing ids with a fixed prefix.
// It is deterministic, which makes it the generator of choice in tests.
type Counter struct {
	prefix string
	n      atomic.Uint64
}

// NewCounter creates a counter generator. Ids look like "<prefix>-1", "<prefix>-2", ...
func NewCounter(prefix string) *Counter {
	return &Counter{prefix: prefix}
}

// NewID returns the next id.
func (c *Counter) NewID() string {
	return fmt.Sprintf("%s-%d", c.prefix, c.n.Add(1))
}

// Func adapts a plain function to Generator.
type Func func() string

// NewID calls f.
func (f Func) NewID() string {
	return f()
}
