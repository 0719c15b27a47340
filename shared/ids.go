package shared

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDGenerator produces unique identifiers. Components take one as a
// dependency so tests can substitute a deterministic sequence.
type IDGenerator func() string

// NewUUIDGenerator returns random UUID based ids with the given prefix.
func NewUUIDGenerator(prefix string) IDGenerator {
	return func() string {
		return prefix + uuid.NewString()
	}
}

// NewSequenceGenerator returns prefix-1, prefix-2, ...
func NewSequenceGenerator(prefix string) IDGenerator {
	var n atomic.Uint64
	return func() string {
		return fmt.Sprintf("%s-%d", prefix, n.Add(1))
	}
}
