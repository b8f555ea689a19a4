package crawler

import (
	"encoding/binary"
	"math/rand/v2"
	"sync"

	"github.com/google/uuid"
)

// IDGenerator produces tokens for extensions that carry no identifier.
// Tokens only need to be unique within one crawl.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator returns random version 4 UUIDs.
type UUIDGenerator struct{}

// NewID implements IDGenerator.
func (UUIDGenerator) NewID() string {
	return uuid.NewString()
}

// SeededGenerator returns a reproducible sequence of UUIDs.
// It is meant for tests and for crawls whose output must be diffable.
type SeededGenerator struct {
	mu  sync.Mutex
	src *rand.ChaCha8
}

// NewSeededGenerator returns a generator whose sequence depends only on seed.
func NewSeededGenerator(seed uint64) *SeededGenerator {
	var key [32]byte
	binary.LittleEndian.PutUint64(key[:], seed)
	return &SeededGenerator{src: rand.NewChaCha8(key)}
}

// NewID implements IDGenerator.
func (g *SeededGenerator) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	// ChaCha8.Read never fails.
	id, err := uuid.NewRandomFromReader(g.src)
	if err != nil {
		panic(err)
	}
	return id.String()
}
