package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGeneration_RetireWithoutReadersClosesImmediately(t *testing.T) {
	gen := &Generation{Seq: 1}

	closed := false
	gen.Retire(func() { closed = true })
	assert.True(t, closed)
}

func TestGeneration_RetireWaitsForLastReader(t *testing.T) {
	gen := &Generation{Seq: 1}
	gen.Acquire()
	gen.Acquire()

	closed := false
	gen.Retire(func() { closed = true })
	assert.False(t, closed, "teardown must wait for in-flight readers")

	gen.Release()
	assert.False(t, closed)

	gen.Release()
	assert.True(t, closed, "last release tears the generation down")
}

func TestGeneration_CloseRunsOnce(t *testing.T) {
	gen := &Generation{Seq: 1}
	gen.Acquire()

	closes := 0
	gen.Retire(func() { closes++ })
	gen.Release()

	// Later acquire/release cycles must not re-run teardown.
	gen.Acquire()
	gen.Release()
	assert.Equal(t, 1, closes)
}

func TestGeneration_NilSafe(t *testing.T) {
	var gen *Generation
	gen.Acquire()
	gen.Release()

	closed := false
	gen.Retire(func() { closed = true })
	assert.True(t, closed)
	assert.Equal(t, 0, gen.ChunkCount())
}
