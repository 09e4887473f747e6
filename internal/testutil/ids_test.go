package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vivacius/asistenciacampo/internal/record"
)

var _ record.IDGenerator = (*SequenceGenerator)(nil)

func TestSequenceGenerator(t *testing.T) {
	gen := NewSequenceGenerator("evt")
	assert.Equal(t, "evt-0001", gen.Generate())
	assert.Equal(t, "evt-0002", gen.Generate())

	assert.Equal(t, "id-0001", NewSequenceGenerator("").Generate())
}

func TestSequenceGenerator_ThreadSafe(t *testing.T) {
	gen := NewSequenceGenerator("x")
	var wg sync.WaitGroup
	out := make(chan string, 200)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out <- gen.Generate()
		}()
	}
	wg.Wait()
	close(out)

	seen := map[string]bool{}
	for id := range out {
		require.False(t, seen[id])
		seen[id] = true
	}
	assert.Len(t, seen, 200)
}
