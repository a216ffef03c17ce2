package history

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestAppendAndReplayOrder(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 10; i++ {
				require.NoError(t, store.Append(0, fmt.Sprintf("message: 0 a %d b line%d", i, i)))
			}
			require.NoError(t, store.Append(1, "message: 1 x 0 y other-account"))

			lines, err := store.All(0)
			require.NoError(t, err)
			require.Len(t, lines, 10)
			for i, line := range lines {
				assert.Equal(t, fmt.Sprintf("message: 0 a %d b line%d", i, i), line)
			}

			other, err := store.All(1)
			require.NoError(t, err)
			assert.Len(t, other, 1)
		})
	}
}

func TestRemoveDropsOnlyThatAccount(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Append(0, "a"))
			require.NoError(t, store.Append(1, "b"))

			require.NoError(t, store.Remove(0))

			lines, err := store.All(0)
			require.NoError(t, err)
			assert.Empty(t, lines)

			lines, err = store.All(1)
			require.NoError(t, err)
			assert.Len(t, lines, 1)
		})
	}
}

func TestAllReturnsACopy(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Append(0, "original"))

	lines, err := store.All(0)
	require.NoError(t, err)
	lines[0] = "mutated"

	again, err := store.All(0)
	require.NoError(t, err)
	assert.Equal(t, "original", again[0])
}

func TestConcurrentAppends(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			const writers = 8
			const perWriter = 25

			var wg sync.WaitGroup
			wg.Add(writers)
			for w := 0; w < writers; w++ {
				go func(w int) {
					defer wg.Done()
					for i := 0; i < perWriter; i++ {
						_ = store.Append(0, fmt.Sprintf("w%d-%d", w, i))
					}
				}(w)
			}
			wg.Wait()

			lines, err := store.All(0)
			require.NoError(t, err)
			assert.Len(t, lines, writers*perWriter)
		})
	}
}
