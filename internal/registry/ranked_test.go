package registry

import (
	"sync"
	"testing"

	"github.com/glimte/mmate-bus/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRankedOrdering(t *testing.T) {
	t.Run("higher rank first then registration order", func(t *testing.T) {
		r := New[string]()

		r.Add("low", contracts.Properties{}.WithRanking(-1))
		r.Add("first", contracts.Properties{})
		r.Add("high", contracts.Properties{}.WithRanking(5))
		r.Add("second", contracts.Properties{})

		assert.Equal(t, []string{"high", "first", "second", "low"}, r.Values())
	})

	t.Run("service id written back to properties", func(t *testing.T) {
		r := New[string]()
		props := contracts.Properties{}

		entry := r.Add("value", props)

		id, ok := props.ServiceID()
		require.True(t, ok)
		assert.Equal(t, entry.ID, id)

		removed, ok := r.RemoveByProperties(props)
		assert.True(t, ok)
		assert.Equal(t, "value", removed.Value)
		assert.Equal(t, 0, r.Len())
	})

	t.Run("same service id replaces", func(t *testing.T) {
		r := New[string]()
		props := contracts.Properties{}

		r.Add("v1", props)
		r.Add("v2", props)

		assert.Equal(t, []string{"v2"}, r.Values())
	})

	t.Run("nil properties still register", func(t *testing.T) {
		r := New[int]()
		entry := r.Add(1, nil)

		assert.NotZero(t, entry.ID)
		_, ok := r.Remove(entry.ID)
		assert.True(t, ok)
		_, ok = r.Remove(entry.ID)
		assert.False(t, ok)
	})

	t.Run("RemoveIf", func(t *testing.T) {
		r := New[int]()
		for i := 0; i < 6; i++ {
			r.Add(i, nil)
		}

		removed := r.RemoveIf(func(e Entry[int]) bool { return e.Value%2 == 0 })

		assert.Len(t, removed, 3)
		assert.Equal(t, []int{1, 3, 5}, r.Values())
	})
}

func TestRankedSnapshotIsolation(t *testing.T) {
	r := New[int]()
	r.Add(1, nil)

	snapshot := r.Entries()
	r.Add(2, nil)

	assert.Len(t, snapshot, 1)
	assert.Equal(t, 2, r.Len())
}

func TestRankedConcurrentAccess(t *testing.T) {
	r := New[int]()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entry := r.Add(i, nil)
			_ = r.Values()
			if i%2 == 0 {
				r.Remove(entry.ID)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 25, r.Len())
}
