package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRing_PushWithinCapacity(t *testing.T) {
	r := New[int](3)

	_, evicted := r.Push(1)
	assert.False(t, evicted)
	r.Push(2)

	assert.Equal(t, 2, r.Len())
	assert.Equal(t, 3, r.Cap())
	assert.Equal(t, []int{1, 2}, r.Slice())
	assert.Equal(t, []int{2, 1}, r.NewestFirst())
}

func TestRing_EvictsOldest(t *testing.T) {
	r := New[int](3)
	for i := 1; i <= 3; i++ {
		r.Push(i)
	}

	old, evicted := r.Push(4)
	assert.True(t, evicted)
	assert.Equal(t, 1, old)

	old, evicted = r.Push(5)
	assert.True(t, evicted)
	assert.Equal(t, 2, old)

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []int{3, 4, 5}, r.Slice())
	assert.Equal(t, []int{5, 4, 3}, r.NewestFirst())
}

func TestRing_CopiesAreDetached(t *testing.T) {
	r := New[int](2)
	r.Push(1)
	snap := r.NewestFirst()
	r.Push(2)
	r.Push(3)

	assert.Equal(t, []int{1}, snap)
}

func TestRing_MinimumCapacity(t *testing.T) {
	r := New[string](0)
	r.Push("a")
	r.Push("b")
	assert.Equal(t, []string{"b"}, r.Slice())
}
