package collections

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCounter_IncDec(t *testing.T) {
	c := NewCounter[string]()
	c.Inc("node-1", 1)
	c.Inc("node-1", 1)
	c.Inc("node-2", 1)

	assert.Equal(t, 2, c.Count("node-1"))
	assert.Equal(t, 1, c.Count("node-2"))
	assert.Equal(t, 3, c.Total())
	assert.Equal(t, 2, c.Len())
}

func TestCounter_DecToZeroDeletes(t *testing.T) {
	c := NewCounter[string]()
	c.Inc("node-1", 1)
	c.Dec("node-1")

	assert.Equal(t, 0, c.Count("node-1"))
	assert.Equal(t, 0, c.Len())
}

func TestCounter_MostAndLeastCommon(t *testing.T) {
	c := NewCounter[string]()
	c.Inc("a", 5)
	c.Inc("b", 1)
	c.Inc("c", 3)

	assert.Equal(t, []string{"a", "c"}, c.MostCommon(2))
	assert.Equal(t, []string{"b", "c"}, c.LeastCommon(2))
	assert.Equal(t, []string{"a", "c", "b"}, c.MostCommon(-1))
}

func TestCounter_NegativeDeltaCanGoNegativeThenDelete(t *testing.T) {
	c := NewCounter[string]()
	c.Inc("x", -5)
	assert.Equal(t, 0, c.Len())
}
