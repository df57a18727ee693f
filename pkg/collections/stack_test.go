package collections

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStack_PushPop(t *testing.T) {
	s := NewStack[string]()
	s.Push("a")
	s.Push("b")
	s.Push("c")

	v, ok := s.Pop()
	assert.True(t, ok)
	assert.Equal(t, "c", v)
	assert.Equal(t, 2, s.Len())
}

func TestStack_PopEmpty(t *testing.T) {
	s := NewStack[int]()
	_, ok := s.Pop()
	assert.False(t, ok)
}

func TestStack_Peek(t *testing.T) {
	s := NewStack[int]()
	s.Push(1)
	s.Push(2)

	v, ok := s.Peek()
	assert.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 2, s.Len())
}

func TestStack_PopElemRemovesTopmostMatch(t *testing.T) {
	s := NewStack[string]()
	s.Push("x")
	s.Push("y")
	s.Push("x")

	ok := s.PopElem("x")
	assert.True(t, ok)
	assert.Equal(t, 2, s.Len())

	v, _ := s.Pop()
	assert.Equal(t, "y", v)
	v, _ = s.Pop()
	assert.Equal(t, "x", v)
}

func TestStack_PopElemMissing(t *testing.T) {
	s := NewStack[string]()
	s.Push("x")
	assert.False(t, s.PopElem("nope"))
}
