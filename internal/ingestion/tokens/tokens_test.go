package tokens

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeuristic(t *testing.T) {
	h := Heuristic{}
	assert.Equal(t, 0, h.Count(""))
	assert.Equal(t, 1, h.Count("abc"))
	assert.Equal(t, 1, h.Count("abcd"))
	assert.Equal(t, 3, h.Count("Hello world"))
}

func TestNewCounterAlwaysCounts(t *testing.T) {
	c := NewCounter()
	assert.Positive(t, c.Count("Hello world, this is a sentence."))
}
