package id

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_SortsInCreationOrder(t *testing.T) {
	prev := New()
	for i := 0; i < 100; i++ {
		next := New()
		assert.Len(t, next, 26)
		assert.Less(t, prev, next)
		prev = next
	}
}
