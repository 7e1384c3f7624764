package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashPartsDeterministic(t *testing.T) {
	a := HashParts("Bill Gates", "person")
	b := HashParts("Bill Gates", "person")
	c := HashParts("Bill Gates", "organization")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 32)
}

func TestContentID(t *testing.T) {
	id := ContentID([]byte(`{"graph_id":"g1"}`))

	assert.True(t, strings.HasPrefix(id, "sha256-"))
	assert.Equal(t, id, ContentID([]byte(`{"graph_id":"g1"}`)))
	assert.NotEqual(t, id, ContentID([]byte(`{"graph_id":"g2"}`)))
}
