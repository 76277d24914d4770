package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFoldIdentifier(t *testing.T) {
	assert.Equal(t, foldIdentifier("Admin@Example.COM"), foldIdentifier("admin@example.com"))
	assert.Equal(t, foldIdentifier("  Admin  "), foldIdentifier("admin"))
	assert.NotEqual(t, foldIdentifier("admin"), foldIdentifier("admin2"))
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "Ada", normalizeName(" ada "))
	assert.Equal(t, "", normalizeName("   "))
}
