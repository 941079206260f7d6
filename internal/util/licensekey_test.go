package util

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var licenseKeyPattern = regexp.MustCompile(`^[0-9A-F]{6}(-[0-9A-F]{6}){3}$`)

func TestGenerateLicenseKeyFormat(t *testing.T) {
	for i := 0; i < 50; i++ {
		key, err := GenerateLicenseKey()
		require.NoError(t, err)
		assert.Regexp(t, licenseKeyPattern, key)
	}
}

func TestGenerateLicenseKeyUniqueness(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		key, err := GenerateLicenseKey()
		require.NoError(t, err)
		_, dup := seen[key]
		assert.False(t, dup, "duplicate key generated: %s", key)
		seen[key] = struct{}{}
	}
}
