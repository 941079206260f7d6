package util

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	licenseKeyGroups     = 4
	licenseKeyGroupBytes = 3
)

// GenerateLicenseKey produces an opaque bearer token of four groups of six
// uppercase hex characters, e.g. "A1B2C3-D4E5F6-A7B8C9-D0E1F2". The groups
// come from crypto/rand so keys are neither predictable nor enumerable.
func GenerateLicenseKey() (string, error) {
	groups := make([]string, 0, licenseKeyGroups)
	for i := 0; i < licenseKeyGroups; i++ {
		b := make([]byte, licenseKeyGroupBytes)
		if _, err := rand.Read(b); err != nil {
			return "", fmt.Errorf("failed to read random bytes for license key: %w", err)
		}
		groups = append(groups, strings.ToUpper(hex.EncodeToString(b)))
	}
	return strings.Join(groups, "-"), nil
}
