// Package id generates identifiers for sessions and export jobs.
package id

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExportPrefix starts every export job ID.
const ExportPrefix = "exp"

// Export creates a new unique export job ID.
// Format: exp-<timestamp>-<random>
// Example: exp-1701432000-a1b2c3d4e5f6
func Export() string {
	timestamp := time.Now().Unix()
	random := make([]byte, 6)
	if _, err := rand.Read(random); err != nil {
		// Fallback to nanoseconds if crypto/rand fails
		return fmt.Sprintf("%s-%d", ExportPrefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", ExportPrefix, timestamp, hex.EncodeToString(random))
}

// Session creates a new random session ID.
func Session() string {
	return uuid.NewString()
}

// IsSession reports whether s is a well-formed session ID.
func IsSession(s string) bool {
	return uuid.Validate(s) == nil
}
