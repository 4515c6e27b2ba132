// Package utils provides small filesystem helpers shared across packages.
package utils

import (
	"fmt"
	"os"
)

// EnsureDir creates dir (and any missing parents) if it doesn't already
// exist, returning the same path for convenient chaining.
func EnsureDir(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create directory %q: %w", dir, err)
	}
	return dir, nil
}
