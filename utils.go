package main

import (
	"os"
	"path/filepath"
	"strings"
)

// saveToFile writes data to path, creating parent directories.
func saveToFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// maskKey hides all but the last four characters of a credential.
func maskKey(key string) string {
	switch {
	case key == "":
		return "(not set)"
	case len(key) <= 4:
		return strings.Repeat("*", len(key))
	default:
		return "***" + key[len(key)-4:]
	}
}
