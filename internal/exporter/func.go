package exporter

import (
	"fmt"
	"os"
	"strings"
)

// mkdir checks if the provided path exists and creates it if it does not.
func mkdir(pth string) error {
	if _, err := os.Stat(pth); os.IsNotExist(err) {
		if err = os.MkdirAll(pth, os.ModePerm); err != nil {
			return fmt.Errorf("os.MkdirAll: %w", err)
		}
	}

	return nil
}

// sanitize replaces every character that is unsafe in a file name with '_'.
func sanitize(s string) string {
	return strings.Map(
		func(r rune) rune {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
				return r
			case r == '.' || r == '-' || r == '_':
				return r
			default:
				return '_'
			}
		}, s,
	)
}
