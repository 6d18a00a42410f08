package library

import (
	"fmt"
	"strings"
)

// sanitizeFolderName maps a display name to a filesystem-safe folder name.
// Letters, digits, '-', '_' and '.' pass through; everything else becomes
// '_'. Names that sanitize to nothing fall back to "untitled".
func sanitizeFolderName(name string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, strings.TrimSpace(name))

	// A folder of only dots or underscores is either invalid ("..") or
	// useless as a label.
	if strings.Trim(mapped, "._") == "" {
		return "untitled"
	}
	return mapped
}

// uniqueFolderName returns base if free, otherwise base_2, base_3, and so on.
func uniqueFolderName(base string, taken map[string]bool) string {
	if !taken[base] {
		return base
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s_%d", base, i)
		if !taken[candidate] {
			return candidate
		}
	}
}
