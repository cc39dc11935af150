package core

import (
	"fmt"
	"path/filepath"
	"strings"
)

// PathNormalization decides how much of the input artifact's location takes
// part in an immutable workspace identity.
type PathNormalization string

const (
	// NormalizeAbsolute keeps the absolute path.
	NormalizeAbsolute PathNormalization = "absolute"
	// NormalizeNameOnly keeps the base name only.
	NormalizeNameOnly PathNormalization = "name-only"
	// NormalizeIgnorePath drops the location entirely; only content counts.
	NormalizeIgnorePath PathNormalization = "ignore-path"
)

// ParsePathNormalization accepts the configuration spelling. The empty string
// means NormalizeAbsolute.
func ParsePathNormalization(s string) (PathNormalization, error) {
	switch PathNormalization(strings.ToLower(strings.TrimSpace(s))) {
	case "", NormalizeAbsolute:
		return NormalizeAbsolute, nil
	case NormalizeNameOnly:
		return NormalizeNameOnly, nil
	case NormalizeIgnorePath:
		return NormalizeIgnorePath, nil
	default:
		return "", fmt.Errorf("unknown path normalization %q", s)
	}
}

// Normalize returns the path component that enters the identity.
func (n PathNormalization) Normalize(path string) string {
	switch n {
	case NormalizeNameOnly:
		return filepath.Base(path)
	case NormalizeIgnorePath:
		return ""
	default:
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		return filepath.ToSlash(filepath.Clean(path))
	}
}

// projectRelativePath returns path relative to projectDir, slash separated.
// Paths outside projectDir are kept absolute.
func projectRelativePath(projectDir, path string) string {
	if projectDir == "" {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(projectDir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
