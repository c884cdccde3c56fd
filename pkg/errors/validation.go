package errors

import (
	"regexp"
	"strings"
	"unicode"
)

// ValidatePackageName validates a rule package name for safety and correctness.
// Package names become directory names in the package store, so anything
// that could be used for path traversal is rejected.
//
// The validation rules:
//   - No empty names
//   - Maximum length of 256 characters
//   - No control characters or null bytes
//   - No path separators or traversal sequences
//   - Must match [A-Za-z0-9][A-Za-z0-9._-]*
func ValidatePackageName(name string) error {
	if name == "" {
		return New(ErrCodeInvalidPackage, "package name cannot be empty")
	}

	if len(name) > 256 {
		return New(ErrCodeInvalidPackage, "package name too long (max 256 characters)")
	}

	for _, r := range name {
		if unicode.IsControl(r) {
			return New(ErrCodeInvalidPackage, "package name contains invalid control characters")
		}
	}

	dangerousPatterns := []string{
		"..",   // Parent directory
		"/",    // Path separator
		"\x00", // Null byte
		"\\",   // Backslash (Windows path)
	}

	for _, pattern := range dangerousPatterns {
		if strings.Contains(name, pattern) {
			return New(ErrCodeInvalidPackage, "package name contains invalid characters: %q", pattern)
		}
	}

	if !packageNameRegex.MatchString(name) {
		return New(ErrCodeInvalidPackage, "invalid package name: %q", name)
	}

	return nil
}

var packageNameRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateURL validates an index URL.
// It ensures the URL has a safe scheme (http or https).
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return New(ErrCodeInvalidInput, "URL cannot be empty")
	}

	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return New(ErrCodeInvalidInput, "URL must use http or https scheme: %q", rawURL)
	}

	return nil
}

// hostDependencyRegex matches a host-language requirement such as
// "requests" or "requests>=2.31".
var hostDependencyRegex = regexp.MustCompile(`^((?:[a-zA-Z_-]|\d)+)(?:([>=<]+\d+(?:[.]\d+)*))?$`)

// ParseHostDependency splits "name>=1.2" into its name and constraint.
// The constraint defaults to "*".
func ParseHostDependency(dep string) (name, constraint string, err error) {
	m := hostDependencyRegex.FindStringSubmatch(strings.TrimSpace(dep))
	if m == nil {
		return "", "", New(ErrCodeInvalidInput, "invalid dependency %q", dep)
	}
	constraint = m[2]
	if constraint == "" {
		constraint = "*"
	}
	return m[1], constraint, nil
}
