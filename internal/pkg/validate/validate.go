// Package validate provides input validation for entity names, module
// descriptors, and mount points.
package validate

import (
	"strings"
	"unicode"
)

// NameMaxLen caps user, group, policy, and module names (stored as keys).
const NameMaxLen = 64

// Name validates an entity name (username, group_name, policy_name,
// module_name): non-empty, at most NameMaxLen, no whitespace or control
// characters.
func Name(name string) bool {
	if name == "" || len(name) > NameMaxLen {
		return false
	}
	for _, r := range name {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// MountPoint validates a module mount point: a single absolute path segment
// prefix such as "/m3admin" with no trailing slash (the root "/" is reserved
// for the facade's own endpoints).
func MountPoint(mount string) bool {
	if len(mount) < 2 || mount[0] != '/' {
		return false
	}
	if strings.HasSuffix(mount, "/") {
		return false
	}
	for _, r := range mount[1:] {
		if unicode.IsSpace(r) || unicode.IsControl(r) || r == '?' || r == '#' {
			return false
		}
	}
	return true
}

// OptionName validates a command parameter name: non-empty, no whitespace or
// control characters, no leading dash (option names are stored bare).
func OptionName(name string) bool {
	if !Name(name) {
		return false
	}
	return !strings.HasPrefix(name, "-")
}

// CommandPath validates a slash-separated command path from the command tree:
// every segment must be a valid name.
func CommandPath(path string) bool {
	if path == "" {
		return false
	}
	for _, seg := range strings.Split(path, "/") {
		if !Name(seg) {
			return false
		}
	}
	return true
}
