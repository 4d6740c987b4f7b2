package util

import "fmt"

// MaxNameLength caps agent names and usernames. Names become file and
// directory names, so the cap keeps derived paths well under filesystem
// limits.
const MaxNameLength = 64

// ValidateName checks that name is safe to use as a path component.
// Agent names and usernames turn into lock files, registry records, and
// profile directories, so they must not carry separators, traversal
// sequences, or characters that behave differently across filesystems.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("name is empty")
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("name %q exceeds %d characters", name, MaxNameLength)
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
			if i == 0 || i == len(name)-1 {
				return fmt.Errorf("name %q must start and end with a letter or digit", name)
			}
		default:
			return fmt.Errorf("name %q contains invalid character %q (use lowercase letters, digits, hyphens)", name, r)
		}
	}
	return nil
}
