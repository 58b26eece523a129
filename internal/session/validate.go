package session

import (
	"errors"
	"fmt"
)

const maxNameLen = 64

// ErrInvalidName is wrapped by every ValidateName failure.
var ErrInvalidName = errors.New("invalid profile name")

// ValidateName checks a profile name. Names become directory and socket
// names, so they are limited to lowercase letters, digits, '-' and '_', and
// must not start with '-'.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case len(name) > maxNameLen:
		return fmt.Errorf("%w %q: longer than %d characters", ErrInvalidName, name, maxNameLen)
	case name[0] == '-':
		return fmt.Errorf("%w %q: must not start with '-'", ErrInvalidName, name)
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '-' && c != '_' {
			return fmt.Errorf("%w %q: %q not allowed, use a-z, 0-9, '-' or '_'", ErrInvalidName, name, rune(c))
		}
	}
	return nil
}
