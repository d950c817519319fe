package session

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidName is wrapped by every ValidateName failure.
var ErrInvalidName = errors.New("invalid session name")

var validName = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName accepts 1 to 64 lowercase letters, digits, '_' or '-'.
// Names become directory names, so nothing else is allowed.
func ValidateName(name string) error {
	if validName.MatchString(name) {
		return nil
	}
	return fmt.Errorf("%w %q: use 1-64 of [a-z0-9_-]", ErrInvalidName, name)
}
