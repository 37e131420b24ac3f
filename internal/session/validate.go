package session

import (
	"errors"
	"fmt"
	"regexp"
)

// MaxNameLen keeps the session socket path below the unix socket path limit.
const MaxNameLen = 32

var nameRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ErrEmptyName is returned when no session name was given.
var ErrEmptyName = errors.New("session name is empty")

// ValidateName checks that name can be used as a session directory and socket name.
func ValidateName(name string) error {
	switch {
	case name == "":
		return ErrEmptyName
	case len(name) > MaxNameLen:
		return fmt.Errorf("invalid session name %q: longer than %d characters", name, MaxNameLen)
	case !nameRegexp.MatchString(name):
		return fmt.Errorf("invalid session name %q: use lowercase letters, digits, '-' and '_', starting with a letter or digit", name)
	}
	return nil
}
