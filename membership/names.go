package membership

import (
	"fmt"
	"strings"
)

const (
	// MaxGroupName is the fixed width of a group name on the wire, including the NUL terminator.
	MaxGroupName = 32
	// MaxProcName bounds a daemon name, including the NUL terminator.
	MaxProcName = 20
	// MaxPrivateName bounds the user part of a private name.
	MaxPrivateName = 10
)

// PrivateName identifies one client session: a user chosen name and the daemon
// the session is connected to. Its textual form is "#user#daemon".
type PrivateName struct {
	User   string
	Daemon string
}

// String renders the private name in "#user#daemon" form.
func (p PrivateName) String() string {
	return "#" + p.User + "#" + p.Daemon
}

// ParsePrivateName splits "#user#daemon" into its parts. Both parts may only
// use printable characters above '#'.
func ParsePrivateName(s string) (PrivateName, error) {
	if len(s) == 0 || s[0] != '#' {
		return PrivateName{}, fmt.Errorf("private name %q does not start with '#'", s)
	}
	user, daemon, ok := strings.Cut(s[1:], "#")
	if !ok {
		return PrivateName{}, fmt.Errorf("private name %q has no daemon part", s)
	}
	if err := validNameChars(user); err != nil {
		return PrivateName{}, fmt.Errorf("private name %q: %w", s, err)
	}
	if err := validNameChars(daemon); err != nil {
		return PrivateName{}, fmt.Errorf("private name %q: %w", s, err)
	}
	if len(user) > MaxPrivateName {
		return PrivateName{}, fmt.Errorf("private name %q: user part longer than %d", s, MaxPrivateName)
	}
	if len(daemon) >= MaxProcName {
		return PrivateName{}, fmt.Errorf("private name %q: daemon part longer than %d", s, MaxProcName-1)
	}
	return PrivateName{User: user, Daemon: daemon}, nil
}

// ValidateGroupName checks a group name fits the wire format.
func ValidateGroupName(name string) error {
	if name == "" {
		return fmt.Errorf("empty group name")
	}
	if len(name) >= MaxGroupName {
		return fmt.Errorf("group name %q longer than %d bytes", name, MaxGroupName-1)
	}
	if strings.IndexByte(name, 0) >= 0 {
		return fmt.Errorf("group name %q contains NUL", name)
	}
	return nil
}

func validNameChars(s string) error {
	if s == "" {
		return fmt.Errorf("empty name component")
	}
	for i := 0; i < len(s); i++ {
		if c := s[i]; c <= '#' || c > '~' {
			return fmt.Errorf("illegal character %q", c)
		}
	}
	return nil
}
