package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidIdentifier is returned for keys that are not namespace:value.
var ErrInvalidIdentifier = errors.New("invalid identifier")

// Identifier is a namespaced key such as "minecraft:brand".
type Identifier struct {
	Namespace string
	Value     string
}

// ParseIdentifier splits and validates s. Both halves must be non-empty; the
// namespace allows [a-z0-9._-] and the value additionally allows '/'.
func ParseIdentifier(s string) (Identifier, error) {
	ns, value, ok := strings.Cut(s, ":")
	if !ok {
		return Identifier{}, fmt.Errorf("%w %q: missing ':'", ErrInvalidIdentifier, s)
	}
	if ns == "" || value == "" {
		return Identifier{}, fmt.Errorf("%w %q: empty namespace or value", ErrInvalidIdentifier, s)
	}
	for i := 0; i < len(ns); i++ {
		if !validNamespaceChar(ns[i]) {
			return Identifier{}, fmt.Errorf("%w %q: bad namespace character %q", ErrInvalidIdentifier, s, ns[i])
		}
	}
	for i := 0; i < len(value); i++ {
		if !validNamespaceChar(value[i]) && value[i] != '/' {
			return Identifier{}, fmt.Errorf("%w %q: bad value character %q", ErrInvalidIdentifier, s, value[i])
		}
	}
	return Identifier{Namespace: ns, Value: value}, nil
}

// MustIdentifier parses s and panics on failure. For package-level constants only.
func MustIdentifier(s string) Identifier {
	id, err := ParseIdentifier(s)
	if err != nil {
		panic(err)
	}
	return id
}

func validNamespaceChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '.' || c == '_' || c == '-'
}

// String joins the two halves.
func (id Identifier) String() string {
	return id.Namespace + ":" + id.Value
}
