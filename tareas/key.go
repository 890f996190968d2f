package tareas

import (
	"fmt"

	"github.com/oklog/ulid/v2"
)

// Key is the identity of a task record. The store treats keys as opaque strings;
// keys minted by this client are ULIDs so that newly appended records sort by
// creation time when compared lexically.
type Key = string

func NewKey() Key {
	return Key(ulid.Make().String())
}

func ValidateKey(key Key) error {
	if key == "" {
		return fmt.Errorf("empty key")
	}
	for _, c := range key {
		if c == '/' || c == '.' || c == '#' || c == '$' || c == '[' || c == ']' {
			return fmt.Errorf("key contains reserved character %q", c)
		}
	}
	return nil
}
