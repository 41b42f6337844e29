// Package uuid generates entity ids.
//
// Ids created offline carry the "tmp-" prefix until the server assigns the
// permanent id; server ids are plain UUID v4 strings.
package uuid

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// ClientPrefix marks ids generated on the device.
const ClientPrefix = "tmp-"

// UUID v4 format: xxxxxxxx-xxxx-4xxx-yxxx-xxxxxxxxxxxx
// where y is one of [8, 9, a, b] (variant bits)
var uuidV4Regex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-4[0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)

// New generates a new UUID v4.
func New() string {
	return uuid.New().String()
}

// NewClientID generates a temporary id for an entity created locally.
func NewClientID() string {
	return ClientPrefix + New()
}

// IsClientID reports whether id was generated by NewClientID.
func IsClientID(id string) bool {
	rest, ok := strings.CutPrefix(id, ClientPrefix)
	return ok && IsValid(rest)
}

// IsValid checks if a string is a valid UUID v4.
// Enforces strict format with dashes and correct variant bits.
func IsValid(s string) bool {
	return uuidV4Regex.MatchString(s)
}

// Validate returns an error if the string is not a valid UUID v4.
func Validate(s string) error {
	if !IsValid(s) {
		return fmt.Errorf("invalid UUID v4 format: %q", s)
	}
	return nil
}
