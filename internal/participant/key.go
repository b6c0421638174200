// Package participant models the structured identifier of a directory entrant.
package participant

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultScheme is applied when a participant is given without a scheme.
const DefaultScheme = "iso6523-actorid-upis"

// schemeSeparator separates scheme and value in the URI encoded form.
const schemeSeparator = "::"

// Key identifies a participant by scheme and value.
// Key is comparable and is used directly as a map key.
type Key struct {
	Scheme string `json:"scheme" yaml:"scheme"`
	Value  string `json:"value" yaml:"value"`
}

// New creates a key, normalizing the scheme.
func New(scheme, value string) (Key, error) {
	scheme = strings.ToLower(strings.TrimSpace(scheme))
	value = strings.TrimSpace(value)
	if scheme == "" {
		scheme = DefaultScheme
	}
	if value == "" {
		return Key{}, fmt.Errorf("participant value is required")
	}
	if strings.Contains(scheme, schemeSeparator) {
		return Key{}, fmt.Errorf("participant scheme %q must not contain %q", scheme, schemeSeparator)
	}
	return Key{Scheme: scheme, Value: value}, nil
}

// Parse parses "scheme::value" or a bare "value" using DefaultScheme.
func Parse(s string) (Key, error) {
	s = strings.TrimSpace(s)
	if scheme, value, ok := strings.Cut(s, schemeSeparator); ok {
		if strings.TrimSpace(scheme) == "" {
			return Key{}, fmt.Errorf("participant %q has an empty scheme", s)
		}
		return New(scheme, value)
	}
	return New(DefaultScheme, s)
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(s string) Key {
	k, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return k
}

// URIEncoded returns the "scheme::value" form used as the index key.
func (k Key) URIEncoded() string {
	return k.Scheme + schemeSeparator + k.Value
}

// PathEscaped returns the URI encoded form escaped for use in a URL path
// segment or a file name.
func (k Key) PathEscaped() string {
	return url.PathEscape(k.URIEncoded())
}

// IsZero reports whether k is the zero key.
func (k Key) IsZero() bool {
	return k.Value == ""
}

// String implements fmt.Stringer.
func (k Key) String() string {
	return k.URIEncoded()
}
