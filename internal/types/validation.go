package types

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Maximum length of a composite storage key. Matches the practical limits of
// both cache tiers with headroom for key prefixes.
const maxKeyLength = 512

// Validate checks that the key is usable as a storage key in both tiers.
func (k Key) Validate() error {
	if k.Scope == "" {
		return fmt.Errorf("%w: empty scope", ErrInvalidKey)
	}
	if k.Subscope == "" {
		return fmt.Errorf("%w: empty subscope", ErrInvalidKey)
	}
	if k.Bucket == "" {
		return fmt.Errorf("%w: empty time bucket", ErrInvalidKey)
	}

	composite := k.String()
	if len(composite) > maxKeyLength {
		return fmt.Errorf("%w: key length %d exceeds maximum %d bytes", ErrInvalidKey, len(composite), maxKeyLength)
	}
	if !utf8.ValidString(composite) {
		return fmt.Errorf("%w: key contains invalid UTF-8", ErrInvalidKey)
	}

	for _, part := range []string{k.Scope, k.Subscope, k.Bucket} {
		if strings.ContainsRune(part, ':') {
			return fmt.Errorf("%w: key component %q contains separator ':'", ErrInvalidKey, part)
		}
		for _, r := range part {
			if r < 32 || r == 127 {
				return fmt.Errorf("%w: key component contains control character", ErrInvalidKey)
			}
		}
	}

	return nil
}

// IsInvalidKey reports whether the error indicates an invalid key.
func IsInvalidKey(err error) bool {
	return errors.Is(err, ErrInvalidKey)
}
