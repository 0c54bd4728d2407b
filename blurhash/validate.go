package blurhash

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTooShort         = errors.New("blurhash: hash must be at least 6 characters")
	ErrInvalidCharacter = errors.New("blurhash: invalid base83 character")
	ErrLengthMismatch   = errors.New("blurhash: length does not match component count")
	ErrComponentRange   = errors.New("blurhash: components must be between 1 and 9")
	ErrEmptyImage       = errors.New("blurhash: empty image")
	ErrNoSurface        = errors.New("blurhash: no surface to paint on")
)

// Components returns the component grid encoded in hash.
func Components(hash string) (x, y int, err error) {
	if len(hash) < 6 {
		return 0, 0, fmt.Errorf("%w: got %d", ErrTooShort, len(hash))
	}
	flag := strings.IndexByte(alphabet, hash[0])
	if flag < 0 {
		return 0, 0, fmt.Errorf("%w: %q at 0", ErrInvalidCharacter, hash[0])
	}
	x, y = gridSize(flag)
	return x, y, nil
}

// Validate reports whether hash is a well-formed BlurHash.
func Validate(hash string) error {
	x, y, err := Components(hash)
	if err != nil {
		return err
	}
	for i := 0; i < len(hash); i++ {
		if strings.IndexByte(alphabet, hash[i]) < 0 {
			return fmt.Errorf("%w: %q at %d", ErrInvalidCharacter, hash[i], i)
		}
	}
	if want := 4 + 2*x*y; len(hash) != want {
		return fmt.Errorf("%w: %dx%d components need %d characters, got %d", ErrLengthMismatch, x, y, want, len(hash))
	}
	return nil
}
