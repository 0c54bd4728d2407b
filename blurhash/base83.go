// Package blurhash decodes and encodes BlurHash strings: compact base-83 tokens that carry
// a handful of DCT components of an image, used to paint a blurred placeholder while the
// full image loads.
package blurhash

import "strings"

// alphabet is the base-83 digit set, in digit order.
const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz#$%*+,-.:;=?@[]^_{|}~"

// Decode83 interprets token as an unsigned base-83 number, most significant digit first.
// An empty token is 0. Characters outside the alphabet count as digit -1.
func Decode83(token string) int {
	value := 0
	for i := 0; i < len(token); i++ {
		value = value*83 + strings.IndexByte(alphabet, token[i])
	}
	return value
}

// Encode83 writes value as exactly length base-83 digits (zero padded, higher digits dropped).
// Negative values encode as 0.
func Encode83(value, length int) string {
	if value < 0 {
		value = 0
	}
	var b strings.Builder
	b.Grow(length)
	divisor := 1
	for i := 1; i < length; i++ {
		divisor *= 83
	}
	for ; length > 0; length-- {
		digit := (value / divisor) % 83
		b.WriteByte(alphabet[digit])
		divisor /= 83
	}
	return b.String()
}

// segment returns hash[start:end] clamped to the string, so truncated hashes read short digit groups.
func segment(hash string, start, end int) string {
	if start >= len(hash) {
		return ""
	}
	if end > len(hash) {
		end = len(hash)
	}
	return hash[start:end]
}
