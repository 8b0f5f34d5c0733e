package token

import (
	"crypto/rand"
	"fmt"
)

// Base62 alphabet, safe in URL paths without escaping
const alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// URLNonceLength gives roughly 190 bits of entropy
const URLNonceLength = 32

// Generate creates a cryptographically secure random Base62 string of the given length.
func Generate(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("invalid token length: %d", length)
	}

	// Rejection sampling avoids modulo bias; 248 is the largest multiple of 62 below 256.
	const maxRandomByte = 248

	out := make([]byte, length)
	buf := make([]byte, length*2)
	written := 0

	for written < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to read secure random bytes: %w", err)
		}
		for _, b := range buf {
			if b >= maxRandomByte {
				continue
			}
			out[written] = alphabet[int(b)%len(alphabet)]
			written++
			if written == length {
				break
			}
		}
	}
	return string(out), nil
}

// URLNonce returns a fresh secret for public receipt links
func URLNonce() (string, error) {
	return Generate(URLNonceLength)
}
