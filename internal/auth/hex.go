package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// RandomHex returns n random lower-case hex characters. n must be even since
// every byte of entropy encodes to two characters.
func RandomHex(n int) (string, error) {
	if n <= 0 || n%2 != 0 {
		return "", fmt.Errorf("hex length must be a positive even number, got %d", n)
	}
	buf := make([]byte, n/2)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
