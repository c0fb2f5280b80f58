package cryptoutils

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
)

// NonceSize is the size of generated attestation nonces.
const NonceSize = 16

// GenerateNonce returns size random bytes.
func GenerateNonce(size int) ([]byte, error) {
	nonce := make([]byte, size)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return nonce, nil
}

// DecodeSegment decodes one URL-safe base64 token segment. The alphabet is
// mapped to standard base64 and stripped padding is restored before decoding.
func DecodeSegment(seg string) ([]byte, error) {
	s := strings.NewReplacer("-", "+", "_", "/").Replace(seg)
	if rem := len(s) % 4; rem != 0 {
		s += strings.Repeat("=", 4-rem)
	}
	return base64.StdEncoding.DecodeString(s)
}

// EncodeSegment encodes data as an unpadded URL-safe base64 token segment.
func EncodeSegment(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}
