package emulator

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims configures the identity asserted by minted tokens.
type Claims struct {
	Issuer      string
	HWModel     string
	SWName      string
	ImageDigest string
	SecureBoot  bool
	TTL         time.Duration
}

// DefaultClaims mirror a Confidential Space workload on AMD SEV.
func DefaultClaims() Claims {
	return Claims{
		Issuer:      "https://confidentialcomputing.googleapis.com",
		HWModel:     "GCP_AMD_SEV",
		SWName:      "CONFIDENTIAL_SPACE",
		ImageDigest: "sha256:0000000000000000000000000000000000000000000000000000000000000000",
		SecureBoot:  true,
		TTL:         time.Hour,
	}
}

// Minter signs attestation tokens with an RSA key generated at construction.
type Minter struct {
	key    *rsa.PrivateKey
	keyID  string
	claims Claims
	now    func() time.Time
}

func NewMinter(claims Claims) (*Minter, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("could not generate signing key: %w", err)
	}
	return &Minter{
		key:    key,
		keyID:  uuid.NewString(),
		claims: claims,
		now:    time.Now,
	}, nil
}

// PublicKey returns the token verification key.
func (m *Minter) PublicKey() *rsa.PublicKey {
	return &m.key.PublicKey
}

// KeyID is the kid header of minted tokens.
func (m *Minter) KeyID() string {
	return m.keyID
}

// Mint returns a signed token for audience. The nonce query value is echoed
// in the eat_nonce claim.
func (m *Minter) Mint(audience, nonce string) (string, error) {
	now := m.now()
	claims := jwt.MapClaims{
		"iss":     m.claims.Issuer,
		"sub":     "https://www.googleapis.com/compute/v1/projects/local/zones/local/instances/emulator",
		"aud":     audience,
		"iat":     now.Unix(),
		"nbf":     now.Unix(),
		"exp":     now.Add(m.claims.TTL).Unix(),
		"hwmodel": m.claims.HWModel,
		"swname":  m.claims.SWName,
		"secboot": m.claims.SecureBoot,
		"submods": map[string]any{
			"container": map[string]any{
				"image_digest": m.claims.ImageDigest,
			},
		},
	}
	if nonce != "" {
		if _, err := base64.StdEncoding.DecodeString(nonce); err != nil {
			return "", fmt.Errorf("nonce is not base64: %w", err)
		}
		claims["eat_nonce"] = nonce
	}

	t := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	t.Header["kid"] = m.keyID
	return t.SignedString(m.key)
}
