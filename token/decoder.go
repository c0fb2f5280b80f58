package token

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chaincontext/teeattest/config"
	"github.com/chaincontext/teeattest/cryptoutils"
	"github.com/chaincontext/teeattest/interfaces"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/golang-jwt/jwt/v5"
)

// Decoded is a token split into its segments.
type Decoded struct {
	Raw       string
	Header    []byte
	Payload   []byte
	Signature []byte
	// Digest is SHA-256 over the ASCII "<header>.<payload>" encoded segments.
	Digest [32]byte

	// HeaderFields and Claims are set when the segments hold JSON objects.
	HeaderFields map[string]any
	Claims       map[string]any
}

func (d *Decoded) HeaderHex() string    { return hexutil.Encode(d.Header) }
func (d *Decoded) PayloadHex() string   { return hexutil.Encode(d.Payload) }
func (d *Decoded) SignatureHex() string { return hexutil.Encode(d.Signature) }
func (d *Decoded) DigestHex() string    { return hexutil.Encode(d.Digest[:]) }

// Decode splits a compact token. Surrounding whitespace is ignored and every
// segment must be non-empty.
func Decode(token string) (*Decoded, error) {
	raw := strings.TrimSpace(token)
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 segments, got %d", interfaces.ErrDecode, len(parts))
	}

	names := [3]string{"header", "payload", "signature"}
	var segments [3][]byte
	for i, part := range parts {
		if part == "" {
			return nil, fmt.Errorf("%w: empty %s segment", interfaces.ErrDecode, names[i])
		}
		data, err := cryptoutils.DecodeSegment(part)
		if err != nil {
			return nil, fmt.Errorf("%w: %s segment: %v", interfaces.ErrDecode, names[i], err)
		}
		segments[i] = data
	}

	d := &Decoded{
		Raw:       raw,
		Header:    segments[0],
		Payload:   segments[1],
		Signature: segments[2],
		Digest:    sha256.Sum256([]byte(parts[0] + "." + parts[1])),
	}

	if parsed, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{}); err == nil {
		d.HeaderFields = parsed.Header
		if claims, ok := parsed.Claims.(jwt.MapClaims); ok {
			d.Claims = claims
		}
	}

	return d, nil
}

// EncodeSegments joins raw segments into a compact token.
func EncodeSegments(header, payload, signature []byte) string {
	return cryptoutils.EncodeSegment(header) + "." +
		cryptoutils.EncodeSegment(payload) + "." +
		cryptoutils.EncodeSegment(signature)
}

// Decoder decodes tokens and logs claim diagnostics.
type Decoder struct {
	log      *slog.Logger
	expected config.ExpectedClaims
}

func NewDecoder(log *slog.Logger, expected config.ExpectedClaims) *Decoder {
	return &Decoder{log: log, expected: expected}
}

// Decode decodes a token and reports claims that differ from the expected
// confidential-space values. Diagnostics never fail the decode.
func (dec *Decoder) Decode(token string) (*Decoded, error) {
	d, err := Decode(token)
	if err != nil {
		dec.log.Warn("Failed to decode attestation token", "err", err)
		return nil, err
	}

	if d.Claims == nil {
		dec.log.Debug("Token payload is not a JSON object", slog.Int("payloadSize", len(d.Payload)))
		return d, nil
	}

	dec.log.Debug("Decoded attestation token",
		slog.Any("alg", d.HeaderFields["alg"]),
		slog.String("iss", claimString(d.Claims, "iss")),
		slog.String("hwmodel", claimString(d.Claims, "hwmodel")),
		slog.String("swname", claimString(d.Claims, "swname")),
		slog.String("image_digest", imageDigest(d.Claims)),
		slog.Any("secboot", d.Claims["secboot"]),
		slog.String("digest", d.DigestHex()))

	for _, m := range dec.Mismatches(d.Claims) {
		dec.log.Warn("Unexpected attestation claim",
			slog.String("claim", m.Claim),
			slog.String("expected", m.Expected),
			slog.String("actual", m.Actual))
	}

	return d, nil
}

// ClaimMismatch describes a claim that differs from its expected value.
type ClaimMismatch struct {
	Claim    string
	Expected string
	Actual   string
}

// Mismatches compares claims against the configured expectations. Empty
// expectations are skipped.
func (dec *Decoder) Mismatches(claims map[string]any) []ClaimMismatch {
	var out []ClaimMismatch
	for _, c := range []struct{ claim, expected string }{
		{"iss", dec.expected.Issuer},
		{"hwmodel", dec.expected.HWModel},
		{"swname", dec.expected.SWName},
	} {
		if c.expected == "" {
			continue
		}
		if actual := claimString(claims, c.claim); actual != c.expected {
			out = append(out, ClaimMismatch{Claim: c.claim, Expected: c.expected, Actual: actual})
		}
	}
	return out
}

func claimString(claims map[string]any, name string) string {
	s, _ := claims[name].(string)
	return s
}

// imageDigest reads submods.container.image_digest from confidential space tokens.
func imageDigest(claims map[string]any) string {
	submods, _ := claims["submods"].(map[string]any)
	container, _ := submods["container"].(map[string]any)
	digest, _ := container["image_digest"].(string)
	return digest
}
