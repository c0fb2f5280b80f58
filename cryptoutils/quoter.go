package cryptoutils

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/chaincontext/teeattest/interfaces"
	"golang.org/x/crypto/hkdf"
)

// DefaultPCRIndex is the PCR the quote is bound to.
const DefaultPCRIndex = 23

var quoteMagic = []byte("TPMQ\x00\x01")

// SimulatedQuoter produces quotes with the layout of a TPM quote over a single
// PCR, signed by an Ed25519 attestation key derived from a seed. It is used
// when a TPM device is present but not driven directly, and for simulated
// records.
type SimulatedQuoter struct {
	pcrIndex int
	pcrValue [32]byte
	key      ed25519.PrivateKey
}

// NewSimulatedQuoter derives the attestation key from seed and deviceLabel.
// An empty seed yields a fresh random key for the life of the process.
func NewSimulatedQuoter(seed []byte, deviceLabel string, pcrIndex int) (*SimulatedQuoter, error) {
	if len(seed) == 0 {
		var err error
		seed, err = GenerateNonce(32)
		if err != nil {
			return nil, fmt.Errorf("could not generate attestation key seed: %w", err)
		}
	}

	kdf := hkdf.New(sha256.New, seed, []byte("teeattest attestation key"), []byte(deviceLabel))
	keySeed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(kdf, keySeed); err != nil {
		return nil, fmt.Errorf("could not derive attestation key: %w", err)
	}

	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], uint32(pcrIndex))
	pcrValue := sha256.Sum256(append(append([]byte("pcr"), idx[:]...), deviceLabel...))

	return &SimulatedQuoter{
		pcrIndex: pcrIndex,
		pcrValue: pcrValue,
		key:      ed25519.NewKeyFromSeed(keySeed),
	}, nil
}

// PublicKey returns the attestation public key.
func (q *SimulatedQuoter) PublicKey() ed25519.PublicKey {
	return q.key.Public().(ed25519.PublicKey)
}

// Quote builds magic | pcr index | pcr value | content hash | sha256(nonce) | timestamp
// and signs its SHA-256 digest.
func (q *SimulatedQuoter) Quote(ctx context.Context, contentHash [32]byte, nonce []byte, timestamp time.Time) (*interfaces.TPMEvidence, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	nonceHash := sha256.Sum256(nonce)

	var buf bytes.Buffer
	buf.Write(quoteMagic)
	binary.Write(&buf, binary.BigEndian, uint32(q.pcrIndex))
	buf.Write(q.pcrValue[:])
	buf.Write(contentHash[:])
	buf.Write(nonceHash[:])
	binary.Write(&buf, binary.BigEndian, timestamp.Unix())

	quote := buf.Bytes()
	digest := sha256.Sum256(quote)

	return &interfaces.TPMEvidence{
		Quote:     quote,
		Signature: ed25519.Sign(q.key, digest[:]),
		PCRIndex:  q.pcrIndex,
	}, nil
}

// VerifySimulatedQuote checks a quote produced by SimulatedQuoter against the
// attestation public key and the expected content hash.
func VerifySimulatedQuote(pub ed25519.PublicKey, evidence *interfaces.TPMEvidence, contentHash [32]byte) error {
	quote := evidence.Quote
	headerLen := len(quoteMagic) + 4 + 32
	if len(quote) != headerLen+32+32+8 || !bytes.HasPrefix(quote, quoteMagic) {
		return errors.New("malformed quote")
	}
	if !bytes.Equal(quote[headerLen:headerLen+32], contentHash[:]) {
		return errors.New("quote is not bound to content hash")
	}
	digest := sha256.Sum256(quote)
	if !ed25519.Verify(pub, digest[:], evidence.Signature) {
		return errors.New("invalid quote signature")
	}
	return nil
}
