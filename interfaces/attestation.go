package interfaces

import (
	"context"
	"math/big"
	"time"
)

// TokenSource is one step of the token fallback chain. TryAcquire must return
// an error wrapping ErrSourceUnavailable or ErrInvalidToken on failure and must
// honour ctx cancellation.
type TokenSource interface {
	Name() string
	Timeout() time.Duration
	TryAcquire(ctx context.Context, audience string, nonce []byte) (string, error)
}

// CommandRunner executes an external command and captures its stdout.
// A non-zero exit status is reported through exitCode, not err.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stdout []byte, exitCode int, err error)
}

// TokenStore reads a pre-generated attestation token from one location.
type TokenStore interface {
	Fetch(ctx context.Context) ([]byte, error)
	Available(ctx context.Context) bool
	Name() string
	LocationURI() string
}

// TokenStoreFactory resolves a token location to a store.
type TokenStoreFactory interface {
	TokenStoreFor(location TokenLocation) (TokenStore, error)
}

// TPMEvidence is quote material produced for a TPM-kind or simulated record.
type TPMEvidence struct {
	Quote     []byte
	Signature []byte
	PCRIndex  int
	// DeviceBacked is true when the quote came from real hardware.
	DeviceBacked bool
}

// Quoter produces TPM-style evidence bound to a content hash and nonce.
type Quoter interface {
	Quote(ctx context.Context, contentHash [32]byte, nonce []byte, timestamp time.Time) (*TPMEvidence, error)
}

// VTPMVerifierContract is the on-chain verifier for vTPM tokens.
type VTPMVerifierContract interface {
	VerifyToken(ctx context.Context, header, payload, signature []byte) (bool, error)
}

// TPMVerifierContract is the on-chain verifier for TPM quotes.
type TPMVerifierContract interface {
	VerifyQuote(ctx context.Context, quote []byte, dataHash [32]byte, timestamp *big.Int, signature []byte) (bool, error)
}
