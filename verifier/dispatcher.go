package verifier

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/chaincontext/teeattest/config"
	"github.com/chaincontext/teeattest/cryptoutils"
	"github.com/chaincontext/teeattest/interfaces"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Dispatcher verifies attestation records. It is safe for concurrent use.
type Dispatcher struct {
	log         *slog.Logger
	vtpm        interfaces.VTPMVerifierContract
	tpm         interfaces.TPMVerifierContract
	failureRate float64
	now         func() time.Time

	mu  sync.Mutex
	rng *rand.Rand

	closeFn func()
}

// NewDispatcher creates a dispatcher. Nil verifiers route their kind to
// simulated verification.
func NewDispatcher(cfg config.Config, vtpm interfaces.VTPMVerifierContract, tpm interfaces.TPMVerifierContract, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		log:         log,
		vtpm:        vtpm,
		tpm:         tpm,
		failureRate: cfg.SimulatedFailureRate,
		now:         time.Now,
		rng:         rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

// NewDispatcherFromConfig dials the configured RPC endpoint and binds the
// configured verifier contracts. Binding failures are logged and leave the
// affected kind on simulated verification.
func NewDispatcherFromConfig(ctx context.Context, cfg config.Config, log *slog.Logger) *Dispatcher {
	if cfg.RPCURL == "" || (!cfg.VTPMContract.Enabled() && !cfg.TPMContract.Enabled()) {
		log.Info("No verifier contracts configured, using simulated verification")
		return NewDispatcher(cfg, nil, nil, log)
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		log.Warn("Failed to connect to RPC endpoint, using simulated verification",
			slog.String("rpc", cfg.RPCURL),
			"err", err)
		return NewDispatcher(cfg, nil, nil, log)
	}

	var vtpm interfaces.VTPMVerifierContract
	if cfg.VTPMContract.Enabled() {
		v, err := NewOnchainVTPMVerifier(client, cfg.VTPMContract, cfg.Timeouts.Contract)
		if err != nil {
			log.Warn("Failed to bind vTPM verifier contract", "err", err)
		} else {
			vtpm = v
		}
	}

	var tpm interfaces.TPMVerifierContract
	if cfg.TPMContract.Enabled() {
		v, err := NewOnchainTPMVerifier(client, cfg.TPMContract, cfg.Timeouts.Contract)
		if err != nil {
			log.Warn("Failed to bind TPM verifier contract", "err", err)
		} else {
			tpm = v
		}
	}

	d := NewDispatcher(cfg, vtpm, tpm, log)
	d.closeFn = client.Close
	return d
}

// SetRandSource replaces the source used by simulated verification.
func (d *Dispatcher) SetRandSource(src rand.Source) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rng = rand.New(src)
}

// Close releases the RPC client, if any.
func (d *Dispatcher) Close() {
	if d.closeFn != nil {
		d.closeFn()
	}
}

// Verify returns exactly one result for a record. Contract failures degrade
// to simulated verification; only panics and malformed records produce an
// unverified result with an error.
func (d *Dispatcher) Verify(ctx context.Context, rec interfaces.AttestationRecord) (res interfaces.VerificationResult) {
	now := d.now()

	defer func() {
		if r := recover(); r != nil {
			d.log.Error("Recovered from panic while verifying attestation", slog.Any("panic", r))
			res = errorResult(rec.Kind, fmt.Errorf("panic: %v", r), now)
		}
	}()

	if rec.Simulated {
		return interfaces.VerificationResult{
			Verified:        true,
			Simulated:       true,
			Timestamp:       now.Unix(),
			TransactionHash: common.Hash{}.Hex(),
			Kind:            rec.Kind,
		}
	}

	var (
		called   bool
		verified bool
		digest   []byte
		err      error
	)

	switch rec.Kind {
	case interfaces.KindVTPM:
		if d.vtpm == nil {
			break
		}
		called = true
		verified, err = d.vtpm.VerifyToken(ctx, rec.Header, rec.Payload, rec.Signature)
		digest = vtpmDigest(rec)

	case interfaces.KindTPM:
		if d.tpm == nil {
			break
		}
		var dataHash [32]byte
		dataHash, err = cryptoutils.ParseContentHash(rec.ContentHash)
		if err != nil {
			return errorResult(rec.Kind, fmt.Errorf("invalid content hash: %w", err), now)
		}
		called = true
		verified, err = d.tpm.VerifyQuote(ctx, rec.Quote, dataHash, big.NewInt(rec.Timestamp), rec.Signature)
		digest = rec.Quote

	case interfaces.KindSimulated, interfaces.KindUnknown:
	}

	if called && err == nil {
		d.log.Info("Verified attestation on-chain",
			slog.String("kind", rec.Kind.String()),
			slog.Bool("verified", verified))
		return interfaces.VerificationResult{
			Verified:        verified,
			Timestamp:       now.Unix(),
			TransactionHash: cryptoutils.PseudoTransactionHash(digest, now).Hex(),
			Kind:            rec.Kind,
		}
	}

	if err != nil {
		d.log.Warn("Verifier contract call failed, falling back to simulated verification",
			slog.String("kind", rec.Kind.String()),
			"err", err)
	}
	return d.simulate(rec, now)
}

func (d *Dispatcher) simulate(rec interfaces.AttestationRecord, now time.Time) interfaces.VerificationResult {
	d.mu.Lock()
	roll := d.rng.Float64()
	d.mu.Unlock()

	verified := roll >= d.failureRate
	seed := sha256.Sum256(append([]byte(rec.ContentHash), rec.Nonce...))

	d.log.Debug("Simulated verification",
		slog.String("kind", rec.Kind.String()),
		slog.Bool("verified", verified))

	return interfaces.VerificationResult{
		Verified:        verified,
		Simulated:       true,
		Timestamp:       now.Unix(),
		TransactionHash: cryptoutils.PseudoTransactionHash(seed[:], now).Hex(),
		Kind:            rec.Kind,
	}
}

// vtpmDigest returns the token digest, recomputing it from the token when the
// record carries none.
func vtpmDigest(rec interfaces.AttestationRecord) []byte {
	if digest, err := hexutil.Decode(rec.Digest); err == nil && len(digest) > 0 {
		return digest
	}
	sum := sha256.Sum256([]byte(rec.Token))
	return sum[:]
}

func errorResult(kind interfaces.AttestationKind, err error, now time.Time) interfaces.VerificationResult {
	if err == nil {
		err = errors.New("unknown error")
	}
	return interfaces.VerificationResult{
		Verified:  false,
		Timestamp: now.Unix(),
		Kind:      kind,
		Error:     err.Error(),
	}
}
