package attestation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/chaincontext/teeattest/config"
	"github.com/chaincontext/teeattest/cryptoutils"
	"github.com/chaincontext/teeattest/interfaces"
	"github.com/chaincontext/teeattest/token"
	"github.com/chaincontext/teeattest/tokenstore"
)

// TokenAcquirer returns a vTPM token for an audience.
type TokenAcquirer interface {
	Acquire(ctx context.Context, audience string, nonce []byte) (string, error)
}

// EnvironmentDetector reports whether vTPM tokens should be requested.
type EnvironmentDetector interface {
	IsConfidentialVM() bool
}

// Builder produces attestation records. It is safe for concurrent use.
type Builder struct {
	log        *slog.Logger
	detector   EnvironmentDetector
	acquirer   TokenAcquirer
	decoder    *token.Decoder
	quoter     interfaces.Quoter
	simulator  interfaces.Quoter
	devicePath string
	audience   string
	now        func() time.Time
}

// NewBuilder wires a builder from explicit collaborators. quoter serves TPM
// records; simulated records always use a SimulatedQuoter.
func NewBuilder(cfg config.Config, detector EnvironmentDetector, acquirer TokenAcquirer, quoter interfaces.Quoter, log *slog.Logger) (*Builder, error) {
	simulator, err := cryptoutils.NewSimulatedQuoter(cfg.KeySeed(), "simulated", cryptoutils.DefaultPCRIndex)
	if err != nil {
		return nil, err
	}

	return &Builder{
		log:        log,
		detector:   detector,
		acquirer:   acquirer,
		decoder:    token.NewDecoder(log, cfg.ExpectedClaims),
		quoter:     quoter,
		simulator:  simulator,
		devicePath: cfg.TPMDevicePath,
		audience:   cfg.EffectiveAudience(),
		now:        time.Now,
	}, nil
}

// NewBuilderFromConfig wires the production collaborators: the metadata
// detector, the default token fallback chain and the quoter matching the
// configured device.
func NewBuilderFromConfig(cfg config.Config, log *slog.Logger) (*Builder, error) {
	client := &http.Client{}
	detector := NewDetector(cfg, client, log)
	acquirer := token.NewAcquirerFromConfig(cfg, client, token.ExecRunner{}, tokenstore.NewFactory(log), log)

	quoter, err := QuoterFor(cfg)
	if err != nil {
		return nil, err
	}

	return NewBuilder(cfg, detector, acquirer, quoter, log)
}

// QuoterFor returns the TDX quoter for TDX guest devices and a simulated
// quoter keyed to the device path otherwise.
func QuoterFor(cfg config.Config) (interfaces.Quoter, error) {
	if filepath.Base(cfg.TPMDevicePath) == "tdx_guest" {
		return &cryptoutils.TDXQuoter{PCRIndex: cryptoutils.DefaultPCRIndex}, nil
	}
	return cryptoutils.NewSimulatedQuoter(cfg.KeySeed(), cfg.TPMDevicePath, cryptoutils.DefaultPCRIndex)
}

// Build returns an attestation record for a query response. It never fails;
// errors are reported through the record's Error field.
func (b *Builder) Build(ctx context.Context, query string, contextItems []interfaces.ContextItem, response any) (rec interfaces.AttestationRecord) {
	now := b.now()

	defer func() {
		if r := recover(); r != nil {
			b.log.Error("Recovered from panic while building attestation",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			rec = errorRecord(fmt.Errorf("panic: %v", r), now)
		}
	}()

	rec, err := b.build(ctx, query, contextItems, response, now)
	if err != nil {
		b.log.Error("Failed to build attestation", "err", err)
		return errorRecord(err, now)
	}

	b.log.Info("Built attestation",
		slog.String("kind", rec.Kind.String()),
		slog.Bool("simulated", rec.Simulated),
		slog.String("contentHash", rec.ContentHash))
	return rec
}

func (b *Builder) build(ctx context.Context, query string, contextItems []interfaces.ContextItem, response any, now time.Time) (interfaces.AttestationRecord, error) {
	contentHash, err := cryptoutils.HashContent(query, interfaces.ContextIDs(contextItems), response, now)
	if err != nil {
		return interfaces.AttestationRecord{}, err
	}

	hashBytes, err := cryptoutils.ParseContentHash(contentHash)
	if err != nil {
		return interfaces.AttestationRecord{}, err
	}

	nonce, err := cryptoutils.GenerateNonce(cryptoutils.NonceSize)
	if err != nil {
		return interfaces.AttestationRecord{}, fmt.Errorf("could not generate nonce: %w", err)
	}

	base := interfaces.AttestationRecord{
		ContentHash: contentHash,
		Timestamp:   now.Unix(),
		Nonce:       nonce,
	}

	if b.detector != nil && b.detector.IsConfidentialVM() {
		rec, err := b.vtpmRecord(ctx, base)
		if err == nil {
			return rec, nil
		}
		b.log.Warn("vTPM attestation unavailable, falling back", "err", err)
	}

	if b.deviceExists() && b.quoter != nil {
		evidence, err := b.quoter.Quote(ctx, hashBytes, nonce, now)
		if err == nil {
			return quoteRecord(base, interfaces.KindTPM, evidence), nil
		}
		b.log.Warn("TPM quote failed, falling back to simulation",
			slog.String("device", b.devicePath),
			"err", err)
	}

	evidence, err := b.simulator.Quote(ctx, hashBytes, nonce, now)
	if err != nil {
		return interfaces.AttestationRecord{}, fmt.Errorf("simulated quote failed: %w", err)
	}
	return quoteRecord(base, interfaces.KindSimulated, evidence), nil
}

func (b *Builder) vtpmRecord(ctx context.Context, base interfaces.AttestationRecord) (interfaces.AttestationRecord, error) {
	if b.acquirer == nil {
		return interfaces.AttestationRecord{}, interfaces.ErrTokenNotFound
	}

	raw, err := b.acquirer.Acquire(ctx, b.audience, base.Nonce)
	if err != nil {
		return interfaces.AttestationRecord{}, err
	}

	decoded, err := b.decoder.Decode(raw)
	if err != nil {
		return interfaces.AttestationRecord{}, err
	}

	rec := base
	rec.Kind = interfaces.KindVTPM
	rec.Token = decoded.Raw
	rec.Header = decoded.Header
	rec.Payload = decoded.Payload
	rec.Signature = decoded.Signature
	rec.Digest = decoded.DigestHex()
	return rec, nil
}

func (b *Builder) deviceExists() bool {
	if b.devicePath == "" {
		return false
	}
	_, err := os.Stat(b.devicePath)
	return err == nil
}

func quoteRecord(base interfaces.AttestationRecord, kind interfaces.AttestationKind, evidence *interfaces.TPMEvidence) interfaces.AttestationRecord {
	rec := base
	rec.Kind = kind
	rec.Simulated = kind == interfaces.KindSimulated
	rec.Quote = evidence.Quote
	rec.Signature = evidence.Signature
	rec.PCRIndex = evidence.PCRIndex
	return rec
}

func errorRecord(err error, now time.Time) interfaces.AttestationRecord {
	if err == nil {
		err = errors.New("unknown error")
	}
	return interfaces.AttestationRecord{
		Kind:      interfaces.KindSimulated,
		Simulated: true,
		Timestamp: now.Unix(),
		Error:     err.Error(),
	}
}
