package token

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/chaincontext/teeattest/config"
	"github.com/chaincontext/teeattest/cryptoutils"
	"github.com/chaincontext/teeattest/interfaces"
)

// Acquirer returns the first token produced by an ordered list of sources.
type Acquirer struct {
	log     *slog.Logger
	sources []interfaces.TokenSource
}

func NewAcquirer(log *slog.Logger, sources ...interfaces.TokenSource) *Acquirer {
	return &Acquirer{log: log, sources: sources}
}

// NewAcquirerFromConfig builds the default fallback chain: every metadata
// URL, the attestation CLI, the helper script, then the pre-generated token.
func NewAcquirerFromConfig(cfg config.Config, client *http.Client, runner interfaces.CommandRunner, stores interfaces.TokenStoreFactory, log *slog.Logger) *Acquirer {
	var sources []interfaces.TokenSource
	for _, url := range cfg.Metadata.URLs {
		sources = append(sources, NewMetadataSource(url, cfg.Metadata.HeaderName, cfg.Metadata.HeaderValue, client, cfg.Timeouts.Metadata))
	}
	if cfg.CLIToolPath != "" {
		sources = append(sources, NewCLISource(cfg.CLIToolPath, cfg.CLIToolArgs, cfg.CLIUseSudo, runner, cfg.Timeouts.Command))
	}
	if cfg.HelperScriptPath != "" {
		sources = append(sources, NewScriptSource(cfg.HelperScriptPath, runner, cfg.Timeouts.Command))
	}
	if cfg.FallbackTokenLocation != "" && stores != nil {
		sources = append(sources, NewStoredTokenSource(cfg.FallbackTokenLocation, stores, cfg.Timeouts.Command, log))
	}
	return NewAcquirer(log, sources...)
}

// Sources returns the names of the configured sources in order.
func (a *Acquirer) Sources() []string {
	names := make([]string, 0, len(a.sources))
	for _, s := range a.sources {
		names = append(names, s.Name())
	}
	return names
}

// Acquire tries every source once, in order. A nil nonce is replaced with a
// fresh random one. Returns ErrTokenNotFound when no source yields a token.
func (a *Acquirer) Acquire(ctx context.Context, audience string, nonce []byte) (string, error) {
	if nonce == nil {
		var err error
		if nonce, err = cryptoutils.GenerateNonce(cryptoutils.NonceSize); err != nil {
			return "", fmt.Errorf("could not generate nonce: %w", err)
		}
	}

	for _, source := range a.sources {
		if ctx.Err() != nil {
			break
		}

		start := time.Now()
		token, err := a.try(ctx, source, audience, nonce)
		if err != nil {
			a.log.Warn("Attestation source failed",
				slog.String("source", source.Name()),
				slog.Duration("duration", time.Since(start)),
				"err", err)
			continue
		}

		a.log.Info("Acquired attestation token",
			slog.String("source", source.Name()),
			slog.String("audience", audience),
			slog.Duration("duration", time.Since(start)))
		return token, nil
	}

	return "", fmt.Errorf("%w: tried %d sources for audience %s", interfaces.ErrTokenNotFound, len(a.sources), audience)
}

type tryResult struct {
	token string
	err   error
}

// try runs one source and abandons it once ctx or the source timeout expires,
// even if the source itself does not watch ctx.
func (a *Acquirer) try(ctx context.Context, source interfaces.TokenSource, audience string, nonce []byte) (string, error) {
	if timeout := source.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan tryResult, 1)
	go func() {
		token, err := source.TryAcquire(ctx, audience, nonce)
		done <- tryResult{token, err}
	}()

	select {
	case res := <-done:
		return res.token, res.err
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %s: %w", interfaces.ErrSourceUnavailable, source.Name(), ctx.Err())
	}
}
