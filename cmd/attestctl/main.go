package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chaincontext/teeattest/attestation"
	"github.com/chaincontext/teeattest/cmd/flags"
	"github.com/chaincontext/teeattest/interfaces"
	"github.com/chaincontext/teeattest/token"
	"github.com/chaincontext/teeattest/tokenstore"
	"github.com/chaincontext/teeattest/verifier"
	"github.com/urfave/cli/v2"
)

var flagQuery = &cli.StringFlag{
	Name:     "query",
	Required: true,
	Usage:    "query that was answered",
}
var flagResponse = &cli.StringFlag{
	Name:  "response",
	Usage: "response to attest, parsed as JSON when valid and used as a string otherwise",
}
var flagContextID = &cli.StringSliceFlag{
	Name:  "context-id",
	Usage: "identifier of a context item used for the answer, repeatable",
}
var flagVerify = &cli.BoolFlag{
	Name:  "verify",
	Usage: "verify the record after building it",
}
var flagRecord = &cli.StringFlag{
	Name:  "record",
	Value: "-",
	Usage: "attestation record JSON file, '-' reads stdin",
}
var flagNonce = &cli.StringFlag{
	Name:  "nonce",
	Usage: "base64 nonce sent to the metadata service, random when empty",
}
var flagTokenFile = &cli.StringFlag{
	Name:  "token-file",
	Usage: "read the token from a file instead of the first argument",
}

func main() {
	app := &cli.App{
		Name:           "attestctl",
		Usage:          "Build and verify TEE attestations",
		DefaultCommand: "detect",
		Flags:          append(append(flags.LogFlags, flags.LogServiceFlagFn("attestctl")), flags.EngineFlags...),
		Commands: []*cli.Command{
			{
				Name:   "detect",
				Usage:  "Report the execution environment and token sources",
				Action: detectAction,
			},
			{
				Name:   "token",
				Usage:  "Acquire a vTPM attestation token",
				Flags:  []cli.Flag{flagNonce},
				Action: tokenAction,
			},
			{
				Name:      "decode",
				Usage:     "Decode a vTPM attestation token",
				ArgsUsage: "[token]",
				Flags:     []cli.Flag{flagTokenFile},
				Action:    decodeAction,
			},
			{
				Name:   "attest",
				Usage:  "Build an attestation record",
				Flags:  []cli.Flag{flagQuery, flagResponse, flagContextID, flagVerify},
				Action: attestAction,
			},
			{
				Name:   "verify",
				Usage:  "Verify an attestation record",
				Flags:  []cli.Flag{flagRecord},
				Action: verifyAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func signalContext(cCtx *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cCtx.Context, os.Interrupt, syscall.SIGTERM)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func detectAction(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)
	cfg, err := flags.LoadConfig(cCtx)
	if err != nil {
		return err
	}

	detector := attestation.NewDetector(cfg, &http.Client{}, logger)
	acquirer := token.NewAcquirerFromConfig(cfg, nil, token.ExecRunner{}, tokenstore.NewFactory(logger), logger)

	_, statErr := os.Stat(cfg.TPMDevicePath)
	return printJSON(cCtx.App.Writer, map[string]any{
		"confidential_vm":    detector.IsConfidentialVM(),
		"tpm_device":         cfg.TPMDevicePath,
		"tpm_device_present": statErr == nil,
		"audience":           cfg.EffectiveAudience(),
		"token_sources":      acquirer.Sources(),
		"vtpm_contract":      cfg.VTPMContract.Address,
		"tpm_contract":       cfg.TPMContract.Address,
	})
}

func tokenAction(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)
	cfg, err := flags.LoadConfig(cCtx)
	if err != nil {
		return err
	}

	var nonce []byte
	if s := cCtx.String(flagNonce.Name); s != "" {
		if nonce, err = base64.StdEncoding.DecodeString(s); err != nil {
			return fmt.Errorf("invalid nonce: %w", err)
		}
	}

	ctx, cancel := signalContext(cCtx)
	defer cancel()

	acquirer := token.NewAcquirerFromConfig(cfg, &http.Client{}, token.ExecRunner{}, tokenstore.NewFactory(logger), logger)
	raw, err := acquirer.Acquire(ctx, cfg.EffectiveAudience(), nonce)
	if err != nil {
		return err
	}

	fmt.Fprintln(cCtx.App.Writer, raw)
	return nil
}

func decodeAction(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)
	cfg, err := flags.LoadConfig(cCtx)
	if err != nil {
		return err
	}

	raw := cCtx.Args().First()
	if path := cCtx.String(flagTokenFile.Name); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		raw = string(data)
	}
	if strings.TrimSpace(raw) == "" {
		return errors.New("a token argument or --token-file is required")
	}

	decoded, err := token.NewDecoder(logger, cfg.ExpectedClaims).Decode(raw)
	if err != nil {
		return err
	}

	return printJSON(cCtx.App.Writer, map[string]any{
		"header":     decoded.HeaderHex(),
		"payload":    decoded.PayloadHex(),
		"signature":  decoded.SignatureHex(),
		"digest":     decoded.DigestHex(),
		"jwt_header": decoded.HeaderFields,
		"claims":     decoded.Claims,
	})
}

func parseResponse(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}

func attestAction(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)
	cfg, err := flags.LoadConfig(cCtx)
	if err != nil {
		return err
	}

	builder, err := attestation.NewBuilderFromConfig(cfg, logger)
	if err != nil {
		return err
	}

	var items []interfaces.ContextItem
	for _, id := range cCtx.StringSlice(flagContextID.Name) {
		items = append(items, interfaces.ContextItem{ID: id})
	}

	ctx, cancel := signalContext(cCtx)
	defer cancel()

	rec := builder.Build(ctx, cCtx.String(flagQuery.Name), items, parseResponse(cCtx.String(flagResponse.Name)))
	if !cCtx.Bool(flagVerify.Name) {
		return printJSON(cCtx.App.Writer, rec)
	}

	dispatcher := verifier.NewDispatcherFromConfig(ctx, cfg, logger)
	defer dispatcher.Close()

	return printJSON(cCtx.App.Writer, map[string]any{
		"attestation":  rec,
		"verification": dispatcher.Verify(ctx, rec),
	})
}

func verifyAction(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)
	cfg, err := flags.LoadConfig(cCtx)
	if err != nil {
		return err
	}

	rec, err := readRecord(cCtx.String(flagRecord.Name), cCtx.App.Reader)
	if err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		logger.Warn("Attestation record is malformed", "err", err)
	}

	ctx, cancel := signalContext(cCtx)
	defer cancel()

	dispatcher := verifier.NewDispatcherFromConfig(ctx, cfg, logger)
	defer dispatcher.Close()

	res := dispatcher.Verify(ctx, rec)
	logger.Info("Verification finished",
		slog.Bool("verified", res.Verified),
		slog.Bool("simulated", res.Simulated))
	return printJSON(cCtx.App.Writer, res)
}

// readRecord accepts either a bare record or the output of "attest --verify".
func readRecord(path string, stdin io.Reader) (interfaces.AttestationRecord, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return interfaces.AttestationRecord{}, fmt.Errorf("could not read record: %w", err)
	}

	var wrapped struct {
		Attestation *interfaces.AttestationRecord `json:"attestation"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Attestation != nil {
		return *wrapped.Attestation, nil
	}

	var rec interfaces.AttestationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return interfaces.AttestationRecord{}, fmt.Errorf("could not parse record: %w", err)
	}
	return rec, nil
}
