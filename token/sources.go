package token

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/chaincontext/teeattest/interfaces"
)

// maxTokenSize bounds how much of a response or file is read as a token.
const maxTokenSize = 64 << 10

// ValidTokenShape reports whether s has the compact three-segment shape.
func ValidTokenShape(s string) bool {
	return s != "" && strings.Count(s, ".") == 2
}

// firstLine returns the first non-empty line of output, trimmed.
func firstLine(output []byte) string {
	scanner := bufio.NewScanner(bytes.NewReader(output))
	scanner.Buffer(make([]byte, 0, 4096), maxTokenSize)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			return line
		}
	}
	return ""
}

func checkShape(source, candidate string) (string, error) {
	if !ValidTokenShape(candidate) {
		return "", fmt.Errorf("%w: %w: output of %s", interfaces.ErrSourceUnavailable, interfaces.ErrInvalidToken, source)
	}
	return candidate, nil
}

// MetadataSource requests a token from one cloud metadata endpoint.
type MetadataSource struct {
	URL         string
	HeaderName  string
	HeaderValue string
	Client      *http.Client
	timeout     time.Duration
}

func NewMetadataSource(url, headerName, headerValue string, client *http.Client, timeout time.Duration) *MetadataSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &MetadataSource{
		URL:         url,
		HeaderName:  headerName,
		HeaderValue: headerValue,
		Client:      client,
		timeout:     timeout,
	}
}

func (s *MetadataSource) Name() string           { return "metadata:" + s.URL }
func (s *MetadataSource) Timeout() time.Duration { return s.timeout }

// TryAcquire issues a GET with audience and base64 nonce query parameters.
// Only a 200 response with a non-empty body counts as a token.
func (s *MetadataSource) TryAcquire(ctx context.Context, audience string, nonce []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", interfaces.ErrSourceUnavailable, err)
	}
	if s.HeaderName != "" {
		req.Header.Set(s.HeaderName, s.HeaderValue)
	}

	q := req.URL.Query()
	q.Set("audience", audience)
	q.Set("nonce", base64.StdEncoding.EncodeToString(nonce))
	req.URL.RawQuery = q.Encode()

	resp, err := s.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", interfaces.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d from %s", interfaces.ErrSourceUnavailable, resp.StatusCode, s.URL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenSize))
	if err != nil {
		return "", fmt.Errorf("%w: reading body: %v", interfaces.ErrSourceUnavailable, err)
	}

	token := strings.TrimSpace(string(body))
	if token == "" {
		return "", fmt.Errorf("%w: empty body from %s", interfaces.ErrSourceUnavailable, s.URL)
	}
	return token, nil
}

// CommandSource runs an external program that prints a token on its first
// stdout line. It serves both the attestation CLI and the helper script.
type CommandSource struct {
	name    string
	path    string
	args    []string
	sudo    bool
	script  bool
	runner  interfaces.CommandRunner
	timeout time.Duration
}

// NewCLISource runs "<path> <args...> <audience>", optionally through sudo.
func NewCLISource(path string, args []string, sudo bool, runner interfaces.CommandRunner, timeout time.Duration) *CommandSource {
	return &CommandSource{
		name:    "cli:" + path,
		path:    path,
		args:    append([]string(nil), args...),
		sudo:    sudo,
		runner:  runner,
		timeout: timeout,
	}
}

// NewScriptSource runs a helper script without arguments. The script must
// exist and be executable.
func NewScriptSource(path string, runner interfaces.CommandRunner, timeout time.Duration) *CommandSource {
	return &CommandSource{
		name:    "script:" + path,
		path:    path,
		script:  true,
		runner:  runner,
		timeout: timeout,
	}
}

func (s *CommandSource) Name() string           { return s.name }
func (s *CommandSource) Timeout() time.Duration { return s.timeout }

func (s *CommandSource) TryAcquire(ctx context.Context, audience string, nonce []byte) (string, error) {
	if s.path == "" {
		return "", fmt.Errorf("%w: no path configured", interfaces.ErrSourceUnavailable)
	}

	name, args := s.command(audience)
	if s.script {
		info, err := os.Stat(s.path)
		if err != nil {
			return "", fmt.Errorf("%w: %v", interfaces.ErrSourceUnavailable, err)
		}
		if !info.Mode().IsRegular() || info.Mode().Perm()&0111 == 0 {
			return "", fmt.Errorf("%w: %s is not executable", interfaces.ErrSourceUnavailable, s.path)
		}
	}

	stdout, exitCode, err := s.runner.Run(ctx, name, args...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", interfaces.ErrSourceUnavailable, err)
	}
	if exitCode != 0 {
		return "", fmt.Errorf("%w: %s exited with status %d", interfaces.ErrSourceUnavailable, s.path, exitCode)
	}

	return checkShape(s.name, firstLine(stdout))
}

func (s *CommandSource) command(audience string) (string, []string) {
	if s.script {
		return s.path, nil
	}
	args := append(append([]string(nil), s.args...), audience)
	if s.sudo {
		return "sudo", append([]string{s.path}, args...)
	}
	return s.path, args
}

// StoredTokenSource reads a pre-generated token through a token store.
type StoredTokenSource struct {
	location string
	factory  interfaces.TokenStoreFactory
	timeout  time.Duration
	log      *slog.Logger
}

func NewStoredTokenSource(location string, factory interfaces.TokenStoreFactory, timeout time.Duration, log *slog.Logger) *StoredTokenSource {
	return &StoredTokenSource{
		location: location,
		factory:  factory,
		timeout:  timeout,
		log:      log,
	}
}

func (s *StoredTokenSource) Name() string           { return "stored:" + s.location }
func (s *StoredTokenSource) Timeout() time.Duration { return s.timeout }

func (s *StoredTokenSource) TryAcquire(ctx context.Context, audience string, nonce []byte) (string, error) {
	loc, err := interfaces.NewTokenLocation(s.location)
	if err != nil {
		return "", fmt.Errorf("%w: %w", interfaces.ErrSourceUnavailable, err)
	}

	store, err := s.factory.TokenStoreFor(loc)
	if err != nil {
		return "", fmt.Errorf("%w: %w", interfaces.ErrSourceUnavailable, err)
	}

	if !store.Available(ctx) {
		return "", fmt.Errorf("%w: %s not available", interfaces.ErrSourceUnavailable, store.LocationURI())
	}

	data, err := store.Fetch(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", interfaces.ErrSourceUnavailable, err)
	}

	s.log.Debug("Read pre-generated token", slog.String("store", store.Name()))
	return checkShape(s.Name(), firstLine(data))
}
