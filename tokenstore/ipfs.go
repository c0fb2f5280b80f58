package tokenstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/chaincontext/teeattest/interfaces"
	shell "github.com/ipfs/go-ipfs-api"
)

// IPFSStore reads a token by CID through an IPFS node API.
type IPFSStore struct {
	shell *shell.Shell
	api   string
	cid   string
	log   *slog.Logger
}

func NewIPFSStore(api, cid string, log *slog.Logger) *IPFSStore {
	return &IPFSStore{
		shell: shell.NewShell(api),
		api:   api,
		cid:   cid,
		log:   log,
	}
}

// Fetch cats the CID. Both the liveness check and the read are bound to ctx.
func (s *IPFSStore) Fetch(ctx context.Context) ([]byte, error) {
	if !s.Available(ctx) {
		return nil, interfaces.ErrBackendUnavailable
	}

	resp, err := s.shell.Request("cat", "/ipfs/"+s.cid).Send(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	defer resp.Close()

	if resp.Error != nil {
		if strings.Contains(resp.Error.Message, "no link named") || strings.Contains(resp.Error.Message, "not found") {
			return nil, interfaces.ErrContentNotFound
		}
		return nil, fmt.Errorf("failed to fetch token from IPFS: %w", resp.Error)
	}

	data, err := io.ReadAll(resp.Output)
	if err != nil {
		return nil, fmt.Errorf("failed to read token from IPFS: %w", err)
	}

	s.log.Debug("Fetched token from IPFS", slog.String("cid", s.cid), slog.Int("size", len(data)))
	return data, nil
}

// Available asks the node for its version.
func (s *IPFSStore) Available(ctx context.Context) bool {
	var version struct{ Version string }
	if err := s.shell.Request("version").Exec(ctx, &version); err != nil {
		s.log.Debug("IPFS API not reachable", slog.String("api", s.api), "err", err)
		return false
	}
	return true
}

func (s *IPFSStore) Name() string {
	return fmt.Sprintf("ipfs-%s", s.api)
}

func (s *IPFSStore) LocationURI() string {
	return fmt.Sprintf("ipfs://%s/%s", s.api, s.cid)
}
