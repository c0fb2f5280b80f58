package tokenstore

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/chaincontext/teeattest/interfaces"
)

// Factory creates token stores from locations.
type Factory struct {
	log *slog.Logger
}

func NewFactory(log *slog.Logger) *Factory {
	return &Factory{log: log}
}

// TokenStoreFor creates the store serving a location.
func (f *Factory) TokenStoreFor(loc interfaces.TokenLocation) (interfaces.TokenStore, error) {
	switch loc.Scheme {
	case "file":
		return f.createFileStore(loc)
	case "s3":
		return f.createS3Store(loc)
	case "vault":
		return f.createVaultStore(loc)
	case "ipfs":
		return f.createIPFSStore(loc)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %s", interfaces.ErrInvalidLocationURI, loc.Scheme)
	}
}

// createFileStore handles bare paths, file:///abs/path and file://./rel/path.
func (f *Factory) createFileStore(loc interfaces.TokenLocation) (interfaces.TokenStore, error) {
	path := loc.Path
	if loc.Host != "" {
		path = loc.Host + "/" + strings.TrimPrefix(path, "/")
	}
	if path == "" {
		return nil, fmt.Errorf("%w: empty path in %s", interfaces.ErrInvalidLocationURI, loc.Raw)
	}

	f.log.Debug("Creating file token store", slog.String("path", path))
	return NewFileStore(path, f.log), nil
}

func (f *Factory) createS3Store(loc interfaces.TokenLocation) (interfaces.TokenStore, error) {
	key := strings.TrimPrefix(loc.Path, "/")
	if loc.Host == "" || key == "" {
		return nil, fmt.Errorf("%w: expected s3://bucket/key, got %s", interfaces.ErrInvalidLocationURI, loc.Raw)
	}

	region := loc.GetParam("region")
	if region == "" {
		region = "us-east-1"
	}

	var accessKey, secretKey string
	if loc.User != nil {
		accessKey = loc.User.Username()
		secretKey, _ = loc.User.Password()
	}

	f.log.Debug("Creating S3 token store",
		slog.String("bucket", loc.Host),
		slog.String("key", key),
		slog.String("region", region))

	return NewS3Store(loc.Host, key, region, loc.GetParam("endpoint"), accessKey, secretKey, f.log)
}

func (f *Factory) createVaultStore(loc interfaces.TokenLocation) (interfaces.TokenStore, error) {
	parts := strings.SplitN(strings.Trim(loc.Path, "/"), "/", 2)
	if loc.Host == "" || len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("%w: expected vault://host/mount/path, got %s", interfaces.ErrInvalidLocationURI, loc.Raw)
	}

	scheme := "https"
	if loc.GetParam("tls") == "false" {
		scheme = "http"
	}
	address := fmt.Sprintf("%s://%s", scheme, loc.Host)

	field := loc.GetParam("field")
	if field == "" {
		field = "token"
	}

	var vaultToken string
	if loc.User != nil {
		vaultToken = loc.User.Username()
	}

	f.log.Debug("Creating Vault token store",
		slog.String("address", address),
		slog.String("mount", parts[0]),
		slog.String("path", parts[1]))

	return NewVaultStore(address, parts[0], parts[1], field, vaultToken, f.log)
}

func (f *Factory) createIPFSStore(loc interfaces.TokenLocation) (interfaces.TokenStore, error) {
	cid := strings.Trim(loc.Path, "/")
	if loc.Host == "" || cid == "" {
		return nil, fmt.Errorf("%w: expected ipfs://host:port/<cid>, got %s", interfaces.ErrInvalidLocationURI, loc.Raw)
	}

	host := loc.Host
	if !strings.Contains(host, ":") {
		host += ":5001"
	}

	f.log.Debug("Creating IPFS token store", slog.String("api", host), slog.String("cid", cid))
	return NewIPFSStore(host, cid, f.log), nil
}
