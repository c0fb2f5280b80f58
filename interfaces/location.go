package interfaces

import (
	"fmt"
	"net/url"
	"strings"
)

// TokenLocation identifies where a pre-generated token is kept.
// A bare filesystem path is treated as a file:// location.
type TokenLocation struct {
	Raw    string     // Original URI or path
	Scheme string     // Protocol
	Host   string     // Hostname, bucket or mount
	Path   string     // Resource path
	Query  url.Values // Query parameters
	User   *url.Userinfo
}

// NewTokenLocation parses a location URI or path.
func NewTokenLocation(uri string) (TokenLocation, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return TokenLocation{}, fmt.Errorf("%w: empty location", ErrInvalidLocationURI)
	}

	if !strings.Contains(uri, "://") {
		return TokenLocation{
			Raw:    uri,
			Scheme: "file",
			Path:   uri,
			Query:  url.Values{},
		}, nil
	}

	parsed, err := url.Parse(uri)
	if err != nil {
		return TokenLocation{}, fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	switch scheme {
	case "file", "s3", "ipfs", "vault":
	default:
		return TokenLocation{}, fmt.Errorf("%w: unsupported scheme %s", ErrInvalidLocationURI, parsed.Scheme)
	}

	return TokenLocation{
		Raw:    uri,
		Scheme: scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
		User:   parsed.User,
	}, nil
}

// String returns the original URI string.
func (loc TokenLocation) String() string {
	return loc.Raw
}

// GetParam returns a query parameter value.
func (loc TokenLocation) GetParam(name string) string {
	if loc.Query == nil {
		return ""
	}
	return loc.Query.Get(name)
}

// GetParamBool returns a boolean query parameter value.
func (loc TokenLocation) GetParamBool(name string) bool {
	value := loc.GetParam(name)
	return value == "true" || value == "1" || value == "yes"
}
