package emulator

import (
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, disabled ...string) (*Server, *httptest.Server) {
	t.Helper()
	minter, err := NewMinter(DefaultClaims())
	require.NoError(t, err)

	srv := New(&ServerConfig{Log: slog.Default(), InstanceID: "1234", DisabledPaths: disabled}, minter)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return srv, ts
}

func get(t *testing.T, rawURL string, withHeader bool) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	require.NoError(t, err)
	if withHeader {
		req.Header.Set("Metadata-Flavor", "Google")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestTokenEndpoints(t *testing.T) {
	srv, ts := newTestServer(t)
	nonce := base64.StdEncoding.EncodeToString([]byte("0123456789abcdef"))
	query := url.Values{"audience": {"ChainContext"}, "nonce": {nonce}}.Encode()

	for i, path := range TokenPaths {
		t.Run(path, func(t *testing.T) {
			status, body := get(t, ts.URL+path+"?"+query, true)
			require.Equal(t, http.StatusOK, status)

			claims := jwt.MapClaims{}
			parsed, err := jwt.ParseWithClaims(body, claims, func(tok *jwt.Token) (any, error) {
				return srv.minter.PublicKey(), nil
			}, jwt.WithValidMethods([]string{"RS256"}), jwt.WithAudience("ChainContext"))
			require.NoError(t, err)
			assert.True(t, parsed.Valid)
			assert.Equal(t, srv.minter.KeyID(), parsed.Header["kid"])

			assert.Equal(t, "GCP_AMD_SEV", claims["hwmodel"])
			assert.Equal(t, "CONFIDENTIAL_SPACE", claims["swname"])
			assert.Equal(t, nonce, claims["eat_nonce"])
			assert.Equal(t, int64(i+1), srv.Issued())
		})
	}
}

func TestMetadataFlavorRequired(t *testing.T) {
	_, ts := newTestServer(t)

	status, _ := get(t, ts.URL+TokenPaths[0]+"?audience=ChainContext", false)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = get(t, ts.URL+InstanceIDPath, false)
	assert.Equal(t, http.StatusForbidden, status)

	status, body := get(t, ts.URL+InstanceIDPath, true)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "1234", body)
}

func TestTokenRequestErrors(t *testing.T) {
	_, ts := newTestServer(t, TokenPaths[0])

	status, _ := get(t, ts.URL+TokenPaths[0]+"?audience=ChainContext", true)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = get(t, ts.URL+TokenPaths[1], true)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = get(t, ts.URL+TokenPaths[1]+"?audience=ChainContext&nonce=%25%25%25", true)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestDrainUndrain(t *testing.T) {
	_, ts := newTestServer(t)

	status, _ := get(t, ts.URL+"/livez", false)
	assert.Equal(t, http.StatusOK, status)

	status, _ = get(t, ts.URL+"/readyz", false)
	assert.Equal(t, http.StatusOK, status)

	_, body := get(t, ts.URL+"/drain", false)
	assert.JSONEq(t, `{"status":"draining"}`, body)
	_, body = get(t, ts.URL+"/drain", false)
	assert.JSONEq(t, `{"status":"already draining"}`, body)

	status, _ = get(t, ts.URL+"/readyz", false)
	assert.Equal(t, http.StatusServiceUnavailable, status)

	_, body = get(t, ts.URL+"/undrain", false)
	assert.JSONEq(t, `{"status":"ready"}`, body)
	status, _ = get(t, ts.URL+"/readyz", false)
	assert.Equal(t, http.StatusOK, status)
}
