package interfaces

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAttestationKind(t *testing.T) {
	tests := []struct {
		in      string
		want    AttestationKind
		wantErr bool
	}{
		{"tpm", KindTPM, false},
		{"VTPM", KindVTPM, false},
		{"gcp_vtpm", KindVTPM, false},
		{"simulated", KindSimulated, false},
		{"", KindUnknown, false},
		{"sgx", KindUnknown, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAttestationKind(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAttestationRecord_JSON(t *testing.T) {
	rec := AttestationRecord{
		ContentHash: "ab",
		Kind:        KindVTPM,
		Timestamp:   1700000000,
		Header:      []byte{0x7b, 0x7d},
		Payload:     []byte{0x7b, 0x7d},
		Signature:   []byte{0x01},
		Digest:      "0x00",
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "vtpm", raw["type"])
	assert.Equal(t, "0x7b7d", raw["header"])
	assert.Equal(t, "0x01", raw["signature"])
	assert.Equal(t, false, raw["simulated"])

	// Records produced by older deployments carry the gcp_vtpm type.
	legacy := []byte(`{"type":"gcp_vtpm","header":"0x7b7d","payload":"0x7b7d","signature":"0x01","simulated":false}`)
	var decoded AttestationRecord
	require.NoError(t, json.Unmarshal(legacy, &decoded))
	assert.Equal(t, KindVTPM, decoded.Kind)
	assert.NoError(t, decoded.Validate())
}

func TestAttestationRecord_Validate(t *testing.T) {
	assert.Error(t, (&AttestationRecord{Kind: KindTPM, Simulated: true, Quote: []byte{1}}).Validate())
	assert.Error(t, (&AttestationRecord{Kind: KindVTPM}).Validate())
	assert.Error(t, (&AttestationRecord{Kind: KindUnknown}).Validate())
	assert.NoError(t, (&AttestationRecord{Kind: KindSimulated, Simulated: true, Error: "boom"}).Validate())
	assert.NoError(t, (&AttestationRecord{Kind: KindTPM, Quote: []byte{1}}).Validate())
}

func TestNewTokenLocation(t *testing.T) {
	loc, err := NewTokenLocation("/var/lib/attestation_token.txt")
	require.NoError(t, err)
	assert.Equal(t, "file", loc.Scheme)
	assert.Equal(t, "/var/lib/attestation_token.txt", loc.Path)

	loc, err = NewTokenLocation("s3://bucket/tokens/current.jwt?region=eu-west-1")
	require.NoError(t, err)
	assert.Equal(t, "s3", loc.Scheme)
	assert.Equal(t, "bucket", loc.Host)
	assert.Equal(t, "eu-west-1", loc.GetParam("region"))

	_, err = NewTokenLocation("github://owner/repo")
	assert.ErrorIs(t, err, ErrInvalidLocationURI)

	_, err = NewTokenLocation("  ")
	assert.ErrorIs(t, err, ErrInvalidLocationURI)
}
