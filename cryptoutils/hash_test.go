package cryptoutils

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hex64 = regexp.MustCompile(`^[0-9a-f]{64}$`)

func TestHashContent(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	response := map[string]any{"answer": "Test answer", "confidence": 0.9}

	h1, err := HashContent("What is FTSO?", []string{"doc1", "doc2"}, response, ts)
	require.NoError(t, err)
	assert.Regexp(t, hex64, h1)

	again, err := HashContent("What is FTSO?", []string{"doc1", "doc2"}, response, ts)
	require.NoError(t, err)
	assert.Equal(t, h1, again, "same inputs at the same second must hash identically")

	variants := map[string]func() (string, error){
		"query": func() (string, error) {
			return HashContent("What is Flare?", []string{"doc1", "doc2"}, response, ts)
		},
		"context order": func() (string, error) {
			return HashContent("What is FTSO?", []string{"doc2", "doc1"}, response, ts)
		},
		"response": func() (string, error) {
			return HashContent("What is FTSO?", []string{"doc1", "doc2"}, map[string]any{"answer": "Other"}, ts)
		},
		"timestamp": func() (string, error) {
			return HashContent("What is FTSO?", []string{"doc1", "doc2"}, response, ts.Add(time.Second))
		},
	}
	for name, fn := range variants {
		t.Run(name, func(t *testing.T) {
			h, err := fn()
			require.NoError(t, err)
			assert.Regexp(t, hex64, h)
			assert.NotEqual(t, h1, h)
		})
	}
}

func TestHashContent_StructFieldOrderIrrelevant(t *testing.T) {
	type ab struct {
		A string `json:"a"`
		B string `json:"b"`
	}
	type ba struct {
		B string `json:"b"`
		A string `json:"a"`
	}
	ts := time.Unix(1700000000, 0)

	h1, err := HashContent("q", nil, ab{A: "1", B: "2"}, ts)
	require.NoError(t, err)
	h2, err := HashContent("q", []string{}, ba{A: "1", B: "2"}, ts)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestCanonicalJSON(t *testing.T) {
	out, err := CanonicalJSON(map[string]any{"b": 1, "a": map[string]any{"d": "<x>", "c": true}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"c":true,"d":"<x>"},"b":1}`, string(out))
}

func TestSegmentRoundTrip(t *testing.T) {
	inputs := [][]byte{
		[]byte(`{"alg":"RS256"}`),
		[]byte("a"),
		[]byte("ab"),
		[]byte("abc"),
		{0xfb, 0xff, 0xfe},
	}
	for _, in := range inputs {
		seg := EncodeSegment(in)
		assert.NotContains(t, seg, "=")
		out, err := DecodeSegment(seg)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	}

	_, err := DecodeSegment("a")
	assert.Error(t, err)
	_, err = DecodeSegment("not base64!")
	assert.Error(t, err)
}

func TestPseudoTransactionHash(t *testing.T) {
	at := time.Unix(1700000000, 42)
	h1 := PseudoTransactionHash([]byte("digest"), at)
	h2 := PseudoTransactionHash([]byte("digest"), at.Add(time.Nanosecond))

	assert.Len(t, h1.Hex(), 66)
	assert.NotEqual(t, h1, h2)
}

func TestSimulatedQuoter(t *testing.T) {
	q, err := NewSimulatedQuoter([]byte("seed"), "/dev/tpm0", DefaultPCRIndex)
	require.NoError(t, err)

	contentHash, err := ParseContentHash("0x" + "11223344556677881122334455667788112233445566778811223344556677ab")
	require.NoError(t, err)

	ev, err := q.Quote(context.Background(), contentHash, []byte("nonce"), time.Unix(1700000000, 0))
	require.NoError(t, err)
	assert.Equal(t, DefaultPCRIndex, ev.PCRIndex)
	assert.False(t, ev.DeviceBacked)
	require.NoError(t, VerifySimulatedQuote(q.PublicKey(), ev, contentHash))

	other := contentHash
	other[0] ^= 0xff
	assert.Error(t, VerifySimulatedQuote(q.PublicKey(), ev, other))

	// Same seed and device derive the same key.
	q2, err := NewSimulatedQuoter([]byte("seed"), "/dev/tpm0", DefaultPCRIndex)
	require.NoError(t, err)
	assert.Equal(t, q.PublicKey(), q2.PublicKey())

	q3, err := NewSimulatedQuoter([]byte("seed"), "/dev/tpmrm0", DefaultPCRIndex)
	require.NoError(t, err)
	assert.NotEqual(t, q.PublicKey(), q3.PublicKey())
}

func TestSimulatedQuoter_Cancelled(t *testing.T) {
	q, err := NewSimulatedQuoter(nil, "", DefaultPCRIndex)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = q.Quote(ctx, [32]byte{}, nil, time.Now())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReportData(t *testing.T) {
	ch := [32]byte{1, 2, 3}
	rd := ReportData(ch, []byte("n"), time.Unix(1, 0))
	assert.Equal(t, ch[:], rd[:32])
	assert.NotEqual(t, ReportData(ch, []byte("m"), time.Unix(1, 0)), rd)
}
