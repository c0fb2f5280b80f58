package cryptoutils

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"

	tdx_client "github.com/google/go-tdx-guest/client"

	"github.com/chaincontext/teeattest/interfaces"
)

// TDXQuoter produces device-backed quotes from a TDX guest. The report data
// carries the content hash and a digest of the nonce and timestamp.
type TDXQuoter struct {
	PCRIndex int
}

// ReportData lays out the 64 bytes of TDX report data for a content hash.
func ReportData(contentHash [32]byte, nonce []byte, timestamp time.Time) [64]byte {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(timestamp.Unix()))
	h := sha256.New()
	h.Write(nonce)
	h.Write(ts[:])

	var reportData [64]byte
	copy(reportData[:32], contentHash[:])
	copy(reportData[32:], h.Sum(nil))
	return reportData
}

func (q *TDXQuoter) Quote(ctx context.Context, contentHash [32]byte, nonce []byte, timestamp time.Time) (*interfaces.TPMEvidence, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rawQuote, err := rawTDXQuote(ReportData(contentHash, nonce, timestamp))
	if err != nil {
		return nil, fmt.Errorf("could not get TDX quote: %w", err)
	}

	// The TDX quote carries its own signature.
	return &interfaces.TPMEvidence{
		Quote:        rawQuote,
		PCRIndex:     q.PCRIndex,
		DeviceBacked: true,
	}, nil
}

func rawTDXQuote(reportData [64]byte) ([]byte, error) {
	qp := &tdx_client.LinuxConfigFsQuoteProvider{}
	if qp.IsSupported() == nil {
		return qp.GetRawQuote(reportData)
	}

	qd, err := tdx_client.OpenDevice()
	if err != nil {
		return nil, err
	}
	defer qd.Close()

	return tdx_client.GetRawQuote(qd, reportData)
}
