package interfaces

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// AttestationKind identifies the backend that produced an attestation record.
// The zero value is KindUnknown and only appears on error results.
type AttestationKind int

const (
	KindUnknown AttestationKind = iota
	KindTPM
	KindVTPM
	KindSimulated
)

// String returns the wire name of the kind.
func (k AttestationKind) String() string {
	switch k {
	case KindTPM:
		return "tpm"
	case KindVTPM:
		return "vtpm"
	case KindSimulated:
		return "simulated"
	default:
		return "unknown"
	}
}

// ParseAttestationKind parses a wire name. The legacy "gcp_vtpm" name is
// accepted as KindVTPM.
func ParseAttestationKind(s string) (AttestationKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tpm":
		return KindTPM, nil
	case "vtpm", "gcp_vtpm":
		return KindVTPM, nil
	case "simulated":
		return KindSimulated, nil
	case "", "unknown":
		return KindUnknown, nil
	default:
		return KindUnknown, fmt.Errorf("unknown attestation kind %q", s)
	}
}

func (k AttestationKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *AttestationKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseAttestationKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// AttestationRecord binds a content hash to evidence from one attestation
// backend. Records are built once per query and never modified afterwards;
// they are passed by value.
type AttestationRecord struct {
	ContentHash string          `json:"data_hash,omitempty"`
	Kind        AttestationKind `json:"type"`
	Timestamp   int64           `json:"timestamp"`
	Nonce       []byte          `json:"nonce,omitempty"`
	Simulated   bool            `json:"simulated"`

	// Signature is the quote signature for TPM and simulated records and the
	// decoded token signature segment for vTPM records.
	Signature hexutil.Bytes `json:"signature,omitempty"`

	// TPM and simulated records
	Quote    hexutil.Bytes `json:"quote,omitempty"`
	PCRIndex int           `json:"pcr_index,omitempty"`

	// vTPM records
	Token   string        `json:"token,omitempty"`
	Header  hexutil.Bytes `json:"header,omitempty"`
	Payload hexutil.Bytes `json:"payload,omitempty"`
	Digest  string        `json:"digest,omitempty"`

	Error string `json:"error,omitempty"`
}

// Validate checks the structural invariants of a record.
func (r *AttestationRecord) Validate() error {
	if r.Simulated != (r.Kind == KindSimulated) {
		return fmt.Errorf("simulated flag %t does not match kind %s", r.Simulated, r.Kind)
	}
	switch r.Kind {
	case KindVTPM:
		if len(r.Header) == 0 || len(r.Payload) == 0 || len(r.Signature) == 0 {
			return fmt.Errorf("vtpm record is missing token segments")
		}
	case KindTPM, KindSimulated:
		if r.Error == "" && len(r.Quote) == 0 {
			return fmt.Errorf("%s record is missing quote", r.Kind)
		}
	default:
		return fmt.Errorf("unsupported attestation kind %s", r.Kind)
	}
	return nil
}

// VerificationResult is the single outcome of verifying an AttestationRecord.
type VerificationResult struct {
	Verified        bool            `json:"verified"`
	Simulated       bool            `json:"simulated"`
	Timestamp       int64           `json:"timestamp"`
	TransactionHash string          `json:"transaction_hash,omitempty"`
	Kind            AttestationKind `json:"type"`
	Error           string          `json:"error,omitempty"`
}

// ContextItem is a piece of retrieved context used to answer a query. Only the
// identifier is bound into the content hash.
type ContextItem struct {
	ID     string `json:"id"`
	Text   string `json:"text,omitempty"`
	Source string `json:"source,omitempty"`
}

// ContextIDs returns the identifiers of items in order.
func ContextIDs(items []ContextItem) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids
}
