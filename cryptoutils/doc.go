// Package cryptoutils provides the hashing, encoding and quoting primitives
// used by the attestation engine.
//
// # Content hashing
//
// HashContent binds a query, the identifiers of its context documents, the
// response and the attestation timestamp into a SHA-256 hex digest over
// canonical (sorted-key) JSON.
//
// # Token segments
//
// DecodeSegment and EncodeSegment convert between raw bytes and the unpadded
// URL-safe base64 segments of compact tokens.
//
// # Quoters
//
// SimulatedQuoter produces PCR-bound quotes signed by an HKDF-derived Ed25519
// attestation key. TDXQuoter obtains device-backed quotes from a TDX guest
// through configfs-tsm or the tdx_guest device.
package cryptoutils
