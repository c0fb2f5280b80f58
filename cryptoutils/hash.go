package cryptoutils

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// HashContent computes the content hash binding a query, the identifiers of
// the context used to answer it, the response and the attestation time.
// The preimage is canonical JSON with sorted keys {context_ids, query,
// response, timestamp}; the result is 64 lowercase hex characters.
// The timestamp is part of the preimage, so identical inputs hashed at
// different seconds produce different hashes.
func HashContent(query string, contextIDs []string, response any, timestamp time.Time) (string, error) {
	if contextIDs == nil {
		contextIDs = []string{}
	}

	canonicalResponse, err := canonicalize(response)
	if err != nil {
		return "", fmt.Errorf("could not canonicalize response: %w", err)
	}

	preimage, err := CanonicalJSON(map[string]any{
		"query":       query,
		"context_ids": contextIDs,
		"response":    canonicalResponse,
		"timestamp":   timestamp.Unix(),
	})
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(preimage)
	return hex.EncodeToString(sum[:]), nil
}

// CanonicalJSON encodes v with object keys sorted at every level and without
// HTML escaping.
func CanonicalJSON(v any) ([]byte, error) {
	generic, err := canonicalize(v)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// canonicalize round-trips v through a generic JSON value so struct field
// order does not leak into the encoding. Maps are then sorted by encoding/json.
func canonicalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return generic, nil
}

// PseudoTransactionHash derives the 32-byte transaction identifier reported
// for verifications that did not produce an on-chain transaction.
func PseudoTransactionHash(digest []byte, at time.Time) common.Hash {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(at.UnixNano()))
	return crypto.Keccak256Hash(digest, ts[:])
}

// ParseContentHash decodes a 64-character hex content hash, with or without 0x prefix.
func ParseContentHash(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(trimHexPrefix(s))
	if err != nil {
		return out, fmt.Errorf("invalid content hash: %w", err)
	}
	if len(b) != 32 {
		return out, fmt.Errorf("invalid content hash length %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
