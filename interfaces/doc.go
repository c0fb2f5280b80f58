// Package interfaces defines core types and collaborator interfaces for the
// attestation engine, separating interface definitions from implementations.
//
// # Records
//
// AttestationRecord: the evidence produced for one query, tagged with an
// AttestationKind (TPM, vTPM or simulated) and bound to a content hash.
//
// VerificationResult: the single outcome of verifying a record, either against
// an on-chain verifier contract or through simulated verification.
//
// # Collaborators
//
// TokenSource: one step of the ordered token fallback chain (metadata service,
// CLI tool, helper script, pre-generated token).
//
// TokenStore / TokenStoreFactory: read-only access to a pre-generated token
// identified by a location URI (file, S3, Vault, IPFS).
//
// CommandRunner: subprocess execution with captured stdout and exit code.
//
// Quoter: TPM-style quote generation bound to a content hash and nonce.
//
// VTPMVerifierContract / TPMVerifierContract: read-only on-chain verifiers.
//
// # Errors
//
// The sentinel errors in errors.go classify failures: ErrSourceUnavailable,
// ErrInvalidToken, ErrTokenNotFound, ErrDecode, ErrContractCall. Callers use
// errors.Is; implementations wrap with %w.
package interfaces
