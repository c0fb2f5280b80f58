// Package token acquires and decodes vTPM attestation tokens.
//
// An Acquirer walks an ordered list of interfaces.TokenSource values (the
// cloud metadata service, a local attestation CLI, a helper script and a
// pre-generated token store) and returns the first token that has the compact
// three-segment shape. Every source is tried once per call under its own
// timeout; failures are logged and absorbed, and only interfaces.ErrTokenNotFound
// escapes.
//
// Decode splits a token into its header, payload and signature bytes and
// computes the digest that the on-chain verifier binds to. Header and claims
// are introspected for diagnostics only; signatures are never checked here.
package token
