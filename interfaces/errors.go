package interfaces

import "errors"

var (
	// ErrSourceUnavailable marks a single fallback source that could not
	// produce a token. It is logged and the next source is tried.
	ErrSourceUnavailable = errors.New("attestation source unavailable")

	// ErrInvalidToken is returned when a source produced output that does not
	// have the three-segment token shape.
	ErrInvalidToken = errors.New("token does not have three segments")

	// ErrTokenNotFound is returned by the acquirer when every source failed.
	ErrTokenNotFound = errors.New("no attestation token available")

	// ErrDecode is returned for malformed token structure or encoding.
	ErrDecode = errors.New("token decode failed")

	// ErrContractCall is returned when an on-chain verifier call fails or reverts.
	ErrContractCall = errors.New("verifier contract call failed")

	// ErrContentNotFound is returned by token stores when the location holds no token.
	ErrContentNotFound = errors.New("content not found")

	// ErrBackendUnavailable is returned by token stores that cannot be reached.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidLocationURI is returned for token locations that cannot be parsed.
	ErrInvalidLocationURI = errors.New("invalid location URI")
)
