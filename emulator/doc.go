// Package emulator serves a local stand-in for the cloud metadata service.
//
// It answers the instance id probe and the three attestation-token paths with
// RS256 tokens signed by a key generated at startup. The tokens carry the
// confidential-space claims (iss, aud, eat_nonce, hwmodel, swname, secboot and
// submods.container.image_digest) so the full acquire, decode and build path
// can run on machines without a confidential VM.
//
// Like the real service it rejects requests without the Metadata-Flavor
// header. Individual token paths can be disabled to exercise fallbacks.
//
// The server exposes /livez, /readyz, /drain and /undrain for orchestration.
package emulator
