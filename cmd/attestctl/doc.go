// Package main (cmd/attestctl) is the operator tool of the attestation engine.
//
// Commands:
//
//   - detect: report the execution environment and the token fallback chain
//   - token: acquire a vTPM token through the fallback chain
//   - decode: split a token and print its segments, digest and claims
//   - attest: build an attestation record for a query and response
//   - verify: verify an attestation record against the verifier contracts
//
// Configuration is read from an optional YAML file, .env files and the
// environment, and can be overridden with flags.
//
// Example, building and verifying against a local metadata emulator:
//
//	attestctl --confidential-vm=true \
//	    --metadata-url=http://127.0.0.1:8081/computeMetadata/v1/instance/attestation-token \
//	    attest --query "What is FLR?" --response '{"answer":"the native token"}' --verify
package main
