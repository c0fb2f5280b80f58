// Package main (cmd/metadata-emulator) serves a local cloud metadata service
// that issues signed attestation tokens.
//
// Point attestctl at it with --metadata-url and --probe-url to run the vTPM
// path on a development machine:
//
//	metadata-emulator --listen-addr=127.0.0.1:8081 --disable-path=/computeMetadata/v1/instance/attestation-token
package main
