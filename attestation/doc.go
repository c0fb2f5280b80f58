// Package attestation builds attestation records for query responses.
//
// Builder hashes the query, context identifiers and response, then attaches
// evidence from the first backend that works:
//
//  1. a vTPM token, when the process runs on a confidential VM
//  2. a TPM quote, when the configured TPM device exists
//  3. a simulated quote, flagged as simulated
//
// Build never fails. Any error or panic yields a minimal simulated record
// carrying the error message.
//
// Detector decides once per process whether the host is a confidential VM by
// resolving the metadata host and probing the metadata service.
package attestation
