// Package tokenstore resolves the location of a pre-generated attestation
// token and reads it. It is the backing store of the last source in the token
// fallback chain.
//
// Supported locations:
//
//   - bare paths and file:///path/to/token
//   - s3://bucket/key?region=us-east-1&endpoint=custom.s3.com
//   - vault://host:8200/mount/path?field=token&tls=false
//   - ipfs://host:5001/<cid>
//
// All stores are read-only. Credentials for S3 and Vault come from the URI
// user info or the SDKs' standard environment variables.
package tokenstore
