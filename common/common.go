// Package common holds process-level helpers shared by the binaries.
package common

// PackageName is used as the default service tag in logs.
const PackageName = "teeattest"

// Version is set at build time with -ldflags "-X github.com/chaincontext/teeattest/common.Version=...".
var Version = "dev"
