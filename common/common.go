// Package common holds shared service metadata and logging setup.
package common

// PackageName is used as the metrics namespace and the default service tag.
const PackageName = "tee-key-broker"

// Version is set at build time via -ldflags.
var Version = "dev"
