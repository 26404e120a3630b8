// Package storage provides the session store and policy store backends
// behind the capability interfaces in the interfaces package.
//
// Backends are selected through URI strings, one scheme per backend:
//
//   - mem:// - in-memory stores for tests and single-node development
//   - file:///etc/kbs/policies - policy records as JSON files, one per secret id
//   - s3://bucket-name/prefix/?region=us-west-2 - policy records in S3
//
// Session rows persist every session field except the release result; secret
// values never reach this layer. Policy records are read-only lookups keyed
// by secret id; the write paths on the file and S3 backends exist for
// provisioning tooling only.
package storage
