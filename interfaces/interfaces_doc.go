// Package interfaces defines the core types and capability interfaces of the
// key broker. It is the contract between the session engine and its external
// collaborators (session store, policy store, secret backend) without
// implementation details, so tests can substitute in-memory fakes and
// production can substitute durable stores.
package interfaces
