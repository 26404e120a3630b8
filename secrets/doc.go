// Package secrets adapts the external secret backend to the
// interfaces.SecretBackend capability. The production implementation talks to
// HashiCorp Vault's KV version 2 engine with a read-scoped token.
//
// Client retries are disabled on purpose: secret release is at-most-once, and
// a transport-level retry could double-dispense a secret to two racing
// callers. A failed fetch surfaces as a failed session; the guest starts a
// new session if it wants to try again.
package secrets
