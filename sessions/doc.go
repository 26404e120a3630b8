// Package sessions implements the attestation session protocol engine: the
// state machine that issues challenges, verifies guest launch measurements
// against policy, and authorizes at most one secret release per verified
// session.
//
// # State Machine
//
// Sessions move strictly forward:
//
//	requested             --(issue challenge)-->      challenge-issued
//	challenge-issued      --(measurement received)--> measurement-received
//	measurement-received  --(digest matches)-->       verified
//	measurement-received  --(digest mismatch)-->      failed
//	verified              --(secret fetched ok)-->    secret-released
//	verified              --(secret fetch fails)-->   failed
//	any non-terminal      --(deadline passed)-->      expired
//
// Every operation first checks the session deadline and short-circuits to
// expired regardless of its own precondition. Expiry is evaluated lazily at
// operation time; no background sweeper is required for correctness.
//
// # Concurrency
//
// All transitions for one session id serialize behind a per-session lock, so
// concurrent calls observe the machine as if executed under a single
// exclusive lock per id. Unrelated sessions never contend: the lock table
// hands out one refcounted lock per live id and nothing else is shared.
//
// # Secret Handling
//
// The release gate is the only caller of the secret backend. Secret values
// exist only on the single return path to the guest; they are never
// persisted, logged, or cached, and a failed fetch is never retried on the
// same session.
package sessions
