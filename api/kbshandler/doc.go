// Package kbshandler exposes the attestation session protocol over HTTP.
//
// # Endpoints
//
//	POST /kbs/v0/session                           start a session, returns the challenge
//	POST /kbs/v0/session/{session_id}/measurement  submit the launch digest, returns the verdict
//	POST /kbs/v0/session/{session_id}/secret       collect the secret of a verified session
//
// Every failure response carries a machine-readable classification (see the
// api package) sufficient to distinguish "start a new session" from a
// configuration error from a transient backend outage. Expected measurements
// and nonce values never appear in error payloads.
//
// The package also provides Client, the guest-side counterpart used by
// deployment tooling and tests.
package kbshandler
