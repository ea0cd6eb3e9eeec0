// Package cryptox holds the credential primitives of the magic-link core:
// a generator for opaque bearer secrets and one-way hashers that turn those
// secrets into storable digests.
//
// Secrets are never persisted. Only the output of a Hasher reaches the
// ledger, and verification always re-derives and compares digests.
package cryptox
