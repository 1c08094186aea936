// Package errdefs defines the stable error kinds surfaced by the Silexium
// service. Callers classify with errors.Is; the API layer maps each kind to
// an HTTP status and a stable message.
package errdefs

import "errors"

var (
	// ErrNotFound: no matching release, or a referenced record is missing.
	ErrNotFound = errors.New("not found")

	// ErrInvalidRequest: malformed or incomplete query.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrKeyUnknown: no key registered under (role, key_id).
	ErrKeyUnknown = errors.New("unknown key")

	// ErrKeyExpired: the key exists but is outside its validity window
	// at the relevant instant.
	ErrKeyExpired = errors.New("key not valid at time")

	// ErrSignatureInvalid: an Ed25519 signature failed to verify.
	ErrSignatureInvalid = errors.New("invalid signature")

	// ErrProofInvalid: the external TSA or OTS verifier rejected a proof.
	ErrProofInvalid = errors.New("timestamp proof invalid")

	// ErrManifestInvalid: manifest schema or invariants violated.
	ErrManifestInvalid = errors.New("invalid manifest")

	// ErrDuplicateAttestation: the role already attested this manifest.
	ErrDuplicateAttestation = errors.New("duplicate attestation")

	// ErrInvalidTreeSizes: proof parameters out of range.
	ErrInvalidTreeSizes = errors.New("invalid tree sizes")

	// ErrConflict: the log writer could not make progress.
	ErrConflict = errors.New("log writer busy")

	// ErrInternal: unclassified server-side failure.
	ErrInternal = errors.New("internal error")
)
