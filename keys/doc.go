// Package keys provides the signers, the validator and the local key store
// used by mercury personas and homes.
//
// Stable:
//   - Ed25519Signer, Dilithium3Signer and Validator, the in-memory
//     implementations of protocol.Signer and protocol.Validator.
//   - ProfileIDFor and DeriveRoleSeed, pure deterministic primitives.
//
// Experimental:
//   - Filesystem-backed key storage (KeyStore). It is a local-first utility
//     and not part of the protocol contract.
package keys
