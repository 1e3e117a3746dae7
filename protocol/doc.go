// Package protocol defines the mercury identity and relation protocol: profile
// identities, relation proofs, and the Home and HomeSession contracts that
// home servers and their transports implement.
//
// Core code only ever sees a Signer; private key material stays with the
// signer implementation (see package keys).
//
// A relation proof is canonical: AID sorts before BID no matter which party
// initiated the relation, and each side's signature covers the relation from
// that side's perspective (see RelationSignable).
//
// Streams of events, incoming calls and application frames flow through
// bounded pipes (NewPipe). A full pipe suspends the producer instead of
// dropping items.
package protocol
