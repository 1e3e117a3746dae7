package client

import (
	"encoding/json"
	"fmt"

	"github.com/libertaria-project/mercury-rust/protocol"
	"github.com/libertaria-project/mercury-rust/storage"
	"github.com/libertaria-project/mercury-rust/storage/kv"
)

const relationPrefix = "relation/"

// RelationBook stores the relation proofs a persona holds. Each proof is
// indexed from both parties under relation/<me>/<peer>/<type>.
type RelationBook struct {
	store kv.Store
}

func NewRelationBook(store kv.Store) *RelationBook {
	return &RelationBook{store: store}
}

func relationBookKey(me, peer protocol.ProfileID, relationType string) string {
	return relationPrefix + me.String() + "/" + peer.String() + "/" + relationType
}

// Add records proof. A proof for the same pair and type is replaced.
func (b *RelationBook) Add(proof protocol.RelationProof) error {
	raw, err := json.Marshal(proof)
	if err != nil {
		return err
	}
	if err := b.store.Set(relationBookKey(proof.AID, proof.BID, proof.RelationType), string(raw)); err != nil {
		return err
	}
	return b.store.Set(relationBookKey(proof.BID, proof.AID, proof.RelationType), string(raw))
}

func (b *RelationBook) Remove(proof protocol.RelationProof) error {
	if err := b.store.Delete(relationBookKey(proof.AID, proof.BID, proof.RelationType)); err != nil {
		return err
	}
	return b.store.Delete(relationBookKey(proof.BID, proof.AID, proof.RelationType))
}

// Find returns the proof of relationType between me and peer, or a
// LookupFailed error.
func (b *RelationBook) Find(me, peer protocol.ProfileID, relationType string) (protocol.RelationProof, error) {
	raw, err := b.store.Get(relationBookKey(me, peer, relationType))
	if err != nil {
		if storage.IsNotFound(err) {
			return protocol.RelationProof{}, protocol.Errorf(protocol.KindLookupFailed, "client.find_relation",
				"no %q relation between %s and %s", relationType, me, peer)
		}
		return protocol.RelationProof{}, err
	}
	return decodeProof(raw)
}

// List returns the proofs involving me in key order.
func (b *RelationBook) List(me protocol.ProfileID) ([]protocol.RelationProof, error) {
	return b.scan(relationPrefix + me.String() + "/")
}

// WithPeer returns the proofs between me and peer. An empty relationType
// matches any type.
func (b *RelationBook) WithPeer(me, peer protocol.ProfileID, relationType string) ([]protocol.RelationProof, error) {
	if relationType != "" {
		p, err := b.Find(me, peer, relationType)
		if protocol.IsKind(err, protocol.KindLookupFailed) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return []protocol.RelationProof{p}, nil
	}
	return b.scan(relationPrefix + me.String() + "/" + peer.String() + "/")
}

func (b *RelationBook) scan(prefix string) ([]protocol.RelationProof, error) {
	var out []protocol.RelationProof
	err := b.store.Iterate(prefix, func(k, raw string) error {
		p, err := decodeProof(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		out = append(out, p)
		return nil
	})
	return out, err
}

func decodeProof(raw string) (protocol.RelationProof, error) {
	var p protocol.RelationProof
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return protocol.RelationProof{}, fmt.Errorf("client: decode relation proof: %w", err)
	}
	return p, nil
}
