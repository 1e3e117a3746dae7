package home

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/ipfs/go-cid"

	"github.com/libertaria-project/mercury-rust/protocol"
	"github.com/libertaria-project/mercury-rust/storage"
	"github.com/libertaria-project/mercury-rust/storage/bundle"
	"github.com/libertaria-project/mercury-rust/storage/kv"
)

// ProfileStore persists the profiles hosted on a home and the relation
// proofs the home has witnessed. Missing entries are reported with
// storage.ErrNotFound.
type ProfileStore interface {
	Get(id protocol.ProfileID) (protocol.OwnProfile, error)
	Put(own protocol.OwnProfile) error
	Delete(id protocol.ProfileID) error
	List() ([]protocol.ProfileID, error)

	PutRelation(proof protocol.RelationProof) error
	// Relations lists the witnessed proofs involving id.
	Relations(id protocol.ProfileID) ([]protocol.RelationProof, error)
}

const (
	profileKeyPrefix  = "profile/"
	relationKeyPrefix = "relation/"
)

// DocStore keeps profile and relation documents in a CAS and indexes them by
// profile id in a kv.Store. Documents are immutable; updating a profile
// writes a new document and moves the index entry.
type DocStore struct {
	docs  storage.CAS
	index kv.Store
}

var _ ProfileStore = (*DocStore)(nil)

func NewDocStore(docs storage.CAS, index kv.Store) *DocStore {
	return &DocStore{docs: docs, index: index}
}

// NewMemoryStore returns a DocStore that lives in process memory.
func NewMemoryStore() *DocStore {
	return NewDocStore(storage.NewMemoryCAS(), kv.NewMemory())
}

func profileKey(id protocol.ProfileID) string { return profileKeyPrefix + id.String() }

func relationKey(me, peer protocol.ProfileID, relationType string) string {
	return relationKeyPrefix + me.String() + "/" + peer.String() + "/" + relationType
}

func (s *DocStore) putDoc(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	id, err := s.docs.Put(b)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func (s *DocStore) getDoc(ref string, v interface{}) error {
	id, err := storage.ParseCID(ref)
	if err != nil {
		return err
	}
	b, err := s.docs.Get(id)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("home: decode document %s: %w", ref, err)
	}
	return nil
}

func (s *DocStore) Get(id protocol.ProfileID) (protocol.OwnProfile, error) {
	ref, err := s.index.Get(profileKey(id))
	if err != nil {
		return protocol.OwnProfile{}, err
	}
	var own protocol.OwnProfile
	if err := s.getDoc(ref, &own); err != nil {
		return protocol.OwnProfile{}, err
	}
	return own, nil
}

func (s *DocStore) Put(own protocol.OwnProfile) error {
	if own.Profile.ID.IsZero() {
		return fmt.Errorf("home: profile without id")
	}
	ref, err := s.putDoc(own)
	if err != nil {
		return err
	}
	return s.index.Set(profileKey(own.Profile.ID), ref)
}

// Delete drops the profile and every relation index entry seen from it.
func (s *DocStore) Delete(id protocol.ProfileID) error {
	keys, err := kv.Keys(s.index, relationKeyPrefix+id.String()+"/")
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := s.index.Delete(k); err != nil {
			return err
		}
	}
	return s.index.Delete(profileKey(id))
}

func (s *DocStore) List() ([]protocol.ProfileID, error) {
	var out []protocol.ProfileID
	err := s.index.Iterate(profileKeyPrefix, func(k, _ string) error {
		id, err := protocol.ParseProfileID(strings.TrimPrefix(k, profileKeyPrefix))
		if err != nil {
			return err
		}
		out = append(out, id)
		return nil
	})
	return out, err
}

// PutRelation indexes proof from both sides.
func (s *DocStore) PutRelation(proof protocol.RelationProof) error {
	ref, err := s.putDoc(proof)
	if err != nil {
		return err
	}
	if err := s.index.Set(relationKey(proof.AID, proof.BID, proof.RelationType), ref); err != nil {
		return err
	}
	return s.index.Set(relationKey(proof.BID, proof.AID, proof.RelationType), ref)
}

func (s *DocStore) Relations(id protocol.ProfileID) ([]protocol.RelationProof, error) {
	var out []protocol.RelationProof
	err := s.index.Iterate(relationKeyPrefix+id.String()+"/", func(_, ref string) error {
		var proof protocol.RelationProof
		if err := s.getDoc(ref, &proof); err != nil {
			return err
		}
		out = append(out, proof)
		return nil
	})
	return out, err
}

// Backup writes every indexed document to w as a bundle whose labels are the
// index entries.
func (s *DocStore) Backup(w io.Writer) error {
	labels := make(map[string]cid.Cid)
	err := s.index.Iterate("", func(k, ref string) error {
		id, err := storage.ParseCID(ref)
		if err != nil {
			return fmt.Errorf("home: index entry %s: %w", k, err)
		}
		labels[k] = id
		return nil
	})
	if err != nil {
		return err
	}
	return bundle.Export(w, s.docs, nil, labels)
}

// Restore loads a bundle written by Backup. Documents are added to the CAS and
// the bundle's index entries overwrite existing ones; other entries stay.
func (s *DocStore) Restore(r io.Reader) (int, error) {
	labels, err := bundle.Import(r, s.docs)
	if err != nil {
		return 0, err
	}
	for k := range labels {
		if !strings.HasPrefix(k, profileKeyPrefix) && !strings.HasPrefix(k, relationKeyPrefix) {
			return 0, fmt.Errorf("home: unexpected index entry %q in backup", k)
		}
	}
	for k, id := range labels {
		if err := s.index.Set(k, id.String()); err != nil {
			return 0, err
		}
	}
	return len(labels), nil
}
