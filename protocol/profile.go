package protocol

import (
	"encoding/json"
	"fmt"
)

// ProfileFacet describes the role of a profile. The variant set is closed:
// HomeFacet, PersonaFacet, ApplicationFacet and UnknownFacet. Facets of kinds
// this version does not know decode into UnknownFacet and re-encode unchanged.
type ProfileFacet interface {
	FacetKind() string
	isFacet()
}

const (
	FacetKindHome        = "home"
	FacetKindPersona     = "persona"
	FacetKindApplication = "application"
)

// HomeFacet lists the addresses of one home server, e.g. an IPv4 and an
// onion address of the same node.
type HomeFacet struct {
	Addrs []string `json:"addrs"`
	Data  []byte   `json:"data,omitempty"`
}

// PersonaFacet holds the persona's hosted_on_home proofs. Only Homes[0] is
// used for routing at the moment.
type PersonaFacet struct {
	Homes []RelationProof `json:"homes"`
	Data  []byte          `json:"data,omitempty"`
}

// ApplicationFacet is given for each supported app, not only checked-in ones.
type ApplicationFacet struct {
	ID   ApplicationID `json:"id"`
	Data []byte        `json:"data,omitempty"`
}

// UnknownFacet carries a facet this version cannot interpret.
type UnknownFacet struct {
	Kind string
	Raw  json.RawMessage
}

func (HomeFacet) FacetKind() string        { return FacetKindHome }
func (PersonaFacet) FacetKind() string     { return FacetKindPersona }
func (ApplicationFacet) FacetKind() string { return FacetKindApplication }
func (f UnknownFacet) FacetKind() string   { return f.Kind }

func (HomeFacet) isFacet()        {}
func (PersonaFacet) isFacet()     {}
func (ApplicationFacet) isFacet() {}
func (UnknownFacet) isFacet()     {}

// Profile is the public part of an identity.
type Profile struct {
	// ID is a hash of PublicKey, similar to cryptocurrency addresses.
	ID        ProfileID
	PublicKey PublicKey
	Facet     ProfileFacet
}

// NewHomeProfile returns a profile with a HomeFacet listing addrs.
func NewHomeProfile(id ProfileID, pub PublicKey, addrs ...string) Profile {
	return Profile{ID: id, PublicKey: pub, Facet: HomeFacet{Addrs: append([]string(nil), addrs...)}}
}

// NewPersonaProfile returns a profile with an empty PersonaFacet.
func NewPersonaProfile(id ProfileID, pub PublicKey, data []byte) Profile {
	return Profile{ID: id, PublicKey: pub, Facet: PersonaFacet{Data: data}}
}

// Persona returns the persona facet, if the profile has one.
func (p Profile) Persona() (PersonaFacet, bool) {
	switch f := p.Facet.(type) {
	case PersonaFacet:
		return f, true
	case *PersonaFacet:
		if f != nil {
			return *f, true
		}
	}
	return PersonaFacet{}, false
}

// Home returns the home facet, if the profile has one.
func (p Profile) Home() (HomeFacet, bool) {
	switch f := p.Facet.(type) {
	case HomeFacet:
		return f, true
	case *HomeFacet:
		if f != nil {
			return *f, true
		}
	}
	return HomeFacet{}, false
}

// HomeIDs returns the ids of the homes listed in the persona facet, in order.
func (p Profile) HomeIDs() []ProfileID {
	persona, ok := p.Persona()
	if !ok {
		return nil
	}
	out := make([]ProfileID, 0, len(persona.Homes))
	for _, proof := range persona.Homes {
		home, err := proof.PeerID(p.ID)
		if err != nil {
			continue
		}
		out = append(out, home)
	}
	return out
}

type facetEnvelope struct {
	Kind string          `json:"kind"`
	Body json.RawMessage `json:"body,omitempty"`
}

// MarshalFacet encodes a facet into its kind-tagged JSON envelope.
func MarshalFacet(f ProfileFacet) ([]byte, error) {
	if f == nil {
		return []byte("null"), nil
	}
	if u, ok := f.(UnknownFacet); ok {
		return json.Marshal(facetEnvelope{Kind: u.Kind, Body: u.Raw})
	}
	body, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return json.Marshal(facetEnvelope{Kind: f.FacetKind(), Body: body})
}

// UnmarshalFacet decodes a kind-tagged facet envelope.
func UnmarshalFacet(b []byte) (ProfileFacet, error) {
	if len(b) == 0 || string(b) == "null" {
		return nil, nil
	}
	var env facetEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("protocol: decode facet: %w", err)
	}
	switch env.Kind {
	case FacetKindHome:
		var f HomeFacet
		if err := unmarshalBody(env.Body, &f); err != nil {
			return nil, err
		}
		return f, nil
	case FacetKindPersona:
		var f PersonaFacet
		if err := unmarshalBody(env.Body, &f); err != nil {
			return nil, err
		}
		return f, nil
	case FacetKindApplication:
		var f ApplicationFacet
		if err := unmarshalBody(env.Body, &f); err != nil {
			return nil, err
		}
		return f, nil
	default:
		return UnknownFacet{Kind: env.Kind, Raw: append(json.RawMessage(nil), env.Body...)}, nil
	}
}

func unmarshalBody(body json.RawMessage, v interface{}) error {
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("protocol: decode facet body: %w", err)
	}
	return nil
}

type profileJSON struct {
	ID        ProfileID       `json:"id"`
	PublicKey PublicKey       `json:"public_key"`
	Facet     json.RawMessage `json:"facet"`
}

func (p Profile) MarshalJSON() ([]byte, error) {
	facet, err := MarshalFacet(p.Facet)
	if err != nil {
		return nil, err
	}
	return json.Marshal(profileJSON{ID: p.ID, PublicKey: p.PublicKey, Facet: facet})
}

func (p *Profile) UnmarshalJSON(b []byte) error {
	var raw profileJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	facet, err := UnmarshalFacet(raw.Facet)
	if err != nil {
		return err
	}
	*p = Profile{ID: raw.ID, PublicKey: raw.PublicKey, Facet: facet}
	return nil
}

// OwnProfile is the persona-controlled extension of a Profile.
type OwnProfile struct {
	// Profile is the public part. It must carry a PersonaFacet.
	Profile Profile `json:"profile"`

	// PrivateData is encrypted with the persona's keys and stored on the home
	// server; the home never interprets it.
	PrivateData []byte `json:"private_data,omitempty"`
}

// NewOwnProfile pairs a public profile with its private payload.
func NewOwnProfile(profile Profile, privateData []byte) OwnProfile {
	return OwnProfile{Profile: profile, PrivateData: append([]byte(nil), privateData...)}
}
