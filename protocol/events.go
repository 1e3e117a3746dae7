package protocol

import (
	"encoding/json"
	"fmt"
)

// ProfileEvent is delivered on HomeSession.Events. The variant set is closed:
// PairingRequest, PairingResponse, ProfileRelocated and UnknownEvent.
type ProfileEvent interface {
	EventKind() string
	isEvent()
}

const (
	EventKindPairingRequest   = "pairing_request"
	EventKindPairingResponse  = "pairing_response"
	EventKindProfileRelocated = "profile_relocated"
)

// PairingRequest carries a peer's half proof awaiting our countersignature.
type PairingRequest struct {
	HalfProof RelationHalfProof `json:"half_proof"`
}

// PairingResponse carries the completed proof of a pairing we initiated.
type PairingResponse struct {
	Proof RelationProof `json:"proof"`
}

// ProfileRelocated tells a relation peer that ProfileID moved away from this
// home. NewHome is nil when the profile left without naming a successor.
type ProfileRelocated struct {
	ProfileID ProfileID `json:"profile_id"`
	NewHome   *Profile  `json:"new_home,omitempty"`
}

// UnknownEvent is an event kind this version cannot interpret.
type UnknownEvent struct {
	Kind string
	Raw  json.RawMessage
}

func (PairingRequest) EventKind() string   { return EventKindPairingRequest }
func (PairingResponse) EventKind() string  { return EventKindPairingResponse }
func (ProfileRelocated) EventKind() string { return EventKindProfileRelocated }
func (e UnknownEvent) EventKind() string   { return e.Kind }

func (PairingRequest) isEvent()   {}
func (PairingResponse) isEvent()  {}
func (ProfileRelocated) isEvent() {}
func (UnknownEvent) isEvent()     {}

type eventEnvelope struct {
	Kind string          `json:"kind"`
	Body json.RawMessage `json:"body,omitempty"`
}

// MarshalEvent encodes an event into its kind-tagged JSON envelope.
func MarshalEvent(e ProfileEvent) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("protocol: nil event")
	}
	if u, ok := e.(UnknownEvent); ok {
		return json.Marshal(eventEnvelope{Kind: u.Kind, Body: u.Raw})
	}
	body, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(eventEnvelope{Kind: e.EventKind(), Body: body})
}

// UnmarshalEvent decodes a kind-tagged event. Unknown kinds are kept opaque.
func UnmarshalEvent(b []byte) (ProfileEvent, error) {
	var env eventEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("protocol: decode event: %w", err)
	}
	switch env.Kind {
	case EventKindPairingRequest:
		var e PairingRequest
		if err := unmarshalBody(env.Body, &e); err != nil {
			return nil, err
		}
		return e, nil
	case EventKindPairingResponse:
		var e PairingResponse
		if err := unmarshalBody(env.Body, &e); err != nil {
			return nil, err
		}
		return e, nil
	case EventKindProfileRelocated:
		var e ProfileRelocated
		if err := unmarshalBody(env.Body, &e); err != nil {
			return nil, err
		}
		return e, nil
	default:
		return UnknownEvent{Kind: env.Kind, Raw: append(json.RawMessage(nil), env.Body...)}, nil
	}
}
