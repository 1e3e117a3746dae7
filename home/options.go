package home

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/libertaria-project/mercury-rust/keys"
	"github.com/libertaria-project/mercury-rust/protocol"
)

// Options configure a Server. The zero value is usable.
type Options struct {
	// Validator defaults to keys.Validator.
	Validator protocol.Validator
	// Store defaults to an in-memory DocStore.
	Store ProfileStore
	// Repo resolves profiles not hosted here. Without it, Load only knows
	// local profiles.
	Repo protocol.ProfileRepo

	// RequireInvitation rejects registrations without a valid, unused
	// invitation signed by this home.
	RequireInvitation bool

	// ChannelCapacity of event and checkin pipes; defaults to
	// protocol.ChannelCapacity.
	ChannelCapacity int

	// Registerer receives the home metrics. Nil leaves them unregistered.
	Registerer prometheus.Registerer

	// Logger defaults to the "home" component logger.
	Logger *zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.Validator == nil {
		o.Validator = keys.Validator{}
	}
	if o.Store == nil {
		o.Store = NewMemoryStore()
	}
	if o.ChannelCapacity < 1 {
		o.ChannelCapacity = protocol.ChannelCapacity
	}
	return o
}
