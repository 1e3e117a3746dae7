// Package home implements a mercury home: it hosts persona profiles, opens
// one session per logged-in profile, forwards pairing events and routes
// calls between profiles hosted on it.
//
// A Server is transport agnostic. Transports authenticate the remote caller
// and obtain a protocol.Home bound to that caller from Server.Connect.
package home
