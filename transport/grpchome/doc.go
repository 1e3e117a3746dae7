// Package grpchome binds the home protocol to gRPC.
//
// Server adapts a home.Server to the mercury.home.v1.Home service; Client
// and Connector implement protocol.Home and protocol.HomeConnector on top of
// it. Each RPC carries the caller's profile id and public key together with
// a signature over the home id and the current time, so the server knows the
// caller without a handshake. Sessions are named by an opaque token issued
// at Login.
package grpchome
