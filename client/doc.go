// Package client is the persona side of mercury. ProfileGateway registers a
// persona, keeps its home session and reaches the homes of its peers.
// DAppConnect gives one application calls, contacts and storage on top of a
// gateway.
package client
