// Package grpccas serves and consumes profile document stores over gRPC.
//
// Importing the package registers the "grpc" storage backend, which lets a
// home keep its documents on another home that serves its store.
package grpccas
