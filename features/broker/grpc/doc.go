// Package grpc exposes broker fitables over gRPC and invokes remote ones.
//
// The service has a single unary method, aipp.broker.v1.Broker/Invoke. The
// request is a google.protobuf.Struct with the string fields
// "genericable_id" and "fitable_id" and the object field "args"; the reply is
// the fitable result as a google.protobuf.Value. Unknown fitables map to
// codes.NotFound and back to broker.ErrNoFitable on the client.
package grpc
