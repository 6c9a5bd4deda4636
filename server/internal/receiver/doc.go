// Package receiver implements the gRPC ingestion endpoint used by producers
// that prefer a persistent connection over HTTP POSTs.
//
// The service stockrelay.v1.Ingest has one unary method, PushSession, whose
// request and response are google.protobuf.Struct. The request carries the
// same session batch shape as POST /api/stock; the response is the batch
// summary. A request that is not a session batch fails with
// codes.InvalidArgument. Authentication is enforced upstream by the gRPC
// server interceptor (see package auth).
package receiver
