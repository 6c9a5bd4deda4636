// Package auth implements the boundary filter applied before requests reach
// the entry store.
//
// A request passes when it is a GET carrying the public-access query flag
// (default ?access=status), or when it carries the shared secret in the
// configured header (default "x-api-key"). Everything else is rejected with
// 401 {"error":"Unauthorized"} on HTTP and codes.Unauthenticated on gRPC.
//
// In mode "none" every request passes (local development).
//
// Guard holds its Settings behind an atomic pointer so a config reload can
// swap the secret without restarting listeners.
package auth
