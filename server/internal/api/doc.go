// Package api implements the HTTP surface of the stock relay.
//
// New(Options) returns an http.Handler (a chi router) that serves:
//
//	GET    /healthz               — liveness and entry count, no auth
//	GET    /api/stock?id=<id>     — one entry; 404 {"error":"Not found"}
//	GET    /api/stock             — {data, count, lastCleanup[, access:"public"]}
//	POST   /api/stock             — generic record or session batch; 201
//	PUT    /api/stock             — partial update {id, name?, value?, count?}
//	DELETE /api/stock?id=<id>     — delete one entry
//	DELETE /api/stock {sessionId} — delete every entry of a session
//	PATCH  /api/stock {id}        — keep-alive, refreshes lastUpdated only
//
// Every /api/stock request passes the auth.Guard first. Reads sweep the store
// before answering so dead entries are never served. Request bodies that are
// not a JSON object yield 500, as do recovered panics; validation failures
// yield 400 and never touch the store.
package api
