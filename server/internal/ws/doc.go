// Package ws pushes the live stock list to connected viewers over WebSocket,
// as an alternative to polling GET /api/stock.
//
// Hub.Run(ctx) broadcasts on a fixed interval and whenever Notify is called
// after a write, until ctx is cancelled, then closes every connection.
// Hub.ServeHTTP upgrades the request, sends the current list at once and
// then streams updates.
//
// Message format:
//
//	{"event": "stock", "data": { /* same schema as GET /api/stock */ }}
//
// The hub is mounted behind the auth guard at /ws/stream, so browsers connect
// with the public flag (?access=status).
package ws
