// Package config loads the server configuration from the `server:` section
// of config.yaml.
//
// Config fields:
//   - HTTPPort             — port for the stock API, WebSocket hub and /metrics (default 8080)
//   - GRPCPort             — port for gRPC session ingestion, 0 disables (default 50051)
//   - Log.Level            — debug | info | warn | error (default info)
//   - Auth.Mode            — "apikey" or "none"
//   - Auth.KeyEnv          — environment variable holding the shared secret
//   - Auth.Header          — header carrying the secret (default "x-api-key")
//   - Auth.PublicParam/Value — read-only public query flag (default access=status)
//   - Store.MaxAge         — entry lifetime after last update (default 10m)
//   - Store.SweepInterval  — background sweep period (default 5m)
//   - Ingest.Categories    — the two session batch category keys (default seeds, gear)
//   - WS.Interval          — viewer push period (default 5s)
//
// Load(path) applies defaults before unmarshalling, then validates.
// Watch(ctx, path, fn) reloads the file on change via fsnotify.
package config
