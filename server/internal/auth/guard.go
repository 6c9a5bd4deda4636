package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Auth modes.
const (
	ModeAPIKey = "apikey"
	ModeNone   = "none"
)

// Settings configures the boundary filter.
type Settings struct {
	Mode        string
	Header      string
	Key         string
	PublicParam string
	PublicValue string
}

type ctxKey struct{}

// IsPublic reports whether the request carrying ctx was admitted through the
// public-access flag rather than the shared secret.
func IsPublic(ctx context.Context) bool {
	v, _ := ctx.Value(ctxKey{}).(bool)
	return v
}

// Guard is the shared-secret / public-flag filter. It is safe for concurrent use.
type Guard struct {
	settings atomic.Pointer[Settings]
}

// NewGuard creates a Guard with the given settings.
func NewGuard(s Settings) *Guard {
	g := &Guard{}
	g.Update(s)
	return g
}

// Update replaces the active settings.
func (g *Guard) Update(s Settings) {
	s.Header = strings.ToLower(s.Header)
	g.settings.Store(&s)
}

// Check evaluates r against the active settings. public is true when r was
// admitted through the public-access flag.
func (g *Guard) Check(r *http.Request) (public, ok bool) {
	s := g.settings.Load()
	if r.Method == http.MethodGet && s.PublicParam != "" && s.PublicValue != "" {
		q := r.URL.Query()
		if q.Has(s.PublicParam) && q.Get(s.PublicParam) == s.PublicValue {
			return true, true
		}
	}
	return false, s.accepts(r.Header.Get(s.Header))
}

// Middleware rejects requests that fail Check and marks public ones in the
// request context.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		public, ok := g.Check(r)
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized"}) //nolint:errcheck
			return
		}
		if public {
			r = r.WithContext(context.WithValue(r.Context(), ctxKey{}, true))
		}
		next.ServeHTTP(w, r)
	})
}

// UnaryInterceptor returns a gRPC UnaryServerInterceptor that enforces the
// shared secret on every call. There is no public access over gRPC.
//
// gRPC metadata keys are normalised to lowercase, which Update already does
// for the configured header.
func (g *Guard) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		s := g.settings.Load()
		if s.Mode == ModeNone {
			return handler(ctx, req)
		}

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}
		vals := md.Get(s.Header)
		if len(vals) == 0 || !s.accepts(vals[0]) {
			return nil, status.Error(codes.Unauthenticated, "invalid api key")
		}
		return handler(ctx, req)
	}
}

// accepts reports whether got is a valid secret. An unset key accepts nothing.
func (s *Settings) accepts(got string) bool {
	if s.Mode == ModeNone {
		return true
	}
	if s.Key == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.Key)) == 1
}
