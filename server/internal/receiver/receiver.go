package receiver

import (
	"context"
	"encoding/json"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/stockrelay/stockrelay/server/internal/ingest"
	"github.com/stockrelay/stockrelay/server/internal/metrics"
	"github.com/stockrelay/stockrelay/server/internal/store"
)

// Receiver implements IngestServer on top of the entry store.
type Receiver struct {
	store   *store.Store
	parser  *ingest.Parser
	metrics *metrics.Metrics
}

// New creates a Receiver that writes accepted batches to st. m may be nil.
func New(st *store.Store, p *ingest.Parser, m *metrics.Metrics) *Receiver {
	return &Receiver{store: st, parser: p, metrics: m}
}

// PushSession stores every valid element of a session batch and returns the
// batch summary.
func (r *Receiver) PushSession(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	body := req.AsMap()
	if !r.parser.IsBatch(body) {
		return nil, status.Error(codes.InvalidArgument, "sessionId and at least one category array are required")
	}

	b := r.parser.ParseBatch(body)
	for _, e := range b.Entries {
		r.store.Upsert(e)
	}
	r.metrics.ObserveUpserts(metrics.SourceGRPC, len(b.Entries))
	r.metrics.ObserveSkipped(b.Summary.Skipped)

	slog.Debug("receiver: session batch stored",
		"session", ingest.SessionSuffix(b.Summary.SessionID),
		"entries", len(b.Entries),
		"skipped", b.Summary.Skipped,
	)

	out, err := toStruct(b.Summary)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode summary: %v", err)
	}
	return out, nil
}

// toStruct converts v to a Struct through its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}
