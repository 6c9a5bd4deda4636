package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stockrelay/stockrelay/server/internal/api"
	"github.com/stockrelay/stockrelay/server/internal/auth"
	"github.com/stockrelay/stockrelay/server/internal/ingest"
	"github.com/stockrelay/stockrelay/server/internal/metrics"
	"github.com/stockrelay/stockrelay/server/internal/store"
)

const testKey = "test-secret"

// --- test helpers -----------------------------------------------------------

func newHandler(st *store.Store) http.Handler {
	return api.New(api.Options{
		Store:  st,
		Parser: ingest.NewParser("categoryA", "categoryB"),
		Guard: auth.NewGuard(auth.Settings{
			Mode:        auth.ModeAPIKey,
			Header:      "x-api-key",
			Key:         testKey,
			PublicParam: "access",
			PublicValue: "status",
		}),
		Metrics: metrics.New(st),
	})
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", testKey)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

func wantStatus(t *testing.T, rr *httptest.ResponseRecorder, code int) {
	t.Helper()
	if rr.Code != code {
		t.Fatalf("status: got %d, want %d (body: %s)", rr.Code, code, rr.Body.String())
	}
}

const sessionBatch = `{
	"sessionId": "abcdefgh12345678",
	"categoryA": [{"name": "Apple", "value": 100}],
	"categoryB": [{"name": "Banana", "value": 200}],
	"playerName": "alice"
}`

// --- GET --------------------------------------------------------------------

func TestGet_EmptyList(t *testing.T) {
	h := newHandler(store.New(10 * time.Minute))
	rr := do(t, h, http.MethodGet, "/api/stock", "")
	wantStatus(t, rr, http.StatusOK)

	var resp api.ListResponse
	decode(t, rr, &resp)
	if resp.Count != 0 || len(resp.Data) != 0 {
		t.Errorf("list: got %d entries, want 0", resp.Count)
	}
	if resp.LastCleanup.IsZero() {
		t.Error("lastCleanup: read must sweep first")
	}
	if resp.Access != "" {
		t.Errorf("access: got %q, want empty for authenticated read", resp.Access)
	}
}

func TestGet_ByID(t *testing.T) {
	st := store.New(10 * time.Minute)
	st.Upsert(store.Entry{ID: "manual-pear-1", Name: "Pear", Value: 3, Count: 2})
	h := newHandler(st)

	rr := do(t, h, http.MethodGet, "/api/stock?id=manual-pear-1", "")
	wantStatus(t, rr, http.StatusOK)
	var e store.Entry
	decode(t, rr, &e)
	if e.Name != "Pear" || e.Value != 3 || e.Count != 2 {
		t.Errorf("entry: got %+v", e)
	}
}

func TestGet_ByID_NotFound(t *testing.T) {
	h := newHandler(store.New(10 * time.Minute))
	rr := do(t, h, http.MethodGet, "/api/stock?id=nope", "")
	wantStatus(t, rr, http.StatusNotFound)

	var resp map[string]string
	decode(t, rr, &resp)
	if resp["error"] != "Not found" {
		t.Errorf("error: got %q, want Not found", resp["error"])
	}
}

func TestGet_Unauthorized(t *testing.T) {
	h := newHandler(store.New(10 * time.Minute))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/stock", nil))
	wantStatus(t, rr, http.StatusUnauthorized)
}

func TestGet_PublicMatchesAuthenticated(t *testing.T) {
	st := store.New(10 * time.Minute)
	h := newHandler(st)
	wantStatus(t, do(t, h, http.MethodPost, "/api/stock", sessionBatch), http.StatusCreated)

	var authed api.ListResponse
	decode(t, do(t, h, http.MethodGet, "/api/stock", ""), &authed)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/stock?access=status", nil))
	wantStatus(t, rr, http.StatusOK)
	var public api.ListResponse
	decode(t, rr, &public)

	if public.Access != "public" {
		t.Errorf("access: got %q, want public", public.Access)
	}
	if public.Count != authed.Count || len(public.Data) != len(authed.Data) {
		t.Fatalf("count: public %d, authenticated %d", public.Count, authed.Count)
	}
	for i := range public.Data {
		if public.Data[i] != authed.Data[i] {
			t.Errorf("data[%d]: public %+v, authenticated %+v", i, public.Data[i], authed.Data[i])
		}
	}
}

// --- POST -------------------------------------------------------------------

func TestPost_SessionBatch(t *testing.T) {
	st := store.New(10 * time.Minute)
	h := newHandler(st)

	rr := do(t, h, http.MethodPost, "/api/stock", sessionBatch)
	wantStatus(t, rr, http.StatusCreated)

	var sum ingest.Summary
	decode(t, rr, &sum)
	if sum.Counts["categoryA"] != 1 || sum.Counts["categoryB"] != 1 {
		t.Errorf("counts: got %v", sum.Counts)
	}
	if sum.Metadata["playerName"] != "alice" {
		t.Errorf("metadata: got %v", sum.Metadata)
	}

	entries := st.List()
	if len(entries) != 2 {
		t.Fatalf("store: got %d entries, want 2", len(entries))
	}
	for _, e := range entries {
		if !strings.HasSuffix(e.ID, "12345678") {
			t.Errorf("id %q does not end in the session suffix", e.ID)
		}
	}
	if _, ok := st.Get("categoryA-apple-12345678"); !ok {
		t.Error("categoryA entry missing")
	}
	if _, ok := st.Get("categoryB-banana-12345678"); !ok {
		t.Error("categoryB entry missing")
	}
}

func TestPost_SessionBatch_SkipsBadElement(t *testing.T) {
	st := store.New(10 * time.Minute)
	h := newHandler(st)

	rr := do(t, h, http.MethodPost, "/api/stock", `{
		"sessionId": "abcdefgh12345678",
		"categoryA": [{"value": "not-a-number"}, {"name": "Kiwi", "value": 7}]
	}`)
	wantStatus(t, rr, http.StatusCreated)

	var sum ingest.Summary
	decode(t, rr, &sum)
	if sum.Skipped != 1 {
		t.Errorf("skipped: got %d, want 1", sum.Skipped)
	}
	if st.Count() != 1 {
		t.Errorf("store: got %d entries, want 1", st.Count())
	}
}

func TestPost_SessionBatch_Resend_Upserts(t *testing.T) {
	st := store.New(10 * time.Minute)
	h := newHandler(st)

	do(t, h, http.MethodPost, "/api/stock", sessionBatch)
	first, _ := st.Get("categoryA-apple-12345678")

	time.Sleep(2 * time.Millisecond)
	wantStatus(t, do(t, h, http.MethodPost, "/api/stock", `{
		"sessionId": "abcdefgh12345678",
		"categoryA": [{"name": "Apple", "value": 150}]
	}`), http.StatusCreated)

	if st.Count() != 2 {
		t.Fatalf("store: got %d entries, want 2 (upsert, not append)", st.Count())
	}
	second, _ := st.Get("categoryA-apple-12345678")
	if second.Value != 150 {
		t.Errorf("value: got %v, want 150", second.Value)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("createdAt changed: %v -> %v", first.CreatedAt, second.CreatedAt)
	}
	if !second.LastUpdated.After(first.LastUpdated) {
		t.Errorf("lastUpdated did not advance: %v -> %v", first.LastUpdated, second.LastUpdated)
	}
}

func TestPost_GenericRecord(t *testing.T) {
	st := store.New(10 * time.Minute)
	h := newHandler(st)

	rr := do(t, h, http.MethodPost, "/api/stock", `{"name":"Golden Pear","value":12.5,"count":3}`)
	wantStatus(t, rr, http.StatusCreated)

	var e store.Entry
	decode(t, rr, &e)
	if !strings.HasPrefix(e.ID, "manual-golden_pear-") {
		t.Errorf("id: got %q", e.ID)
	}
	if e.CreatedAt.IsZero() || e.LastUpdated.Before(e.CreatedAt) {
		t.Errorf("timestamps: createdAt %v lastUpdated %v", e.CreatedAt, e.LastUpdated)
	}
	if _, ok := st.Get(e.ID); !ok {
		t.Error("entry not stored")
	}
}

func TestPost_GenericRecord_StringPrice_BadRequest(t *testing.T) {
	st := store.New(10 * time.Minute)
	h := newHandler(st)

	rr := do(t, h, http.MethodPost, "/api/stock", `{"name":"Pear","price":"12","count":1}`)
	wantStatus(t, rr, http.StatusBadRequest)
	if st.Count() != 0 {
		t.Errorf("store mutated: %d entries", st.Count())
	}
}

func TestPost_SessionWithoutCategories_IsGenericRecord(t *testing.T) {
	st := store.New(10 * time.Minute)
	h := newHandler(st)

	rr := do(t, h, http.MethodPost, "/api/stock", `{"sessionId":"abcdefgh12345678"}`)
	wantStatus(t, rr, http.StatusBadRequest)
}

func TestPost_MalformedJSON_Internal(t *testing.T) {
	st := store.New(10 * time.Minute)
	h := newHandler(st)

	rr := do(t, h, http.MethodPost, "/api/stock", `{"name":`)
	wantStatus(t, rr, http.StatusInternalServerError)
	if st.Count() != 0 {
		t.Errorf("store mutated: %d entries", st.Count())
	}
}

// --- PUT --------------------------------------------------------------------

func TestPost_GenericRecord_FractionalCount_BadRequest(t *testing.T) {
	st := store.New(10 * time.Minute)
	h := newHandler(st)

	for _, in := range []string{
		`{"name":"Pear","value":1,"count":2.9}`,
		`{"name":"Fig","value":1,"count":1e19}`,
	} {
		wantStatus(t, do(t, h, http.MethodPost, "/api/stock", in), http.StatusBadRequest)
	}
	if st.Count() != 0 {
		t.Errorf("store mutated: %d entries", st.Count())
	}
}

func TestEmptyBody_BadRequest(t *testing.T) {
	h := newHandler(store.New(10 * time.Minute))
	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		rr := do(t, h, method, "/api/stock", "")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s with empty body: got %d, want 400", method, rr.Code)
		}
	}
}

func TestPut_PartialUpdate(t *testing.T) {
	st := store.New(10 * time.Minute)
	st.Upsert(store.Entry{ID: "a", Name: "Apple", Value: 1, Count: 5})
	h := newHandler(st)

	rr := do(t, h, http.MethodPut, "/api/stock", `{"id":"a","value":9}`)
	wantStatus(t, rr, http.StatusOK)

	var e store.Entry
	decode(t, rr, &e)
	if e.Value != 9 || e.Name != "Apple" || e.Count != 5 {
		t.Errorf("merged entry: got %+v", e)
	}
}

func TestPut_Errors(t *testing.T) {
	st := store.New(10 * time.Minute)
	st.Upsert(store.Entry{ID: "a", Name: "Apple", Value: 1, Count: 5})
	h := newHandler(st)

	wantStatus(t, do(t, h, http.MethodPut, "/api/stock", `{"value":9}`), http.StatusBadRequest)
	wantStatus(t, do(t, h, http.MethodPut, "/api/stock", `{"id":"a","count":"x"}`), http.StatusBadRequest)
	wantStatus(t, do(t, h, http.MethodPut, "/api/stock", `{"id":"zzz","value":9}`), http.StatusNotFound)

	e, _ := st.Get("a")
	if e.Count != 5 {
		t.Errorf("count changed by rejected update: %d", e.Count)
	}
}

// --- DELETE -----------------------------------------------------------------

func TestDelete_ByID(t *testing.T) {
	st := store.New(10 * time.Minute)
	st.Upsert(store.Entry{ID: "a", Name: "Apple"})
	h := newHandler(st)

	rr := do(t, h, http.MethodDelete, "/api/stock?id=a", "")
	wantStatus(t, rr, http.StatusOK)
	var resp api.DeleteResponse
	decode(t, rr, &resp)
	if resp.Deleted.ID != "a" {
		t.Errorf("deleted: got %+v", resp.Deleted)
	}
	wantStatus(t, do(t, h, http.MethodDelete, "/api/stock?id=a", ""), http.StatusNotFound)
}

func TestDelete_BySession(t *testing.T) {
	st := store.New(10 * time.Minute)
	h := newHandler(st)
	do(t, h, http.MethodPost, "/api/stock", sessionBatch)
	do(t, h, http.MethodPost, "/api/stock", `{
		"sessionId": "zzzzzzzz87654321",
		"categoryA": [{"name": "Apple", "value": 100}]
	}`)

	rr := do(t, h, http.MethodDelete, "/api/stock", `{"sessionId":"abcdefgh12345678","reason":"game closed"}`)
	wantStatus(t, rr, http.StatusOK)

	var resp api.SessionDeleteResponse
	decode(t, rr, &resp)
	if resp.DeletedCount != 2 {
		t.Errorf("deletedCount: got %d, want 2", resp.DeletedCount)
	}
	if resp.Reason != "game closed" {
		t.Errorf("reason: got %q", resp.Reason)
	}
	if _, ok := st.Get("categoryA-apple-87654321"); !ok {
		t.Error("entry from another session was removed")
	}
	if st.Count() != 1 {
		t.Errorf("store: got %d entries, want 1", st.Count())
	}
}

func TestDelete_NoIDNoSession_BadRequest(t *testing.T) {
	h := newHandler(store.New(10 * time.Minute))
	wantStatus(t, do(t, h, http.MethodDelete, "/api/stock", ""), http.StatusBadRequest)
	wantStatus(t, do(t, h, http.MethodDelete, "/api/stock", `{"reason":"x"}`), http.StatusBadRequest)
}

// --- PATCH ------------------------------------------------------------------

func TestPatch_KeepAlive(t *testing.T) {
	st := store.New(10 * time.Minute)
	before := st.Upsert(store.Entry{ID: "a", Name: "Apple", Value: 4, Count: 2})
	h := newHandler(st)

	time.Sleep(2 * time.Millisecond)
	rr := do(t, h, http.MethodPatch, "/api/stock", `{"id":"a"}`)
	wantStatus(t, rr, http.StatusOK)

	var resp api.TouchResponse
	decode(t, rr, &resp)
	if !resp.LastUpdated.After(before.LastUpdated) {
		t.Errorf("lastUpdated did not advance: %v -> %v", before.LastUpdated, resp.LastUpdated)
	}
	after, _ := st.Get("a")
	if after.Name != before.Name || after.Value != before.Value || after.Count != before.Count ||
		!after.CreatedAt.Equal(before.CreatedAt) {
		t.Errorf("PATCH changed more than lastUpdated: before %+v after %+v", before, after)
	}
}

func TestPatch_Errors(t *testing.T) {
	st := store.New(10 * time.Minute)
	h := newHandler(st)
	wantStatus(t, do(t, h, http.MethodPatch, "/api/stock", `{}`), http.StatusBadRequest)
	wantStatus(t, do(t, h, http.MethodPatch, "/api/stock", `{"id":"ghost"}`), http.StatusNotFound)
	if st.Count() != 0 {
		t.Errorf("PATCH on unknown id created %d entries", st.Count())
	}
}

// --- misc -------------------------------------------------------------------

func TestMethodNotAllowed(t *testing.T) {
	h := newHandler(store.New(10 * time.Minute))
	rr := do(t, h, http.MethodOptions, "/api/stock", "")
	wantStatus(t, rr, http.StatusMethodNotAllowed)
}

func TestHealthz_NoAuth(t *testing.T) {
	h := newHandler(store.New(10 * time.Minute))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	wantStatus(t, rr, http.StatusOK)
	var resp api.HealthResponse
	decode(t, rr, &resp)
	if resp.Status != "ok" {
		t.Errorf("status: got %q", resp.Status)
	}
}

func TestGet_SweepsDeadEntries(t *testing.T) {
	st := store.New(20 * time.Millisecond)
	st.Upsert(store.Entry{ID: "stale", Name: "stale"})
	h := newHandler(st)

	time.Sleep(40 * time.Millisecond)
	rr := do(t, h, http.MethodGet, "/api/stock", "")
	wantStatus(t, rr, http.StatusOK)

	var resp api.ListResponse
	decode(t, rr, &resp)
	if resp.Count != 0 {
		t.Errorf("count: got %d, want 0", resp.Count)
	}
	if st.Count() != 0 {
		t.Errorf("store: dead entry not swept, %d left", st.Count())
	}
	wantStatus(t, do(t, h, http.MethodGet, "/api/stock?id=stale", ""), http.StatusNotFound)
}

func TestOnChange_CalledAfterWrites(t *testing.T) {
	st := store.New(10 * time.Minute)
	var calls int
	h := api.New(api.Options{
		Store:    st,
		Parser:   ingest.NewParser("categoryA", "categoryB"),
		Guard:    auth.NewGuard(auth.Settings{Mode: auth.ModeNone}),
		OnChange: func() { calls++ },
	})

	do(t, h, http.MethodPost, "/api/stock", sessionBatch)
	do(t, h, http.MethodPatch, "/api/stock", `{"id":"categoryA-apple-12345678"}`)
	do(t, h, http.MethodGet, "/api/stock", "")
	do(t, h, http.MethodPut, "/api/stock", `{"id":"missing"}`)

	if calls != 2 {
		t.Errorf("OnChange calls: got %d, want 2 (reads and failed writes do not notify)", calls)
	}
}
