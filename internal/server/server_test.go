package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datalumen/schemactx/internal/builder"
	"github.com/datalumen/schemactx/internal/cache"
	"github.com/datalumen/schemactx/internal/catalog"
	"github.com/datalumen/schemactx/internal/errs"
	"github.com/datalumen/schemactx/internal/intent"
	"github.com/datalumen/schemactx/internal/relgraph"
	"github.com/datalumen/schemactx/internal/schema"
)

// fakeFetcher is an in-memory metadata source for handler tests.
type fakeFetcher struct {
	mu      sync.Mutex
	details map[string]*schema.TableDetail
	fail    atomic.Bool
	fetches map[string]int
	version string
}

func newFakeFetcher() *fakeFetcher {
	claim := &schema.TableDetail{
		Name: "MN_MCD_CLAIM",
		Columns: []schema.ColumnDescriptor{
			{Name: "ID", DataType: "bigint", PrimaryKeyPart: true},
			{Name: "STATUS", DataType: "text"},
		},
	}
	line := &schema.TableDetail{
		Name: "MN_MCD_CLAIM_LINE",
		Columns: []schema.ColumnDescriptor{
			{Name: "ID", DataType: "bigint", PrimaryKeyPart: true},
			{Name: "MN_MCD_CLAIM_ID", DataType: "bigint"},
		},
		Constraints: []schema.ConstraintDescriptor{{
			Name:             "FK_LINE_CLAIM",
			Kind:             schema.ConstraintForeignKey,
			Column:           "MN_MCD_CLAIM_ID",
			ReferencedTable:  "MN_MCD_CLAIM",
			ReferencedColumn: "ID",
		}},
	}
	return &fakeFetcher{
		details: map[string]*schema.TableDetail{claim.Name: claim, line.Name: line},
		fetches: map[string]int{},
		version: "v1",
	}
}

func (f *fakeFetcher) Ping(ctx context.Context) error { return nil }
func (f *fakeFetcher) Close()                         {}

func (f *fakeFetcher) ListObjects(ctx context.Context) ([]schema.TableDescriptor, error) {
	if f.fail.Load() {
		return nil, errs.New(errs.ErrKindConnectionFailed, "metadata source down")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var descs []schema.TableDescriptor
	for name := range f.details {
		descs = append(descs, schema.TableDescriptor{Name: name, Owner: "public", Kind: schema.KindTable})
	}
	return descs, nil
}

func (f *fakeFetcher) FetchDetail(ctx context.Context, table string) (*schema.TableDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches[table]++
	detail, ok := f.details[table]
	if !ok {
		return nil, errs.Newf(errs.ErrKindUnknownTable, "no such table %s", table)
	}
	return detail, nil
}

func (f *fakeFetcher) FetchReferencing(ctx context.Context, table string) ([]schema.RelationshipEdge, error) {
	return nil, nil
}

func (f *fakeFetcher) SchemaVersion(ctx context.Context) (string, error) {
	if f.fail.Load() {
		return "", errs.New(errs.ErrKindConnectionFailed, "metadata source down")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.version, nil
}

func newTestServer(t *testing.T) (*Server, *fakeFetcher) {
	t.Helper()
	fetcher := newFakeFetcher()

	cat := catalog.New(fetcher, catalog.Mapping{
		"MN_MCD_CLAIM":      {Tier: schema.TierCore, Description: "rebate claims"},
		"MN_MCD_CLAIM_LINE": {Tier: schema.TierCore},
	}, nil)
	require.NoError(t, cat.Bootstrap(context.Background()))

	schemaCache := cache.New(fetcher, cat, nil, cache.Options{}, nil)
	t.Cleanup(schemaCache.Close)

	resolver := intent.New(nil, cat, schemaCache, intent.Options{}, nil)
	disc := relgraph.New(schemaCache, fetcher, cat, nil)
	b := builder.New(resolver, schemaCache, disc, builder.Options{}, nil)

	return New(b, cat, schemaCache, nil), fetcher
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleBuildContext(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	rec := postJSON(t, router, "/v1/context", map[string]string{
		"query": "total rebate per claim",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var sc schema.SchemaContext
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sc))

	// No planner is wired, so the fallback resolves both CORE tables.
	assert.Contains(t, sc.Tables, "MN_MCD_CLAIM")
	assert.Contains(t, sc.Tables, "MN_MCD_CLAIM_LINE")
	assert.NotEmpty(t, sc.Edges)
}

func TestHandleBuildContext_BadBody(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/context", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleBuildContext_EmptyQuery(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := postJSON(t, srv.Router(), "/v1/context", map[string]string{"query": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_input", resp["kind"])
}

func TestHandleCatalog(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/catalog", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var entries []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "MN_MCD_CLAIM", entries[0]["name"])
	assert.Equal(t, "core", entries[0]["tier"])
	assert.Equal(t, "rebate claims", entries[0]["description"])
}

func TestHandleCatalogRefresh(t *testing.T) {
	srv, fetcher := newTestServer(t)
	router := srv.Router()

	rec := postJSON(t, router, "/v1/catalog/refresh", map[string]string{})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// A failing refresh reports upstream trouble but keeps serving.
	fetcher.fail.Store(true)
	rec = postJSON(t, router, "/v1/catalog/refresh", map[string]string{})
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/catalog", nil)
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, req)
	assert.Equal(t, http.StatusOK, getRec.Code)
}

func TestHandleCatalogRefresh_PreloadsCoreTables(t *testing.T) {
	srv, fetcher := newTestServer(t)

	rec := postJSON(t, srv.Router(), "/v1/catalog/refresh", map[string]string{})
	require.Equal(t, http.StatusNoContent, rec.Code)
	srv.cache.Close()

	// Both CORE tables are resident without any context request naming them.
	for _, name := range []string{"MN_MCD_CLAIM", "MN_MCD_CLAIM_LINE"} {
		_, ok := srv.cache.Get(context.Background(), name)
		assert.True(t, ok, name)
	}
	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	assert.Equal(t, 1, fetcher.fetches["MN_MCD_CLAIM"])
}

func TestHandleCatalogRefresh_VersionChangeInvalidates(t *testing.T) {
	srv, fetcher := newTestServer(t)
	router := srv.Router()

	// Prime the cache.
	rec := postJSON(t, router, "/v1/context", map[string]string{"query": "claims"})
	require.Equal(t, http.StatusOK, rec.Code)
	fetcher.mu.Lock()
	before := fetcher.fetches["MN_MCD_CLAIM"]
	fetcher.mu.Unlock()

	fetcher.mu.Lock()
	fetcher.version = "v2"
	fetcher.mu.Unlock()

	rec = postJSON(t, router, "/v1/catalog/refresh", map[string]string{})
	require.Equal(t, http.StatusNoContent, rec.Code)

	// Cached detail is stale now, so the next build refetches.
	rec = postJSON(t, router, "/v1/context", map[string]string{"query": "claims"})
	require.Equal(t, http.StatusOK, rec.Code)
	srv.cache.Close()

	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	assert.Greater(t, fetcher.fetches["MN_MCD_CLAIM"], before)
}

func TestHandleInvalidate(t *testing.T) {
	srv, fetcher := newTestServer(t)
	router := srv.Router()

	// Prime the cache.
	rec := postJSON(t, router, "/v1/context", map[string]string{"query": "claims"})
	require.Equal(t, http.StatusOK, rec.Code)
	fetcher.mu.Lock()
	before := fetcher.fetches["MN_MCD_CLAIM"]
	fetcher.mu.Unlock()

	rec = postJSON(t, router, "/v1/cache/invalidate", map[string]string{"table": "MN_MCD_CLAIM"})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// The next context build refetches the invalidated table.
	rec = postJSON(t, router, "/v1/context", map[string]string{"query": "claims"})
	require.Equal(t, http.StatusOK, rec.Code)
	srv.cache.Close()

	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	assert.Greater(t, fetcher.fetches["MN_MCD_CLAIM"], before)
}

func TestHandleInvalidate_UnknownTable(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := postJSON(t, srv.Router(), "/v1/cache/invalidate", map[string]string{"table": "MN_MCD_FAKE_TABLE"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleInvalidate_All(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := postJSON(t, srv.Router(), "/v1/cache/invalidate", map[string]string{})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, float64(2), resp["tables"])
}
