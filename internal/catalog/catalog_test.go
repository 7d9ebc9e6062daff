package catalog

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datalumen/schemactx/internal/errs"
	"github.com/datalumen/schemactx/internal/schema"
)

// fakeFetcher serves canned descriptors and can be flipped to fail.
type fakeFetcher struct {
	descs   []schema.TableDescriptor
	version string
	fail    atomic.Bool
	calls   atomic.Int32
}

func (f *fakeFetcher) Ping(ctx context.Context) error { return nil }
func (f *fakeFetcher) Close()                         {}

func (f *fakeFetcher) ListObjects(ctx context.Context) ([]schema.TableDescriptor, error) {
	f.calls.Add(1)
	if f.fail.Load() {
		return nil, errs.New(errs.ErrKindConnectionFailed, "metadata source down")
	}
	return append([]schema.TableDescriptor(nil), f.descs...), nil
}

func (f *fakeFetcher) FetchDetail(ctx context.Context, table string) (*schema.TableDetail, error) {
	return nil, errors.New("not used")
}

func (f *fakeFetcher) FetchReferencing(ctx context.Context, table string) ([]schema.RelationshipEdge, error) {
	return nil, nil
}

func (f *fakeFetcher) SchemaVersion(ctx context.Context) (string, error) {
	if f.fail.Load() {
		return "", errs.New(errs.ErrKindConnectionFailed, "metadata source down")
	}
	return f.version, nil
}

func testFetcher() *fakeFetcher {
	return &fakeFetcher{
		descs: []schema.TableDescriptor{
			{Name: "MN_MCD_CLAIM", Owner: "public", Kind: schema.KindTable},
			{Name: "MN_MCD_CLAIM_LINE", Owner: "public", Kind: schema.KindTable},
			{Name: "MN_MCD_PRICELIST_PUBLISHED", Owner: "public", Kind: schema.KindTable},
			{Name: "AUDIT_LOG", Owner: "public", Kind: schema.KindTable},
		},
		version: "v1",
	}
}

func testMapping() Mapping {
	return Mapping{
		"MN_MCD_CLAIM":               {Tier: schema.TierCore, Description: "rebate claims"},
		"MN_MCD_CLAIM_LINE":          {Tier: schema.TierCore},
		"MN_MCD_PRICELIST_PUBLISHED": {Tier: schema.TierContextual},
	}
}

func TestCatalog_Bootstrap(t *testing.T) {
	cat := New(testFetcher(), testMapping(), nil)
	require.NoError(t, cat.Bootstrap(context.Background()))

	assert.Equal(t, 4, cat.Size())
	assert.Equal(t, "v1", cat.Version())
	assert.True(t, cat.Exists("MN_MCD_CLAIM"))
	assert.False(t, cat.Exists("MN_MCD_FAKE_TABLE"))
}

func TestCatalog_BootstrapFailure(t *testing.T) {
	f := testFetcher()
	f.fail.Store(true)

	cat := New(f, nil, nil)
	err := cat.Bootstrap(context.Background())
	require.Error(t, err)
	assert.True(t, errs.IsCatalogUnavailable(err))
}

func TestCatalog_TierAssignment(t *testing.T) {
	cat := New(testFetcher(), testMapping(), nil)
	require.NoError(t, cat.Bootstrap(context.Background()))

	assert.Equal(t, schema.TierCore, cat.TierOf("MN_MCD_CLAIM"))
	assert.Equal(t, schema.TierContextual, cat.TierOf("MN_MCD_PRICELIST_PUBLISHED"))
	// Unmapped and unknown names both resolve peripheral.
	assert.Equal(t, schema.TierPeripheral, cat.TierOf("AUDIT_LOG"))
	assert.Equal(t, schema.TierPeripheral, cat.TierOf("NO_SUCH_TABLE"))
}

func TestCatalog_NamesSorted(t *testing.T) {
	cat := New(testFetcher(), testMapping(), nil)
	require.NoError(t, cat.Bootstrap(context.Background()))

	assert.Equal(t, []string{
		"AUDIT_LOG",
		"MN_MCD_CLAIM",
		"MN_MCD_CLAIM_LINE",
		"MN_MCD_PRICELIST_PUBLISHED",
	}, cat.Names())

	assert.Equal(t, []string{"MN_MCD_CLAIM", "MN_MCD_CLAIM_LINE"},
		cat.NamesByTier(schema.TierCore))
}

func TestCatalog_RefreshFailureKeepsSnapshot(t *testing.T) {
	f := testFetcher()
	cat := New(f, testMapping(), nil)
	require.NoError(t, cat.Bootstrap(context.Background()))

	f.fail.Store(true)
	err := cat.Refresh(context.Background())
	require.Error(t, err)
	assert.True(t, errs.IsCatalogUnavailable(err))

	// Previous snapshot still serves.
	assert.Equal(t, 4, cat.Size())
	assert.True(t, cat.Exists("MN_MCD_CLAIM"))
	assert.Equal(t, "v1", cat.Version())
}

func TestCatalog_RefreshPicksUpNewTables(t *testing.T) {
	f := testFetcher()
	cat := New(f, testMapping(), nil)
	require.NoError(t, cat.Bootstrap(context.Background()))

	f.descs = append(f.descs, schema.TableDescriptor{
		Name: "MN_MCD_PAYMENT", Owner: "public", Kind: schema.KindTable,
	})
	f.version = "v2"

	require.NoError(t, cat.Refresh(context.Background()))
	assert.Equal(t, 5, cat.Size())
	assert.True(t, cat.Exists("MN_MCD_PAYMENT"))
	assert.Equal(t, "v2", cat.Version())
}

func TestCatalog_ApplyMapping(t *testing.T) {
	f := testFetcher()
	cat := New(f, testMapping(), nil)
	require.NoError(t, cat.Bootstrap(context.Background()))
	require.Equal(t, schema.TierPeripheral, cat.TierOf("AUDIT_LOG"))

	before := f.calls.Load()

	cat.ApplyMapping(Mapping{
		"AUDIT_LOG": {Tier: schema.TierCore, Description: "audit trail"},
	})

	assert.Equal(t, schema.TierCore, cat.TierOf("AUDIT_LOG"))
	// Tables dropped from the mapping fall back to peripheral.
	assert.Equal(t, schema.TierPeripheral, cat.TierOf("MN_MCD_CLAIM"))
	// No extra metadata query was issued.
	assert.Equal(t, before, f.calls.Load())
}

func TestCatalog_Summary(t *testing.T) {
	cat := New(testFetcher(), testMapping(), nil)
	require.NoError(t, cat.Bootstrap(context.Background()))

	summary := cat.Summary()
	assert.Contains(t, summary, "MN_MCD_CLAIM [core] rebate claims")
	assert.Contains(t, summary, "AUDIT_LOG [peripheral]")
	// Column detail never leaks into the planner prompt.
	assert.NotContains(t, summary, "data_type")
}

func TestCatalog_ReadsBeforeBootstrap(t *testing.T) {
	cat := New(testFetcher(), nil, nil)

	assert.False(t, cat.Exists("MN_MCD_CLAIM"))
	assert.Equal(t, 0, cat.Size())
	assert.Empty(t, cat.Names())
}
