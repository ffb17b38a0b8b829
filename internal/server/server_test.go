package server

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arawrdn/fof-fulfillment-service/internal/chain"
	"github.com/arawrdn/fof-fulfillment-service/internal/config"
	"github.com/arawrdn/fof-fulfillment-service/internal/metrics"
	"github.com/arawrdn/fof-fulfillment-service/internal/models"
	"github.com/arawrdn/fof-fulfillment-service/internal/storage"
)

// fakeManager stands in for the node connection manager
type fakeManager struct {
	connected bool
	stats     chain.ConnectionStats
}

func (m *fakeManager) GetClient(ctx context.Context) (*ethclient.Client, error) { return nil, nil }
func (m *fakeManager) HealthCheck(ctx context.Context) error                    { return nil }
func (m *fakeManager) GetLatestBlockNumber(ctx context.Context) (uint64, error) {
	return m.stats.LatestBlock, nil
}
func (m *fakeManager) IsConnected() bool            { return m.connected }
func (m *fakeManager) Close() error                 { return nil }
func (m *fakeManager) Stats() chain.ConnectionStats { return m.stats }

func newTestServer(t *testing.T) (*HTTPServer, storage.Store) {
	srv, store, _ := newTestServerWith(t, nil)
	return srv, store
}

func newTestServerWith(t *testing.T, conn chain.Manager) (*HTTPServer, storage.Store, *metrics.Metrics) {
	t.Helper()

	store, err := storage.NewStorage(&storage.StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "server.db"),
		MaxConnections:   5,
		MaxIdleTime:      time.Minute,
	})
	require.NoError(t, err)
	require.NoError(t, store.Connect())
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { store.Close() })

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	srv := NewHTTPServer(&config.ServerConfig{
		Host:          "127.0.0.1",
		Port:          0,
		ReadTimeout:   5 * time.Second,
		WriteTimeout:  5 * time.Second,
		EnableHealth:  true,
		EnableMetrics: true,
	}, store, conn, nil, m, registry)

	return srv, store, m
}

func seedRecord(t *testing.T, store storage.Store, txHash string, status models.ClaimStatus) *models.FulfillmentRecord {
	t.Helper()

	now := time.Now().UTC()
	record := &models.FulfillmentRecord{
		TxHash:           txHash,
		LogIndex:         0,
		BlockNumber:      10,
		User:             "0x1111111111111111111111111111111111111111",
		TokenID:          "1",
		Rarity:           "Elite",
		Merchandise:      []string{"T-Shirt", "Hat"},
		UserRewardWei:    big.NewInt(1000),
		CharityAmountWei: big.NewInt(500),
		Status:           models.StatusPendingClaim,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, store.ApplyBurn(context.Background(), record, nil))

	if status != models.StatusPendingClaim {
		require.NoError(t, store.TransitionRecord(context.Background(), txHash, 0, status))
	}
	return record
}

func doRequest(srv *HTTPServer, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestHealthReportsNodeState(t *testing.T) {
	manager := &fakeManager{connected: false}
	srv, _, _ := newTestServerWith(t, manager)

	rec := doRequest(srv, "GET", "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "disconnected", body.Components["node"])

	manager.connected = true
	rec = doRequest(srv, "GET", "/health", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "connected", body.Components["node"])
}

func TestStatsEndpoint(t *testing.T) {
	manager := &fakeManager{
		connected: true,
		stats: chain.ConnectionStats{
			TotalRequests: 7,
			CurrentURL:    "http://node.example",
			IsHealthy:     true,
		},
	}
	srv, store, _ := newTestServerWith(t, manager)

	seedRecord(t, store, "0xstats", models.StatusPendingClaim)
	require.NoError(t, store.AdvanceWatermark(context.Background(), 99))

	rec := doRequest(srv, "GET", "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		WatermarkBlock uint64                `json:"watermark_block"`
		TotalRecords   int64                 `json:"total_records"`
		Connection     chain.ConnectionStats `json:"connection"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, uint64(99), body.WatermarkBlock)
	assert.Equal(t, int64(1), body.TotalRecords)
	assert.Equal(t, uint64(7), body.Connection.TotalRequests)
	assert.Equal(t, "http://node.example", body.Connection.CurrentURL)
}

func TestRequestsAreCounted(t *testing.T) {
	srv, _, m := newTestServerWith(t, nil)

	doRequest(srv, "GET", "/health", "")
	doRequest(srv, "GET", "/health", "")
	doRequest(srv, "GET", "/api/v1/records", "")

	assert.Equal(t, float64(2),
		testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/health", "200")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/records", "400")))
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, "GET", "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListRecords(t *testing.T) {
	srv, store := newTestServer(t)
	seedRecord(t, store, "0xs1", models.StatusPendingClaim)
	seedRecord(t, store, "0xs2", models.StatusClaimed)

	rec := doRequest(srv, "GET", "/api/v1/records?status=PENDING_CLAIM", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Records []*models.FulfillmentRecord `json:"records"`
		Count   int                         `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "0xs1", body.Records[0].TxHash)
}

func TestListRecordsRequiresStatus(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, "GET", "/api/v1/records", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(srv, "GET", "/api/v1/records?status=BOGUS", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRecord(t *testing.T) {
	srv, store := newTestServer(t)
	seedRecord(t, store, "0xs3", models.StatusPendingClaim)

	rec := doRequest(srv, "GET", "/api/v1/records/0xs3/0", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var record models.FulfillmentRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, "0xs3", record.TxHash)
	assert.Equal(t, []string{"T-Shirt", "Hat"}, record.Merchandise)

	rec = doRequest(srv, "GET", "/api/v1/records/0xmissing/0", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTransitionEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	seedRecord(t, store, "0xs4", models.StatusPendingClaim)

	rec := doRequest(srv, "POST", "/api/v1/records/0xs4/0/transition", `{"status":"CLAIMED"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var record models.FulfillmentRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, models.StatusClaimed, record.Status)

	// Illegal transition is rejected with a conflict
	rec = doRequest(srv, "POST", "/api/v1/records/0xs4/0/transition", `{"status":"PENDING_CLAIM"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(srv, "POST", "/api/v1/records/0xmissing/0/transition", `{"status":"CLAIMED"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWatermarkEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	require.NoError(t, store.AdvanceWatermark(context.Background(), 4321))

	rec := doRequest(srv, "GET", "/api/v1/watermark", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]uint64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, uint64(4321), body["block_number"])
}

func TestSnapshotsWithoutAccountant(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, "POST", "/api/v1/snapshots", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = doRequest(srv, "GET", "/api/v1/snapshots", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
