package rpcServer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Layr-Labs/runtime-indexer/internal/config"
	"github.com/Layr-Labs/runtime-indexer/internal/tests"
	"github.com/Layr-Labs/runtime-indexer/pkg/callDispatcher"
	"github.com/Layr-Labs/runtime-indexer/pkg/chain"
	"github.com/Layr-Labs/runtime-indexer/pkg/eventBus/eventBusTypes"
	"github.com/Layr-Labs/runtime-indexer/pkg/failureReport"
	"github.com/Layr-Labs/runtime-indexer/pkg/logger"
	"github.com/Layr-Labs/runtime-indexer/pkg/metrics"
	"github.com/Layr-Labs/runtime-indexer/pkg/metrics/metricsTypes"
	"github.com/Layr-Labs/runtime-indexer/pkg/metrics/prometheus"
	"github.com/Layr-Labs/runtime-indexer/pkg/runtimeIndexer"
	"github.com/Layr-Labs/runtime-indexer/pkg/schemaRegistry"
	"github.com/Layr-Labs/runtime-indexer/pkg/storage"
	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
)

type fakeIndexer struct {
	status     *runtimeIndexer.Status
	refreshErr error
	refreshes  int
}

func (f *fakeIndexer) Status(ctx context.Context) (*runtimeIndexer.Status, error) {
	return f.status, nil
}

func (f *fakeIndexer) RefreshRegistry(ctx context.Context) (*eventBusTypes.RegistryRefreshedData, error) {
	f.refreshes++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return &eventBusTypes.RegistryRefreshedData{
		Previous: schemaRegistry.SnapshotInfo{Source: "old", SpecVersions: []uint32{900}},
		Current:  schemaRegistry.SnapshotInfo{Source: "new", SpecVersions: []uint32{900, 1000}},
		Kinds:    3,
		Variants: 5,
	}, nil
}

type staticRegistry struct {
	reg *schemaRegistry.SchemaRegistry
}

func (s *staticRegistry) Registry() *schemaRegistry.SchemaRegistry {
	return s.reg
}

type testServer struct {
	rpc     *RpcServer
	handler http.Handler
	indexer *fakeIndexer
	store   *tests.InMemoryBlockStore
	report  *failureReport.FailureReport
	prom    *prometheus.PrometheusMetricsClient
}

func setup(t *testing.T) *testServer {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	assert.Nil(t, err)

	prom, err := prometheus.NewPrometheusMetricsClient(&prometheus.PrometheusMetricsConfig{Metrics: metricsTypes.MetricTypes}, l)
	assert.Nil(t, err)
	ms, err := metrics.NewMetricsSink(&metrics.MetricsSinkConfig{}, []metricsTypes.IMetricsClient{prom})
	assert.Nil(t, err)

	reg, err := schemaRegistry.NewSchemaRegistry(schemaRegistry.SnapshotInfo{Source: "test", SpecVersions: []uint32{900}}, nil)
	assert.Nil(t, err)

	store := tests.NewInMemoryBlockStore()
	report := failureReport.NewFailureReport(&failureReport.FailureReportConfig{}, &staticRegistry{reg: reg}, ms, l)
	indexer := &fakeIndexer{}

	rpc := NewRpcServer(&RpcServerConfig{}, store, report, indexer, ms, &config.Config{Chain: config.Chain_Local}, l)
	handler, err := rpc.HttpHandler()
	assert.Nil(t, err)
	return &testServer{rpc: rpc, handler: handler, indexer: indexer, store: store, report: report, prom: prom}
}

func (ts *testServer) do(t *testing.T, method string, path string) (*httptest.ResponseRecorder, map[string]any) {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	body := map[string]any{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		assert.Nil(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func failureOutcome(height uint64, index uint32, kind callDispatcher.OutcomeKind) *callDispatcher.DispatchOutcome {
	return &callDispatcher.DispatchOutcome{
		Envelope:    &chain.RawEnvelope{Index: index, Type: schemaRegistry.ItemType_Call, Name: "Balances.transfer", Payload: []byte{1}},
		BlockHeight: height,
		SpecVersion: 950,
		Kind:        kind,
		Hash:        "af839aed",
		Err:         errors.New("unexpected end of payload"),
	}
}

func Test_Status(t *testing.T) {
	ts := setup(t)
	last := uint64(41)
	ts.indexer.status = &runtimeIndexer.Status{
		Chain:               "local",
		Running:             true,
		LastIndexedBlock:    &last,
		NodeTip:             45,
		RegistrySource:      "test",
		RegistrySpecVersion: 900,
		FailureTotal:        2,
		FailuresByReason:    map[string]int{"decode_error": 2},
		LaggingSpecVersions: []uint32{1000},
	}

	rec, body := ts.do(t, http.MethodGet, "/v1/status")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "local", body["chain"])
	assert.Equal(t, true, body["running"])

	indexing := body["indexing"].(map[string]any)
	assert.Equal(t, float64(41), indexing["lastIndexedBlock"])
	assert.Equal(t, float64(45), indexing["nodeTip"])

	failures := body["failures"].(map[string]any)
	assert.Equal(t, float64(2), failures["byReason"].(map[string]any)["decode_error"])
	assert.Equal(t, []any{float64(1000)}, failures["laggingSpecVersions"])
}

func Test_Failures(t *testing.T) {
	ts := setup(t)
	ts.report.Record(failureOutcome(10, 0, callDispatcher.OutcomeKind_DecodeError))
	ts.report.Record(failureOutcome(12, 1, callDispatcher.OutcomeKind_NoVariantForVersion))
	assert.Nil(t, ts.store.InsertBlock(context.Background(), &storage.BlockData{
		Block: &storage.Block{Number: 10},
		Failures: []*storage.DispatchFailure{
			{BlockNumber: 10, ItemIndex: 0, ItemType: "call", Kind: "Balances.transfer", Reason: "decode_error", Payload: "0x01"},
		},
	}))
	assert.Nil(t, ts.store.InsertBlock(context.Background(), &storage.BlockData{
		Block: &storage.Block{Number: 12},
		Failures: []*storage.DispatchFailure{
			{BlockNumber: 12, ItemIndex: 1, ItemType: "call", Kind: "Balances.transfer", Reason: "no_variant_for_version", Payload: "0x01"},
		},
	}))

	t.Run("Lists stored failures with session counts", func(t *testing.T) {
		rec, body := ts.do(t, http.MethodGet, "/v1/failures")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, float64(2), body["sessionTotal"])
		assert.Len(t, body["storedCounts"], 2)
		assert.Len(t, body["failures"], 2)
	})

	t.Run("Filters by reason and block", func(t *testing.T) {
		_, body := ts.do(t, http.MethodGet, "/v1/failures?reason=no_variant_for_version&from_block=11")
		failures := body["failures"].([]any)
		assert.Len(t, failures, 1)
		assert.Equal(t, float64(12), failures[0].(map[string]any)["blockNumber"])
	})

	t.Run("Rejects unknown reasons", func(t *testing.T) {
		rec, body := ts.do(t, http.MethodGet, "/v1/failures?reason=decoded")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, body["error"], "invalid reason")
	})

	t.Run("Exports session failures as csv", func(t *testing.T) {
		rec, _ := ts.do(t, http.MethodGet, "/v1/failures.csv?reason=decode_error")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
		lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
		assert.Len(t, lines, 2)
		assert.Equal(t, "block_height,spec_version,item_index,item_type,kind,hash,reason,message", lines[0])
		assert.True(t, strings.HasPrefix(lines[1], "10,950,0,call,Balances.transfer,af839aed,decode_error,"))
	})
}

func Test_BlockRecords(t *testing.T) {
	ts := setup(t)
	extrinsic := uint32(0)
	assert.Nil(t, ts.store.InsertBlock(context.Background(), &storage.BlockData{
		Block: &storage.Block{Number: 7, Hash: "0x07", SpecVersion: 950, ItemCount: 2, DecodedCount: 2},
		Records: []*storage.DecodedRecord{
			{BlockNumber: 7, ItemIndex: 0, ItemType: "call", Kind: "Balances.transfer", Hash: "af839aed", SpecVersion: 950, Fields: `{"dest":"0xabc","value":"1000"}`},
			{BlockNumber: 7, ItemIndex: 1, ItemType: "event", Kind: "Balances.Transfer", Hash: "e1e1e1e1", SpecVersion: 950, ExtrinsicIndex: &extrinsic, Fields: `{"amount":7}`},
		},
	}))

	t.Run("Returns the block with its records", func(t *testing.T) {
		rec, body := ts.do(t, http.MethodGet, "/v1/blocks/7/records")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "0x07", body["block"].(map[string]any)["hash"])

		records := body["records"].([]any)
		assert.Len(t, records, 2)
		first := records[0].(map[string]any)
		assert.Equal(t, "1000", first["fields"].(map[string]any)["value"])
		assert.Nil(t, first["extrinsicIndex"])
		assert.Equal(t, float64(0), records[1].(map[string]any)["extrinsicIndex"])
	})

	t.Run("Fields keep integer precision and decoder order", func(t *testing.T) {
		assert.Nil(t, ts.store.InsertBlock(context.Background(), &storage.BlockData{
			Block: &storage.Block{Number: 9, Hash: "0x09", SpecVersion: 950, ItemCount: 1, DecodedCount: 1},
			Records: []*storage.DecodedRecord{
				{BlockNumber: 9, ItemIndex: 0, ItemType: "call", Kind: "Timestamp.set", Hash: "0101", SpecVersion: 950, Fields: `{"now":18446744073709551615,"b":1}`},
			},
		}))

		rec, _ := ts.do(t, http.MethodGet, "/v1/blocks/9/records")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"fields":{"now":18446744073709551615,"b":1}`)

		var decoded struct {
			Block struct {
				Number uint64 `json:"number"`
			} `json:"block"`
		}
		assert.Nil(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
		assert.Equal(t, uint64(9), decoded.Block.Number)
	})

	t.Run("Unknown blocks are not found", func(t *testing.T) {
		rec, _ := ts.do(t, http.MethodGet, "/v1/blocks/8/records")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("Invalid block numbers are rejected", func(t *testing.T) {
		rec, _ := ts.do(t, http.MethodGet, "/v1/blocks/abc/records")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func Test_RefreshRegistry(t *testing.T) {
	t.Run("Reports the swapped registry", func(t *testing.T) {
		ts := setup(t)
		rec, body := ts.do(t, http.MethodPost, "/v1/registry/refresh")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "new", body["current"].(map[string]any)["source"])
		assert.Equal(t, float64(1000), body["current"].(map[string]any)["specVersion"])
		assert.Equal(t, float64(5), body["variants"])
	})

	t.Run("Integrity failures are unprocessable", func(t *testing.T) {
		ts := setup(t)
		ts.indexer.refreshErr = &schemaRegistry.RegistryIntegrityError{Kind: schemaRegistry.NewCallKind("Balances.transfer"), Message: "overlapping version ranges"}
		rec, _ := ts.do(t, http.MethodPost, "/v1/registry/refresh")
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("Missing snapshot source", func(t *testing.T) {
		ts := setup(t)
		ts.indexer.refreshErr = runtimeIndexer.ErrNoSnapshotSource
		rec, _ := ts.do(t, http.MethodPost, "/v1/registry/refresh")
		assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	})

	t.Run("Only POST refreshes", func(t *testing.T) {
		ts := setup(t)
		rec, _ := ts.do(t, http.MethodGet, "/v1/registry/refresh")
		assert.NotEqual(t, http.StatusOK, rec.Code)
		assert.Equal(t, 0, ts.indexer.refreshes)
	})
}

func Test_HttpMetrics(t *testing.T) {
	ts := setup(t)
	ts.indexer.status = &runtimeIndexer.Status{Chain: "local"}
	ts.do(t, http.MethodGet, "/v1/status")
	ts.do(t, http.MethodGet, "/v1/blocks/99/records")

	rec := httptest.NewRecorder()
	ts.prom.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	out := rec.Body.String()
	assert.Contains(t, out, `runtime_indexer_rpc_http_request{method="GET",path="/v1/status",pattern="/v1/status",status_code="200"} 1`)
	assert.Contains(t, out, `pattern="/v1/blocks/{number}/records",status_code="404"`)
}

func Test_GrpcHealth(t *testing.T) {
	ts := setup(t)
	shutdown := make(chan bool, 1)
	assert.Nil(t, ts.rpc.Start(context.Background(), shutdown))

	grpcAddr, httpAddr := ts.rpc.Addresses()
	conn, err := grpc.NewClient(grpcAddr.String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	assert.Nil(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	assert.Nil(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, res.GetStatus())

	ts.indexer.status = &runtimeIndexer.Status{Chain: "local"}
	resp, err := http.Get("http://" + httpAddr.String() + "/v1/status")
	assert.Nil(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	shutdown <- true
}
