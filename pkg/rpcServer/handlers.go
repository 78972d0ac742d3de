package rpcServer

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Layr-Labs/runtime-indexer/pkg/callDispatcher"
	"github.com/Layr-Labs/runtime-indexer/pkg/failureReport"
	"github.com/Layr-Labs/runtime-indexer/pkg/runtimeIndexer"
	"github.com/Layr-Labs/runtime-indexer/pkg/schemaRegistry"
	"github.com/Layr-Labs/runtime-indexer/pkg/storage"
	"github.com/Layr-Labs/runtime-indexer/pkg/utils"
	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const defaultFailureLimit = 100

var marshalOptions = protojson.MarshalOptions{EmitUnpopulated: true}

func (rpc *RpcServer) writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	st, err := structpb.NewStruct(body)
	if err != nil {
		rpc.Logger.Sugar().Errorw("Failed to build response", zap.Error(err))
		http.Error(w, `{"error":"failed to build response"}`, http.StatusInternalServerError)
		return
	}
	out, err := marshalOptions.Marshal(st)
	if err != nil {
		rpc.Logger.Sugar().Errorw("Failed to marshal response", zap.Error(err))
		http.Error(w, `{"error":"failed to marshal response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(out)
}

// Fields are written out exactly as stored, keeping integer precision and decoder key order.
type recordResponse struct {
	ItemIndex      uint32          `json:"itemIndex"`
	ItemType       string          `json:"itemType"`
	Kind           string          `json:"kind"`
	Hash           string          `json:"hash"`
	SpecVersion    uint32          `json:"specVersion"`
	ExtrinsicIndex *uint32         `json:"extrinsicIndex"`
	Fields         json.RawMessage `json:"fields"`
}

type blockResponse struct {
	Number       uint64 `json:"number"`
	Hash         string `json:"hash"`
	ParentHash   string `json:"parentHash"`
	SpecVersion  uint32 `json:"specVersion"`
	OutcomeRoot  string `json:"outcomeRoot"`
	ItemCount    int    `json:"itemCount"`
	DecodedCount int    `json:"decodedCount"`
	FailureCount int    `json:"failureCount"`
}

type blockRecordsResponse struct {
	Block   blockResponse    `json:"block"`
	Records []recordResponse `json:"records"`
}

func (rpc *RpcServer) writeRawJSON(w http.ResponseWriter, status int, body any) {
	out, err := json.Marshal(body)
	if err != nil {
		rpc.Logger.Sugar().Errorw("Failed to marshal response", zap.Error(err))
		http.Error(w, `{"error":"failed to marshal response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(out)
}

func (rpc *RpcServer) writeError(w http.ResponseWriter, status int, err error) {
	rpc.writeJSON(w, status, map[string]any{"error": err.Error()})
}

func toAnyList[T any](list []T, fn func(T) any) []any {
	return utils.Map(list, func(v T, i uint64) any {
		return fn(v)
	})
}

func uint32List(list []uint32) []any {
	return toAnyList(list, func(v uint32) any { return float64(v) })
}

func statusToMap(s *runtimeIndexer.Status) map[string]any {
	failuresByReason := make(map[string]any, len(s.FailuresByReason))
	for reason, count := range s.FailuresByReason {
		failuresByReason[reason] = float64(count)
	}
	var lastIndexed any
	if s.LastIndexedBlock != nil {
		lastIndexed = float64(*s.LastIndexedBlock)
	}
	var loadedAt any
	if !s.RegistryLoadedAt.IsZero() {
		loadedAt = s.RegistryLoadedAt.UTC().Format(time.RFC3339)
	}
	return map[string]any{
		"chain":   s.Chain,
		"version": s.Version,
		"commit":  s.Commit,
		"running": s.Running,
		"indexing": map[string]any{
			"lastIndexedBlock": lastIndexed,
			"lastIndexedHash":  s.LastIndexedHash,
			"lastOutcomeRoot":  s.LastOutcomeRoot,
			"nodeTip":          float64(s.NodeTip),
			"nodeTipError":     s.NodeTipError,
		},
		"registry": map[string]any{
			"source":      s.RegistrySource,
			"specVersion": float64(s.RegistrySpecVersion),
			"loadedAt":    loadedAt,
			"kinds":       float64(s.RegistryKinds),
			"variants":    float64(s.RegistryVariants),
		},
		"failures": map[string]any{
			"total":               float64(s.FailureTotal),
			"byReason":            failuresByReason,
			"laggingSpecVersions": uint32List(s.LaggingSpecVersions),
		},
	}
}

func (rpc *RpcServer) handleStatus(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	status, err := rpc.indexer.Status(r.Context())
	if err != nil {
		rpc.writeError(w, http.StatusInternalServerError, err)
		return
	}
	rpc.writeJSON(w, http.StatusOK, statusToMap(status))
}

func parseUintParam(r *http.Request, name string) (uint64, bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, false, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid %s '%s'", name, v)
	}
	return n, true, nil
}

func parseReason(r *http.Request) (callDispatcher.OutcomeKind, error) {
	reason := callDispatcher.OutcomeKind(r.URL.Query().Get("reason"))
	if reason == "" {
		return "", nil
	}
	for _, k := range callDispatcher.AllOutcomeKinds {
		if k == reason && k != callDispatcher.OutcomeKind_Decoded {
			return reason, nil
		}
	}
	return "", fmt.Errorf("invalid reason '%s'", reason)
}

func (rpc *RpcServer) handleListFailures(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	reason, err := parseReason(r)
	if err != nil {
		rpc.writeError(w, http.StatusBadRequest, err)
		return
	}
	fromBlock, _, err := parseUintParam(r, "from_block")
	if err != nil {
		rpc.writeError(w, http.StatusBadRequest, err)
		return
	}
	limit, ok, err := parseUintParam(r, "limit")
	if err != nil {
		rpc.writeError(w, http.StatusBadRequest, err)
		return
	}
	if !ok {
		limit = defaultFailureLimit
	}

	storedCounts, err := rpc.blockStore.GetFailureCounts(r.Context())
	if err != nil {
		rpc.writeError(w, http.StatusInternalServerError, err)
		return
	}
	failures, err := rpc.blockStore.ListFailures(r.Context(), &storage.FailureFilter{
		Reason:    reason.String(),
		Kind:      r.URL.Query().Get("kind"),
		FromBlock: fromBlock,
		Limit:     int(limit),
	})
	if err != nil {
		rpc.writeError(w, http.StatusInternalServerError, err)
		return
	}

	rpc.writeJSON(w, http.StatusOK, map[string]any{
		"sessionTotal": float64(rpc.failureReport.Total()),
		"sessionCounts": toAnyList(rpc.failureReport.Counts(), func(c *failureReport.Count) any {
			return map[string]any{"reason": c.Reason, "kind": c.Kind, "count": float64(c.Count)}
		}),
		"storedCounts": toAnyList(storedCounts, func(c *storage.FailureCount) any {
			return map[string]any{"reason": c.Reason, "kind": c.Kind, "count": float64(c.Count)}
		}),
		"failures": toAnyList(failures, func(f *storage.DispatchFailure) any {
			return map[string]any{
				"blockNumber": float64(f.BlockNumber),
				"itemIndex":   float64(f.ItemIndex),
				"itemType":    f.ItemType,
				"kind":        f.Kind,
				"hash":        f.Hash,
				"specVersion": float64(f.SpecVersion),
				"reason":      f.Reason,
				"message":     f.Message,
				"payload":     f.Payload,
			}
		}),
	})
}

// handleFailuresCsv exports the failures recorded since the process started.
func (rpc *RpcServer) handleFailuresCsv(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	reason, err := parseReason(r)
	if err != nil {
		rpc.writeError(w, http.StatusBadRequest, err)
		return
	}
	fromBlock, _, err := parseUintParam(r, "from_block")
	if err != nil {
		rpc.writeError(w, http.StatusBadRequest, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="failures.csv"`)
	if err := rpc.failureReport.WriteCSV(w, &failureReport.Filter{
		Reason:    reason,
		Kind:      r.URL.Query().Get("kind"),
		FromBlock: fromBlock,
	}); err != nil {
		rpc.Logger.Sugar().Errorw("Failed to write failures csv", zap.Error(err))
	}
}

func (rpc *RpcServer) handleBlockRecords(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	number, err := strconv.ParseUint(pathParams["number"], 10, 64)
	if err != nil {
		rpc.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid block number '%s'", pathParams["number"]))
		return
	}
	block, err := rpc.blockStore.GetBlockByNumber(r.Context(), number)
	if err != nil {
		rpc.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if block == nil {
		rpc.writeError(w, http.StatusNotFound, fmt.Errorf("block %d not found", number))
		return
	}
	records, err := rpc.blockStore.GetRecordsForBlock(r.Context(), number)
	if err != nil {
		rpc.writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := &blockRecordsResponse{
		Block: blockResponse{
			Number:       block.Number,
			Hash:         block.Hash,
			ParentHash:   block.ParentHash,
			SpecVersion:  block.SpecVersion,
			OutcomeRoot:  block.OutcomeRoot,
			ItemCount:    block.ItemCount,
			DecodedCount: block.DecodedCount,
			FailureCount: block.FailureCount,
		},
		Records: make([]recordResponse, 0, len(records)),
	}
	for _, rec := range records {
		if !json.Valid([]byte(rec.Fields)) {
			rpc.writeError(w, http.StatusInternalServerError, fmt.Errorf("corrupt fields for item %d", rec.ItemIndex))
			return
		}
		resp.Records = append(resp.Records, recordResponse{
			ItemIndex:      rec.ItemIndex,
			ItemType:       rec.ItemType,
			Kind:           rec.Kind,
			Hash:           rec.Hash,
			SpecVersion:    rec.SpecVersion,
			ExtrinsicIndex: rec.ExtrinsicIndex,
			Fields:         json.RawMessage(rec.Fields),
		})
	}
	rpc.writeRawJSON(w, http.StatusOK, resp)
}

func (rpc *RpcServer) handleRefreshRegistry(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	data, err := rpc.indexer.RefreshRegistry(r.Context())
	if err != nil {
		var integrityErr *schemaRegistry.RegistryIntegrityError
		switch {
		case errors.As(err, &integrityErr):
			rpc.writeError(w, http.StatusUnprocessableEntity, err)
		case errors.Is(err, runtimeIndexer.ErrNoSnapshotSource):
			rpc.writeError(w, http.StatusPreconditionFailed, err)
		default:
			rpc.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	rpc.writeJSON(w, http.StatusOK, map[string]any{
		"previous": map[string]any{
			"source":      data.Previous.Source,
			"specVersion": float64(data.Previous.LatestSpecVersion()),
		},
		"current": map[string]any{
			"source":       data.Current.Source,
			"specVersion":  float64(data.Current.LatestSpecVersion()),
			"specVersions": uint32List(data.Current.SpecVersions),
		},
		"kinds":    float64(data.Kinds),
		"variants": float64(data.Variants),
	})
}
