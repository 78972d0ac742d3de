package substrate

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/Layr-Labs/runtime-indexer/pkg/logger"
	"github.com/Layr-Labs/runtime-indexer/pkg/schemaRegistry"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
)

const nodeUrl = "http://substrate-node:9933"

type rpcRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	ID     json.RawMessage `json:"id"`
}

func rpcResponder(t *testing.T, results map[string]any, calls map[string]int) httpmock.Responder {
	return func(req *http.Request) (*http.Response, error) {
		body, err := io.ReadAll(req.Body)
		assert.Nil(t, err)

		var rpcReq rpcRequest
		assert.Nil(t, json.Unmarshal(body, &rpcReq))
		calls[rpcReq.Method]++

		result, ok := results[rpcReq.Method]
		if !ok {
			return httpmock.NewJsonResponse(200, map[string]any{
				"jsonrpc": "2.0",
				"id":      rpcReq.ID,
				"error":   map[string]any{"code": -32601, "message": "Method not found"},
			})
		}
		return httpmock.NewJsonResponse(200, map[string]any{
			"jsonrpc": "2.0",
			"id":      rpcReq.ID,
			"result":  result,
		})
	}
}

func setupClient(t *testing.T, results map[string]any) (*Client, map[string]int) {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	assert.Nil(t, err)

	transport := httpmock.NewMockTransport()
	calls := make(map[string]int)
	transport.RegisterResponder("POST", nodeUrl, rpcResponder(t, results, calls))

	client := NewClient(&ClientConfig{BaseUrl: nodeUrl}, l).WithHttpClient(&http.Client{Transport: transport})
	t.Cleanup(client.Close)
	return client, calls
}

func Test_SubstrateClient(t *testing.T) {
	results := map[string]any{
		RPCMethod_GetHeader:         map[string]any{"number": "0x1b4", "parentHash": "0x01"},
		RPCMethod_GetBlockHash:      "0xb10c",
		RPCMethod_GetRuntimeVersion: map[string]any{"specName": "polkadot", "specVersion": 950},
		RPCMethod_GetTypeHashes: map[string]any{
			"calls":  map[string]string{"Balances.transfer": "0xAF839AED"},
			"events": map[string]string{"Balances.Transfer": "0x0202"},
		},
		RPCMethod_GetBlockItems: map[string]any{
			"parentHash": "0xpa",
			"items": []map[string]any{
				{"index": 0, "type": "call", "name": "Balances.transfer", "payload": "0x01a10f"},
				{"index": 1, "type": "event", "name": "Balances.Transfer", "extrinsicIndex": 0, "payload": "0x"},
			},
		},
	}

	t.Run("GetLatestBlockNumber", func(t *testing.T) {
		client, _ := setupClient(t, results)
		n, err := client.GetLatestBlockNumber(context.Background())
		assert.Nil(t, err)
		assert.Equal(t, uint64(436), n)
	})

	t.Run("GetBlock assembles items and hashes", func(t *testing.T) {
		client, calls := setupClient(t, results)

		block, err := client.GetBlock(context.Background(), 100)
		assert.Nil(t, err)
		assert.Equal(t, uint64(100), block.Number)
		assert.Equal(t, "0xb10c", block.Hash)
		assert.Equal(t, uint32(950), block.SpecVersion)
		assert.Equal(t, schemaRegistry.ContentHash("af839aed"), block.CallHashes["Balances.transfer"])
		assert.Len(t, block.Items, 2)
		assert.Equal(t, []byte{0x01, 0xa1, 0x0f}, block.Items[0].Payload)
		assert.Equal(t, schemaRegistry.ItemType_Event, block.Items[1].Type)
		assert.Equal(t, uint32(0), *block.Items[1].ExtrinsicIndex)
		assert.Empty(t, block.Items[1].Payload)

		// second block on the same runtime reuses the cached type hashes
		_, err = client.GetBlock(context.Background(), 101)
		assert.Nil(t, err)
		assert.Equal(t, 1, calls[RPCMethod_GetTypeHashes])
		assert.Equal(t, 2, calls[RPCMethod_GetBlockItems])
	})

	t.Run("RPC errors surface as RPCError", func(t *testing.T) {
		client, _ := setupClient(t, map[string]any{})
		_, err := client.GetBlock(context.Background(), 1)
		var rpcErr *RPCError
		assert.ErrorAs(t, err, &rpcErr)
		assert.Equal(t, -32601, rpcErr.Code)
		assert.Equal(t, RPCMethod_GetBlockHash, rpcErr.Method)
	})

	t.Run("Non 2xx responses are reported with their status", func(t *testing.T) {
		l, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
		assert.Nil(t, err)
		transport := httpmock.NewMockTransport()
		transport.RegisterResponder("POST", nodeUrl, httpmock.NewStringResponder(503, "unavailable"))
		client := NewClient(&ClientConfig{BaseUrl: nodeUrl}, l).WithHttpClient(&http.Client{Transport: transport})
		defer client.Close()

		_, err = client.GetLatestBlockNumber(context.Background())
		assert.ErrorContains(t, err, "status 503")
	})

	t.Run("Empty payloads decode to no bytes", func(t *testing.T) {
		emptyPayloads := map[string]any{}
		for k, v := range results {
			emptyPayloads[k] = v
		}
		emptyPayloads[RPCMethod_GetBlockItems] = map[string]any{
			"parentHash": "0xpa",
			"items": []map[string]any{
				{"index": 0, "type": "call", "name": "System.remark", "payload": ""},
				{"index": 1, "type": "event", "name": "System.Remarked", "payload": "0x"},
			},
		}
		client, _ := setupClient(t, emptyPayloads)

		block, err := client.GetBlock(context.Background(), 7)
		assert.Nil(t, err)
		assert.Len(t, block.Items, 2)
		assert.Empty(t, block.Items[0].Payload)
		assert.Empty(t, block.Items[1].Payload)
	})

	t.Run("Missing block hash", func(t *testing.T) {
		client, _ := setupClient(t, map[string]any{RPCMethod_GetBlockHash: nil})
		_, err := client.GetBlockHash(context.Background(), 99999999)
		assert.ErrorContains(t, err, "not found")
	})
}
