// Package substrate is a JSON-RPC client for a Substrate node fronted by an
// item extraction service.
package substrate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Layr-Labs/runtime-indexer/pkg/chain"
	"github.com/Layr-Labs/runtime-indexer/pkg/schemaRegistry"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

type ClientConfig struct {
	BaseUrl string
	Timeout time.Duration
}

type Client struct {
	httpClient *http.Client
	config     *ClientConfig
	logger     *zap.Logger

	mu        sync.Mutex
	rpcClient *rpc.Client

	// type hashes only change on runtime upgrades, so they are cached per spec version
	typeHashes sync.Map
}

func NewClient(cfg *ClientConfig, l *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		config: cfg,
		logger: l,
	}
}

// WithHttpClient replaces the underlying http client.
func (c *Client) WithHttpClient(h *http.Client) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.httpClient = h
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
	return c
}

// dial lazily opens the rpc client. Dialing an http endpoint does not touch the network.
func (c *Client) dial(ctx context.Context) (*rpc.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpcClient != nil {
		return c.rpcClient, nil
	}
	rpcClient, err := rpc.DialOptions(ctx, c.config.BaseUrl, rpc.WithHTTPClient(c.httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to dial node at '%s': %w", c.config.BaseUrl, err)
	}
	c.rpcClient = rpcClient
	return rpcClient, nil
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

// Call performs a single JSON-RPC request and unmarshals its result into result.
// Errors returned by the node are surfaced as *RPCError.
func (c *Client) Call(ctx context.Context, method string, params []any, result any) error {
	rpcClient, err := c.dial(ctx)
	if err != nil {
		return err
	}

	c.logger.Sugar().Debugw("Making node request",
		zap.String("method", method),
		zap.Any("params", params),
	)

	if err := rpcClient.CallContext(ctx, result, method, params...); err != nil {
		var rpcErr rpc.Error
		if errors.As(err, &rpcErr) {
			return &RPCError{Code: rpcErr.ErrorCode(), Message: rpcErr.Error(), Method: method}
		}
		var httpErr rpc.HTTPError
		if errors.As(err, &httpErr) {
			return fmt.Errorf("node returned status %d for %s: %w", httpErr.StatusCode, method, err)
		}
		return fmt.Errorf("failed to call %s: %w", method, err)
	}
	return nil
}

// decodePayload accepts an empty string as an empty payload.
func decodePayload(payload string) ([]byte, error) {
	if payload == "" || payload == "0x" || payload == "0X" {
		return []byte{}, nil
	}
	return hexutil.Decode(payload)
}

func (c *Client) GetLatestBlockNumber(ctx context.Context) (uint64, error) {
	var header Header
	if err := c.Call(ctx, RPCMethod_GetHeader, nil, &header); err != nil {
		return 0, err
	}
	n, err := hexutil.DecodeUint64(header.Number)
	if err != nil {
		return 0, fmt.Errorf("invalid header number '%s': %w", header.Number, err)
	}
	return n, nil
}

func (c *Client) GetBlockHash(ctx context.Context, number uint64) (string, error) {
	var hash *string
	if err := c.Call(ctx, RPCMethod_GetBlockHash, []any{number}, &hash); err != nil {
		return "", err
	}
	if hash == nil {
		return "", fmt.Errorf("block %d not found", number)
	}
	return *hash, nil
}

func (c *Client) GetRuntimeVersion(ctx context.Context, blockHash string) (*RuntimeVersion, error) {
	rv := &RuntimeVersion{}
	if err := c.Call(ctx, RPCMethod_GetRuntimeVersion, []any{blockHash}, rv); err != nil {
		return nil, err
	}
	return rv, nil
}

func (c *Client) GetBlockItems(ctx context.Context, blockHash string) (*BlockItems, error) {
	items := &BlockItems{}
	if err := c.Call(ctx, RPCMethod_GetBlockItems, []any{blockHash}, items); err != nil {
		return nil, err
	}
	return items, nil
}

type parsedTypeHashes struct {
	calls  map[string]schemaRegistry.ContentHash
	events map[string]schemaRegistry.ContentHash
}

func parseHashMap(m map[string]string) (map[string]schemaRegistry.ContentHash, error) {
	out := make(map[string]schemaRegistry.ContentHash, len(m))
	for name, h := range m {
		parsed, err := schemaRegistry.ParseContentHash(h)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out[name] = parsed
	}
	return out, nil
}

func (c *Client) getTypeHashes(ctx context.Context, blockHash string, specVersion uint32) (*parsedTypeHashes, error) {
	if cached, ok := c.typeHashes.Load(specVersion); ok {
		return cached.(*parsedTypeHashes), nil
	}

	raw := &TypeHashes{}
	if err := c.Call(ctx, RPCMethod_GetTypeHashes, []any{blockHash}, raw); err != nil {
		return nil, err
	}
	calls, err := parseHashMap(raw.Calls)
	if err != nil {
		return nil, err
	}
	events, err := parseHashMap(raw.Events)
	if err != nil {
		return nil, err
	}
	parsed := &parsedTypeHashes{calls: calls, events: events}
	c.typeHashes.Store(specVersion, parsed)

	c.logger.Sugar().Infow("Loaded type hashes for runtime",
		zap.Uint32("specVersion", specVersion),
		zap.Int("calls", len(calls)),
		zap.Int("events", len(events)),
	)
	return parsed, nil
}

// GetBlock fetches a block with its runtime version, type hashes and raw items.
func (c *Client) GetBlock(ctx context.Context, number uint64) (*chain.Block, error) {
	hash, err := c.GetBlockHash(ctx, number)
	if err != nil {
		return nil, err
	}
	rv, err := c.GetRuntimeVersion(ctx, hash)
	if err != nil {
		return nil, err
	}
	hashes, err := c.getTypeHashes(ctx, hash, rv.SpecVersion)
	if err != nil {
		return nil, err
	}
	items, err := c.GetBlockItems(ctx, hash)
	if err != nil {
		return nil, err
	}

	envelopes := make([]*chain.RawEnvelope, 0, len(items.Items))
	for _, item := range items.Items {
		itemType, err := schemaRegistry.ParseItemType(item.Type)
		if err != nil {
			return nil, fmt.Errorf("block %d item %d: %w", number, item.Index, err)
		}
		payload, err := decodePayload(item.Payload)
		if err != nil {
			return nil, fmt.Errorf("block %d item %d: invalid payload: %w", number, item.Index, err)
		}
		envelopes = append(envelopes, &chain.RawEnvelope{
			Index:          item.Index,
			Type:           itemType,
			Name:           item.Name,
			ExtrinsicIndex: item.ExtrinsicIndex,
			Payload:        payload,
		})
	}

	return &chain.Block{
		Number:      number,
		Hash:        hash,
		ParentHash:  items.ParentHash,
		SpecVersion: rv.SpecVersion,
		Items:       envelopes,
		CallHashes:  hashes.calls,
		EventHashes: hashes.events,
	}, nil
}
