package substrate

import "fmt"

// RPCError is a JSON-RPC error object returned by the node.
type RPCError struct {
	Code    int
	Message string
	Method  string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d calling %s: %s", e.Code, e.Method, e.Message)
}

const (
	RPCMethod_GetHeader         = "chain_getHeader"
	RPCMethod_GetBlockHash      = "chain_getBlockHash"
	RPCMethod_GetRuntimeVersion = "state_getRuntimeVersion"
	// served by the extraction service that splits blocks into calls and events
	RPCMethod_GetBlockItems = "indexer_getBlockItems"
	RPCMethod_GetTypeHashes = "indexer_getTypeHashes"
)

type Header struct {
	ParentHash string `json:"parentHash"`
	Number     string `json:"number"`
}

type RuntimeVersion struct {
	SpecName           string `json:"specName"`
	SpecVersion        uint32 `json:"specVersion"`
	TransactionVersion uint32 `json:"transactionVersion"`
}

type BlockItem struct {
	Index          uint32  `json:"index"`
	Type           string  `json:"type"`
	Name           string  `json:"name"`
	ExtrinsicIndex *uint32 `json:"extrinsicIndex,omitempty"`
	Payload        string  `json:"payload"`
}

type BlockItems struct {
	ParentHash string       `json:"parentHash"`
	Items      []*BlockItem `json:"items"`
}

type TypeHashes struct {
	Calls  map[string]string `json:"calls"`
	Events map[string]string `json:"events"`
}
