package pipeline

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/Layr-Labs/runtime-indexer/pkg/callDispatcher"
	"github.com/Layr-Labs/runtime-indexer/pkg/chain"
	"github.com/Layr-Labs/runtime-indexer/pkg/storage"
	"github.com/Layr-Labs/runtime-indexer/pkg/utils"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/wealdtech/go-merkletree/v2"
	"github.com/wealdtech/go-merkletree/v2/keccak256"
)

type BlockState string

const (
	BlockState_Fetched             BlockState = "fetched"
	BlockState_ExtrinsicsExtracted BlockState = "extrinsics_extracted"
	BlockState_Dispatched          BlockState = "dispatched"
	BlockState_Emitted             BlockState = "emitted"
	BlockState_Failed              BlockState = "block_failed"
)

var allowedTransitions = map[BlockState][]BlockState{
	BlockState_Fetched:             {BlockState_ExtrinsicsExtracted, BlockState_Failed},
	BlockState_ExtrinsicsExtracted: {BlockState_Dispatched, BlockState_Failed},
	BlockState_Dispatched:          {BlockState_Emitted, BlockState_Failed},
}

// ProcessedBlock carries a block through the pipeline states. Outcomes are in in-block
// order once the block reaches BlockState_Dispatched.
type ProcessedBlock struct {
	Block       *chain.Block
	State       BlockState
	Outcomes    []*callDispatcher.DispatchOutcome
	OutcomeRoot string
}

func newProcessedBlock(block *chain.Block) *ProcessedBlock {
	return &ProcessedBlock{Block: block, State: BlockState_Fetched}
}

func (pb *ProcessedBlock) transition(to BlockState) error {
	for _, allowed := range allowedTransitions[pb.State] {
		if allowed == to {
			pb.State = to
			return nil
		}
	}
	return fmt.Errorf("invalid block state transition %s -> %s for block %d", pb.State, to, pb.Block.Number)
}

// Counts returns the number of decoded and failed outcomes.
func (pb *ProcessedBlock) Counts() (decoded int, failed int) {
	for _, o := range pb.Outcomes {
		if o.Succeeded() {
			decoded++
		} else {
			failed++
		}
	}
	return decoded, failed
}

// outcomeLeaf commits to an outcome's position, kind, hash and result.
func outcomeLeaf(o *callDispatcher.DispatchOutcome) []byte {
	leaf := binary.BigEndian.AppendUint32(nil, o.Envelope.Index)
	leaf = append(leaf, []byte(o.Envelope.Kind().String())...)
	leaf = append(leaf, []byte(o.Hash)...)
	leaf = append(leaf, []byte(o.Kind)...)
	leaf = append(leaf, o.Envelope.Payload...)
	return leaf
}

// computeOutcomeRoot merkelizes the block's outcomes. The first leaf is the block
// number so empty blocks still have a root.
func computeOutcomeRoot(blockNumber uint64, outcomes []*callDispatcher.DispatchOutcome) (string, error) {
	leaves := [][]byte{binary.BigEndian.AppendUint64(nil, blockNumber)}
	for _, o := range outcomes {
		leaves = append(leaves, outcomeLeaf(o))
	}
	tree, err := merkletree.NewTree(
		merkletree.WithData(leaves),
		merkletree.WithHashType(keccak256.New()),
	)
	if err != nil {
		return "", fmt.Errorf("failed to build outcome tree for block %d: %w", blockNumber, err)
	}
	return utils.ConvertBytesToString(tree.Root()), nil
}

// toBlockData converts the processed block into the rows written to the sink.
func (pb *ProcessedBlock) toBlockData() (*storage.BlockData, error) {
	decoded, failed := pb.Counts()
	data := &storage.BlockData{
		Block: &storage.Block{
			Number:       pb.Block.Number,
			Hash:         pb.Block.Hash,
			ParentHash:   pb.Block.ParentHash,
			SpecVersion:  pb.Block.SpecVersion,
			OutcomeRoot:  pb.OutcomeRoot,
			ItemCount:    len(pb.Outcomes),
			DecodedCount: decoded,
			FailureCount: failed,
		},
		Records:  make([]*storage.DecodedRecord, 0, decoded),
		Failures: make([]*storage.DispatchFailure, 0, failed),
	}

	for _, o := range pb.Outcomes {
		env := o.Envelope
		if o.Succeeded() {
			fields, err := json.Marshal(o.Record.Fields)
			if err != nil {
				return nil, fmt.Errorf("failed to serialize fields of item %d in block %d: %w", env.Index, pb.Block.Number, err)
			}
			data.Records = append(data.Records, &storage.DecodedRecord{
				BlockNumber:    pb.Block.Number,
				ItemIndex:      env.Index,
				ItemType:       env.Type.String(),
				Kind:           env.Name,
				Hash:           o.Record.Hash.String(),
				SpecVersion:    o.Record.SpecVersion,
				ExtrinsicIndex: env.ExtrinsicIndex,
				Fields:         string(fields),
			})
			continue
		}
		data.Failures = append(data.Failures, &storage.DispatchFailure{
			BlockNumber:    pb.Block.Number,
			ItemIndex:      env.Index,
			ItemType:       env.Type.String(),
			Kind:           env.Name,
			Hash:           o.Hash.String(),
			SpecVersion:    o.SpecVersion,
			ExtrinsicIndex: env.ExtrinsicIndex,
			Reason:         o.Kind.String(),
			Message:        o.Message(),
			Payload:        hexutil.Encode(env.Payload),
		})
	}
	return data, nil
}
