package pipeline

import (
	"github.com/Layr-Labs/runtime-indexer/pkg/eventBus/eventBusTypes"
	"github.com/Layr-Labs/runtime-indexer/pkg/storage"
)

// HandleBlockIngestedHook publishes Event_BlockIngested for a block the sink accepted.
func (p *Pipeline) HandleBlockIngestedHook(data *storage.BlockData) {
	if p.eventBus == nil {
		return
	}
	p.eventBus.Publish(&eventBusTypes.Event{
		Name: eventBusTypes.Event_BlockIngested,
		Data: &eventBusTypes.BlockIngestedData{
			Block:        data.Block,
			DecodedCount: len(data.Records),
			FailureCount: len(data.Failures),
		},
	})
}
