package eventBus

import (
	"context"
	"testing"

	"github.com/Layr-Labs/runtime-indexer/pkg/eventBus/eventBusTypes"
	"github.com/Layr-Labs/runtime-indexer/pkg/logger"
	"github.com/Layr-Labs/runtime-indexer/pkg/storage"
	"github.com/stretchr/testify/assert"
)

func Test_EventBus(t *testing.T) {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	assert.Nil(t, err)

	t.Run("Delivers to every subscriber", func(t *testing.T) {
		eb := NewEventBus(l)
		a := eventBusTypes.NewConsumer(context.Background(), 1)
		b := eventBusTypes.NewConsumer(context.Background(), 1)
		assert.NotEqual(t, a.Id, b.Id)
		eb.Subscribe(a)
		eb.Subscribe(b)

		eb.Publish(&eventBusTypes.Event{
			Name: eventBusTypes.Event_BlockIngested,
			Data: &eventBusTypes.BlockIngestedData{Block: &storage.Block{Number: 5}},
		})

		for _, c := range []*eventBusTypes.Consumer{a, b} {
			e := <-c.Channel
			assert.Equal(t, eventBusTypes.Event_BlockIngested, e.Name)
			assert.Equal(t, uint64(5), e.Data.(*eventBusTypes.BlockIngestedData).Block.Number)
		}
	})
	t.Run("Full channels drop instead of blocking", func(t *testing.T) {
		eb := NewEventBus(l)
		c := eventBusTypes.NewConsumer(context.Background(), 1)
		eb.Subscribe(c)

		eb.Publish(&eventBusTypes.Event{Name: eventBusTypes.Event_BlockIngested})
		eb.Publish(&eventBusTypes.Event{Name: eventBusTypes.Event_RegistryRefreshed})

		assert.Len(t, c.Channel, 1)
		assert.Equal(t, eventBusTypes.Event_BlockIngested, (<-c.Channel).Name)
	})
	t.Run("Unsubscribed and cancelled consumers receive nothing", func(t *testing.T) {
		eb := NewEventBus(l)
		gone := eventBusTypes.NewConsumer(context.Background(), 1)
		ctx, cancel := context.WithCancel(context.Background())
		cancelled := eventBusTypes.NewConsumer(ctx, 1)
		eb.Subscribe(gone)
		eb.Subscribe(cancelled)
		eb.Unsubscribe(gone)
		cancel()

		eb.Publish(&eventBusTypes.Event{Name: eventBusTypes.Event_BlockIngested})
		assert.Len(t, gone.Channel, 0)
		assert.Len(t, cancelled.Channel, 0)
	})
}
