// Package eventBusTypes defines the types shared by event producers and consumers.
package eventBusTypes

import (
	"context"
	"slices"
	"sync"

	"github.com/Layr-Labs/runtime-indexer/pkg/schemaRegistry"
	"github.com/Layr-Labs/runtime-indexer/pkg/storage"
	"github.com/google/uuid"
)

type EventName string

func (en *EventName) String() string {
	return string(*en)
}

var (
	// Event_BlockIngested is emitted after a block has been durably written to the sink.
	Event_BlockIngested EventName = "block_ingested"
	// Event_RegistryRefreshed is emitted after the dispatcher switched to a new registry.
	Event_RegistryRefreshed EventName = "registry_refreshed"
)

type Event struct {
	Name EventName
	Data any
}

type ConsumerId string

type Consumer struct {
	Id      ConsumerId
	Context context.Context
	Channel chan *Event
}

// NewConsumer creates a consumer with a random id and a channel of the given capacity.
func NewConsumer(ctx context.Context, capacity int) *Consumer {
	return &Consumer{
		Id:      ConsumerId(uuid.New().String()),
		Context: ctx,
		Channel: make(chan *Event, capacity),
	}
}

// ConsumerList is a mutex guarded list of consumers.
type ConsumerList struct {
	mu        sync.Mutex
	consumers []*Consumer
}

func NewConsumerList() *ConsumerList {
	return &ConsumerList{
		consumers: make([]*Consumer, 0),
	}
}

func (cl *ConsumerList) Add(consumer *Consumer) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.consumers = append(cl.consumers, consumer)
}

func (cl *ConsumerList) Remove(consumer *Consumer) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.consumers = slices.DeleteFunc(cl.consumers, func(c *Consumer) bool {
		return c.Id == consumer.Id
	})
}

// GetAll returns a snapshot of the current consumers.
func (cl *ConsumerList) GetAll() []*Consumer {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return slices.Clone(cl.consumers)
}

type IEventBus interface {
	Subscribe(consumer *Consumer)
	Unsubscribe(consumer *Consumer)
	Publish(event *Event)
}

// BlockIngestedData is the payload of Event_BlockIngested.
type BlockIngestedData struct {
	Block        *storage.Block
	DecodedCount int
	FailureCount int
}

// RegistryRefreshedData is the payload of Event_RegistryRefreshed.
type RegistryRefreshedData struct {
	Previous schemaRegistry.SnapshotInfo
	Current  schemaRegistry.SnapshotInfo
	Kinds    int
	Variants int
}
