package oobd

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType identifies a lifecycle event emitted by the service.
type EventType string

const (
	EventOperationCreate EventType = "oob.operation.create"
	EventOperationUpdate EventType = "oob.operation.update"
	EventTokenGenerate   EventType = "oob.token.generate"
	EventAssetDelete     EventType = "oob.asset.delete"
)

// Event is a single lifecycle notification. Payload carries the
// event-specific body (operation views, token material).
type Event struct {
	ID        string
	Type      EventType
	TenantID  string
	AssetID   string
	Timestamp time.Time
	Payload   interface{}
}

// Publisher accepts lifecycle events. The in-process Broker implements
// it; deployments bridging to an external bus provide their own.
type Publisher interface {
	Publish(event *Event)
}

// Subscriber is a channel that receives events.
type Subscriber chan *Event

// Broker fans events out to in-process subscribers.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

func (b *Broker) Start() {
	go b.run()
}

func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe returns a buffered channel of future events. Slow
// subscribers miss events rather than block the service.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

func (b *Broker) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}
