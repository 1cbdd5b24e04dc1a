package workflow

import (
	"sync"
	"time"

	"github.com/Brownie44l1/moodsense/internal/result"
)

// EventType names what changed.
type EventType string

const (
	EventModelState    EventType = "model_state"
	EventAnalysisState EventType = "analysis_state"
	EventImage         EventType = "image"
	EventResult        EventType = "result"
	EventError         EventType = "error"
	EventStale         EventType = "stale"
)

// Event is published to subscribers on every state change. Image and
// Result are nil when the change cleared them.
type Event struct {
	Type          EventType          `json:"type"`
	ModelState    ModelState         `json:"modelState"`
	AnalysisState AnalysisState      `json:"analysisState"`
	Image         *ImageInfo         `json:"image,omitempty"`
	Result        *result.Prediction `json:"result,omitempty"`
	Error         string             `json:"error,omitempty"`
	Time          time.Time          `json:"time"`
}

const subscriberBuffer = 32

// broker fans events out to subscribers without ever blocking the publisher.
type broker struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
	closed bool
}

func newBroker() *broker {
	return &broker{subs: make(map[int]chan Event)}
}

func (b *broker) subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

// publish drops the event for subscribers whose buffer is full.
func (b *broker) publish(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (b *broker) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
