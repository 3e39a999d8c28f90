// README: In-process event bus; background loops publish, the app layer subscribes.
package events

import (
	"sync"
	"time"

	"sahay/internal/types"
)

type Type string

const (
	TaskAssigned    Type = "taskAssigned"
	TaskRescheduled Type = "taskRescheduled"
	TaskOverdue     Type = "taskOverdue"
	SLAViolation    Type = "slaViolation"
	Escalation      Type = "escalation"
	CapacityWarning Type = "capacityWarning"
	ExcessiveDelay  Type = "excessiveDelay"
)

type Event struct {
	Type         Type
	TaskID       types.ID
	RequestID    types.ID
	WorkerID     types.ID
	VehicleID    string
	Station      string
	DelayMinutes int
	Reason       string
	At           time.Time
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber that
// falls behind loses events rather than stalling a background loop.
type Bus struct {
	mu   sync.RWMutex
	subs []chan Event
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Subscribe(buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
