// Package progress publishes staged recalculation progress to zero or
// more observers. Delivery is fire-and-forget: a slow or disconnected
// observer misses events, the emitting job never blocks or fails.
package progress

import (
	"sync"
	"time"
)

// Stages emitted over the lifetime of a recalculation job. A job ends
// with exactly one of StageCompleted or StageError.
const (
	StageStarting  = "starting"
	StageOrders    = "orders"
	StageAds       = "ads"
	StageDaily     = "daily"
	StageTrends    = "trends"
	StageCohorts   = "cohorts"
	StageCompleted = "completed"
	StageError     = "error"
)

// Event is one progress update on a job channel.
type Event struct {
	Channel   string    `json:"channel"`
	Stage     string    `json:"stage"`
	Message   string    `json:"message"`
	Progress  int       `json:"progress"` // 0-100
	Current   int       `json:"current"`
	Total     int       `json:"total"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink receives progress events. The engine writes to a Sink; the
// transport behind it (websocket push, logging, polling buffer) is a
// pluggable adapter.
type Sink interface {
	Publish(ev Event)
}

// Broadcaster fans events out to subscribers keyed by job channel.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[string]map[chan Event]struct{}
	buffer int
}

// NewBroadcaster creates a broadcaster whose subscriber channels hold
// up to buffer undelivered events each.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broadcaster{
		subs:   make(map[string]map[chan Event]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers an observer for a job channel. The returned
// cancel function unregisters and closes the event channel; it is safe
// to call more than once.
func (b *Broadcaster) Subscribe(channel string) (<-chan Event, func()) {
	ch := make(chan Event, b.buffer)

	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[chan Event]struct{})
	}
	b.subs[channel][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if set, ok := b.subs[channel]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(b.subs, channel)
				}
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers the event to every current subscriber of its
// channel. A subscriber whose buffer is full misses the event.
func (b *Broadcaster) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[ev.Channel] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Emit builds and publishes an event on the given channel.
func (b *Broadcaster) Emit(channel, stage, message string, percent, current, total int) {
	b.Publish(Event{
		Channel:  channel,
		Stage:    stage,
		Message:  message,
		Progress: percent,
		Current:  current,
		Total:    total,
	})
}

// SubscriberCount reports how many observers a channel currently has.
func (b *Broadcaster) SubscriberCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}
