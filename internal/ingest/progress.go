package ingest

import (
	"sync"
	"time"

	"github.com/pulsewire/harvester/internal/globaltime"
)

// Event types pushed on the progress stream.
const (
	EventProgress  = "progress"
	EventHeartbeat = "heartbeat"
	EventCompleted = "completed"
	EventError     = "error"
)

// subscriberBuffer bounds each subscriber channel; a slow or disconnected
// subscriber drops events instead of blocking the pipeline.
const subscriberBuffer = 64

// EventResults is the rolling result summary attached to every event.
type EventResults struct {
	Saved    int `json:"saved"`
	Enriched int `json:"enriched"`
	Errors   int `json:"errors"`
}

// Event is one structured progress message for a job.
type Event struct {
	JobID     string       `json:"job_id"`
	Type      string       `json:"type"`
	Phase     Phase        `json:"phase"`
	Processed int          `json:"processed"`
	Total     int          `json:"total"`
	Results   EventResults `json:"results"`
	Message   string       `json:"message,omitempty"`
	At        time.Time    `json:"at"`
}

// Broker is the publish/subscribe channel for job progress, keyed by job id.
// The terminal event of every job is retained so reconnecting subscribers
// can resume by id after the run finished.
type Broker struct {
	mu        sync.Mutex
	subs      map[string]map[int]chan Event
	nextSubID int
	terminal  map[string]Event
}

func NewBroker() *Broker {
	return &Broker{
		subs:     make(map[string]map[int]chan Event),
		terminal: make(map[string]Event),
	}
}

// Subscribe registers a listener for one job's events. If the job already
// finished, its terminal event is delivered immediately. The returned cancel
// function must be called to release the subscription.
func (b *Broker) Subscribe(jobID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	if terminal, finished := b.terminal[jobID]; finished {
		ch <- terminal
	}
	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[int]chan Event)
	}
	id := b.nextSubID
	b.nextSubID++
	b.subs[jobID][id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if listeners, ok := b.subs[jobID]; ok {
			delete(listeners, id)
			if len(listeners) == 0 {
				delete(b.subs, jobID)
			}
		}
	}
	return ch, cancel
}

// Publish fans an event out to every subscriber of the job. Full subscriber
// buffers drop the event rather than block the publisher.
func (b *Broker) Publish(event Event) {
	if event.At.IsZero() {
		event.At = globaltime.UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if event.Type == EventCompleted || event.Type == EventError {
		b.terminal[event.JobID] = event
	}

	for _, ch := range b.subs[event.JobID] {
		select {
		case ch <- event:
		default:
		}
	}
}

// Terminal returns the retained terminal event for a job, if it finished.
func (b *Broker) Terminal(jobID string) (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	event, ok := b.terminal[jobID]
	return event, ok
}
