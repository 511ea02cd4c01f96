// Package progress implements the Progress Bus (C6): a multi-producer,
// multi-consumer stream of SyncProgress events. It is lossy for slow
// consumers, but not by dropping events outright — updates for the same
// operation_id coalesce to the latest one, so a subscriber that falls
// behind still eventually sees where each operation ended up, just not
// every intermediate step.
package progress

import (
	"sync"
	"time"
)

// Phase is one stage of a sync_folder run, emitted strictly in order
// except for the terminal ones, of which exactly one is ever emitted.
type Phase string

const (
	PhaseInitializing     Phase = "Initializing"
	PhaseCheckingFolders  Phase = "CheckingFolders"
	PhaseFetchingHeaders  Phase = "FetchingHeaders"
	PhaseProcessingChanges Phase = "ProcessingChanges"
	PhaseFetchingBodies   Phase = "FetchingBodies"
	PhaseComplete         Phase = "Complete"
	PhaseError            Phase = "Error"
	PhaseCancelled        Phase = "Cancelled"
)

// IsTerminal reports whether p ends the operation's progress stream.
func (p Phase) IsTerminal() bool {
	return p == PhaseComplete || p == PhaseError || p == PhaseCancelled
}

// SyncProgress is one transient snapshot of a running (or just-finished)
// sync operation. Never persisted; C7 and any UI subscribe to the live
// stream only.
type SyncProgress struct {
	OperationID  string
	AccountID    string
	FolderName   string
	Phase        Phase
	ErrorDetail  string // set when Phase == PhaseError

	MessagesProcessed uint64
	TotalMessages     *uint64
	BytesDownloaded   uint64

	StartedAt            time.Time
	EstimatedCompletion *time.Time
}

const subscriberBuffer = 1

type subscriber struct {
	mu      sync.Mutex
	pending map[string]SyncProgress
	notify  chan struct{}
	out     chan SyncProgress
	done    chan struct{}
}

// Bus fans SyncProgress events out to every current subscriber.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
}

// NewBus builds an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Publish fans out p to every subscriber. A subscriber already holding a
// pending update for p.OperationID has it overwritten rather than queued,
// which is the coalescing behavior that makes the bus safe for a consumer
// slower than the producer.
func (b *Bus) Publish(p SyncProgress) {
	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.mu.Lock()
		s.pending[p.OperationID] = p
		s.mu.Unlock()
		select {
		case s.notify <- struct{}{}:
		default:
		}
	}
}

// Subscribe registers a new consumer and returns its event channel and a
// cancel func. The channel is closed once cancel is called; the bus
// itself is never closed (it lives for the process lifetime).
func (b *Bus) Subscribe() (<-chan SyncProgress, func()) {
	s := &subscriber{
		pending: make(map[string]SyncProgress),
		notify:  make(chan struct{}, subscriberBuffer),
		out:     make(chan SyncProgress),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = s
	b.mu.Unlock()

	go s.pump()

	cancel := func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		close(s.done)
	}
	return s.out, cancel
}

func (s *subscriber) pump() {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
			s.mu.Lock()
			batch := s.pending
			s.pending = make(map[string]SyncProgress)
			s.mu.Unlock()

			for _, p := range batch {
				select {
				case s.out <- p:
				case <-s.done:
					return
				}
			}
		}
	}
}
