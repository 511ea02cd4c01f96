// Package notify implements the Notification Dispatcher (C7): it
// subscribes to the message store's change stream and the Progress Bus,
// filters against a per-account policy, and hands the survivors to
// whatever sinks are registered (desktop toast, UI). It is stateless
// beyond its subscription registry and the policy table — nothing here
// is durable, a restart just resubscribes and starts filtering again.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/parlorsh/parlor/internal/account"
	"github.com/parlorsh/parlor/internal/logging"
	"github.com/parlorsh/parlor/internal/message"
	"github.com/parlorsh/parlor/internal/progress"
)

// Kind classifies a dispatched Event.
type Kind string

const (
	KindNewMessage  Kind = "NewMessage"
	KindSyncError   Kind = "SyncError"
	KindSyncFatal   Kind = "SyncFatal" // storage corruption, engine stopped accepting work
)

// Event is one notification handed to sinks after policy filtering.
type Event struct {
	Kind       Kind
	AccountID  string
	FolderName string
	Title      string
	Body       string

	MessageID string // set on KindNewMessage
	ThreadID  string // left empty by the Dispatcher: change events carry no thread id
}

// Sink receives filtered events. Notify must not block the dispatcher for
// long; a slow sink should hand off internally. DesktopSink does not: it
// pushes its toast synchronously inside Notify.
type Sink interface {
	Notify(Event) error
}

// Policy is the per-account filter applied before an event reaches any
// sink. The zero value has Enabled false, which lets only KindSyncFatal
// events through — see DefaultPolicy.
type Policy struct {
	Enabled bool

	// ExcludedFolders suppresses KindNewMessage events for these folders
	// (e.g. a noisy mailing-list folder), matched against FolderName.
	ExcludedFolders map[string]bool

	// QuietStart/QuietEnd define a daily window (local time, minutes
	// since midnight) during which only PriorityFloor-or-above kinds are
	// delivered. QuietStart == QuietEnd disables quiet hours.
	QuietStart time.Duration
	QuietEnd   time.Duration

	// PriorityFloor is the minimum Kind that still fires during quiet
	// hours. KindSyncFatal always fires regardless.
	PriorityFloor Kind
}

// DefaultPolicy allows every event, all the time.
func DefaultPolicy() Policy {
	return Policy{Enabled: true, ExcludedFolders: map[string]bool{}}
}

func (p Policy) allows(e Event, now time.Time) bool {
	if !p.Enabled {
		return e.Kind == KindSyncFatal
	}
	if e.Kind == KindNewMessage && p.ExcludedFolders[e.FolderName] {
		return false
	}
	if e.Kind == KindSyncFatal {
		return true
	}
	if !p.inQuietHours(now) {
		return true
	}
	return kindRank(e.Kind) >= kindRank(p.PriorityFloor)
}

func (p Policy) inQuietHours(now time.Time) bool {
	if p.QuietStart == p.QuietEnd {
		return false
	}
	sinceMidnight := time.Duration(now.Hour())*time.Hour + time.Duration(now.Minute())*time.Minute
	if p.QuietStart < p.QuietEnd {
		return sinceMidnight >= p.QuietStart && sinceMidnight < p.QuietEnd
	}
	// window wraps midnight, e.g. 22:00-07:00
	return sinceMidnight >= p.QuietStart || sinceMidnight < p.QuietEnd
}

func kindRank(k Kind) int {
	switch k {
	case KindNewMessage:
		return 0
	case KindSyncError:
		return 1
	case KindSyncFatal:
		return 2
	default:
		return 0
	}
}

// Dispatcher is the Notification Dispatcher (C7).
type Dispatcher struct {
	messages *message.Store
	accounts *account.Store
	bus      *progress.Bus

	log zerolog.Logger

	mu       sync.RWMutex
	policies map[string]Policy // accountID -> policy
	sinks    []Sink

	folderNames func(accountID, folderID string) string
}

// New builds a Dispatcher. folderNames resolves a (accountID, folderID)
// pair to the folder's display name for change events, which only carry
// the folder's row id; pass a lookup backed by folder.Store here.
func New(messages *message.Store, accounts *account.Store, bus *progress.Bus, folderNames func(accountID, folderID string) string) *Dispatcher {
	return &Dispatcher{
		messages:    messages,
		accounts:    accounts,
		bus:         bus,
		log:         logging.WithComponent("notify"),
		policies:    make(map[string]Policy),
		folderNames: folderNames,
	}
}

// AddSink registers a delivery target. Safe to call before or after Run.
func (d *Dispatcher) AddSink(s Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, s)
}

// SetPolicy installs accountID's filter policy, replacing any previous one.
func (d *Dispatcher) SetPolicy(accountID string, p Policy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.policies[accountID] = p
}

func (d *Dispatcher) policyFor(accountID string) Policy {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if p, ok := d.policies[accountID]; ok {
		return p
	}
	return DefaultPolicy()
}

// Run subscribes to both upstream streams and dispatches until ctx is
// cancelled. Intended to run in its own goroutine for the process
// lifetime.
func (d *Dispatcher) Run(ctx context.Context) {
	changes, cancelChanges := d.messages.SubscribeChanges()
	defer cancelChanges()
	prog, cancelProg := d.bus.Subscribe()
	defer cancelProg()

	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-changes:
			if !ok {
				return
			}
			d.handleChange(c)
		case p, ok := <-prog:
			if !ok {
				return
			}
			d.handleProgress(p)
		}
	}
}

func (d *Dispatcher) handleChange(c message.Change) {
	if c.Kind != message.ChangeInserted {
		return
	}
	folderName := ""
	if d.folderNames != nil {
		folderName = d.folderNames(c.AccountID, c.FolderID)
	}
	ev := Event{
		Kind:       KindNewMessage,
		AccountID:  c.AccountID,
		FolderName: folderName,
		Title:      "New message",
		Body:       folderName,
		MessageID:  c.MessageID,
	}
	d.dispatch(ev)
}

func (d *Dispatcher) handleProgress(p progress.SyncProgress) {
	var ev Event
	switch p.Phase {
	case progress.PhaseError:
		ev = Event{
			Kind:       KindSyncError,
			AccountID:  p.AccountID,
			FolderName: p.FolderName,
			Title:      "Sync failed",
			Body:       p.ErrorDetail,
		}
	default:
		return
	}
	d.dispatch(ev)
}

// NotifyFatal delivers a KindSyncFatal event bypassing every per-account
// policy (it always fires) — used when C3 reports storage corruption and
// the engine stops accepting new operations.
func (d *Dispatcher) NotifyFatal(accountID, detail string) {
	d.dispatch(Event{
		Kind:      KindSyncFatal,
		AccountID: accountID,
		Title:     "Sync stopped",
		Body:      detail,
	})
}

func (d *Dispatcher) dispatch(ev Event) {
	policy := d.policyFor(ev.AccountID)
	if !policy.allows(ev, time.Now()) {
		return
	}

	d.mu.RLock()
	sinks := make([]Sink, len(d.sinks))
	copy(sinks, d.sinks)
	d.mu.RUnlock()

	for _, s := range sinks {
		if err := s.Notify(ev); err != nil {
			d.log.Warn().Err(err).Str("kind", string(ev.Kind)).Msg("notification sink failed")
		}
	}
}
