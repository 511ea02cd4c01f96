package progress

import "time"

// OperationPublisher is the per-operation handle a Folder Synchronizer
// uses to report its own progress. It exists so call sites never build a
// SyncProgress by hand and never forget the terminal-event invariant:
// once Complete, Error, or Cancelled has been published, further calls
// on the same publisher are no-ops.
type OperationPublisher struct {
	bus  *Bus
	base SyncProgress
	done bool
}

// NewOperation starts tracking a new operation and returns a publisher
// scoped to it. startedAt is carried on every emitted event.
func (b *Bus) NewOperation(operationID, accountID, folderName string, startedAt time.Time) *OperationPublisher {
	return &OperationPublisher{
		bus: b,
		base: SyncProgress{
			OperationID: operationID,
			AccountID:   accountID,
			FolderName:  folderName,
			StartedAt:   startedAt,
		},
	}
}

// Update publishes a non-terminal phase transition or counter update.
// It is a no-op once the operation has reached a terminal phase.
func (p *OperationPublisher) Update(phase Phase, messagesProcessed, bytesDownloaded uint64, total *uint64, eta *time.Time) {
	if p.done || phase.IsTerminal() {
		return
	}
	ev := p.base
	ev.Phase = phase
	ev.MessagesProcessed = messagesProcessed
	ev.BytesDownloaded = bytesDownloaded
	ev.TotalMessages = total
	ev.EstimatedCompletion = eta
	p.bus.Publish(ev)
}

// Complete publishes the terminal success event.
func (p *OperationPublisher) Complete(messagesProcessed, bytesDownloaded uint64) {
	p.finish(PhaseComplete, "", messagesProcessed, bytesDownloaded)
}

// Error publishes the terminal failure event carrying detail.
func (p *OperationPublisher) Error(detail string, messagesProcessed, bytesDownloaded uint64) {
	p.finish(PhaseError, detail, messagesProcessed, bytesDownloaded)
}

// Cancelled publishes the terminal cancellation event.
func (p *OperationPublisher) Cancelled(messagesProcessed, bytesDownloaded uint64) {
	p.finish(PhaseCancelled, "", messagesProcessed, bytesDownloaded)
}

func (p *OperationPublisher) finish(phase Phase, detail string, messagesProcessed, bytesDownloaded uint64) {
	if p.done {
		return
	}
	p.done = true
	ev := p.base
	ev.Phase = phase
	ev.ErrorDetail = detail
	ev.MessagesProcessed = messagesProcessed
	ev.BytesDownloaded = bytesDownloaded
	p.bus.Publish(ev)
}
