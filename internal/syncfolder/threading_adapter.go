package syncfolder

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/parlorsh/parlor/internal/message"
)

// storeAnchorLookup adapts message.Store's account-scoped, error-returning
// lookups to threading.AnchorLookup's narrower, per-account, error-free
// interface. A lookup failure is logged and treated as "no match", which
// degrades gracefully to a fresh thread rather than failing the insert.
type storeAnchorLookup struct {
	store     *message.Store
	accountID string
	log       zerolog.Logger
}

func (a storeAnchorLookup) FindThreadAnchors(inReplyTo string, refs []string) (inReplyToMatch, referenceMatch string) {
	m, r, err := a.store.FindThreadAnchors(a.accountID, inReplyTo, refs)
	if err != nil {
		a.log.Warn().Err(err).Msg("thread anchor lookup failed, starting a fresh thread")
		return "", ""
	}
	return m, r
}

func (a storeAnchorLookup) FindBySubjectWindow(normalizedSubject string, t time.Time, window time.Duration) string {
	id, err := a.store.FindBySubjectWindow(a.accountID, normalizedSubject, t, window)
	if err != nil {
		a.log.Warn().Err(err).Msg("subject-window thread lookup failed, starting a fresh thread")
		return ""
	}
	return id
}
