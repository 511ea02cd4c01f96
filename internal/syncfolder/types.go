// Package syncfolder implements the Folder Synchronizer (C4): the
// per-invocation state machine that reconciles one account's remote
// mailboxes and messages into the local Message Store.
package syncfolder

import "time"

// StrategyKind selects how much of a folder's history a run covers.
type StrategyKind string

const (
	// StrategyFull re-fetches the complete folder. Used when no local
	// state exists or UIDVALIDITY changed.
	StrategyFull StrategyKind = "Full"
	// StrategyIncremental fetches only server-side changes since the
	// recorded HIGHESTMODSEQ, or a UID-range-plus-flag-scan fallback.
	StrategyIncremental StrategyKind = "Incremental"
	// StrategyHeadersOnly fetches envelopes but never bodies.
	StrategyHeadersOnly StrategyKind = "HeadersOnly"
	// StrategyRecent fetches messages within the last RecentDays days.
	StrategyRecent StrategyKind = "Recent"
)

// Strategy is the run parameter a caller supplies to Run.
type Strategy struct {
	Kind StrategyKind
	// RecentDays is only meaningful for StrategyRecent.
	RecentDays int
}

// Full builds a StrategyFull.
func Full() Strategy { return Strategy{Kind: StrategyFull} }

// Incremental builds a StrategyIncremental.
func Incremental() Strategy { return Strategy{Kind: StrategyIncremental} }

// HeadersOnly builds a StrategyHeadersOnly.
func HeadersOnly() Strategy { return Strategy{Kind: StrategyHeadersOnly} }

// Recent builds a StrategyRecent covering the last days days.
func Recent(days int) Strategy { return Strategy{Kind: StrategyRecent, RecentDays: days} }

// Config tunes batch sizing and retry behavior, independent of any one
// account.
type Config struct {
	BatchSize       int
	MaxRetries      uint64
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration
	OperationTimeout time.Duration
}

// DefaultConfig matches the retry/batch defaults most IMAP servers tolerate
// comfortably: 100-message batches, 3 retries with 1s-30s backoff, a 5
// minute overall operation timeout.
func DefaultConfig() Config {
	return Config{
		BatchSize:        100,
		MaxRetries:       3,
		RetryBaseDelay:   time.Second,
		RetryMaxDelay:    30 * time.Second,
		OperationTimeout: 5 * time.Minute,
	}
}
