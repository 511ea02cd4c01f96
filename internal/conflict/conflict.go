// Package conflict implements the shared flag-conflict resolution policy
// (applied whenever a message's flags changed both locally, via a pending
// offline-first edit, and on the server since the last sync). It is pure
// decision logic: callers hand in the three flag-sets involved and get a
// Resolution back, with no I/O of its own.
package conflict

import (
	"encoding/json"
	"strings"

	"github.com/parlorsh/parlor/internal/message"
)

// Policy is the per-account configurable conflict resolution mode.
type Policy string

const (
	PolicyServerWins Policy = "ServerWins"
	PolicyLocalWins  Policy = "LocalWins"
	PolicyMerge      Policy = "Merge"
	PolicyAskUser    Policy = "AskUser"
)

// FlagDelta is a pending, not-yet-pushed local flag edit: flags added and
// flags removed since the last confirmed server state. It is what
// message.Stored.PendingLocalFlags serializes to JSON.
type FlagDelta struct {
	Added   map[message.Flag]bool `json:"added,omitempty"`
	Removed map[message.Flag]bool `json:"removed,omitempty"`
}

// Empty reports whether the delta carries no pending change.
func (d FlagDelta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// MarshalPending serializes d for message.Stored.PendingLocalFlags. An
// empty delta serializes to the empty string, matching the zero value of
// that field for a message with no pending edit.
func MarshalPending(d FlagDelta) (string, error) {
	if d.Empty() {
		return "", nil
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// UnmarshalPending parses message.Stored.PendingLocalFlags back into a
// FlagDelta. An empty string yields the zero FlagDelta.
func UnmarshalPending(raw string) (FlagDelta, error) {
	if raw == "" {
		return FlagDelta{}, nil
	}
	var d FlagDelta
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return FlagDelta{}, err
	}
	return d, nil
}

// isSystemFlag reports whether f is one of the RFC 3501 system flags
// (\Seen, \Answered, ...) as opposed to a provider keyword.
func isSystemFlag(f message.Flag) bool {
	return strings.HasPrefix(string(f), "\\")
}

// Action tells the caller what to do with a Resolution's flag set.
type Action string

const (
	// ActionAdoptServer means: write Resolution.Flags to the local copy,
	// no outbound STORE is needed.
	ActionAdoptServer Action = "AdoptServer"
	// ActionPushToServer means: issue STORE with Resolution.Flags.
	ActionPushToServer Action = "PushToServer"
	// ActionAskUser means: no resolution yet, a ConflictRecord was queued.
	ActionAskUser Action = "AskUser"
)

// Resolution is the outcome of applying a Policy to one message's
// three-way flag conflict.
type Resolution struct {
	Flags   map[message.Flag]bool
	Action  Action
	Warning string
}

// Resolve applies policy to a message whose flags have diverged three
// ways: baseFlags is the flag set as of the last confirmed sync,
// serverFlags is the server's current flag set, and delta is the local
// pending edit computed against baseFlags. It never performs I/O;
// LocalWins' server-rejection fallback to ServerWins is the caller's
// responsibility once the re-issued STORE actually fails (see
// ApplyLocalWinsRejection).
func Resolve(policy Policy, baseFlags, serverFlags map[message.Flag]bool, delta FlagDelta) Resolution {
	switch policy {
	case PolicyLocalWins:
		return Resolution{Flags: applyDelta(serverFlags, delta), Action: ActionPushToServer}

	case PolicyMerge:
		return Resolution{Flags: merge(baseFlags, serverFlags, delta), Action: ActionPushToServer}

	case PolicyAskUser:
		return Resolution{Action: ActionAskUser}

	case PolicyServerWins:
		fallthrough
	default:
		return Resolution{Flags: cloneFlags(serverFlags), Action: ActionAdoptServer}
	}
}

// ApplyLocalWinsRejection is called when a LocalWins re-issued STORE was
// rejected by the server: per policy, that single conflict downgrades to
// ServerWins and a warning is reported.
func ApplyLocalWinsRejection(serverFlags map[message.Flag]bool) Resolution {
	return Resolution{
		Flags:   cloneFlags(serverFlags),
		Action:  ActionAdoptServer,
		Warning: "LocalWins STORE rejected by server, downgraded to ServerWins for this message",
	}
}

func applyDelta(base map[message.Flag]bool, delta FlagDelta) map[message.Flag]bool {
	out := cloneFlags(base)
	for f := range delta.Added {
		out[f] = true
	}
	for f := range delta.Removed {
		delete(out, f)
	}
	return out
}

// merge unions additions from both sides (local delta vs. server delta,
// each computed against baseFlags) and subtracts the intersection of
// removals, starting from baseFlags. A flag the two sides disagree on
// outright (one side added it, the other removed it) resolves server-side
// for system flags and local-side for user-defined (keyword) flags.
func merge(baseFlags, serverFlags map[message.Flag]bool, delta FlagDelta) map[message.Flag]bool {
	serverAdded := make(map[message.Flag]bool)
	serverRemoved := make(map[message.Flag]bool)
	for f := range serverFlags {
		if !baseFlags[f] {
			serverAdded[f] = true
		}
	}
	for f := range baseFlags {
		if !serverFlags[f] {
			serverRemoved[f] = true
		}
	}

	out := cloneFlags(baseFlags)

	for f := range delta.Added {
		out[f] = true
	}
	for f := range serverAdded {
		out[f] = true
	}

	for f := range delta.Removed {
		if serverAdded[f] {
			resolveDisagreement(out, f, true) // server added it, local removed it
			continue
		}
		if serverRemoved[f] {
			delete(out, f) // removed on both sides
		}
	}
	for f := range serverRemoved {
		if delta.Added[f] {
			resolveDisagreement(out, f, false) // server removed it, local added it
		}
	}
	return out
}

// resolveDisagreement settles a flag that one side added and the other
// removed in the same round. serverWants is the value the server settled
// on (true = added, false = removed); local's intent is always the
// opposite, since this is only called on an outright disagreement.
func resolveDisagreement(out map[message.Flag]bool, f message.Flag, serverWants bool) {
	winner := serverWants
	if !isSystemFlag(f) {
		winner = !serverWants // local wins for user-defined flags
	}
	if winner {
		out[f] = true
	} else {
		delete(out, f)
	}
}

func cloneFlags(in map[message.Flag]bool) map[message.Flag]bool {
	out := make(map[message.Flag]bool, len(in))
	for f, v := range in {
		if v {
			out[f] = true
		}
	}
	return out
}
