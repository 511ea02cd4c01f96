// Package account models a configured IMAP endpoint: host, security mode,
// auth method, and the sync/conflict policy applied to it. An Account is
// immutable once created; edits replace the whole record rather than
// mutating fields in place.
package account

import (
	"time"

	"github.com/parlorsh/parlor/internal/config"
)

// Security is the IMAP connection's TLS mode.
type Security string

const (
	SecurityTLS      Security = "tls"
	SecurityStartTLS Security = "starttls"
	SecurityNone     Security = "none"
)

// AuthKind selects how the session authenticates.
type AuthKind string

const (
	AuthPassword AuthKind = "password"
	AuthOAuth2   AuthKind = "oauth2"
)

// ConflictPolicy is the per-account flag-conflict resolution policy.
type ConflictPolicy string

const (
	ConflictServerWins ConflictPolicy = "server_wins"
	ConflictLocalWins  ConflictPolicy = "local_wins"
	ConflictMerge      ConflictPolicy = "merge"
	ConflictAskUser    ConflictPolicy = "ask_user"
)

// Account is immutable after construction. Edits are expressed by building
// a new Account and calling Store.Replace — there is no in-place mutation.
type Account struct {
	ID          string
	DisplayName string

	Host     string
	Port     int
	Security Security

	AuthKind AuthKind
	Username string // also used as the XOAUTH2 "user=" identity

	ConnectTimeout    time.Duration
	VerifyCertificate bool

	SyncPeriodDays int // 0 = unlimited
	SyncIntervalMinutes int // 0 = manual only
	ConflictPolicy ConflictPolicy

	Enabled bool
}

// WithID returns a copy of a with a freshly assigned ID; used when
// constructing an Account before it has a stable identifier.
func (a Account) WithID(id string) Account {
	a.ID = id
	return a
}

// toAccount converts the persisted TOML shape into the domain entity.
func toAccount(f config.AccountFile) Account {
	timeout := time.Duration(f.ConnectTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	policy := ConflictPolicy(f.ConflictPolicy)
	if policy == "" {
		policy = ConflictMerge
	}
	return Account{
		ID:                  f.ID,
		DisplayName:         f.DisplayName,
		Host:                f.Host,
		Port:                f.Port,
		Security:            Security(f.Security),
		AuthKind:            AuthKind(f.AuthKind),
		Username:            f.Username,
		ConnectTimeout:      timeout,
		VerifyCertificate:   f.VerifyCertificate,
		SyncPeriodDays:      f.SyncPeriodDays,
		SyncIntervalMinutes: f.SyncIntervalMinutes,
		ConflictPolicy:      policy,
		Enabled:             f.Enabled,
	}
}

// fromAccount converts the domain entity back into the persisted TOML shape.
func fromAccount(a Account) config.AccountFile {
	return config.AccountFile{
		ID:                    a.ID,
		DisplayName:           a.DisplayName,
		Host:                  a.Host,
		Port:                  a.Port,
		Security:              string(a.Security),
		AuthKind:              string(a.AuthKind),
		Username:              a.Username,
		ConnectTimeoutSeconds: int(a.ConnectTimeout / time.Second),
		VerifyCertificate:     a.VerifyCertificate,
		SyncPeriodDays:        a.SyncPeriodDays,
		SyncIntervalMinutes:   a.SyncIntervalMinutes,
		ConflictPolicy:        string(a.ConflictPolicy),
		Enabled:               a.Enabled,
	}
}
