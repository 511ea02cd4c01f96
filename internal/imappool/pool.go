// Package imappool bounds how many concurrent IMAP sessions a Folder
// Synchronizer may hold open per account. Unlike a conventional
// connection pool it never hands out the same session twice: C1 sessions
// are never shared between concurrent callers, so Acquire always dials
// and authenticates a fresh one, and the pool's only job is admission
// control plus "max connections exceeded" retry.
package imappool

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/parlorsh/parlor/internal/account"
	"github.com/parlorsh/parlor/internal/errs"
	"github.com/parlorsh/parlor/internal/imapsession"
	"github.com/parlorsh/parlor/internal/logging"
	"github.com/parlorsh/parlor/internal/oauth2"
)

// Config bounds admission and retry behavior.
type Config struct {
	MaxPerAccount  int
	WaiterTimeout  time.Duration
	MaxConnRetryAfter time.Duration // wait before retrying a "too many connections" rejection
}

// DefaultConfig mirrors the per-account connection ceiling most IMAP
// providers enforce in practice.
func DefaultConfig() Config {
	return Config{
		MaxPerAccount:     3,
		WaiterTimeout:     2 * time.Minute,
		MaxConnRetryAfter: 15 * time.Second,
	}
}

// TokenProviderFor resolves the oauth2.Provider to hand a new Session for
// a given account, so the pool doesn't need to know how tokens are cached
// account by account.
type TokenProviderFor func(accountID string) oauth2.Provider

// Pool admits a bounded number of concurrent sessions per account.
type Pool struct {
	cfg      Config
	tp       TokenProviderFor
	pw       imapsession.PasswordProvider
	log      zerolog.Logger

	mu      sync.Mutex
	inUse   map[string]int
	waiters map[string][]chan struct{}
}

// New builds a pool that resolves each account's token provider via tp
// and plaintext passwords (for password-auth accounts) via pw.
func New(cfg Config, tp TokenProviderFor, pw imapsession.PasswordProvider) *Pool {
	return &Pool{
		cfg:     cfg,
		tp:      tp,
		pw:      pw,
		log:     logging.WithComponent("imap-pool"),
		inUse:   make(map[string]int),
		waiters: make(map[string][]chan struct{}),
	}
}

// Acquire blocks until admission is available for acc, then dials and
// authenticates a fresh Session. The caller must call Release exactly
// once (via the returned release func) when done, which logs the session
// out and frees the admission slot.
func (p *Pool) Acquire(ctx context.Context, acc account.Account) (*imapsession.Session, func(), error) {
	if err := p.admit(ctx, acc.ID); err != nil {
		return nil, nil, err
	}

	sess, err := p.connectWithRetry(ctx, acc, 0)
	if err != nil {
		p.release(acc.ID)
		return nil, nil, err
	}

	released := false
	release := func() {
		if released {
			return
		}
		released = true
		_ = sess.Logout()
		p.release(acc.ID)
	}
	return sess, release, nil
}

func (p *Pool) connectWithRetry(ctx context.Context, acc account.Account, attempt int) (*imapsession.Session, error) {
	sess := imapsession.New(acc, p.tp(acc.ID), p.pw)
	if err := sess.Connect(ctx); err != nil {
		if attempt == 0 && isMaxConnectionsErr(err) {
			p.log.Warn().Str("account", acc.ID).Msg("server reports too many connections, retrying after backoff")
			select {
			case <-time.After(p.cfg.MaxConnRetryAfter):
				return p.connectWithRetry(ctx, acc, attempt+1)
			case <-ctx.Done():
				return nil, errs.Wrap(errs.KindCancelled, "imappool.Acquire", ctx.Err())
			}
		}
		return nil, err
	}
	if err := sess.Authenticate(ctx); err != nil {
		sess.Logout()
		return nil, err
	}
	return sess, nil
}

func isMaxConnectionsErr(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "too many connections") ||
		strings.Contains(strings.ToLower(err.Error()), "maximum number of connections")
}

func (p *Pool) admit(ctx context.Context, accountID string) error {
	p.mu.Lock()
	if p.inUse[accountID] < p.cfg.MaxPerAccount {
		p.inUse[accountID]++
		p.mu.Unlock()
		return nil
	}

	waiter := make(chan struct{}, 1)
	p.waiters[accountID] = append(p.waiters[accountID], waiter)
	p.mu.Unlock()

	select {
	case <-waiter:
		return nil
	case <-ctx.Done():
		p.removeWaiter(accountID, waiter)
		return errs.Wrap(errs.KindCancelled, "imappool.Acquire", ctx.Err())
	case <-time.After(p.cfg.WaiterTimeout):
		p.removeWaiter(accountID, waiter)
		return errs.New(errs.KindNetwork, "imappool.Acquire", "timed out waiting for a free session slot")
	}
}

func (p *Pool) removeWaiter(accountID string, waiter chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ws := p.waiters[accountID]
	for i, w := range ws {
		if w == waiter {
			p.waiters[accountID] = append(ws[:i], ws[i+1:]...)
			return
		}
	}
}

func (p *Pool) release(accountID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ws := p.waiters[accountID]; len(ws) > 0 {
		next := ws[0]
		p.waiters[accountID] = ws[1:]
		next <- struct{}{}
		return
	}
	p.inUse[accountID]--
	if p.inUse[accountID] <= 0 {
		delete(p.inUse, accountID)
	}
}
