// Package oauth2 defines the narrow token capability the sync engine
// consumes when authenticating an account with XOAUTH2. Acquiring the
// token in the first place (the authorization code flow, refresh-token
// exchange, provider-specific client registration) is an external
// collaborator's job; this package only caches and serializes refreshes.
package oauth2

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/parlorsh/parlor/internal/errs"
	"github.com/parlorsh/parlor/internal/logging"
)

// Token is a bearer token together with the wall-clock time it expires.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

// expiringSoon is the safety margin: a token still technically valid but
// within this window of expiry is treated as needing refresh, so a slow
// network round trip during AUTHENTICATE doesn't hand the server a token
// that expires mid-handshake.
const expiringSoon = 60 * time.Second

// Provider is the capability the IMAP session consumes. The sync engine
// never refreshes directly: on an auth failure it calls Invalidate, then
// requests a fresh token, at most once per authentication attempt.
type Provider interface {
	GetToken(ctx context.Context, accountID string) (string, error)
	Invalidate(accountID string)
}

// Source fetches a fresh token for an account from the external token
// issuer (refresh-token exchange, keychain-backed cache, whatever the
// host application wires in). It is the one method CachingProvider needs
// from the outside world.
type Source interface {
	FetchToken(ctx context.Context, accountID string) (Token, error)
}

// CachingProvider wraps a Source with the caching and single-flight
// behavior the sync engine requires of C2: tokens are cached with a
// refresh-before-expiry margin, and concurrent callers for the same
// account collapse onto one in-flight refresh instead of issuing a
// refresh-token exchange per caller.
type CachingProvider struct {
	source Source
	log    zerolog.Logger

	mu      sync.Mutex
	cached  map[string]Token
	inFlight map[string]*refreshCall
}

type refreshCall struct {
	done  chan struct{}
	token string
	err   error
}

// NewCachingProvider wraps source with caching and refresh coalescing.
func NewCachingProvider(source Source) *CachingProvider {
	return &CachingProvider{
		source:   source,
		log:      logging.WithComponent("oauth2"),
		cached:   make(map[string]Token),
		inFlight: make(map[string]*refreshCall),
	}
}

// GetToken returns a currently-valid token for accountID, refreshing it
// if the cached copy is missing or within its expiry safety margin.
func (p *CachingProvider) GetToken(ctx context.Context, accountID string) (string, error) {
	p.mu.Lock()
	if t, ok := p.cached[accountID]; ok && time.Until(t.ExpiresAt) > expiringSoon {
		p.mu.Unlock()
		return t.AccessToken, nil
	}

	if call, ok := p.inFlight[accountID]; ok {
		p.mu.Unlock()
		return waitForRefresh(ctx, call)
	}

	call := &refreshCall{done: make(chan struct{})}
	p.inFlight[accountID] = call
	p.mu.Unlock()

	go p.refresh(accountID, call)
	return waitForRefresh(ctx, call)
}

func (p *CachingProvider) refresh(accountID string, call *refreshCall) {
	defer close(call.done)

	token, err := p.source.FetchToken(context.Background(), accountID)

	p.mu.Lock()
	delete(p.inFlight, accountID)
	if err == nil {
		p.cached[accountID] = token
	}
	p.mu.Unlock()

	if err != nil {
		call.err = errs.Wrap(errs.KindAuth, "oauth2.refresh", err)
		return
	}
	call.token = token.AccessToken
}

func waitForRefresh(ctx context.Context, call *refreshCall) (string, error) {
	select {
	case <-call.done:
		return call.token, call.err
	case <-ctx.Done():
		return "", errs.Wrap(errs.KindCancelled, "oauth2.wait", ctx.Err())
	}
}

// Invalidate drops the cached token for accountID, forcing the next
// GetToken call to fetch a fresh one. Called by the sync engine exactly
// once after an AUTHENTICATE XOAUTH2 rejection.
func (p *CachingProvider) Invalidate(accountID string) {
	p.mu.Lock()
	delete(p.cached, accountID)
	p.mu.Unlock()
	p.log.Debug().Str("account", accountID).Msg("token invalidated")
}

// EncodeXOAUTH2 builds the SASL XOAUTH2 initial response, per Google's
// format: "user=<email>\x01auth=Bearer <token>\x01\x01". The caller
// base64-encodes the result before sending it on the wire (go-sasl and
// go-imap handle that step).
func EncodeXOAUTH2(username, token string) []byte {
	return []byte(fmt.Sprintf("user=%s\x01auth=Bearer %s\x01\x01", username, token))
}
