// Package imapsession drives one authenticated IMAP connection (C1):
// connect, authenticate, discover and select folders, fetch headers and
// bodies, apply flag changes, and IDLE. A Session is never shared between
// concurrent callers; the pool in internal/imappool hands each one out
// exclusively for the lifetime of a single Folder Synchronizer run.
package imapsession

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"
	"github.com/rs/zerolog"

	"github.com/parlorsh/parlor/internal/account"
	"github.com/parlorsh/parlor/internal/errs"
	"github.com/parlorsh/parlor/internal/logging"
	"github.com/parlorsh/parlor/internal/oauth2"
)

// State is a coarse view of the session's position in the IMAP state
// machine: Disconnected -> Connecting -> Unauthenticated -> Authenticated
// -> Selected -> (Idle | Busy) -> Authenticated -> Logout -> Closed.
type State string

const (
	StateDisconnected   State = "Disconnected"
	StateConnecting     State = "Connecting"
	StateUnauthenticated State = "Unauthenticated"
	StateAuthenticated  State = "Authenticated"
	StateSelected       State = "Selected"
	StateIdle           State = "Idle"
	StateBusy           State = "Busy"
	StateClosed         State = "Closed"
)

// deadlineConn enforces read/write deadlines on every I/O call, since
// go-imap v2 has no built-in per-call timeout and a dead TCP peer can
// otherwise block a suspension point forever.
type deadlineConn struct {
	net.Conn
	readTimeout, writeTimeout time.Duration
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if c.readTimeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	if c.writeTimeout > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(b)
}

// PasswordProvider resolves the plaintext password for a password-auth
// account. Implemented by credstore.Store.
type PasswordProvider interface {
	GetPassword(accountID string) (string, error)
}

// Session wraps one authenticated connection to one account's server.
type Session struct {
	acc   account.Account
	tp    oauth2.Provider
	pw    PasswordProvider
	log   zerolog.Logger

	client *imapclient.Client
	caps   imap.CapSet
	state  State

	selected string
	tokenRetried bool

	// idleHandler receives untagged EXISTS/EXPUNGE notifications while
	// idling. It is nil outside of Idle; the client's UnilateralDataHandler
	// is wired once at connect time and forwards to whatever idleHandler
	// currently points at, since go-imap v2 fixes handlers at construction.
	idleHandler func(IdleEvent)
}

// New creates a session bound to acc; it does not connect. passwords may
// be nil for an account whose AuthKind is OAuth2.
func New(acc account.Account, tokenProvider oauth2.Provider, passwords PasswordProvider) *Session {
	return &Session{
		acc:   acc,
		tp:    tokenProvider,
		pw:    passwords,
		log:   logging.WithComponent("imap-session").With().Str("account", acc.ID).Logger(),
		state: StateDisconnected,
	}
}

// State reports the session's current coarse state.
func (s *Session) State() State { return s.state }

// Connect dials the server, waits for the greeting, and negotiates
// capabilities, but does not authenticate.
func (s *Session) Connect(ctx context.Context) error {
	s.state = StateConnecting
	addr := fmt.Sprintf("%s:%d", s.acc.Host, s.acc.Port)
	dialer := &net.Dialer{Timeout: s.acc.ConnectTimeout}

	opts := &imapclient.Options{
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			Mailbox: func(data *imapclient.UnilateralDataMailbox) {
				if data.NumMessages != nil && s.idleHandler != nil {
					s.idleHandler(IdleEvent{Kind: IdleEventExists, NumExist: *data.NumMessages})
				}
			},
			Expunge: func(seqNum uint32) {
				if s.idleHandler != nil {
					s.idleHandler(IdleEvent{Kind: IdleEventExpunge, SeqNum: seqNum})
				}
			},
		},
	}
	var client *imapclient.Client
	var err error

	switch s.acc.Security {
	case account.SecurityTLS:
		tlsConfig := &tls.Config{ServerName: s.acc.Host, InsecureSkipVerify: !s.acc.VerifyCertificate}
		raw, dialErr := tls.DialWithDialer(dialer, "tcp", addr, tlsConfig)
		if dialErr != nil {
			return errs.Wrap(errs.KindNetwork, "imapsession.Connect", dialErr)
		}
		client = imapclient.New(&deadlineConn{Conn: raw, readTimeout: 3 * time.Minute, writeTimeout: 30 * time.Second}, opts)
	case account.SecurityStartTLS:
		opts.TLSConfig = &tls.Config{ServerName: s.acc.Host, InsecureSkipVerify: !s.acc.VerifyCertificate}
		client, err = imapclient.DialStartTLS(addr, opts)
		if err != nil {
			return errs.Wrap(errs.KindTLS, "imapsession.Connect", err)
		}
	default:
		raw, dialErr := dialer.Dial("tcp", addr)
		if dialErr != nil {
			return errs.Wrap(errs.KindNetwork, "imapsession.Connect", dialErr)
		}
		client = imapclient.New(&deadlineConn{Conn: raw, readTimeout: 3 * time.Minute, writeTimeout: 30 * time.Second}, opts)
	}

	if err := client.WaitGreeting(); err != nil {
		client.Close()
		return errs.Wrap(errs.KindNetwork, "imapsession.Connect", err)
	}

	s.client = client
	s.caps = client.Caps()
	s.state = StateUnauthenticated
	return nil
}

// Authenticate logs in with the account's configured auth method. For
// OAuth2 accounts, on an AUTH rejection the token is invalidated and a
// single retry with a freshly fetched token is attempted before
// surfacing a permanent Auth error.
func (s *Session) Authenticate(ctx context.Context) error {
	var err error
	switch s.acc.AuthKind {
	case account.AuthOAuth2:
		err = s.authenticateOAuth2(ctx)
	default:
		err = s.authenticatePassword(ctx)
	}
	if err != nil {
		return err
	}
	s.caps = s.client.Caps()
	s.state = StateAuthenticated
	return nil
}

func (s *Session) authenticatePassword(ctx context.Context) error {
	if s.pw == nil {
		return errs.New(errs.KindAuth, "imapsession.Authenticate", "no password source configured for password-auth account")
	}
	password, err := s.pw.GetPassword(s.acc.ID)
	if err != nil {
		return errs.Wrap(errs.KindAuth, "imapsession.Authenticate", err)
	}

	if s.caps.Has(imap.CapLoginDisabled) {
		if err := s.client.Authenticate(sasl.NewPlainClient("", s.acc.Username, password)); err != nil {
			return errs.Wrap(errs.KindAuth, "imapsession.Authenticate", err)
		}
		return nil
	}
	if err := s.client.Login(s.acc.Username, password).Wait(); err != nil {
		return errs.Wrap(errs.KindAuth, "imapsession.Authenticate", err)
	}
	return nil
}

func (s *Session) authenticateOAuth2(ctx context.Context) error {
	token, err := s.tp.GetToken(ctx, s.acc.ID)
	if err != nil {
		return errs.Wrap(errs.KindAuth, "imapsession.Authenticate", err)
	}

	err = s.client.Authenticate(newXOAuth2Client(s.acc.Username, token))
	if err == nil {
		return nil
	}
	if s.tokenRetried {
		return errs.Wrap(errs.KindAuth, "imapsession.Authenticate", err)
	}

	s.tokenRetried = true
	s.tp.Invalidate(s.acc.ID)
	token, tokenErr := s.tp.GetToken(ctx, s.acc.ID)
	if tokenErr != nil {
		return errs.Wrap(errs.KindAuth, "imapsession.Authenticate", tokenErr)
	}
	if err := s.client.Authenticate(newXOAuth2Client(s.acc.Username, token)); err != nil {
		return errs.Wrap(errs.KindAuth, "imapsession.Authenticate", err)
	}
	return nil
}

// HasCap reports whether the server advertises cap.
func (s *Session) HasCap(cap imap.Cap) bool { return s.caps.Has(cap) }

// SupportsCondStore reports RFC 4551 CONDSTORE support.
func (s *Session) SupportsCondStore() bool { return s.caps.Has(imap.CapCondStore) }

// SupportsUIDPlus reports RFC 4315 UIDPLUS support.
func (s *Session) SupportsUIDPlus() bool { return s.caps.Has(imap.CapUIDPlus) }

// SupportsIdle reports RFC 2177 IDLE support.
func (s *Session) SupportsIdle() bool { return s.caps.Has(imap.CapIdle) }

// ListedMailbox is one entry returned by List.
type ListedMailbox struct {
	Name      string
	Delimiter string
	Attrs     []imap.MailboxAttr
}

// List enumerates mailboxes matching reference/wildcard.
func (s *Session) List(ctx context.Context, reference, wildcard string) ([]ListedMailbox, error) {
	cmd := s.client.List(reference, wildcard, nil)
	var out []ListedMailbox
	for {
		mb := cmd.Next()
		if mb == nil {
			break
		}
		out = append(out, ListedMailbox{Name: mb.Mailbox, Delimiter: string(mb.Delim), Attrs: mb.Attrs})
	}
	if err := cmd.Close(); err != nil {
		return nil, errs.Wrap(errs.KindProtocol, "imapsession.List", err)
	}
	return out, nil
}

// SelectedInfo is the mailbox state returned by Select/Examine.
type SelectedInfo struct {
	Exists        uint32
	Recent        uint32
	Unseen        uint32
	UIDValidity   uint32
	UIDNext       uint32
	HighestModSeq uint64
}

// Select opens a mailbox for read-write access.
func (s *Session) Select(ctx context.Context, name string) (*SelectedInfo, error) {
	return s.selectOrExamine(ctx, name, false)
}

// Examine opens a mailbox read-only.
func (s *Session) Examine(ctx context.Context, name string) (*SelectedInfo, error) {
	return s.selectOrExamine(ctx, name, true)
}

func (s *Session) selectOrExamine(ctx context.Context, name string, readOnly bool) (*SelectedInfo, error) {
	type result struct {
		data *imap.SelectData
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		var data *imap.SelectData
		var err error
		if readOnly {
			data, err = s.client.Select(name, &imap.SelectOptions{ReadOnly: true}).Wait()
		} else {
			data, err = s.client.Select(name, nil).Wait()
		}
		resCh <- result{data, err}
	}()

	select {
	case <-ctx.Done():
		return nil, errs.Wrap(errs.KindCancelled, "imapsession.Select", ctx.Err())
	case r := <-resCh:
		if r.err != nil {
			return nil, errs.Wrap(errs.KindNotFound, "imapsession.Select", r.err)
		}
		s.selected = name
		s.state = StateSelected
		return &SelectedInfo{
			Exists:        r.data.NumMessages,
			UIDValidity:   r.data.UIDValidity,
			UIDNext:       uint32(r.data.UIDNext),
			HighestModSeq: r.data.HighestModSeq,
		}, nil
	}
}

// StoreFlags adds or removes flags on the given UIDs.
func (s *Session) StoreFlags(ctx context.Context, uids []imap.UID, flags []imap.Flag, add bool) error {
	if len(uids) == 0 {
		return nil
	}
	uidSet := imap.UIDSet{}
	for _, u := range uids {
		uidSet.AddNum(u)
	}
	op := imap.StoreFlagsAdd
	if !add {
		op = imap.StoreFlagsDel
	}
	cmd := s.client.Store(uidSet, &imap.StoreFlags{Op: op, Flags: flags, Silent: true}, nil)
	if err := cmd.Close(); err != nil {
		return errs.Wrap(errs.KindProtocol, "imapsession.StoreFlags", err)
	}
	return nil
}

// Copy copies UIDs to destMailbox, returning new UIDs when UIDPLUS is
// available (nil otherwise).
func (s *Session) Copy(ctx context.Context, uids []imap.UID, destMailbox string) (*imap.UIDSet, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	uidSet := imap.UIDSet{}
	for _, u := range uids {
		uidSet.AddNum(u)
	}
	data, err := s.client.Copy(uidSet, destMailbox).Wait()
	if err != nil {
		return nil, errs.Wrap(errs.KindProtocol, "imapsession.Copy", err)
	}
	if data != nil {
		return &data.DestUIDs, nil
	}
	return nil, nil
}

// Move moves UIDs to destMailbox using MOVE if advertised, else
// COPY+STORE(\Deleted)+EXPUNGE.
func (s *Session) Move(ctx context.Context, uids []imap.UID, destMailbox string) error {
	if len(uids) == 0 {
		return nil
	}
	uidSet := imap.UIDSet{}
	for _, u := range uids {
		uidSet.AddNum(u)
	}
	if s.caps.Has(imap.CapMove) {
		if err := s.client.Move(uidSet, destMailbox).Wait(); err != nil {
			return errs.Wrap(errs.KindProtocol, "imapsession.Move", err)
		}
		return nil
	}
	if _, err := s.Copy(ctx, uids, destMailbox); err != nil {
		return err
	}
	if err := s.StoreFlags(ctx, uids, []imap.Flag{imap.FlagDeleted}, true); err != nil {
		return err
	}
	return s.expungeUIDs(ctx, uidSet)
}

// Expunge permanently removes messages marked \Deleted, using UID EXPUNGE
// when UIDPLUS is available so the operation is scoped to uids instead of
// affecting every \Deleted message in the mailbox.
func (s *Session) Expunge(ctx context.Context, uids []imap.UID) error {
	uidSet := imap.UIDSet{}
	for _, u := range uids {
		uidSet.AddNum(u)
	}
	return s.expungeUIDs(ctx, uidSet)
}

func (s *Session) expungeUIDs(ctx context.Context, uidSet imap.UIDSet) error {
	if s.caps.Has(imap.CapUIDPlus) {
		if err := s.client.UIDExpunge(uidSet).Close(); err != nil {
			return errs.Wrap(errs.KindProtocol, "imapsession.Expunge", err)
		}
		return nil
	}
	if err := s.client.Expunge().Close(); err != nil {
		return errs.Wrap(errs.KindProtocol, "imapsession.Expunge", err)
	}
	return nil
}

// Logout sends LOGOUT and closes the underlying connection. It is
// idempotent and safe to call on an already-broken connection.
func (s *Session) Logout() error {
	if s.client == nil {
		s.state = StateClosed
		return nil
	}
	_ = s.client.Logout().Wait()
	err := s.client.Close()
	s.client = nil
	s.state = StateClosed
	if err != nil {
		return errs.Wrap(errs.KindNetwork, "imapsession.Logout", err)
	}
	return nil
}

// RawClient exposes the underlying imapclient.Client for the fetch and
// idle helpers in this package, which need the full command surface.
func (s *Session) RawClient() *imapclient.Client { return s.client }
