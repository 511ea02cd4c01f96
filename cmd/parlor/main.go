// Command parlor drives the Email Synchronization Engine from the shell.
// It implements exactly the CLI surface spec.md §6.4 names: a one-shot
// "sync this account now" invocation, plus the flags that pair with it.
// Everything else (the terminal UI, composing, PGP/S-MIME, CardDAV) is
// out of scope for this core and has no flag here.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/parlorsh/parlor/internal/account"
	"github.com/parlorsh/parlor/internal/credstore"
	"github.com/parlorsh/parlor/internal/database"
	"github.com/parlorsh/parlor/internal/errs"
	"github.com/parlorsh/parlor/internal/folder"
	"github.com/parlorsh/parlor/internal/imappool"
	"github.com/parlorsh/parlor/internal/logging"
	"github.com/parlorsh/parlor/internal/message"
	"github.com/parlorsh/parlor/internal/notify"
	"github.com/parlorsh/parlor/internal/oauth2"
	"github.com/parlorsh/parlor/internal/progress"
	"github.com/parlorsh/parlor/internal/syncengine"
	"github.com/parlorsh/parlor/internal/syncfolder"
	"github.com/parlorsh/parlor/internal/taskrunner"

	"github.com/parlorsh/parlor/internal/conflict"
)

// Exit codes per spec.md §6.4.
const (
	exitSuccess       = 0
	exitOperational   = 1
	exitConfiguration = 2
	exitAuth          = 3
	exitCancelled     = 130
)

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	app := &cli.App{
		Name:  "parlor",
		Usage: "terminal mail client sync core",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "data-dir", Value: defaultDataDir(), Usage: "per-user data directory"},
			&cli.BoolFlag{Name: "debug", Usage: "enable debug logging"},
			&cli.StringFlag{Name: "sync-now", Usage: "account id to run a one-shot sync for, then exit"},
			&cli.StringFlag{Name: "strategy", Value: "incremental", Usage: "full|incremental|headers|recent:N"},
		},
	}

	exitCode := exitSuccess
	app.Action = func(c *cli.Context) error {
		exitCode = runSyncNow(c)
		return nil
	}

	if err := app.Run(args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfiguration
	}
	return exitCode
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".parlor"
	}
	return filepath.Join(home, ".local", "share", "parlor")
}

func parseStrategy(s string) (syncfolder.Strategy, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case s == "full":
		return syncfolder.Full(), nil
	case s == "incremental" || s == "":
		return syncfolder.Incremental(), nil
	case s == "headers":
		return syncfolder.HeadersOnly(), nil
	case strings.HasPrefix(s, "recent:"):
		days, err := strconv.Atoi(strings.TrimPrefix(s, "recent:"))
		if err != nil {
			return syncfolder.Strategy{}, fmt.Errorf("invalid recent:N strategy %q: %w", s, err)
		}
		return syncfolder.Recent(days), nil
	default:
		return syncfolder.Strategy{}, fmt.Errorf("unknown strategy %q", s)
	}
}

func runSyncNow(c *cli.Context) int {
	accountID := c.String("sync-now")
	if accountID == "" {
		fmt.Fprintln(os.Stderr, "parlor: nothing to do; pass --sync-now <account>")
		return exitConfiguration
	}

	strategy, err := parseStrategy(c.String("strategy"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "parlor:", err)
		return exitConfiguration
	}

	logging.Init(logLevel(c.Bool("debug")), true)
	log := logging.WithComponent("cmd-parlor")

	dataDir := c.String("data-dir")
	deps, err := wire(dataDir)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize")
		return exitConfiguration
	}
	defer deps.Close()

	acc, ok := deps.accounts.Get(accountID)
	if !ok {
		fmt.Fprintf(os.Stderr, "parlor: unknown account %q\n", accountID)
		return exitConfiguration
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	op, err := deps.engine.SyncAccount(ctx, acc.ID, strategy, taskrunner.PriorityForeground)
	if err != nil {
		log.Error().Err(err).Msg("failed to schedule sync")
		return exitOperational
	}

	err = op.Wait()
	switch {
	case err == nil:
		return exitSuccess
	case errs.Is(err, errs.KindCancelled) || ctx.Err() != nil:
		return exitCancelled
	case errs.Is(err, errs.KindAuth):
		return exitAuth
	default:
		log.Error().Err(err).Msg("sync failed")
		return exitOperational
	}
}

func logLevel(debug bool) string {
	if debug {
		return "debug"
	}
	return "info"
}

// deps holds every wired component so main can defer a clean shutdown.
type deps struct {
	db        *database.DB
	accounts  *account.Store
	engine    *syncengine.Engine
	scheduler *syncengine.Scheduler
}

func (d *deps) Close() {
	if d.scheduler != nil {
		d.scheduler.Stop()
	}
	if d.db != nil {
		d.db.Close()
	}
}

// wire constructs the full dependency graph: the Message/Folder/Account
// stores (C3), the credential and token layers (C2's persistence
// boundary), the IMAP session pool (C1), the Folder Synchronizer (C4),
// the Progress Bus (C6), the Notification Dispatcher (C7), the Background
// Task Runner (C8), and finally the Sync Engine (C5) that ties them
// together, plus the Scheduler that drives C5's periodic (as opposed to
// IDLE-triggered) sync half. This is the one place in the repository
// where every component meets; everything above only knows the
// interfaces it needs.
func wire(dataDir string) (*deps, error) {
	if err := os.MkdirAll(filepath.Join(dataDir, "state"), 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	accountsPath := filepath.Join(dataDir, "state", "accounts.toml")
	accounts, err := account.NewStore(accountsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}

	db, err := database.Open(filepath.Join(dataDir, "messages.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open message store: %w", err)
	}
	db.UpdateIdleConns(accounts.Count())

	folders := folder.NewStore(db)
	messages := message.NewStore(db)
	conflicts := conflict.NewQueue()

	creds, err := credstore.NewStore(dataDir)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}

	tokenProviders := make(map[string]oauth2.Provider)
	tokenProviderFor := func(accountID string) oauth2.Provider {
		if p, ok := tokenProviders[accountID]; ok {
			return p
		}
		p := oauth2.NewCachingProvider(credentialTokenSource{creds: creds})
		tokenProviders[accountID] = p
		return p
	}

	pool := imappool.New(imappool.DefaultConfig(), tokenProviderFor, creds)

	bus := progress.NewBus()
	synchronizer := syncfolder.New(folders, messages, pool, bus, conflicts, syncfolder.DefaultConfig())

	runner := taskrunner.NewDefault()
	engine := syncengine.New(accounts, synchronizer, bus, runner, pool)

	scheduler := syncengine.NewScheduler(engine)
	scheduler.Start()

	dispatcher := notify.New(messages, accounts, bus, func(accountID, folderID string) string {
		list, err := folders.List(accountID)
		if err != nil {
			return ""
		}
		for _, f := range list {
			if f.ID == folderID {
				return f.FullName
			}
		}
		return ""
	})
	dispatcher.AddSink(notify.NewDesktopSink("Parlor"))
	go dispatcher.Run(context.Background())

	return &deps{db: db, accounts: accounts, engine: engine, scheduler: scheduler}, nil
}

// credentialTokenSource adapts credstore's refresh-token persistence to
// oauth2.Source. It deliberately does not perform the authorization-code
// or refresh-token HTTP exchange itself — that flow is out of scope for
// this engine core (spec.md's Non-goals: "the engine consumes
// already-issued tokens") — so FetchToken always reports KindAuth: with
// the credstore error when no refresh token is stored, and otherwise
// because nothing here exchanges the stored token for an access token.
type credentialTokenSource struct {
	creds *credstore.Store
}

func (c credentialTokenSource) FetchToken(ctx context.Context, accountID string) (oauth2.Token, error) {
	_, err := c.creds.GetRefreshToken(accountID)
	if err != nil {
		return oauth2.Token{}, errs.Wrap(errs.KindAuth, "credentialTokenSource.FetchToken", err)
	}
	return oauth2.Token{}, errs.New(errs.KindAuth, "credentialTokenSource.FetchToken",
		"no external token issuer configured; run the OAuth2 authorization flow out-of-band and store the access token via credstore")
}
