package platform

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	// Registers the postgres driver for the admin, user, and tenant pools.
	_ "github.com/lib/pq"

	"github.com/datachat-io/datachat/pkg/auth"
	"github.com/datachat-io/datachat/pkg/database/migrate"
	"github.com/datachat-io/datachat/pkg/health"
	"github.com/datachat-io/datachat/pkg/reclaim"
	"github.com/datachat-io/datachat/pkg/session"
	sessionredis "github.com/datachat-io/datachat/pkg/session/redis"
	"github.com/datachat-io/datachat/pkg/tempdb"
)

// drainTimeout bounds the shutdown drain so a wedged database cannot hold
// the process open indefinitely.
const drainTimeout = 30 * time.Second

// Platform is the dependency container constructed once at startup. It owns
// every shared handle: the session store, the database pools, the reclaim
// runner, and the expiration listener's supervision.
type Platform struct {
	cfg    *Config
	logger *slog.Logger

	store    session.Store
	sessions *session.Manager
	runner   *reclaim.Runner
	indexes  *reclaim.IndexReclaimer
	listener *session.Listener
	users    *auth.Store
	tempDBs  *tempdb.Provisioner
	checker  *health.Checker

	adminDB *sql.DB
	userDB  *sql.DB

	lifecycle *Lifecycle

	listenerCancel context.CancelFunc
	listenerErr    chan error
}

// New builds the platform from configuration: opens the store and database
// pools, runs user database migrations, and wires the reclaimers, manager,
// and listener. Nothing is started; call Start.
func New(ctx context.Context, cfg *Config, logger *slog.Logger) (*Platform, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Platform{
		cfg:         cfg,
		logger:      logger,
		checker:     health.NewChecker(),
		lifecycle:   NewLifecycle(),
		listenerErr: make(chan error, 1),
	}

	if err := p.openStore(ctx); err != nil {
		return nil, err
	}
	if err := p.openDatabases(); err != nil {
		_ = p.store.Close()
		return nil, err
	}

	p.sessions = session.NewManager(p.store, cfg.Session.TTL)
	p.indexes = reclaim.NewIndexReclaimer(cfg.VectorStore.Root)
	p.runner = reclaim.NewRunner(logger,
		reclaim.NewDatabaseReclaimer(p.adminDB),
		p.indexes,
	)
	p.listener = session.NewListener(p.store, p.runner, logger)
	p.users = auth.NewStore(p.userDB, cfg.Auth.BcryptCost)
	p.tempDBs = tempdb.NewProvisioner(p.adminDB, tempdb.Config{
		Prefix:    cfg.Database.TempDBPrefix,
		DSNBase:   cfg.Database.TenantDSNBase,
		DSNParams: cfg.Database.TenantDSNParams,
	})

	p.registerLifecycle()
	return p, nil
}

// openStore opens the configured session store backend.
func (p *Platform) openStore(ctx context.Context) error {
	switch p.cfg.Session.Store {
	case StoreMemory:
		store := session.NewMemoryStore()
		store.StartJanitor(p.cfg.Session.JanitorInterval)
		p.store = store
		return nil
	case StoreRedis:
		store, err := sessionredis.New(ctx, sessionredis.Config{
			Addr:     p.cfg.Redis.Addr,
			Password: p.cfg.Redis.Password,
			DB:       p.cfg.Redis.DB,
		}, p.logger)
		if err != nil {
			return fmt.Errorf("opening redis session store: %w", err)
		}
		store.EnableNotifications(ctx)
		p.store = store
		return nil
	default:
		return fmt.Errorf("unknown session store %q", p.cfg.Session.Store)
	}
}

// openDatabases opens the administrative and user database pools and runs
// user database migrations.
func (p *Platform) openDatabases() error {
	adminDB, err := sql.Open("postgres", p.cfg.Database.AdminDSN)
	if err != nil {
		return fmt.Errorf("opening admin database: %w", err)
	}
	adminDB.SetMaxOpenConns(p.cfg.Database.MaxOpenConns)

	userDB, err := sql.Open("postgres", p.cfg.Database.UserDSN)
	if err != nil {
		_ = adminDB.Close()
		return fmt.Errorf("opening user database: %w", err)
	}
	userDB.SetMaxOpenConns(p.cfg.Database.MaxOpenConns)

	if err := migrate.Run(userDB); err != nil {
		_ = adminDB.Close()
		_ = userDB.Close()
		return fmt.Errorf("migrating user database: %w", err)
	}

	p.adminDB = adminDB
	p.userDB = userDB
	return nil
}

// registerLifecycle wires startup and shutdown order. Stop callbacks run in
// reverse registration order, so the closers are registered first and the
// listener last: shutdown cancels the listener, drains remaining sessions
// while the store and pools are still live, and only then closes them.
func (p *Platform) registerLifecycle() {
	p.lifecycle.RegisterCloser(p.userDB)
	p.lifecycle.RegisterCloser(p.adminDB)
	p.lifecycle.RegisterCloser(p.store)
	p.lifecycle.OnStop(p.drain)
	p.lifecycle.Register(p.startListener, p.stopListener)
}

// Start brings the platform up and marks it ready.
func (p *Platform) Start(ctx context.Context) error {
	if err := p.lifecycle.Start(ctx); err != nil {
		return err
	}
	p.checker.SetReady()
	return nil
}

// Stop marks the platform draining, drains remaining sessions through the
// reclaim path, and releases every resource.
func (p *Platform) Stop(ctx context.Context) error {
	p.checker.SetDraining()
	return p.lifecycle.Stop(ctx)
}

// startListener launches the expiration listener under its own cancellable
// context. A fatal listener error (permanently failed resubscription) is
// surfaced on ListenerErr rather than swallowed.
func (p *Platform) startListener(context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.listenerCancel = cancel

	go func() {
		if err := p.listener.Run(ctx); err != nil {
			p.listenerErr <- err
		}
		close(p.listenerErr)
	}()
	return nil
}

// stopListener cancels the listener. In-flight reclaims run under a detached
// context and complete on their own.
func (p *Platform) stopListener(context.Context) error {
	if p.listenerCancel != nil {
		p.listenerCancel()
	}
	return nil
}

// drain walks every remaining session through reclaim-then-delete.
func (p *Platform) drain(ctx context.Context) error {
	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
	defer cancel()
	return session.Drain(drainCtx, p.sessions, p.runner, p.logger)
}

// ListenerErr reports a fatal expiration listener failure. A receive from
// this channel means no session will ever be reclaimed again; the supervisor
// must treat it as a process-fatal condition.
func (p *Platform) ListenerErr() <-chan error {
	return p.listenerErr
}

// Config returns the loaded configuration.
func (p *Platform) Config() *Config { return p.cfg }

// Sessions returns the session manager.
func (p *Platform) Sessions() *session.Manager { return p.sessions }

// Reclaimers returns the reclaim runner shared by the listener, the
// explicit-end flow, and the shutdown drain.
func (p *Platform) Reclaimers() *reclaim.Runner { return p.runner }

// IndexReclaimer returns the vector index reclaimer, used alone by the
// clear-session flow.
func (p *Platform) IndexReclaimer() *reclaim.IndexReclaimer { return p.indexes }

// Users returns the user account store.
func (p *Platform) Users() *auth.Store { return p.users }

// TempDBs returns the temporary database provisioner.
func (p *Platform) TempDBs() *tempdb.Provisioner { return p.tempDBs }

// Health returns the readiness checker.
func (p *Platform) Health() *health.Checker { return p.checker }
