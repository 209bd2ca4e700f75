// Package server provides the HTTP boundary of the chat backend: account
// routes, session routes, and health probes. Handlers stay thin; all session
// lifecycle behavior lives in pkg/session and pkg/reclaim.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/datachat-io/datachat/pkg/auth"
	"github.com/datachat-io/datachat/pkg/health"
	"github.com/datachat-io/datachat/pkg/reclaim"
	"github.com/datachat-io/datachat/pkg/session"
)

// Version is set at build time.
var Version = "dev"

// UserStore is the account surface the handlers need.
type UserStore interface {
	Register(ctx context.Context, email, password string) (*auth.User, error)
	Authenticate(ctx context.Context, email, password string) (*auth.User, error)
}

// Provisioner is the temporary database surface the handlers need.
type Provisioner interface {
	Ensure(ctx context.Context, sessionID string) (string, bool, error)
	Tables(ctx context.Context, dbName string) ([]string, error)
	ClearTables(ctx context.Context, dbName string) error
}

// Config wires the server's collaborators.
type Config struct {
	Logger     *slog.Logger
	Sessions   *session.Manager
	Reclaimers session.ReclaimRunner
	Users      UserStore
	TempDBs    Provisioner

	// Indexes deletes a session's vector index on the clear-session flow,
	// which releases resources while the session stays alive.
	Indexes reclaim.Reclaimer

	Health         *health.Checker
	CookieName     string
	AllowedOrigins []string
}

// Server is the HTTP server for the chat backend.
type Server struct {
	logger     *slog.Logger
	sessions   *session.Manager
	reclaimers session.ReclaimRunner
	users      UserStore
	tempDBs    Provisioner
	indexes    reclaim.Reclaimer
	health     *health.Checker
	cookieName string

	handler http.Handler
}

// New creates the server and its route table.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		logger:     logger,
		sessions:   cfg.Sessions,
		reclaimers: cfg.Reclaimers,
		users:      cfg.Users,
		tempDBs:    cfg.TempDBs,
		indexes:    cfg.Indexes,
		cookieName: cfg.CookieName,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/signup", s.handleSignup)
	mux.HandleFunc("POST /auth/login", s.handleLogin)

	mux.Handle("GET /session/check", s.requireSession(s.handleCheck))
	mux.Handle("GET /session/progress", s.requireSession(s.handleProgress))
	mux.Handle("PUT /session/database", s.requireSession(s.handleCreateDatabase))
	mux.Handle("DELETE /session/resources", s.requireSession(s.handleClear))
	mux.Handle("DELETE /session", s.requireSession(s.handleEnd))

	if cfg.Health != nil {
		s.health = cfg.Health
		mux.HandleFunc("GET /healthz", s.handleLiveness)
		mux.HandleFunc("GET /readyz", s.handleReadiness)
	}

	s.handler = Chain(mux,
		RequestLogger(logger),
		CORS(cfg.AllowedOrigins),
	)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
