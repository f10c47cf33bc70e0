package web

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/billed/internal/scanning"
	"github.com/zombor/billed/internal/session"
	"github.com/zombor/billed/internal/store"
	"github.com/zombor/billed/internal/views"
)

const (
	sessionCookie = "billed_session"

	// defaultSessionTTL is how long an idle browser session is kept
	defaultSessionTTL = 24 * time.Hour
)

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// SessionStore hands out the key-value storage of browser sessions
type SessionStore interface {
	Session(id string) session.Storage
	Exists(id string) bool
	Delete(id string) error
	IDs() ([]string, error)
}

// StoreProvider returns the bills API client to use for a session
type StoreProvider func(storage session.Storage) store.BillStore

// Config holds the server settings
type Config struct {
	BasicAuth BasicAuth
	// DefaultEmail identifies the employee when basic auth does not carry an email
	DefaultEmail string
	SecureCookie bool
	// SessionTTL is how long an idle session survives, 24h when zero
	SessionTTL time.Duration
}

// Server handles HTTP requests for the bills pages
type Server struct {
	sessions SessionStore
	stores   StoreProvider
	scanner  scanning.Scanner
	config   Config
	mux      *http.ServeMux

	mu        sync.Mutex
	live      map[string]*browserSession
	http      *http.Server
	stopSweep context.CancelFunc
}

// browserSession is the in-memory state of one browser: its storage and
// the draft it is editing
type browserSession struct {
	id       string
	storage  session.Storage
	identity session.Identity
	lastSeen time.Time // guarded by Server.mu

	mu   sync.Mutex
	form *views.BillFormController
	next views.Route
}

// NewServer creates a new Server with default mux
func NewServer(sessions SessionStore, stores StoreProvider, scanner scanning.Scanner, config Config) *Server {
	return NewServerWithMux(sessions, stores, scanner, config, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(sessions SessionStore, stores StoreProvider, scanner scanning.Scanner, config Config, mux *http.ServeMux) *Server {
	s := &Server{
		sessions: sessions,
		stores:   stores,
		scanner:  scanner,
		config:   config,
		mux:      mux,
		live:     make(map[string]*browserSession),
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.config.BasicAuth.Username == "" && s.config.BasicAuth.Password == "" {
		return true // No auth required if not configured
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return false
	}

	return credentials[0] == s.config.BasicAuth.Username && credentials[1] == s.config.BasicAuth.Password
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Billed"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// registerRoutes registers all routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /static/app.css", s.handleStaticCSS)

	s.mux.HandleFunc("GET /bills/new", s.requireAuth(s.handleNewBillForm))
	s.mux.HandleFunc("POST /bills/new/file", s.requireAuth(s.handleFileChange))
	s.mux.HandleFunc("POST /bills/new", s.requireAuth(s.handleSubmitBill))
	s.mux.HandleFunc("POST /bills/new-bill", s.requireAuth(s.handleNewBillClick))
	s.mux.HandleFunc("GET /bills", s.requireAuth(s.handleBills))

	s.mux.HandleFunc("GET /{$}", s.requireAuth(s.handleIndex))
}

// session returns the browser session of r, starting one when the cookie is
// missing
func (s *Server) session(w http.ResponseWriter, r *http.Request) *browserSession {
	now := time.Now()
	id := ""
	if c, err := r.Cookie(sessionCookie); err == nil {
		if _, perr := uuid.Parse(c.Value); perr == nil {
			id = c.Value
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if bs, ok := s.live[id]; ok {
		bs.lastSeen = now
		return bs
	}

	// Only ids this server handed out are reattached
	if id != "" && !s.sessions.Exists(id) {
		id = ""
	}
	if id == "" {
		id = uuid.NewString()
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    id,
			Path:     "/",
			HttpOnly: true,
			Secure:   s.config.SecureCookie,
			SameSite: http.SameSiteLaxMode,
		})
	}

	storage := s.sessions.Session(id)
	if _, ok := storage.GetItem(session.UserKey); !ok {
		user := session.User{Type: "Employee", Email: s.config.DefaultEmail}
		if name, _, ok := r.BasicAuth(); ok && strings.Contains(name, "@") {
			user.Email = name
		}
		if user.Email == "" {
			slog.Warn("Session user has no email, bills will be sent without one", "session", id)
		}
		if err := session.SetUser(storage, user); err != nil {
			slog.Error("Error storing session user", "session", id, "error", err)
		}
	}
	if err := session.MarkSeen(storage, now); err != nil {
		slog.Error("Error storing session time", "session", id, "error", err)
	}

	bs := &browserSession{
		id:       id,
		storage:  storage,
		identity: session.NewStorageIdentity(storage),
		lastSeen: now,
	}
	s.live[id] = bs
	return bs
}

func (s *Server) sessionTTL() time.Duration {
	if s.config.SessionTTL > 0 {
		return s.config.SessionTTL
	}
	return defaultSessionTTL
}

// sweep drops the sessions idle since before now minus the TTL, in memory
// and in the session store, and returns how many went
func (s *Server) sweep(now time.Time) int {
	cutoff := now.Add(-s.sessionTTL())

	s.mu.Lock()
	idle := make([]string, 0)
	for id, bs := range s.live {
		if bs.lastSeen.Before(cutoff) {
			idle = append(idle, id)
			delete(s.live, id)
		}
	}
	live := make(map[string]bool, len(s.live))
	for id := range s.live {
		live[id] = true
	}
	s.mu.Unlock()

	// Sessions left over from a previous run are only in the store
	stored, err := s.sessions.IDs()
	if err != nil {
		slog.Error("Error listing sessions", "error", err)
	}
	for _, id := range stored {
		if live[id] || slices.Contains(idle, id) {
			continue
		}
		if seen, ok := session.Seen(s.sessions.Session(id)); !ok || seen.Before(cutoff) {
			idle = append(idle, id)
		}
	}

	for _, id := range idle {
		if err := s.sessions.Delete(id); err != nil {
			slog.Error("Error deleting session", "session", id, "error", err)
		}
	}
	if len(idle) > 0 {
		slog.Info("Evicted idle sessions", "count", len(idle))
	}
	return len(idle)
}

// evictIdle sweeps idle sessions until ctx ends
func (s *Server) evictIdle(ctx context.Context) {
	interval := s.sessionTTL() / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.sweep(now)
		}
	}
}

// billStore returns the API client of a session, or nil when none is configured
func (s *Server) billStore(bs *browserSession) store.BillStore {
	if s.stores == nil {
		return nil
	}
	return s.stores(bs.storage)
}

// formController returns the draft of the session, starting one if needed
func (s *Server) formController(bs *browserSession) *views.BillFormController {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if bs.form == nil {
		bs.form = s.newFormController(bs)
	}
	return bs.form
}

// resetForm drops the draft of the session
func (s *Server) resetForm(bs *browserSession) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.form = nil
}

func (s *Server) newFormController(bs *browserSession) *views.BillFormController {
	return views.NewBillFormController(views.FormDeps{
		Store:    s.billStore(bs),
		Identity: bs.identity,
		Navigate: bs.navigate,
		Scanner:  s.scanner,
		Logger:   slog.Default().With("session", bs.id),
	})
}

func (bs *browserSession) navigate(r views.Route) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.next = r
}

// takeNavigation returns and clears the pending navigation
func (bs *browserSession) takeNavigation() (views.Route, bool) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	r := bs.next
	bs.next = ""
	return r, r != ""
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	s.mu.Lock()
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.http
	ctx, cancel := context.WithCancel(context.Background())
	s.stopSweep = cancel
	s.mu.Unlock()

	go s.evictIdle(ctx)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server, waiting for in-flight requests until ctx ends
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv, stopSweep := s.http, s.stopSweep
	s.mu.Unlock()
	if stopSweep != nil {
		stopSweep()
	}
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
