// Package session owns the client's authentication state: the current user,
// their permission set, and the background poll that keeps permissions
// fresh while a user is logged in.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"stockanalysis/internal/apiclient"
	"stockanalysis/internal/domain"
	"stockanalysis/internal/live"
)

// DefaultPollInterval is how often permission changes are checked.
const DefaultPollInterval = 5 * time.Second

// DefaultNotice is surfaced when the backend reports a permission change
// without a message of its own.
const DefaultNotice = "Your permissions have been updated"

var (
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrAlreadyAuthenticated = errors.New("already authenticated")
	ErrNotAuthenticated     = errors.New("not authenticated")
	ErrSessionExpired       = errors.New("session expired")
	// ErrSuperseded is returned by Login when a logout or another login
	// changed the session while the request was in flight.
	ErrSuperseded = errors.New("login superseded")
)

// Status is the authentication state.
type Status int

const (
	Unauthenticated Status = iota
	Authenticating
	Authenticated
)

func (s Status) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// EventKind classifies session events.
type EventKind int

const (
	StateChanged EventKind = iota
	PermissionsChanged
	PermissionNotice
)

// Event tells subscribers that the session changed. Subscribers read the
// new state through Snapshot.
type Event struct {
	Kind    EventKind
	Status  Status
	Message string
}

// API is the subset of the backend client the session needs.
type API interface {
	Login(ctx context.Context, creds apiclient.Credentials) (*apiclient.LoginResult, error)
	Logout(ctx context.Context, refreshToken string) error
	UserInfo(ctx context.Context) (*domain.User, error)
	UserPermissions(ctx context.Context) (*domain.PermissionSet, error)
	CheckPermissionChanges(ctx context.Context) (*domain.PermissionChange, error)
}

// Tokens is the credential store.
type Tokens interface {
	Get() string
	Set(tok string) bool
	Remove() bool
	ExpiresAt() (time.Time, bool)
}

// Options tunes a Manager. Zero values select defaults.
type Options struct {
	PollInterval time.Duration
	Now          func() time.Time
}

// Manager is the single owner of the session. It is safe for concurrent
// use; network calls are made without holding its lock.
type Manager struct {
	api       API
	tokens    Tokens
	log       *slog.Logger
	pollEvery time.Duration
	now       func() time.Time
	feed      *live.Feed[Event]

	mu      sync.RWMutex
	status  Status
	user    *domain.User
	perms   *domain.PermissionSet
	refresh string
	// gen changes on every transition; async results carrying an older
	// value are discarded.
	gen        uint64
	// resolved is set once a startup check, login or logout has decided
	// the state. Before that Unauthenticated only means "not checked yet".
	resolved   bool
	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New creates a Manager in the unauthenticated state. Call Init to restore
// a stored credential.
func New(api API, tokens Tokens, log *slog.Logger, opts Options) *Manager {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		api:       api,
		tokens:    tokens,
		log:       log.With("component", "session"),
		pollEvery: opts.PollInterval,
		now:       opts.Now,
		feed:      live.NewFeed[Event](),
	}
}

// ---------------------------------------------------------------------------
// Transitions
// ---------------------------------------------------------------------------

// Init runs the startup check. With a stored credential it fetches the user
// and permission set concurrently; any failure discards the credential and
// leaves the session unauthenticated. The returned error describes that
// failure. Without a credential Init returns nil.
func (m *Manager) Init(ctx context.Context) error {
	m.mu.Lock()
	if m.status != Unauthenticated {
		m.mu.Unlock()
		return nil
	}
	if m.tokens.Get() == "" {
		first := !m.resolved
		m.resolved = true
		m.mu.Unlock()
		if first {
			m.publish(Event{Kind: StateChanged, Status: Unauthenticated})
		}
		return nil
	}
	m.gen++
	gen := m.gen
	m.status = Authenticating
	m.mu.Unlock()
	m.publish(Event{Kind: StateChanged, Status: Authenticating})

	if exp, ok := m.tokens.ExpiresAt(); ok && !m.now().Before(exp) {
		m.failStartup(gen)
		return fmt.Errorf("startup check: %w", ErrSessionExpired)
	}

	var (
		user  *domain.User
		perms *domain.PermissionSet
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		u, err := m.api.UserInfo(gctx)
		if err != nil {
			return fmt.Errorf("fetching user info: %w", err)
		}
		user = u
		return nil
	})
	g.Go(func() error {
		p, err := m.api.UserPermissions(gctx)
		if err != nil {
			return fmt.Errorf("fetching permissions: %w", err)
		}
		perms = p
		return nil
	})
	if err := g.Wait(); err != nil {
		m.log.Warn("startup check failed, discarding credential", "error", err)
		m.failStartup(gen)
		return fmt.Errorf("startup check: %w", err)
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return nil
	}
	m.gen++
	m.status = Authenticated
	m.resolved = true
	m.user = user
	m.perms = perms
	m.startPollLocked()
	m.mu.Unlock()

	m.log.Info("session restored", "user", user.Username)
	m.publish(Event{Kind: StateChanged, Status: Authenticated})
	return nil
}

func (m *Manager) failStartup(gen uint64) {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	m.tokens.Remove()
	m.gen++
	m.status = Unauthenticated
	m.resolved = true
	m.mu.Unlock()
	m.publish(Event{Kind: StateChanged, Status: Unauthenticated})
}

// Login exchanges credentials for a token and authenticates the session.
// The permission set is fetched afterwards on a best-effort basis: if that
// fetch fails the session stays authenticated with no permissions.
func (m *Manager) Login(ctx context.Context, username, password string) (*domain.User, error) {
	username = strings.TrimSpace(username)
	if len(username) < 3 {
		return nil, fmt.Errorf("%w: username must be at least 3 characters", ErrInvalidCredentials)
	}
	if password == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidCredentials)
	}

	m.mu.Lock()
	if m.status == Authenticated {
		m.mu.Unlock()
		return nil, ErrAlreadyAuthenticated
	}
	m.gen++
	gen := m.gen
	m.status = Authenticating
	m.mu.Unlock()
	m.publish(Event{Kind: StateChanged, Status: Authenticating})

	res, err := m.api.Login(ctx, apiclient.Credentials{Username: username, Password: password})
	if err != nil {
		m.mu.Lock()
		reset := m.gen == gen
		if reset {
			m.gen++
			m.status = Unauthenticated
			m.resolved = true
		}
		m.mu.Unlock()
		if reset {
			m.publish(Event{Kind: StateChanged, Status: Unauthenticated})
		}
		return nil, fmt.Errorf("login: %w", err)
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return nil, ErrSuperseded
	}
	m.tokens.Set(res.Token)
	m.gen++
	gen = m.gen
	user := res.User
	m.status = Authenticated
	m.resolved = true
	m.user = &user
	m.perms = nil
	m.refresh = res.Refresh
	m.startPollLocked()
	m.mu.Unlock()

	m.log.Info("logged in", "user", user.Username)
	m.publish(Event{Kind: StateChanged, Status: Authenticated})

	perms, err := m.api.UserPermissions(ctx)
	if err != nil {
		m.log.Warn("fetching permissions after login failed", "error", err)
	} else {
		m.applyPermissions(gen, perms)
	}
	return &user, nil
}

// Logout ends the session. The poller is stopped before Logout returns. A
// server-side logout is attempted first; its failure is only logged.
func (m *Manager) Logout(ctx context.Context) {
	m.mu.Lock()
	wasAuthenticated := m.status != Unauthenticated
	refresh := m.refresh
	m.gen++
	m.status = Unauthenticated
	m.resolved = true
	m.user = nil
	m.perms = nil
	m.refresh = ""
	cancel, done := m.pollCancel, m.pollDone
	m.pollCancel, m.pollDone = nil, nil
	m.mu.Unlock()

	stopPoll(cancel, done)

	if m.tokens.Get() != "" {
		if err := m.api.Logout(ctx, refresh); err != nil {
			m.log.Warn("server logout failed", "error", err)
		}
	}
	m.tokens.Remove()

	if wasAuthenticated {
		m.log.Info("logged out")
	}
	m.publish(Event{Kind: StateChanged, Status: Unauthenticated})
}

// RefreshPermissions re-fetches the permission set. It reports whether a
// new set was applied; on failure the previous set is kept.
func (m *Manager) RefreshPermissions(ctx context.Context) bool {
	m.mu.RLock()
	gen, status := m.gen, m.status
	m.mu.RUnlock()
	if status != Authenticated {
		return false
	}

	perms, err := m.api.UserPermissions(ctx)
	if err != nil {
		m.log.Warn("refreshing permissions failed", "error", err)
		return false
	}
	return m.applyPermissions(gen, perms)
}

func (m *Manager) applyPermissions(gen uint64, perms *domain.PermissionSet) bool {
	m.mu.Lock()
	if m.gen != gen || m.status != Authenticated {
		m.mu.Unlock()
		return false
	}
	m.perms = perms
	m.mu.Unlock()
	m.publish(Event{Kind: PermissionsChanged, Status: Authenticated})
	return true
}

// Close stops the poller and closes every subscription. The session state
// and stored credential are left as they are.
func (m *Manager) Close() {
	m.mu.Lock()
	m.gen++
	cancel, done := m.pollCancel, m.pollDone
	m.pollCancel, m.pollDone = nil, nil
	m.mu.Unlock()

	stopPoll(cancel, done)
	m.feed.Close()
}

// ---------------------------------------------------------------------------
// Permission polling
// ---------------------------------------------------------------------------

// startPollLocked starts the poller for the current generation. m.mu must
// be held.
func (m *Manager) startPollLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.pollCancel, m.pollDone = cancel, done
	go m.poll(ctx, m.gen, done)
}

func stopPoll(cancel context.CancelFunc, done chan struct{}) {
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Manager) poll(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.pollEvery)
	defer ticker.Stop()

	for {
		m.checkPermissionChanges(ctx, gen)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Manager) checkPermissionChanges(ctx context.Context, gen uint64) {
	change, err := m.api.CheckPermissionChanges(ctx)
	if err != nil {
		if ctx.Err() == nil {
			m.log.Warn("checking permission changes failed", "error", err)
		}
		return
	}
	if !change.HasChanges {
		return
	}

	msg := DefaultNotice
	if change.Notification != nil && change.Notification.Message != "" {
		msg = change.Notification.Message
	}

	perms, err := m.api.UserPermissions(ctx)
	if err != nil {
		if ctx.Err() == nil {
			m.log.Warn("reloading changed permissions failed", "error", err)
		}
	} else if !m.applyPermissions(gen, perms) {
		return
	}

	if m.current(gen) {
		m.log.Info("permissions changed", "message", msg)
		m.publish(Event{Kind: PermissionNotice, Status: Authenticated, Message: msg})
	}
}

func (m *Manager) current(gen uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gen == gen && m.status == Authenticated
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

// Status returns the current authentication state.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Resolved reports whether the authentication state is known: a startup
// check has finished or a login or logout has happened.
func (m *Manager) Resolved() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.resolved
}

// Authenticated reports whether a user is logged in.
func (m *Manager) Authenticated() bool { return m.Status() == Authenticated }

// Require returns ErrNotAuthenticated unless a user is logged in.
func (m *Manager) Require() error {
	if !m.Authenticated() {
		return ErrNotAuthenticated
	}
	return nil
}

// Snapshot returns a copy of the session.
func (m *Manager) Snapshot() domain.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status != Authenticated {
		return domain.Session{}
	}
	s := domain.Session{Authenticated: true, Permissions: m.perms.Clone()}
	if m.user != nil {
		u := *m.user
		s.User = &u
	}
	return s
}

// Subscribe returns a channel of session events and a function that ends
// the subscription. Events are dropped for subscribers that fall behind.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	id, ch := m.feed.Subscribe(16)
	return ch, func() { m.feed.Unsubscribe(id) }
}

func (m *Manager) publish(evt Event) {
	m.feed.Publish(evt)
}
