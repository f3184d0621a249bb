package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/englishbuds/internal/profile/entity"
)

const defaultFetchTimeout = 10 * time.Second

type Option func(*Resolver)

// WithFetchTimeout bounds the initial session check and every profile fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.fetchTimeout = d
		}
	}
}

// Resolver maps the auth backend's session onto a typed profile and keeps a
// consistent {user, profile, loading} view of it.
//
// Every observed event bumps seq; an identity change (other user or no
// session) also bumps gen. Profile fetches run one at a time on the worker
// goroutine and carry the gen they were started for; a result whose gen is
// no longer current is dropped, and a gen change cancels the fetch.
type Resolver struct {
	auth         AuthBackend
	profiles     ProfileStore
	logger       *zap.SugaredLogger
	fetchTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}
	done   chan struct{}

	mu       sync.Mutex
	state    State
	session  *Session
	seq      uint64
	gen      uint64
	pending  bool
	fetching bool
	applied  bool // a fetch succeeded in the current gen
	inflight context.CancelFunc
	changed  chan struct{}
	watchers map[chan State]struct{}
	sub      Subscription
	closed   bool

	startOnce sync.Once
	closeOnce sync.Once
	workerWG  sync.WaitGroup
}

func NewResolver(auth AuthBackend, profiles ProfileStore, logger *zap.SugaredLogger, opts ...Option) *Resolver {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Resolver{
		auth:         auth,
		profiles:     profiles,
		logger:       logger,
		fetchTimeout: defaultFetchTimeout,
		ctx:          ctx,
		cancel:       cancel,
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
		state:        State{Status: StatusUninitialized, Loading: true},
		changed:      make(chan struct{}),
		watchers:     make(map[chan State]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start subscribes to backend changes and, concurrently, checks for a
// persisted session. ctx bounds only the initial check.
func (r *Resolver) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		r.mu.Lock()
		startSeq := r.seq
		r.mu.Unlock()

		sub := r.auth.OnAuthStateChange(func(ev Event, s *Session) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.observeLocked(ev, s)
		})
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			sub.Unsubscribe()
			return
		}
		r.sub = sub
		// Add under mu: Close sets closed under mu before it waits
		r.workerWG.Add(1)
		r.mu.Unlock()

		go r.worker()
		go r.initialCheck(ctx, startSeq)
	})
}

func (r *Resolver) initialCheck(ctx context.Context, startSeq uint64) {
	ctx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
	defer cancel()
	s, err := r.auth.GetSession(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if r.seq != startSeq {
		// a pushed event already described a newer session
		r.logger.Debugw("discard initial session", "seq", r.seq)
		return
	}
	if err != nil {
		r.logger.Warnw("initial session check failed", "err", err)
		s = nil
	}
	r.observeLocked(EventInitialSession, s)
}

// observeLocked is the single entry point for session changes.
func (r *Resolver) observeLocked(ev Event, s *Session) {
	if r.closed {
		return
	}
	r.seq++
	if s != nil && s.User.ID == "" {
		r.logger.Warnw("ignore session without user id", "event", ev)
		s = nil
	}

	prevID := ""
	if r.session != nil {
		prevID = r.session.User.ID
	}
	if s == nil || s.User.ID != prevID {
		r.gen++
		r.applied = false
		if r.inflight != nil {
			r.inflight()
		}
	}

	r.logger.Debugw("auth state change", "event", ev, "seq", r.seq, "gen", r.gen)
	if s == nil {
		r.session = nil
		r.pending = false
		r.state.Status = StatusAnonymous
		r.state.User = nil
		r.state.Profile = nil
		r.state.Loading = false
		r.publishLocked()
		return
	}

	cp := *s
	r.session = &cp
	u := s.User
	r.state.User = &u
	if !r.applied {
		r.state.Profile = nil
		r.state.Status = StatusResolving
	}
	// a new token for the same user does not change the profile; fetching
	// here would loop, since each fetch may itself refresh the token
	if ev == EventTokenRefreshed && s.User.ID == prevID && (r.applied || r.pending || r.fetching) {
		r.publishLocked()
		return
	}
	r.requestLocked()
	r.publishLocked()
}

// requestLocked asks the worker for a fetch of the current session's profile.
func (r *Resolver) requestLocked() {
	if r.session == nil || r.closed {
		return
	}
	r.pending = true
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Resolver) worker() {
	defer r.workerWG.Done()
	for {
		select {
		case <-r.wake:
		case <-r.done:
			return
		}
		for r.fetchNext() {
		}
	}
}

// fetchNext runs one pending fetch and reports whether it did.
func (r *Resolver) fetchNext() bool {
	r.mu.Lock()
	if !r.pending || r.closed || r.session == nil {
		r.mu.Unlock()
		return false
	}
	r.pending = false
	gen := r.gen
	userID := r.session.User.ID
	ctx, cancel := context.WithTimeout(r.ctx, r.fetchTimeout)
	r.inflight = cancel
	r.fetching = true
	r.mu.Unlock()

	p, err := r.profiles.Get(ctx, userID)
	cancel()
	if err == nil && (p == nil || p.ID != userID) {
		err = fmt.Errorf("%w: profile for %q came back as %v", ErrProfileMalformed, userID, profileID(p))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.inflight = nil
	r.fetching = false
	r.applyLocked(gen, userID, p, err)
	return true
}

func (r *Resolver) applyLocked(gen uint64, userID string, p *entity.Profile, err error) {
	if r.closed {
		return
	}
	if gen != r.gen {
		r.logger.Debugw("discard stale profile fetch", "user_id", userID, "gen", gen, "current_gen", r.gen)
		r.publishLocked()
		return
	}
	if err != nil {
		perr := &ProfileError{Op: "get", UserID: userID, Err: err}
		if errors.Is(err, ErrProfileNotFound) {
			r.logger.Infow("session has no profile", "user_id", userID)
		} else {
			r.logger.Warnw("profile fetch failed", "user_id", userID, "err", perr)
		}
		// keep the last good profile of this user
		if !r.applied {
			r.state.Profile = nil
			r.state.Status = StatusAnonymous
		}
	} else {
		r.applied = true
		r.state.Profile = p.Clone()
		r.state.Status = StatusAuthenticated
	}
	if !r.pending {
		r.state.Loading = false
	}
	r.publishLocked()
}

func profileID(p *entity.Profile) string {
	if p == nil {
		return "nil"
	}
	return p.ID
}

// publishLocked wakes waiters and pushes the latest state to watchers,
// replacing any value a slow watcher has not read yet.
func (r *Resolver) publishLocked() {
	close(r.changed)
	r.changed = make(chan struct{})
	for ch := range r.watchers {
		st := r.state.clone()
		select {
		case ch <- st:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st:
		default:
		}
	}
}

// CurrentState returns a snapshot of the current state.
func (r *Resolver) CurrentState() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.clone()
}

// Watch streams states until ctx is done or the resolver closes. The
// channel holds at most one value: readers always see the latest state.
func (r *Resolver) Watch(ctx context.Context) <-chan State {
	ch := make(chan State, 1)
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		close(ch)
		return ch
	}
	ch <- r.state.clone()
	r.watchers[ch] = struct{}{}
	r.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-r.done:
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.watchers[ch]; ok {
			delete(r.watchers, ch)
			close(ch)
		}
	}()
	return ch
}

// WaitSettled blocks until the first resolution has finished.
func (r *Resolver) WaitSettled(ctx context.Context) error {
	return r.waitFor(ctx, func() bool { return !r.state.Loading })
}

// WaitIdle blocks until no profile fetch is pending or running.
func (r *Resolver) WaitIdle(ctx context.Context) error {
	return r.waitFor(ctx, func() bool { return !r.state.Loading && !r.pending && !r.fetching })
}

func (r *Resolver) waitFor(ctx context.Context, cond func() bool) error {
	for {
		r.mu.Lock()
		if cond() {
			r.mu.Unlock()
			return nil
		}
		if r.closed {
			r.mu.Unlock()
			return ErrClosed
		}
		ch := r.changed
		r.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// SignIn checks credentials. State follows from the SIGNED_IN event the
// backend emits, not from the return value.
func (r *Resolver) SignIn(ctx context.Context, email, password string) (*Session, error) {
	s, err := r.auth.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, asAuthError("sign in", err)
	}
	r.logger.Infow("signed in", "user_id", s.User.ID)
	return s, nil
}

// SignUp creates the account and then its profile. A failed profile insert
// is logged and does not undo the account.
func (r *Resolver) SignUp(ctx context.Context, email, password string, role entity.Role, displayName string) (*Session, error) {
	if _, err := entity.ParseRole(string(role)); err != nil {
		return nil, &AuthError{Op: "sign up", Code: CodeInvalidInput, Err: err}
	}
	s, err := r.auth.SignUp(ctx, email, password, Metadata{Role: string(role), DisplayName: displayName})
	if err != nil {
		return nil, asAuthError("sign up", err)
	}
	if s == nil || s.User.ID == "" {
		return nil, &AuthError{Op: "sign up", Code: CodeUnknown, Err: errors.New("backend returned no user")}
	}

	np := entity.NewProfile{ID: s.User.ID, Email: email, Role: role}
	if displayName != "" {
		np.DisplayName = &displayName
	}
	if err := r.profiles.Insert(ctx, np); err != nil {
		r.logger.Warnw("profile creation failed, account kept", "user_id", s.User.ID, "err", &ProfileError{Op: "insert", UserID: s.User.ID, Err: err})
		return s, nil
	}
	r.logger.Infow("signed up", "user_id", s.User.ID, "role", role)

	r.mu.Lock()
	if r.session != nil && r.session.User.ID == s.User.ID {
		r.requestLocked()
	}
	r.mu.Unlock()
	return s, nil
}

// SignOut signs out at the backend and clears local state right away.
func (r *Resolver) SignOut(ctx context.Context) error {
	if err := r.auth.SignOut(ctx); err != nil {
		return asAuthError("sign out", err)
	}
	r.mu.Lock()
	r.observeLocked(EventSignedOut, nil)
	r.mu.Unlock()
	return nil
}

// UpdateProfile writes patch to the signed-in user's profile and re-reads it.
func (r *Resolver) UpdateProfile(ctx context.Context, patch entity.Patch) error {
	r.mu.Lock()
	var userID string
	if r.session != nil {
		userID = r.session.User.ID
	}
	r.mu.Unlock()
	if userID == "" {
		return &ProfileError{Op: "update", Err: ErrNotSignedIn}
	}
	if err := patch.Validate(); err != nil {
		return &ProfileError{Op: "update", UserID: userID, Err: err}
	}
	if err := r.profiles.Update(ctx, userID, patch); err != nil {
		return &ProfileError{Op: "update", UserID: userID, Err: err}
	}

	r.mu.Lock()
	if r.session != nil && r.session.User.ID == userID {
		r.requestLocked()
	}
	r.mu.Unlock()
	return nil
}

// Refresh confirms the credential with the backend and re-reads the
// profile. An expired credential signs the resolver out.
func (r *Resolver) Refresh(ctx context.Context) error {
	r.mu.Lock()
	active := r.session != nil
	r.mu.Unlock()
	if !active {
		return nil
	}

	u, err := r.auth.GetUser(ctx)
	if err == nil && u == nil {
		err = &AuthError{Op: "get user", Code: CodeSessionExpired}
	}
	if err != nil {
		err = asAuthError("refresh", err)
		if errors.Is(err, ErrSessionExpired) {
			r.mu.Lock()
			r.observeLocked(EventSignedOut, nil)
			r.mu.Unlock()
		}
		return err
	}

	r.mu.Lock()
	r.requestLocked()
	r.mu.Unlock()
	return nil
}

// Close unsubscribes from the backend and stops in-flight work. Watch
// channels are closed.
func (r *Resolver) Close() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		sub := r.sub
		r.sub = nil
		r.mu.Unlock()

		if sub != nil {
			sub.Unsubscribe()
		}
		r.cancel()
		close(r.done)
		r.workerWG.Wait()

		r.mu.Lock()
		for ch := range r.watchers {
			delete(r.watchers, ch)
			close(ch)
		}
		close(r.changed)
		r.changed = make(chan struct{})
		r.mu.Unlock()
	})
}
