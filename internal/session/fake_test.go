package session

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/ovaphlow/englishbuds/internal/profile/entity"
)

type account struct {
	password string
	user     User
}

// fakeAuth emits SIGNED_IN synchronously from sign-in and sign-up, like
// the HTTP client does. SignOut does not emit; tests push it themselves.
type fakeAuth struct {
	mu        sync.Mutex
	accounts  map[string]*account
	current   *Session
	listeners map[int]func(Event, *Session)
	nextID    int
	userSeq   int

	// getSession overrides the persisted-session lookup when set.
	getSession func(ctx context.Context) (*Session, error)
	signOutErr error
	getUserErr error
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{accounts: map[string]*account{}, listeners: map[int]func(Event, *Session){}}
}

func (f *fakeAuth) addUser(id, email, password string) User {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := User{ID: id, Email: email}
	f.accounts[email] = &account{password: password, user: u}
	return u
}

func sessionFor(u User) *Session {
	return &Session{AccessToken: "at-" + u.ID, RefreshToken: "rt-" + u.ID, ExpiresAt: time.Now().Add(time.Hour), User: u}
}

func (f *fakeAuth) emit(ev Event, s *Session) {
	f.mu.Lock()
	fns := make([]func(Event, *Session), 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(ev, s)
	}
}

func (f *fakeAuth) SignInWithPassword(_ context.Context, email, password string) (*Session, error) {
	f.mu.Lock()
	a, ok := f.accounts[email]
	if !ok || a.password != password {
		f.mu.Unlock()
		return nil, &AuthError{Op: "token", Code: CodeInvalidCredentials}
	}
	s := sessionFor(a.user)
	f.current = s
	f.mu.Unlock()
	f.emit(EventSignedIn, s)
	return s, nil
}

func (f *fakeAuth) SignUp(_ context.Context, email, password string, meta Metadata) (*Session, error) {
	f.mu.Lock()
	if _, ok := f.accounts[email]; ok {
		f.mu.Unlock()
		return nil, &AuthError{Op: "signup", Code: CodeDuplicateAccount}
	}
	f.userSeq++
	u := User{ID: "new-" + strconv.Itoa(f.userSeq), Email: email, Role: meta.Role, DisplayName: meta.DisplayName}
	f.accounts[email] = &account{password: password, user: u}
	s := sessionFor(u)
	f.current = s
	f.mu.Unlock()
	f.emit(EventSignedIn, s)
	return s, nil
}

func (f *fakeAuth) SignOut(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signOutErr != nil {
		return f.signOutErr
	}
	f.current = nil
	return nil
}

func (f *fakeAuth) GetSession(ctx context.Context) (*Session, error) {
	if f.getSession != nil {
		return f.getSession(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, nil
}

func (f *fakeAuth) GetUser(context.Context) (*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getUserErr != nil {
		return nil, f.getUserErr
	}
	if f.current == nil {
		return nil, nil
	}
	u := f.current.User
	return &u, nil
}

type fakeSub struct {
	f  *fakeAuth
	id int
}

func (s fakeSub) Unsubscribe() {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	delete(s.f.listeners, s.id)
}

func (f *fakeAuth) OnAuthStateChange(fn func(Event, *Session)) Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.listeners[f.nextID] = fn
	return fakeSub{f: f, id: f.nextID}
}

func (f *fakeAuth) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

// fakeProfiles can hold a user's fetch at a gate until the test releases it.
type fakeProfiles struct {
	mu        sync.Mutex
	rows      map[string]*entity.Profile
	gates     map[string]chan struct{}
	ignoreCtx bool
	getErr    error
	insertErr error
	updateErr error
	override  map[string]*entity.Profile
	// onGet runs at the start of every Get, outside the lock
	onGet func(userID string)

	started     chan string
	inflight    int
	maxInflight int
	gets        int
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{
		rows:     map[string]*entity.Profile{},
		gates:    map[string]chan struct{}{},
		override: map[string]*entity.Profile{},
		started:  make(chan string, 64),
	}
}

func (f *fakeProfiles) add(id string, role entity.Role, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[id] = &entity.Profile{ID: id, Role: role, DisplayName: &name, Level: 1}
}

func (f *fakeProfiles) hold(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gates[id] = make(chan struct{})
}

func (f *fakeProfiles) release(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := f.gates[id]; ok {
		close(g)
		delete(f.gates, id)
	}
}

func (f *fakeProfiles) Get(ctx context.Context, userID string) (*entity.Profile, error) {
	f.mu.Lock()
	f.gets++
	f.inflight++
	if f.inflight > f.maxInflight {
		f.maxInflight = f.inflight
	}
	gate := f.gates[userID]
	ignoreCtx := f.ignoreCtx
	onGet := f.onGet
	f.mu.Unlock()
	if onGet != nil {
		onGet(userID)
	}
	defer func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}()

	select {
	case f.started <- userID:
	default:
	}
	if gate != nil {
		if ignoreCtx {
			<-gate
		} else {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	if p, ok := f.override[userID]; ok {
		return p.Clone(), nil
	}
	p, ok := f.rows[userID]
	if !ok {
		return nil, ErrProfileNotFound
	}
	return p.Clone(), nil
}

func (f *fakeProfiles) Insert(_ context.Context, np entity.NewProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.rows[np.ID] = &entity.Profile{ID: np.ID, Email: np.Email, Role: np.Role, DisplayName: np.DisplayName, Level: 1}
	return nil
}

func (f *fakeProfiles) Update(_ context.Context, userID string, patch entity.Patch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	p, ok := f.rows[userID]
	if !ok {
		return ErrProfileNotFound
	}
	patch.Apply(p)
	return nil
}

func (f *fakeProfiles) maxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInflight
}

func (f *fakeProfiles) getCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}
