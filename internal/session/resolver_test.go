package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ovaphlow/englishbuds/internal/profile/entity"
)

const waitTimeout = 2 * time.Second

type fixture struct {
	auth     *fakeAuth
	profiles *fakeProfiles
	r        *Resolver
	kid      User
	teacher  User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{auth: newFakeAuth(), profiles: newFakeProfiles()}
	f.kid = f.auth.addUser("kid", "kid@example.com", "secret1")
	f.teacher = f.auth.addUser("teach", "teach@example.com", "secret2")
	f.profiles.add("kid", entity.RoleStudent, "Mia")
	f.profiles.add("teach", entity.RoleTeacher, "Ms. Lee")
	f.r = NewResolver(f.auth, f.profiles, zap.NewNop().Sugar(), WithFetchTimeout(time.Second))
	t.Cleanup(f.r.Close)
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	f.r.Start(context.Background())
	f.idle(t)
}

func (f *fixture) idle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, f.r.WaitIdle(ctx))
}

func (f *fixture) waitStarted(t *testing.T, userID string) {
	t.Helper()
	for {
		select {
		case id := <-f.profiles.started:
			if id == userID {
				return
			}
		case <-time.After(waitTimeout):
			t.Fatalf("fetch for %s never started", userID)
		}
	}
}

// assertPaired checks that a present profile always belongs to the user.
func assertPaired(t *testing.T, st State) {
	t.Helper()
	if st.Profile != nil {
		require.NotNil(t, st.User, "profile without user")
		assert.Equal(t, st.User.ID, st.Profile.ID, "profile must belong to the session user")
	}
}

func TestInitialStateIsUninitialized(t *testing.T) {
	f := newFixture(t)
	st := f.r.CurrentState()
	assert.Equal(t, StatusUninitialized, st.Status)
	assert.True(t, st.Loading)
	assert.Equal(t, DashboardLoading, st.Dashboard())
}

func TestNoPersistedSessionSettlesAnonymous(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	st := f.r.CurrentState()
	assert.Equal(t, StatusAnonymous, st.Status)
	assert.False(t, st.Loading)
	assert.Nil(t, st.User)
	assert.Equal(t, DashboardSignIn, st.Dashboard())
}

func TestRestoredSessionResolvesProfile(t *testing.T) {
	f := newFixture(t)
	f.auth.current = sessionFor(f.teacher)
	f.start(t)

	st := f.r.CurrentState()
	assert.Equal(t, StatusAuthenticated, st.Status)
	assert.True(t, st.IsTeacher())
	assert.False(t, st.IsStudent())
	assert.Equal(t, DashboardTeacher, st.Dashboard())
}

func TestInitialCheckFailureSettlesAnonymous(t *testing.T) {
	f := newFixture(t)
	f.auth.getSession = func(context.Context) (*Session, error) {
		return nil, &AuthError{Op: "session", Code: CodeNetwork}
	}
	f.start(t)

	st := f.r.CurrentState()
	assert.Equal(t, StatusAnonymous, st.Status)
	assert.False(t, st.Loading)
}

func TestSignInResolvesThroughListener(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.profiles.hold("kid")

	s, err := f.r.SignIn(context.Background(), "kid@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "kid", s.User.ID)

	st := f.r.CurrentState()
	assert.Equal(t, StatusResolving, st.Status)
	require.NotNil(t, st.User)
	assert.Nil(t, st.Profile)
	assert.False(t, st.SignedIn())

	f.waitStarted(t, "kid")
	f.profiles.release("kid")
	f.idle(t)

	st = f.r.CurrentState()
	assert.Equal(t, StatusAuthenticated, st.Status)
	assert.False(t, st.Loading)
	require.NotNil(t, st.Profile)
	assert.Equal(t, "kid", st.Profile.ID)
	assert.True(t, st.IsStudent())
	assert.Equal(t, DashboardStudent, st.Dashboard())
}

func TestSignInWrongPassword(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	s, err := f.r.SignIn(context.Background(), "kid@example.com", "nope")
	assert.Nil(t, s)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	var ae *AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, CodeInvalidCredentials, ae.Code)

	st := f.r.CurrentState()
	assert.Equal(t, StatusAnonymous, st.Status)
	assert.False(t, st.Loading)
}

func TestSignUpCreatesProfile(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	s, err := f.r.SignUp(context.Background(), "new@example.com", "secret1", entity.RoleStudent, "Leo")
	require.NoError(t, err)
	f.idle(t)

	st := f.r.CurrentState()
	require.NotNil(t, st.Profile)
	assert.Equal(t, s.User.ID, st.Profile.ID)
	assert.Equal(t, entity.RoleStudent, st.Profile.Role)
	assert.Equal(t, "Leo", st.Profile.Name())
	assert.Equal(t, "new@example.com", st.Profile.Email)
	assert.Equal(t, StatusAuthenticated, st.Status)

	_, err = f.r.SignUp(context.Background(), "new@example.com", "secret1", entity.RoleStudent, "Leo")
	assert.ErrorIs(t, err, ErrDuplicateAccount)
}

func TestSignUpRejectsUnknownRole(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	_, err := f.r.SignUp(context.Background(), "x@example.com", "secret1", entity.Role("pirate"), "")
	var ae *AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, CodeInvalidInput, ae.Code)
}

func TestSignUpKeepsAccountWhenProfileInsertFails(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.profiles.insertErr = errors.New("profiles table unavailable")

	s, err := f.r.SignUp(context.Background(), "new@example.com", "secret1", entity.RoleTeacher, "Sam")
	require.NoError(t, err)
	require.NotNil(t, s)
	f.idle(t)

	st := f.r.CurrentState()
	require.NotNil(t, st.User)
	assert.Equal(t, s.User.ID, st.User.ID)
	assert.Nil(t, st.Profile)
	assert.False(t, st.SignedIn())
	assert.Equal(t, DashboardSignIn, st.Dashboard())
}

// Identity confirmed, profile unavailable: the user stays but reads as signed out.
func TestProfileFetchErrorLeavesUserWithoutProfile(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.profiles.getErr = errors.New("backend unreachable")

	_, err := f.r.SignIn(context.Background(), "kid@example.com", "secret1")
	require.NoError(t, err)
	f.idle(t)

	st := f.r.CurrentState()
	require.NotNil(t, st.User)
	assert.Nil(t, st.Profile)
	assert.Equal(t, StatusAnonymous, st.Status)
	assert.False(t, st.Loading)
	assert.False(t, st.SignedIn())
	assert.Equal(t, DashboardSignIn, st.Dashboard())
}

func TestMismatchedProfileIsRejected(t *testing.T) {
	f := newFixture(t)
	f.profiles.override["kid"] = &entity.Profile{ID: "teach", Role: entity.RoleTeacher}
	f.start(t)

	_, err := f.r.SignIn(context.Background(), "kid@example.com", "secret1")
	require.NoError(t, err)
	f.idle(t)

	st := f.r.CurrentState()
	assert.Nil(t, st.Profile)
	assertPaired(t, st)
}

func TestSignedOutPushWinsOverPendingFetch(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.profiles.hold("kid")

	_, err := f.r.SignIn(context.Background(), "kid@example.com", "secret1")
	require.NoError(t, err)
	f.waitStarted(t, "kid")

	f.auth.emit(EventSignedOut, nil)
	st := f.r.CurrentState()
	assert.Equal(t, StatusAnonymous, st.Status)
	assert.Nil(t, st.User)
	assert.Nil(t, st.Profile)

	f.profiles.release("kid")
	f.idle(t)
	st = f.r.CurrentState()
	assert.Equal(t, StatusAnonymous, st.Status)
	assert.Nil(t, st.Profile)
}

func TestSignOutClearsBeforePush(t *testing.T) {
	f := newFixture(t)
	f.auth.current = sessionFor(f.kid)
	f.start(t)
	require.True(t, f.r.CurrentState().SignedIn())

	require.NoError(t, f.r.SignOut(context.Background()))
	st := f.r.CurrentState()
	assert.Equal(t, StatusAnonymous, st.Status)
	assert.Nil(t, st.User)
	assert.Nil(t, st.Profile)

	// the late push changes nothing
	f.auth.emit(EventSignedOut, nil)
	assert.Equal(t, st, f.r.CurrentState())
}

func TestSignOutFailureKeepsState(t *testing.T) {
	f := newFixture(t)
	f.auth.current = sessionFor(f.kid)
	f.start(t)
	f.auth.signOutErr = &AuthError{Op: "logout", Code: CodeNetwork}

	err := f.r.SignOut(context.Background())
	assert.ErrorIs(t, err, ErrAuthNetwork)
	assert.True(t, f.r.CurrentState().SignedIn())
}

// The old fetch finishes after the session moved to another user.
func TestStaleFetchIsDiscarded(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.profiles.ignoreCtx = true
	f.profiles.hold("kid")

	_, err := f.r.SignIn(context.Background(), "kid@example.com", "secret1")
	require.NoError(t, err)
	f.waitStarted(t, "kid")

	f.auth.emit(EventSignedIn, sessionFor(f.teacher))
	st := f.r.CurrentState()
	require.NotNil(t, st.User)
	assert.Equal(t, "teach", st.User.ID)
	assert.Nil(t, st.Profile)

	f.profiles.release("kid")
	f.idle(t)

	st = f.r.CurrentState()
	require.NotNil(t, st.Profile)
	assert.Equal(t, "teach", st.Profile.ID)
	assert.True(t, st.IsTeacher())
}

func TestIdentityChangeCancelsFetch(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.profiles.hold("kid")

	_, err := f.r.SignIn(context.Background(), "kid@example.com", "secret1")
	require.NoError(t, err)
	f.waitStarted(t, "kid")

	// the kid gate is never released: only cancellation frees the worker
	_, err = f.r.SignIn(context.Background(), "teach@example.com", "secret2")
	require.NoError(t, err)
	f.idle(t)

	st := f.r.CurrentState()
	require.NotNil(t, st.Profile)
	assert.Equal(t, "teach", st.Profile.ID)
}

func TestInitialSessionDiscardedAfterPush(t *testing.T) {
	f := newFixture(t)
	gate := make(chan struct{})
	f.auth.getSession = func(context.Context) (*Session, error) {
		<-gate
		return sessionFor(f.kid), nil
	}
	f.r.Start(context.Background())

	f.auth.emit(EventSignedIn, sessionFor(f.teacher))
	close(gate)
	f.idle(t)
	// let the initial check land
	time.Sleep(20 * time.Millisecond)
	f.idle(t)

	st := f.r.CurrentState()
	require.NotNil(t, st.Profile)
	assert.Equal(t, "teach", st.Profile.ID)
}

// Concurrent, duplicated events converge on one matching profile with
// never more than one fetch in flight.
func TestConvergesUnderConcurrentEvents(t *testing.T) {
	tests := []struct {
		name   string
		events []*Session
		want   string
	}{
		{name: "same user many times", events: []*Session{sessionFor(User{ID: "kid"}), sessionFor(User{ID: "kid"}), sessionFor(User{ID: "kid"})}, want: "kid"},
		{name: "switch users", events: []*Session{sessionFor(User{ID: "kid"}), sessionFor(User{ID: "teach"}), sessionFor(User{ID: "kid"}), sessionFor(User{ID: "teach"})}, want: "teach"},
		{name: "out and back in", events: []*Session{sessionFor(User{ID: "kid"}), nil, sessionFor(User{ID: "kid"})}, want: "kid"},
		{name: "ends signed out", events: []*Session{sessionFor(User{ID: "kid"}), sessionFor(User{ID: "teach"}), nil}, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.auth.current = sessionFor(f.kid)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			states := f.r.Watch(ctx)
			var seen []State
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				for st := range states {
					seen = append(seen, st)
				}
			}()

			f.r.Start(context.Background())
			for _, s := range tt.events {
				ev := EventSignedIn
				if s == nil {
					ev = EventSignedOut
				}
				f.auth.emit(ev, s)
				f.auth.emit(EventTokenRefreshed, s)
			}
			f.idle(t)

			st := f.r.CurrentState()
			assertPaired(t, st)
			if tt.want == "" {
				assert.Nil(t, st.User)
				assert.Nil(t, st.Profile)
			} else {
				require.NotNil(t, st.Profile)
				assert.Equal(t, tt.want, st.Profile.ID)
			}
			assert.LessOrEqual(t, f.profiles.maxConcurrent(), 1)

			cancel()
			wg.Wait()
			for _, s := range seen {
				assertPaired(t, s)
			}
		})
	}
}

func TestLoadingNeverReturnsAfterSettle(t *testing.T) {
	f := newFixture(t)
	f.auth.current = sessionFor(f.kid)
	f.start(t)
	f.profiles.hold("kid")

	f.auth.emit(EventUserUpdated, sessionFor(f.kid))
	st := f.r.CurrentState()
	assert.False(t, st.Loading)
	assert.Equal(t, StatusAuthenticated, st.Status, "same user keeps its profile while refetching")
	require.NotNil(t, st.Profile)

	f.profiles.release("kid")
	f.idle(t)
	assert.False(t, f.r.CurrentState().Loading)
}

func TestTokenRefreshDoesNotRefetchProfile(t *testing.T) {
	f := newFixture(t)
	f.auth.current = sessionFor(f.kid)
	// every fetch refreshes the access token, as the HTTP client does when
	// the token is close to expiry
	f.profiles.onGet = func(userID string) {
		f.auth.emit(EventTokenRefreshed, sessionFor(f.kid))
	}
	f.start(t)
	require.True(t, f.r.CurrentState().SignedIn())
	assert.Equal(t, 1, f.profiles.getCount())

	f.auth.emit(EventTokenRefreshed, sessionFor(f.kid))
	f.idle(t)
	assert.Equal(t, 1, f.profiles.getCount())

	f.auth.emit(EventUserUpdated, sessionFor(f.kid))
	f.idle(t)
	assert.Equal(t, 2, f.profiles.getCount())
}

func TestTokenRefreshRetriesFailedFetch(t *testing.T) {
	f := newFixture(t)
	f.auth.current = sessionFor(f.kid)
	f.profiles.getErr = errors.New("timeout")
	f.start(t)
	require.Nil(t, f.r.CurrentState().Profile)

	f.profiles.mu.Lock()
	f.profiles.getErr = nil
	f.profiles.mu.Unlock()
	f.auth.emit(EventTokenRefreshed, sessionFor(f.kid))
	f.idle(t)
	st := f.r.CurrentState()
	require.NotNil(t, st.Profile)
	assert.Equal(t, StatusAuthenticated, st.Status)
}

func TestStartAndCloseConcurrently(t *testing.T) {
	for range 50 {
		r := NewResolver(newFakeAuth(), newFakeProfiles(), nil)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Start(context.Background())
		}()
		go func() {
			defer wg.Done()
			r.Close()
		}()
		wg.Wait()
		r.Close()
	}
}

func TestFailedRefetchKeepsLastGoodProfile(t *testing.T) {
	f := newFixture(t)
	f.auth.current = sessionFor(f.kid)
	f.start(t)
	require.True(t, f.r.CurrentState().SignedIn())

	f.profiles.getErr = errors.New("timeout")
	f.auth.emit(EventUserUpdated, sessionFor(f.kid))
	f.idle(t)

	st := f.r.CurrentState()
	require.NotNil(t, st.Profile)
	assert.Equal(t, "kid", st.Profile.ID)
	assert.Equal(t, StatusAuthenticated, st.Status)
}

func TestCurrentStateIsIdempotentAndDetached(t *testing.T) {
	f := newFixture(t)
	f.auth.current = sessionFor(f.kid)
	f.start(t)

	a := f.r.CurrentState()
	b := f.r.CurrentState()
	assert.Equal(t, a, b)

	name := "changed"
	a.Profile.DisplayName = &name
	a.User.Email = "x"
	c := f.r.CurrentState()
	assert.Equal(t, b, c)
}

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.r.UpdateProfile(ctx, entity.Patch{Bio: strp("hi")})
	assert.ErrorIs(t, err, ErrNotSignedIn)

	f.auth.current = sessionFor(f.kid)
	f.start(t)

	require.NoError(t, f.r.UpdateProfile(ctx, entity.Patch{FirstName: strp("Mia"), TotalStars: intp(5)}))
	f.idle(t)
	st := f.r.CurrentState()
	require.NotNil(t, st.Profile)
	assert.Equal(t, "Mia", *st.Profile.FirstName)
	assert.Equal(t, 5, st.Profile.TotalStars)

	err = f.r.UpdateProfile(ctx, entity.Patch{Level: intp(0)})
	var pe *ProfileError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "kid", pe.UserID)
	assert.ErrorIs(t, err, entity.ErrInvalid)

	f.profiles.updateErr = errors.New("write failed")
	err = f.r.UpdateProfile(ctx, entity.Patch{Bio: strp("hi")})
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "update", pe.Op)
}

func TestRefreshSignsOutExpiredCredential(t *testing.T) {
	f := newFixture(t)
	f.auth.current = sessionFor(f.kid)
	f.start(t)

	require.NoError(t, f.r.Refresh(context.Background()))
	f.idle(t)
	assert.True(t, f.r.CurrentState().SignedIn())

	f.auth.getUserErr = &AuthError{Op: "user", Code: CodeSessionExpired}
	err := f.r.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrSessionExpired)
	st := f.r.CurrentState()
	assert.Equal(t, StatusAnonymous, st.Status)
	assert.Nil(t, st.User)
}

func TestRefreshNetworkErrorKeepsState(t *testing.T) {
	f := newFixture(t)
	f.auth.current = sessionFor(f.kid)
	f.start(t)

	f.auth.getUserErr = &AuthError{Op: "user", Code: CodeNetwork}
	err := f.r.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrAuthNetwork)
	assert.True(t, f.r.CurrentState().SignedIn())
}

func TestWatchDeliversLatest(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := f.r.Watch(ctx)

	first := <-ch
	assert.True(t, first.Loading)

	f.auth.current = sessionFor(f.kid)
	f.start(t)

	var last State
	require.Eventually(t, func() bool {
		select {
		case st := <-ch:
			last = st
		default:
		}
		return last.Status == StatusAuthenticated
	}, waitTimeout, 5*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool {
		_, ok := <-ch
		return !ok
	}, waitTimeout, 5*time.Millisecond)
}

func TestCloseUnsubscribesAndReleasesWaiters(t *testing.T) {
	f := newFixture(t)
	gate := make(chan struct{})
	defer close(gate)
	f.auth.getSession = func(ctx context.Context) (*Session, error) {
		select {
		case <-gate:
		case <-ctx.Done():
		}
		return nil, ctx.Err()
	}
	f.r.Start(context.Background())
	require.Equal(t, 1, f.auth.listenerCount())
	ch := f.r.Watch(context.Background())

	errc := make(chan error, 1)
	go func() { errc <- f.r.WaitSettled(context.Background()) }()

	f.r.Close()
	assert.Equal(t, 0, f.auth.listenerCount())
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(waitTimeout):
		t.Fatal("WaitSettled did not return after Close")
	}
	for range ch {
	}

	// events after Close are ignored
	f.auth.emit(EventSignedIn, sessionFor(f.kid))
	assert.Equal(t, StatusUninitialized, f.r.CurrentState().Status)
}

func TestAuthErrorMatching(t *testing.T) {
	tests := []struct {
		code AuthCode
		want error
	}{
		{CodeInvalidCredentials, ErrInvalidCredentials},
		{CodeDuplicateAccount, ErrDuplicateAccount},
		{CodeNetwork, ErrAuthNetwork},
		{CodeSessionExpired, ErrSessionExpired},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := error(&AuthError{Op: "x", Code: tt.code})
			assert.ErrorIs(t, err, tt.want)
		})
	}
	wrapped := asAuthError("sign in", errors.New("boom"))
	var ae *AuthError
	require.ErrorAs(t, wrapped, &ae)
	assert.Equal(t, CodeUnknown, ae.Code)
	assert.Equal(t, "sign in", ae.Op)

	shared := &AuthError{Code: CodeNetwork}
	got := asAuthError("sign out", shared)
	require.ErrorAs(t, got, &ae)
	assert.Equal(t, "sign out", ae.Op)
	assert.Equal(t, CodeNetwork, ae.Code)
	assert.Empty(t, shared.Op, "the backend's error is left untouched")

	named := &AuthError{Op: "token", Code: CodeInvalidCredentials}
	assert.Same(t, named, asAuthError("sign in", named))
}

func strp(s string) *string { return &s }
func intp(i int) *int       { return &i }
