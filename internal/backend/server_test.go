package backend

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"database/sql"
	"encoding/json"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/ovaphlow/englishbuds/internal/course"
	courseentity "github.com/ovaphlow/englishbuds/internal/course/entity"
	"github.com/ovaphlow/englishbuds/internal/events"
	"github.com/ovaphlow/englishbuds/internal/oidc"
	"github.com/ovaphlow/englishbuds/internal/profile"
	"github.com/ovaphlow/englishbuds/internal/profile/entity"
	"github.com/ovaphlow/englishbuds/internal/router"
	"github.com/ovaphlow/englishbuds/internal/user"
	userentity "github.com/ovaphlow/englishbuds/internal/user/entity"
)

// The in-memory stores below stand in for postgres so the client adapters
// can be tested against the real handlers.

type memRefresh struct {
	mu   sync.Mutex
	rows map[string]oidc.RefreshSession
	next int64
}

func (m *memRefresh) Save(_ context.Context, hash, sessionID, userID, clientID string, exp time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	m.rows[hash] = oidc.RefreshSession{ID: m.next, SessionID: sessionID, UserID: userID, ClientID: clientID, ExpiresAt: exp}
	return m.next, nil
}

func (m *memRefresh) Get(_ context.Context, hash string) (int64, string, string, string, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rs, ok := m.rows[hash]
	if !ok {
		return 0, "", "", "", time.Time{}, sql.ErrNoRows
	}
	return rs.ID, rs.SessionID, rs.UserID, rs.ClientID, rs.ExpiresAt, nil
}

func (m *memRefresh) Delete(_ context.Context, hash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rows[hash]
	delete(m.rows, hash)
	return ok, nil
}

func (m *memRefresh) DeleteSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, rs := range m.rows {
		if rs.SessionID == sessionID {
			delete(m.rows, k)
		}
	}
	return nil
}

func (m *memRefresh) DeleteUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, rs := range m.rows {
		if rs.UserID == userID {
			delete(m.rows, k)
		}
	}
	return nil
}

type memAccount struct {
	view     userentity.MinimalAuthView
	password string
}

type memAccounts struct {
	mu   sync.Mutex
	byID map[string]*memAccount
}

func (m *memAccounts) SignupUser(_ context.Context, na user.NewAccount) (*userentity.MinimalAuthView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if na.Email == "" || len(na.Password) < 6 {
		return nil, user.ErrInvalidSignup
	}
	for _, a := range m.byID {
		if a.view.Email == na.Email {
			return nil, user.ErrEmailExists
		}
	}
	meta, _ := json.Marshal(na.Metadata)
	id := "u" + strconv.Itoa(len(m.byID)+1)
	a := &memAccount{view: userentity.MinimalAuthView{ID: id, Email: na.Email, Version: 1, MetadataRaw: meta, CreatedAt: time.Now()}, password: na.Password}
	m.byID[id] = a
	v := a.view
	return &v, nil
}

func (m *memAccounts) AuthenticatePassword(_ context.Context, email, password string) (*userentity.MinimalAuthView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.byID {
		if a.view.Email == email && a.password == password {
			v := a.view
			return &v, nil
		}
	}
	return nil, user.ErrBadCredentials
}

func (m *memAccounts) GetMinimalAuthView(_ context.Context, id string) (*userentity.MinimalAuthView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, user.ErrUserNotFound
	}
	v := a.view
	return &v, nil
}

func (m *memAccounts) BumpVersionAndRevoke(_ context.Context, id string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return 0, user.ErrUserNotFound
	}
	a.view.Version++
	return a.view.Version, nil
}

type memProfiles struct {
	mu   sync.Mutex
	rows map[string]entity.Record
}

func (m *memProfiles) Insert(_ context.Context, np entity.NewProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[np.ID]; ok {
		return &pq.Error{Code: "23505"}
	}
	now := time.Now()
	m.rows[np.ID] = entity.ToRecord(&entity.Profile{ID: np.ID, Email: np.Email, Role: np.Role, DisplayName: np.DisplayName, Level: 1, CreatedAt: now, UpdatedAt: now})
	return nil
}

func (m *memProfiles) GetByID(_ context.Context, id string) (*entity.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &rec, nil
}

func (m *memProfiles) Update(_ context.Context, id string, patch entity.Patch) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[id]
	if !ok {
		return 0, nil
	}
	p, err := entity.Parse(rec)
	if err != nil {
		return 0, err
	}
	patch.Apply(p)
	m.rows[id] = entity.ToRecord(p)
	return 1, nil
}

type memCourses struct {
	mu        sync.Mutex
	courses   []courseentity.Course
	contents  []courseentity.Content
	purchases map[string][]string
}

func (m *memCourses) add(c courseentity.Course, items ...courseentity.Content) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.courses = append(m.courses, c)
	m.contents = append(m.contents, items...)
}

func (m *memCourses) buy(userID, courseID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purchases[userID] = append(m.purchases[userID], courseID)
}

func (m *memCourses) ListByTeacher(_ context.Context, teacherID string) ([]courseentity.Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []courseentity.Course{}
	for _, c := range m.courses {
		if c.TeacherID == teacherID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memCourses) ListPurchased(_ context.Context, userID string) ([]courseentity.Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []courseentity.Course{}
	for _, id := range m.purchases[userID] {
		for _, c := range m.courses {
			if c.ID == id {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

func (m *memCourses) GetByID(_ context.Context, id string) (*courseentity.Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.courses {
		if c.ID == id {
			return &c, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memCourses) ListContents(_ context.Context, courseID string) ([]courseentity.Content, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []courseentity.Content{}
	for _, it := range m.contents {
		if it.CourseID == courseID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *memCourses) HasPurchase(_ context.Context, userID, courseID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.purchases[userID] {
		if id == courseID {
			return true, nil
		}
	}
	return false, nil
}

var (
	serverKeyOnce sync.Once
	serverKey     *rsa.PrivateKey
)

type testAPI struct {
	*httptest.Server
	hub     *events.Hub
	courses *memCourses
}

func startAPI(t *testing.T) *testAPI {
	t.Helper()
	serverKeyOnce.Do(func() {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		serverKey = k
	})
	logger := zap.NewNop().Sugar()
	svc := oidc.NewOIDCServiceWithKey(&memRefresh{rows: map[string]oidc.RefreshSession{}}, "http://issuer.test", serverKey)
	hub := events.NewHub(logger)
	profiles := profile.NewService(&memProfiles{rows: map[string]entity.Record{}}, logger)
	courses := &memCourses{purchases: map[string][]string{}}
	h := router.RegisterRoutes(logger, router.Handlers{
		Auth:     oidc.NewHandler(svc, &memAccounts{byID: map[string]*memAccount{}}, hub, logger),
		Profiles: profile.NewHandler(profiles, hub, logger),
		Events:   events.NewHandler(hub, logger),
		Courses:  course.NewHandler(course.NewService(courses, logger), logger),
	})
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return &testAPI{Server: srv, hub: hub, courses: courses}
}
