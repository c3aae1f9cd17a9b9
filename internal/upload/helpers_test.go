package upload

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"paperplane/internal/assembly"
	"paperplane/internal/logging"
	"paperplane/internal/repository"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance 推进时间并同步执行到期的回调。
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

type memStore struct {
	mu         sync.Mutex
	rows       map[string]repository.PartialUploadRecord
	failCreate error
}

func newMemStore() *memStore {
	return &memStore{rows: map[string]repository.PartialUploadRecord{}}
}

func (m *memStore) Create(ctx context.Context, rec *repository.PartialUploadRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreate != nil {
		return m.failCreate
	}
	m.rows[rec.ID] = *rec
	return nil
}

func (m *memStore) ListByTenant(ctx context.Context, tenantID string) ([]repository.PartialUploadRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repository.PartialUploadRecord
	for _, r := range m.rows {
		if r.TenantID == tenantID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) UpdateStatus(ctx context.Context, id string, status repository.UploadStatus, documentID *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	r.Status = status
	r.DocumentID = documentID
	m.rows[id] = r
	return nil
}

func (m *memStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.rows, id)
	return nil
}

func (m *memStore) get(id string) (repository.PartialUploadRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	return r, ok
}

type fakeSubmitter struct {
	mu      sync.Mutex
	jobs    []assembly.Job
	results []chan assembly.Result
	err     error
}

func (s *fakeSubmitter) Submit(job assembly.Job) (<-chan assembly.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan assembly.Result, 1)
	s.jobs = append(s.jobs, job)
	s.results = append(s.results, ch)
	return ch, nil
}

func (s *fakeSubmitter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func (s *fakeSubmitter) resolve(i int, res assembly.Result) {
	s.mu.Lock()
	ch := s.results[i]
	s.mu.Unlock()
	ch <- res
}

type plainSealer struct{}

func (plainSealer) Encrypt(tenantID, plaintext string) (string, error) {
	return "sealed:" + plaintext, nil
}

type env struct {
	dataDir   string
	clock     *fakeClock
	store     *memStore
	submitter *fakeSubmitter
	scheduler *Scheduler
	manager   *Manager
	tenant    *repository.Tenant
	registry  *Registry
}

func newEnv(t *testing.T) *env {
	t.Helper()

	e := &env{
		dataDir:   t.TempDir(),
		clock:     newFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		store:     newMemStore(),
		submitter: &fakeSubmitter{},
		tenant: &repository.Tenant{
			ID:             "t1",
			Domain:         "files.example.com",
			ExtensionsMode: repository.ExtensionsDeny,
			Extensions:     repository.StringList{"exe"},
			NamingStrategy: "random",
			NameLength:     8,
		},
	}
	e.scheduler = NewScheduler(e.clock)
	e.manager = NewManager(Config{
		DataDir:   e.dataDir,
		Expiry:    DefaultExpiry,
		Store:     e.store,
		Tenants:   staticTenants{e.tenant},
		Submitter: e.submitter,
		Scheduler: e.scheduler,
		Sealer:    plainSealer{},
		Logger:    logging.Discard(),
	})

	reg, err := e.manager.Registry(e.tenant)
	require.NoError(t, err)
	e.registry = reg
	return e
}

// tempChunk 在租户临时目录写入一个待登记的分片文件。
func (e *env) tempChunk(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(e.registry.TmpRoot(), "upload-*")
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}

func (e *env) create(t *testing.T) *Handle {
	t.Helper()
	h, err := e.registry.Create(context.Background(), CreateOptions{MimeType: "image/png", Visible: true})
	require.NoError(t, err)
	return h
}

type staticTenants []*repository.Tenant

func (s staticTenants) Create(ctx context.Context, t *repository.Tenant) error { return nil }

func (s staticTenants) GetByID(ctx context.Context, id string) (*repository.Tenant, error) {
	for _, t := range s {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s staticTenants) GetByDomain(ctx context.Context, domain string) (*repository.Tenant, error) {
	for _, t := range s {
		if t.Domain == domain {
			return t, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s staticTenants) List(ctx context.Context) ([]repository.Tenant, error) {
	out := make([]repository.Tenant, len(s))
	for i, t := range s {
		out[i] = *t
	}
	return out, nil
}

func chunkPath(h *Handle, idx string) string {
	return filepath.Join(h.Path(), idx)
}
