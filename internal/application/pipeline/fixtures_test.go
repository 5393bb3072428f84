package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"study-forge-api/internal/application/progress"
	"study-forge-api/internal/config"
	"study-forge-api/internal/domain/entity"
	"study-forge-api/internal/domain/repository"
	"study-forge-api/internal/infrastructure/messaging"
	"study-forge-api/internal/infrastructure/persistence/redis"
	apperrors "study-forge-api/pkg/errors"
)

// memSessions 内存会话仓储，终态保护与 SQL 实现一致
type memSessions struct {
	mu       sync.Mutex
	sessions map[string]*entity.Session
	files    map[string][]*entity.SessionFile
	history  map[string][]entity.SessionStatus
	getErr   error
}

func newMemSessions() *memSessions {
	return &memSessions{
		sessions: make(map[string]*entity.Session),
		files:    make(map[string][]*entity.SessionFile),
		history:  make(map[string][]entity.SessionStatus),
	}
}

func (m *memSessions) Create(_ context.Context, s *entity.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return apperrors.ErrConflict.WithDetail("session_id=" + s.ID)
	}
	cp := *s
	cp.Files = nil
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	m.sessions[s.ID] = &cp
	m.files[s.ID] = s.Files
	m.history[s.ID] = []entity.SessionStatus{s.Status}
	return nil
}

func (m *memSessions) GetByID(_ context.Context, id string) (*entity.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *memSessions) ListFiles(_ context.Context, id string) ([]*entity.SessionFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.files[id], nil
}

func (m *memSessions) TransitionStatus(_ context.Context, id string, u repository.StatusUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.IsTerminal() {
		return false, nil
	}
	s.Status = u.Status
	s.ErrorKind = u.ErrorKind
	s.ErrorMessage = u.ErrorMessage
	s.UpdatedAt = time.Now()
	if u.StartedAt != nil {
		t := *u.StartedAt
		s.StartedAt = &t
	}
	if u.CompletedAt != nil {
		t := *u.CompletedAt
		s.CompletedAt = &t
	}
	m.history[id] = append(m.history[id], u.Status)
	return true, nil
}

func (m *memSessions) IncrementAttempts(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return 0, errors.New("session not found")
	}
	s.Attempts++
	return s.Attempts, nil
}

func (m *memSessions) ListStale(_ context.Context, before time.Time, limit int) ([]*entity.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.Session
	for _, s := range m.sessions {
		if s.Status != entity.SessionStatusProcessing && s.Status != entity.SessionStatusRetrying {
			continue
		}
		if s.StartedAt == nil || !s.StartedAt.Before(before) {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(*out[j].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memSessions) put(s *entity.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	m.history[s.ID] = []entity.SessionStatus{s.Status}
}

func (m *memSessions) status(id string) entity.SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id].Status
}

func (m *memSessions) statuses(id string) []entity.SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]entity.SessionStatus(nil), m.history[id]...)
}

type memItems struct {
	mu    sync.Mutex
	items map[string][]*entity.StudyItem
	err   error
	delay time.Duration
}

func newMemItems() *memItems {
	return &memItems{items: make(map[string][]*entity.StudyItem)}
}

func (m *memItems) ReplaceForSession(_ context.Context, sessionID string, items []*entity.StudyItem) error {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.items[sessionID] = items
	return nil
}

func (m *memItems) ListBySession(_ context.Context, sessionID string) ([]*entity.StudyItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[sessionID], nil
}

type textExtractor struct{}

func (textExtractor) Extract(_ context.Context, data []byte, _ string) (string, error) {
	if len(data) == 0 {
		return "", apperrors.DataIntegrity("empty file")
	}
	return string(data), nil
}

// funcGenerator 按调用序号返回结果
type funcGenerator struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, call int, chunk Chunk) ([]*entity.StudyItem, error)
}

func (g *funcGenerator) Generate(ctx context.Context, _, _ string, chunk Chunk) ([]*entity.StudyItem, error) {
	g.mu.Lock()
	g.calls++
	n := g.calls
	g.mu.Unlock()
	if g.fn == nil {
		return []*entity.StudyItem{{Kind: entity.StudyItemFlashcard, Question: "q", Answer: chunk.Text}}, nil
	}
	return g.fn(ctx, n, chunk)
}

func (g *funcGenerator) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type recordingQueue struct {
	mu    sync.Mutex
	tasks []*messaging.SessionTaskMessage
	err   error
}

func (q *recordingQueue) PublishSessionTask(_ context.Context, task *messaging.SessionTaskMessage) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return "", q.err
	}
	q.tasks = append(q.tasks, task)
	return "1-0", nil
}

func orchestratorConfig() config.PipelineConfig {
	return config.PipelineConfig{
		MaxAttempts:   3,
		RetryDelay:    time.Minute,
		SoftTimeLimit: 25 * time.Minute,
		HardTimeLimit: 28 * time.Minute,
		StateTTL:      time.Hour,
		ChunkChars:    12000,
		MaxChunks:     8,
		SweepSchedule: "@every 5m",
		SweepGrace:    2 * time.Minute,
	}
}

type harness struct {
	mr       *miniredis.Miniredis
	sessions *memSessions
	items    *memItems
	locks    *redis.LockManager
	store    *redis.ProgressStore
	progress *progress.Publisher
	gen      *funcGenerator
	queue    *recordingQueue
	cfg      config.PipelineConfig
	lockCfg  config.LockConfig
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	client := redis.NewFromRedis(rdb)
	store := redis.NewProgressStore(client)

	return &harness{
		mr:       mr,
		sessions: newMemSessions(),
		items:    newMemItems(),
		locks:    redis.NewLockManager(client, 10*time.Millisecond),
		store:    store,
		progress: progress.NewPublisher(store, time.Hour),
		gen:      &funcGenerator{},
		queue:    &recordingQueue{},
		cfg:      orchestratorConfig(),
		lockCfg:  config.LockConfig{TTL: 30 * time.Minute, PollInterval: 10 * time.Millisecond},
	}
}

func (h *harness) orchestrator() *Orchestrator {
	return NewOrchestrator(Dependencies{
		Sessions:   h.sessions,
		StudyItems: h.items,
		Locks:      h.locks,
		State:      h.store,
		Progress:   h.progress,
		Extractor:  textExtractor{},
		Generator:  h.gen,
	}, h.lockCfg, h.cfg)
}

func (h *harness) service() *Service {
	return NewService(h.sessions, h.items, h.locks, h.store, h.progress, h.queue, h.cfg)
}

// seed 创建一个 pending 会话，文件内容保存在数据库
func (h *harness) seed(id string, contents ...string) {
	files := make([]*entity.SessionFile, 0, len(contents))
	for i, c := range contents {
		files = append(files, &entity.SessionFile{Name: "notes.txt", Content: []byte(c), Position: i, SessionID: id})
	}
	_ = h.sessions.Create(context.Background(), entity.NewSession(id, "u1", files))
}

func (h *harness) locked(t *testing.T, id string) bool {
	t.Helper()
	ok, err := h.locks.IsLocked(context.Background(), LockName(id))
	if err != nil {
		t.Fatalf("lock check: %v", err)
	}
	return ok
}

func task(id string) *messaging.SessionTaskMessage {
	return &messaging.SessionTaskMessage{SessionID: id, UserID: "u1", SubmittedAt: time.Now()}
}
