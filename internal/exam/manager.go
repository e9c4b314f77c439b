package exam

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"academy/internal/identity"

	"go.uber.org/zap"
)

// Manager keeps one live session per student and exam and drives the
// countdown of timed sessions. The manager lock is never held while a
// session lock is taken, so one student's slow load or submit does not stall
// the others.
type Manager struct {
	deps *SessionDeps
	tick time.Duration

	// Submitted and load_failed sessions are dropped after finishedTTL of
	// inactivity, untimed in-progress ones after abandonedTTL. Their answers
	// stay in autosave, so a later Start resumes them.
	sweepEvery   time.Duration
	finishedTTL  time.Duration
	abandonedTTL time.Duration
	sweepOnce    sync.Once

	mu       sync.Mutex
	sessions map[string]*managedSession
	active   atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type managedSession struct {
	session *Session
	// counted is guarded by session.mu.
	counted  bool
	lastSeen atomic.Int64
}

func (ms *managedSession) touch(now time.Time) {
	ms.lastSeen.Store(now.UnixNano())
}

func NewManager(deps SessionDeps) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		deps:         deps.withDefaults(),
		tick:         time.Second,
		sweepEvery:   time.Minute,
		finishedTTL:  15 * time.Minute,
		abandonedTTL: 12 * time.Hour,
		sessions:     make(map[string]*managedSession),
		ctx:          ctx,
		cancel:       cancel,
	}
}

func sessionKey(studentID, examID string) string {
	return studentID + "/" + examID
}

// Start returns the student's live session for the exam, loading a new one
// when there is none or the previous one was submitted. A session that
// failed to load is retried.
func (m *Manager) Start(ctx context.Context, user identity.User, examID string) (*Session, error) {
	m.startSweeper()
	ms := m.entry(user, examID)
	if err := ms.session.Load(ctx); err != nil {
		return ms.session, err
	}
	m.activate(ms)
	return ms.session, nil
}

// entry returns the map entry for the student and exam, replacing a
// submitted session with a fresh one.
func (m *Manager) entry(user identity.User, examID string) *managedSession {
	key := sessionKey(user.ID, examID)
	for {
		m.mu.Lock()
		ms, ok := m.sessions[key]
		if !ok {
			ms = &managedSession{session: NewSession(m.deps, user, examID)}
			m.sessions[key] = ms
		}
		ms.touch(m.deps.Now())
		m.mu.Unlock()

		if !ok || ms.session.State() != StateSubmitted {
			return ms
		}
		m.mu.Lock()
		if m.sessions[key] == ms {
			delete(m.sessions, key)
		}
		m.mu.Unlock()
	}
}

// Retry reloads a session stuck in load_failed.
func (m *Manager) Retry(ctx context.Context, user identity.User, examID string) (*Session, error) {
	s, err := m.Get(user.ID, examID)
	if err != nil {
		return nil, err
	}
	if s.State() != StateLoadFailed {
		return s, nil
	}
	return m.Start(ctx, user, examID)
}

func (m *Manager) Get(studentID, examID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.sessions[sessionKey(studentID, examID)]
	if !ok {
		return nil, ErrSessionNotFound
	}
	ms.touch(m.deps.Now())
	return ms.session, nil
}

func (m *Manager) activate(ms *managedSession) {
	s := ms.session
	s.mu.Lock()
	if ms.counted || s.state != StateInProgress {
		s.mu.Unlock()
		return
	}
	timerCtx, stop := context.WithCancel(m.ctx)
	ms.counted = true
	timed := s.timed
	s.onFinish = func() {
		stop()
		m.deps.Recorder.ActiveSessions(int(m.active.Add(-1)))
	}
	s.mu.Unlock()
	m.deps.Recorder.ActiveSessions(int(m.active.Add(1)))

	if !timed {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runTimer(timerCtx, s)
	}()
}

func (m *Manager) startSweeper() {
	m.sweepOnce.Do(func() {
		if m.ctx.Err() != nil {
			return
		}
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			ticker := time.NewTicker(m.sweepEvery)
			defer ticker.Stop()
			for {
				select {
				case <-m.ctx.Done():
					return
				case <-ticker.C:
					if n := m.sweep(m.deps.Now()); n > 0 {
						m.deps.Logger.Debug("evicted idle sessions", zap.Int("count", n))
					}
				}
			}
		}()
	})
}

// sweep drops idle sessions and reports how many it removed.
func (m *Manager) sweep(now time.Time) int {
	m.mu.Lock()
	snapshot := make(map[string]*managedSession, len(m.sessions))
	for key, ms := range m.sessions {
		snapshot[key] = ms
	}
	m.mu.Unlock()

	evicted := 0
	for key, ms := range snapshot {
		seen := ms.lastSeen.Load()
		if !m.evictable(ms, now.Sub(time.Unix(0, seen))) {
			continue
		}
		m.mu.Lock()
		gone := m.sessions[key] == ms && ms.lastSeen.Load() == seen
		if gone {
			delete(m.sessions, key)
		}
		m.mu.Unlock()
		if gone {
			ms.session.abandon()
			evicted++
		}
	}
	return evicted
}

func (m *Manager) evictable(ms *managedSession, idle time.Duration) bool {
	s := ms.session
	// A busy session is not idle.
	if !s.mu.TryLock() {
		return false
	}
	defer s.mu.Unlock()
	switch s.state {
	case StateSubmitted, StateLoadFailed:
		return idle >= m.finishedTTL
	case StateInProgress:
		return !s.timed && idle >= m.abandonedTTL
	}
	return false
}

func (m *Manager) runTimer(ctx context.Context, s *Session) {
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			done, err := s.Tick(ctx)
			if err != nil {
				m.deps.Logger.Warn("timed submit failed, retrying", zap.String("exam_id", s.examID), zap.String("student_id", s.student.ID), zap.Error(err))
				continue
			}
			if done {
				return
			}
		}
	}
}

// Shutdown stops every timer and waits for the timer goroutines to exit.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
