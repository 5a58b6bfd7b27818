/*
sessions.go - Live disbursement sessions

PURPOSE:
  Keeps an operator's batch selection alive between HTTP calls. Each
  session owns a payroll.Batch for one month and a subscription to the
  month's live view, so paid flags and nets follow the stores while the
  operator's selection and amount overrides survive.

DESIGN:
  - Open waits for the first aggregation before returning the session
  - A goroutine per session feeds view updates into Batch.Refresh
  - A reaper goroutine closes sessions idle for longer than TTL
  - Stop closes every session and waits for their goroutines

USAGE:
  sessions := NewSessionManager(sources, opts, ttl, logger)
  sessions.Start()
  defer sessions.Stop()

SEE ALSO:
  - payroll/live.go: Watch
  - payroll/batch.go: Batch
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
)

const (
	DefaultSessionTTL   = 30 * time.Minute
	DefaultReapInterval = time.Minute
)

// Session is one operator's working batch.
type Session struct {
	ID    string
	Month generic.MonthKey
	Batch *payroll.Batch

	mu           sync.Mutex
	confirmation *payroll.Confirmation
	lastUsed     time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// Confirmation returns the pending confirmation, if any.
func (s *Session) Confirmation() *payroll.Confirmation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confirmation
}

func (s *Session) setConfirmation(c *payroll.Confirmation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirmation = c
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsed = now
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// SessionManager tracks open sessions.
type SessionManager struct {
	Sources      payroll.Sources
	Options      payroll.Options
	TTL          time.Duration
	ReapInterval time.Duration
	Logger       *zap.Logger
	Now          func() time.Time
	NewID        func() string

	mu       sync.Mutex
	sessions map[string]*Session

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
}

func NewSessionManager(src payroll.Sources, opts payroll.Options, ttl time.Duration, logger ...*zap.Logger) *SessionManager {
	l := zap.L()
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0]
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionManager{
		Sources:      src,
		Options:      opts,
		TTL:          ttl,
		ReapInterval: DefaultReapInterval,
		Logger:       l.Named("api.sessions"),
		Now:          time.Now,
		NewID:        uuid.NewString,
		sessions:     make(map[string]*Session),
		stop:         make(chan struct{}),
	}
}

// Open subscribes to month and returns a session once the first view is in.
// ctx bounds only the wait for that first view.
func (m *SessionManager) Open(ctx context.Context, month generic.MonthKey) (*Session, error) {
	watchCtx, cancel := context.WithCancel(context.Background())
	updates := payroll.Watch(watchCtx, m.Sources, month, m.Options, m.Logger)

	var first []payroll.PayableView
	select {
	case u, ok := <-updates:
		if !ok {
			cancel()
			return nil, fmt.Errorf("live view for %s closed before first update", month)
		}
		if u.Err != nil {
			cancel()
			return nil, &generic.PersistenceError{Op: "load payable view", Err: u.Err}
		}
		first = u.Items
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}

	s := &Session{
		ID:       m.NewID(),
		Month:    month,
		Batch:    payroll.NewBatch(month, first),
		lastUsed: m.Now(),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		for u := range updates {
			if u.Err != nil {
				m.Logger.Warn("session view update failed", zap.String("session_id", s.ID), zap.Error(u.Err))
				continue
			}
			s.Batch.Refresh(u.Items)
		}
	}()

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.Logger.Info("session opened", zap.String("session_id", s.ID), zap.String("month", month.String()), zap.Int("rows", len(first)))
	return s, nil
}

// Get returns an open session and marks it used.
func (m *SessionManager) Get(id string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("batch %s: %w", id, generic.ErrNotFound)
	}
	s.touch(m.Now())
	return s, nil
}

// Close ends a session. Closing an unknown id returns generic.ErrNotFound.
func (m *SessionManager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("batch %s: %w", id, generic.ErrNotFound)
	}
	s.cancel()
	<-s.done
	return nil
}

func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Start begins the reaper.
func (m *SessionManager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ticker != nil {
		return
	}
	m.ticker = time.NewTicker(m.ReapInterval)
	m.wg.Add(1)
	go m.run()

	m.Logger.Info("session reaper started", zap.Duration("ttl", m.TTL), zap.Duration("interval", m.ReapInterval))
}

// Stop halts the reaper and closes every session.
func (m *SessionManager) Stop() {
	m.mu.Lock()
	if m.ticker != nil {
		m.ticker.Stop()
		close(m.stop)
	}
	m.mu.Unlock()
	m.wg.Wait()

	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		_ = m.Close(id)
	}
}

func (m *SessionManager) run() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ticker.C:
			m.Reap()
		case <-m.stop:
			return
		}
	}
}

// Reap closes sessions idle for longer than TTL and returns how many it closed.
func (m *SessionManager) Reap() int {
	cutoff := m.Now().Add(-m.TTL)

	m.mu.Lock()
	var stale []string
	for id, s := range m.sessions {
		if s.idleSince().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		if err := m.Close(id); err == nil {
			m.Logger.Info("session expired", zap.String("session_id", id))
		}
	}
	return len(stale)
}
