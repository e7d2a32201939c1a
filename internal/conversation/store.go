package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/ksuid"

	"paperchat/internal/models"
)

// Store keeps a bounded turn history per session in memory. Turns are
// appended in the order their tickets were issued, not the order the
// answers finished, so a slow question cannot land after a later one.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*session
	maxTurns int
	ttl      time.Duration
	now      func() time.Time
}

type session struct {
	turns      []models.Turn
	nextTicket uint64
	nextCommit uint64
	resolved   map[uint64]*models.Turn
	lastSeen   time.Time
}

func (s *session) outstanding() bool {
	return s.nextCommit != s.nextTicket
}

func NewStore(maxTurns int, ttl time.Duration) *Store {
	return &Store{
		sessions: map[string]*session{},
		maxTurns: maxTurns,
		ttl:      ttl,
		now:      time.Now,
	}
}

func NewSessionID() string {
	return ksuid.New().String()
}

// Ticket reserves the next position in a session's history. Exactly one of
// Commit or Abort must be called; later calls are ignored.
type Ticket struct {
	store     *Store
	sessionID string
	seq       uint64
	history   []models.Turn
	once      sync.Once
}

func (s *Store) Begin(sessionID string) *Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &session{resolved: map[uint64]*models.Turn{}}
		s.sessions[sessionID] = sess
	}
	sess.lastSeen = s.now()
	t := &Ticket{
		store:     s,
		sessionID: sessionID,
		seq:       sess.nextTicket,
		history:   append([]models.Turn(nil), sess.turns...),
	}
	sess.nextTicket++
	return t
}

// History is the session's committed turns as of Begin, oldest first.
func (t *Ticket) History() []models.Turn {
	return t.history
}

func (t *Ticket) SessionID() string {
	return t.sessionID
}

func (t *Ticket) Commit(turn models.Turn) {
	t.once.Do(func() { t.store.resolve(t, &turn) })
}

func (t *Ticket) Abort() {
	t.once.Do(func() { t.store.resolve(t, nil) })
}

func (s *Store) resolve(t *Ticket, turn *models.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[t.sessionID]
	if !ok {
		return
	}
	sess.resolved[t.seq] = turn
	sess.lastSeen = s.now()
	for {
		next, ok := sess.resolved[sess.nextCommit]
		if !ok {
			break
		}
		delete(sess.resolved, sess.nextCommit)
		sess.nextCommit++
		if next == nil {
			continue
		}
		sess.turns = append(sess.turns, *next)
		if s.maxTurns >= 0 && len(sess.turns) > s.maxTurns {
			sess.turns = append([]models.Turn(nil), sess.turns[len(sess.turns)-s.maxTurns:]...)
		}
	}
}

func (s *Store) History(sessionID string) []models.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	return append([]models.Turn(nil), sess.turns...)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep drops sessions idle longer than the TTL. Sessions with unresolved
// tickets are kept.
func (s *Store) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-s.ttl)
	n := 0
	for id, sess := range s.sessions {
		if sess.lastSeen.Before(cutoff) && !sess.outstanding() {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

// RunJanitor sweeps every interval until ctx is done.
func (s *Store) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
