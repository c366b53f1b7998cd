package session

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// resumeState remembers what a disconnected user was doing so a reconnect
// inside the grace window picks it back up instead of starting over.
type resumeState struct {
	roomIDs   []string
	hadTicket bool
	timer     clockwork.Timer
}

// registry enforces the one-live-connection-per-user guarantee and holds the
// grace-window resume state for users who dropped.
type registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	pending  map[string]*resumeState

	grace   time.Duration
	clock   clockwork.Clock
	log     *zap.Logger
	expired func(userID string, st resumeState)
}

func newRegistry(grace time.Duration, clock clockwork.Clock, expired func(string, resumeState), log *zap.Logger) *registry {
	return &registry{
		sessions: make(map[string]*Session),
		pending:  make(map[string]*resumeState),
		grace:    grace,
		clock:    clock,
		log:      log,
		expired:  expired,
	}
}

// connect registers s as the user's live session. Any previous session is
// returned so the caller can close its transport; any pending resume state
// is returned so the caller can re-attach rooms.
func (r *registry) connect(s *Session) (prev *Session, resume *resumeState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev = r.sessions[s.userID]
	r.sessions[s.userID] = s

	if st, ok := r.pending[s.userID]; ok {
		st.timer.Stop()
		delete(r.pending, s.userID)
		resume = st
	}
	return prev, resume
}

// disconnected records that s dropped. It is a no-op if the user was already
// taken over by a newer session. Otherwise the resume state is parked and a
// timer releases it after the grace window.
func (r *registry) disconnected(s *Session, roomIDs []string, hadTicket bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessions[s.userID] != s {
		return // superseded, nothing to release
	}
	delete(r.sessions, s.userID)

	if len(roomIDs) == 0 && !hadTicket {
		return
	}
	st := &resumeState{roomIDs: roomIDs, hadTicket: hadTicket}
	userID := s.userID
	st.timer = r.clock.AfterFunc(r.grace, func() {
		r.mu.Lock()
		cur, ok := r.pending[userID]
		if !ok || cur != st {
			r.mu.Unlock()
			return
		}
		delete(r.pending, userID)
		r.mu.Unlock()
		r.log.Info("reconnection grace expired", zap.String("userID", userID))
		r.expired(userID, *st)
	})
	r.pending[userID] = st
	r.log.Info("session dropped, holding membership",
		zap.String("userID", userID),
		zap.Int("rooms", len(roomIDs)),
		zap.Bool("ticket", hadTicket))
}

// get returns the user's live session, if any.
func (r *registry) get(userID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[userID]
}
