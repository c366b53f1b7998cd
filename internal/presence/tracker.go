package presence

import (
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

type Status string

const (
	Online  Status = "online"
	Idle    Status = "idle"
	Away    Status = "away"
	Offline Status = "offline"
)

var ErrBadStatus = errors.New("invalid presence status")

type entry struct {
	status       Status
	lastActivity time.Time
}

// Tracker keeps coarse per-user status. Activity promotes idle back to
// online; away is only ever set and cleared explicitly, so stepping out
// stays visible until the user says otherwise. Unknown users are offline.
type Tracker struct {
	mu    sync.Mutex
	users map[string]*entry

	idleAfter  time.Duration
	sweepEvery time.Duration
	clock      clockwork.Clock
	log        *zap.Logger

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewTracker(idleAfter time.Duration, clock clockwork.Clock, log *zap.Logger) *Tracker {
	return &Tracker{
		users:      make(map[string]*entry),
		idleAfter:  idleAfter,
		sweepEvery: idleAfter / 10,
		clock:      clock,
		log:        log,
		stop:       make(chan struct{}),
	}
}

// Start runs the idle sweep that demotes online users after the inactivity
// interval.
func (t *Tracker) Start() {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := t.clock.NewTicker(t.sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				t.sweep()
			case <-t.stop:
				return
			}
		}
	}()
}

func (t *Tracker) Stop() {
	close(t.stop)
	t.wg.Wait()
}

func (t *Tracker) sweep() {
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, e := range t.users {
		if e.status == Online && now.Sub(e.lastActivity) >= t.idleAfter {
			e.status = Idle
			t.log.Debug("user idle", zap.String("userID", id))
		}
	}
}

// Connect marks a user online at handshake time.
func (t *Tracker) Connect(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.users[userID] = &entry{status: Online, lastActivity: t.clock.Now()}
}

// Disconnect drops the user; further queries resolve to offline.
func (t *Tracker) Disconnect(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.users, userID)
}

// Touch records an interaction signal. Idle users come back online; away
// users do not.
func (t *Tracker) Touch(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.users[userID]
	if !ok {
		return
	}
	e.lastActivity = t.clock.Now()
	if e.status == Idle {
		e.status = Online
	}
}

// Set applies an explicit status change from the user.
func (t *Tracker) Set(userID string, s Status) error {
	switch s {
	case Online, Idle, Away:
	default:
		return ErrBadStatus
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.users[userID]
	if !ok {
		e = &entry{}
		t.users[userID] = e
	}
	e.status = s
	e.lastActivity = t.clock.Now()
	return nil
}

// Get resolves a user's status, offline when unknown. In-process there is
// nothing to wait on, so the bounded-wait contract collapses to the safe
// default immediately.
func (t *Tracker) Get(userID string) Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.users[userID]; ok {
		return e.status
	}
	return Offline
}

// GetBatch resolves many users at once; absent users come back offline.
func (t *Tracker) GetBatch(userIDs []string) map[string]Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Status, len(userIDs))
	for _, id := range userIDs {
		if e, ok := t.users[id]; ok {
			out[id] = e.status
		} else {
			out[id] = Offline
		}
	}
	return out
}
