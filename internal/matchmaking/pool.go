package matchmaking

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/bhosaleparag/dev-battle-sub000/internal/game"
)

// Ticket is one pending pairing request. A user has at most one; enqueueing
// again replaces the old one.
type Ticket struct {
	UserID     string
	Username   string
	SkillLevel int
	Settings   game.Settings
	EnqueuedAt time.Time
}

// PairFunc is invoked outside the pool lock with the two claimed tickets.
type PairFunc func(a, b Ticket)

type Config struct {
	// BaseWindow is the skill distance accepted for a fresh ticket. The
	// window widens by WidenStep for every WidenEvery a ticket has waited,
	// capped at MaxWindow, so a lone player is never starved forever.
	BaseWindow int
	WidenStep  int
	WidenEvery time.Duration
	MaxWindow  int
	SweepEvery time.Duration
}

// Pool holds the waiting tickets. All claim-and-remove happens under one
// mutex: a ticket can be consumed by pairing or removed by cancel, never
// both.
type Pool struct {
	mu      sync.Mutex
	tickets map[string]Ticket

	cfg   Config
	clock clockwork.Clock
	log   *zap.Logger
	pair  PairFunc

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewPool(cfg Config, clock clockwork.Clock, pair PairFunc, log *zap.Logger) *Pool {
	return &Pool{
		tickets: make(map[string]Ticket),
		cfg:     cfg,
		clock:   clock,
		log:     log,
		pair:    pair,
		stop:    make(chan struct{}),
	}
}

// Start launches the periodic sweep that re-scans aged tickets whose widened
// tolerance may now admit a partner.
func (p *Pool) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := p.clock.NewTicker(p.cfg.SweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				for _, m := range p.claimMatches() {
					p.pair(m[0], m[1])
				}
			case <-p.stop:
				return
			}
		}
	}()
}

func (p *Pool) Stop() {
	close(p.stop)
	p.wg.Wait()
}

// Enqueue files a ticket, replacing any previous one for the user, and
// immediately attempts a pairing. Matched tickets are handed to the PairFunc
// after the lock is released.
func (p *Pool) Enqueue(t Ticket) {
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = p.clock.Now()
	}

	p.mu.Lock()
	if _, had := p.tickets[t.UserID]; had {
		p.log.Info("replacing matchmaking ticket", zap.String("userID", t.UserID))
	}
	p.tickets[t.UserID] = t
	partner, found := p.claimPartnerLocked(t)
	p.mu.Unlock()

	if found {
		p.pair(t, partner)
	}
}

// Cancel removes the user's ticket if one is still waiting. Idempotent;
// returns false when the ticket was already consumed or never existed.
func (p *Pool) Cancel(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.tickets[userID]; !ok {
		return false
	}
	delete(p.tickets, userID)
	return true
}

// Waiting reports whether the user currently has a ticket.
func (p *Pool) Waiting(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.tickets[userID]
	return ok
}

// claimPartnerLocked finds the closest compatible ticket for t and removes
// both from the pool. Caller holds the lock.
func (p *Pool) claimPartnerLocked(t Ticket) (Ticket, bool) {
	now := p.clock.Now()
	best := Ticket{}
	bestDelta := -1
	for _, other := range p.tickets {
		if other.UserID == t.UserID {
			continue
		}
		if !p.compatible(t, other, now) {
			continue
		}
		d := skillDelta(t, other)
		if bestDelta < 0 || d < bestDelta {
			best, bestDelta = other, d
		}
	}
	if bestDelta < 0 {
		return Ticket{}, false
	}
	delete(p.tickets, t.UserID)
	delete(p.tickets, best.UserID)
	return best, true
}

// claimMatches pairs up everything currently compatible, oldest tickets
// first, and removes the claimed tickets before returning.
func (p *Pool) claimMatches() [][2]Ticket {
	p.mu.Lock()
	defer p.mu.Unlock()

	waiting := make([]Ticket, 0, len(p.tickets))
	for _, t := range p.tickets {
		waiting = append(waiting, t)
	}
	sort.Slice(waiting, func(i, j int) bool {
		return waiting[i].EnqueuedAt.Before(waiting[j].EnqueuedAt)
	})

	var out [][2]Ticket
	for _, t := range waiting {
		if _, still := p.tickets[t.UserID]; !still {
			continue
		}
		if partner, ok := p.claimPartnerLocked(t); ok {
			out = append(out, [2]Ticket{t, partner})
		}
	}
	return out
}

func (p *Pool) compatible(a, b Ticket, now time.Time) bool {
	if a.Settings.Mode != b.Settings.Mode {
		return false
	}
	d := skillDelta(a, b)
	return d <= p.tolerance(a, now) || d <= p.tolerance(b, now)
}

func (p *Pool) tolerance(t Ticket, now time.Time) int {
	tol := p.cfg.BaseWindow
	if p.cfg.WidenEvery > 0 {
		tol += p.cfg.WidenStep * int(now.Sub(t.EnqueuedAt)/p.cfg.WidenEvery)
	}
	if tol > p.cfg.MaxWindow {
		tol = p.cfg.MaxWindow
	}
	return tol
}

func skillDelta(a, b Ticket) int {
	d := a.SkillLevel - b.SkillLevel
	if d < 0 {
		d = -d
	}
	return d
}
